package rpcapi

import (
	"context"
	"time"

	"github.com/cuemby/virtus/pkg/types"
	"github.com/cuemby/virtus/pkg/verr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// defaultTimeout bounds a client call when the caller's context carries no
// deadline of its own.
const defaultTimeout = 10 * time.Second

// Client is a typed connection to one node's service surface. It is the
// concrete peer stored in the cluster's peer client cache.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient opens a connection to addr.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, verr.Wrap(verr.KindUnavailable, "connect "+addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}
	out := new(Resp)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) JoinCluster(ctx context.Context, req *JoinClusterRequest) (*JoinClusterResponse, error) {
	return invoke[JoinClusterResponse](ctx, c, "JoinCluster", req)
}

func (c *Client) CreateJoinToken(ctx context.Context, req *CreateJoinTokenRequest) (*CreateJoinTokenResponse, error) {
	return invoke[CreateJoinTokenResponse](ctx, c, "CreateJoinToken", req)
}

func (c *Client) ApplyCommand(ctx context.Context, req *ApplyCommandRequest) (*ApplyCommandResponse, error) {
	return invoke[ApplyCommandResponse](ctx, c, "ApplyCommand", req)
}

func (c *Client) GetNode(ctx context.Context, id types.ID) (*GetNodeResponse, error) {
	return invoke[GetNodeResponse](ctx, c, "GetNode", &GetNodeRequest{ID: id})
}

func (c *Client) ListNodes(ctx context.Context) (*ListNodesResponse, error) {
	return invoke[ListNodesResponse](ctx, c, "ListNodes", &ListRequest{})
}

func (c *Client) RemoveNode(ctx context.Context, req *RemoveNodeRequest) (*RemoveResponse, error) {
	return invoke[RemoveResponse](ctx, c, "RemoveNode", req)
}

func (c *Client) AddPool(ctx context.Context, req *AddPoolRequest) (*AddPoolResponse, error) {
	return invoke[AddPoolResponse](ctx, c, "AddPool", req)
}

func (c *Client) RemovePool(ctx context.Context, req *RemovePoolRequest) (*RemoveResponse, error) {
	return invoke[RemoveResponse](ctx, c, "RemovePool", req)
}

func (c *Client) GetPool(ctx context.Context, id types.ID) (*GetPoolResponse, error) {
	return invoke[GetPoolResponse](ctx, c, "GetPool", &GetPoolRequest{ID: id})
}

func (c *Client) ListPools(ctx context.Context) (*ListPoolsResponse, error) {
	return invoke[ListPoolsResponse](ctx, c, "ListPools", &ListRequest{})
}

func (c *Client) AddDisk(ctx context.Context, req *AddDiskRequest) (*AddDiskResponse, error) {
	return invoke[AddDiskResponse](ctx, c, "AddDisk", req)
}

func (c *Client) RemoveDisk(ctx context.Context, req *RemoveDiskRequest) (*RemoveResponse, error) {
	return invoke[RemoveResponse](ctx, c, "RemoveDisk", req)
}

func (c *Client) GetDisk(ctx context.Context, id types.ID) (*GetDiskResponse, error) {
	return invoke[GetDiskResponse](ctx, c, "GetDisk", &GetDiskRequest{ID: id})
}

func (c *Client) ListDisks(ctx context.Context) (*ListDisksResponse, error) {
	return invoke[ListDisksResponse](ctx, c, "ListDisks", &ListRequest{})
}

func (c *Client) AddImage(ctx context.Context, req *AddImageRequest) (*AddImageResponse, error) {
	return invoke[AddImageResponse](ctx, c, "AddImage", req)
}

func (c *Client) RemoveImage(ctx context.Context, req *RemoveImageRequest) (*RemoveResponse, error) {
	return invoke[RemoveResponse](ctx, c, "RemoveImage", req)
}

func (c *Client) GetImage(ctx context.Context, id types.ID) (*GetImageResponse, error) {
	return invoke[GetImageResponse](ctx, c, "GetImage", &GetImageRequest{ID: id})
}

func (c *Client) ListImages(ctx context.Context) (*ListImagesResponse, error) {
	return invoke[ListImagesResponse](ctx, c, "ListImages", &ListRequest{})
}

func (c *Client) AddNetwork(ctx context.Context, req *AddNetworkRequest) (*AddNetworkResponse, error) {
	return invoke[AddNetworkResponse](ctx, c, "AddNetwork", req)
}

func (c *Client) RemoveNetwork(ctx context.Context, req *RemoveNetworkRequest) (*RemoveResponse, error) {
	return invoke[RemoveResponse](ctx, c, "RemoveNetwork", req)
}

func (c *Client) GetNetwork(ctx context.Context, id types.ID) (*GetNetworkResponse, error) {
	return invoke[GetNetworkResponse](ctx, c, "GetNetwork", &GetNetworkRequest{ID: id})
}

func (c *Client) ListNetworks(ctx context.Context) (*ListNetworksResponse, error) {
	return invoke[ListNetworksResponse](ctx, c, "ListNetworks", &ListRequest{})
}

func (c *Client) AddInterface(ctx context.Context, req *AddInterfaceRequest) (*AddInterfaceResponse, error) {
	return invoke[AddInterfaceResponse](ctx, c, "AddInterface", req)
}

func (c *Client) RemoveInterface(ctx context.Context, req *RemoveInterfaceRequest) (*RemoveResponse, error) {
	return invoke[RemoveResponse](ctx, c, "RemoveInterface", req)
}

func (c *Client) GetInterface(ctx context.Context, id types.ID) (*GetInterfaceResponse, error) {
	return invoke[GetInterfaceResponse](ctx, c, "GetInterface", &GetInterfaceRequest{ID: id})
}

func (c *Client) ListInterfaces(ctx context.Context) (*ListInterfacesResponse, error) {
	return invoke[ListInterfacesResponse](ctx, c, "ListInterfaces", &ListRequest{})
}

func (c *Client) AddVM(ctx context.Context, req *AddVMRequest) (*AddVMResponse, error) {
	return invoke[AddVMResponse](ctx, c, "AddVM", req)
}

func (c *Client) RemoveVM(ctx context.Context, req *RemoveVMRequest) (*RemoveResponse, error) {
	return invoke[RemoveResponse](ctx, c, "RemoveVM", req)
}

func (c *Client) GetVM(ctx context.Context, id types.ID) (*GetVMResponse, error) {
	return invoke[GetVMResponse](ctx, c, "GetVM", &GetVMRequest{ID: id})
}

func (c *Client) ListVMs(ctx context.Context) (*ListVMsResponse, error) {
	return invoke[ListVMsResponse](ctx, c, "ListVMs", &ListRequest{})
}

func (c *Client) StartVM(ctx context.Context, req *StartVMRequest) (*StartVMResponse, error) {
	return invoke[StartVMResponse](ctx, c, "StartVM", req)
}

func (c *Client) StopVM(ctx context.Context, req *StopVMRequest) (*StopVMResponse, error) {
	return invoke[StopVMResponse](ctx, c, "StopVM", req)
}
