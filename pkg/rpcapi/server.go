// Package rpcapi is Virtus's service surface: a gRPC server exposing add,
// remove, get and list per entity kind. Mutating requests pass through the
// routing state machine and may hop once to the leader and once to the
// owning peer; reads answer from the local catalog.
package rpcapi

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cuemby/virtus/pkg/cluster"
	"github.com/cuemby/virtus/pkg/metrics"
	"github.com/cuemby/virtus/pkg/types"
	"github.com/cuemby/virtus/pkg/verr"
	"github.com/cuemby/virtus/pkg/vlog"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// connectionBroken reports whether a forwarded call failed at the
// transport rather than in the remote handler, so the cached peer should
// be dropped and redialed.
func connectionBroken(err error) bool {
	return status.Code(err) == codes.Unavailable || verr.KindOf(err) == verr.KindUnavailable
}

// Server implements VirtusAPIServer over a cluster.Manager.
type Server struct {
	mgr      *cluster.Manager
	grpc     *grpc.Server
	grpcPort int
	peers    *cluster.PeerCache
	logger   zerolog.Logger
}

// NewServer builds the service surface for one node. grpcPort is the port
// every cluster member serves this API on; peers are dialed at their
// catalog address on that port.
func NewServer(mgr *cluster.Manager, grpcPort int) *Server {
	s := &Server{
		mgr:      mgr,
		grpc:     grpc.NewServer(grpc.UnaryInterceptor(UnaryInterceptor())),
		grpcPort: grpcPort,
		logger:   vlog.WithComponent("rpcapi"),
	}

	s.peers = cluster.NewPeerCache(
		func(id types.ID) (string, error) {
			node, err := mgr.Store().GetNode(id)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s:%d", node.Address, grpcPort), nil
		},
		func(addr string) (cluster.Peer, error) {
			return NewClient(addr)
		},
	)

	// Catalog commands issued on a follower home node relay to the leader,
	// which alone appends to the consensus log.
	mgr.SetApplyForwarder(func(cmd cluster.Command) error {
		client, leaderID, err := s.leaderClient()
		if err != nil {
			return err
		}
		_, err = client.ApplyCommand(context.Background(), &ApplyCommandRequest{
			Op:   cmd.Op,
			Data: cmd.Data,
		})
		if err != nil && connectionBroken(err) {
			s.peers.Drop(leaderID)
		}
		return err
	})

	return s
}

// Start serves the API on addr until Stop.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.grpc.RegisterService(&serviceDesc, s)

	s.logger.Info().Str("addr", addr).Msg("api listening")
	return s.grpc.Serve(lis)
}

// Stop drains in-flight requests and closes peer connections.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
	s.peers.Close()
}

// leaderClient returns a connection to the current leader's API.
func (s *Server) leaderClient() (*Client, types.ID, error) {
	leaderID := s.mgr.LeaderID()
	if leaderID == (types.ID{}) {
		return nil, types.ID{}, verr.Unavailablef("no leader elected")
	}
	peer, err := s.peers.Get(leaderID)
	if err != nil {
		return nil, types.ID{}, err
	}
	return peer.(*Client), leaderID, nil
}

// homePeer returns a connection to the home node's API.
func (s *Server) homePeer(home types.ID) (*Client, error) {
	peer, err := s.peers.Get(home)
	if err != nil {
		return nil, err
	}
	return peer.(*Client), nil
}

// route runs the per-RPC decision procedure: execute locally, forward to
// the leader (flag unset), or forward to the owning peer (flag set). A
// request hops at most twice (once to the leader, once to the owner); a
// leader or follower that receives a flagged request executes it locally.
func route[Resp any](ctx context.Context, s *Server, home types.ID,
	local func(context.Context) (*Resp, error),
	forward func(context.Context, *Client) (*Resp, error),
) (*Resp, error) {
	forwarded := ForwardedFromContext(ctx)
	action := cluster.Decide(s.mgr.Role(), home, s.mgr.NodeID(), s.mgr.LeaderAddr() != "", forwarded)

	switch action {
	case cluster.ActionLocal:
		metrics.RoutingDecisionsTotal.WithLabelValues("local").Inc()
		return local(ctx)

	case cluster.ActionForwardToLeader:
		metrics.RoutingDecisionsTotal.WithLabelValues("forward_leader").Inc()
		metrics.ForwardedRequestsTotal.Inc()
		client, leaderID, err := s.leaderClient()
		if err != nil {
			return nil, err
		}
		resp, err := forward(ctx, client)
		if err != nil && connectionBroken(err) {
			s.peers.Drop(leaderID)
		}
		return resp, err

	case cluster.ActionForwardToHome:
		metrics.RoutingDecisionsTotal.WithLabelValues("forward_home").Inc()
		metrics.ForwardedRequestsTotal.Inc()
		client, err := s.homePeer(home)
		if err != nil {
			return nil, err
		}
		resp, err := forward(WithForwarded(ctx), client)
		if err != nil && connectionBroken(err) {
			s.peers.Drop(home)
		}
		return resp, err

	default:
		metrics.RoutingDecisionsTotal.WithLabelValues("no_leader").Inc()
		return nil, verr.Unavailablef("no leader elected")
	}
}

// leaderHome is the home id for operations whose side effects run on the
// leader's host (network, interface, image, membership).
func (s *Server) leaderHome() types.ID {
	if id := s.mgr.LeaderID(); id != (types.ID{}) {
		return id
	}
	return s.mgr.NodeID()
}

// ApplyCommand appends a relayed catalog command to the consensus log.
// Leader only; a relay that lands elsewhere (leadership moved mid-flight)
// is refused rather than re-relayed.
func (s *Server) ApplyCommand(ctx context.Context, req *ApplyCommandRequest) (*ApplyCommandResponse, error) {
	if !s.mgr.IsLeader() {
		return nil, verr.Unavailablef("not the leader, current leader at %s", s.mgr.LeaderAddr())
	}
	if err := s.mgr.Apply(cluster.Command{Op: req.Op, Data: req.Data}); err != nil {
		return nil, err
	}
	return &ApplyCommandResponse{Success: true}, nil
}

// Cluster membership

func (s *Server) JoinCluster(ctx context.Context, req *JoinClusterRequest) (*JoinClusterResponse, error) {
	return route(ctx, s, s.leaderHome(),
		func(ctx context.Context) (*JoinClusterResponse, error) {
			if err := s.mgr.Tokens().Validate(req.Token); err != nil {
				return nil, err
			}
			if err := s.mgr.AddVoter(req.NodeID, req.RaftAddr); err != nil {
				return nil, err
			}
			return &JoinClusterResponse{Success: true}, nil
		},
		func(ctx context.Context, c *Client) (*JoinClusterResponse, error) {
			return c.JoinCluster(ctx, req)
		},
	)
}

func (s *Server) CreateJoinToken(ctx context.Context, req *CreateJoinTokenRequest) (*CreateJoinTokenResponse, error) {
	return route(ctx, s, s.leaderHome(),
		func(ctx context.Context) (*CreateJoinTokenResponse, error) {
			ttl := time.Duration(req.TTLSeconds) * time.Second
			if ttl <= 0 {
				ttl = time.Hour
			}
			token, err := s.mgr.Tokens().Generate(ttl)
			if err != nil {
				return nil, err
			}
			return &CreateJoinTokenResponse{Token: token.Token}, nil
		},
		func(ctx context.Context, c *Client) (*CreateJoinTokenResponse, error) {
			return c.CreateJoinToken(ctx, req)
		},
	)
}

// Node

func (s *Server) GetNode(ctx context.Context, req *GetNodeRequest) (*GetNodeResponse, error) {
	node, err := s.mgr.Store().GetNode(req.ID)
	if err != nil {
		if verr.KindOf(err) == verr.KindNotFound {
			return &GetNodeResponse{}, nil
		}
		return nil, err
	}
	return &GetNodeResponse{Node: node}, nil
}

func (s *Server) ListNodes(ctx context.Context, req *ListRequest) (*ListNodesResponse, error) {
	nodes, err := s.mgr.Store().ListNodes()
	if err != nil {
		return nil, err
	}
	resp := &ListNodesResponse{}
	for _, n := range nodes {
		resp.IDs = append(resp.IDs, n.ID)
	}
	return resp, nil
}

func (s *Server) RemoveNode(ctx context.Context, req *RemoveNodeRequest) (*RemoveResponse, error) {
	return route(ctx, s, s.leaderHome(),
		func(ctx context.Context) (*RemoveResponse, error) {
			if err := s.mgr.RemoveNode(ctx, req.ID); err != nil {
				return nil, err
			}
			return &RemoveResponse{Success: true}, nil
		},
		func(ctx context.Context, c *Client) (*RemoveResponse, error) {
			return c.RemoveNode(ctx, req)
		},
	)
}

// Pool

func (s *Server) AddPool(ctx context.Context, req *AddPoolRequest) (*AddPoolResponse, error) {
	if req.NodeID == (types.ID{}) {
		return nil, verr.Validationf("pool node id is required")
	}
	return route(ctx, s, req.NodeID,
		func(ctx context.Context) (*AddPoolResponse, error) {
			pool, err := s.mgr.AddPool(ctx, req.NodeID, req.Name, req.Path)
			if err != nil {
				return nil, err
			}
			return &AddPoolResponse{ID: pool.ID}, nil
		},
		func(ctx context.Context, c *Client) (*AddPoolResponse, error) {
			return c.AddPool(ctx, req)
		},
	)
}

func (s *Server) RemovePool(ctx context.Context, req *RemovePoolRequest) (*RemoveResponse, error) {
	home, err := s.mgr.HomeOfPool(req.ID)
	if err != nil {
		return nil, err
	}
	return route(ctx, s, home,
		func(ctx context.Context) (*RemoveResponse, error) {
			if err := s.mgr.RemovePool(ctx, req.ID); err != nil {
				return nil, err
			}
			return &RemoveResponse{Success: true}, nil
		},
		func(ctx context.Context, c *Client) (*RemoveResponse, error) {
			return c.RemovePool(ctx, req)
		},
	)
}

func (s *Server) GetPool(ctx context.Context, req *GetPoolRequest) (*GetPoolResponse, error) {
	pool, err := s.mgr.Store().GetPool(req.ID)
	if err != nil {
		if verr.KindOf(err) == verr.KindNotFound {
			return &GetPoolResponse{}, nil
		}
		return nil, err
	}
	return &GetPoolResponse{Pool: pool}, nil
}

func (s *Server) ListPools(ctx context.Context, req *ListRequest) (*ListPoolsResponse, error) {
	pools, err := s.mgr.Store().ListPools()
	if err != nil {
		return nil, err
	}
	resp := &ListPoolsResponse{}
	for _, p := range pools {
		resp.IDs = append(resp.IDs, p.ID)
	}
	return resp, nil
}

// Disk

func (s *Server) AddDisk(ctx context.Context, req *AddDiskRequest) (*AddDiskResponse, error) {
	home, err := s.mgr.HomeOfPool(req.PoolID)
	if err != nil {
		return nil, err
	}
	return route(ctx, s, home,
		func(ctx context.Context) (*AddDiskResponse, error) {
			disk, err := s.mgr.AddDisk(ctx, req.PoolID, req.Name, req.SizeBytes)
			if err != nil {
				return nil, err
			}
			return &AddDiskResponse{ID: disk.ID}, nil
		},
		func(ctx context.Context, c *Client) (*AddDiskResponse, error) {
			return c.AddDisk(ctx, req)
		},
	)
}

func (s *Server) RemoveDisk(ctx context.Context, req *RemoveDiskRequest) (*RemoveResponse, error) {
	home, err := s.mgr.HomeOfDisk(req.ID)
	if err != nil {
		return nil, err
	}
	return route(ctx, s, home,
		func(ctx context.Context) (*RemoveResponse, error) {
			if err := s.mgr.RemoveDisk(ctx, req.ID); err != nil {
				return nil, err
			}
			return &RemoveResponse{Success: true}, nil
		},
		func(ctx context.Context, c *Client) (*RemoveResponse, error) {
			return c.RemoveDisk(ctx, req)
		},
	)
}

func (s *Server) GetDisk(ctx context.Context, req *GetDiskRequest) (*GetDiskResponse, error) {
	disk, err := s.mgr.Store().GetDisk(req.ID)
	if err != nil {
		if verr.KindOf(err) == verr.KindNotFound {
			return &GetDiskResponse{}, nil
		}
		return nil, err
	}
	return &GetDiskResponse{Disk: disk}, nil
}

func (s *Server) ListDisks(ctx context.Context, req *ListRequest) (*ListDisksResponse, error) {
	disks, err := s.mgr.Store().ListDisks()
	if err != nil {
		return nil, err
	}
	resp := &ListDisksResponse{}
	for _, d := range disks {
		resp.IDs = append(resp.IDs, d.ID)
	}
	return resp, nil
}

// Image

func (s *Server) AddImage(ctx context.Context, req *AddImageRequest) (*AddImageResponse, error) {
	return route(ctx, s, s.leaderHome(),
		func(ctx context.Context) (*AddImageResponse, error) {
			image, err := s.mgr.AddImage(ctx, req.Filename, req.Installer)
			if err != nil {
				return nil, err
			}
			return &AddImageResponse{ID: image.ID}, nil
		},
		func(ctx context.Context, c *Client) (*AddImageResponse, error) {
			return c.AddImage(ctx, req)
		},
	)
}

func (s *Server) RemoveImage(ctx context.Context, req *RemoveImageRequest) (*RemoveResponse, error) {
	return route(ctx, s, s.leaderHome(),
		func(ctx context.Context) (*RemoveResponse, error) {
			if err := s.mgr.RemoveImage(ctx, req.ID); err != nil {
				return nil, err
			}
			return &RemoveResponse{Success: true}, nil
		},
		func(ctx context.Context, c *Client) (*RemoveResponse, error) {
			return c.RemoveImage(ctx, req)
		},
	)
}

func (s *Server) GetImage(ctx context.Context, req *GetImageRequest) (*GetImageResponse, error) {
	image, err := s.mgr.Store().GetImage(req.ID)
	if err != nil {
		if verr.KindOf(err) == verr.KindNotFound {
			return &GetImageResponse{}, nil
		}
		return nil, err
	}
	return &GetImageResponse{Image: image}, nil
}

func (s *Server) ListImages(ctx context.Context, req *ListRequest) (*ListImagesResponse, error) {
	images, err := s.mgr.Store().ListImages()
	if err != nil {
		return nil, err
	}
	resp := &ListImagesResponse{}
	for _, i := range images {
		resp.IDs = append(resp.IDs, i.ID)
	}
	return resp, nil
}

// Network

func (s *Server) AddNetwork(ctx context.Context, req *AddNetworkRequest) (*AddNetworkResponse, error) {
	return route(ctx, s, s.leaderHome(),
		func(ctx context.Context) (*AddNetworkResponse, error) {
			network, err := s.mgr.AddNetwork(ctx, req.Name, req.VlanTag, req.CIDR4, req.Uplink)
			if err != nil {
				return nil, err
			}
			return &AddNetworkResponse{ID: network.ID}, nil
		},
		func(ctx context.Context, c *Client) (*AddNetworkResponse, error) {
			return c.AddNetwork(ctx, req)
		},
	)
}

func (s *Server) RemoveNetwork(ctx context.Context, req *RemoveNetworkRequest) (*RemoveResponse, error) {
	return route(ctx, s, s.leaderHome(),
		func(ctx context.Context) (*RemoveResponse, error) {
			if err := s.mgr.RemoveNetwork(ctx, req.ID); err != nil {
				return nil, err
			}
			return &RemoveResponse{Success: true}, nil
		},
		func(ctx context.Context, c *Client) (*RemoveResponse, error) {
			return c.RemoveNetwork(ctx, req)
		},
	)
}

func (s *Server) GetNetwork(ctx context.Context, req *GetNetworkRequest) (*GetNetworkResponse, error) {
	network, err := s.mgr.Store().GetNetwork(req.ID)
	if err != nil {
		if verr.KindOf(err) == verr.KindNotFound {
			return &GetNetworkResponse{}, nil
		}
		return nil, err
	}
	return &GetNetworkResponse{Network: network}, nil
}

func (s *Server) ListNetworks(ctx context.Context, req *ListRequest) (*ListNetworksResponse, error) {
	networks, err := s.mgr.Store().ListNetworks()
	if err != nil {
		return nil, err
	}
	resp := &ListNetworksResponse{}
	for _, n := range networks {
		resp.IDs = append(resp.IDs, n.ID)
	}
	return resp, nil
}

// Interface

func (s *Server) AddInterface(ctx context.Context, req *AddInterfaceRequest) (*AddInterfaceResponse, error) {
	return route(ctx, s, s.leaderHome(),
		func(ctx context.Context) (*AddInterfaceResponse, error) {
			iface, err := s.mgr.AddInterface(ctx, req.NetworkID, req.MAC)
			if err != nil {
				return nil, err
			}
			return &AddInterfaceResponse{ID: iface.ID}, nil
		},
		func(ctx context.Context, c *Client) (*AddInterfaceResponse, error) {
			return c.AddInterface(ctx, req)
		},
	)
}

func (s *Server) RemoveInterface(ctx context.Context, req *RemoveInterfaceRequest) (*RemoveResponse, error) {
	return route(ctx, s, s.leaderHome(),
		func(ctx context.Context) (*RemoveResponse, error) {
			if err := s.mgr.RemoveInterface(ctx, req.ID); err != nil {
				return nil, err
			}
			return &RemoveResponse{Success: true}, nil
		},
		func(ctx context.Context, c *Client) (*RemoveResponse, error) {
			return c.RemoveInterface(ctx, req)
		},
	)
}

func (s *Server) GetInterface(ctx context.Context, req *GetInterfaceRequest) (*GetInterfaceResponse, error) {
	iface, err := s.mgr.Store().GetInterface(req.ID)
	if err != nil {
		if verr.KindOf(err) == verr.KindNotFound {
			return &GetInterfaceResponse{}, nil
		}
		return nil, err
	}
	return &GetInterfaceResponse{Interface: iface}, nil
}

func (s *Server) ListInterfaces(ctx context.Context, req *ListRequest) (*ListInterfacesResponse, error) {
	ifaces, err := s.mgr.Store().ListInterfaces()
	if err != nil {
		return nil, err
	}
	resp := &ListInterfacesResponse{}
	for _, i := range ifaces {
		resp.IDs = append(resp.IDs, i.ID)
	}
	return resp, nil
}

// VM

func (s *Server) AddVM(ctx context.Context, req *AddVMRequest) (*AddVMResponse, error) {
	if req.NodeID == (types.ID{}) {
		return nil, verr.Validationf("vm node id is required")
	}
	return route(ctx, s, req.NodeID,
		func(ctx context.Context) (*AddVMResponse, error) {
			vm, err := s.mgr.AddVM(ctx, req.Name, req.VCPUs, req.MemoryBytes, req.DiskIDs, req.ImageID, req.InterfaceIDs)
			if err != nil {
				return nil, err
			}
			return &AddVMResponse{ID: vm.ID}, nil
		},
		func(ctx context.Context, c *Client) (*AddVMResponse, error) {
			return c.AddVM(ctx, req)
		},
	)
}

func (s *Server) RemoveVM(ctx context.Context, req *RemoveVMRequest) (*RemoveResponse, error) {
	home, err := s.mgr.HomeOfVM(req.ID)
	if err != nil {
		return nil, err
	}
	return route(ctx, s, home,
		func(ctx context.Context) (*RemoveResponse, error) {
			if err := s.mgr.RemoveVM(ctx, req.ID); err != nil {
				return nil, err
			}
			return &RemoveResponse{Success: true}, nil
		},
		func(ctx context.Context, c *Client) (*RemoveResponse, error) {
			return c.RemoveVM(ctx, req)
		},
	)
}

func (s *Server) GetVM(ctx context.Context, req *GetVMRequest) (*GetVMResponse, error) {
	vm, err := s.mgr.Store().GetVM(req.ID)
	if err != nil {
		if verr.KindOf(err) == verr.KindNotFound {
			return &GetVMResponse{}, nil
		}
		return nil, err
	}
	return &GetVMResponse{VM: vm}, nil
}

func (s *Server) ListVMs(ctx context.Context, req *ListRequest) (*ListVMsResponse, error) {
	vms, err := s.mgr.Store().ListVMs()
	if err != nil {
		return nil, err
	}
	resp := &ListVMsResponse{}
	for _, vm := range vms {
		resp.IDs = append(resp.IDs, vm.ID)
	}
	return resp, nil
}

func (s *Server) StartVM(ctx context.Context, req *StartVMRequest) (*StartVMResponse, error) {
	home, err := s.mgr.HomeOfVM(req.ID)
	if err != nil {
		return nil, err
	}
	return route(ctx, s, home,
		func(ctx context.Context) (*StartVMResponse, error) {
			if err := s.mgr.StartVM(ctx, req.ID); err != nil {
				return nil, err
			}
			return &StartVMResponse{Success: true}, nil
		},
		func(ctx context.Context, c *Client) (*StartVMResponse, error) {
			return c.StartVM(ctx, req)
		},
	)
}

func (s *Server) StopVM(ctx context.Context, req *StopVMRequest) (*StopVMResponse, error) {
	home, err := s.mgr.HomeOfVM(req.ID)
	if err != nil {
		return nil, err
	}
	return route(ctx, s, home,
		func(ctx context.Context) (*StopVMResponse, error) {
			if err := s.mgr.StopVM(ctx, req.ID); err != nil {
				return nil, err
			}
			return &StopVMResponse{Success: true}, nil
		},
		func(ctx context.Context, c *Client) (*StopVMResponse, error) {
			return c.StopVM(ctx, req)
		},
	)
}
