package rpcapi

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "virtus.VirtusAPI"

// VirtusAPIServer is the service surface: add, remove, get and list per
// entity kind, the VM lifecycle transitions, and cluster membership.
type VirtusAPIServer interface {
	JoinCluster(ctx context.Context, req *JoinClusterRequest) (*JoinClusterResponse, error)
	CreateJoinToken(ctx context.Context, req *CreateJoinTokenRequest) (*CreateJoinTokenResponse, error)
	ApplyCommand(ctx context.Context, req *ApplyCommandRequest) (*ApplyCommandResponse, error)

	GetNode(ctx context.Context, req *GetNodeRequest) (*GetNodeResponse, error)
	ListNodes(ctx context.Context, req *ListRequest) (*ListNodesResponse, error)
	RemoveNode(ctx context.Context, req *RemoveNodeRequest) (*RemoveResponse, error)

	AddPool(ctx context.Context, req *AddPoolRequest) (*AddPoolResponse, error)
	RemovePool(ctx context.Context, req *RemovePoolRequest) (*RemoveResponse, error)
	GetPool(ctx context.Context, req *GetPoolRequest) (*GetPoolResponse, error)
	ListPools(ctx context.Context, req *ListRequest) (*ListPoolsResponse, error)

	AddDisk(ctx context.Context, req *AddDiskRequest) (*AddDiskResponse, error)
	RemoveDisk(ctx context.Context, req *RemoveDiskRequest) (*RemoveResponse, error)
	GetDisk(ctx context.Context, req *GetDiskRequest) (*GetDiskResponse, error)
	ListDisks(ctx context.Context, req *ListRequest) (*ListDisksResponse, error)

	AddImage(ctx context.Context, req *AddImageRequest) (*AddImageResponse, error)
	RemoveImage(ctx context.Context, req *RemoveImageRequest) (*RemoveResponse, error)
	GetImage(ctx context.Context, req *GetImageRequest) (*GetImageResponse, error)
	ListImages(ctx context.Context, req *ListRequest) (*ListImagesResponse, error)

	AddNetwork(ctx context.Context, req *AddNetworkRequest) (*AddNetworkResponse, error)
	RemoveNetwork(ctx context.Context, req *RemoveNetworkRequest) (*RemoveResponse, error)
	GetNetwork(ctx context.Context, req *GetNetworkRequest) (*GetNetworkResponse, error)
	ListNetworks(ctx context.Context, req *ListRequest) (*ListNetworksResponse, error)

	AddInterface(ctx context.Context, req *AddInterfaceRequest) (*AddInterfaceResponse, error)
	RemoveInterface(ctx context.Context, req *RemoveInterfaceRequest) (*RemoveResponse, error)
	GetInterface(ctx context.Context, req *GetInterfaceRequest) (*GetInterfaceResponse, error)
	ListInterfaces(ctx context.Context, req *ListRequest) (*ListInterfacesResponse, error)

	AddVM(ctx context.Context, req *AddVMRequest) (*AddVMResponse, error)
	RemoveVM(ctx context.Context, req *RemoveVMRequest) (*RemoveResponse, error)
	GetVM(ctx context.Context, req *GetVMRequest) (*GetVMResponse, error)
	ListVMs(ctx context.Context, req *ListRequest) (*ListVMsResponse, error)
	StartVM(ctx context.Context, req *StartVMRequest) (*StartVMResponse, error)
	StopVM(ctx context.Context, req *StopVMRequest) (*StopVMResponse, error)
}

// unaryHandler adapts one typed service method into the handler shape
// grpc.ServiceDesc expects, threading the server interceptor through.
func unaryHandler[Req any](method string, call func(VirtusAPIServer, context.Context, *Req) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(VirtusAPIServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(VirtusAPIServer), ctx, req.(*Req))
		})
	}
}

func method[Req any](name string, call func(VirtusAPIServer, context.Context, *Req) (any, error)) grpc.MethodDesc {
	return grpc.MethodDesc{MethodName: name, Handler: unaryHandler(name, call)}
}

// serviceDesc wires every method to its typed handler.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VirtusAPIServer)(nil),
	Methods: []grpc.MethodDesc{
		method("JoinCluster", func(s VirtusAPIServer, ctx context.Context, r *JoinClusterRequest) (any, error) {
			return s.JoinCluster(ctx, r)
		}),
		method("CreateJoinToken", func(s VirtusAPIServer, ctx context.Context, r *CreateJoinTokenRequest) (any, error) {
			return s.CreateJoinToken(ctx, r)
		}),
		method("ApplyCommand", func(s VirtusAPIServer, ctx context.Context, r *ApplyCommandRequest) (any, error) {
			return s.ApplyCommand(ctx, r)
		}),
		method("GetNode", func(s VirtusAPIServer, ctx context.Context, r *GetNodeRequest) (any, error) {
			return s.GetNode(ctx, r)
		}),
		method("ListNodes", func(s VirtusAPIServer, ctx context.Context, r *ListRequest) (any, error) {
			return s.ListNodes(ctx, r)
		}),
		method("RemoveNode", func(s VirtusAPIServer, ctx context.Context, r *RemoveNodeRequest) (any, error) {
			return s.RemoveNode(ctx, r)
		}),
		method("AddPool", func(s VirtusAPIServer, ctx context.Context, r *AddPoolRequest) (any, error) {
			return s.AddPool(ctx, r)
		}),
		method("RemovePool", func(s VirtusAPIServer, ctx context.Context, r *RemovePoolRequest) (any, error) {
			return s.RemovePool(ctx, r)
		}),
		method("GetPool", func(s VirtusAPIServer, ctx context.Context, r *GetPoolRequest) (any, error) {
			return s.GetPool(ctx, r)
		}),
		method("ListPools", func(s VirtusAPIServer, ctx context.Context, r *ListRequest) (any, error) {
			return s.ListPools(ctx, r)
		}),
		method("AddDisk", func(s VirtusAPIServer, ctx context.Context, r *AddDiskRequest) (any, error) {
			return s.AddDisk(ctx, r)
		}),
		method("RemoveDisk", func(s VirtusAPIServer, ctx context.Context, r *RemoveDiskRequest) (any, error) {
			return s.RemoveDisk(ctx, r)
		}),
		method("GetDisk", func(s VirtusAPIServer, ctx context.Context, r *GetDiskRequest) (any, error) {
			return s.GetDisk(ctx, r)
		}),
		method("ListDisks", func(s VirtusAPIServer, ctx context.Context, r *ListRequest) (any, error) {
			return s.ListDisks(ctx, r)
		}),
		method("AddImage", func(s VirtusAPIServer, ctx context.Context, r *AddImageRequest) (any, error) {
			return s.AddImage(ctx, r)
		}),
		method("RemoveImage", func(s VirtusAPIServer, ctx context.Context, r *RemoveImageRequest) (any, error) {
			return s.RemoveImage(ctx, r)
		}),
		method("GetImage", func(s VirtusAPIServer, ctx context.Context, r *GetImageRequest) (any, error) {
			return s.GetImage(ctx, r)
		}),
		method("ListImages", func(s VirtusAPIServer, ctx context.Context, r *ListRequest) (any, error) {
			return s.ListImages(ctx, r)
		}),
		method("AddNetwork", func(s VirtusAPIServer, ctx context.Context, r *AddNetworkRequest) (any, error) {
			return s.AddNetwork(ctx, r)
		}),
		method("RemoveNetwork", func(s VirtusAPIServer, ctx context.Context, r *RemoveNetworkRequest) (any, error) {
			return s.RemoveNetwork(ctx, r)
		}),
		method("GetNetwork", func(s VirtusAPIServer, ctx context.Context, r *GetNetworkRequest) (any, error) {
			return s.GetNetwork(ctx, r)
		}),
		method("ListNetworks", func(s VirtusAPIServer, ctx context.Context, r *ListRequest) (any, error) {
			return s.ListNetworks(ctx, r)
		}),
		method("AddInterface", func(s VirtusAPIServer, ctx context.Context, r *AddInterfaceRequest) (any, error) {
			return s.AddInterface(ctx, r)
		}),
		method("RemoveInterface", func(s VirtusAPIServer, ctx context.Context, r *RemoveInterfaceRequest) (any, error) {
			return s.RemoveInterface(ctx, r)
		}),
		method("GetInterface", func(s VirtusAPIServer, ctx context.Context, r *GetInterfaceRequest) (any, error) {
			return s.GetInterface(ctx, r)
		}),
		method("ListInterfaces", func(s VirtusAPIServer, ctx context.Context, r *ListRequest) (any, error) {
			return s.ListInterfaces(ctx, r)
		}),
		method("AddVM", func(s VirtusAPIServer, ctx context.Context, r *AddVMRequest) (any, error) {
			return s.AddVM(ctx, r)
		}),
		method("RemoveVM", func(s VirtusAPIServer, ctx context.Context, r *RemoveVMRequest) (any, error) {
			return s.RemoveVM(ctx, r)
		}),
		method("GetVM", func(s VirtusAPIServer, ctx context.Context, r *GetVMRequest) (any, error) {
			return s.GetVM(ctx, r)
		}),
		method("ListVMs", func(s VirtusAPIServer, ctx context.Context, r *ListRequest) (any, error) {
			return s.ListVMs(ctx, r)
		}),
		method("StartVM", func(s VirtusAPIServer, ctx context.Context, r *StartVMRequest) (any, error) {
			return s.StartVM(ctx, r)
		}),
		method("StopVM", func(s VirtusAPIServer, ctx context.Context, r *StopVMRequest) (any, error) {
			return s.StopVM(ctx, r)
		}),
	},
	Streams: []grpc.StreamDesc{},
}
