package rpcapi

import (
	"encoding/json"

	"github.com/cuemby/virtus/pkg/types"
)

// Request and reply shapes for the service surface. Requests carry the
// minimal fields needed to construct or locate an entity; replies carry
// the new id (add), a success flag (remove), the full record (get), or a
// sequence of ids (list).

type JoinClusterRequest struct {
	NodeID   types.ID `json:"node_id"`
	RaftAddr string   `json:"raft_addr"`
	Token    string   `json:"token"`
}

type JoinClusterResponse struct {
	Success bool `json:"success"`
}

type CreateJoinTokenRequest struct {
	TTLSeconds int64 `json:"ttl_seconds"`
}

type CreateJoinTokenResponse struct {
	Token string `json:"token"`
}

type RemoveResponse struct {
	Success bool `json:"success"`
}

// ApplyCommandRequest relays one replicated catalog command from a
// follower home node to the leader, which alone appends to the log.
type ApplyCommandRequest struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

type ApplyCommandResponse struct {
	Success bool `json:"success"`
}

type ListRequest struct{}

// Node

type GetNodeRequest struct {
	ID types.ID `json:"id"`
}

type GetNodeResponse struct {
	Node *types.Node `json:"node,omitempty"`
}

type ListNodesResponse struct {
	IDs []types.ID `json:"ids"`
}

type RemoveNodeRequest struct {
	ID types.ID `json:"id"`
}

// Pool

type AddPoolRequest struct {
	NodeID types.ID `json:"node_id"`
	Name   string   `json:"name,omitempty"`
	Path   string   `json:"path"`
}

type AddPoolResponse struct {
	ID types.ID `json:"id"`
}

type RemovePoolRequest struct {
	ID types.ID `json:"id"`
}

type GetPoolRequest struct {
	ID types.ID `json:"id"`
}

type GetPoolResponse struct {
	Pool *types.Pool `json:"pool,omitempty"`
}

type ListPoolsResponse struct {
	IDs []types.ID `json:"ids"`
}

// Disk

type AddDiskRequest struct {
	PoolID    types.ID `json:"pool_id"`
	Name      string   `json:"name,omitempty"`
	SizeBytes uint64   `json:"size_bytes"`
}

type AddDiskResponse struct {
	ID types.ID `json:"id"`
}

type RemoveDiskRequest struct {
	ID types.ID `json:"id"`
}

type GetDiskRequest struct {
	ID types.ID `json:"id"`
}

type GetDiskResponse struct {
	Disk *types.Disk `json:"disk,omitempty"`
}

type ListDisksResponse struct {
	IDs []types.ID `json:"ids"`
}

// Image

type AddImageRequest struct {
	Filename  string `json:"filename"`
	Installer bool   `json:"installer"`
}

type AddImageResponse struct {
	ID types.ID `json:"id"`
}

type RemoveImageRequest struct {
	ID types.ID `json:"id"`
}

type GetImageRequest struct {
	ID types.ID `json:"id"`
}

type GetImageResponse struct {
	Image *types.Image `json:"image,omitempty"`
}

type ListImagesResponse struct {
	IDs []types.ID `json:"ids"`
}

// Network

type AddNetworkRequest struct {
	Name    string `json:"name,omitempty"`
	VlanTag uint32 `json:"vlan_tag"`
	CIDR4   string `json:"cidr4,omitempty"`
	Uplink  string `json:"uplink,omitempty"`
}

type AddNetworkResponse struct {
	ID types.ID `json:"id"`
}

type RemoveNetworkRequest struct {
	ID types.ID `json:"id"`
}

type GetNetworkRequest struct {
	ID types.ID `json:"id"`
}

type GetNetworkResponse struct {
	Network *types.Network `json:"network,omitempty"`
}

type ListNetworksResponse struct {
	IDs []types.ID `json:"ids"`
}

// Interface

type AddInterfaceRequest struct {
	NetworkID types.ID `json:"network_id"`
	MAC       string   `json:"mac,omitempty"`
}

type AddInterfaceResponse struct {
	ID types.ID `json:"id"`
}

type RemoveInterfaceRequest struct {
	ID types.ID `json:"id"`
}

type GetInterfaceRequest struct {
	ID types.ID `json:"id"`
}

type GetInterfaceResponse struct {
	Interface *types.Interface `json:"interface,omitempty"`
}

type ListInterfacesResponse struct {
	IDs []types.ID `json:"ids"`
}

// VM

type AddVMRequest struct {
	Name         string     `json:"name"`
	NodeID       types.ID   `json:"node_id"`
	VCPUs        uint32     `json:"vcpus"`
	MemoryBytes  uint64     `json:"memory_bytes"`
	DiskIDs      []types.ID `json:"disk_ids,omitempty"`
	ImageID      types.ID   `json:"image_id"`
	InterfaceIDs []types.ID `json:"interface_ids,omitempty"`
}

type AddVMResponse struct {
	ID types.ID `json:"id"`
}

type RemoveVMRequest struct {
	ID types.ID `json:"id"`
}

type GetVMRequest struct {
	ID types.ID `json:"id"`
}

type GetVMResponse struct {
	VM *types.VM `json:"vm,omitempty"`
}

type ListVMsResponse struct {
	IDs []types.ID `json:"ids"`
}

type StartVMRequest struct {
	ID types.ID `json:"id"`
}

type StartVMResponse struct {
	Success bool `json:"success"`
}

type StopVMRequest struct {
	ID types.ID `json:"id"`
}

type StopVMResponse struct {
	Success bool `json:"success"`
}
