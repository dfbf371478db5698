// Package catalog is the locally-applied half of Virtus's replicated
// catalog: a typed Store interface plus a BoltDB-backed implementation.
// Replication and ordering are owned by pkg/cluster's Raft FSM, which
// applies committed commands against a Store; catalog itself never talks
// to the network.
package catalog

import "github.com/cuemby/virtus/pkg/types"

// Store is the typed persistence surface for every entity kind. Back
// references (e.g. "which disks live in this pool") are recovered by
// scanning and filtering; forward references are the only stored ones, so
// there is no redundant list to drift under partial failure.
type Store interface {
	CreateNode(node *types.Node) error
	GetNode(id types.ID) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	DeleteNode(id types.ID) error

	CreatePool(pool *types.Pool) error
	GetPool(id types.ID) (*types.Pool, error)
	ListPools() ([]*types.Pool, error)
	ListPoolsByNode(nodeID types.ID) ([]*types.Pool, error)
	DeletePool(id types.ID) error

	CreateDisk(disk *types.Disk) error
	GetDisk(id types.ID) (*types.Disk, error)
	ListDisks() ([]*types.Disk, error)
	ListDisksByPool(poolID types.ID) ([]*types.Disk, error)
	DeleteDisk(id types.ID) error

	CreateImage(image *types.Image) error
	GetImage(id types.ID) (*types.Image, error)
	ListImages() ([]*types.Image, error)
	DeleteImage(id types.ID) error

	CreateNetwork(network *types.Network) error
	GetNetwork(id types.ID) (*types.Network, error)
	ListNetworks() ([]*types.Network, error)
	DeleteNetwork(id types.ID) error

	CreateInterface(iface *types.Interface) error
	GetInterface(id types.ID) (*types.Interface, error)
	ListInterfaces() ([]*types.Interface, error)
	ListInterfacesByNetwork(networkID types.ID) ([]*types.Interface, error)
	UpdateInterface(iface *types.Interface) error
	DeleteInterface(id types.ID) error

	CreateVM(vm *types.VM) error
	GetVM(id types.ID) (*types.VM, error)
	GetVMByName(name string) (*types.VM, error)
	ListVMs() ([]*types.VM, error)
	ListVMsByNode(nodeID types.ID) ([]*types.VM, error)
	UpdateVM(vm *types.VM) error
	DeleteVM(id types.ID) error

	// Snapshot and Restore support the Raft FSM's snapshot machinery: a
	// full point-in-time export and a full wipe-and-load.
	Snapshot() (*Dump, error)
	Restore(dump *Dump) error

	Close() error
}

// Dump is a full point-in-time export of every bucket, used by the Raft
// FSM to build and restore snapshots without it knowing Store's storage
// engine.
type Dump struct {
	Nodes      []*types.Node      `json:"nodes"`
	Pools      []*types.Pool      `json:"pools"`
	Disks      []*types.Disk      `json:"disks"`
	Images     []*types.Image     `json:"images"`
	Networks   []*types.Network   `json:"networks"`
	Interfaces []*types.Interface `json:"interfaces"`
	VMs        []*types.VM        `json:"vms"`
}
