package cluster

import (
	"context"

	"github.com/cuemby/virtus/pkg/types"
)

// StorageEffector materializes disk files inside pool directories on the
// local host. pkg/storageeffector provides the production implementation.
type StorageEffector interface {
	EnsurePool(ctx context.Context, path string) error
	CreateDisk(ctx context.Context, poolPath string, diskID types.ID, sizeBytes uint64) (string, error)
	DeleteDisk(ctx context.Context, poolPath string, diskID types.ID) error
}

// SwitchEffector manages bridges and ports on the local host's software
// switch. pkg/switcheffector provides the production implementation.
type SwitchEffector interface {
	EnsureBridge(name string) error
	DeleteBridge(name string) error
	CreatePort(bridge, port string, vlan uint32) error
	DeletePort(bridge, port string) error
}

// HypervisorEffector realizes VM lifecycle against the local hypervisor
// daemon. pkg/hypervisor provides the production implementation.
type HypervisorEffector interface {
	Define(xml []byte) error
	Start(id types.ID) error
	Stop(id types.ID) error
	Undefine(id types.ID) error
	State(id types.ID) (types.LifecycleState, error)
}

// Effectors bundles the three host-local adapters a node drives.
type Effectors struct {
	Storage    StorageEffector
	Switch     SwitchEffector
	Hypervisor HypervisorEffector
}
