// Package types defines Virtus's entity model: Node, Pool, Disk, Image,
// Network, Interface, and VM. Every entity is a plain, immutable value
// identified by a 128-bit id; cross-references are by id only. Construction
// through New* validates only invariants checkable without a catalog read;
// cross-entity checks (name uniqueness, referenced-entity existence) belong
// to the request handlers in pkg/cluster, not here.
package types

import (
	"net"
	"time"

	"github.com/cuemby/virtus/pkg/verr"
	"github.com/google/uuid"
)

// ID is a 128-bit identifier, unique cluster-wide.
type ID = uuid.UUID

// NewID generates a fresh random identifier.
func NewID() ID { return uuid.New() }

// ParseID parses a string form of an ID.
func ParseID(s string) (ID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ID{}, verr.Validationf("malformed id %q: %v", s, err)
	}
	return id, nil
}

// SchemaVersion anchors the append-only record encoding: every persisted
// record embeds one, bumped whenever an optional field is added. Field
// tags are never reused across versions.
type SchemaVersion int

// Node represents a cluster member and the physical host it runs on.
type Node struct {
	SchemaVersion SchemaVersion `json:"schema_version"`
	ID            ID            `json:"id"`
	Address       net.IP        `json:"address"`
	Hostname      string        `json:"hostname"`
	CreatedAt     time.Time     `json:"created_at"`
}

// NewNode validates and constructs a Node. The id must equal the owning
// agent's self-id, so callers supply it rather than generating a fresh
// one.
func NewNode(id ID, address net.IP, hostname string) (*Node, error) {
	if address == nil {
		return nil, verr.Validationf("node address is required")
	}
	if hostname == "" {
		return nil, verr.Validationf("node hostname is required")
	}
	return &Node{
		SchemaVersion: 1,
		ID:            id,
		Address:       address,
		Hostname:      hostname,
		CreatedAt:     time.Now(),
	}, nil
}

// Pool is a directory on one host that stores disk files for that host.
type Pool struct {
	SchemaVersion SchemaVersion `json:"schema_version"`
	ID            ID            `json:"id"`
	NodeID        ID            `json:"node_id"`
	Name          string        `json:"name,omitempty"`
	Path          string        `json:"path"`
	CreatedAt     time.Time     `json:"created_at"`
}

// NewPool validates and constructs a Pool. Existence of NodeID and of the
// on-disk directory are checked by the request handler and the storage
// effector respectively, not here.
func NewPool(nodeID ID, name, path string) (*Pool, error) {
	if path == "" {
		return nil, verr.Validationf("pool path is required")
	}
	return &Pool{
		SchemaVersion: 1,
		ID:            NewID(),
		NodeID:        nodeID,
		Name:          name,
		Path:          path,
		CreatedAt:     time.Now(),
	}, nil
}

// Disk is a catalog record plus a backing qcow2 file in its pool's directory.
type Disk struct {
	SchemaVersion SchemaVersion `json:"schema_version"`
	ID            ID            `json:"id"`
	PoolID        ID            `json:"pool_id"`
	Name          string        `json:"name,omitempty"`
	SizeBytes     uint64        `json:"size_bytes"`
	CreatedAt     time.Time     `json:"created_at"`
}

// NewDisk validates and constructs a Disk.
func NewDisk(poolID ID, name string, sizeBytes uint64) (*Disk, error) {
	if sizeBytes == 0 {
		return nil, verr.Validationf("disk size must be greater than zero")
	}
	return &Disk{
		SchemaVersion: 1,
		ID:            NewID(),
		PoolID:        poolID,
		Name:          name,
		SizeBytes:     sizeBytes,
		CreatedAt:     time.Now(),
	}, nil
}

// FileName is the backing file name inside the owning pool's directory.
func (d *Disk) FileName() string {
	return d.ID.String() + ".qcow2"
}

// Image is an installable or already-installed disk image referenced by VMs.
type Image struct {
	SchemaVersion SchemaVersion `json:"schema_version"`
	ID            ID            `json:"id"`
	Installer     bool          `json:"installer"`
	Filename      string        `json:"filename"`
}

// NewImage validates and constructs an Image.
func NewImage(filename string, installer bool) (*Image, error) {
	if filename == "" {
		return nil, verr.Validationf("image filename is required")
	}
	return &Image{
		SchemaVersion: 1,
		ID:            NewID(),
		Installer:     installer,
		Filename:      filename,
	}, nil
}

// DefaultBridge is the shared bridge used by networks with no physical
// uplink.
const DefaultBridge = "virtus0"

// Network is a catalog record plus either the shared bridge or a dedicated
// bridge over a physical uplink on each host.
type Network struct {
	SchemaVersion SchemaVersion `json:"schema_version"`
	ID            ID            `json:"id"`
	Name          string        `json:"name,omitempty"`
	VlanTag       uint32        `json:"vlan_tag"` // 0 = untagged
	CIDR4         string        `json:"cidr4,omitempty"`
	Uplink        string        `json:"uplink,omitempty"`
	BridgeName    string        `json:"bridge_name"`
	CreatedAt     time.Time     `json:"created_at"`
}

// NewNetwork validates and constructs a Network. Uplink-uniqueness across
// the cluster is a catalog-wide invariant checked by the request handler.
func NewNetwork(name string, vlanTag uint32, cidr4, uplink string) (*Network, error) {
	id := NewID()
	bridge := DefaultBridge
	if uplink != "" {
		bridge = "virtus-" + id.String()[:8]
	}
	return &Network{
		SchemaVersion: 1,
		ID:            id,
		Name:          name,
		VlanTag:       vlanTag,
		CIDR4:         cidr4,
		Uplink:        uplink,
		BridgeName:    bridge,
		CreatedAt:     time.Now(),
	}, nil
}

// Untagged reports whether the network carries no vlan tag.
func (n *Network) Untagged() bool { return n.VlanTag == 0 }

// HasUplink reports whether the network is bound to a physical uplink and
// so uses a dedicated bridge rather than the shared one.
func (n *Network) HasUplink() bool { return n.Uplink != "" }

// Interface is a catalog record plus an internal switch port on the
// network's bridge, tagged with the network's vlan when non-zero; no veth
// pair is created for it. The network is the authoritative owner of the interface's
// lifecycle; VMID is set only while attached.
type Interface struct {
	SchemaVersion SchemaVersion `json:"schema_version"`
	ID            ID            `json:"id"`
	NetworkID     ID            `json:"network_id"`
	MAC           string        `json:"mac,omitempty"`
	VMID          *ID           `json:"vm_id,omitempty"`
	LinkName      string        `json:"link_name"`
	HostLinkIndex int           `json:"host_link_index"`
	CreatedAt     time.Time     `json:"created_at"`
}

// NewInterface validates and constructs an Interface. The host-local link
// name is derived from the fresh id (its first 8 hex characters), so every
// host names the link identically.
func NewInterface(networkID ID, mac string) (*Interface, error) {
	id := NewID()
	return &Interface{
		SchemaVersion: 1,
		ID:            id,
		NetworkID:     networkID,
		MAC:           mac,
		LinkName:      id.String()[:8],
		CreatedAt:     time.Now(),
	}, nil
}

// Private reports whether this interface is exclusively attached to a VM
// (and therefore should be cascade-deleted with it).
func (i *Interface) Private() bool { return i.VMID != nil }

// LifecycleState mirrors the hypervisor effector's raw-state projection.
// It is a cache, never authoritative: every start/delete transition
// re-resolves the true state from the hypervisor first.
type LifecycleState string

const (
	StateUndefined    LifecycleState = "undefined"
	StateStopped      LifecycleState = "stopped"
	StateRunning      LifecycleState = "running"
	StatePaused       LifecycleState = "paused"
	StateShuttingDown LifecycleState = "shutting_down"
)

// VM references its disks, image, and interfaces by id; name is unique
// across the whole cluster.
type VM struct {
	SchemaVersion SchemaVersion  `json:"schema_version"`
	ID            ID             `json:"id"`
	Name          string         `json:"name"`
	VCPUs         uint32         `json:"vcpus"`
	MemoryBytes   uint64         `json:"memory_bytes"`
	DiskIDs       []ID           `json:"disk_ids"`
	ImageID       ID             `json:"image_id"`
	InterfaceIDs  []ID           `json:"interface_ids"`
	State         LifecycleState `json:"state"`
	NodeID        ID             `json:"node_id"`
	CreatedAt     time.Time      `json:"created_at"`
}

// NewVM validates and constructs a VM. Name uniqueness and referenced-id
// existence are catalog-wide invariants checked by the request handler.
func NewVM(name string, vcpus uint32, memoryBytes uint64, diskIDs []ID, imageID ID, interfaceIDs []ID, nodeID ID) (*VM, error) {
	if name == "" {
		return nil, verr.Validationf("vm name is required")
	}
	if vcpus == 0 {
		return nil, verr.Validationf("vm vcpu count must be greater than zero")
	}
	if memoryBytes == 0 {
		return nil, verr.Validationf("vm memory must be greater than zero")
	}
	return &VM{
		SchemaVersion: 1,
		ID:            NewID(),
		Name:          name,
		VCPUs:         vcpus,
		MemoryBytes:   memoryBytes,
		DiskIDs:       diskIDs,
		ImageID:       imageID,
		InterfaceIDs:  interfaceIDs,
		State:         StateUndefined,
		NodeID:        nodeID,
		CreatedAt:     time.Now(),
	}, nil
}
