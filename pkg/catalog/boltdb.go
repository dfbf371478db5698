package catalog

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/virtus/pkg/types"
	"github.com/cuemby/virtus/pkg/verr"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketNodes      = []byte("nodes")
	bucketPools      = []byte("pools")
	bucketDisks      = []byte("disks")
	bucketImages     = []byte("images")
	bucketNetworks   = []byte("networks")
	bucketInterfaces = []byte("interfaces")
	bucketVMs        = []byte("vms")
)

var allBuckets = [][]byte{
	bucketNodes, bucketPools, bucketDisks, bucketImages,
	bucketNetworks, bucketInterfaces, bucketVMs,
}

// BoltStore implements Store on top of a single BoltDB file, one bucket
// per entity kind, keyed by the entity's id string and JSON-encoded.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the catalog database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "virtus.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func put(tx *bolt.Tx, bucket []byte, id types.ID, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(id.String()), data)
}

func get[T any](tx *bolt.Tx, bucket []byte, id types.ID, kind string) (*T, error) {
	data := tx.Bucket(bucket).Get([]byte(id.String()))
	if data == nil {
		return nil, verr.NotFoundf("%s %s not found", kind, id)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func list[T any](tx *bolt.Tx, bucket []byte) ([]*T, error) {
	var out []*T
	err := tx.Bucket(bucket).ForEach(func(_, v []byte) error {
		var item T
		if err := json.Unmarshal(v, &item); err != nil {
			return err
		}
		out = append(out, &item)
		return nil
	})
	return out, err
}

func del(tx *bolt.Tx, bucket []byte, id types.ID) error {
	return tx.Bucket(bucket).Delete([]byte(id.String()))
}

// Node operations.

func (s *BoltStore) CreateNode(node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketNodes, node.ID, node) })
}

func (s *BoltStore) GetNode(id types.ID) (*types.Node, error) {
	var node *types.Node
	err := s.db.View(func(tx *bolt.Tx) (err error) { node, err = get[types.Node](tx, bucketNodes, id, "node"); return })
	return node, err
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) (err error) { nodes, err = list[types.Node](tx, bucketNodes); return })
	return nodes, err
}

func (s *BoltStore) DeleteNode(id types.ID) error {
	return s.db.Update(func(tx *bolt.Tx) error { return del(tx, bucketNodes, id) })
}

// Pool operations.

func (s *BoltStore) CreatePool(pool *types.Pool) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketPools, pool.ID, pool) })
}

func (s *BoltStore) GetPool(id types.ID) (*types.Pool, error) {
	var pool *types.Pool
	err := s.db.View(func(tx *bolt.Tx) (err error) { pool, err = get[types.Pool](tx, bucketPools, id, "pool"); return })
	return pool, err
}

func (s *BoltStore) ListPools() ([]*types.Pool, error) {
	var pools []*types.Pool
	err := s.db.View(func(tx *bolt.Tx) (err error) { pools, err = list[types.Pool](tx, bucketPools); return })
	return pools, err
}

// ListPoolsByNode recovers the Node->Pool back reference by scanning and
// filtering, rather than maintaining a redundant list on Node.
func (s *BoltStore) ListPoolsByNode(nodeID types.ID) ([]*types.Pool, error) {
	pools, err := s.ListPools()
	if err != nil {
		return nil, err
	}
	var out []*types.Pool
	for _, p := range pools {
		if p.NodeID == nodeID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *BoltStore) DeletePool(id types.ID) error {
	return s.db.Update(func(tx *bolt.Tx) error { return del(tx, bucketPools, id) })
}

// Disk operations.

func (s *BoltStore) CreateDisk(disk *types.Disk) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketDisks, disk.ID, disk) })
}

func (s *BoltStore) GetDisk(id types.ID) (*types.Disk, error) {
	var disk *types.Disk
	err := s.db.View(func(tx *bolt.Tx) (err error) { disk, err = get[types.Disk](tx, bucketDisks, id, "disk"); return })
	return disk, err
}

func (s *BoltStore) ListDisks() ([]*types.Disk, error) {
	var disks []*types.Disk
	err := s.db.View(func(tx *bolt.Tx) (err error) { disks, err = list[types.Disk](tx, bucketDisks); return })
	return disks, err
}

func (s *BoltStore) ListDisksByPool(poolID types.ID) ([]*types.Disk, error) {
	disks, err := s.ListDisks()
	if err != nil {
		return nil, err
	}
	var out []*types.Disk
	for _, d := range disks {
		if d.PoolID == poolID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *BoltStore) DeleteDisk(id types.ID) error {
	return s.db.Update(func(tx *bolt.Tx) error { return del(tx, bucketDisks, id) })
}

// Image operations.

func (s *BoltStore) CreateImage(image *types.Image) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketImages, image.ID, image) })
}

func (s *BoltStore) GetImage(id types.ID) (*types.Image, error) {
	var image *types.Image
	err := s.db.View(func(tx *bolt.Tx) (err error) { image, err = get[types.Image](tx, bucketImages, id, "image"); return })
	return image, err
}

func (s *BoltStore) ListImages() ([]*types.Image, error) {
	var images []*types.Image
	err := s.db.View(func(tx *bolt.Tx) (err error) { images, err = list[types.Image](tx, bucketImages); return })
	return images, err
}

func (s *BoltStore) DeleteImage(id types.ID) error {
	return s.db.Update(func(tx *bolt.Tx) error { return del(tx, bucketImages, id) })
}

// Network operations.

func (s *BoltStore) CreateNetwork(network *types.Network) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketNetworks, network.ID, network) })
}

func (s *BoltStore) GetNetwork(id types.ID) (*types.Network, error) {
	var network *types.Network
	err := s.db.View(func(tx *bolt.Tx) (err error) {
		network, err = get[types.Network](tx, bucketNetworks, id, "network")
		return
	})
	return network, err
}

func (s *BoltStore) ListNetworks() ([]*types.Network, error) {
	var networks []*types.Network
	err := s.db.View(func(tx *bolt.Tx) (err error) { networks, err = list[types.Network](tx, bucketNetworks); return })
	return networks, err
}

func (s *BoltStore) DeleteNetwork(id types.ID) error {
	return s.db.Update(func(tx *bolt.Tx) error { return del(tx, bucketNetworks, id) })
}

// Interface operations.

func (s *BoltStore) CreateInterface(iface *types.Interface) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketInterfaces, iface.ID, iface) })
}

func (s *BoltStore) GetInterface(id types.ID) (*types.Interface, error) {
	var iface *types.Interface
	err := s.db.View(func(tx *bolt.Tx) (err error) {
		iface, err = get[types.Interface](tx, bucketInterfaces, id, "interface")
		return
	})
	return iface, err
}

func (s *BoltStore) ListInterfaces() ([]*types.Interface, error) {
	var ifaces []*types.Interface
	err := s.db.View(func(tx *bolt.Tx) (err error) { ifaces, err = list[types.Interface](tx, bucketInterfaces); return })
	return ifaces, err
}

func (s *BoltStore) ListInterfacesByNetwork(networkID types.ID) ([]*types.Interface, error) {
	ifaces, err := s.ListInterfaces()
	if err != nil {
		return nil, err
	}
	var out []*types.Interface
	for _, i := range ifaces {
		if i.NetworkID == networkID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateInterface(iface *types.Interface) error {
	return s.CreateInterface(iface)
}

func (s *BoltStore) DeleteInterface(id types.ID) error {
	return s.db.Update(func(tx *bolt.Tx) error { return del(tx, bucketInterfaces, id) })
}

// VM operations.

// CreateVM writes a VM record, enforcing cluster-wide name uniqueness
// inside the write transaction. Request handlers pre-check the name
// against their local applied state, but that read races with concurrent
// adds on other nodes; this check runs where all committed writes are
// already serialized (the FSM applies log entries one at a time), so it is
// the authoritative one. A write carrying the same id is an update of the
// record itself and passes.
func (s *BoltStore) CreateVM(vm *types.VM) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(bucketVMs).ForEach(func(_, v []byte) error {
			var existing types.VM
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.Name == vm.Name && existing.ID != vm.ID {
				return verr.Preconditionf("vm name %q already in use by %s", vm.Name, existing.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		return put(tx, bucketVMs, vm.ID, vm)
	})
}

func (s *BoltStore) GetVM(id types.ID) (*types.VM, error) {
	var vm *types.VM
	err := s.db.View(func(tx *bolt.Tx) (err error) { vm, err = get[types.VM](tx, bucketVMs, id, "vm"); return })
	return vm, err
}

func (s *BoltStore) GetVMByName(name string) (*types.VM, error) {
	vms, err := s.ListVMs()
	if err != nil {
		return nil, err
	}
	for _, vm := range vms {
		if vm.Name == name {
			return vm, nil
		}
	}
	return nil, verr.NotFoundf("vm %q not found", name)
}

func (s *BoltStore) ListVMs() ([]*types.VM, error) {
	var vms []*types.VM
	err := s.db.View(func(tx *bolt.Tx) (err error) { vms, err = list[types.VM](tx, bucketVMs); return })
	return vms, err
}

func (s *BoltStore) ListVMsByNode(nodeID types.ID) ([]*types.VM, error) {
	vms, err := s.ListVMs()
	if err != nil {
		return nil, err
	}
	var out []*types.VM
	for _, vm := range vms {
		if vm.NodeID == nodeID {
			out = append(out, vm)
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateVM(vm *types.VM) error {
	return s.CreateVM(vm)
}

func (s *BoltStore) DeleteVM(id types.ID) error {
	return s.db.Update(func(tx *bolt.Tx) error { return del(tx, bucketVMs, id) })
}

// Snapshot exports every bucket for the Raft FSM's snapshot machinery.
func (s *BoltStore) Snapshot() (*Dump, error) {
	dump := &Dump{}
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		if dump.Nodes, err = list[types.Node](tx, bucketNodes); err != nil {
			return err
		}
		if dump.Pools, err = list[types.Pool](tx, bucketPools); err != nil {
			return err
		}
		if dump.Disks, err = list[types.Disk](tx, bucketDisks); err != nil {
			return err
		}
		if dump.Images, err = list[types.Image](tx, bucketImages); err != nil {
			return err
		}
		if dump.Networks, err = list[types.Network](tx, bucketNetworks); err != nil {
			return err
		}
		if dump.Interfaces, err = list[types.Interface](tx, bucketInterfaces); err != nil {
			return err
		}
		if dump.VMs, err = list[types.VM](tx, bucketVMs); err != nil {
			return err
		}
		return nil
	})
	return dump, err
}

// Restore replaces every bucket's contents with dump's, used when the
// Raft FSM installs a snapshot taken elsewhere in the cluster.
func (s *BoltStore) Restore(dump *Dump) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if err := tx.DeleteBucket(bucket); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return err
			}
		}
		for _, n := range dump.Nodes {
			if err := put(tx, bucketNodes, n.ID, n); err != nil {
				return err
			}
		}
		for _, p := range dump.Pools {
			if err := put(tx, bucketPools, p.ID, p); err != nil {
				return err
			}
		}
		for _, d := range dump.Disks {
			if err := put(tx, bucketDisks, d.ID, d); err != nil {
				return err
			}
		}
		for _, i := range dump.Images {
			if err := put(tx, bucketImages, i.ID, i); err != nil {
				return err
			}
		}
		for _, nw := range dump.Networks {
			if err := put(tx, bucketNetworks, nw.ID, nw); err != nil {
				return err
			}
		}
		for _, iface := range dump.Interfaces {
			if err := put(tx, bucketInterfaces, iface.ID, iface); err != nil {
				return err
			}
		}
		for _, vm := range dump.VMs {
			if err := put(tx, bucketVMs, vm.ID, vm); err != nil {
				return err
			}
		}
		return nil
	})
}
