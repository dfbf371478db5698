package cluster

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/virtus/pkg/catalog"
	"github.com/cuemby/virtus/pkg/types"
	"github.com/hashicorp/raft"
)

// Command is one replicated catalog mutation. Op selects which entity
// operation to apply; Data carries its JSON-encoded argument.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	opCreateNode      = "create_node"
	opDeleteNode      = "delete_node"
	opCreatePool      = "create_pool"
	opDeletePool      = "delete_pool"
	opCreateDisk      = "create_disk"
	opDeleteDisk      = "delete_disk"
	opCreateImage     = "create_image"
	opDeleteImage     = "delete_image"
	opCreateNetwork   = "create_network"
	opDeleteNetwork   = "delete_network"
	opCreateInterface = "create_interface"
	opUpdateInterface = "update_interface"
	opDeleteInterface = "delete_interface"
	opCreateVM        = "create_vm"
	opUpdateVM        = "update_vm"
	opDeleteVM        = "delete_vm"
)

// FSM implements the Raft finite state machine over a catalog.Store: every
// committed Command is applied exactly once, in log order, on every node.
type FSM struct {
	mu    sync.RWMutex
	store catalog.Store
}

// NewFSM wraps store as a Raft FSM.
func NewFSM(store catalog.Store) *FSM {
	return &FSM{store: store}
}

// Apply applies one committed Raft log entry.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opCreateNode:
		var v types.Node
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.CreateNode(&v)

	case opDeleteNode:
		var id types.ID
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteNode(id)

	case opCreatePool:
		var v types.Pool
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.CreatePool(&v)

	case opDeletePool:
		var id types.ID
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeletePool(id)

	case opCreateDisk:
		var v types.Disk
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.CreateDisk(&v)

	case opDeleteDisk:
		var id types.ID
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteDisk(id)

	case opCreateImage:
		var v types.Image
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.CreateImage(&v)

	case opDeleteImage:
		var id types.ID
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteImage(id)

	case opCreateNetwork:
		var v types.Network
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.CreateNetwork(&v)

	case opDeleteNetwork:
		var id types.ID
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteNetwork(id)

	case opCreateInterface:
		var v types.Interface
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.CreateInterface(&v)

	case opUpdateInterface:
		var v types.Interface
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.UpdateInterface(&v)

	case opDeleteInterface:
		var id types.ID
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteInterface(id)

	case opCreateVM:
		var v types.VM
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.CreateVM(&v)

	case opUpdateVM:
		var v types.VM
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.UpdateVM(&v)

	case opDeleteVM:
		var id types.ID
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteVM(id)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot captures the full catalog for Raft's log-compaction machinery.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	dump, err := f.store.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot catalog: %w", err)
	}
	return &fsmSnapshot{dump: dump}, nil
}

// Restore replaces the catalog's contents with a previously taken snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var dump catalog.Dump
	if err := json.NewDecoder(rc).Decode(&dump); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.store.Restore(&dump)
}

type fsmSnapshot struct {
	dump *catalog.Dump
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.dump); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshot) Release() {}
