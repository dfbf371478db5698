package cluster

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"testing"

	"github.com/cuemby/virtus/pkg/catalog"
	"github.com/cuemby/virtus/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFSM(t *testing.T) (*FSM, catalog.Store) {
	t.Helper()
	store, err := catalog.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewFSM(store), store
}

func applyCommand(t *testing.T, fsm *FSM, op string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	cmdData, err := json.Marshal(Command{Op: op, Data: data})
	require.NoError(t, err)

	resp := fsm.Apply(&raft.Log{Data: cmdData})
	if err, ok := resp.(error); ok {
		require.NoError(t, err)
	}
}

func TestFSMApplyCreateAndDelete(t *testing.T) {
	fsm, store := testFSM(t)

	node, err := types.NewNode(types.NewID(), net.ParseIP("10.0.0.1"), "host-a")
	require.NoError(t, err)
	applyCommand(t, fsm, opCreateNode, node)

	got, err := store.GetNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, node.ID, got.ID)

	applyCommand(t, fsm, opDeleteNode, node.ID)
	_, err = store.GetNode(node.ID)
	assert.Error(t, err)
}

// Duplicate-name creates race past the request handlers' local pre-checks
// when issued concurrently on different nodes; the log application is
// where they serialize, so the second committed entry must fail there.
func TestFSMApplyRejectsDuplicateVMName(t *testing.T) {
	fsm, store := testFSM(t)

	first, err := types.NewVM("vm1", 1, 1<<30, nil, types.NewID(), nil, types.NewID())
	require.NoError(t, err)
	applyCommand(t, fsm, opCreateVM, first)

	second, err := types.NewVM("vm1", 1, 1<<30, nil, types.NewID(), nil, types.NewID())
	require.NoError(t, err)
	data, err := json.Marshal(second)
	require.NoError(t, err)
	cmdData, err := json.Marshal(Command{Op: opCreateVM, Data: data})
	require.NoError(t, err)

	resp := fsm.Apply(&raft.Log{Data: cmdData})
	applyErr, ok := resp.(error)
	require.True(t, ok)
	assert.Error(t, applyErr)

	vms, err := store.ListVMs()
	require.NoError(t, err)
	require.Len(t, vms, 1)
	assert.Equal(t, first.ID, vms[0].ID)
}

func TestFSMApplyUnknownCommand(t *testing.T) {
	fsm, _ := testFSM(t)

	cmdData, err := json.Marshal(Command{Op: "drop_everything"})
	require.NoError(t, err)

	resp := fsm.Apply(&raft.Log{Data: cmdData})
	err, ok := resp.(error)
	require.True(t, ok)
	assert.Error(t, err)
}

type memorySink struct {
	bytes.Buffer
}

func (*memorySink) ID() string    { return "test" }
func (*memorySink) Cancel() error { return nil }
func (*memorySink) Close() error  { return nil }

func TestFSMSnapshotRestore(t *testing.T) {
	fsm, _ := testFSM(t)

	vm, err := types.NewVM("vm1", 1, 1<<30, nil, types.NewID(), nil, types.NewID())
	require.NoError(t, err)
	applyCommand(t, fsm, opCreateVM, vm)

	snap, err := fsm.Snapshot()
	require.NoError(t, err)

	sink := &memorySink{}
	require.NoError(t, snap.Persist(sink))
	snap.Release()

	fresh, freshStore := testFSM(t)
	require.NoError(t, fresh.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))

	got, err := freshStore.GetVMByName("vm1")
	require.NoError(t, err)
	assert.Equal(t, vm.ID, got.ID)
}
