package catalog

import (
	"net"
	"testing"

	"github.com/cuemby/virtus/pkg/types"
	"github.com/cuemby/virtus/pkg/verr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNodeRoundTrip(t *testing.T) {
	store := openTestStore(t)

	node, err := types.NewNode(types.NewID(), net.ParseIP("10.0.0.1"), "host-a")
	require.NoError(t, err)
	require.NoError(t, store.CreateNode(node))

	got, err := store.GetNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, node.Hostname, got.Hostname)

	nodes, err := store.ListNodes()
	require.NoError(t, err)
	assert.Len(t, nodes, 1)

	require.NoError(t, store.DeleteNode(node.ID))
	_, err = store.GetNode(node.ID)
	assert.Error(t, err)
}

func TestListDisksByPoolFiltersAcrossPools(t *testing.T) {
	store := openTestStore(t)

	poolA, err := types.NewPool(types.NewID(), "pool-a", "/var/lib/virtus/pool-a")
	require.NoError(t, err)
	poolB, err := types.NewPool(types.NewID(), "pool-b", "/var/lib/virtus/pool-b")
	require.NoError(t, err)
	require.NoError(t, store.CreatePool(poolA))
	require.NoError(t, store.CreatePool(poolB))

	diskA1, err := types.NewDisk(poolA.ID, "", 10<<30)
	require.NoError(t, err)
	diskA2, err := types.NewDisk(poolA.ID, "", 20<<30)
	require.NoError(t, err)
	diskB1, err := types.NewDisk(poolB.ID, "", 5<<30)
	require.NoError(t, err)
	require.NoError(t, store.CreateDisk(diskA1))
	require.NoError(t, store.CreateDisk(diskA2))
	require.NoError(t, store.CreateDisk(diskB1))

	diskByPoolA, err := store.ListDisksByPool(poolA.ID)
	require.NoError(t, err)
	assert.Len(t, diskByPoolA, 2)

	diskByPoolB, err := store.ListDisksByPool(poolB.ID)
	require.NoError(t, err)
	assert.Len(t, diskByPoolB, 1)
}

func TestCreateVMEnforcesNameUniqueness(t *testing.T) {
	store := openTestStore(t)

	first, err := types.NewVM("web-1", 1, 1<<30, nil, types.NewID(), nil, types.NewID())
	require.NoError(t, err)
	require.NoError(t, store.CreateVM(first))

	second, err := types.NewVM("web-1", 2, 2<<30, nil, types.NewID(), nil, types.NewID())
	require.NoError(t, err)
	err = store.CreateVM(second)
	require.Error(t, err)
	assert.Equal(t, verr.KindPrecondition, verr.KindOf(err))

	// Only the first record landed.
	vms, err := store.ListVMs()
	require.NoError(t, err)
	require.Len(t, vms, 1)
	assert.Equal(t, first.ID, vms[0].ID)

	// Rewriting the same record (same id, same name) is an update, not a
	// collision.
	first.VCPUs = 4
	require.NoError(t, store.UpdateVM(first))

	// A freed name is reusable.
	require.NoError(t, store.DeleteVM(first.ID))
	require.NoError(t, store.CreateVM(second))
}

func TestGetVMByNameNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetVMByName("does-not-exist")
	assert.Error(t, err)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	store := openTestStore(t)

	node, err := types.NewNode(types.NewID(), net.ParseIP("10.0.0.2"), "host-b")
	require.NoError(t, err)
	require.NoError(t, store.CreateNode(node))

	vm, err := types.NewVM("web-1", 2, 2<<30, nil, types.NewID(), nil, node.ID)
	require.NoError(t, err)
	require.NoError(t, store.CreateVM(vm))

	dump, err := store.Snapshot()
	require.NoError(t, err)
	require.Len(t, dump.Nodes, 1)
	require.Len(t, dump.VMs, 1)

	fresh := openTestStore(t)
	require.NoError(t, fresh.Restore(dump))

	gotVM, err := fresh.GetVMByName("web-1")
	require.NoError(t, err)
	assert.Equal(t, vm.ID, gotVM.ID)
}
