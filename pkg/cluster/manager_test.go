package cluster

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/virtus/pkg/types"
	"github.com/cuemby/virtus/pkg/verr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStorage mimics the storage effector against the real filesystem but
// without shelling out to qemu-img.
type fakeStorage struct{}

func (fakeStorage) EnsurePool(ctx context.Context, path string) error {
	return os.MkdirAll(path, 0755)
}

func (fakeStorage) CreateDisk(ctx context.Context, poolPath string, diskID types.ID, sizeBytes uint64) (string, error) {
	path := filepath.Join(poolPath, diskID.String()+".qcow2")
	return path, os.WriteFile(path, []byte{}, 0644)
}

func (fakeStorage) DeleteDisk(ctx context.Context, poolPath string, diskID types.ID) error {
	err := os.Remove(filepath.Join(poolPath, diskID.String()+".qcow2"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// fakeHypervisor tracks defined domains in memory.
type fakeHypervisor struct {
	defined map[types.ID]types.LifecycleState
}

func newFakeHypervisor() *fakeHypervisor {
	return &fakeHypervisor{defined: make(map[types.ID]types.LifecycleState)}
}

func (f *fakeHypervisor) Define(xml []byte) error { return nil }

func (f *fakeHypervisor) Start(id types.ID) error {
	f.defined[id] = types.StateRunning
	return nil
}

func (f *fakeHypervisor) Stop(id types.ID) error {
	f.defined[id] = types.StateStopped
	return nil
}

func (f *fakeHypervisor) Undefine(id types.ID) error {
	delete(f.defined, id)
	return nil
}

func (f *fakeHypervisor) State(id types.ID) (types.LifecycleState, error) {
	state, ok := f.defined[id]
	if !ok {
		return types.StateUndefined, nil
	}
	return state, nil
}

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()
	return addr
}

// bootstrapManager brings up a single-node cluster and registers the node.
func bootstrapManager(t *testing.T) *Manager {
	t.Helper()

	m, err := NewManager(Config{
		NodeID:      types.NewID(),
		BindAddr:    freePort(t),
		AdvertiseIP: net.ParseIP("127.0.0.1"),
		Hostname:    "test-node",
		DataDir:     t.TempDir(),
	}, Effectors{
		Storage:    fakeStorage{},
		Hypervisor: newFakeHypervisor(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Shutdown() })

	require.NoError(t, m.Bootstrap())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = m.RegisterSelf(ctx)
	require.NoError(t, err)

	return m
}

func TestSingleNodeStartup(t *testing.T) {
	m := bootstrapManager(t)

	nodes, err := m.Store().ListNodes()
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, m.NodeID(), nodes[0].ID)
	assert.True(t, m.IsLeader())
}

func TestAddPoolCreatesDirectory(t *testing.T) {
	m := bootstrapManager(t)
	dir := filepath.Join(t.TempDir(), "p1")

	pool, err := m.AddPool(context.Background(), m.NodeID(), "p1", dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	pools, err := m.Store().ListPools()
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, pool.ID, pools[0].ID)
	assert.Equal(t, m.NodeID(), pools[0].NodeID)
}

func TestAddDiskCreatesBackingFile(t *testing.T) {
	m := bootstrapManager(t)
	dir := filepath.Join(t.TempDir(), "p1")

	pool, err := m.AddPool(context.Background(), m.NodeID(), "p1", dir)
	require.NoError(t, err)

	disk, err := m.AddDisk(context.Background(), pool.ID, "test_disk", 1<<30)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, disk.ID.String()+".qcow2"))
	require.NoError(t, err)

	disks, err := m.Store().ListDisksByPool(pool.ID)
	require.NoError(t, err)
	require.Len(t, disks, 1)
}

func TestRemovePoolWithDisksRefused(t *testing.T) {
	m := bootstrapManager(t)
	dir := filepath.Join(t.TempDir(), "p1")

	pool, err := m.AddPool(context.Background(), m.NodeID(), "p1", dir)
	require.NoError(t, err)
	disk, err := m.AddDisk(context.Background(), pool.ID, "d1", 1<<30)
	require.NoError(t, err)

	err = m.RemovePool(context.Background(), pool.ID)
	require.Error(t, err)
	assert.Equal(t, verr.KindPrecondition, verr.KindOf(err))

	require.NoError(t, m.RemoveDisk(context.Background(), disk.ID))
	require.NoError(t, m.RemovePool(context.Background(), pool.ID))
}

func addTestVM(t *testing.T, m *Manager, name string) *types.VM {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "pool")

	pool, err := m.AddPool(context.Background(), m.NodeID(), "", dir)
	require.NoError(t, err)
	disk, err := m.AddDisk(context.Background(), pool.ID, "", 1<<30)
	require.NoError(t, err)
	image, err := m.AddImage(context.Background(), "/var/lib/virtus/images/debian.iso", true)
	require.NoError(t, err)

	vm, err := m.AddVM(context.Background(), name, 2, 1<<30, []types.ID{disk.ID}, image.ID, nil)
	require.NoError(t, err)
	return vm
}

func TestVMNameCollision(t *testing.T) {
	m := bootstrapManager(t)
	addTestVM(t, m, "vm1")

	image, err := m.AddImage(context.Background(), "/var/lib/virtus/images/other.iso", false)
	require.NoError(t, err)

	_, err = m.AddVM(context.Background(), "vm1", 1, 1<<30, nil, image.ID, nil)
	require.Error(t, err)
	assert.Equal(t, verr.KindPrecondition, verr.KindOf(err))

	// No second record landed.
	vms, listErr := m.Store().ListVMs()
	require.NoError(t, listErr)
	assert.Len(t, vms, 1)
}

// Two adds with the same name can both pass their local pre-checks when
// issued concurrently on different nodes. Applying the resulting commands
// directly simulates that interleaving: the second committed entry must be
// rejected at log application, leaving exactly one record.
func TestVMNameCollisionRacesToTheLog(t *testing.T) {
	m := bootstrapManager(t)

	apply := func(vm *types.VM) error {
		data, err := json.Marshal(vm)
		require.NoError(t, err)
		return m.Apply(Command{Op: opCreateVM, Data: data})
	}

	first, err := types.NewVM("vm1", 1, 1<<30, nil, types.NewID(), nil, m.NodeID())
	require.NoError(t, err)
	second, err := types.NewVM("vm1", 1, 1<<30, nil, types.NewID(), nil, m.NodeID())
	require.NoError(t, err)

	require.NoError(t, apply(first))
	err = apply(second)
	require.Error(t, err)
	assert.Equal(t, verr.KindPrecondition, verr.KindOf(err))

	vms, err := m.Store().ListVMs()
	require.NoError(t, err)
	require.Len(t, vms, 1)
	assert.Equal(t, first.ID, vms[0].ID)
}

func TestRemoveVMCascadesDisks(t *testing.T) {
	m := bootstrapManager(t)
	vm := addTestVM(t, m, "vm1")

	require.NoError(t, m.RemoveVM(context.Background(), vm.ID))

	vms, err := m.Store().ListVMs()
	require.NoError(t, err)
	assert.Empty(t, vms)

	disks, err := m.Store().ListDisks()
	require.NoError(t, err)
	assert.Empty(t, disks)
}

func TestStartStopVM(t *testing.T) {
	m := bootstrapManager(t)
	vm := addTestVM(t, m, "vm1")

	require.NoError(t, m.StartVM(context.Background(), vm.ID))
	got, err := m.Store().GetVM(vm.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateRunning, got.State)

	require.NoError(t, m.StopVM(context.Background(), vm.ID))
	got, err = m.Store().GetVM(vm.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateStopped, got.State)
}

func TestTwoNodeCluster(t *testing.T) {
	if testing.Short() {
		t.Skip("raft cluster test")
	}

	leader := bootstrapManager(t)

	followerAddr := freePort(t)
	follower, err := NewManager(Config{
		NodeID:      types.NewID(),
		BindAddr:    followerAddr,
		AdvertiseIP: net.ParseIP("127.0.0.1"),
		Hostname:    "follower",
		DataDir:     t.TempDir(),
	}, Effectors{
		Storage:    fakeStorage{},
		Hypervisor: newFakeHypervisor(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { follower.Shutdown() })

	require.NoError(t, follower.StartForJoin())
	require.NoError(t, leader.AddVoter(follower.NodeID(), followerAddr))

	// The follower relays its catalog commands to the leader, as the RPC
	// layer does in production.
	follower.SetApplyForwarder(func(cmd Command) error {
		return leader.Apply(cmd)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, follower.WaitForLeader(ctx))
	_, err = follower.RegisterSelf(ctx)
	require.NoError(t, err)

	waitFor := func(m *Manager, want int) {
		deadline := time.Now().Add(5 * time.Second)
		for {
			nodes, err := m.Store().ListNodes()
			require.NoError(t, err)
			if len(nodes) == want {
				return
			}
			require.True(t, time.Now().Before(deadline), "catalog never converged to %d nodes", want)
			time.Sleep(50 * time.Millisecond)
		}
	}
	waitFor(leader, 2)
	waitFor(follower, 2)

	// Pool and disk created through the follower land on the follower's
	// host and replicate to the leader's catalog.
	dir := filepath.Join(t.TempDir(), "follower_pool")
	pool, err := follower.AddPool(context.Background(), follower.NodeID(), "", dir)
	require.NoError(t, err)

	_, statErr := os.Stat(dir)
	require.NoError(t, statErr)

	// The disk lookup reads the follower's applied state, which may lag
	// the leader's commit briefly.
	poolDeadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := follower.Store().GetPool(pool.ID); err == nil {
			break
		}
		require.True(t, time.Now().Before(poolDeadline), "pool never replicated to the follower")
		time.Sleep(50 * time.Millisecond)
	}

	disk, err := follower.AddDisk(context.Background(), pool.ID, "test_disk", 1<<30)
	require.NoError(t, err)
	_, statErr = os.Stat(filepath.Join(dir, disk.ID.String()+".qcow2"))
	require.NoError(t, statErr)

	deadline := time.Now().Add(5 * time.Second)
	for {
		pools, err := leader.Store().ListPools()
		require.NoError(t, err)
		disks, err := leader.Store().ListDisks()
		require.NoError(t, err)
		if len(pools) == 1 && len(disks) == 1 {
			assert.Equal(t, follower.NodeID(), pools[0].NodeID)
			break
		}
		require.True(t, time.Now().Before(deadline), "pool and disk never replicated to the leader")
		time.Sleep(50 * time.Millisecond)
	}
}

func TestUplinkUniqueness(t *testing.T) {
	m := bootstrapManager(t)

	_, err := m.AddNetwork(context.Background(), "n1", 0, "", "eth0")
	require.NoError(t, err)

	_, err = m.AddNetwork(context.Background(), "n2", 0, "", "eth0")
	require.Error(t, err)
	assert.Equal(t, verr.KindTopology, verr.KindOf(err))
}
