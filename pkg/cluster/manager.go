// Package cluster ties Virtus's three state planes together: the Raft
// consensus log, the replicated catalog applied through the FSM, and the
// host-local effectors. A Manager is one node agent; its request handlers
// run on the node that owns the affected resource, perform the side effect
// first, and commit the catalog record only after the side effect
// succeeded.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/virtus/pkg/catalog"
	"github.com/cuemby/virtus/pkg/composer"
	"github.com/cuemby/virtus/pkg/effectorpool"
	"github.com/cuemby/virtus/pkg/metrics"
	"github.com/cuemby/virtus/pkg/storageeffector"
	"github.com/cuemby/virtus/pkg/types"
	"github.com/cuemby/virtus/pkg/verr"
	"github.com/cuemby/virtus/pkg/vlog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// electionTimeout is both the Raft election timeout and the cadence at
// which a starting node polls for an elected leader.
const electionTimeout = 150 * time.Millisecond

// applyTimeout bounds a single Raft commit.
const applyTimeout = 5 * time.Second

// Config holds the settings for one node agent.
type Config struct {
	NodeID       types.ID
	BindAddr     string // Raft TCP transport, host:port
	AdvertiseIP  net.IP
	Hostname     string
	DataDir      string
	WorkerPool   int
}

// Manager is one cluster member: Raft lifecycle, catalog access, and the
// request handlers that drive the host effectors.
type Manager struct {
	cfg    Config
	raft   *raft.Raft
	fsm    *FSM
	store  catalog.Store
	tokens *TokenManager
	eff    Effectors
	pool   *effectorpool.Pool
	logger zerolog.Logger

	// forwardApply relays a command to the leader when this node is a
	// follower; the RPC layer installs it. Every command is raft-applied
	// exactly once, always at the leader.
	forwardApply func(Command) error
}

// NewManager creates a node agent over its data directory and effectors.
func NewManager(cfg Config, eff Effectors) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store, err := catalog.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create catalog store: %w", err)
	}

	if eff.Storage == nil {
		eff.Storage = storageeffector.New()
	}

	return &Manager{
		cfg:    cfg,
		fsm:    NewFSM(store),
		store:  store,
		tokens: NewTokenManager(),
		eff:    eff,
		pool:   effectorpool.New(cfg.WorkerPool),
		logger: vlog.WithNode(cfg.NodeID.String()),
	}, nil
}

// Store exposes the local applied catalog for reads.
func (m *Manager) Store() catalog.Store { return m.store }

// NodeID returns this agent's self-id.
func (m *Manager) NodeID() types.ID { return m.cfg.NodeID }

// Tokens returns the join-token manager.
func (m *Manager) Tokens() *TokenManager { return m.tokens }

func (m *Manager) setupRaft() (*raft.NetworkTransport, error) {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.cfg.NodeID.String())
	config.HeartbeatTimeout = electionTimeout
	config.ElectionTimeout = electionTimeout
	config.LeaderLeaseTimeout = electionTimeout / 2
	config.CommitTimeout = 50 * time.Millisecond
	config.LogOutput = zerologWriter{m.logger}

	addr, err := net.ResolveTCPAddr("tcp", m.cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft: %w", err)
	}

	m.raft = r
	return transport, nil
}

// zerologWriter adapts the Raft library's log output to the node logger.
type zerologWriter struct{ logger zerolog.Logger }

func (w zerologWriter) Write(p []byte) (int, error) {
	w.logger.Debug().Str("component", "raft").Msg(string(p))
	return len(p), nil
}

// Bootstrap initializes a new single-node Raft cluster.
func (m *Manager) Bootstrap() error {
	transport, err := m.setupRaft()
	if err != nil {
		return err
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      raft.ServerID(m.cfg.NodeID.String()),
				Address: transport.LocalAddr(),
			},
		},
	}

	if err := m.raft.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("bootstrap cluster: %w", err)
	}

	m.logger.Info().Str("bind_addr", m.cfg.BindAddr).Msg("cluster bootstrapped")
	return nil
}

// JoinTarget names an existing cluster member a starting node contacts to
// be added as a voter: its RPC address plus the join token the operator
// was issued.
type JoinTarget struct {
	Addr  string
	Token string
}

// StartForJoin brings up Raft without bootstrapping so an existing leader
// can add this node as a voter. The caller is responsible for issuing the
// join RPC through the service surface.
func (m *Manager) StartForJoin() error {
	if _, err := m.setupRaft(); err != nil {
		return err
	}
	m.logger.Info().Str("bind_addr", m.cfg.BindAddr).Msg("raft started, awaiting voter add")
	return nil
}

// AddVoter adds a member to the Raft configuration. Leader only.
func (m *Manager) AddVoter(nodeID types.ID, address string) error {
	if m.raft == nil {
		return verr.Unavailablef("raft not initialized")
	}
	if !m.IsLeader() {
		return verr.Unavailablef("not the leader, current leader at %s", m.LeaderAddr())
	}

	future := m.raft.AddVoter(raft.ServerID(nodeID.String()), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return verr.Externalf(err, "add voter %s", nodeID)
	}

	m.logger.Info().Str("peer_id", nodeID.String()).Str("peer_addr", address).Msg("voter added")
	return nil
}

// RemoveServer removes a member from the Raft configuration. Leader only.
func (m *Manager) RemoveServer(nodeID types.ID) error {
	if m.raft == nil {
		return verr.Unavailablef("raft not initialized")
	}
	if !m.IsLeader() {
		return verr.Unavailablef("not the leader")
	}

	future := m.raft.RemoveServer(raft.ServerID(nodeID.String()), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return verr.Externalf(err, "remove server %s", nodeID)
	}
	return nil
}

// IsLeader reports whether this node currently holds leadership.
func (m *Manager) IsLeader() bool {
	return m.raft != nil && m.raft.State() == raft.Leader
}

// Role returns this node's current election role.
func (m *Manager) Role() Role {
	if m.raft == nil {
		return RoleCandidate
	}
	switch m.raft.State() {
	case raft.Leader:
		return RoleLeader
	case raft.Follower:
		return RoleFollower
	default:
		return RoleCandidate
	}
}

// LeaderAddr returns the Raft address of the current leader, or "" when no
// leader is known.
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	addr, _ := m.raft.LeaderWithID()
	return string(addr)
}

// LeaderID returns the node id of the current leader, or the zero id.
func (m *Manager) LeaderID() types.ID {
	if m.raft == nil {
		return types.ID{}
	}
	_, id := m.raft.LeaderWithID()
	parsed, err := types.ParseID(string(id))
	if err != nil {
		return types.ID{}
	}
	return parsed
}

// WaitForLeader blocks until the consensus layer reports a leader, polling
// at the election-timeout cadence.
func (m *Manager) WaitForLeader(ctx context.Context) error {
	ticker := time.NewTicker(electionTimeout)
	defer ticker.Stop()

	for {
		if m.LeaderAddr() != "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return verr.Wrap(verr.KindUnavailable, "no leader elected", ctx.Err())
		case <-ticker.C:
		}
	}
}

// RaftStats reports log indices and peer count for the metrics collector.
func (m *Manager) RaftStats() (lastIndex, appliedIndex, peers uint64) {
	if m.raft == nil {
		return 0, 0, 0
	}
	lastIndex = m.raft.LastIndex()
	appliedIndex = m.raft.AppliedIndex()
	if future := m.raft.GetConfiguration(); future.Error() == nil {
		peers = uint64(len(future.Configuration().Servers))
	}
	return lastIndex, appliedIndex, peers
}

// EntityCounts reports per-kind catalog sizes for the metrics collector.
func (m *Manager) EntityCounts() map[string]int {
	counts := make(map[string]int, 7)
	if nodes, err := m.store.ListNodes(); err == nil {
		counts["node"] = len(nodes)
	}
	if pools, err := m.store.ListPools(); err == nil {
		counts["pool"] = len(pools)
	}
	if disks, err := m.store.ListDisks(); err == nil {
		counts["disk"] = len(disks)
	}
	if images, err := m.store.ListImages(); err == nil {
		counts["image"] = len(images)
	}
	if networks, err := m.store.ListNetworks(); err == nil {
		counts["network"] = len(networks)
	}
	if ifaces, err := m.store.ListInterfaces(); err == nil {
		counts["interface"] = len(ifaces)
	}
	if vms, err := m.store.ListVMs(); err == nil {
		counts["vm"] = len(vms)
	}
	return counts
}

// SetApplyForwarder installs the relay used to reach the leader's log
// from a follower. Must be called before the node serves requests.
func (m *Manager) SetApplyForwarder(f func(Command) error) {
	m.forwardApply = f
}

// Apply submits one command to the consensus log and waits for majority
// commit. On a follower the command is relayed to the leader, so the log
// append always happens there. Writes fail Unavailable when no leader is
// elected.
func (m *Manager) Apply(cmd Command) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftCommitDuration)

	if m.raft == nil {
		return verr.Unavailablef("raft not initialized")
	}
	if m.LeaderAddr() == "" {
		return verr.Unavailablef("no leader elected")
	}
	if !m.IsLeader() {
		if m.forwardApply == nil {
			return verr.Unavailablef("not the leader and no apply relay installed")
		}
		return m.forwardApply(cmd)
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	future := m.raft.Apply(data, applyTimeout)
	if err := future.Error(); err != nil {
		return verr.Wrap(verr.KindUnavailable, "apply command", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) apply(op string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: op, Data: data})
}

// Shutdown stops Raft and closes the catalog.
func (m *Manager) Shutdown() error {
	m.pool.Stop()
	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			return err
		}
	}
	return m.store.Close()
}

// RegisterSelf writes this agent's Node record to the catalog. This is the
// one operation that commits before any side effect: re-registration after
// restart overwrites the previous record, which is safe because the id is
// stable.
func (m *Manager) RegisterSelf(ctx context.Context) (*types.Node, error) {
	if err := m.WaitForLeader(ctx); err != nil {
		return nil, err
	}

	hostname := m.cfg.Hostname
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, verr.Externalf(err, "resolve hostname")
		}
		hostname = h
	}

	node, err := types.NewNode(m.cfg.NodeID, m.cfg.AdvertiseIP, hostname)
	if err != nil {
		return nil, err
	}

	// On a fresh follower the leader's own record may not have replicated
	// yet, so the relay's catalog lookup can transiently fail. Retry at
	// the election-timeout cadence until the context expires.
	for {
		err = m.apply(opCreateNode, node)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(electionTimeout):
		}
	}

	m.logger.Info().Str("hostname", hostname).Msg("node registered")
	return node, nil
}

// RemoveNode deletes a node record. Its pools must be gone first.
func (m *Manager) RemoveNode(ctx context.Context, id types.ID) error {
	if _, err := m.store.GetNode(id); err != nil {
		return err
	}
	pools, err := m.store.ListPoolsByNode(id)
	if err != nil {
		return err
	}
	if len(pools) > 0 {
		return verr.Preconditionf("node %s still owns %d pools", id, len(pools))
	}
	return m.apply(opDeleteNode, id)
}

// AddPool creates the pool directory on this host and commits the record.
// Must run on the owning node.
func (m *Manager) AddPool(ctx context.Context, nodeID types.ID, name, path string) (*types.Pool, error) {
	if _, err := m.store.GetNode(nodeID); err != nil {
		return nil, err
	}

	pool, err := types.NewPool(nodeID, name, path)
	if err != nil {
		return nil, err
	}

	timer := metrics.NewTimer()
	err = m.pool.Do(ctx, func() error {
		return m.eff.Storage.EnsurePool(ctx, path)
	})
	timer.ObserveDurationVec(metrics.EffectorDuration, "storage", "ensure_pool")
	if err != nil {
		metrics.EffectorFailuresTotal.WithLabelValues("storage", "ensure_pool").Inc()
		return nil, err
	}

	if err := m.apply(opCreatePool, pool); err != nil {
		return nil, err
	}
	return pool, nil
}

// RemovePool deletes a pool record. Deleting a pool with remaining disks
// is refused rather than cascaded.
func (m *Manager) RemovePool(ctx context.Context, id types.ID) error {
	if _, err := m.store.GetPool(id); err != nil {
		return err
	}
	disks, err := m.store.ListDisksByPool(id)
	if err != nil {
		return err
	}
	if len(disks) > 0 {
		return verr.Preconditionf("pool %s still holds %d disks", id, len(disks))
	}
	return m.apply(opDeletePool, id)
}

// AddDisk materializes the backing file in the pool directory on this
// host, then commits the record. Must run on the pool's node.
func (m *Manager) AddDisk(ctx context.Context, poolID types.ID, name string, sizeBytes uint64) (*types.Disk, error) {
	pool, err := m.store.GetPool(poolID)
	if err != nil {
		return nil, err
	}

	disk, err := types.NewDisk(poolID, name, sizeBytes)
	if err != nil {
		return nil, err
	}

	timer := metrics.NewTimer()
	err = m.pool.Do(ctx, func() error {
		_, err := m.eff.Storage.CreateDisk(ctx, pool.Path, disk.ID, sizeBytes)
		return err
	})
	timer.ObserveDurationVec(metrics.EffectorDuration, "storage", "create_disk")
	if err != nil {
		metrics.EffectorFailuresTotal.WithLabelValues("storage", "create_disk").Inc()
		return nil, err
	}

	if err := m.apply(opCreateDisk, disk); err != nil {
		// The record never landed; remove the file so a retry starts clean.
		m.eff.Storage.DeleteDisk(ctx, pool.Path, disk.ID)
		return nil, err
	}
	return disk, nil
}

// RemoveDisk tears down the backing file and deletes the record. Refused
// while a VM references the disk.
func (m *Manager) RemoveDisk(ctx context.Context, id types.ID) error {
	disk, err := m.store.GetDisk(id)
	if err != nil {
		return err
	}
	pool, err := m.store.GetPool(disk.PoolID)
	if err != nil {
		return err
	}

	vms, err := m.store.ListVMs()
	if err != nil {
		return err
	}
	for _, vm := range vms {
		for _, diskID := range vm.DiskIDs {
			if diskID == id {
				return verr.Preconditionf("disk %s is attached to vm %s", id, vm.Name)
			}
		}
	}

	err = m.pool.Do(ctx, func() error {
		return m.eff.Storage.DeleteDisk(ctx, pool.Path, id)
	})
	if err != nil {
		metrics.EffectorFailuresTotal.WithLabelValues("storage", "delete_disk").Inc()
		return err
	}
	return m.apply(opDeleteDisk, id)
}

// AddImage records an image file. The file's readability on hosting nodes
// is not enforced here.
func (m *Manager) AddImage(ctx context.Context, filename string, installer bool) (*types.Image, error) {
	image, err := types.NewImage(filename, installer)
	if err != nil {
		return nil, err
	}
	if err := m.apply(opCreateImage, image); err != nil {
		return nil, err
	}
	return image, nil
}

// RemoveImage deletes an image record. Refused while a VM references it.
func (m *Manager) RemoveImage(ctx context.Context, id types.ID) error {
	if _, err := m.store.GetImage(id); err != nil {
		return err
	}
	vms, err := m.store.ListVMs()
	if err != nil {
		return err
	}
	for _, vm := range vms {
		if vm.ImageID == id {
			return verr.Preconditionf("image %s is referenced by vm %s", id, vm.Name)
		}
	}
	return m.apply(opDeleteImage, id)
}

// AddNetwork commits a network record, creating its dedicated bridge when
// a physical uplink is claimed. At most one network may claim any uplink.
func (m *Manager) AddNetwork(ctx context.Context, name string, vlan uint32, cidr4, uplink string) (*types.Network, error) {
	if uplink != "" {
		networks, err := m.store.ListNetworks()
		if err != nil {
			return nil, err
		}
		for _, n := range networks {
			if n.Uplink == uplink {
				return nil, verr.Topologyf("uplink %s already claimed by network %s", uplink, n.ID)
			}
		}
	}

	network, err := types.NewNetwork(name, vlan, cidr4, uplink)
	if err != nil {
		return nil, err
	}

	if network.HasUplink() && m.eff.Switch != nil {
		timer := metrics.NewTimer()
		err = m.pool.Do(ctx, func() error {
			return m.eff.Switch.EnsureBridge(network.BridgeName)
		})
		timer.ObserveDurationVec(metrics.EffectorDuration, "switch", "ensure_bridge")
		if err != nil {
			metrics.EffectorFailuresTotal.WithLabelValues("switch", "ensure_bridge").Inc()
			return nil, err
		}
	}

	if err := m.apply(opCreateNetwork, network); err != nil {
		return nil, err
	}
	return network, nil
}

// RemoveNetwork cascades to the network's interfaces, then deletes the
// record and its dedicated bridge.
func (m *Manager) RemoveNetwork(ctx context.Context, id types.ID) error {
	network, err := m.store.GetNetwork(id)
	if err != nil {
		return err
	}

	ifaces, err := m.store.ListInterfacesByNetwork(id)
	if err != nil {
		return err
	}
	for _, iface := range ifaces {
		if err := m.removeInterface(ctx, network, iface); err != nil {
			return err
		}
	}

	if network.HasUplink() && m.eff.Switch != nil {
		err = m.pool.Do(ctx, func() error {
			return m.eff.Switch.DeleteBridge(network.BridgeName)
		})
		if err != nil {
			metrics.EffectorFailuresTotal.WithLabelValues("switch", "delete_bridge").Inc()
			return err
		}
	}

	return m.apply(opDeleteNetwork, id)
}

// AddInterface creates an internal switch port on the network's bridge,
// tagged with the network's vlan, then commits the record.
func (m *Manager) AddInterface(ctx context.Context, networkID types.ID, mac string) (*types.Interface, error) {
	network, err := m.store.GetNetwork(networkID)
	if err != nil {
		return nil, err
	}

	iface, err := types.NewInterface(networkID, mac)
	if err != nil {
		return nil, err
	}

	if m.eff.Switch != nil {
		timer := metrics.NewTimer()
		err = m.pool.Do(ctx, func() error {
			return m.eff.Switch.CreatePort(network.BridgeName, iface.LinkName, network.VlanTag)
		})
		timer.ObserveDurationVec(metrics.EffectorDuration, "switch", "create_port")
		if err != nil {
			metrics.EffectorFailuresTotal.WithLabelValues("switch", "create_port").Inc()
			return nil, err
		}
	}

	if err := m.apply(opCreateInterface, iface); err != nil {
		return nil, err
	}
	return iface, nil
}

// RemoveInterface tears down the switch port and deletes the record.
func (m *Manager) RemoveInterface(ctx context.Context, id types.ID) error {
	iface, err := m.store.GetInterface(id)
	if err != nil {
		return err
	}
	network, err := m.store.GetNetwork(iface.NetworkID)
	if err != nil {
		return err
	}
	return m.removeInterface(ctx, network, iface)
}

func (m *Manager) removeInterface(ctx context.Context, network *types.Network, iface *types.Interface) error {
	if m.eff.Switch != nil {
		err := m.pool.Do(ctx, func() error {
			return m.eff.Switch.DeletePort(network.BridgeName, iface.LinkName)
		})
		if err != nil {
			metrics.EffectorFailuresTotal.WithLabelValues("switch", "delete_port").Inc()
			return err
		}
	}
	return m.apply(opDeleteInterface, iface.ID)
}

// AddVM validates every reference, composes the domain XML, defines the
// domain on this host's hypervisor, then commits the record with its
// interfaces marked attached. Must run on the VM's node.
func (m *Manager) AddVM(ctx context.Context, name string, vcpus uint32, memoryBytes uint64, diskIDs []types.ID, imageID types.ID, ifaceIDs []types.ID) (*types.VM, error) {
	// Fast-path collision check against the local applied state. Two
	// concurrent adds on different nodes can both pass it; the catalog
	// store re-validates the name inside the write transaction when the
	// committed command applies, which is the authoritative check.
	if existing, err := m.store.GetVMByName(name); err == nil && existing != nil {
		return nil, verr.Preconditionf("vm name %q already in use by %s", name, existing.ID)
	}

	vm, err := types.NewVM(name, vcpus, memoryBytes, diskIDs, imageID, ifaceIDs, m.cfg.NodeID)
	if err != nil {
		return nil, err
	}

	disks, links, image, err := m.resolveVMReferences(vm)
	if err != nil {
		return nil, err
	}

	xml, err := composer.Compose(vm, disks, image, links)
	if err != nil {
		return nil, err
	}

	if m.eff.Hypervisor != nil {
		timer := metrics.NewTimer()
		err = m.pool.Do(ctx, func() error {
			return m.eff.Hypervisor.Define(xml)
		})
		timer.ObserveDurationVec(metrics.EffectorDuration, "hypervisor", "define")
		if err != nil {
			metrics.EffectorFailuresTotal.WithLabelValues("hypervisor", "define").Inc()
			return nil, err
		}
	}

	vm.State = types.StateStopped
	if err := m.apply(opCreateVM, vm); err != nil {
		if m.eff.Hypervisor != nil {
			m.eff.Hypervisor.Undefine(vm.ID)
		}
		return nil, err
	}

	// Mark the interfaces attached. The VM record is already committed;
	// attachment is recoverable by re-running the update.
	for _, ifaceID := range ifaceIDs {
		iface, err := m.store.GetInterface(ifaceID)
		if err != nil {
			return nil, err
		}
		vmID := vm.ID
		iface.VMID = &vmID
		if err := m.apply(opUpdateInterface, iface); err != nil {
			return nil, err
		}
	}

	return vm, nil
}

// resolveVMReferences validates and loads everything the composer needs:
// disk backing paths, the image, and per-interface host links. The image
// is re-resolved on every call rather than cached.
func (m *Manager) resolveVMReferences(vm *types.VM) ([]composer.DiskSource, []composer.Link, *types.Image, error) {
	disks := make([]composer.DiskSource, 0, len(vm.DiskIDs))
	for _, diskID := range vm.DiskIDs {
		disk, err := m.store.GetDisk(diskID)
		if err != nil {
			return nil, nil, nil, err
		}
		pool, err := m.store.GetPool(disk.PoolID)
		if err != nil {
			return nil, nil, nil, err
		}
		disks = append(disks, composer.DiskSource{
			Disk: disk,
			Path: storageeffector.DiskPath(pool.Path, disk.ID),
		})
	}

	image, err := m.store.GetImage(vm.ImageID)
	if err != nil {
		return nil, nil, nil, err
	}

	links := make([]composer.Link, 0, len(vm.InterfaceIDs))
	for _, ifaceID := range vm.InterfaceIDs {
		iface, err := m.store.GetInterface(ifaceID)
		if err != nil {
			return nil, nil, nil, err
		}
		if iface.VMID != nil && *iface.VMID != vm.ID {
			return nil, nil, nil, verr.Preconditionf("interface %s already attached to vm %s", ifaceID, *iface.VMID)
		}
		links = append(links, composer.Link{Dev: iface.LinkName, MAC: iface.MAC})
	}

	return disks, links, image, nil
}

// RemoveVM tears the domain down, cascades to the VM's private interfaces
// and its disks, then deletes the record. Must run on the VM's node.
func (m *Manager) RemoveVM(ctx context.Context, id types.ID) error {
	vm, err := m.store.GetVM(id)
	if err != nil {
		return err
	}

	if m.eff.Hypervisor != nil {
		timer := metrics.NewTimer()
		err = m.pool.Do(ctx, func() error {
			return m.eff.Hypervisor.Undefine(id)
		})
		timer.ObserveDurationVec(metrics.EffectorDuration, "hypervisor", "undefine")
		if err != nil {
			metrics.EffectorFailuresTotal.WithLabelValues("hypervisor", "undefine").Inc()
			return err
		}
	}

	for _, ifaceID := range vm.InterfaceIDs {
		iface, err := m.store.GetInterface(ifaceID)
		if err != nil {
			continue // already gone
		}
		if !iface.Private() {
			continue
		}
		network, err := m.store.GetNetwork(iface.NetworkID)
		if err != nil {
			return err
		}
		if err := m.removeInterface(ctx, network, iface); err != nil {
			return err
		}
	}

	for _, diskID := range vm.DiskIDs {
		disk, err := m.store.GetDisk(diskID)
		if err != nil {
			continue // already gone
		}
		pool, err := m.store.GetPool(disk.PoolID)
		if err != nil {
			return err
		}
		err = m.pool.Do(ctx, func() error {
			return m.eff.Storage.DeleteDisk(ctx, pool.Path, diskID)
		})
		if err != nil {
			return err
		}
		if err := m.apply(opDeleteDisk, diskID); err != nil {
			return err
		}
	}

	return m.apply(opDeleteVM, id)
}

// StartVM drives the VM toward Running on this host. The true hypervisor
// state is re-resolved first; the catalog's cached state is never trusted.
func (m *Manager) StartVM(ctx context.Context, id types.ID) error {
	vm, err := m.store.GetVM(id)
	if err != nil {
		return err
	}
	// The image must still resolve; a VM whose image record is gone does
	// not start.
	if _, err := m.store.GetImage(vm.ImageID); err != nil {
		return err
	}

	if m.eff.Hypervisor == nil {
		return verr.Unavailablef("hypervisor not configured")
	}

	timer := metrics.NewTimer()
	err = m.pool.Do(ctx, func() error {
		return m.eff.Hypervisor.Start(id)
	})
	timer.ObserveDurationVec(metrics.EffectorDuration, "hypervisor", "start")
	if err != nil {
		metrics.EffectorFailuresTotal.WithLabelValues("hypervisor", "start").Inc()
		return err
	}

	vm.State = types.StateRunning
	return m.apply(opUpdateVM, vm)
}

// StopVM force-stops the VM's domain on this host.
func (m *Manager) StopVM(ctx context.Context, id types.ID) error {
	vm, err := m.store.GetVM(id)
	if err != nil {
		return err
	}

	if m.eff.Hypervisor == nil {
		return verr.Unavailablef("hypervisor not configured")
	}

	err = m.pool.Do(ctx, func() error {
		return m.eff.Hypervisor.Stop(id)
	})
	if err != nil {
		metrics.EffectorFailuresTotal.WithLabelValues("hypervisor", "stop").Inc()
		return err
	}

	vm.State = types.StateStopped
	return m.apply(opUpdateVM, vm)
}

// HomeOfPool resolves the node owning a pool's side effects.
func (m *Manager) HomeOfPool(poolID types.ID) (types.ID, error) {
	pool, err := m.store.GetPool(poolID)
	if err != nil {
		return types.ID{}, err
	}
	return pool.NodeID, nil
}

// HomeOfDisk resolves the node owning a disk's side effects.
func (m *Manager) HomeOfDisk(diskID types.ID) (types.ID, error) {
	disk, err := m.store.GetDisk(diskID)
	if err != nil {
		return types.ID{}, err
	}
	return m.HomeOfPool(disk.PoolID)
}

// HomeOfVM resolves the node owning a VM's side effects.
func (m *Manager) HomeOfVM(vmID types.ID) (types.ID, error) {
	vm, err := m.store.GetVM(vmID)
	if err != nil {
		return types.ID{}, err
	}
	return vm.NodeID, nil
}
