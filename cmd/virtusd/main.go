package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/virtus/pkg/cluster"
	"github.com/cuemby/virtus/pkg/hypervisor"
	"github.com/cuemby/virtus/pkg/metrics"
	"github.com/cuemby/virtus/pkg/rpcapi"
	"github.com/cuemby/virtus/pkg/switcheffector"
	"github.com/cuemby/virtus/pkg/types"
	"github.com/cuemby/virtus/pkg/vlog"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	defaultControlPort = 9400
	defaultDataDir     = "/var/lib/virtus"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "virtusd",
	Short: "Virtus - clustered control plane for virtual machines",
	Long: `Virtus manages virtual machines across a pool of physical hosts.
Each host runs an identical node agent; agents form a Raft cluster that
agrees on a single catalog of nodes, storage pools, disks, networks and
VMs. Requests may be submitted to any node and are routed to the node
that owns the affected resource.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Virtus version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("server", fmt.Sprintf("127.0.0.1:%d", defaultControlPort+1), "Address of the node API to talk to")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(diskCmd)
	rootCmd.AddCommand(imageCmd)
	rootCmd.AddCommand(networkCmd)
	rootCmd.AddCommand(interfaceCmd)
	rootCmd.AddCommand(vmCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	vlog.Init(vlog.Config{
		Level:      vlog.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// apiClient dials the node named by --server.
func apiClient(cmd *cobra.Command) (*rpcapi.Client, error) {
	addr, _ := cmd.Flags().GetString("server")
	return rpcapi.NewClient(addr)
}

func parseIDArg(arg, kind string) (types.ID, error) {
	id, err := types.ParseID(arg)
	if err != nil {
		return types.ID{}, fmt.Errorf("invalid %s id %q", kind, arg)
	}
	return id, nil
}

// loadNodeID reads (or creates) the stable node identity under dataDir.
// The id must survive restarts: it is the Raft server id and the Node
// record's key.
func loadNodeID(dataDir string) (types.ID, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return types.ID{}, err
	}

	idPath := filepath.Join(dataDir, "node-id")
	data, err := os.ReadFile(idPath)
	if err == nil {
		return types.ParseID(strings.TrimSpace(string(data)))
	}
	if !os.IsNotExist(err) {
		return types.ID{}, err
	}

	id := types.NewID()
	if err := os.WriteFile(idPath, []byte(id.String()+"\n"), 0600); err != nil {
		return types.ID{}, err
	}
	return id, nil
}

// Cluster commands

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage the Virtus cluster",
}

func addNodeFlags(cmd *cobra.Command) {
	cmd.Flags().String("bind", "127.0.0.1", "IPv4 address to bind the control port on")
	cmd.Flags().Int("port", defaultControlPort, "Control port (Raft transport; the API serves on port+1)")
	cmd.Flags().String("data-dir", defaultDataDir, "Directory for Raft state and the catalog")
	cmd.Flags().String("hostname", "", "Hostname to register (defaults to the OS hostname)")
	cmd.Flags().String("hypervisor-uri", hypervisor.DefaultURI, "Hypervisor connection URI")
	cmd.Flags().String("switch-socket", switcheffector.DefaultSocket, "Switch database socket path")
	cmd.Flags().String("metrics-addr", "", "Address to serve Prometheus metrics on (empty disables)")
	cmd.Flags().Int("workers", 0, "Effector worker pool size (0 = default)")
}

var clusterBootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Initialize a new single-node cluster",
	Long: `Initialize a new Virtus cluster with this node as the first member.
Additional nodes join with 'virtusd cluster join' using a token issued by
'virtusd cluster token'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(cmd, "", "")
	},
}

var clusterJoinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join an existing cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		peer, _ := cmd.Flags().GetString("peer")
		token, _ := cmd.Flags().GetString("token")
		if peer == "" || token == "" {
			return fmt.Errorf("--peer and --token are required")
		}
		return runNode(cmd, peer, token)
	},
}

var clusterTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a join token",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		ttl, _ := cmd.Flags().GetInt64("ttl")
		resp, err := client.CreateJoinToken(context.Background(), &rpcapi.CreateJoinTokenRequest{TTLSeconds: ttl})
		if err != nil {
			return err
		}
		fmt.Println(resp.Token)
		return nil
	},
}

func init() {
	addNodeFlags(clusterBootstrapCmd)
	addNodeFlags(clusterJoinCmd)
	clusterJoinCmd.Flags().String("peer", "", "API address of an existing cluster member")
	clusterJoinCmd.Flags().String("token", "", "Join token issued by the cluster")
	clusterTokenCmd.Flags().Int64("ttl", 3600, "Token lifetime in seconds")

	clusterCmd.AddCommand(clusterBootstrapCmd)
	clusterCmd.AddCommand(clusterJoinCmd)
	clusterCmd.AddCommand(clusterTokenCmd)
}

// runNode brings the node agent up, either bootstrapping a new cluster or
// joining through peer, and serves until interrupted.
func runNode(cmd *cobra.Command, joinPeer, joinToken string) error {
	bind, _ := cmd.Flags().GetString("bind")
	port, _ := cmd.Flags().GetInt("port")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	hostname, _ := cmd.Flags().GetString("hostname")
	hvURI, _ := cmd.Flags().GetString("hypervisor-uri")
	swSocket, _ := cmd.Flags().GetString("switch-socket")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	workers, _ := cmd.Flags().GetInt("workers")

	ip := net.ParseIP(bind)
	if ip == nil {
		return fmt.Errorf("invalid bind address %q", bind)
	}

	nodeID, err := loadNodeID(dataDir)
	if err != nil {
		return fmt.Errorf("load node id: %w", err)
	}

	logger := vlog.WithNode(nodeID.String())

	var eff cluster.Effectors
	if hv, err := hypervisor.Connect(hvURI); err != nil {
		logger.Warn().Err(err).Str("uri", hvURI).Msg("hypervisor unavailable, vm operations disabled")
	} else {
		eff.Hypervisor = hv
	}
	if sw, err := switcheffector.Dial(swSocket); err != nil {
		logger.Warn().Err(err).Str("socket", swSocket).Msg("switch unavailable, network operations degraded")
	} else {
		eff.Switch = sw
		defer sw.Close()
	}

	mgr, err := cluster.NewManager(cluster.Config{
		NodeID:      nodeID,
		BindAddr:    fmt.Sprintf("%s:%d", bind, port),
		AdvertiseIP: ip,
		Hostname:    hostname,
		DataDir:     dataDir,
		WorkerPool:  workers,
	}, eff)
	if err != nil {
		return err
	}

	grpcPort := port + 1
	server := rpcapi.NewServer(mgr, grpcPort)

	if joinPeer == "" {
		if err := mgr.Bootstrap(); err != nil {
			return err
		}
	} else {
		if err := mgr.StartForJoin(); err != nil {
			return err
		}
		client, err := rpcapi.NewClient(joinPeer)
		if err != nil {
			return err
		}
		_, err = client.JoinCluster(context.Background(), &rpcapi.JoinClusterRequest{
			NodeID:   nodeID,
			RaftAddr: fmt.Sprintf("%s:%d", bind, port),
			Token:    joinToken,
		})
		client.Close()
		if err != nil {
			return fmt.Errorf("join cluster via %s: %w", joinPeer, err)
		}
		logger.Info().Str("peer", joinPeer).Msg("joined cluster")
	}

	// Registration waits for an elected leader before writing the Node
	// record.
	regCtx, regCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := mgr.RegisterSelf(regCtx); err != nil {
		regCancel()
		return fmt.Errorf("register node: %w", err)
	}
	regCancel()

	collector := metrics.NewCollector(mgr)
	collector.Start()
	defer collector.Stop()

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(fmt.Sprintf("%s:%d", bind, grpcPort))
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		mgr.Shutdown()
		return err
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		server.Stop()
		return mgr.Shutdown()
	}
}

// Node commands

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Inspect cluster members",
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List node ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.ListNodes(context.Background())
		if err != nil {
			return err
		}
		for _, id := range resp.IDs {
			fmt.Println(id)
		}
		return nil
	},
}

var nodeGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIDArg(args[0], "node")
		if err != nil {
			return err
		}
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.GetNode(context.Background(), id)
		if err != nil {
			return err
		}
		if resp.Node == nil {
			return fmt.Errorf("node %s not found", id)
		}
		fmt.Printf("ID:       %s\nAddress:  %s\nHostname: %s\n", resp.Node.ID, resp.Node.Address, resp.Node.Hostname)
		return nil
	},
}

var nodeRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a node record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIDArg(args[0], "node")
		if err != nil {
			return err
		}
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		_, err = client.RemoveNode(context.Background(), &rpcapi.RemoveNodeRequest{ID: id})
		return err
	},
}

func init() {
	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.AddCommand(nodeGetCmd)
	nodeCmd.AddCommand(nodeRemoveCmd)
}

// Pool commands

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Manage storage pools",
}

var poolAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a storage pool on a node",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeArg, _ := cmd.Flags().GetString("node")
		name, _ := cmd.Flags().GetString("name")
		path, _ := cmd.Flags().GetString("path")

		nodeID, err := parseIDArg(nodeArg, "node")
		if err != nil {
			return err
		}

		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.AddPool(context.Background(), &rpcapi.AddPoolRequest{
			NodeID: nodeID,
			Name:   name,
			Path:   path,
		})
		if err != nil {
			return err
		}
		fmt.Println(resp.ID)
		return nil
	},
}

var poolRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an empty storage pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIDArg(args[0], "pool")
		if err != nil {
			return err
		}
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		_, err = client.RemovePool(context.Background(), &rpcapi.RemovePoolRequest{ID: id})
		return err
	},
}

var poolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pool ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.ListPools(context.Background())
		if err != nil {
			return err
		}
		for _, id := range resp.IDs {
			fmt.Println(id)
		}
		return nil
	},
}

var poolGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIDArg(args[0], "pool")
		if err != nil {
			return err
		}
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.GetPool(context.Background(), id)
		if err != nil {
			return err
		}
		if resp.Pool == nil {
			return fmt.Errorf("pool %s not found", id)
		}
		fmt.Printf("ID:   %s\nNode: %s\nName: %s\nPath: %s\n", resp.Pool.ID, resp.Pool.NodeID, resp.Pool.Name, resp.Pool.Path)
		return nil
	},
}

func init() {
	poolAddCmd.Flags().String("node", "", "Owning node id (required)")
	poolAddCmd.Flags().String("name", "", "Optional pool name")
	poolAddCmd.Flags().String("path", "", "Directory path on the owning node (required)")
	poolAddCmd.MarkFlagRequired("node")
	poolAddCmd.MarkFlagRequired("path")

	poolCmd.AddCommand(poolAddCmd)
	poolCmd.AddCommand(poolRemoveCmd)
	poolCmd.AddCommand(poolListCmd)
	poolCmd.AddCommand(poolGetCmd)
}

// Disk commands

var diskCmd = &cobra.Command{
	Use:   "disk",
	Short: "Manage virtual disks",
}

var diskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a disk inside a pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		poolArg, _ := cmd.Flags().GetString("pool")
		name, _ := cmd.Flags().GetString("name")
		sizeGB, _ := cmd.Flags().GetUint64("size-gb")

		poolID, err := parseIDArg(poolArg, "pool")
		if err != nil {
			return err
		}

		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.AddDisk(context.Background(), &rpcapi.AddDiskRequest{
			PoolID:    poolID,
			Name:      name,
			SizeBytes: sizeGB << 30,
		})
		if err != nil {
			return err
		}
		fmt.Println(resp.ID)
		return nil
	},
}

var diskRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a disk and its backing file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIDArg(args[0], "disk")
		if err != nil {
			return err
		}
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		_, err = client.RemoveDisk(context.Background(), &rpcapi.RemoveDiskRequest{ID: id})
		return err
	},
}

var diskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List disk ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.ListDisks(context.Background())
		if err != nil {
			return err
		}
		for _, id := range resp.IDs {
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	diskAddCmd.Flags().String("pool", "", "Owning pool id (required)")
	diskAddCmd.Flags().String("name", "", "Optional disk name")
	diskAddCmd.Flags().Uint64("size-gb", 1, "Logical size in GiB")
	diskAddCmd.MarkFlagRequired("pool")

	diskCmd.AddCommand(diskAddCmd)
	diskCmd.AddCommand(diskRemoveCmd)
	diskCmd.AddCommand(diskListCmd)
}

// Image commands

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Manage disk images",
}

var imageAddCmd = &cobra.Command{
	Use:   "add <filename>",
	Short: "Register an image file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		installer, _ := cmd.Flags().GetBool("installer")

		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.AddImage(context.Background(), &rpcapi.AddImageRequest{
			Filename:  args[0],
			Installer: installer,
		})
		if err != nil {
			return err
		}
		fmt.Println(resp.ID)
		return nil
	},
}

var imageRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an image record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIDArg(args[0], "image")
		if err != nil {
			return err
		}
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		_, err = client.RemoveImage(context.Background(), &rpcapi.RemoveImageRequest{ID: id})
		return err
	},
}

var imageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List image ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.ListImages(context.Background())
		if err != nil {
			return err
		}
		for _, id := range resp.IDs {
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	imageAddCmd.Flags().Bool("installer", false, "Image is an installer (boots first as a cdrom)")

	imageCmd.AddCommand(imageAddCmd)
	imageCmd.AddCommand(imageRemoveCmd)
	imageCmd.AddCommand(imageListCmd)
}

// Network commands

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Manage networks",
}

var networkAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a network",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		vlan, _ := cmd.Flags().GetUint32("vlan")
		cidr, _ := cmd.Flags().GetString("cidr")
		uplink, _ := cmd.Flags().GetString("uplink")

		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.AddNetwork(context.Background(), &rpcapi.AddNetworkRequest{
			Name:    name,
			VlanTag: vlan,
			CIDR4:   cidr,
			Uplink:  uplink,
		})
		if err != nil {
			return err
		}
		fmt.Println(resp.ID)
		return nil
	},
}

var networkRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a network and its interfaces",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIDArg(args[0], "network")
		if err != nil {
			return err
		}
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		_, err = client.RemoveNetwork(context.Background(), &rpcapi.RemoveNetworkRequest{ID: id})
		return err
	},
}

var networkListCmd = &cobra.Command{
	Use:   "list",
	Short: "List network ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.ListNetworks(context.Background())
		if err != nil {
			return err
		}
		for _, id := range resp.IDs {
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	networkAddCmd.Flags().String("name", "", "Optional network name")
	networkAddCmd.Flags().Uint32("vlan", 0, "Vlan tag (0 = untagged)")
	networkAddCmd.Flags().String("cidr", "", "Optional IPv4 CIDR")
	networkAddCmd.Flags().String("uplink", "", "Optional physical uplink device")

	networkCmd.AddCommand(networkAddCmd)
	networkCmd.AddCommand(networkRemoveCmd)
	networkCmd.AddCommand(networkListCmd)
}

// Interface commands

var interfaceCmd = &cobra.Command{
	Use:   "interface",
	Short: "Manage network interfaces",
}

var interfaceAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an interface on a network",
	RunE: func(cmd *cobra.Command, args []string) error {
		networkArg, _ := cmd.Flags().GetString("network")
		mac, _ := cmd.Flags().GetString("mac")

		networkID, err := parseIDArg(networkArg, "network")
		if err != nil {
			return err
		}

		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.AddInterface(context.Background(), &rpcapi.AddInterfaceRequest{
			NetworkID: networkID,
			MAC:       mac,
		})
		if err != nil {
			return err
		}
		fmt.Println(resp.ID)
		return nil
	},
}

var interfaceRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an interface",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIDArg(args[0], "interface")
		if err != nil {
			return err
		}
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		_, err = client.RemoveInterface(context.Background(), &rpcapi.RemoveInterfaceRequest{ID: id})
		return err
	},
}

var interfaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List interface ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.ListInterfaces(context.Background())
		if err != nil {
			return err
		}
		for _, id := range resp.IDs {
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	interfaceAddCmd.Flags().String("network", "", "Owning network id (required)")
	interfaceAddCmd.Flags().String("mac", "", "Optional MAC address")
	interfaceAddCmd.MarkFlagRequired("network")

	interfaceCmd.AddCommand(interfaceAddCmd)
	interfaceCmd.AddCommand(interfaceRemoveCmd)
	interfaceCmd.AddCommand(interfaceListCmd)
}

// VM commands

var vmCmd = &cobra.Command{
	Use:   "vm",
	Short: "Manage virtual machines",
}

var vmAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Define a virtual machine",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		nodeArg, _ := cmd.Flags().GetString("node")
		vcpus, _ := cmd.Flags().GetUint32("vcpus")
		memGB, _ := cmd.Flags().GetUint64("memory-gb")
		diskArgs, _ := cmd.Flags().GetStringSlice("disk")
		imageArg, _ := cmd.Flags().GetString("image")
		ifaceArgs, _ := cmd.Flags().GetStringSlice("interface")

		nodeID, err := parseIDArg(nodeArg, "node")
		if err != nil {
			return err
		}
		imageID, err := parseIDArg(imageArg, "image")
		if err != nil {
			return err
		}

		var diskIDs []types.ID
		for _, d := range diskArgs {
			id, err := parseIDArg(d, "disk")
			if err != nil {
				return err
			}
			diskIDs = append(diskIDs, id)
		}
		var ifaceIDs []types.ID
		for _, i := range ifaceArgs {
			id, err := parseIDArg(i, "interface")
			if err != nil {
				return err
			}
			ifaceIDs = append(ifaceIDs, id)
		}

		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.AddVM(context.Background(), &rpcapi.AddVMRequest{
			Name:         name,
			NodeID:       nodeID,
			VCPUs:        vcpus,
			MemoryBytes:  memGB << 30,
			DiskIDs:      diskIDs,
			ImageID:      imageID,
			InterfaceIDs: ifaceIDs,
		})
		if err != nil {
			return err
		}
		fmt.Println(resp.ID)
		return nil
	},
}

var vmRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a VM, its private interfaces and its disks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIDArg(args[0], "vm")
		if err != nil {
			return err
		}
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		_, err = client.RemoveVM(context.Background(), &rpcapi.RemoveVMRequest{ID: id})
		return err
	},
}

var vmListCmd = &cobra.Command{
	Use:   "list",
	Short: "List VM ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.ListVMs(context.Background())
		if err != nil {
			return err
		}
		for _, id := range resp.IDs {
			fmt.Println(id)
		}
		return nil
	},
}

var vmGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one VM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIDArg(args[0], "vm")
		if err != nil {
			return err
		}
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.GetVM(context.Background(), id)
		if err != nil {
			return err
		}
		if resp.VM == nil {
			return fmt.Errorf("vm %s not found", id)
		}
		vm := resp.VM
		fmt.Printf("ID:     %s\nName:   %s\nNode:   %s\nState:  %s\nVCPUs:  %d\nMemory: %d bytes\n",
			vm.ID, vm.Name, vm.NodeID, vm.State, vm.VCPUs, vm.MemoryBytes)
		return nil
	},
}

var vmStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Start a VM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIDArg(args[0], "vm")
		if err != nil {
			return err
		}
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		_, err = client.StartVM(context.Background(), &rpcapi.StartVMRequest{ID: id})
		return err
	},
}

var vmStopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Force-stop a VM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIDArg(args[0], "vm")
		if err != nil {
			return err
		}
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		_, err = client.StopVM(context.Background(), &rpcapi.StopVMRequest{ID: id})
		return err
	},
}

func init() {
	vmAddCmd.Flags().String("name", "", "Cluster-unique VM name (required)")
	vmAddCmd.Flags().String("node", "", "Node to define the VM on (required)")
	vmAddCmd.Flags().Uint32("vcpus", 1, "Virtual CPU count")
	vmAddCmd.Flags().Uint64("memory-gb", 1, "Memory in GiB")
	vmAddCmd.Flags().StringSlice("disk", nil, "Disk id (repeatable)")
	vmAddCmd.Flags().String("image", "", "Image id (required)")
	vmAddCmd.Flags().StringSlice("interface", nil, "Interface id (repeatable)")
	vmAddCmd.MarkFlagRequired("name")
	vmAddCmd.MarkFlagRequired("node")
	vmAddCmd.MarkFlagRequired("image")

	vmCmd.AddCommand(vmAddCmd)
	vmCmd.AddCommand(vmRemoveCmd)
	vmCmd.AddCommand(vmListCmd)
	vmCmd.AddCommand(vmGetCmd)
	vmCmd.AddCommand(vmStartCmd)
	vmCmd.AddCommand(vmStopCmd)
}
