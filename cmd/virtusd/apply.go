package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cuemby/virtus/pkg/rpcapi"
	"github.com/cuemby/virtus/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a configuration file",
	Long: `Apply Virtus resources from a YAML file. Documents are applied in
file order, so a pool can precede the disks that live in it.

Examples:
  # Apply a pool definition
  virtusd apply -f pool.yaml

  # Apply multiple resources separated by ---
  virtusd apply -f cluster-config.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// VirtusResource represents a generic Virtus resource document.
type VirtusResource struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   ResourceMetadata `yaml:"metadata"`
	Spec       map[string]any   `yaml:"spec"`
}

type ResourceMetadata struct {
	Name string `yaml:"name"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	c, err := apiClient(cmd)
	if err != nil {
		return fmt.Errorf("failed to connect: %v", err)
	}
	defer c.Close()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var resource VirtusResource
		if err := dec.Decode(&resource); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to parse YAML: %v", err)
		}
		if resource.Kind == "" {
			continue // blank document between separators
		}
		if err := applyResource(c, &resource); err != nil {
			return err
		}
	}
}

func applyResource(c *rpcapi.Client, resource *VirtusResource) error {
	switch resource.Kind {
	case "Pool":
		return applyPool(c, resource)
	case "Disk":
		return applyDisk(c, resource)
	case "Image":
		return applyImage(c, resource)
	case "Network":
		return applyNetwork(c, resource)
	case "Interface":
		return applyInterface(c, resource)
	case "VM":
		return applyVM(c, resource)
	default:
		return fmt.Errorf("unsupported resource kind: %s", resource.Kind)
	}
}

func applyPool(c *rpcapi.Client, resource *VirtusResource) error {
	nodeID, err := getID(resource.Spec, "node")
	if err != nil {
		return fmt.Errorf("pool %s: %v", resource.Metadata.Name, err)
	}
	path := getString(resource.Spec, "path", "")
	if path == "" {
		return fmt.Errorf("pool %s: path is required", resource.Metadata.Name)
	}

	fmt.Printf("Creating pool: %s\n", resource.Metadata.Name)
	resp, err := c.AddPool(context.Background(), &rpcapi.AddPoolRequest{
		NodeID: nodeID,
		Name:   resource.Metadata.Name,
		Path:   path,
	})
	if err != nil {
		return fmt.Errorf("failed to create pool: %v", err)
	}
	fmt.Printf("✓ Pool created: %s (ID: %s)\n", resource.Metadata.Name, resp.ID)
	return nil
}

func applyDisk(c *rpcapi.Client, resource *VirtusResource) error {
	poolID, err := getID(resource.Spec, "pool")
	if err != nil {
		return fmt.Errorf("disk %s: %v", resource.Metadata.Name, err)
	}
	sizeGB := getInt(resource.Spec, "sizeGB", 1)

	fmt.Printf("Creating disk: %s\n", resource.Metadata.Name)
	resp, err := c.AddDisk(context.Background(), &rpcapi.AddDiskRequest{
		PoolID:    poolID,
		Name:      resource.Metadata.Name,
		SizeBytes: uint64(sizeGB) << 30,
	})
	if err != nil {
		return fmt.Errorf("failed to create disk: %v", err)
	}
	fmt.Printf("✓ Disk created: %s (ID: %s)\n", resource.Metadata.Name, resp.ID)
	return nil
}

func applyImage(c *rpcapi.Client, resource *VirtusResource) error {
	file := getString(resource.Spec, "file", "")
	if file == "" {
		return fmt.Errorf("image %s: file is required", resource.Metadata.Name)
	}

	fmt.Printf("Registering image: %s\n", resource.Metadata.Name)
	resp, err := c.AddImage(context.Background(), &rpcapi.AddImageRequest{
		Filename:  file,
		Installer: getBool(resource.Spec, "installer", false),
	})
	if err != nil {
		return fmt.Errorf("failed to register image: %v", err)
	}
	fmt.Printf("✓ Image registered: %s (ID: %s)\n", resource.Metadata.Name, resp.ID)
	return nil
}

func applyNetwork(c *rpcapi.Client, resource *VirtusResource) error {
	fmt.Printf("Creating network: %s\n", resource.Metadata.Name)
	resp, err := c.AddNetwork(context.Background(), &rpcapi.AddNetworkRequest{
		Name:    resource.Metadata.Name,
		VlanTag: uint32(getInt(resource.Spec, "vlan", 0)),
		CIDR4:   getString(resource.Spec, "cidr", ""),
		Uplink:  getString(resource.Spec, "uplink", ""),
	})
	if err != nil {
		return fmt.Errorf("failed to create network: %v", err)
	}
	fmt.Printf("✓ Network created: %s (ID: %s)\n", resource.Metadata.Name, resp.ID)
	return nil
}

func applyInterface(c *rpcapi.Client, resource *VirtusResource) error {
	networkID, err := getID(resource.Spec, "network")
	if err != nil {
		return fmt.Errorf("interface %s: %v", resource.Metadata.Name, err)
	}

	fmt.Printf("Creating interface: %s\n", resource.Metadata.Name)
	resp, err := c.AddInterface(context.Background(), &rpcapi.AddInterfaceRequest{
		NetworkID: networkID,
		MAC:       getString(resource.Spec, "mac", ""),
	})
	if err != nil {
		return fmt.Errorf("failed to create interface: %v", err)
	}
	fmt.Printf("✓ Interface created: %s (ID: %s)\n", resource.Metadata.Name, resp.ID)
	return nil
}

func applyVM(c *rpcapi.Client, resource *VirtusResource) error {
	name := resource.Metadata.Name
	if name == "" {
		return fmt.Errorf("vm name is required")
	}

	nodeID, err := getID(resource.Spec, "node")
	if err != nil {
		return fmt.Errorf("vm %s: %v", name, err)
	}
	imageID, err := getID(resource.Spec, "image")
	if err != nil {
		return fmt.Errorf("vm %s: %v", name, err)
	}
	diskIDs, err := getIDList(resource.Spec, "disks")
	if err != nil {
		return fmt.Errorf("vm %s: %v", name, err)
	}
	ifaceIDs, err := getIDList(resource.Spec, "interfaces")
	if err != nil {
		return fmt.Errorf("vm %s: %v", name, err)
	}

	fmt.Printf("Creating vm: %s\n", name)
	resp, err := c.AddVM(context.Background(), &rpcapi.AddVMRequest{
		Name:         name,
		NodeID:       nodeID,
		VCPUs:        uint32(getInt(resource.Spec, "vcpus", 1)),
		MemoryBytes:  uint64(getInt(resource.Spec, "memoryGB", 1)) << 30,
		DiskIDs:      diskIDs,
		ImageID:      imageID,
		InterfaceIDs: ifaceIDs,
	})
	if err != nil {
		return fmt.Errorf("failed to create vm: %v", err)
	}
	fmt.Printf("✓ VM created: %s (ID: %s)\n", name, resp.ID)
	return nil
}

// Helper functions
func getString(m map[string]any, key, defaultValue string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return defaultValue
}

func getInt(m map[string]any, key string, defaultValue int) int {
	if v, ok := m[key]; ok {
		switch val := v.(type) {
		case int:
			return val
		case float64:
			return int(val)
		}
	}
	return defaultValue
}

func getBool(m map[string]any, key string, defaultValue bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return defaultValue
}

func getID(m map[string]any, key string) (types.ID, error) {
	raw := getString(m, key, "")
	if raw == "" {
		return types.ID{}, fmt.Errorf("%s id is required", key)
	}
	id, err := types.ParseID(raw)
	if err != nil {
		return types.ID{}, fmt.Errorf("invalid %s id %q", key, raw)
	}
	return id, nil
}

func getIDList(m map[string]any, key string) ([]types.ID, error) {
	raw, ok := m[key]
	if !ok {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a list of ids", key)
	}
	ids := make([]types.ID, 0, len(items))
	for _, item := range items {
		id, err := types.ParseID(fmt.Sprintf("%v", item))
		if err != nil {
			return nil, fmt.Errorf("invalid %s id %q", key, item)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
