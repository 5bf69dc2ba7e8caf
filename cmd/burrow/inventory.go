package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cuemby/burrow/pkg/discovery"
	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Manage zones, pods, clusters and hosts",
}

var inventoryApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply an inventory file",
	Long: `Apply a Burrow inventory from a YAML file. A file holds one or more
documents separated by "---"; they are applied in order. Zones, pods and
clusters that already exist are left alone. Hosts documents run discovery
against their URL.

Examples:
  # Apply a zone with one simulated cluster of three hosts
  burrow inventory apply -f inventory.yaml`,
	RunE: runInventoryApply,
}

func init() {
	inventoryApplyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = inventoryApplyCmd.MarkFlagRequired("file")

	inventoryCmd.AddCommand(inventoryApplyCmd)
}

// Document is one resource in an inventory or campaign file
type Document struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   ResourceMetadata `yaml:"metadata"`
	Spec       yaml.Node        `yaml:"spec"`
}

type ResourceMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

// ZoneSpec is the spec of a Zone document
type ZoneSpec struct {
	Allocation string            `yaml:"allocation"`
	Details    map[string]string `yaml:"details"`
}

// PodSpec is the spec of a Pod document
type PodSpec struct {
	Zone string `yaml:"zone"`
}

// ClusterSpec is the spec of a Cluster document
type ClusterSpec struct {
	Zone       string            `yaml:"zone"`
	Pod        string            `yaml:"pod"`
	Hypervisor string            `yaml:"hypervisor"`
	Allocation string            `yaml:"allocation"`
	Details    map[string]string `yaml:"details"`
}

// HostsSpec is the spec of a Hosts document
type HostsSpec struct {
	Zone       string            `yaml:"zone"`
	Pod        string            `yaml:"pod"`
	Cluster    string            `yaml:"cluster"`
	URL        string            `yaml:"url"`
	Username   string            `yaml:"username"`
	Password   string            `yaml:"password"`
	Hypervisor string            `yaml:"hypervisor"`
	Tags       []string          `yaml:"tags"`
	Details    map[string]string `yaml:"details"`
}

func runInventoryApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := newStack(cfg, cluster{})
	if err != nil {
		return err
	}
	s.start()
	defer s.close()

	return applyInventory(cmd.Context(), s, data, cmd.OutOrStdout())
}

// decodeSpec decodes the spec into out; a missing spec leaves out untouched
func (d *Document) decodeSpec(out interface{}) error {
	if d.Spec.IsZero() {
		return nil
	}
	if err := d.Spec.Decode(out); err != nil {
		return fmt.Errorf("invalid spec: %v", err)
	}
	return nil
}

// decodeDocuments splits a multi-document YAML file
func decodeDocuments(data []byte) ([]Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var docs []Document
	for {
		var doc Document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %v", err)
		}
		if doc.Kind == "" {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func applyInventory(ctx context.Context, s *stack, data []byte, out io.Writer) error {
	docs, err := decodeDocuments(data)
	if err != nil {
		return err
	}

	for _, doc := range docs {
		var err error
		switch doc.Kind {
		case "Zone":
			err = applyZone(s, &doc, out)
		case "Pod":
			err = applyPod(s, &doc, out)
		case "Cluster":
			err = applyCluster(s, &doc, out)
		case "Hosts":
			err = applyHosts(ctx, s, &doc, out)
		default:
			err = fmt.Errorf("unsupported resource kind: %s", doc.Kind)
		}
		if err != nil {
			return fmt.Errorf("%s %q: %w", doc.Kind, doc.Metadata.Name, err)
		}
	}
	return nil
}

func allocation(v string) (types.AllocationState, error) {
	switch v {
	case "", string(types.AllocationEnabled):
		return types.AllocationEnabled, nil
	case string(types.AllocationDisabled):
		return types.AllocationDisabled, nil
	default:
		return "", fmt.Errorf("allocation must be Enabled or Disabled, got %q", v)
	}
}

func applyZone(s *stack, doc *Document, out io.Writer) error {
	name := doc.Metadata.Name
	if name == "" {
		return fmt.Errorf("zone name is required")
	}
	var spec ZoneSpec
	if err := doc.decodeSpec(&spec); err != nil {
		return err
	}
	state, err := allocation(spec.Allocation)
	if err != nil {
		return err
	}

	if _, err := s.store.GetZoneByName(name); err == nil {
		fmt.Fprintf(out, "Zone already exists: %s (skipping)\n", name)
		return nil
	}

	zone := &types.Zone{Name: name, AllocationState: state, Details: spec.Details}
	if err := s.store.CreateZone(zone); err != nil {
		return fmt.Errorf("failed to create zone: %v", err)
	}
	fmt.Fprintf(out, "✓ Zone created: %s (ID: %s)\n", name, zone.ID)
	return nil
}

func applyPod(s *stack, doc *Document, out io.Writer) error {
	name := doc.Metadata.Name
	var spec PodSpec
	if err := doc.decodeSpec(&spec); err != nil {
		return err
	}
	if name == "" || spec.Zone == "" {
		return fmt.Errorf("pod name and zone are required")
	}
	zone, err := s.store.GetZoneByName(spec.Zone)
	if err != nil {
		return fmt.Errorf("zone %s: %w", spec.Zone, err)
	}

	if _, err := s.store.GetPodByName(zone.ID, name); err == nil {
		fmt.Fprintf(out, "Pod already exists: %s (skipping)\n", name)
		return nil
	}

	pod := &types.Pod{Name: name, ZoneID: zone.ID, AllocationState: types.AllocationEnabled}
	if err := s.store.CreatePod(pod); err != nil {
		return fmt.Errorf("failed to create pod: %v", err)
	}
	fmt.Fprintf(out, "✓ Pod created: %s (ID: %s)\n", name, pod.ID)
	return nil
}

func applyCluster(s *stack, doc *Document, out io.Writer) error {
	name := doc.Metadata.Name
	var spec ClusterSpec
	if err := doc.decodeSpec(&spec); err != nil {
		return err
	}
	if name == "" || spec.Zone == "" || spec.Pod == "" || spec.Hypervisor == "" {
		return fmt.Errorf("cluster name, zone, pod and hypervisor are required")
	}
	state, err := allocation(spec.Allocation)
	if err != nil {
		return err
	}
	zone, pod, err := lookupPod(s, spec.Zone, spec.Pod)
	if err != nil {
		return err
	}

	if _, err := s.store.GetClusterByName(pod.ID, name); err == nil {
		fmt.Fprintf(out, "Cluster already exists: %s (skipping)\n", name)
		return nil
	}

	c := &types.Cluster{
		Name:            name,
		ZoneID:          zone.ID,
		PodID:           pod.ID,
		Hypervisor:      types.HypervisorType(spec.Hypervisor),
		Type:            types.ClusterTypeCloudManaged,
		AllocationState: state,
		ManagedState:    types.ManagedStateManaged,
		Details:         spec.Details,
	}
	if err := s.store.CreateCluster(c); err != nil {
		return fmt.Errorf("failed to create cluster: %v", err)
	}
	fmt.Fprintf(out, "✓ Cluster created: %s (ID: %s)\n", name, c.ID)
	return nil
}

func applyHosts(ctx context.Context, s *stack, doc *Document, out io.Writer) error {
	var spec HostsSpec
	if err := doc.decodeSpec(&spec); err != nil {
		return err
	}
	if spec.Zone == "" || spec.Pod == "" {
		return fmt.Errorf("hosts zone and pod are required")
	}
	zone, pod, err := lookupPod(s, spec.Zone, spec.Pod)
	if err != nil {
		return err
	}

	req := discovery.DiscoverHostsRequest{
		ZoneID:     zone.ID,
		PodID:      pod.ID,
		URL:        spec.URL,
		Username:   spec.Username,
		Password:   spec.Password,
		Hypervisor: types.HypervisorType(spec.Hypervisor),
		HostTags:   spec.Tags,
		Details:    spec.Details,
	}
	if spec.Cluster != "" {
		c, err := s.store.GetClusterByName(pod.ID, spec.Cluster)
		switch {
		case err == nil:
			req.ClusterID = c.ID
		case fault.Is(err, fault.KindNotFound):
			req.ClusterName = spec.Cluster
		default:
			return err
		}
	}

	hosts, err := s.resources.DiscoverHosts(ctx, req)
	if err != nil {
		return err
	}
	for _, h := range hosts {
		fmt.Fprintf(out, "✓ Host registered: %s (ID: %s, %s/%s)\n", h.Name, h.ID, h.Status, h.ResourceState)
	}
	return nil
}

func lookupPod(s *stack, zoneName, podName string) (*types.Zone, *types.Pod, error) {
	zone, err := s.store.GetZoneByName(zoneName)
	if err != nil {
		return nil, nil, fmt.Errorf("zone %s: %w", zoneName, err)
	}
	pod, err := s.store.GetPodByName(zone.ID, podName)
	if err != nil {
		return nil, nil, fmt.Errorf("pod %s: %w", podName, err)
	}
	return zone, pod, nil
}
