package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cuemby/burrow/pkg/directory"
	"github.com/cuemby/burrow/pkg/rolling"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Plan rolling maintenance campaigns",
}

var campaignValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a campaign file and show the hosts it would roll",
	Long: `Validate a rolling maintenance campaign from a YAML file and print the
clusters and hosts it covers, in the order they would be processed.
Nothing is sent to any host.

Example campaign:
  apiVersion: burrow/v1
  kind: Campaign
  metadata:
    name: kernel-update
  spec:
    clusters: [c1]
    timeout: 45m
    payload: "kernel=6.8"
    forced: false`,
	RunE: runCampaignValidate,
}

func init() {
	campaignValidateCmd.Flags().StringP("file", "f", "", "Campaign file (required)")
	_ = campaignValidateCmd.MarkFlagRequired("file")

	campaignCmd.AddCommand(campaignValidateCmd)
}

// CampaignSpec scopes a campaign by host, cluster, pod or zone, each given
// by id or name
type CampaignSpec struct {
	Hosts    []string `yaml:"hosts" validate:"omitempty,dive,required"`
	Clusters []string `yaml:"clusters" validate:"omitempty,dive,required"`
	Pods     []string `yaml:"pods" validate:"omitempty,dive,required"`
	Zones    []string `yaml:"zones" validate:"omitempty,dive,required"`
	Timeout  string   `yaml:"timeout"`
	Payload  string   `yaml:"payload"`
	Forced   bool     `yaml:"forced"`
}

var campaignValidator = validator.New()

func runCampaignValidate(cmd *cobra.Command, args []string) error {
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
	defer s.close()

	return validateCampaign(s, data, cmd.OutOrStdout())
}

func validateCampaign(s *stack, data []byte, out io.Writer) error {
	docs, err := decodeDocuments(data)
	if err != nil {
		return err
	}
	if len(docs) != 1 || docs[0].Kind != "Campaign" {
		return fmt.Errorf("expected exactly one Campaign document")
	}

	var spec CampaignSpec
	if err := docs[0].decodeSpec(&spec); err != nil {
		return err
	}
	if err := campaignValidator.Struct(spec); err != nil {
		return fmt.Errorf("invalid campaign: %v", err)
	}

	req, err := campaignRequest(s, spec)
	if err != nil {
		return err
	}
	plans, err := s.orchestrator.Preview(req)
	if err != nil {
		return err
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = s.cfg.Rolling.StageTimeout
	}
	fmt.Fprintf(out, "✓ Campaign %q is valid (stage timeout %s, forced=%t)\n", docs[0].Metadata.Name, timeout, req.Forced)
	total := 0
	for i, plan := range plans {
		fmt.Fprintf(out, "\n%d. cluster %s\n", i+1, plan.ClusterID)
		for _, h := range plan.Hosts {
			fmt.Fprintf(out, "   - %s (%s, %s/%s)\n", h.Name, h.ID, h.Status, h.ResourceState)
		}
		total += len(plan.Hosts)
	}
	fmt.Fprintf(out, "\nTotal: %d hosts in %d clusters\n", total, len(plans))
	return nil
}

// campaignRequest resolves names in spec to ids
func campaignRequest(s *stack, spec CampaignSpec) (rolling.Request, error) {
	req := rolling.Request{Payload: spec.Payload, Forced: spec.Forced}
	if spec.Timeout != "" {
		d, err := time.ParseDuration(spec.Timeout)
		if err != nil {
			return req, fmt.Errorf("invalid timeout %q: %v", spec.Timeout, err)
		}
		req.Timeout = d
	}

	var err error
	if req.HostIDs, err = resolveRefs(spec.Hosts, s.hostRef); err != nil {
		return req, err
	}
	if req.ClusterIDs, err = resolveRefs(spec.Clusters, s.clusterRef); err != nil {
		return req, err
	}
	if req.PodIDs, err = resolveRefs(spec.Pods, s.podRef); err != nil {
		return req, err
	}
	if req.ZoneIDs, err = resolveRefs(spec.Zones, s.zoneRef); err != nil {
		return req, err
	}
	return req, nil
}

func resolveRefs(refs []string, lookup func(string) (string, error)) ([]string, error) {
	var ids []string
	for _, ref := range refs {
		id, err := lookup(ref)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// hostRef and the other ref lookups pass unknown references through as
// ids; the orchestrator rejects them
func (s *stack) hostRef(ref string) (string, error) {
	if h, err := s.store.GetHost(ref); err == nil {
		return h.ID, nil
	}
	hosts, err := s.dir.ListHosts(directory.Query{})
	if err != nil {
		return "", err
	}
	for _, h := range hosts {
		if h.Name == ref {
			return h.ID, nil
		}
	}
	return ref, nil
}

func (s *stack) clusterRef(ref string) (string, error) {
	if c, err := s.store.GetCluster(ref); err == nil {
		return c.ID, nil
	}
	clusters, err := s.dir.ListClusters("", "", "")
	if err != nil {
		return "", err
	}
	for _, c := range clusters {
		if c.Name == ref {
			return c.ID, nil
		}
	}
	return ref, nil
}

func (s *stack) podRef(ref string) (string, error) {
	if p, err := s.store.GetPod(ref); err == nil {
		return p.ID, nil
	}
	zones, err := s.store.ListZones()
	if err != nil {
		return "", err
	}
	for _, z := range zones {
		if p, err := s.store.GetPodByName(z.ID, ref); err == nil {
			return p.ID, nil
		}
	}
	return ref, nil
}

func (s *stack) zoneRef(ref string) (string, error) {
	if z, err := s.store.GetZone(ref); err == nil {
		return z.ID, nil
	}
	if z, err := s.store.GetZoneByName(ref); err == nil {
		return z.ID, nil
	}
	return ref, nil
}
