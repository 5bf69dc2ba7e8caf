package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/capacity"
	"github.com/cuemby/burrow/pkg/directory"
	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// Config wires the coordinator to its collaborators
type Config struct {
	Store     storage.Store
	Directory *directory.Directory
	Transport agent.Transport
	Adapters  *registry.Adapters
	Listeners *registry.Listeners
	Capacity  capacity.Checker
	States    StateTransitioner
	NodeID    string
}

// Coordinator finds hosts through registered discoverers and registers them
type Coordinator struct {
	store     storage.Store
	dir       *directory.Directory
	transport agent.Transport
	adapters  *registry.Adapters
	listeners *registry.Listeners
	capacity  capacity.Checker
	states    StateTransitioner
	nodeID    string

	mu          sync.RWMutex
	discoverers []Discoverer

	// addHostLock serializes the first-in-cluster decision of deferred registration
	addHostLock sync.Mutex

	logger zerolog.Logger
}

// NewCoordinator creates a coordinator with no discoverers
func NewCoordinator(cfg Config) *Coordinator {
	return &Coordinator{
		store:     cfg.Store,
		dir:       cfg.Directory,
		transport: cfg.Transport,
		adapters:  cfg.Adapters,
		listeners: cfg.Listeners,
		capacity:  cfg.Capacity,
		states:    cfg.States,
		nodeID:    cfg.NodeID,
		logger:    log.WithComponent("discovery"),
	}
}

// RegisterDiscoverer appends d; discoverers are tried in registration order
func (c *Coordinator) RegisterDiscoverer(d Discoverer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discoverers = append(c.discoverers, d)
}

// Discoverers returns the registered discoverers in order
func (c *Coordinator) Discoverers() []Discoverer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Discoverer(nil), c.discoverers...)
}

// DiscoverHostsRequest is the input of DiscoverHosts
type DiscoverHostsRequest struct {
	ZoneID      string `validate:"required"`
	PodID       string
	ClusterID   string
	ClusterName string
	URL         string               `validate:"required"`
	Username    string
	Password    string
	Hypervisor  types.HypervisorType `validate:"required"`
	HostTags    []string
	Details     map[string]string
	RootAdmin   bool
}

// DiscoverHosts validates the request, runs the first discoverer that finds
// something and registers every resource it returned
func (c *Coordinator) DiscoverHosts(ctx context.Context, req DiscoverHostsRequest) ([]*types.Host, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	zone, pod, err := c.resolveScope(req.ZoneID, req.PodID, req.RootAdmin)
	if err != nil {
		return nil, err
	}

	if req.ClusterID != "" && req.ClusterName != "" {
		return nil, fault.InvalidParameter("cluster id and cluster name cannot both be specified")
	}
	if req.Hypervisor == types.HypervisorBareMetal && len(req.HostTags) == 0 {
		return nil, fault.InvalidParameter("host tags are required for %s hosts", types.HypervisorBareMetal)
	}

	endpoint, err := parseURL(req.URL, req.Hypervisor)
	if err != nil {
		return nil, err
	}

	matched := c.matching(req.Hypervisor)
	if len(matched) == 0 {
		return nil, fault.InvalidParameter("no discoverer handles hypervisor %s", req.Hypervisor)
	}

	cluster, created, err := c.resolveCluster(pod, req.ClusterID, req.ClusterName, req.Hypervisor)
	if err != nil {
		return nil, err
	}

	find := FindRequest{
		ZoneID:     zone.ID,
		URL:        endpoint,
		Username:   req.Username,
		Password:   req.Password,
		Hypervisor: req.Hypervisor,
		HostTags:   req.HostTags,
	}
	if pod != nil {
		find.PodID = pod.ID
	}
	if cluster != nil {
		find.ClusterID = cluster.ID
	}

	payload := registry.Payload{ZoneID: find.ZoneID, PodID: find.PodID, ClusterID: find.ClusterID, URL: req.URL}
	c.listeners.Notify(registry.EventDiscoverBefore, payload)

	timer := metrics.NewTimer()
	hosts, err := c.runDiscoverers(ctx, matched, find, cluster, req)
	timer.ObserveDuration(metrics.DiscoveryDuration)

	if err != nil && created {
		if derr := c.store.DeleteCluster(cluster.ID); derr != nil {
			c.logger.Warn().Err(derr).Str(log.FieldClusterID, cluster.ID).Msg("Failed to remove cluster created for discovery")
		}
	}

	payload.Hosts = hosts
	payload.Err = err
	c.listeners.Notify(registry.EventDiscoverAfter, payload)

	if err != nil {
		metrics.DiscoveryFailures.Inc()
		return nil, err
	}
	return hosts, nil
}

func (c *Coordinator) runDiscoverers(ctx context.Context, matched []Discoverer, find FindRequest, cluster *types.Cluster, req DiscoverHostsRequest) ([]*types.Host, error) {
	for _, d := range matched {
		found, err := d.Find(ctx, find)
		if err != nil {
			c.logger.Warn().Err(err).Str("discoverer", d.Name()).Str("url", find.URL.Redacted()).Msg("Discoverer failed, trying next")
			continue
		}
		if found == nil {
			continue
		}

		c.logger.Info().
			Str("discoverer", d.Name()).
			Int("resources", len(found)).
			Str("url", find.URL.Redacted()).
			Msg("Discovered resources")

		deferred := len(found) > 1 && cluster != nil && cluster.GUID == ""
		var hosts []*types.Host
		for _, res := range found {
			details := mergeDetails(req.Details, res.Details)
			if req.Username != "" {
				details[types.DetailUsername] = req.Username
				details[types.DetailPassword] = req.Password
			}

			var (
				host *types.Host
				err  error
			)
			if deferred {
				host, err = c.CreateHostAndAgentDeferred(ctx, res.Resource, details, req.HostTags)
			} else {
				host, err = c.createHostAndAgent(ctx, res.Resource, details, req.HostTags)
			}
			if err != nil {
				c.logger.Error().Err(err).Str("discoverer", d.Name()).Msg("Failed to register discovered resource")
				continue
			}
			hosts = append(hosts, host)
		}

		if len(hosts) == 0 {
			return nil, fault.New(fault.KindDiscoveryFailed, "unable to add any host discovered at %s", find.URL.Redacted())
		}
		d.PostDiscovery(hosts, c.nodeID)
		return hosts, nil
	}

	return nil, fault.New(fault.KindDiscoveryFailed, "no host found at %s", find.URL.Redacted())
}

func (c *Coordinator) matching(hypervisor types.HypervisorType) []Discoverer {
	var matched []Discoverer
	for _, d := range c.Discoverers() {
		if d.MatchHypervisor(hypervisor) {
			matched = append(matched, d)
		}
	}
	return matched
}

// resolveScope checks the zone is usable and the pod, when given, belongs to it
func (c *Coordinator) resolveScope(zoneID, podID string, rootAdmin bool) (*types.Zone, *types.Pod, error) {
	zone, err := c.store.GetZone(zoneID)
	if err != nil {
		if fault.Is(err, fault.KindNotFound) {
			return nil, nil, fault.InvalidParameter("zone %s does not exist", zoneID)
		}
		return nil, nil, fmt.Errorf("failed to get zone: %w", err)
	}
	if zone.AllocationState == types.AllocationDisabled && !rootAdmin {
		return nil, nil, fault.Precondition("zone %s is disabled", zone.Name).WithEntity(zone.ID)
	}

	if podID == "" {
		return zone, nil, nil
	}
	pod, err := c.store.GetPod(podID)
	if err != nil {
		if fault.Is(err, fault.KindNotFound) {
			return nil, nil, fault.InvalidParameter("pod %s does not exist", podID)
		}
		return nil, nil, fmt.Errorf("failed to get pod: %w", err)
	}
	if pod.ZoneID != zone.ID {
		return nil, nil, fault.InvalidParameter("pod %s does not belong to zone %s", pod.Name, zone.Name)
	}
	return zone, pod, nil
}

// resolveCluster returns the target cluster, creating it when a bare name
// was given. created reports whether this call inserted the row.
func (c *Coordinator) resolveCluster(pod *types.Pod, clusterID, clusterName string, hypervisor types.HypervisorType) (cluster *types.Cluster, created bool, err error) {
	switch {
	case clusterID != "":
		if pod == nil {
			return nil, false, fault.InvalidParameter("a pod is required when a cluster is specified")
		}
		cluster, err = c.store.GetCluster(clusterID)
		if err != nil || cluster.Removed != nil {
			return nil, false, fault.InvalidParameter("cluster %s does not exist", clusterID)
		}
		if cluster.PodID != pod.ID {
			return nil, false, fault.InvalidParameter("cluster %s does not belong to pod %s", cluster.Name, pod.Name)
		}

	case clusterName != "":
		if pod == nil {
			return nil, false, fault.InvalidParameter("a pod is required when a cluster name is specified")
		}
		if hypervisor == "" || hypervisor == types.HypervisorAny {
			return nil, false, fault.InvalidParameter("a concrete hypervisor is required to create cluster %s", clusterName)
		}
		cluster, created, err = c.findOrCreateCluster(pod, clusterName, hypervisor)
		if err != nil {
			return nil, false, err
		}

	default:
		return nil, false, nil
	}

	if hypervisor != types.HypervisorAny && cluster.Hypervisor != hypervisor {
		if created {
			if derr := c.store.DeleteCluster(cluster.ID); derr != nil {
				c.logger.Warn().Err(derr).Str(log.FieldClusterID, cluster.ID).Msg("Failed to remove cluster with mismatched hypervisor")
			}
		}
		return nil, false, fault.InvalidParameter("cluster %s runs %s, not %s", cluster.Name, cluster.Hypervisor, hypervisor)
	}
	return cluster, created, nil
}

// findOrCreateCluster tolerates the benign race where a concurrent
// registration inserts the same cluster first
func (c *Coordinator) findOrCreateCluster(pod *types.Pod, name string, hypervisor types.HypervisorType) (*types.Cluster, bool, error) {
	existing, err := c.store.GetClusterByName(pod.ID, name)
	if err == nil {
		return existing, false, nil
	}
	if !fault.Is(err, fault.KindNotFound) {
		return nil, false, fmt.Errorf("failed to look up cluster: %w", err)
	}

	cluster := &types.Cluster{
		Name:            name,
		ZoneID:          pod.ZoneID,
		PodID:           pod.ID,
		Hypervisor:      hypervisor,
		Type:            types.ClusterTypeCloudManaged,
		AllocationState: types.AllocationEnabled,
		ManagedState:    types.ManagedStateManaged,
	}
	if err := c.store.CreateCluster(cluster); err != nil {
		if fault.Is(err, fault.KindConflict) {
			existing, rerr := c.store.GetClusterByName(pod.ID, name)
			if rerr != nil {
				return nil, false, fmt.Errorf("failed to re-read cluster after conflict: %w", rerr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create cluster: %w", err)
	}

	c.logger.Info().Str(log.FieldClusterID, cluster.ID).Str("name", name).Msg("Created cluster")
	return cluster, true, nil
}

// DiscoverClusterRequest is the input of DiscoverCluster
type DiscoverClusterRequest struct {
	ZoneID          string               `validate:"required"`
	PodID           string               `validate:"required"`
	ClusterName     string               `validate:"required"`
	Hypervisor      types.HypervisorType `validate:"required"`
	ClusterType     types.ClusterType
	AllocationState types.AllocationState
	URL             string
	Username        string
	Password        string
	HostTags        []string
	Details         map[string]string
	RootAdmin       bool
}

// DiscoverCluster creates a cluster and, when a URL is given, discovers hosts
// into it. The cluster is removed again if that discovery fails.
func (c *Coordinator) DiscoverCluster(ctx context.Context, req DiscoverClusterRequest) ([]*types.Cluster, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if req.Hypervisor == types.HypervisorAny {
		return nil, fault.InvalidParameter("a concrete hypervisor is required to create cluster %s", req.ClusterName)
	}

	_, pod, err := c.resolveScope(req.ZoneID, req.PodID, req.RootAdmin)
	if err != nil {
		return nil, err
	}

	cluster := &types.Cluster{
		Name:            req.ClusterName,
		ZoneID:          pod.ZoneID,
		PodID:           pod.ID,
		Hypervisor:      req.Hypervisor,
		Type:            req.ClusterType,
		AllocationState: req.AllocationState,
		ManagedState:    types.ManagedStateManaged,
		Details:         req.Details,
	}
	if cluster.Type == "" {
		cluster.Type = types.ClusterTypeCloudManaged
	}
	if cluster.AllocationState == "" {
		cluster.AllocationState = types.AllocationEnabled
	}
	if err := c.store.CreateCluster(cluster); err != nil {
		return nil, err
	}

	if req.URL == "" {
		return []*types.Cluster{cluster}, nil
	}

	_, err = c.DiscoverHosts(ctx, DiscoverHostsRequest{
		ZoneID:     req.ZoneID,
		PodID:      req.PodID,
		ClusterID:  cluster.ID,
		URL:        req.URL,
		Username:   req.Username,
		Password:   req.Password,
		Hypervisor: req.Hypervisor,
		HostTags:   req.HostTags,
		RootAdmin:  req.RootAdmin,
	})
	if err != nil {
		if derr := c.store.DeleteCluster(cluster.ID); derr != nil {
			c.logger.Warn().Err(derr).Str(log.FieldClusterID, cluster.ID).Msg("Failed to remove cluster after discovery failure")
		}
		return nil, err
	}

	cluster, err = c.store.GetCluster(cluster.ID)
	if err != nil {
		return nil, err
	}
	return []*types.Cluster{cluster}, nil
}

func mergeDetails(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
