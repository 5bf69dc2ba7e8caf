package directory

import (
	"fmt"
	"sort"

	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// Directory answers host and cluster listing queries over the store
type Directory struct {
	store storage.Store
}

// New creates a Directory backed by store
func New(store storage.Store) *Directory {
	return &Directory{store: store}
}

// Query narrows a host listing. Empty fields match everything.
type Query struct {
	ZoneID         string
	PodID          string
	ClusterID      string
	Type           types.HostType
	Hypervisor     types.HypervisorType
	Statuses       []types.HostStatus
	ResourceStates []types.ResourceState
	Tags           []string
}

// ListHosts returns live hosts matching q ordered by name
func (d *Directory) ListHosts(q Query) ([]*types.Host, error) {
	hosts, err := d.store.ListHosts(storage.HostFilter{
		Type:           q.Type,
		ZoneID:         q.ZoneID,
		PodID:          q.PodID,
		ClusterID:      q.ClusterID,
		Hypervisor:     q.Hypervisor,
		Statuses:       q.Statuses,
		ResourceStates: q.ResourceStates,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}

	if len(q.Tags) > 0 {
		filtered := hosts[:0]
		for _, h := range hosts {
			if h.HasTags(q.Tags) {
				filtered = append(filtered, h)
			}
		}
		hosts = filtered
	}

	sort.Slice(hosts, func(i, j int) bool {
		if hosts[i].Name == hosts[j].Name {
			return hosts[i].ID < hosts[j].ID
		}
		return hosts[i].Name < hosts[j].Name
	})
	return hosts, nil
}

// Get returns a live host by id
func (d *Directory) Get(hostID string) (*types.Host, error) {
	host, err := d.store.GetHost(hostID)
	if err != nil {
		return nil, err
	}
	if host.IsRemoved() {
		return nil, fault.NotFound("host has been removed").WithEntity(hostID)
	}
	return host, nil
}

// HostsInCluster returns every live host of the cluster regardless of state
func (d *Directory) HostsInCluster(clusterID string) ([]*types.Host, error) {
	return d.ListHosts(Query{ClusterID: clusterID})
}

// HostsInPod returns every live host of the pod
func (d *Directory) HostsInPod(podID string) ([]*types.Host, error) {
	return d.ListHosts(Query{PodID: podID})
}

// HostsInZone returns every live host of the zone
func (d *Directory) HostsInZone(zoneID string) ([]*types.Host, error) {
	return d.ListHosts(Query{ZoneID: zoneID})
}

// UpAndEnabledRoutingHosts returns compute hosts in the cluster that can take workload
func (d *Directory) UpAndEnabledRoutingHosts(clusterID string) ([]*types.Host, error) {
	return d.ListHosts(Query{
		ClusterID:      clusterID,
		Type:           types.HostTypeRouting,
		Statuses:       []types.HostStatus{types.HostStatusUp},
		ResourceStates: []types.ResourceState{types.ResourceStateEnabled},
	})
}

// UpAndEnabledRoutingHostsInZone is the zone-wide variant used for cross-cluster placement
func (d *Directory) UpAndEnabledRoutingHostsInZone(zoneID string) ([]*types.Host, error) {
	return d.ListHosts(Query{
		ZoneID:         zoneID,
		Type:           types.HostTypeRouting,
		Statuses:       []types.HostStatus{types.HostStatusUp},
		ResourceStates: []types.ResourceState{types.ResourceStateEnabled},
	})
}

// PreparingHostsInCluster returns hosts of the cluster currently evacuating
func (d *Directory) PreparingHostsInCluster(clusterID string) ([]*types.Host, error) {
	return d.ListHosts(Query{
		ClusterID: clusterID,
		ResourceStates: []types.ResourceState{
			types.ResourceStatePrepareForMaintenance,
			types.ResourceStateErrorInPrepareForMaintenance,
		},
	})
}

// DeferredHosts returns hosts registered without an agent handshake
func (d *Directory) DeferredHosts() ([]*types.Host, error) {
	hosts, err := d.ListHosts(Query{Statuses: []types.HostStatus{types.HostStatusDisconnected}})
	if err != nil {
		return nil, err
	}
	var deferred []*types.Host
	for _, h := range hosts {
		if h.Detail(types.DetailDeferredConnect) == "true" {
			deferred = append(deferred, h)
		}
	}
	return deferred, nil
}

// CountHostsInCluster returns the number of live hosts in the cluster
func (d *Directory) CountHostsInCluster(clusterID string) (int, error) {
	hosts, err := d.store.ListHosts(storage.HostFilter{ClusterID: clusterID})
	if err != nil {
		return 0, err
	}
	return len(hosts), nil
}

// ListClusters returns live clusters in the given pod or zone
func (d *Directory) ListClusters(zoneID, podID string, hypervisor types.HypervisorType) ([]*types.Cluster, error) {
	clusters, err := d.store.ListClusters(storage.ClusterFilter{ZoneID: zoneID, PodID: podID, Hypervisor: hypervisor})
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Name < clusters[j].Name })
	return clusters, nil
}

// VMsOnHost returns VMs currently placed on the host
func (d *Directory) VMsOnHost(hostID string) ([]*types.VM, error) {
	return d.store.ListVMs(storage.VMFilter{HostID: hostID})
}

// VMsMigratingInto returns VMs whose migration targets the host
func (d *Directory) VMsMigratingInto(hostID string) ([]*types.VM, error) {
	return d.store.ListVMs(storage.VMFilter{
		TargetHostID: hostID,
		States:       []types.VMState{types.VMStateMigrating},
	})
}
