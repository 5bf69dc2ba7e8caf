package storage

import (
	"github.com/cuemby/burrow/pkg/types"
)

// Store defines the interface for inventory record storage.
// It is implemented by the BoltDB-backed BoltStore; the value passed to an
// Update callback implements the same interface bound to one transaction.
type Store interface {
	// Zones
	CreateZone(zone *types.Zone) error
	GetZone(id string) (*types.Zone, error)
	GetZoneByName(name string) (*types.Zone, error)
	ListZones() ([]*types.Zone, error)

	// Pods
	CreatePod(pod *types.Pod) error
	GetPod(id string) (*types.Pod, error)
	GetPodByName(zoneID, name string) (*types.Pod, error)
	ListPods(zoneID string) ([]*types.Pod, error)

	// Clusters
	CreateCluster(cluster *types.Cluster) error
	GetCluster(id string) (*types.Cluster, error)
	GetClusterByName(podID, name string) (*types.Cluster, error)
	ListClusters(filter ClusterFilter) ([]*types.Cluster, error)
	UpdateCluster(cluster *types.Cluster) error
	DeleteCluster(id string) error

	// Hosts
	CreateHost(host *types.Host) error
	GetHost(id string) (*types.Host, error)
	GetHostByGUID(guid string) (*types.Host, error)
	ListHosts(filter HostFilter) ([]*types.Host, error)
	UpdateHost(host *types.Host) error
	RemoveHost(id string) error
	UpdateResourceState(hostID string, expected, next types.ResourceState) (bool, error)

	// VMs
	CreateVM(vm *types.VM) error
	GetVM(id string) (*types.VM, error)
	ListVMs(filter VMFilter) ([]*types.VM, error)
	UpdateVM(vm *types.VM) error

	// Storage pools
	CreateStoragePool(pool *types.StoragePool) error
	GetStoragePool(id string) (*types.StoragePool, error)
	ListStoragePools(filter PoolFilter) ([]*types.StoragePool, error)
	DeleteStoragePool(id string) error
	AddPoolHostRef(ref *types.StoragePoolHostRef) error
	ListPoolHostRefs(hostID string) ([]*types.StoragePoolHostRef, error)
	DeletePoolHostRefsByHost(hostID string) error

	// Capacity rows
	PutCapacity(capacity *types.Capacity) error
	ListCapacity(hostID string) ([]*types.Capacity, error)
	DeleteCapacityByHost(hostID string) error

	// Dedicated resources
	CreateDedicatedResource(res *types.DedicatedResource) error
	ListDedicatedResources(hostID string) ([]*types.DedicatedResource, error)
	DeleteDedicatedResourcesByHost(hostID string) error

	// Annotations
	CreateAnnotation(annotation *types.Annotation) error
	ListAnnotations(entityID string) ([]*types.Annotation, error)
	DeleteAnnotationsByEntity(entityID string) error

	// Private IP allocations
	AllocatePrivateIP(alloc *types.PrivateIPAllocation) error
	GetPrivateIPAllocation(ip string) (*types.PrivateIPAllocation, error)
	ReleasePrivateIP(ip string) error

	// Update runs fn inside a single read-write transaction.
	// Any error returned by fn rolls back every write made through tx.
	Update(fn func(tx Store) error) error

	// Utility
	Close() error
}

// HostFilter selects hosts in ListHosts; zero fields match everything.
// Removed hosts are never returned.
type HostFilter struct {
	Type           types.HostType
	ZoneID         string
	PodID          string
	ClusterID      string
	Hypervisor     types.HypervisorType
	Statuses       []types.HostStatus
	ResourceStates []types.ResourceState
}

// Matches reports whether host satisfies the filter
func (f HostFilter) Matches(host *types.Host) bool {
	if host.IsRemoved() {
		return false
	}
	if f.Type != "" && host.Type != f.Type {
		return false
	}
	if f.ZoneID != "" && host.ZoneID != f.ZoneID {
		return false
	}
	if f.PodID != "" && host.PodID != f.PodID {
		return false
	}
	if f.ClusterID != "" && host.ClusterID != f.ClusterID {
		return false
	}
	if f.Hypervisor != "" && host.Hypervisor != f.Hypervisor {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, host.Status) {
		return false
	}
	if len(f.ResourceStates) > 0 && !containsResourceState(f.ResourceStates, host.ResourceState) {
		return false
	}
	return true
}

// ClusterFilter selects clusters in ListClusters
type ClusterFilter struct {
	ZoneID     string
	PodID      string
	Hypervisor types.HypervisorType
}

// Matches reports whether cluster satisfies the filter
func (f ClusterFilter) Matches(c *types.Cluster) bool {
	if c.Removed != nil {
		return false
	}
	if f.ZoneID != "" && c.ZoneID != f.ZoneID {
		return false
	}
	if f.PodID != "" && c.PodID != f.PodID {
		return false
	}
	if f.Hypervisor != "" && c.Hypervisor != f.Hypervisor {
		return false
	}
	return true
}

// VMFilter selects VMs in ListVMs
type VMFilter struct {
	HostID       string
	LastHostID   string
	TargetHostID string
	States       []types.VMState
	Types        []types.VMType
}

// Matches reports whether vm satisfies the filter
func (f VMFilter) Matches(vm *types.VM) bool {
	if f.HostID != "" && vm.HostID != f.HostID {
		return false
	}
	if f.LastHostID != "" && vm.LastHostID != f.LastHostID {
		return false
	}
	if f.TargetHostID != "" && vm.TargetHostID != f.TargetHostID {
		return false
	}
	if len(f.States) > 0 {
		found := false
		for _, s := range f.States {
			if vm.State == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if vm.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// PoolFilter selects storage pools in ListStoragePools
type PoolFilter struct {
	ZoneID    string
	ClusterID string
	HostID    string
	Scope     types.StoragePoolScope
}

// Matches reports whether pool satisfies the filter
func (f PoolFilter) Matches(p *types.StoragePool) bool {
	if f.ZoneID != "" && p.ZoneID != f.ZoneID {
		return false
	}
	if f.ClusterID != "" && p.ClusterID != f.ClusterID {
		return false
	}
	if f.HostID != "" && p.HostID != f.HostID {
		return false
	}
	if f.Scope != "" && p.Scope != f.Scope {
		return false
	}
	return true
}

func containsStatus(list []types.HostStatus, s types.HostStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsResourceState(list []types.ResourceState, s types.ResourceState) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
