package types

import (
	"time"
)

// Zone represents an availability zone (data center)
type Zone struct {
	ID              string
	UUID            string
	Name            string
	AllocationState AllocationState
	Details         map[string]string
	CreatedAt       time.Time
}

// Pod represents a rack-level grouping of clusters inside a zone
type Pod struct {
	ID              string
	UUID            string
	Name            string
	ZoneID          string
	AllocationState AllocationState
	CreatedAt       time.Time
}

// Cluster groups hosts sharing pooled storage and compute characteristics
type Cluster struct {
	ID              string
	UUID            string
	Name            string
	GUID            string // Empty until the first host registers
	ZoneID          string
	PodID           string
	Hypervisor      HypervisorType
	Type            ClusterType
	AllocationState AllocationState
	ManagedState    ManagedState
	Details         map[string]string
	CreatedAt       time.Time
	Removed         *time.Time
}

// Host represents a physical or virtual compute node
type Host struct {
	ID                 string
	UUID               string
	GUID               string
	Name               string
	Type               HostType
	ZoneID             string
	PodID              string
	ClusterID          string
	PrivateIP          string
	PrivateNetmask     string
	PrivateMAC         string
	PublicIP           string
	StorageIP          string
	StorageIPDeux      string // Secondary storage NIC
	Hypervisor         HypervisorType
	HypervisorVersion  string
	Status             HostStatus
	ResourceState      ResourceState
	Details            map[string]string
	Tags               []string
	ManagementServerID string // Management node owning the agent connection
	CPUs               int
	CPUSpeed           int   // MHz
	TotalMemory        int64 // Bytes
	GuestOSCategoryID  string
	Capabilities       string
	Version            string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Removed            *time.Time
}

// IsRemoved reports whether the host has been soft-deleted
func (h *Host) IsRemoved() bool {
	return h.Removed != nil
}

// Detail returns a host detail value or "" when unset
func (h *Host) Detail(key string) string {
	if h.Details == nil {
		return ""
	}
	return h.Details[key]
}

// SetDetail sets a host detail, allocating the map if needed
func (h *Host) SetDetail(key, value string) {
	if h.Details == nil {
		h.Details = make(map[string]string)
	}
	h.Details[key] = value
}

// HasTags reports whether every tag in required is present on the host
func (h *Host) HasTags(required []string) bool {
	for _, want := range required {
		found := false
		for _, have := range h.Tags {
			if have == want {
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

// Well-known host detail keys
const (
	DetailUsername        = "username"
	DetailPassword        = "password"
	DetailDeferredConnect = "deferred.connect"
)

// Well-known cluster detail keys for cluster-scoped settings
const (
	ClusterDetailLocalStorageStrategy = "vm.local.storage.strategy"
	ClusterDetailCPUOvercommit        = "cpu.overprovisioning.factor"
	ClusterDetailMemOvercommit        = "mem.overprovisioning.factor"
)

// HostType defines what kind of resource a host record represents
type HostType string

const (
	HostTypeRouting          HostType = "Routing" // Compute host running guest VMs
	HostTypeStorage          HostType = "Storage"
	HostTypeSecondaryStorage HostType = "SecondaryStorage"
	HostTypeConsoleProxy     HostType = "ConsoleProxy"
)

// HostStatus is the connectivity axis of a host's agent
type HostStatus string

const (
	HostStatusCreating     HostStatus = "Creating"
	HostStatusConnecting   HostStatus = "Connecting"
	HostStatusUp           HostStatus = "Up"
	HostStatusDown         HostStatus = "Down"
	HostStatusDisconnected HostStatus = "Disconnected"
	HostStatusAlert        HostStatus = "Alert"
	HostStatusRemoved      HostStatus = "Removed"
	HostStatusError        HostStatus = "Error"
	HostStatusRebalancing  HostStatus = "Rebalancing"
)

// ResourceState is the administrative/operational axis of a host
type ResourceState string

const (
	ResourceStateCreating                     ResourceState = "Creating"
	ResourceStateEnabled                      ResourceState = "Enabled"
	ResourceStateDisabled                     ResourceState = "Disabled"
	ResourceStatePrepareForMaintenance        ResourceState = "PrepareForMaintenance"
	ResourceStateErrorInPrepareForMaintenance ResourceState = "ErrorInPrepareForMaintenance"
	ResourceStateMaintenance                  ResourceState = "Maintenance"
	ResourceStateErrorInMaintenance           ResourceState = "ErrorInMaintenance"
	ResourceStateDegraded                     ResourceState = "Degraded"
	ResourceStateError                        ResourceState = "Error"
)

// HypervisorType defines the hypervisor family of a host or cluster
type HypervisorType string

const (
	HypervisorKVM       HypervisorType = "KVM"
	HypervisorLXC       HypervisorType = "LXC"
	HypervisorXenServer HypervisorType = "XenServer"
	HypervisorVMware    HypervisorType = "VMware"
	HypervisorBareMetal HypervisorType = "BareMetal"
	HypervisorSimulator HypervisorType = "Simulator"
	HypervisorAny       HypervisorType = "Any"
	HypervisorNone      HypervisorType = "None"
)

// SupportsLiveMigration reports whether running VMs can be moved without a restart
func (h HypervisorType) SupportsLiveMigration() bool {
	switch h {
	case HypervisorKVM, HypervisorXenServer, HypervisorVMware, HypervisorSimulator:
		return true
	default:
		return false
	}
}

// RequiresManagementChannel reports whether the agent must be reachable over a
// management channel (and may be restarted over SSH) to leave maintenance
func (h HypervisorType) RequiresManagementChannel() bool {
	return h == HypervisorKVM || h == HypervisorLXC
}

// ClusterType defines who manages a cluster
type ClusterType string

const (
	ClusterTypeCloudManaged    ClusterType = "CloudManaged"
	ClusterTypeExternalManaged ClusterType = "ExternalManaged"
)

// AllocationState controls whether new workloads may be placed on a resource
type AllocationState string

const (
	AllocationEnabled  AllocationState = "Enabled"
	AllocationDisabled AllocationState = "Disabled"
)

// ManagedState tracks whether a cluster's hosts are connected to management
type ManagedState string

const (
	ManagedStateManaged               ManagedState = "Managed"
	ManagedStateUnmanaged             ManagedState = "Unmanaged"
	ManagedStatePrepareUnmanaged      ManagedState = "PrepareUnmanaged"
	ManagedStatePrepareUnmanagedError ManagedState = "PrepareUnmanagedError"
)

// LocalStorageStrategy selects how VMs on host-local storage are evacuated
type LocalStorageStrategy string

const (
	LocalStorageError     LocalStorageStrategy = "Error"
	LocalStorageMigration LocalStorageStrategy = "Migration"
	LocalStorageForceStop LocalStorageStrategy = "ForceStop"
)

// VM represents a guest virtual machine placed on a host
type VM struct {
	ID                      string
	UUID                    string
	Name                    string
	Type                    VMType
	State                   VMState
	HostID                  string
	LastHostID              string
	TargetHostID            string // Destination while Migrating
	HAEnabled               bool
	CPUs                    int
	CPUSpeed                int
	Memory                  int64
	HostTags                []string
	AffinityGroups          []string
	UsesLocalStorage        bool
	HasClusterScopedVolumes bool
	GuestOSCategoryID       string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// VMType defines the role of a VM
type VMType string

const (
	VMTypeUser               VMType = "User"
	VMTypeDomainRouter       VMType = "DomainRouter"
	VMTypeConsoleProxy       VMType = "ConsoleProxy"
	VMTypeSecondaryStorageVM VMType = "SecondaryStorageVm"
)

// IsMigratable reports whether VMs of this type follow live migration.
// System VMs backing storage and console access are recreated instead.
func (t VMType) IsMigratable() bool {
	return t != VMTypeConsoleProxy && t != VMTypeSecondaryStorageVM
}

// VMState represents the power/lifecycle state of a VM
type VMState string

const (
	VMStateStarting  VMState = "Starting"
	VMStateRunning   VMState = "Running"
	VMStateStopping  VMState = "Stopping"
	VMStateStopped   VMState = "Stopped"
	VMStateMigrating VMState = "Migrating"
	VMStateError     VMState = "Error"
	VMStateUnknown   VMState = "Unknown"
	VMStateDestroyed VMState = "Destroyed"
)

// StoragePoolScope defines the reach of a primary storage pool
type StoragePoolScope string

const (
	PoolScopeHost    StoragePoolScope = "Host"
	PoolScopeCluster StoragePoolScope = "Cluster"
	PoolScopeZone    StoragePoolScope = "Zone"
)

// StoragePool represents primary storage
type StoragePool struct {
	ID          string
	Name        string
	ZoneID      string
	PodID       string
	ClusterID   string
	HostID      string // Set for host-scoped (local) pools
	Scope       StoragePoolScope
	IsLocal     bool
	VolumeCount int
	CreatedAt   time.Time
}

// StoragePoolHostRef links a primary storage pool to a host that mounts it
type StoragePoolHostRef struct {
	PoolID string
	HostID string
}

// CapacityType identifies a capacity bookkeeping row
type CapacityType string

const (
	CapacityCPU          CapacityType = "CPU"
	CapacityMemory       CapacityType = "Memory"
	CapacityLocalStorage CapacityType = "LocalStorage"
)

// Capacity is a capacity bookkeeping row for a host or local pool
type Capacity struct {
	HostID  string
	PoolID  string
	Type    CapacityType
	Total   int64
	Used    int64
	Enabled bool
}

// DedicatedResource reserves a host for a domain or account
type DedicatedResource struct {
	ID        string
	HostID    string
	ClusterID string
	DomainID  string
	AccountID string
}

// Annotation is a free-form operator note attached to an entity
type Annotation struct {
	ID        string
	EntityID  string
	Text      string
	CreatedAt time.Time
}

// PrivateIPAllocation records a management-network address taken by a host
type PrivateIPAllocation struct {
	IP     string
	ZoneID string
	HostID string
}

// DeployDestination is where the planner decided a VM may run
type DeployDestination struct {
	ZoneID        string
	PodID         string
	ClusterID     string
	HostID        string
	StoragePoolID string
}
