/*
Package types defines the core data structures used throughout Burrow.

The records in this package describe the infrastructure inventory that the
resource manager and the rolling maintenance orchestrator act on: zones, pods,
clusters, hosts, guest VMs, primary storage pools and the capacity rows kept
for every compute host.

# Two independent host axes

Every Host carries two state fields that must never be conflated:

	Status         connectivity of the host agent (Up, Down, Alert, Disconnected, ...)
	ResourceState  administrative lifecycle (Enabled, Disabled, Maintenance, ...)

A host can be Up and in Maintenance at the same time, or Disconnected while
still Enabled. Status is driven by the agent transport; ResourceState is only
ever changed through the resource-state machine in package resourcestate.

# Enumerations

All enumerations are string types so that records serialize to readable JSON
in the bbolt store and in logs:

	HostType        Routing, Storage, SecondaryStorage, ConsoleProxy
	HypervisorType  KVM, LXC, XenServer, VMware, BareMetal, Simulator, Any
	VMState         Starting, Running, Stopping, Stopped, Migrating, Error, Unknown
	ManagedState    Managed, Unmanaged, PrepareUnmanaged, PrepareUnmanagedError

# Soft deletion

Hosts and clusters are soft-deleted by setting Removed. Storage listing queries
filter removed rows, so callers never observe a deleted host.

# Cluster-scoped settings

Some maintenance settings are configurable per cluster through Cluster.Details
(ClusterDetailLocalStorageStrategy, ClusterDetailCPUOvercommit,
ClusterDetailMemOvercommit). Package config resolves them with a fallback to
the global configuration.
*/
package types
