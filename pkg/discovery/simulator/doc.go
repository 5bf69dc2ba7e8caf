/*
Package simulator provides a discoverer and resource state adapter for
simulated direct-connect hosts.

Registering the discoverer lets a management server run end to end without
real hypervisors:

	sim := simulator.NewDiscoverer()
	coordinator.RegisterDiscoverer(sim)
	adapters.Register(simulator.NewAdapter())

	hosts, err := coordinator.DiscoverHosts(ctx, discovery.DiscoverHostsRequest{
		ZoneID:     zone.ID,
		PodID:      pod.ID,
		ClusterID:  cluster.ID,
		URL:        "sim://rack1?hosts=2",
		Hypervisor: types.HypervisorSimulator,
	})

Each Resource answers every agent command in memory. Tests script rolling
maintenance stages with SetStage (failures, agent restarts, long-running
hooks) and read back what was executed with Calls and Stages.
*/
package simulator
