/*
Package metrics provides Prometheus metrics and health endpoints for Burrow.

All vectors are package-level and registered with the default registry in
init, so instrumenting code simply increments them:

	metrics.ResourceStateTransitions.WithLabelValues(string(from), string(to), string(event)).Inc()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RollingStageDuration, string(stage))

# Metric families

	burrow_hosts_total{status,resource_state}          gauge, refreshed by Collector
	burrow_clusters_total                               gauge, refreshed by Collector
	burrow_vms_total{state}                             gauge, refreshed by Collector
	burrow_resource_state_transitions_total{from,to,event}
	burrow_resource_state_transition_failures_total{event}
	burrow_maintenance_operations_total{operation,result}
	burrow_hosts_discovered_total{hypervisor}
	burrow_discovery_failures_total
	burrow_discovery_duration_seconds
	burrow_rolling_campaigns_total{result}
	burrow_rolling_host_outcomes_total{outcome}
	burrow_rolling_stage_duration_seconds{stage}
	burrow_ha_work_items{type,step}
	burrow_raft_is_leader, burrow_raft_peers_total, burrow_host_claims_total

# Health

RegisterComponent and UpdateComponent record component health. The
/health endpoint reports unhealthy when any component is unhealthy; /ready
requires the raft, storage and transport components to be registered and
healthy; /live always answers 200.
*/
package metrics
