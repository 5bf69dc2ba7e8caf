package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inventory metrics
	HostsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_hosts_total",
			Help: "Total number of hosts by agent status and resource state",
		},
		[]string{"status", "resource_state"},
	)

	ClustersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_clusters_total",
			Help: "Total number of live clusters",
		},
	)

	VMsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_vms_total",
			Help: "Total number of VMs by state",
		},
		[]string{"state"},
	)

	// Resource state machine metrics
	ResourceStateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_resource_state_transitions_total",
			Help: "Resource state transitions committed, by source state, target state and event",
		},
		[]string{"from", "to", "event"},
	)

	ResourceStateTransitionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_resource_state_transition_failures_total",
			Help: "Resource state transitions rejected or lost to a concurrent writer, by event",
		},
		[]string{"event"},
	)

	MaintenanceOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_maintenance_operations_total",
			Help: "Maintenance operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	// Discovery metrics
	HostsDiscovered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_hosts_discovered_total",
			Help: "Hosts registered through discovery, by hypervisor",
		},
		[]string{"hypervisor"},
	)

	DiscoveryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_discovery_failures_total",
			Help: "Discovery requests that found no host",
		},
	)

	DiscoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_discovery_duration_seconds",
			Help:    "Time taken to discover and register hosts",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Rolling maintenance metrics
	RollingCampaigns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_rolling_campaigns_total",
			Help: "Rolling maintenance campaigns by result",
		},
		[]string{"result"},
	)

	RollingHostOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_rolling_host_outcomes_total",
			Help: "Per-host results of rolling maintenance campaigns",
		},
		[]string{"outcome"},
	)

	RollingStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_rolling_stage_duration_seconds",
			Help:    "Time spent in each rolling maintenance stage",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800},
		},
		[]string{"stage"},
	)

	// HA work queue metrics
	HAWorkItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_ha_work_items",
			Help: "Pending HA work items by type and step",
		},
		[]string{"type", "step"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_raft_peers_total",
			Help: "Total number of management servers in the Raft configuration",
		},
	)

	HostClaims = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_host_claims_total",
			Help: "Hosts claimed by a management server in the replicated ownership table",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_api_requests_total",
			Help: "Total number of cluster API requests by method and status code",
		},
		[]string{"method", "code"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_api_request_duration_seconds",
			Help:    "Cluster API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	ReconciliationActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_reconciliation_actions_total",
			Help: "Reconciler actions by kind and result",
		},
		[]string{"action", "result"},
	)
)

func init() {
	prometheus.MustRegister(HostsTotal)
	prometheus.MustRegister(ClustersTotal)
	prometheus.MustRegister(VMsTotal)
	prometheus.MustRegister(ResourceStateTransitions)
	prometheus.MustRegister(ResourceStateTransitionFailures)
	prometheus.MustRegister(MaintenanceOperations)
	prometheus.MustRegister(HostsDiscovered)
	prometheus.MustRegister(DiscoveryFailures)
	prometheus.MustRegister(DiscoveryDuration)
	prometheus.MustRegister(RollingCampaigns)
	prometheus.MustRegister(RollingHostOutcomes)
	prometheus.MustRegister(RollingStageDuration)
	prometheus.MustRegister(HAWorkItems)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(HostClaims)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationActions)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
