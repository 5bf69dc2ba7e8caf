package metrics

import (
	"time"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// RaftSource exposes the replicated ownership state of the management server
type RaftSource interface {
	IsLeader() bool
	PeerCount() int
	ClaimCount() int
}

// Collector periodically refreshes inventory gauges from the store
type Collector struct {
	store    storage.Store
	raft     RaftSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector. raft may be nil when the
// server runs without a replicated ownership table.
func NewCollector(store storage.Store, raft RaftSource) *Collector {
	return &Collector{
		store:    store,
		raft:     raft,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectHostMetrics()
	c.collectClusterMetrics()
	c.collectVMMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectHostMetrics() {
	hosts, err := c.store.ListHosts(storage.HostFilter{})
	if err != nil {
		return
	}

	type key struct {
		status types.HostStatus
		state  types.ResourceState
	}
	counts := make(map[key]int)
	for _, host := range hosts {
		counts[key{host.Status, host.ResourceState}]++
	}

	HostsTotal.Reset()
	for k, count := range counts {
		HostsTotal.WithLabelValues(string(k.status), string(k.state)).Set(float64(count))
	}
}

func (c *Collector) collectClusterMetrics() {
	clusters, err := c.store.ListClusters(storage.ClusterFilter{})
	if err != nil {
		return
	}

	ClustersTotal.Set(float64(len(clusters)))
}

func (c *Collector) collectVMMetrics() {
	vms, err := c.store.ListVMs(storage.VMFilter{})
	if err != nil {
		return
	}

	counts := make(map[types.VMState]int)
	for _, vm := range vms {
		counts[vm.State]++
	}

	VMsTotal.Reset()
	for state, count := range counts {
		VMsTotal.WithLabelValues(string(state)).Set(float64(count))
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.raft == nil {
		return
	}

	if c.raft.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
	RaftPeers.Set(float64(c.raft.PeerCount()))
	HostClaims.Set(float64(c.raft.ClaimCount()))
}
