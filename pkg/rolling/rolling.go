package rolling

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/directory"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/planner"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// HostMaintainer puts single hosts in and out of maintenance
type HostMaintainer interface {
	Maintain(ctx context.Context, hostID string) (bool, error)
	CheckAndMaintain(ctx context.Context, hostID string) (bool, error)
	CancelMaintenance(ctx context.Context, hostID string) (bool, error)
}

// Request scopes a campaign. Exactly one of the id lists must be set.
type Request struct {
	HostIDs    []string
	ClusterIDs []string
	PodIDs     []string
	ZoneIDs    []string

	// Timeout bounds every stage; zero uses rolling.stage_timeout
	Timeout time.Duration
	// Payload is handed to the maintenance hook of every stage
	Payload string
	// Forced downgrades stage, state and capacity failures to skips
	Forced bool
}

// HostUpdated records a host that went through every stage
type HostUpdated struct {
	HostID   string
	HostName string
	Start    time.Time
	End      time.Time
	Output   string
}

// HostSkipped records a host left out of the campaign
type HostSkipped struct {
	HostID   string
	HostName string
	Reason   string
}

// Report is the result of a campaign. Success is false when a fatal
// failure stopped it; Details then holds that failure.
type Report struct {
	Success bool
	Details string
	Updated []HostUpdated
	Skipped []HostSkipped
}

func (r *Report) skipped(hostID string) bool {
	for _, s := range r.Skipped {
		if s.HostID == hostID {
			return true
		}
	}
	return false
}

// Config wires the orchestrator. Broker is optional.
type Config struct {
	Store     storage.Store
	Directory *directory.Directory
	Transport agent.Transport
	Planner   planner.Planner
	Hosts     HostMaintainer
	Settings  *config.Settings
	Broker    *events.Broker
}

// Orchestrator runs rolling maintenance campaigns
type Orchestrator struct {
	store     storage.Store
	dir       *directory.Directory
	transport agent.Transport
	planner   planner.Planner
	hosts     HostMaintainer
	settings  *config.Settings
	broker    *events.Broker
	logger    zerolog.Logger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(cfg Config) *Orchestrator {
	o := &Orchestrator{
		store:     cfg.Store,
		dir:       cfg.Directory,
		transport: cfg.Transport,
		planner:   cfg.Planner,
		hosts:     cfg.Hosts,
		settings:  cfg.Settings,
		broker:    cfg.Broker,
		logger:    log.WithComponent("rolling"),
	}
	if o.dir == nil {
		o.dir = directory.New(cfg.Store)
	}
	return o
}

// StartRollingMaintenance validates the scope and runs the campaign cluster
// by cluster. Setup errors are returned as errors; anything that goes wrong
// once hosts are being touched is reported in the Report.
func (o *Orchestrator) StartRollingMaintenance(ctx context.Context, req Request) (*Report, error) {
	rc := o.settings.Config().Rolling
	timeout, err := o.stageTimeout(req)
	if err != nil {
		return nil, err
	}

	hosts, err := o.resolveHosts(req)
	if err != nil {
		return nil, err
	}
	clusters := groupByCluster(hosts)

	campaign := &campaign{
		o:       o,
		req:     req,
		timeout: timeout,
		rolling: rc,
		report:  &Report{},
		logger: o.logger.With().
			Int("hosts", len(hosts)).
			Int("clusters", len(clusters)).
			Bool("forced", req.Forced).
			Logger(),
	}

	o.publish(events.EventRollingStarted, fmt.Sprintf("rolling maintenance of %d hosts in %d clusters", len(hosts), len(clusters)), map[string]string{
		"hosts":    strconv.Itoa(len(hosts)),
		"clusters": strconv.Itoa(len(clusters)),
	})
	campaign.logger.Info().Msg("Rolling maintenance started")

	report := campaign.report
	defer func() {
		result := "success"
		if !report.Success {
			result = "failure"
		}
		metrics.RollingCampaigns.WithLabelValues(result).Inc()
		o.publish(events.EventRollingCompleted, fmt.Sprintf("rolling maintenance finished: %d updated, %d skipped", len(report.Updated), len(report.Skipped)), map[string]string{
			events.MetaOutcome: result,
			"updated":          strconv.Itoa(len(report.Updated)),
			"skipped":          strconv.Itoa(len(report.Skipped)),
			"details":          report.Details,
		})
	}()

	for _, group := range clusters {
		if err := campaign.runCluster(ctx, group); err != nil {
			report.Success = false
			report.Details = err.Error()
			campaign.logger.Error().Err(err).Str(log.FieldClusterID, group.clusterID).Msg("Rolling maintenance stopped")
			return report, nil
		}
	}

	report.Success = true
	report.Details = fmt.Sprintf("%d hosts updated, %d skipped", len(report.Updated), len(report.Skipped))
	campaign.logger.Info().
		Int("updated", len(report.Updated)).
		Int("skipped", len(report.Skipped)).
		Msg("Rolling maintenance completed")
	return report, nil
}

// ClusterPlan lists the hosts of one cluster in the order a campaign visits them
type ClusterPlan struct {
	ClusterID string
	Hosts     []*types.Host
}

// Preview validates req like StartRollingMaintenance and returns what the
// campaign would touch, without sending anything to a host
func (o *Orchestrator) Preview(req Request) ([]ClusterPlan, error) {
	if _, err := o.stageTimeout(req); err != nil {
		return nil, err
	}
	hosts, err := o.resolveHosts(req)
	if err != nil {
		return nil, err
	}
	groups := groupByCluster(hosts)
	plans := make([]ClusterPlan, 0, len(groups))
	for _, g := range groups {
		plans = append(plans, ClusterPlan{ClusterID: g.clusterID, Hosts: g.hosts})
	}
	return plans, nil
}

func (o *Orchestrator) stageTimeout(req Request) (time.Duration, error) {
	rc := o.settings.Config().Rolling
	timeout := req.Timeout
	if timeout == 0 {
		timeout = rc.StageTimeout
	}
	if timeout <= rc.PingInterval {
		return 0, fault.InvalidParameter("timeout %v must be greater than the agent ping interval %v", timeout, rc.PingInterval)
	}
	return timeout, nil
}

func (o *Orchestrator) publish(t events.EventType, msg string, meta map[string]string) {
	if o.broker == nil {
		return
	}
	o.broker.Publish(&events.Event{Type: t, Message: msg, Metadata: meta})
}

// participates reports whether hosts of the hypervisor run maintenance hooks.
// Simulator hosts stand in for KVM.
func participates(h types.HypervisorType) bool {
	return h == types.HypervisorKVM || h == types.HypervisorSimulator
}

// resolveHosts expands the scope into participating routing hosts
func (o *Orchestrator) resolveHosts(req Request) ([]*types.Host, error) {
	set := 0
	for _, ids := range [][]string{req.HostIDs, req.ClusterIDs, req.PodIDs, req.ZoneIDs} {
		if len(ids) > 0 {
			set++
		}
	}
	if set != 1 {
		return nil, fault.InvalidParameter("exactly one of host ids, cluster ids, pod ids or zone ids must be given")
	}

	var hosts []*types.Host
	switch {
	case len(req.HostIDs) > 0:
		for _, id := range req.HostIDs {
			host, err := o.dir.Get(id)
			if err != nil {
				return nil, fault.InvalidParameter("host %s does not exist", id)
			}
			hosts = append(hosts, host)
		}

	case len(req.ClusterIDs) > 0:
		for _, id := range req.ClusterIDs {
			cluster, err := o.store.GetCluster(id)
			if err != nil || cluster.Removed != nil {
				return nil, fault.InvalidParameter("cluster %s does not exist", id)
			}
			found, err := o.dir.HostsInCluster(id)
			if err != nil {
				return nil, err
			}
			hosts = append(hosts, found...)
		}

	case len(req.PodIDs) > 0:
		for _, id := range req.PodIDs {
			if _, err := o.store.GetPod(id); err != nil {
				return nil, fault.InvalidParameter("pod %s does not exist", id)
			}
			found, err := o.dir.HostsInPod(id)
			if err != nil {
				return nil, err
			}
			hosts = append(hosts, found...)
		}

	default:
		for _, id := range req.ZoneIDs {
			if _, err := o.store.GetZone(id); err != nil {
				return nil, fault.InvalidParameter("zone %s does not exist", id)
			}
			found, err := o.dir.HostsInZone(id)
			if err != nil {
				return nil, err
			}
			hosts = append(hosts, found...)
		}
	}

	seen := make(map[string]bool, len(hosts))
	out := hosts[:0]
	for _, h := range hosts {
		if seen[h.ID] || h.Type != types.HostTypeRouting || !participates(h.Hypervisor) || h.ClusterID == "" {
			continue
		}
		seen[h.ID] = true
		out = append(out, h)
	}
	return out, nil
}

type clusterGroup struct {
	clusterID string
	hosts     []*types.Host
}

// groupByCluster keeps clusters in order of first appearance and hosts by name
func groupByCluster(hosts []*types.Host) []clusterGroup {
	index := make(map[string]int)
	var groups []clusterGroup
	for _, h := range hosts {
		i, ok := index[h.ClusterID]
		if !ok {
			i = len(groups)
			index[h.ClusterID] = i
			groups = append(groups, clusterGroup{clusterID: h.ClusterID})
		}
		groups[i].hosts = append(groups[i].hosts, h)
	}
	for _, g := range groups {
		sort.SliceStable(g.hosts, func(a, b int) bool { return g.hosts[a].Name < g.hosts[b].Name })
	}
	return groups
}
