package rolling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/planner"
	"github.com/cuemby/burrow/pkg/poll"
	"github.com/cuemby/burrow/pkg/resourcestate"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// campaign is the in-memory state of one StartRollingMaintenance call
type campaign struct {
	o       *Orchestrator
	req     Request
	timeout time.Duration
	rolling config.RollingConfig
	report  *Report
	logger  zerolog.Logger
}

// blockingVMStates are the VM states that stop a cluster from being rolled
var blockingVMStates = map[types.VMState]bool{
	types.VMStateStarting:  true,
	types.VMStateStopping:  true,
	types.VMStateMigrating: true,
	types.VMStateError:     true,
	types.VMStateUnknown:   true,
}

// runCluster processes one cluster. A returned error stops the campaign.
func (c *campaign) runCluster(ctx context.Context, g clusterGroup) error {
	logger := c.logger.With().Str(log.FieldClusterID, g.clusterID).Logger()

	if err := c.checkVMStates(g); err != nil {
		return err
	}

	restore, err := c.disableAllocation(g.clusterID)
	if err != nil {
		return err
	}
	defer restore()

	// Every host is checked and pre-flighted before any enters maintenance
	for _, host := range g.hosts {
		if res := c.checkState(host); !c.settle(host, res) {
			if err := stop(res); err != nil {
				return err
			}
		}
	}

	for _, host := range c.active(g.hosts) {
		res, err := c.checkCapacity(ctx, host)
		if err != nil {
			return err
		}
		if !c.settle(host, res) {
			if err := stop(res); err != nil {
				return err
			}
		}
	}

	for _, host := range c.active(g.hosts) {
		res := c.runStage(ctx, host, agent.StagePreFlight)
		if res.outcome == Success && res.answer != nil && res.answer.AvoidMaintenance {
			res = stageResult{outcome: Skip, details: fmt.Sprintf("host %s asked to avoid maintenance: %s", host.Name, res.answer.Details)}
		}
		if !c.settle(host, res) {
			if err := stop(res); err != nil {
				return err
			}
		}
	}

	for _, host := range c.active(g.hosts) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.rollHost(ctx, host); err != nil {
			return err
		}
	}

	logger.Info().Int("hosts", len(g.hosts)).Msg("Cluster rolled")
	return nil
}

// active returns the hosts not skipped so far
func (c *campaign) active(hosts []*types.Host) []*types.Host {
	out := make([]*types.Host, 0, len(hosts))
	for _, h := range hosts {
		if !c.report.skipped(h.ID) {
			out = append(out, h)
		}
	}
	return out
}

// settle records a skip and reports whether the host may continue
func (c *campaign) settle(host *types.Host, res stageResult) bool {
	switch res.outcome {
	case Success:
		return true
	case Skip:
		c.report.Skipped = append(c.report.Skipped, HostSkipped{HostID: host.ID, HostName: host.Name, Reason: res.details})
		c.hostDone(host, Skip, res.details)
		c.logger.Warn().Str(log.FieldHostID, host.ID).Str("reason", res.details).Msg("Host skipped")
	default:
		c.hostDone(host, Fail, res.details)
	}
	return false
}

func (c *campaign) hostDone(host *types.Host, outcome Outcome, details string) {
	metrics.RollingHostOutcomes.WithLabelValues(outcome.String()).Inc()
	c.o.publish(events.EventRollingHostDone, fmt.Sprintf("host %s: %s", host.Name, outcome), map[string]string{
		events.MetaHostID:    host.ID,
		events.MetaClusterID: host.ClusterID,
		events.MetaOutcome:   outcome.String(),
		"details":            details,
	})
}

// checkVMStates rejects the cluster while any VM on its hosts is in flux.
// Forcing does not override this.
func (c *campaign) checkVMStates(g clusterGroup) error {
	for _, host := range g.hosts {
		vms, err := c.o.dir.VMsOnHost(host.ID)
		if err != nil {
			return err
		}
		for _, vm := range vms {
			if blockingVMStates[vm.State] {
				return fmt.Errorf("vm %s on host %s is %s, cluster %s cannot be rolled", vm.Name, host.Name, vm.State, g.clusterID)
			}
		}
	}
	return nil
}

// disableAllocation stops new placements in the cluster and returns the
// function restoring the previous allocation state
func (c *campaign) disableAllocation(clusterID string) (func(), error) {
	var previous types.AllocationState
	err := c.o.store.Update(func(tx storage.Store) error {
		cluster, err := tx.GetCluster(clusterID)
		if err != nil {
			return err
		}
		previous = cluster.AllocationState
		cluster.AllocationState = types.AllocationDisabled
		return tx.UpdateCluster(cluster)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to disable allocation of cluster %s: %w", clusterID, err)
	}

	return func() {
		err := c.o.store.Update(func(tx storage.Store) error {
			cluster, err := tx.GetCluster(clusterID)
			if err != nil {
				return err
			}
			cluster.AllocationState = previous
			return tx.UpdateCluster(cluster)
		})
		if err != nil {
			c.logger.Error().Err(err).Str(log.FieldClusterID, clusterID).Msg("Failed to restore cluster allocation state")
		}
	}, nil
}

func (c *campaign) checkState(host *types.Host) stageResult {
	current, err := c.o.dir.Get(host.ID)
	if err != nil {
		return c.failure(fmt.Sprintf("host %s: %v", host.Name, err))
	}
	if current.Status != types.HostStatusUp || current.ResourceState != types.ResourceStateEnabled {
		return c.failure(fmt.Sprintf("host %s is %s and %s, it must be Up and Enabled",
			host.Name, current.Status, current.ResourceState))
	}
	return stageResult{outcome: Success}
}

// checkCapacity makes sure every running VM of host fits on another host
// of its cluster
func (c *campaign) checkCapacity(ctx context.Context, host *types.Host) (stageResult, error) {
	vms, err := c.o.dir.VMsOnHost(host.ID)
	if err != nil {
		return stageResult{}, err
	}
	for _, vm := range vms {
		if vm.State != types.VMStateRunning {
			continue
		}
		_, err := c.o.planner.PlanDeployment(ctx, vm, planner.Plan{ClusterID: host.ClusterID, Exclude: []string{host.ID}})
		if fault.Is(err, fault.KindInsufficientCapacity) {
			return c.failure(fmt.Sprintf("no other host in the cluster can take vm %s from host %s", vm.Name, host.Name)), nil
		}
		if err != nil {
			return stageResult{}, fmt.Errorf("capacity check of host %s: %w", host.Name, err)
		}
	}
	return stageResult{outcome: Success}, nil
}

// rollHost runs the per-host stages. Maintenance mode entered here is
// always cancelled before the post-maintenance stage.
func (c *campaign) rollHost(ctx context.Context, host *types.Host) error {
	logger := c.logger.With().Str(log.FieldHostID, host.ID).Str("host", host.Name).Logger()
	start := time.Now()

	if ok, reason := c.hasScript(ctx, host); !ok {
		c.settle(host, stageResult{outcome: Skip, details: reason})
		return nil
	}

	res := c.runStage(ctx, host, agent.StagePreMaintenance)
	if !c.settle(host, res) {
		return stop(res)
	}
	avoid := res.answer != nil && res.answer.AvoidMaintenance

	if !avoid {
		res, err := c.checkCapacity(ctx, host)
		if err != nil {
			return err
		}
		if !c.settle(host, res) {
			return stop(res)
		}

		res = c.maintenanceWindow(ctx, host)
		if !c.settle(host, res) {
			return stop(res)
		}
	} else {
		logger.Info().Msg("Host asked to avoid maintenance, skipping the maintenance stage")
	}

	res = c.runStage(ctx, host, agent.StagePostMaintenance)
	if !c.settle(host, res) {
		return stop(res)
	}

	c.report.Updated = append(c.report.Updated, HostUpdated{
		HostID:   host.ID,
		HostName: host.Name,
		Start:    start,
		End:      time.Now(),
		Output:   res.details,
	})
	c.hostDone(host, Success, res.details)
	logger.Info().Dur("duration", time.Since(start)).Msg("Host rolled")
	return nil
}

func stop(res stageResult) error {
	if res.outcome == Fail {
		return errors.New(res.details)
	}
	return nil
}

// maintenanceWindow puts the host in maintenance, runs the maintenance stage
// and cancels maintenance whatever happened
func (c *campaign) maintenanceWindow(ctx context.Context, host *types.Host) (res stageResult) {
	defer func() {
		current, err := c.o.dir.Get(host.ID)
		if err == nil && !resourcestate.IsMaintenanceState(current.ResourceState) {
			return
		}
		if err == nil {
			_, err = c.o.hosts.CancelMaintenance(ctx, host.ID)
		}
		if err != nil {
			c.logger.Error().Err(err).Str(log.FieldHostID, host.ID).Msg("Failed to cancel maintenance")
			if res.outcome != Fail {
				res = stageResult{outcome: Fail, details: fmt.Sprintf("failed to cancel maintenance of host %s: %v", host.Name, err)}
			}
		}
	}()

	if err := c.enterMaintenance(ctx, host); err != nil {
		if fault.Is(err, fault.KindTimeout) {
			return stageResult{outcome: Fail, details: err.Error()}
		}
		return c.failure(fmt.Sprintf("host %s could not enter maintenance: %v", host.Name, err))
	}
	return c.runStage(ctx, host, agent.StageMaintenance)
}

// enterMaintenance asks for maintenance and blocks until the host reaches it
func (c *campaign) enterMaintenance(ctx context.Context, host *types.Host) error {
	ok, err := c.o.hosts.Maintain(ctx, host.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fault.New(fault.KindAgentUnavailable, "agent did not acknowledge maintenance").WithEntity(host.UUID)
	}

	waiter := poll.NewWaiter(c.rolling.WaitMaintenanceTimeout, c.rolling.PollInterval)
	return waiter.WaitFor(ctx, func(ctx context.Context) (bool, error) {
		current, err := c.o.dir.Get(host.ID)
		if err != nil {
			return false, err
		}
		if current.ResourceState == types.ResourceStateMaintenance {
			return true, nil
		}
		return c.o.hosts.CheckAndMaintain(ctx, host.ID)
	}, fmt.Sprintf("host %s to enter maintenance", host.Name))
}
