package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/directory"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// MaintenanceChecker re-evaluates a host on its way to maintenance
type MaintenanceChecker interface {
	CheckAndMaintain(ctx context.Context, hostID string) (bool, error)
}

// DeferredConnector completes the handshake of a host registered in bulk
type DeferredConnector interface {
	ConnectDeferred(ctx context.Context, hostID string) error
}

// ClaimSyncer aligns the replicated ownership table with the inventory
type ClaimSyncer interface {
	SyncClaims(hosts []*types.Host) (int, error)
}

// Config wires the reconciler. Deferred and Claims are optional.
type Config struct {
	Directory   *directory.Directory
	Maintenance MaintenanceChecker
	Deferred    DeferredConnector
	Claims      ClaimSyncer
	Interval    time.Duration
}

// Reconciler drives hosts toward the state their last request asked for
type Reconciler struct {
	dir         *directory.Directory
	maintenance MaintenanceChecker
	deferred    DeferredConnector
	claims      ClaimSyncer
	interval    time.Duration

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
	logger zerolog.Logger
}

// preparingStates are re-checked every cycle until they converge
var preparingStates = []types.ResourceState{
	types.ResourceStatePrepareForMaintenance,
	types.ResourceStateErrorInPrepareForMaintenance,
	types.ResourceStateErrorInMaintenance,
}

// NewReconciler creates a new reconciler
func NewReconciler(cfg Config) *Reconciler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Reconciler{
		dir:         cfg.Directory,
		maintenance: cfg.Maintenance,
		deferred:    cfg.Deferred,
		claims:      cfg.Claims,
		interval:    interval,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      log.WithComponent("reconciler"),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	metrics.RegisterComponent(metrics.ComponentReconciler, true, "")
	go r.run()
}

// Stop stops the reconciler and waits for the running cycle to finish
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// run is the main reconciliation loop
func (r *Reconciler) run() {
	defer close(r.doneCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-r.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Reconcile(ctx)
		case <-r.stopCh:
			return
		}
	}
}

// Reconcile performs one reconciliation cycle. Failures are logged and
// retried on the next cycle.
func (r *Reconciler) Reconcile(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	healthy := true
	if err := r.reconcileMaintenance(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Failed to reconcile maintenance")
		healthy = false
	}

	if err := r.reconcileDeferred(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Failed to reconcile deferred hosts")
		healthy = false
	}

	if err := r.reconcileClaims(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to reconcile host claims")
		healthy = false
	}

	if healthy {
		metrics.UpdateComponent(metrics.ComponentReconciler, true, "")
	} else {
		metrics.UpdateComponent(metrics.ComponentReconciler, false, "last cycle had errors")
	}
}

// reconcileMaintenance re-runs the convergence check of every host still
// preparing for or stuck short of maintenance
func (r *Reconciler) reconcileMaintenance(ctx context.Context) error {
	hosts, err := r.dir.ListHosts(directory.Query{ResourceStates: preparingStates})
	if err != nil {
		return err
	}

	for _, host := range hosts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reached, err := r.maintenance.CheckAndMaintain(ctx, host.ID)
		if err != nil {
			metrics.ReconciliationActions.WithLabelValues("check_maintenance", "error").Inc()
			r.logger.Warn().Err(err).Str(log.FieldHostID, host.ID).Msg("Maintenance check failed")
			continue
		}
		metrics.ReconciliationActions.WithLabelValues("check_maintenance", "ok").Inc()
		if reached {
			r.logger.Info().Str(log.FieldHostID, host.ID).Str("host", host.Name).Msg("Host reached maintenance")
		}
	}
	return nil
}

// reconcileDeferred connects hosts registered without a handshake
func (r *Reconciler) reconcileDeferred(ctx context.Context) error {
	if r.deferred == nil {
		return nil
	}
	hosts, err := r.dir.DeferredHosts()
	if err != nil {
		return err
	}

	for _, host := range hosts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.deferred.ConnectDeferred(ctx, host.ID); err != nil {
			metrics.ReconciliationActions.WithLabelValues("connect_deferred", "error").Inc()
			r.logger.Warn().Err(err).Str(log.FieldHostID, host.ID).Msg("Deferred connection failed")
			continue
		}
		metrics.ReconciliationActions.WithLabelValues("connect_deferred", "ok").Inc()
		r.logger.Info().Str(log.FieldHostID, host.ID).Str("host", host.Name).Msg("Deferred host connected")
	}
	return nil
}

func (r *Reconciler) reconcileClaims() error {
	if r.claims == nil {
		return nil
	}
	hosts, err := r.dir.ListHosts(directory.Query{})
	if err != nil {
		return err
	}
	changed, err := r.claims.SyncClaims(hosts)
	if err != nil {
		metrics.ReconciliationActions.WithLabelValues("sync_claims", "error").Inc()
		return err
	}
	if changed > 0 {
		metrics.ReconciliationActions.WithLabelValues("sync_claims", "ok").Add(float64(changed))
	}
	return nil
}
