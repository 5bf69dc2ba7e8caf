package ha

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/planner"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Manager schedules asynchronous VM work during evacuations
type Manager interface {
	ScheduleStop(vm *types.VM, hostID string, force bool) error
	ScheduleRestart(vm *types.VM, hostID string) error
	ScheduleMigration(vm *types.VM, dest *types.DeployDestination) error
	ScheduleDestroy(vm *types.VM, hostID string) error
	// CancelScheduledMigrations drops migrations out of hostID that have not started
	CancelScheduledMigrations(hostID string)
	// HasPendingMigrationsWork reports whether a migration for the VM is waiting or retrying
	HasPendingMigrationsWork(vmID string) bool
	// HasPendingWork reports whether any work for the VM is waiting or executing
	HasPendingWork(vmID string) bool
	// FindTakenMigrationWork returns migrations currently executing
	FindTakenMigrationWork() []*WorkItem
	// FindFailedMigrationWork returns migrations out of hostID that gave up
	FindFailedMigrationWork(hostID string) []*WorkItem
}

// WorkType is the kind of HA work
type WorkType string

const (
	WorkMigration WorkType = "Migration"
	WorkStop      WorkType = "Stop"
	WorkForceStop WorkType = "ForceStop"
	WorkRestart   WorkType = "Restart"
	WorkDestroy   WorkType = "Destroy"
)

// Step is where a work item is in its lifecycle
type Step string

const (
	StepScheduled Step = "Scheduled"
	StepTaken     Step = "Taken"
	StepDone      Step = "Done"
	StepError     Step = "Error"
	StepCancelled Step = "Cancelled"
)

// WorkItem is one unit of HA work for a VM
type WorkItem struct {
	ID        string
	VMID      string
	HostID    string // Source host
	Type      WorkType
	Step      Step
	Dest      *types.DeployDestination
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkQueue is an in-process Manager that applies work to the VM records
type WorkQueue struct {
	store       storage.Store
	planner     planner.Planner
	maxAttempts int
	interval    time.Duration
	logger      zerolog.Logger

	mu     sync.Mutex
	items  []*WorkItem
	stopCh chan struct{}
}

// NewWorkQueue creates a queue processed every interval once started
func NewWorkQueue(store storage.Store, p planner.Planner, interval time.Duration, maxAttempts int) *WorkQueue {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &WorkQueue{
		store:       store,
		planner:     p,
		maxAttempts: maxAttempts,
		interval:    interval,
		logger:      log.WithComponent("ha"),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the processing loop
func (q *WorkQueue) Start() {
	go q.run()
}

// Stop stops the processing loop
func (q *WorkQueue) Stop() {
	close(q.stopCh)
}

func (q *WorkQueue) run() {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.Process(context.Background())
		case <-q.stopCh:
			return
		}
	}
}

func (q *WorkQueue) add(vm *types.VM, hostID string, typ WorkType, dest *types.DeployDestination) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// One live item per VM: newer work replaces scheduled work
	for _, item := range q.items {
		if item.VMID == vm.ID && item.Step == StepScheduled {
			item.Step = StepCancelled
		}
	}

	now := time.Now()
	q.items = append(q.items, &WorkItem{
		ID:        uuid.New().String(),
		VMID:      vm.ID,
		HostID:    hostID,
		Type:      typ,
		Step:      StepScheduled,
		Dest:      dest,
		CreatedAt: now,
		UpdatedAt: now,
	})

	q.logger.Debug().
		Str("vm_id", vm.ID).
		Str(log.FieldHostID, hostID).
		Str("work", string(typ)).
		Msg("Work scheduled")
}

func (q *WorkQueue) ScheduleStop(vm *types.VM, hostID string, force bool) error {
	typ := WorkStop
	if force {
		typ = WorkForceStop
	}
	q.add(vm, hostID, typ, nil)
	return nil
}

func (q *WorkQueue) ScheduleRestart(vm *types.VM, hostID string) error {
	q.add(vm, hostID, WorkRestart, nil)
	return nil
}

func (q *WorkQueue) ScheduleMigration(vm *types.VM, dest *types.DeployDestination) error {
	if dest == nil || dest.HostID == "" {
		return fmt.Errorf("migration of vm %s needs a destination host", vm.ID)
	}
	q.add(vm, vm.HostID, WorkMigration, dest)
	return nil
}

func (q *WorkQueue) ScheduleDestroy(vm *types.VM, hostID string) error {
	q.add(vm, hostID, WorkDestroy, nil)
	return nil
}

func (q *WorkQueue) CancelScheduledMigrations(hostID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		if item.Type == WorkMigration && item.HostID == hostID && item.Step == StepScheduled {
			item.Step = StepCancelled
			item.UpdatedAt = time.Now()
		}
	}
}

func (q *WorkQueue) HasPendingMigrationsWork(vmID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		if item.Type == WorkMigration && item.VMID == vmID && item.Step == StepScheduled {
			return true
		}
	}
	return false
}

func (q *WorkQueue) HasPendingWork(vmID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		if item.VMID == vmID && (item.Step == StepScheduled || item.Step == StepTaken) {
			return true
		}
	}
	return false
}

func (q *WorkQueue) FindTakenMigrationWork() []*WorkItem {
	return q.find(func(item *WorkItem) bool {
		return item.Type == WorkMigration && item.Step == StepTaken
	})
}

func (q *WorkQueue) FindFailedMigrationWork(hostID string) []*WorkItem {
	return q.find(func(item *WorkItem) bool {
		return item.Type == WorkMigration && item.Step == StepError && item.HostID == hostID
	})
}

// Items returns a copy of every work item
func (q *WorkQueue) Items() []*WorkItem {
	return q.find(func(*WorkItem) bool { return true })
}

func (q *WorkQueue) find(match func(*WorkItem) bool) []*WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*WorkItem
	for _, item := range q.items {
		if match(item) {
			c := *item
			out = append(out, &c)
		}
	}
	return out
}

// Process advances every live work item by one step
func (q *WorkQueue) Process(ctx context.Context) {
	defer q.recordGauge()

	q.mu.Lock()
	type pending struct {
		item *WorkItem
		step Step
	}
	live := make([]pending, 0, len(q.items))
	kept := q.items[:0]
	for _, item := range q.items {
		switch item.Step {
		case StepScheduled, StepTaken:
			live = append(live, pending{item: item, step: item.Step})
			kept = append(kept, item)
		case StepError:
			kept = append(kept, item)
		}
	}
	q.items = kept
	q.mu.Unlock()

	for _, p := range live {
		if err := ctx.Err(); err != nil {
			return
		}
		item := p.item
		next, err := q.apply(ctx, item, p.step)

		q.mu.Lock()
		// A migration that already started cannot be cancelled any more
		if item.Step == StepCancelled && !(err == nil && next == StepTaken) {
			q.mu.Unlock()
			continue
		}
		item.UpdatedAt = time.Now()
		if err != nil {
			item.Attempts++
			item.LastError = err.Error()
			if item.Attempts >= q.maxAttempts {
				item.Step = StepError
			} else {
				item.Step = StepScheduled
			}
		} else {
			item.Step = next
		}
		q.mu.Unlock()

		if err != nil {
			q.logger.Warn().Err(err).
				Str("vm_id", item.VMID).
				Str("work", string(item.Type)).
				Int("attempts", item.Attempts).
				Msg("HA work failed")
		}
	}
}

func (q *WorkQueue) recordGauge() {
	q.mu.Lock()
	counts := make(map[[2]string]int)
	for _, item := range q.items {
		counts[[2]string{string(item.Type), string(item.Step)}]++
	}
	q.mu.Unlock()

	metrics.HAWorkItems.Reset()
	for k, n := range counts {
		metrics.HAWorkItems.WithLabelValues(k[0], k[1]).Set(float64(n))
	}
}

func (q *WorkQueue) apply(ctx context.Context, item *WorkItem, step Step) (Step, error) {
	vm, err := q.store.GetVM(item.VMID)
	if err != nil {
		return StepError, err
	}

	switch item.Type {
	case WorkMigration:
		return q.migrate(vm, item, step)

	case WorkStop, WorkForceStop:
		vm.State = types.VMStateStopped
		vm.LastHostID = vm.HostID
		vm.HostID = ""
		vm.TargetHostID = ""
		return StepDone, q.store.UpdateVM(vm)

	case WorkRestart:
		if q.planner == nil {
			return StepError, fmt.Errorf("no planner to restart vm %s", vm.ID)
		}
		dest, err := q.planner.PlanDeployment(ctx, vm, planner.Plan{ZoneID: zoneOf(q.store, item.HostID), Exclude: []string{item.HostID}})
		if err != nil {
			return StepError, err
		}
		vm.LastHostID = item.HostID
		vm.HostID = dest.HostID
		vm.State = types.VMStateRunning
		return StepDone, q.store.UpdateVM(vm)

	case WorkDestroy:
		vm.State = types.VMStateDestroyed
		vm.LastHostID = vm.HostID
		vm.HostID = ""
		return StepDone, q.store.UpdateVM(vm)
	}
	return StepError, fmt.Errorf("unknown work type %s", item.Type)
}

// migrate takes a scheduled migration (VM goes Migrating) and completes a
// taken one (VM lands on the destination)
func (q *WorkQueue) migrate(vm *types.VM, item *WorkItem, step Step) (Step, error) {
	dest, err := q.store.GetHost(item.Dest.HostID)
	if err != nil {
		return StepError, err
	}
	if dest.IsRemoved() || dest.Status != types.HostStatusUp || dest.ResourceState != types.ResourceStateEnabled {
		vm.State = types.VMStateRunning
		vm.TargetHostID = ""
		if uerr := q.store.UpdateVM(vm); uerr != nil {
			return StepError, uerr
		}
		return StepError, fmt.Errorf("destination %s is not available", dest.ID)
	}

	if step == StepScheduled {
		vm.State = types.VMStateMigrating
		vm.TargetHostID = dest.ID
		return StepTaken, q.store.UpdateVM(vm)
	}

	vm.LastHostID = vm.HostID
	vm.HostID = dest.ID
	vm.TargetHostID = ""
	vm.State = types.VMStateRunning
	return StepDone, q.store.UpdateVM(vm)
}

func zoneOf(store storage.Store, hostID string) string {
	host, err := store.GetHost(hostID)
	if err != nil {
		return ""
	}
	return host.ZoneID
}
