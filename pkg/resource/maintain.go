package resource

import (
	"context"
	"fmt"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/planner"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/resourcestate"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// Maintain starts evacuating a host. It returns false without changing
// anything when the agent does not acknowledge MaintainCommand.
func (m *Manager) Maintain(ctx context.Context, hostID string) (bool, error) {
	if result, handled, err := m.propagate(ctx, PropagatedEvent{HostID: hostID, Event: resourcestate.EventAdminAskMaintenance}); handled {
		return result, err
	}
	return m.maintain(ctx, hostID)
}

func (m *Manager) maintain(ctx context.Context, hostID string) (ok bool, err error) {
	defer func() { record("maintain", err) }()

	host, err := m.dir.Get(hostID)
	if err != nil {
		return false, err
	}
	if !resourcestate.CanAttemptMaintenance(host.ResourceState) {
		return false, fault.Precondition("host is already in %s", host.ResourceState).WithEntity(host.UUID)
	}
	if err := clusterExclusive(m.store, host); err != nil {
		return false, err
	}

	vms, err := m.dir.VMsOnHost(host.ID)
	if err != nil {
		return false, fmt.Errorf("failed to list vms on host %s: %w", host.UUID, err)
	}
	if err := m.checkLocalStorage(host, vms); err != nil {
		return false, err
	}
	if err := m.checkVMStates(host, vms); err != nil {
		return false, err
	}

	if host.Type == types.HostTypeRouting {
		answer := m.transport.EasySend(ctx, host.ID, agent.MaintainCommand{})
		if answer == nil || !answer.Result {
			m.logger.Warn().Str(log.FieldHostID, host.ID).Msg("Agent did not acknowledge maintenance")
			return false, nil
		}
	}

	m.listeners.Notify(registry.EventPrepareMaintenanceBefore, hostPayload(host))

	err = m.transit(ctx, host, resourcestate.EventAdminAskMaintenance, func(tx storage.Store, h *types.Host) error {
		return clusterExclusive(tx, h)
	}, nil)
	if err != nil {
		return false, err
	}
	m.transport.PullAgentToMaintenance(host.ID)

	evacErr := m.evacuate(ctx, host, vms)

	payload := hostPayload(host)
	payload.Err = evacErr
	m.listeners.Notify(registry.EventPrepareMaintenanceAfter, payload)
	if evacErr != nil {
		return false, evacErr
	}

	if _, err := m.checkAndMaintain(ctx, host.ID); err != nil {
		m.logger.Warn().Err(err).Str(log.FieldHostID, host.ID).Msg("Initial maintenance check failed")
	}
	return true, nil
}

// clusterExclusive fails when another host of the cluster is evacuating
func clusterExclusive(store storage.Store, host *types.Host) error {
	if host.ClusterID == "" {
		return nil
	}
	busy, err := store.ListHosts(storage.HostFilter{
		ClusterID: host.ClusterID,
		ResourceStates: []types.ResourceState{
			types.ResourceStatePrepareForMaintenance,
			types.ResourceStateErrorInPrepareForMaintenance,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to list preparing hosts: %w", err)
	}
	for _, h := range busy {
		if h.ID != host.ID {
			return fault.Precondition("host %s of the same cluster is already %s", h.UUID, h.ResourceState).WithEntity(host.UUID)
		}
	}
	return nil
}

func (m *Manager) checkLocalStorage(host *types.Host, vms []*types.VM) error {
	if m.settings.LocalStorageStrategy(host.ClusterID) != types.LocalStorageError {
		return nil
	}

	pools, err := m.store.ListStoragePools(storage.PoolFilter{HostID: host.ID})
	if err != nil {
		return fmt.Errorf("failed to list storage pools: %w", err)
	}
	for _, p := range pools {
		if p.IsLocal && p.VolumeCount > 0 {
			return fault.Precondition("local storage pool %s is in use and the local storage strategy is %s", p.Name, types.LocalStorageError).WithEntity(host.UUID)
		}
	}
	for _, vm := range vms {
		if vm.UsesLocalStorage && vm.State == types.VMStateRunning {
			return fault.Precondition("vm %s runs on local storage and the local storage strategy is %s", vm.UUID, types.LocalStorageError).WithEntity(host.UUID)
		}
	}
	return nil
}

func (m *Manager) checkVMStates(host *types.Host, vms []*types.VM) error {
	incoming, err := m.dir.VMsMigratingInto(host.ID)
	if err != nil {
		return fmt.Errorf("failed to list incoming migrations: %w", err)
	}
	if len(incoming) > 0 {
		return fault.Precondition("%d vms are migrating to the host, vm %s first", len(incoming), incoming[0].UUID).WithEntity(host.UUID)
	}

	for _, vm := range vms {
		switch vm.State {
		case types.VMStateStarting, types.VMStateStopping, types.VMStateError, types.VMStateUnknown:
			return fault.Precondition("vm %s is %s", vm.UUID, vm.State).WithEntity(host.UUID)
		}
	}
	return nil
}

// evacuate schedules HA work that moves every running VM off the host
func (m *Manager) evacuate(ctx context.Context, host *types.Host, vms []*types.VM) error {
	for _, vm := range vms {
		if vm.State != types.VMStateRunning {
			continue
		}
		if err := m.evacuateVM(ctx, host, vm); err != nil {
			return fmt.Errorf("failed to evacuate vm %s: %w", vm.UUID, err)
		}
	}
	return nil
}

func (m *Manager) evacuateVM(ctx context.Context, host *types.Host, vm *types.VM) error {
	if !vm.Type.IsMigratable() {
		return m.ha.ScheduleDestroy(vm, host.ID)
	}

	plan, ok, err := m.placementScope(host, vm)
	if err != nil {
		return err
	}
	if !ok {
		return m.stopOrRestart(vm, host)
	}

	if !host.Hypervisor.SupportsLiveMigration() {
		return m.ha.ScheduleRestart(vm, host.ID)
	}

	if vm.UsesLocalStorage {
		switch strategy := m.settings.LocalStorageStrategy(host.ClusterID); strategy {
		case types.LocalStorageForceStop:
			return m.ha.ScheduleStop(vm, host.ID, true)
		case types.LocalStorageMigration:
		default:
			return fault.Precondition("vm %s is on local storage and the strategy is %s, migrate it manually", vm.UUID, strategy).WithEntity(host.UUID)
		}
	}

	dest, err := m.planner.PlanDeployment(ctx, vm, plan)
	if err != nil {
		if fault.Is(err, fault.KindInsufficientCapacity) {
			m.logger.Warn().Err(err).Str("vm_id", vm.ID).Msg("No migration destination, stopping instead")
			return m.stopOrRestart(vm, host)
		}
		return err
	}
	return m.ha.ScheduleMigration(vm, dest)
}

// stopOrRestart never leaves a VM running on a host entering maintenance
func (m *Manager) stopOrRestart(vm *types.VM, host *types.Host) error {
	if vm.HAEnabled {
		return m.ha.ScheduleRestart(vm, host.ID)
	}
	return m.ha.ScheduleStop(vm, host.ID, true)
}

// placementScope returns the plan a migration of vm may use. ok is false
// when no other host could take the VM.
func (m *Manager) placementScope(host *types.Host, vm *types.VM) (planner.Plan, bool, error) {
	exclude := []string{host.ID}

	if host.ClusterID != "" {
		hosts, err := m.dir.UpAndEnabledRoutingHosts(host.ClusterID)
		if err != nil {
			return planner.Plan{}, false, err
		}
		if hasOther(hosts, host.ID) {
			return planner.Plan{ClusterID: host.ClusterID, Exclude: exclude}, true, nil
		}
	}

	if !m.settings.Config().Maintenance.CrossClusterMigration || vm.HasClusterScopedVolumes {
		return planner.Plan{}, false, nil
	}
	hosts, err := m.dir.UpAndEnabledRoutingHostsInZone(host.ZoneID)
	if err != nil {
		return planner.Plan{}, false, err
	}
	if hasOther(hosts, host.ID) {
		return planner.Plan{ZoneID: host.ZoneID, Exclude: exclude}, true, nil
	}
	return planner.Plan{}, false, nil
}

func hasOther(hosts []*types.Host, hostID string) bool {
	for _, h := range hosts {
		if h.ID != hostID {
			return true
		}
	}
	return false
}

// CheckAndMaintain re-evaluates an evacuating host and moves it to
// Maintenance, ErrorInMaintenance, ErrorInPrepareForMaintenance or back to
// PrepareForMaintenance. It returns true once the host is in Maintenance.
func (m *Manager) CheckAndMaintain(ctx context.Context, hostID string) (bool, error) {
	return m.checkAndMaintain(ctx, hostID)
}

func (m *Manager) checkAndMaintain(ctx context.Context, hostID string) (bool, error) {
	host, err := m.dir.Get(hostID)
	if err != nil {
		return false, err
	}

	current := host.ResourceState
	switch current {
	case types.ResourceStateMaintenance:
		return true, nil
	case types.ResourceStatePrepareForMaintenance,
		types.ResourceStateErrorInPrepareForMaintenance,
		types.ResourceStateErrorInMaintenance:
	default:
		return false, fault.Precondition("host is %s, not entering maintenance", current).WithEntity(host.UUID)
	}

	snap, err := m.snapshot(host)
	if err != nil {
		return false, err
	}

	target := decide(current, snap)
	if target == current {
		return false, nil
	}

	switch target {
	case types.ResourceStateMaintenance:
		if err := m.transit(ctx, host, resourcestate.EventInternalEnterMaintenance, nil, nil); err != nil {
			return false, err
		}
		return true, nil

	case types.ResourceStateErrorInMaintenance:
		m.ha.CancelScheduledMigrations(host.ID)
		if err := m.transit(ctx, host, resourcestate.EventUnableToMaintain, nil, nil); err != nil {
			return false, err
		}
		m.pushConsoleAccess(ctx, host, snap.stuck)

	case types.ResourceStateErrorInPrepareForMaintenance:
		if err := m.transit(ctx, host, resourcestate.EventUnableToMigrate, nil, nil); err != nil {
			return false, err
		}
		m.pushConsoleAccess(ctx, host, snap.stuck)

	case types.ResourceStatePrepareForMaintenance:
		if err := m.transit(ctx, host, resourcestate.EventErrorsCorrected, nil, nil); err != nil {
			return false, err
		}
	}
	return false, nil
}

// vmSnapshot is what the maintenance decision looks at
type vmSnapshot struct {
	running   int
	migrating int
	starting  int
	stopping  int
	errored   int // Error or Unknown

	failedMigrations int
	// pending is scheduled or executing HA work for VMs on the host
	pending bool
	// migratingOut is a migration away from the host that already started
	migratingOut bool

	stuck []*types.VM
}

func (m *Manager) snapshot(host *types.Host) (vmSnapshot, error) {
	var snap vmSnapshot

	vms, err := m.dir.VMsOnHost(host.ID)
	if err != nil {
		return snap, fmt.Errorf("failed to list vms on host %s: %w", host.UUID, err)
	}

	onHost := make(map[string]bool, len(vms))
	for _, vm := range vms {
		onHost[vm.ID] = true
		switch vm.State {
		case types.VMStateRunning:
			snap.running++
		case types.VMStateMigrating:
			snap.migrating++
			snap.migratingOut = true
		case types.VMStateStarting:
			snap.starting++
		case types.VMStateStopping:
			snap.stopping++
		case types.VMStateError, types.VMStateUnknown:
			snap.errored++
		default:
			continue
		}
		if m.ha.HasPendingMigrationsWork(vm.ID) || m.ha.HasPendingWork(vm.ID) {
			snap.pending = true
		}
		if vm.State != types.VMStateMigrating {
			snap.stuck = append(snap.stuck, vm)
		}
	}

	for _, item := range m.ha.FindTakenMigrationWork() {
		if item.HostID == host.ID || onHost[item.VMID] {
			snap.migratingOut = true
		}
	}
	snap.failedMigrations = len(m.ha.FindFailedMigrationWork(host.ID))
	return snap, nil
}

// decide applies the maintenance rules in priority order and returns the
// state the host should be in. Returning current means no transition.
func decide(current types.ResourceState, s vmSnapshot) types.ResourceState {
	active := s.running + s.migrating + s.starting + s.stopping + s.errored
	busy := s.pending || s.migratingOut
	broken := s.errored > 0 || s.failedMigrations > 0

	switch {
	case active == 0 && !busy:
		return types.ResourceStateMaintenance
	case !busy && s.running > 0,
		s.running == 0 && s.migrating == 0 && broken:
		return types.ResourceStateErrorInMaintenance
	case (busy || s.stopping > 0) && broken:
		return types.ResourceStateErrorInPrepareForMaintenance
	case current == types.ResourceStateErrorInPrepareForMaintenance:
		return types.ResourceStatePrepareForMaintenance
	default:
		return current
	}
}

// pushConsoleAccess briefly takes the agent out of maintenance so console
// details of the VMs left behind reach the host
func (m *Manager) pushConsoleAccess(ctx context.Context, host *types.Host, vms []*types.VM) {
	if !host.Hypervisor.RequiresManagementChannel() || len(vms) == 0 {
		return
	}

	details := make([]agent.VMVncDetail, 0, len(vms))
	for _, vm := range vms {
		details = append(details, agent.VMVncDetail{VMName: vm.Name})
	}

	m.transport.PullAgentOutMaintenance(host.ID)
	if answer := m.transport.EasySend(ctx, host.ID, agent.SetupVMVncCommand{VMs: details}); answer == nil || !answer.Result {
		m.logger.Warn().Str(log.FieldHostID, host.ID).Int("vms", len(vms)).Msg("Failed to push console access for stuck vms")
	}
	m.transport.PullAgentToMaintenance(host.ID)
}
