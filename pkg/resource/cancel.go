package resource

import (
	"context"
	"fmt"

	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/resourcestate"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// CancelMaintenance returns a host in any maintenance state to Enabled
func (m *Manager) CancelMaintenance(ctx context.Context, hostID string) (bool, error) {
	if result, handled, err := m.propagate(ctx, PropagatedEvent{HostID: hostID, Event: resourcestate.EventAdminCancelMaintenance}); handled {
		return result, err
	}
	return m.cancelMaintenance(ctx, hostID)
}

func (m *Manager) cancelMaintenance(ctx context.Context, hostID string) (ok bool, err error) {
	defer func() { record("cancel_maintenance", err) }()

	host, err := m.dir.Get(hostID)
	if err != nil {
		return false, err
	}
	if !resourcestate.IsMaintenanceState(host.ResourceState) {
		return false, fault.Precondition("host is %s, only a host in maintenance can cancel it", host.ResourceState).WithEntity(host.UUID)
	}

	m.listeners.Notify(registry.EventCancelMaintenanceBefore, hostPayload(host))
	m.ha.CancelScheduledMigrations(host.ID)

	if host.Hypervisor.RequiresManagementChannel() && host.Status != types.HostStatusUp {
		migrating, err := m.store.ListVMs(storage.VMFilter{HostID: host.ID, States: []types.VMState{types.VMStateMigrating}})
		if err != nil {
			return false, fmt.Errorf("failed to list migrating vms: %w", err)
		}
		if len(migrating) == 0 {
			if err := m.restartAgent(ctx, host); err != nil {
				return false, err
			}
		}
	}

	if err := m.transit(ctx, host, resourcestate.EventAdminCancelMaintenance, nil, nil); err != nil {
		return false, err
	}
	m.transport.PullAgentOutMaintenance(host.ID)

	m.listeners.Notify(registry.EventCancelMaintenanceAfter, hostPayload(host))
	return true, nil
}

// restartAgent brings back the agent of a KVM or LXC host over SSH
func (m *Manager) restartAgent(ctx context.Context, host *types.Host) error {
	cfg := m.settings.Config().Maintenance
	username := host.Detail(types.DetailUsername)
	password := host.Detail(types.DetailPassword)

	if !cfg.SSHRestartAgent || m.restarter == nil {
		return fault.Precondition("agent is %s and restarting it over ssh is disabled", host.Status).WithEntity(host.UUID)
	}
	if username == "" || password == "" {
		return fault.Precondition("agent is %s and no credentials are recorded to restart it", host.Status).WithEntity(host.UUID)
	}

	address := host.PrivateIP
	if address == "" {
		address = host.Name
	}
	if err := m.restarter.RestartAgent(ctx, address, username, password); err != nil {
		return fault.Wrap(fault.KindAgentUnavailable, err, "failed to restart agent").WithEntity(host.UUID)
	}

	m.logger.Info().Str(log.FieldHostID, host.ID).Str("address", address).Msg("Agent restarted before leaving maintenance")
	return nil
}

// DeclareHostAsDegraded marks an unreachable host Degraded and restarts
// its VMs elsewhere without waiting for an evacuation
func (m *Manager) DeclareHostAsDegraded(ctx context.Context, hostID string) (ok bool, err error) {
	defer func() { record("declare_degraded", err) }()

	host, err := m.dir.Get(hostID)
	if err != nil {
		return false, err
	}
	switch host.Status {
	case types.HostStatusAlert, types.HostStatusDisconnected:
	default:
		return false, fault.Precondition("host is %s, only Alert or Disconnected hosts can be declared degraded", host.Status).WithEntity(host.UUID)
	}

	if err := m.transit(ctx, host, resourcestate.EventDeclareHostDegraded, nil, nil); err != nil {
		return false, err
	}

	vms, err := m.store.ListVMs(storage.VMFilter{
		HostID: host.ID,
		States: []types.VMState{types.VMStateStarting, types.VMStateRunning, types.VMStateStopping},
	})
	if err != nil {
		return false, fmt.Errorf("failed to list vms on degraded host: %w", err)
	}
	for _, vm := range vms {
		if err := m.ha.ScheduleRestart(vm, host.ID); err != nil {
			m.logger.Error().Err(err).Str("vm_id", vm.ID).Msg("Failed to schedule restart of vm on degraded host")
		}
	}

	m.logger.Warn().Str(log.FieldHostID, host.ID).Int("vms", len(vms)).Msg("Host declared degraded")
	return true, nil
}

// CancelHostAsDegraded returns a Degraded host to Enabled
func (m *Manager) CancelHostAsDegraded(ctx context.Context, hostID string) (ok bool, err error) {
	defer func() { record("cancel_degraded", err) }()

	host, err := m.dir.Get(hostID)
	if err != nil {
		return false, err
	}
	if host.ResourceState != types.ResourceStateDegraded {
		return false, fault.Precondition("host is %s, not Degraded", host.ResourceState).WithEntity(host.UUID)
	}
	if err := m.transit(ctx, host, resourcestate.EventEnableDegradedHost, nil, nil); err != nil {
		return false, err
	}
	return true, nil
}
