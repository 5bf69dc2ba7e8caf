package resource

import (
	"context"
	"fmt"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/resourcestate"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// DeleteHost removes a host in Maintenance, Degraded or Error. forced skips
// the state requirement; forceDeleteStorage also destroys its local pools.
func (m *Manager) DeleteHost(ctx context.Context, hostID string, forced, forceDeleteStorage bool) (bool, error) {
	ev := PropagatedEvent{
		HostID:             hostID,
		Event:              resourcestate.EventDeleteHost,
		Forced:             forced,
		ForceDeleteStorage: forceDeleteStorage,
	}
	if result, handled, err := m.propagate(ctx, ev); handled {
		return result, err
	}
	return m.deleteHost(ctx, hostID, forced, forceDeleteStorage)
}

func deletable(s types.ResourceState) bool {
	return s == types.ResourceStateMaintenance ||
		s == types.ResourceStateDegraded ||
		s == types.ResourceStateError
}

func (m *Manager) deleteHost(ctx context.Context, hostID string, forced, forceDeleteStorage bool) (ok bool, err error) {
	defer func() { record("delete_host", err) }()

	host, err := m.dir.Get(hostID)
	if err != nil {
		return false, err
	}
	if !forced && !deletable(host.ResourceState) {
		return false, fault.Precondition("host is %s, it must be in Maintenance or Degraded to be deleted", host.ResourceState).WithEntity(host.UUID)
	}

	payload := hostPayload(host)
	m.listeners.Notify(registry.EventDeleteHostBefore, payload)
	defer func() {
		payload.Err = err
		m.listeners.Notify(registry.EventDeleteHostAfter, payload)
	}()

	answer, adapter := m.adapters.DispatchDelete(host, forced, forceDeleteStorage)
	if answer == nil {
		return false, fault.New(fault.KindInternal, "no resource state adapter handles deletion of %s host", host.Hypervisor).WithEntity(host.UUID)
	}
	if answer.IsFatal {
		return false, fault.New(fault.KindUnableToDelete, "adapter %s refused: %s", adapter, answer.Reason).WithEntity(host.UUID)
	}
	if !answer.IsContinue {
		m.logger.Info().Str(log.FieldHostID, host.ID).Str("adapter", adapter).Msg("Host deletion handled by adapter")
		return true, nil
	}

	if !forceDeleteStorage {
		pools, err := m.store.ListStoragePools(storage.PoolFilter{HostID: host.ID})
		if err != nil {
			return false, fmt.Errorf("failed to list local pools: %w", err)
		}
		for _, p := range pools {
			if p.IsLocal && p.VolumeCount > 0 {
				return false, fault.New(fault.KindUnableToDelete, "local storage pool %s still holds %d volumes, force storage deletion to remove it", p.Name, p.VolumeCount).WithEntity(host.UUID)
			}
		}
	}

	clusterID := host.ClusterID
	m.transport.NotifyMonitorsOfHostAboutToBeRemoved(host.ID)

	err = m.transit(ctx, host, resourcestate.EventDeleteHost, nil, func(tx storage.Store, h *types.Host) error {
		return purge(tx, h, forceDeleteStorage)
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete host %s: %w", host.UUID, err)
	}

	// The agent stays attached until the row is gone
	m.transport.DisconnectWithoutInvestigation(host.ID, agent.StatusEventRemove)
	m.transport.NotifyMonitorsOfRemovedHost(host.ID, clusterID)
	m.logger.Info().Str(log.FieldHostID, host.ID).Str(log.FieldClusterID, clusterID).Bool("forced", forced).Msg("Host deleted")
	return true, nil
}

// purge runs inside the DeleteHost transaction
func purge(tx storage.Store, host *types.Host, forceDeleteStorage bool) error {
	current, err := tx.GetHost(host.ID)
	if err != nil {
		return err
	}

	if current.PrivateIP != "" {
		if err := tx.ReleasePrivateIP(current.PrivateIP); err != nil {
			return fmt.Errorf("failed to release private ip: %w", err)
		}
	}
	if err := tx.DeletePoolHostRefsByHost(host.ID); err != nil {
		return fmt.Errorf("failed to delete pool links: %w", err)
	}

	vms, err := tx.ListVMs(storage.VMFilter{HostID: host.ID})
	if err != nil {
		return err
	}
	for _, vm := range vms {
		vm.State = types.VMStateStopped
		vm.LastHostID = host.ID
		vm.HostID = ""
		vm.TargetHostID = ""
		if err := tx.UpdateVM(vm); err != nil {
			return fmt.Errorf("failed to stop vm %s: %w", vm.UUID, err)
		}
	}

	if forceDeleteStorage {
		pools, err := tx.ListStoragePools(storage.PoolFilter{HostID: host.ID})
		if err != nil {
			return err
		}
		for _, p := range pools {
			if !p.IsLocal {
				continue
			}
			if err := tx.DeleteStoragePool(p.ID); err != nil {
				return fmt.Errorf("failed to delete local pool %s: %w", p.Name, err)
			}
		}
	}

	if err := tx.DeleteCapacityByHost(host.ID); err != nil {
		return err
	}
	if err := tx.DeleteDedicatedResourcesByHost(host.ID); err != nil {
		return err
	}
	if err := tx.DeleteAnnotationsByEntity(host.ID); err != nil {
		return err
	}

	clusterID := current.ClusterID
	current.Details = nil
	current.Tags = nil
	current.ClusterID = ""
	if err := tx.UpdateHost(current); err != nil {
		return err
	}
	if err := tx.RemoveHost(host.ID); err != nil {
		return err
	}

	if clusterID == "" {
		return nil
	}
	remaining, err := tx.ListHosts(storage.HostFilter{ClusterID: clusterID})
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		return nil
	}
	cluster, err := tx.GetCluster(clusterID)
	if err != nil {
		return err
	}
	// A hostless cluster can be rediscovered
	cluster.GUID = ""
	return tx.UpdateCluster(cluster)
}

// DeleteCluster removes a cluster that has no hosts and no storage pools
func (m *Manager) DeleteCluster(ctx context.Context, clusterID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	err := m.store.Update(func(tx storage.Store) error {
		cluster, err := tx.GetCluster(clusterID)
		if err != nil {
			return err
		}
		if cluster.Removed != nil {
			return fault.NotFound("cluster has been removed").WithEntity(clusterID)
		}

		hosts, err := tx.ListHosts(storage.HostFilter{ClusterID: clusterID})
		if err != nil {
			return err
		}
		if len(hosts) > 0 {
			return fault.Precondition("cluster %s still has %d hosts", cluster.Name, len(hosts)).WithEntity(cluster.UUID)
		}
		pools, err := tx.ListStoragePools(storage.PoolFilter{ClusterID: clusterID})
		if err != nil {
			return err
		}
		if len(pools) > 0 {
			return fault.Precondition("cluster %s still has %d storage pools", cluster.Name, len(pools)).WithEntity(cluster.UUID)
		}
		return tx.DeleteCluster(clusterID)
	})
	if err != nil {
		return false, err
	}

	m.logger.Info().Str(log.FieldClusterID, clusterID).Msg("Cluster deleted")
	return true, nil
}

// UmanageHost stops managing the host's agent without deleting the host
func (m *Manager) UmanageHost(ctx context.Context, hostID string) (bool, error) {
	if result, handled, err := m.propagate(ctx, PropagatedEvent{HostID: hostID, Event: resourcestate.EventUnmanaged}); handled {
		return result, err
	}
	return m.umanageHost(ctx, hostID)
}

func (m *Manager) umanageHost(ctx context.Context, hostID string) (bool, error) {
	host, err := m.dir.Get(hostID)
	if err != nil {
		return false, err
	}
	if err := m.transit(ctx, host, resourcestate.EventUnmanaged, nil, nil); err != nil {
		return false, err
	}

	m.transport.DisconnectWithoutInvestigation(host.ID, agent.StatusEventShutdownRequested)
	if err := m.transport.AgentStatusTransitTo(host, agent.StatusEventShutdownRequested, m.nodeID); err != nil {
		m.logger.Warn().Err(err).Str(log.FieldHostID, host.ID).Msg("Host status unchanged after unmanage")
	}
	return true, nil
}
