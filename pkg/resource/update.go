package resource

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/poll"
	"github.com/cuemby/burrow/pkg/resourcestate"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func validateStruct(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fields []string
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	} else {
		fields = append(fields, err.Error())
	}
	return fault.Wrap(fault.KindInvalidParameter, err, "invalid request: %s", strings.Join(fields, ", "))
}

// UpdateHostPassword pushes new credentials to the agent and records them
func (m *Manager) UpdateHostPassword(ctx context.Context, hostID, username, password string) (bool, error) {
	if username == "" || password == "" {
		return false, fault.InvalidParameter("username and password are required").WithEntity(hostID)
	}
	ev := PropagatedEvent{
		HostID:   hostID,
		Event:    resourcestate.EventUpdatePassword,
		Username: username,
		Password: password,
	}
	if result, handled, err := m.propagate(ctx, ev); handled {
		return result, err
	}
	return m.updateHostPassword(ctx, hostID, username, password)
}

func (m *Manager) updateHostPassword(ctx context.Context, hostID, username, password string) (bool, error) {
	host, err := m.dir.Get(hostID)
	if err != nil {
		return false, err
	}
	if err := m.transit(ctx, host, resourcestate.EventUpdatePassword, nil, nil); err != nil {
		return false, err
	}

	answer, err := m.transport.Send(ctx, host.ID, agent.UpdateHostPasswordCommand{
		Username: username,
		Password: password,
		HostIP:   host.PrivateIP,
	})
	if err != nil {
		return false, err
	}
	if !answer.Result {
		return false, fault.New(fault.KindInternal, "agent rejected the password update: %s", answer.Details).WithEntity(host.UUID)
	}

	err = m.store.Update(func(tx storage.Store) error {
		current, err := tx.GetHost(host.ID)
		if err != nil {
			return err
		}
		current.SetDetail(types.DetailUsername, username)
		current.SetDetail(types.DetailPassword, password)
		return tx.UpdateHost(current)
	})
	if err != nil {
		return false, fmt.Errorf("failed to record credentials: %w", err)
	}
	return true, nil
}

// UpdateHostRequest changes the operator-editable fields of a host. Empty
// fields and a nil Tags slice are left unchanged.
type UpdateHostRequest struct {
	HostID            string `validate:"required"`
	Name              string
	AllocationState   string `validate:"omitempty,oneof=Enable Disable"`
	Tags              []string
	GuestOSCategoryID string
}

// UpdateHost applies req and returns the updated host
func (m *Manager) UpdateHost(ctx context.Context, req UpdateHostRequest) (*types.Host, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	host, err := m.dir.Get(req.HostID)
	if err != nil {
		return nil, err
	}

	if req.AllocationState != "" {
		event, target := resourcestate.EventEnable, types.ResourceStateEnabled
		if req.AllocationState == "Disable" {
			event, target = resourcestate.EventDisable, types.ResourceStateDisabled
		}
		if err := m.transit(ctx, host, event, nil, nil); err != nil {
			if !fault.Is(err, fault.KindNoTransition) || host.ResourceState != target {
				return nil, err
			}
			m.logger.Debug().Str(log.FieldHostID, host.ID).Str("state", string(target)).Msg("Host already in requested allocation state")
		}
	}

	if req.Name != "" || req.Tags != nil || req.GuestOSCategoryID != "" {
		err = m.store.Update(func(tx storage.Store) error {
			current, err := tx.GetHost(host.ID)
			if err != nil {
				return err
			}
			if req.Name != "" {
				current.Name = req.Name
			}
			if req.Tags != nil {
				current.Tags = dedupe(req.Tags)
			}
			if req.GuestOSCategoryID != "" {
				current.GuestOSCategoryID = req.GuestOSCategoryID
			}
			return tx.UpdateHost(current)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update host %s: %w", host.UUID, err)
		}
	}

	return m.dir.Get(host.ID)
}

func dedupe(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// UpdateClusterRequest changes a cluster. Empty fields are left unchanged.
type UpdateClusterRequest struct {
	ClusterID       string `validate:"required"`
	Name            string
	AllocationState types.AllocationState `validate:"omitempty,oneof=Enabled Disabled"`
	ManagedState    types.ManagedState    `validate:"omitempty,oneof=Managed Unmanaged"`
}

// UpdateCluster applies req. Unmanaging a cluster waits for each host's
// agent to disconnect, bounded by maintenance.unmanage_timeout.
func (m *Manager) UpdateCluster(ctx context.Context, req UpdateClusterRequest) (*types.Cluster, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	cluster, err := m.store.GetCluster(req.ClusterID)
	if err != nil {
		return nil, err
	}
	if cluster.Removed != nil {
		return nil, fault.NotFound("cluster has been removed").WithEntity(req.ClusterID)
	}

	if req.Name != "" && req.Name != cluster.Name {
		if existing, err := m.store.GetClusterByName(cluster.PodID, req.Name); err == nil && existing.ID != cluster.ID {
			return nil, fault.InvalidParameter("cluster name %s is already used in the pod", req.Name).WithEntity(cluster.UUID)
		}
	}

	err = m.updateCluster(cluster.ID, func(c *types.Cluster) {
		if req.Name != "" {
			c.Name = req.Name
		}
		if req.AllocationState != "" {
			c.AllocationState = req.AllocationState
		}
	})
	if err != nil {
		return nil, err
	}

	if req.ManagedState != "" {
		if err := m.changeManagedState(ctx, cluster, req.ManagedState); err != nil {
			return nil, err
		}
	}
	return m.store.GetCluster(cluster.ID)
}

func (m *Manager) updateCluster(clusterID string, mutate func(c *types.Cluster)) error {
	return m.store.Update(func(tx storage.Store) error {
		current, err := tx.GetCluster(clusterID)
		if err != nil {
			return err
		}
		mutate(current)
		return tx.UpdateCluster(current)
	})
}

func (m *Manager) setManagedState(clusterID string, state types.ManagedState) error {
	return m.updateCluster(clusterID, func(c *types.Cluster) { c.ManagedState = state })
}

func (m *Manager) changeManagedState(ctx context.Context, cluster *types.Cluster, target types.ManagedState) error {
	current := cluster.ManagedState
	if current == "" {
		current = types.ManagedStateManaged
	}

	switch {
	case target == types.ManagedStateUnmanaged && current == types.ManagedStateManaged:
		return m.unmanageCluster(ctx, cluster)

	case target == types.ManagedStateManaged && current != types.ManagedStateManaged:
		if err := m.setManagedState(cluster.ID, types.ManagedStateManaged); err != nil {
			return err
		}
		hosts, err := m.dir.HostsInCluster(cluster.ID)
		if err != nil {
			return err
		}
		for _, h := range hosts {
			if err := m.transport.Reconnect(ctx, h.ID); err != nil {
				m.logger.Warn().Err(err).Str(log.FieldHostID, h.ID).Msg("Host did not reconnect after cluster became managed")
			}
		}
		return nil

	case target == current:
		return nil

	default:
		return fault.Precondition("cluster is %s and cannot become %s", current, target).WithEntity(cluster.UUID)
	}
}

func (m *Manager) unmanageCluster(ctx context.Context, cluster *types.Cluster) error {
	if err := m.setManagedState(cluster.ID, types.ManagedStatePrepareUnmanaged); err != nil {
		return err
	}

	hosts, err := m.dir.HostsInCluster(cluster.ID)
	if err != nil {
		return err
	}
	for _, h := range hosts {
		m.transport.EasySend(ctx, h.ID, agent.PrepareUnmanageCommand{})
		m.transport.DisconnectWithoutInvestigation(h.ID, agent.StatusEventShutdownRequested)
		if err := m.transport.AgentStatusTransitTo(h, agent.StatusEventShutdownRequested, m.nodeID); err != nil {
			m.logger.Debug().Err(err).Str(log.FieldHostID, h.ID).Msg("Host status unchanged while unmanaging")
		}
	}

	cfg := m.settings.Config().Maintenance
	interval := cfg.CheckInterval
	if interval <= 0 || interval > cfg.UnmanageTimeout {
		interval = time.Second
	}
	waiter := poll.NewWaiter(cfg.UnmanageTimeout, interval)
	err = waiter.WaitFor(ctx, func(context.Context) (bool, error) {
		hosts, err := m.dir.HostsInCluster(cluster.ID)
		if err != nil {
			return false, err
		}
		for _, h := range hosts {
			switch h.Status {
			case types.HostStatusDisconnected, types.HostStatusDown, types.HostStatusAlert:
			default:
				return false, nil
			}
		}
		return true, nil
	}, "hosts of cluster "+cluster.Name+" to disconnect")
	if err != nil {
		if serr := m.setManagedState(cluster.ID, types.ManagedStatePrepareUnmanagedError); serr != nil {
			m.logger.Error().Err(serr).Str(log.FieldClusterID, cluster.ID).Msg("Failed to record unmanage failure")
		}
		return err
	}

	m.logger.Info().Str(log.FieldClusterID, cluster.ID).Int("hosts", len(hosts)).Msg("Cluster unmanaged")
	return m.setManagedState(cluster.ID, types.ManagedStateUnmanaged)
}
