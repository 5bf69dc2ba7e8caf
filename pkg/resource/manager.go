package resource

import (
	"context"
	"fmt"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/capacity"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/directory"
	"github.com/cuemby/burrow/pkg/discovery"
	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/ha"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/planner"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/resourcestate"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// StateObserver is told about every committed resource state change
type StateObserver interface {
	ResourceStateChanged(host *types.Host, from, to types.ResourceState, event string)
}

// Config wires the manager to its collaborators. Peers, Channel, Observer
// and Restarter are optional.
type Config struct {
	Store     storage.Store
	Directory *directory.Directory
	Transport agent.Transport
	Capacity  capacity.Checker
	Planner   planner.Planner
	HA        ha.Manager
	Adapters  *registry.Adapters
	Listeners *registry.Listeners
	Settings  *config.Settings
	Restarter agent.Restarter
	Peers     PeerLocator
	Channel   ClusterChannel
	Observer  StateObserver
	NodeID    string
}

// Manager owns the administrative lifecycle of hosts and clusters
type Manager struct {
	store     storage.Store
	dir       *directory.Directory
	transport agent.Transport
	capacity  capacity.Checker
	planner   planner.Planner
	ha        ha.Manager
	adapters  *registry.Adapters
	listeners *registry.Listeners
	settings  *config.Settings
	restarter agent.Restarter
	peers     PeerLocator
	channel   ClusterChannel
	observer  StateObserver
	nodeID    string

	discovery *discovery.Coordinator
	logger    zerolog.Logger
}

// NewManager creates a manager and the discovery coordinator it drives
func NewManager(cfg Config) *Manager {
	m := &Manager{
		store:     cfg.Store,
		dir:       cfg.Directory,
		transport: cfg.Transport,
		capacity:  cfg.Capacity,
		planner:   cfg.Planner,
		ha:        cfg.HA,
		adapters:  cfg.Adapters,
		listeners: cfg.Listeners,
		settings:  cfg.Settings,
		restarter: cfg.Restarter,
		peers:     cfg.Peers,
		channel:   cfg.Channel,
		observer:  cfg.Observer,
		nodeID:    cfg.NodeID,
		logger:    log.WithComponent("resource"),
	}
	if m.dir == nil {
		m.dir = directory.New(cfg.Store)
	}
	if m.listeners == nil {
		m.listeners = registry.NewListeners()
	}
	if m.adapters == nil {
		m.adapters = registry.NewAdapters()
	}

	m.discovery = discovery.NewCoordinator(discovery.Config{
		Store:     cfg.Store,
		Directory: m.dir,
		Transport: cfg.Transport,
		Adapters:  m.adapters,
		Listeners: m.listeners,
		Capacity:  cfg.Capacity,
		States:    m,
		NodeID:    cfg.NodeID,
	})
	return m
}

// Discovery returns the coordinator used to register hosts
func (m *Manager) Discovery() *discovery.Coordinator {
	return m.discovery
}

// Directory returns the listing facade
func (m *Manager) Directory() *directory.Directory {
	return m.dir
}

// DiscoverHosts delegates to the discovery coordinator
func (m *Manager) DiscoverHosts(ctx context.Context, req discovery.DiscoverHostsRequest) ([]*types.Host, error) {
	return m.discovery.DiscoverHosts(ctx, req)
}

// DiscoverCluster delegates to the discovery coordinator
func (m *Manager) DiscoverCluster(ctx context.Context, req discovery.DiscoverClusterRequest) ([]*types.Cluster, error) {
	return m.discovery.DiscoverCluster(ctx, req)
}

// ListHosts delegates to the directory
func (m *Manager) ListHosts(q directory.Query) ([]*types.Host, error) {
	return m.dir.ListHosts(q)
}

// GetHost returns a live host
func (m *Manager) GetHost(hostID string) (*types.Host, error) {
	return m.dir.Get(hostID)
}

// ResourceStateTransitTo moves host along event. The optional guard, the
// compare-and-swap of the state and the capacity flag update run in one
// store transaction.
func (m *Manager) ResourceStateTransitTo(ctx context.Context, host *types.Host, event resourcestate.Event, guard func(tx storage.Store, host *types.Host) error) error {
	return m.transit(ctx, host, event, guard, nil)
}

func (m *Manager) transit(ctx context.Context, host *types.Host, event resourcestate.Event, guard, after func(tx storage.Store, host *types.Host) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	from := host.ResourceState
	to, err := resourcestate.NextState(from, event)
	if err != nil {
		metrics.ResourceStateTransitionFailures.WithLabelValues(string(event)).Inc()
		return fmt.Errorf("host %s: %w", host.UUID, err)
	}

	err = m.store.Update(func(tx storage.Store) error {
		if guard != nil {
			if err := guard(tx, host); err != nil {
				return err
			}
		}

		ok, err := tx.UpdateResourceState(host.ID, from, to)
		if err != nil {
			return err
		}
		if !ok {
			return fault.New(fault.KindConflict, "resource state changed concurrently, expected %s", stateLabel(from)).WithEntity(host.UUID)
		}

		if host.Type == types.HostTypeRouting && from != to &&
			(from == types.ResourceStateEnabled || to == types.ResourceStateEnabled) {
			if err := m.capacity.UpdateCapacityState(tx, host, to == types.ResourceStateEnabled); err != nil {
				return fmt.Errorf("failed to update capacity state: %w", err)
			}
		}

		if after != nil {
			return after(tx, host)
		}
		return nil
	})
	if err != nil {
		metrics.ResourceStateTransitionFailures.WithLabelValues(string(event)).Inc()
		return err
	}

	host.ResourceState = to
	metrics.ResourceStateTransitions.WithLabelValues(stateLabel(from), string(to), string(event)).Inc()

	m.logger.Info().
		Str(log.FieldHostID, host.ID).
		Str("from", stateLabel(from)).
		Str("to", string(to)).
		Str("event", string(event)).
		Msg("Resource state changed")

	if m.observer != nil {
		m.observer.ResourceStateChanged(host, from, to, string(event))
	}
	return nil
}

func stateLabel(s types.ResourceState) string {
	if s == "" {
		return "None"
	}
	return string(s)
}

func record(operation string, err error) {
	result := "success"
	if err != nil {
		result = string(fault.KindOf(err))
	}
	metrics.MaintenanceOperations.WithLabelValues(operation, result).Inc()
}

func hostPayload(host *types.Host) registry.Payload {
	return registry.Payload{
		ZoneID:    host.ZoneID,
		PodID:     host.PodID,
		ClusterID: host.ClusterID,
		HostID:    host.ID,
	}
}
