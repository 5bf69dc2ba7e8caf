package agent

import (
	"context"
	"sync"

	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// Transport carries commands to host agents and tracks their connection status
type Transport interface {
	// Send delivers cmd and waits for the answer. Unreachable agents return a
	// fault.KindAgentUnavailable error.
	Send(ctx context.Context, hostID string, cmd Command) (*Answer, error)
	// EasySend is Send that swallows errors and returns nil instead
	EasySend(ctx context.Context, hostID string, cmd Command) *Answer

	// Attach binds a resource to a host without a handshake
	Attach(hostID string, resource ServerResource)
	// Connect attaches resource to host and runs the agent handshake
	Connect(ctx context.Context, host *types.Host, resource ServerResource) error
	// Reconnect re-runs the handshake for an attached host
	Reconnect(ctx context.Context, hostID string) error
	// DisconnectWithoutInvestigation drops the connection in memory only.
	// It never writes the host record, so it is safe inside a store transaction.
	DisconnectWithoutInvestigation(hostID string, event StatusEvent)
	// AgentStatusTransitTo moves host.Status on event and records the owning node
	AgentStatusTransitTo(host *types.Host, event StatusEvent, nodeID string) error

	PullAgentToMaintenance(hostID string)
	PullAgentOutMaintenance(hostID string)
	IsAgentInMaintenance(hostID string) bool

	NotifyMonitorsOfNewlyAddedHost(hostID string)
	NotifyMonitorsOfHostAboutToBeRemoved(hostID string)
	NotifyMonitorsOfRemovedHost(hostID, clusterID string)
}

// Monitor observes host membership changes
type Monitor interface {
	HostAdded(hostID string)
	HostAboutToBeRemoved(hostID string)
	HostRemoved(hostID, clusterID string)
}

// DirectTransport executes commands in-process on attached ServerResources
type DirectTransport struct {
	store  storage.Store
	nodeID string
	logger zerolog.Logger

	mu          sync.RWMutex
	resources   map[string]ServerResource
	maintenance map[string]bool
	monitors    []Monitor
}

// NewDirectTransport creates a transport for direct-connect hosts owned by nodeID
func NewDirectTransport(store storage.Store, nodeID string) *DirectTransport {
	return &DirectTransport{
		store:       store,
		nodeID:      nodeID,
		logger:      log.WithComponent("agent"),
		resources:   make(map[string]ServerResource),
		maintenance: make(map[string]bool),
	}
}

// AddMonitor registers a membership observer
func (t *DirectTransport) AddMonitor(m Monitor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.monitors = append(t.monitors, m)
}

func (t *DirectTransport) resource(hostID string) (ServerResource, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.resources[hostID]
	return r, ok
}

// Send routes cmd to the host's attached resource
func (t *DirectTransport) Send(ctx context.Context, hostID string, cmd Command) (*Answer, error) {
	r, ok := t.resource(hostID)
	if !ok {
		return nil, fault.New(fault.KindAgentUnavailable, "no agent attached").WithEntity(hostID)
	}
	if t.IsAgentInMaintenance(hostID) && !cmd.AllowedInMaintenance() {
		return nil, fault.New(fault.KindAgentUnavailable, "agent is in maintenance, %s not delivered", cmd.Name()).WithEntity(hostID)
	}
	if err := ctx.Err(); err != nil {
		return nil, fault.Wrap(fault.KindTimeout, err, "%s not sent", cmd.Name()).WithEntity(hostID)
	}

	answer, err := r.Execute(ctx, cmd)
	if err != nil {
		if fault.KindOf(err) == fault.KindInternal {
			return nil, fault.Wrap(fault.KindAgentUnavailable, err, "%s failed", cmd.Name()).WithEntity(hostID)
		}
		return nil, err
	}
	if answer == nil {
		return nil, fault.New(fault.KindAgentUnavailable, "%s returned no answer", cmd.Name()).WithEntity(hostID)
	}
	return answer, nil
}

// EasySend is Send that logs and returns nil on failure
func (t *DirectTransport) EasySend(ctx context.Context, hostID string, cmd Command) *Answer {
	answer, err := t.Send(ctx, hostID, cmd)
	if err != nil {
		t.logger.Debug().Err(err).Str(log.FieldHostID, hostID).Str("command", cmd.Name()).Msg("Command not delivered")
		return nil
	}
	return answer
}

func (t *DirectTransport) Attach(hostID string, resource ServerResource) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resources[hostID] = resource
}

// Connect attaches the resource and completes the handshake:
// AgentConnected, then Ready once the resource accepts ReadyCommand
func (t *DirectTransport) Connect(ctx context.Context, host *types.Host, resource ServerResource) error {
	t.Attach(host.ID, resource)
	return t.handshake(ctx, host)
}

func (t *DirectTransport) Reconnect(ctx context.Context, hostID string) error {
	if _, ok := t.resource(hostID); !ok {
		return fault.New(fault.KindAgentUnavailable, "no resource to reconnect").WithEntity(hostID)
	}
	host, err := t.store.GetHost(hostID)
	if err != nil {
		return err
	}
	return t.handshake(ctx, host)
}

func (t *DirectTransport) handshake(ctx context.Context, host *types.Host) error {
	if err := t.AgentStatusTransitTo(host, StatusEventAgentConnected, t.nodeID); err != nil {
		return err
	}

	answer, err := t.Send(ctx, host.ID, ReadyCommand{HostID: host.ID})
	if err != nil || !answer.Result {
		if err == nil {
			err = fault.New(fault.KindAgentUnavailable, "agent rejected handshake: %s", answer.Details)
		}
		t.Detach(host.ID)
		if serr := t.AgentStatusTransitTo(host, StatusEventAgentDisconnected, t.nodeID); serr != nil {
			t.logger.Warn().Err(serr).Str(log.FieldHostID, host.ID).Msg("Failed to record disconnect")
		}
		return err
	}

	return t.AgentStatusTransitTo(host, StatusEventReady, t.nodeID)
}

// Detach forgets the host's resource
func (t *DirectTransport) Detach(hostID string) {
	t.mu.Lock()
	r, ok := t.resources[hostID]
	delete(t.resources, hostID)
	delete(t.maintenance, hostID)
	t.mu.Unlock()

	if ok {
		r.Disconnected()
	}
}

func (t *DirectTransport) DisconnectWithoutInvestigation(hostID string, event StatusEvent) {
	t.logger.Info().Str(log.FieldHostID, hostID).Str("event", string(event)).Msg("Disconnecting agent")
	t.Detach(hostID)
}

func (t *DirectTransport) AgentStatusTransitTo(host *types.Host, event StatusEvent, nodeID string) error {
	next, err := NextStatus(host.Status, event)
	if err != nil {
		return fault.Wrap(fault.KindNoTransition, err, "agent status").WithEntity(host.ID)
	}

	// Only the status columns are written so a concurrent resource state
	// CAS is never overwritten by a stale copy of the host
	err = t.store.Update(func(tx storage.Store) error {
		current, err := tx.GetHost(host.ID)
		if err != nil {
			return err
		}
		current.Status = next
		if event == StatusEventAgentConnected {
			current.ManagementServerID = nodeID
		}
		return tx.UpdateHost(current)
	})
	if err != nil {
		return err
	}
	host.Status = next
	if event == StatusEventAgentConnected {
		host.ManagementServerID = nodeID
	}

	t.logger.Debug().
		Str(log.FieldHostID, host.ID).
		Str("event", string(event)).
		Str("status", string(next)).
		Msg("Agent status changed")
	return nil
}

func (t *DirectTransport) PullAgentToMaintenance(hostID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maintenance[hostID] = true
}

func (t *DirectTransport) PullAgentOutMaintenance(hostID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.maintenance, hostID)
}

func (t *DirectTransport) IsAgentInMaintenance(hostID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maintenance[hostID]
}

func (t *DirectTransport) snapshotMonitors() []Monitor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Monitor(nil), t.monitors...)
}

func (t *DirectTransport) NotifyMonitorsOfNewlyAddedHost(hostID string) {
	for _, m := range t.snapshotMonitors() {
		m.HostAdded(hostID)
	}
}

func (t *DirectTransport) NotifyMonitorsOfHostAboutToBeRemoved(hostID string) {
	for _, m := range t.snapshotMonitors() {
		m.HostAboutToBeRemoved(hostID)
	}
}

func (t *DirectTransport) NotifyMonitorsOfRemovedHost(hostID, clusterID string) {
	for _, m := range t.snapshotMonitors() {
		m.HostRemoved(hostID, clusterID)
	}
}
