package events

import (
	"fmt"

	"github.com/cuemby/burrow/pkg/types"
)

// HostMonitor republishes agent monitor callbacks and state changes on a Broker
type HostMonitor struct {
	broker *Broker
}

// NewHostMonitor creates a monitor publishing to broker
func NewHostMonitor(broker *Broker) *HostMonitor {
	return &HostMonitor{broker: broker}
}

// HostAdded publishes host.added
func (m *HostMonitor) HostAdded(hostID string) {
	m.broker.Publish(&Event{
		Type:     EventHostAdded,
		Message:  fmt.Sprintf("host %s added", hostID),
		Metadata: map[string]string{MetaHostID: hostID},
	})
}

// HostAboutToBeRemoved publishes host.removing
func (m *HostMonitor) HostAboutToBeRemoved(hostID string) {
	m.broker.Publish(&Event{
		Type:     EventHostAboutToBeRemoved,
		Message:  fmt.Sprintf("host %s is being removed", hostID),
		Metadata: map[string]string{MetaHostID: hostID},
	})
}

// HostRemoved publishes host.removed
func (m *HostMonitor) HostRemoved(hostID, clusterID string) {
	m.broker.Publish(&Event{
		Type:    EventHostRemoved,
		Message: fmt.Sprintf("host %s removed", hostID),
		Metadata: map[string]string{
			MetaHostID:    hostID,
			MetaClusterID: clusterID,
		},
	})
}

// ResourceStateChanged publishes host.state.changed and, for the states an
// operator usually waits on, the matching maintenance event
func (m *HostMonitor) ResourceStateChanged(host *types.Host, from, to types.ResourceState, event string) {
	meta := map[string]string{
		MetaHostID:    host.ID,
		MetaClusterID: host.ClusterID,
		MetaFrom:      string(from),
		MetaTo:        string(to),
		MetaEvent:     event,
	}
	m.broker.Publish(&Event{
		Type:     EventHostStateChanged,
		Message:  fmt.Sprintf("host %s: %s -> %s on %s", host.Name, from, to, event),
		Metadata: meta,
	})

	var follow EventType
	switch {
	case to == types.ResourceStateMaintenance && from != to:
		follow = EventMaintenanceEntered
	case to == types.ResourceStateEnabled && (from == types.ResourceStatePrepareForMaintenance ||
		from == types.ResourceStateErrorInPrepareForMaintenance ||
		from == types.ResourceStateMaintenance ||
		from == types.ResourceStateErrorInMaintenance):
		follow = EventMaintenanceCancelled
	case to == types.ResourceStateErrorInMaintenance || to == types.ResourceStateErrorInPrepareForMaintenance:
		follow = EventMaintenanceFailed
	default:
		return
	}
	m.broker.Publish(&Event{
		Type:     follow,
		Message:  fmt.Sprintf("host %s is %s", host.Name, to),
		Metadata: meta,
	})
}
