package agent

import (
	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/types"
)

// StatusEvent drives the connectivity axis of a host
type StatusEvent string

const (
	StatusEventAgentConnected       StatusEvent = "AgentConnected"
	StatusEventReady                StatusEvent = "Ready"
	StatusEventAgentDisconnected    StatusEvent = "AgentDisconnected"
	StatusEventPingTimeout          StatusEvent = "PingTimeout"
	StatusEventHostDown             StatusEvent = "HostDown"
	StatusEventShutdownRequested    StatusEvent = "ShutdownRequested"
	StatusEventManagementServerDown StatusEvent = "ManagementServerDown"
	StatusEventError                StatusEvent = "Error"
	StatusEventRemove               StatusEvent = "Remove"
)

type statusRule struct {
	from []types.HostStatus
	to   types.HostStatus
}

var allStatuses = []types.HostStatus{
	types.HostStatusCreating,
	types.HostStatusConnecting,
	types.HostStatusUp,
	types.HostStatusDown,
	types.HostStatusDisconnected,
	types.HostStatusAlert,
	types.HostStatusError,
	types.HostStatusRebalancing,
}

var statusRules = map[StatusEvent]statusRule{
	StatusEventAgentConnected: {allStatuses, types.HostStatusConnecting},
	StatusEventReady: {[]types.HostStatus{
		types.HostStatusConnecting,
		types.HostStatusUp,
	}, types.HostStatusUp},
	StatusEventAgentDisconnected: {[]types.HostStatus{
		types.HostStatusConnecting,
		types.HostStatusUp,
		types.HostStatusAlert,
		types.HostStatusDisconnected,
		types.HostStatusRebalancing,
	}, types.HostStatusDisconnected},
	StatusEventPingTimeout: {[]types.HostStatus{
		types.HostStatusUp,
		types.HostStatusAlert,
	}, types.HostStatusAlert},
	StatusEventHostDown: {[]types.HostStatus{
		types.HostStatusUp,
		types.HostStatusAlert,
		types.HostStatusDisconnected,
		types.HostStatusConnecting,
		types.HostStatusDown,
	}, types.HostStatusDown},
	StatusEventShutdownRequested: {[]types.HostStatus{
		types.HostStatusUp,
		types.HostStatusConnecting,
		types.HostStatusAlert,
		types.HostStatusDisconnected,
	}, types.HostStatusDisconnected},
	StatusEventManagementServerDown: {[]types.HostStatus{
		types.HostStatusUp,
		types.HostStatusConnecting,
	}, types.HostStatusAlert},
	StatusEventError: {allStatuses, types.HostStatusError},
	StatusEventRemove: {append([]types.HostStatus{types.HostStatusRemoved}, allStatuses...), types.HostStatusRemoved},
}

// NextStatus returns the connectivity status reached from current on event
func NextStatus(current types.HostStatus, event StatusEvent) (types.HostStatus, error) {
	r, ok := statusRules[event]
	if !ok {
		return current, fault.New(fault.KindNoTransition, "unknown status event %s", event)
	}
	// A fresh record has no status yet
	if current == "" {
		current = types.HostStatusCreating
	}
	for _, s := range r.from {
		if s == current {
			return r.to, nil
		}
	}
	return current, fault.New(fault.KindNoTransition, "no status transition from %s on %s", current, event)
}
