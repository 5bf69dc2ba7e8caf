package resourcestate

import (
	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/filanov/stateswitch"
)

// Event triggers a resource-state transition
type Event string

const (
	EventCreate                   Event = "Create"
	EventInternalCreated          Event = "InternalCreated"
	EventEnable                   Event = "Enable"
	EventDisable                  Event = "Disable"
	EventAdminAskMaintenance      Event = "AdminAskMaintenance"
	EventInternalEnterMaintenance Event = "InternalEnterMaintenance"
	EventAdminCancelMaintenance   Event = "AdminCancelMaintenance"
	EventDeleteHost               Event = "DeleteHost"
	EventError                    Event = "Error"
	EventUnableToMigrate          Event = "UnableToMigrate"
	EventErrorsCorrected          Event = "ErrorsCorrected"
	EventUnableToMaintain         Event = "UnableToMaintain"
	EventDeclareHostDegraded      Event = "DeclareHostDegraded"
	EventEnableDegradedHost       Event = "EnableDegradedHost"
	EventUnmanaged                Event = "Unmanaged"
	EventUpdatePassword           Event = "UpdatePassword"
)

// States lists every resource state a persisted host can be in
func States() []types.ResourceState {
	return []types.ResourceState{
		types.ResourceStateCreating,
		types.ResourceStateEnabled,
		types.ResourceStateDisabled,
		types.ResourceStatePrepareForMaintenance,
		types.ResourceStateErrorInPrepareForMaintenance,
		types.ResourceStateMaintenance,
		types.ResourceStateErrorInMaintenance,
		types.ResourceStateDegraded,
		types.ResourceStateError,
	}
}

// Events lists every resource-state event
func Events() []Event {
	return []Event{
		EventCreate, EventInternalCreated, EventEnable, EventDisable,
		EventAdminAskMaintenance, EventInternalEnterMaintenance, EventAdminCancelMaintenance,
		EventDeleteHost, EventError, EventUnableToMigrate, EventErrorsCorrected,
		EventUnableToMaintain, EventDeclareHostDegraded, EventEnableDegradedHost,
		EventUnmanaged, EventUpdatePassword,
	}
}

const none types.ResourceState = ""

// rule maps a set of source states to a destination for one event.
// A zero destination keeps the source state.
type rule struct {
	event Event
	from  []types.ResourceState
	to    types.ResourceState
}

var (
	maintenanceStates = []types.ResourceState{
		types.ResourceStatePrepareForMaintenance,
		types.ResourceStateErrorInPrepareForMaintenance,
		types.ResourceStateMaintenance,
		types.ResourceStateErrorInMaintenance,
	}

	// Hosts in these states may be reconfigured without changing admin state
	steadyStates = []types.ResourceState{
		types.ResourceStateEnabled,
		types.ResourceStateDisabled,
		types.ResourceStateMaintenance,
		types.ResourceStateErrorInMaintenance,
		types.ResourceStateDegraded,
	}
)

var rules = []rule{
	{EventCreate, []types.ResourceState{none, types.ResourceStateCreating}, types.ResourceStateCreating},
	{EventInternalCreated, []types.ResourceState{types.ResourceStateCreating}, types.ResourceStateEnabled},
	{EventError, []types.ResourceState{types.ResourceStateCreating}, types.ResourceStateError},

	{EventDisable, []types.ResourceState{types.ResourceStateEnabled}, types.ResourceStateDisabled},
	{EventEnable, []types.ResourceState{types.ResourceStateDisabled}, types.ResourceStateEnabled},

	{EventAdminAskMaintenance, []types.ResourceState{
		types.ResourceStateEnabled,
		types.ResourceStateDisabled,
	}, types.ResourceStatePrepareForMaintenance},
	{EventInternalEnterMaintenance, []types.ResourceState{
		types.ResourceStatePrepareForMaintenance,
		types.ResourceStateErrorInPrepareForMaintenance,
		types.ResourceStateErrorInMaintenance,
	}, types.ResourceStateMaintenance},
	{EventUnableToMigrate, []types.ResourceState{
		types.ResourceStatePrepareForMaintenance,
		types.ResourceStateErrorInMaintenance,
	}, types.ResourceStateErrorInPrepareForMaintenance},
	{EventUnableToMaintain, []types.ResourceState{
		types.ResourceStatePrepareForMaintenance,
		types.ResourceStateErrorInPrepareForMaintenance,
	}, types.ResourceStateErrorInMaintenance},
	{EventErrorsCorrected, []types.ResourceState{
		types.ResourceStateErrorInPrepareForMaintenance,
	}, types.ResourceStatePrepareForMaintenance},
	{EventAdminCancelMaintenance, maintenanceStates, types.ResourceStateEnabled},

	{EventDeclareHostDegraded, []types.ResourceState{
		types.ResourceStateEnabled,
		types.ResourceStateDisabled,
		types.ResourceStateMaintenance,
		types.ResourceStateErrorInMaintenance,
	}, types.ResourceStateDegraded},
	{EventEnableDegradedHost, []types.ResourceState{types.ResourceStateDegraded}, types.ResourceStateEnabled},

	{EventDeleteHost, States(), types.ResourceStateDisabled},

	// Self loops: reconnecting agents and bookkeeping events never move admin state
	{EventInternalCreated, []types.ResourceState{
		types.ResourceStateEnabled,
		types.ResourceStateDisabled,
		types.ResourceStatePrepareForMaintenance,
		types.ResourceStateErrorInPrepareForMaintenance,
		types.ResourceStateMaintenance,
		types.ResourceStateErrorInMaintenance,
		types.ResourceStateDegraded,
	}, none},
	{EventUnmanaged, steadyStates, none},
	{EventUpdatePassword, steadyStates, none},
}

// machine is built once; Run only reads it, so it is safe for concurrent use
var machine = build()

// holder adapts a single state value to stateswitch.StateSwitch
type holder struct {
	state types.ResourceState
}

func (h *holder) State() stateswitch.State {
	return stateswitch.State(h.state)
}

func (h *holder) SetState(state stateswitch.State) error {
	h.state = types.ResourceState(state)
	return nil
}

func build() stateswitch.StateMachine {
	sm := stateswitch.NewStateMachine()
	for _, r := range rules {
		if r.to == none {
			// One rule per state keeps the destination equal to the source
			for _, s := range r.from {
				sm.AddTransition(stateswitch.TransitionRule{
					TransitionType:   stateswitch.TransitionType(r.event),
					SourceStates:     []stateswitch.State{stateswitch.State(s)},
					DestinationState: stateswitch.State(s),
				})
			}
			continue
		}

		sources := make([]stateswitch.State, 0, len(r.from))
		for _, s := range r.from {
			sources = append(sources, stateswitch.State(s))
		}
		sm.AddTransition(stateswitch.TransitionRule{
			TransitionType:   stateswitch.TransitionType(r.event),
			SourceStates:     sources,
			DestinationState: stateswitch.State(r.to),
		})
	}
	return sm
}

// NextState returns the state reached from current on event, or a
// KindNoTransition fault when the pair is not in the table
func NextState(current types.ResourceState, event Event) (types.ResourceState, error) {
	h := &holder{state: current}
	if err := machine.Run(stateswitch.TransitionType(event), h, nil); err != nil {
		return current, fault.Wrap(fault.KindNoTransition, err,
			"no transition from %q on event %s", current, event)
	}
	return h.state, nil
}

// IsMaintenanceState reports whether the host is on its way into, or already in, maintenance
func IsMaintenanceState(s types.ResourceState) bool {
	for _, m := range maintenanceStates {
		if s == m {
			return true
		}
	}
	return false
}

// CanAttemptMaintenance reports whether a new maintenance request may start from s
func CanAttemptMaintenance(s types.ResourceState) bool {
	return !IsMaintenanceState(s)
}

// IsPreparing reports whether the host is evacuating (the per-cluster exclusive states)
func IsPreparing(s types.ResourceState) bool {
	return s == types.ResourceStatePrepareForMaintenance ||
		s == types.ResourceStateErrorInPrepareForMaintenance
}
