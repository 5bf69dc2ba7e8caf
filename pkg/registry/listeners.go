package registry

import (
	"sync"

	"github.com/cuemby/burrow/pkg/types"
)

// Event is a lifecycle point that listeners can observe
type Event string

const (
	EventDiscoverBefore           Event = "DiscoverBefore"
	EventDiscoverAfter            Event = "DiscoverAfter"
	EventDeleteHostBefore         Event = "DeleteHostBefore"
	EventDeleteHostAfter          Event = "DeleteHostAfter"
	EventPrepareMaintenanceBefore Event = "PrepareMaintenanceBefore"
	EventPrepareMaintenanceAfter  Event = "PrepareMaintenanceAfter"
	EventCancelMaintenanceBefore  Event = "CancelMaintenanceBefore"
	EventCancelMaintenanceAfter   Event = "CancelMaintenanceAfter"
)

// Payload carries the operation context to listeners
type Payload struct {
	ZoneID    string
	PodID     string
	ClusterID string
	HostID    string
	URL       string
	Hosts     []*types.Host
	Err       error
}

// Listener is notified synchronously around lifecycle operations
type Listener interface {
	OnEvent(event Event, payload Payload)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(event Event, payload Payload)

func (f ListenerFunc) OnEvent(event Event, payload Payload) {
	f(event, payload)
}

// Listeners is the resource-event listener registry
type Listeners struct {
	mu        sync.RWMutex
	listeners map[Event][]Listener
}

// NewListeners creates an empty listener registry
func NewListeners() *Listeners {
	return &Listeners{listeners: make(map[Event][]Listener)}
}

// Register appends l to the listeners of every given event
func (r *Listeners) Register(l Listener, events ...Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range events {
		r.listeners[e] = append(r.listeners[e], l)
	}
}

// Notify calls every listener of event in registration order
func (r *Listeners) Notify(event Event, payload Payload) {
	r.mu.RLock()
	list := append([]Listener(nil), r.listeners[event]...)
	r.mu.RUnlock()

	for _, l := range list {
		l.OnEvent(event, payload)
	}
}
