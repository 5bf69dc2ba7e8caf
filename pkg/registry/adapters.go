package registry

import (
	"fmt"
	"sync"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/types"
)

// AdapterEvent selects which adapter hook a dispatch calls
type AdapterEvent string

const (
	EventCreateHostForDirectConnect AdapterEvent = "CREATE_HOST_VO_FOR_DIRECT_CONNECT"
	EventCreateHostForConnected     AdapterEvent = "CREATE_HOST_VO_FOR_CONNECTED"
	EventDeleteHost                 AdapterEvent = "DELETE_HOST"
)

// DeleteHostAnswer is an adapter's verdict on a host deletion
type DeleteHostAnswer struct {
	// IsContinue lets default deletion proceed
	IsContinue bool
	// IsFatal aborts the deletion
	IsFatal bool
	Reason  string
}

// StateAdapter lets a hypervisor family take part in host creation and
// deletion. Returning nil from a hook means "not mine".
type StateAdapter interface {
	Name() string
	CreateHostForDirectConnect(host *types.Host, startup *agent.StartupCommand, resource agent.ServerResource) (*types.Host, error)
	CreateHostForConnected(host *types.Host, startup *agent.StartupCommand) (*types.Host, error)
	DeleteHost(host *types.Host, forced, forceDeleteStorage bool) (*DeleteHostAnswer, error)
}

// Adapters is the resource-state-adapter registry
type Adapters struct {
	mu       sync.RWMutex
	order    []string
	adapters map[string]StateAdapter
}

// NewAdapters creates an empty adapter registry
func NewAdapters() *Adapters {
	return &Adapters{adapters: make(map[string]StateAdapter)}
}

// Register adds or replaces an adapter; replacing keeps its original position
func (r *Adapters) Register(adapter StateAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := adapter.Name()
	if _, ok := r.adapters[name]; !ok {
		r.order = append(r.order, name)
	}
	r.adapters[name] = adapter
}

// Unregister removes the adapter with the given name
func (r *Adapters) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.adapters[name]; !ok {
		return
	}
	delete(r.adapters, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns an adapter by name
func (r *Adapters) Get(name string) (StateAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// List returns adapters in registration order
func (r *Adapters) List() []StateAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]StateAdapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.adapters[name])
	}
	return out
}

// DispatchCreate gives each adapter a chance to build the host record.
// The first non-nil host wins; an adapter error vetoes the creation.
// A nil host with nil error means no adapter claimed the event.
func (r *Adapters) DispatchCreate(event AdapterEvent, host *types.Host, startup *agent.StartupCommand, resource agent.ServerResource) (*types.Host, error) {
	for _, a := range r.List() {
		var (
			result *types.Host
			err    error
		)
		switch event {
		case EventCreateHostForDirectConnect:
			result, err = a.CreateHostForDirectConnect(host, startup, resource)
		case EventCreateHostForConnected:
			result, err = a.CreateHostForConnected(host, startup)
		default:
			return nil, fmt.Errorf("unsupported create event %s", event)
		}
		if err != nil {
			return nil, fmt.Errorf("adapter %s rejected host: %w", a.Name(), err)
		}
		if result != nil {
			return result, nil
		}
	}
	return nil, nil
}

// DispatchDelete returns the first non-nil answer. Errors are treated as a
// fatal answer from that adapter.
func (r *Adapters) DispatchDelete(host *types.Host, forced, forceDeleteStorage bool) (*DeleteHostAnswer, string) {
	for _, a := range r.List() {
		answer, err := a.DeleteHost(host, forced, forceDeleteStorage)
		if err != nil {
			return &DeleteHostAnswer{IsFatal: true, Reason: err.Error()}, a.Name()
		}
		if answer != nil {
			return answer, a.Name()
		}
	}
	return nil, ""
}
