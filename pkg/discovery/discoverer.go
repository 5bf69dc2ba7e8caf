package discovery

import (
	"context"
	"net/url"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/resourcestate"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// FindRequest is what a discoverer probes
type FindRequest struct {
	ZoneID     string
	PodID      string
	ClusterID  string
	URL        *url.URL
	Username   string
	Password   string
	Hypervisor types.HypervisorType
	HostTags   []string
}

// Discovered is one server resource returned by a discoverer together with
// the host details it wants recorded
type Discovered struct {
	Resource agent.ServerResource
	Details  map[string]string
}

// Discoverer probes a URL/credential endpoint for one hypervisor family
type Discoverer interface {
	Name() string
	// MatchHypervisor reports whether the discoverer handles the hypervisor hint
	MatchHypervisor(hypervisor types.HypervisorType) bool
	// Find returns nil when nothing is found at the endpoint; an error is
	// a hard failure of this discoverer only
	Find(ctx context.Context, req FindRequest) ([]Discovered, error)
	// PostDiscovery is called with the hosts created from a non-nil Find result
	PostDiscovery(hosts []*types.Host, managementServerID string)
}

// StateTransitioner applies resource state machine events to hosts
type StateTransitioner interface {
	ResourceStateTransitTo(ctx context.Context, host *types.Host, event resourcestate.Event, guard func(tx storage.Store, host *types.Host) error) error
}
