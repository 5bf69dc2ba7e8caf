package simulator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cuemby/burrow/pkg/discovery"
	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

const maxHostsPerURL = 64

// Discoverer answers dummy:// and sim:// URLs with simulated resources.
//
//	sim://rack1?hosts=3&tags=ssd,gpu
//
// yields resources rack1-0, rack1-1 and rack1-2. Resources are remembered
// by guid so a second discovery of the same URL returns the same objects.
type Discoverer struct {
	mu        sync.Mutex
	resources map[string]*Resource
	logger    zerolog.Logger
}

// NewDiscoverer creates a simulator discoverer
func NewDiscoverer() *Discoverer {
	return &Discoverer{
		resources: make(map[string]*Resource),
		logger:    log.WithComponent("simulator"),
	}
}

func (d *Discoverer) Name() string { return "simulator" }

func (d *Discoverer) MatchHypervisor(h types.HypervisorType) bool {
	return h == types.HypervisorSimulator || h == types.HypervisorAny
}

func (d *Discoverer) Find(ctx context.Context, req discovery.FindRequest) ([]discovery.Discovered, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scheme := strings.ToLower(req.URL.Scheme)
	if scheme != "dummy" && scheme != "sim" {
		return nil, nil
	}

	query := req.URL.Query()
	count := 1
	if v := query.Get("hosts"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHostsPerURL {
			return nil, fault.InvalidParameter("hosts must be between 1 and %d, got %q", maxHostsPerURL, v)
		}
		count = n
	}
	var tags []string
	if v := query.Get("tags"); v != "" {
		tags = strings.Split(v, ",")
	}
	if query.Get("fail") == "true" {
		return nil, fmt.Errorf("simulated discovery failure at %s", req.URL.Redacted())
	}

	base := req.URL.Host
	if base == "" {
		base = "sim"
	}

	hypervisor := req.Hypervisor
	if hypervisor == types.HypervisorAny || hypervisor == "" {
		hypervisor = types.HypervisorSimulator
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	found := make([]discovery.Discovered, 0, count)
	for i := 0; i < count; i++ {
		guid := base
		if count > 1 {
			guid = fmt.Sprintf("%s-%d", base, i)
		}
		res, ok := d.resources[guid]
		if !ok {
			res = NewResource(ResourceSpec{
				GUID:       guid,
				Hypervisor: hypervisor,
				ZoneID:     req.ZoneID,
				PodID:      req.PodID,
				ClusterID:  req.ClusterID,
				Tags:       tags,
			})
			d.resources[guid] = res
		}
		found = append(found, discovery.Discovered{
			Resource: res,
			Details:  map[string]string{"simulator.url": req.URL.Redacted()},
		})
	}
	return found, nil
}

func (d *Discoverer) PostDiscovery(hosts []*types.Host, managementServerID string) {
	d.logger.Debug().Int("hosts", len(hosts)).Str(log.FieldNodeID, managementServerID).Msg("Simulated hosts registered")
}

// Resource returns the simulated resource with the given guid
func (d *Discoverer) Resource(guid string) (*Resource, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.resources[guid]
	return r, ok
}

// GUIDs lists the known resources
func (d *Discoverer) GUIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.resources))
	for guid := range d.resources {
		out = append(out, guid)
	}
	sort.Strings(out)
	return out
}
