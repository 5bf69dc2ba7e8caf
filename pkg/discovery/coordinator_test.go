package discovery_test

import (
	"context"
	"sync"
	"testing"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/capacity"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/directory"
	"github.com/cuemby/burrow/pkg/discovery"
	"github.com/cuemby/burrow/pkg/discovery/simulator"
	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/resource"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t         *testing.T
	store     *storage.BoltStore
	dir       *directory.Directory
	transport *agent.DirectTransport
	listeners *registry.Listeners
	coord     *discovery.Coordinator
	sim       *simulator.Discoverer

	zone    *types.Zone
	pod     *types.Pod
	cluster *types.Cluster

	mu     sync.Mutex
	events map[registry.Event][]registry.Payload
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	zone := &types.Zone{Name: "z1", AllocationState: types.AllocationEnabled}
	require.NoError(t, store.CreateZone(zone))
	pod := &types.Pod{Name: "p1", ZoneID: zone.ID, AllocationState: types.AllocationEnabled}
	require.NoError(t, store.CreatePod(pod))
	cluster := &types.Cluster{
		Name:            "c1",
		ZoneID:          zone.ID,
		PodID:           pod.ID,
		Hypervisor:      types.HypervisorSimulator,
		Type:            types.ClusterTypeCloudManaged,
		AllocationState: types.AllocationEnabled,
		ManagedState:    types.ManagedStateManaged,
	}
	require.NoError(t, store.CreateCluster(cluster))

	dir := directory.New(store)
	transport := agent.NewDirectTransport(store, "node-1")
	adapters := registry.NewAdapters()
	adapters.Register(simulator.NewAdapter())
	listeners := registry.NewListeners()

	mgr := resource.NewManager(resource.Config{
		Store:     store,
		Directory: dir,
		Transport: transport,
		Capacity:  capacity.NewCalculator(store, 0),
		Adapters:  adapters,
		Listeners: listeners,
		Settings:  config.NewSettings(config.Default(), store),
		NodeID:    "node-1",
	})
	sim := simulator.NewDiscoverer()
	mgr.Discovery().RegisterDiscoverer(sim)

	f := &fixture{
		t:         t,
		store:     store,
		dir:       dir,
		transport: transport,
		listeners: listeners,
		coord:     mgr.Discovery(),
		sim:       sim,
		zone:      zone,
		pod:       pod,
		cluster:   cluster,
		events:    make(map[registry.Event][]registry.Payload),
	}
	listeners.Register(registry.ListenerFunc(func(ev registry.Event, p registry.Payload) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events[ev] = append(f.events[ev], p)
	}), registry.EventDiscoverBefore, registry.EventDiscoverAfter)
	return f
}

func (f *fixture) seen(ev registry.Event) []registry.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]registry.Payload(nil), f.events[ev]...)
}

func (f *fixture) disabledZone() string {
	zone := &types.Zone{Name: "dark", AllocationState: types.AllocationDisabled}
	require.NoError(f.t, f.store.CreateZone(zone))
	return zone.ID
}

func (f *fixture) request(url string) discovery.DiscoverHostsRequest {
	return discovery.DiscoverHostsRequest{
		ZoneID:     f.zone.ID,
		PodID:      f.pod.ID,
		ClusterID:  f.cluster.ID,
		URL:        url,
		Hypervisor: types.HypervisorSimulator,
	}
}

// staticDiscoverer hands out prepared resources
type staticDiscoverer struct {
	name      string
	resources []*simulator.Resource
	err       error
}

func (s *staticDiscoverer) Name() string { return s.name }

func (s *staticDiscoverer) MatchHypervisor(types.HypervisorType) bool { return true }

func (s *staticDiscoverer) Find(context.Context, discovery.FindRequest) ([]discovery.Discovered, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.resources) == 0 {
		return nil, nil
	}
	out := make([]discovery.Discovered, 0, len(s.resources))
	for _, r := range s.resources {
		out = append(out, discovery.Discovered{Resource: r})
	}
	return out, nil
}

func (s *staticDiscoverer) PostDiscovery([]*types.Host, string) {}

func TestDiscoverHostsRegistersEnabledHost(t *testing.T) {
	f := newFixture(t)

	req := f.request("sim://h1?tags=ssd")
	req.Username = "root"
	req.Password = "secret"
	req.HostTags = []string{"gpu"}
	hosts, err := f.coord.DiscoverHosts(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, hosts, 1)

	host, err := f.dir.Get(hosts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, types.ResourceStateEnabled, host.ResourceState)
	assert.Equal(t, types.HostStatusUp, host.Status)
	assert.Equal(t, "node-1", host.ManagementServerID)
	assert.Equal(t, f.cluster.ID, host.ClusterID)
	assert.Equal(t, []string{"gpu", "ssd"}, host.Tags)
	assert.Equal(t, "root", host.Detail(types.DetailUsername))
	assert.Equal(t, "sim://h1?tags=ssd", host.Detail("simulator.url"))

	rows, err := f.store.ListCapacity(host.ID)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	for _, row := range rows {
		assert.True(t, row.Enabled, "row %s", row.Type)
	}

	cluster, err := f.store.GetCluster(f.cluster.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, cluster.GUID)

	require.Len(t, f.seen(registry.EventDiscoverBefore), 1)
	after := f.seen(registry.EventDiscoverAfter)
	require.Len(t, after, 1)
	assert.NoError(t, after[0].Err)
	assert.Len(t, after[0].Hosts, 1)

	res, ok := f.sim.Resource("h1")
	require.True(t, ok)
	assert.True(t, res.Connected())
}

func TestDiscoverHostsTwiceUpdatesInPlace(t *testing.T) {
	f := newFixture(t)

	first, err := f.coord.DiscoverHosts(context.Background(), f.request("sim://h1"))
	require.NoError(t, err)
	second, err := f.coord.DiscoverHosts(context.Background(), f.request("sim://h1"))
	require.NoError(t, err)

	assert.Equal(t, first[0].ID, second[0].ID)
	hosts, err := f.dir.HostsInCluster(f.cluster.ID)
	require.NoError(t, err)
	assert.Len(t, hosts, 1)
	assert.Equal(t, types.ResourceStateEnabled, hosts[0].ResourceState)
}

func TestDiscoverHostsDefersBulkRegistration(t *testing.T) {
	f := newFixture(t)

	hosts, err := f.coord.DiscoverHosts(context.Background(), f.request("sim://rack?hosts=3"))
	require.NoError(t, err)
	require.Len(t, hosts, 3)

	byName := make(map[string]*types.Host)
	for _, h := range hosts {
		got, err := f.dir.Get(h.ID)
		require.NoError(t, err)
		byName[got.Name] = got
	}

	first := byName["rack-0"]
	require.NotNil(t, first)
	assert.Equal(t, types.HostStatusUp, first.Status)
	assert.Equal(t, types.ResourceStateEnabled, first.ResourceState)

	deferred, err := f.dir.DeferredHosts()
	require.NoError(t, err)
	require.Len(t, deferred, 2)
	for _, h := range deferred {
		assert.Equal(t, types.HostStatusDisconnected, h.Status)
		assert.Equal(t, types.ResourceStateCreating, h.ResourceState)
	}

	for _, h := range deferred {
		require.NoError(t, f.coord.ConnectDeferred(context.Background(), h.ID))
		got, err := f.dir.Get(h.ID)
		require.NoError(t, err)
		assert.Equal(t, types.HostStatusUp, got.Status)
		assert.Equal(t, types.ResourceStateEnabled, got.ResourceState)
		assert.Empty(t, got.Detail(types.DetailDeferredConnect))
	}

	remaining, err := f.dir.DeferredHosts()
	require.NoError(t, err)
	assert.Empty(t, remaining)

	err = f.coord.ConnectDeferred(context.Background(), first.ID)
	assert.True(t, fault.Is(err, fault.KindPrecondition))
}

func TestDiscoverHostsIntoPopulatedClusterConnectsAll(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.DiscoverHosts(context.Background(), f.request("sim://seed"))
	require.NoError(t, err)

	hosts, err := f.coord.DiscoverHosts(context.Background(), f.request("sim://rack?hosts=2"))
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	for _, h := range hosts {
		got, err := f.dir.Get(h.ID)
		require.NoError(t, err)
		assert.Equal(t, types.HostStatusUp, got.Status)
	}
}

func TestDiscoverHostsValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fixture, req *discovery.DiscoverHostsRequest)
		kind   fault.Kind
	}{
		{"missing zone", func(_ *fixture, req *discovery.DiscoverHostsRequest) { req.ZoneID = "" }, fault.KindInvalidParameter},
		{"missing url", func(_ *fixture, req *discovery.DiscoverHostsRequest) { req.URL = "" }, fault.KindInvalidParameter},
		{"unknown zone", func(_ *fixture, req *discovery.DiscoverHostsRequest) { req.ZoneID = "nope" }, fault.KindInvalidParameter},
		{"unknown pod", func(_ *fixture, req *discovery.DiscoverHostsRequest) { req.PodID = "nope" }, fault.KindInvalidParameter},
		{"cluster id and name", func(_ *fixture, req *discovery.DiscoverHostsRequest) { req.ClusterName = "other" }, fault.KindInvalidParameter},
		{"cluster without pod", func(_ *fixture, req *discovery.DiscoverHostsRequest) { req.PodID = "" }, fault.KindInvalidParameter},
		{"no scheme", func(_ *fixture, req *discovery.DiscoverHostsRequest) { req.URL = "h1" }, fault.KindInvalidParameter},
		{"scheme for another hypervisor", func(_ *fixture, req *discovery.DiscoverHostsRequest) { req.URL = "vmware://vc" }, fault.KindInvalidParameter},
		{"baremetal without tags", func(_ *fixture, req *discovery.DiscoverHostsRequest) {
			req.Hypervisor = types.HypervisorBareMetal
			req.URL = "http://bm"
		}, fault.KindInvalidParameter},
		{"no discoverer for hypervisor", func(_ *fixture, req *discovery.DiscoverHostsRequest) {
			req.Hypervisor = types.HypervisorKVM
			req.URL = "http://kvm1"
		}, fault.KindInvalidParameter},
		{"disabled zone", func(f *fixture, req *discovery.DiscoverHostsRequest) {
			req.ZoneID = f.disabledZone()
			req.PodID = ""
			req.ClusterID = ""
		}, fault.KindPrecondition},
		{"nothing found", func(_ *fixture, req *discovery.DiscoverHostsRequest) { req.URL = "sim://h1?fail=true" }, fault.KindDiscoveryFailed},
		{"bad host count", func(_ *fixture, req *discovery.DiscoverHostsRequest) { req.URL = "sim://h1?hosts=0" }, fault.KindDiscoveryFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := f.request("sim://h1")
			tt.mutate(f, &req)

			hosts, err := f.coord.DiscoverHosts(context.Background(), req)
			assert.Nil(t, hosts)
			assert.True(t, fault.Is(err, tt.kind), "got %v", err)

			all, err := f.dir.ListHosts(directory.Query{})
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestDiscoverHostsRootAdminOnDisabledZone(t *testing.T) {
	f := newFixture(t)
	req := f.request("sim://h1")
	req.ZoneID = f.disabledZone()
	req.PodID = ""
	req.ClusterID = ""
	req.RootAdmin = true
	hosts, err := f.coord.DiscoverHosts(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, hosts, 1)
}

func TestDiscoverHostsClusterHypervisorMismatch(t *testing.T) {
	f := newFixture(t)
	kvm := &types.Cluster{Name: "kvm", ZoneID: f.zone.ID, PodID: f.pod.ID, Hypervisor: types.HypervisorKVM}
	require.NoError(t, f.store.CreateCluster(kvm))

	req := f.request("sim://h1")
	req.ClusterID = kvm.ID
	_, err := f.coord.DiscoverHosts(context.Background(), req)
	assert.True(t, fault.Is(err, fault.KindInvalidParameter))
}

func TestDiscoverHostsNamedClusterHypervisorMismatchKeepsCluster(t *testing.T) {
	f := newFixture(t)
	kvm := &types.Cluster{Name: "kvm", ZoneID: f.zone.ID, PodID: f.pod.ID, Hypervisor: types.HypervisorKVM}
	require.NoError(t, f.store.CreateCluster(kvm))

	req := f.request("sim://h1")
	req.ClusterID = ""
	req.ClusterName = "kvm"
	_, err := f.coord.DiscoverHosts(context.Background(), req)
	assert.True(t, fault.Is(err, fault.KindInvalidParameter))

	// Only clusters created by the call are cleaned up
	existing, err := f.store.GetClusterByName(f.pod.ID, "kvm")
	require.NoError(t, err)
	assert.Equal(t, kvm.ID, existing.ID)
}

func TestDiscoverHostsCreatesNamedCluster(t *testing.T) {
	f := newFixture(t)

	req := f.request("sim://h1")
	req.ClusterID = ""
	req.ClusterName = "fresh"
	hosts, err := f.coord.DiscoverHosts(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, hosts, 1)

	cluster, err := f.store.GetClusterByName(f.pod.ID, "fresh")
	require.NoError(t, err)
	assert.Equal(t, types.HypervisorSimulator, cluster.Hypervisor)
	assert.Equal(t, cluster.ID, hosts[0].ClusterID)

	// The same name is found, not created again
	req.URL = "sim://h2"
	hosts, err = f.coord.DiscoverHosts(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, cluster.ID, hosts[0].ClusterID)
}

func TestDiscoverHostsRemovesClusterCreatedForFailedDiscovery(t *testing.T) {
	f := newFixture(t)

	req := f.request("sim://h1?fail=true")
	req.ClusterID = ""
	req.ClusterName = "doomed"
	_, err := f.coord.DiscoverHosts(context.Background(), req)
	assert.True(t, fault.Is(err, fault.KindDiscoveryFailed))

	_, err = f.store.GetClusterByName(f.pod.ID, "doomed")
	assert.True(t, fault.Is(err, fault.KindNotFound))

	after := f.seen(registry.EventDiscoverAfter)
	require.Len(t, after, 1)
	assert.Error(t, after[0].Err)
}

func TestDiscoverHostsHandshakeFailureMarksError(t *testing.T) {
	f := newFixture(t)
	res := simulator.NewResource(simulator.ResourceSpec{
		GUID:      "grumpy",
		ZoneID:    f.zone.ID,
		PodID:     f.pod.ID,
		ClusterID: f.cluster.ID,
	})
	res.RejectReady(true)
	f.coord.RegisterDiscoverer(&staticDiscoverer{name: "static", resources: []*simulator.Resource{res}})

	// The simulator discoverer ignores http urls, so the static one answers
	req := f.request("http://grumpy")
	_, err := f.coord.DiscoverHosts(context.Background(), req)
	assert.True(t, fault.Is(err, fault.KindDiscoveryFailed))

	host, err := f.store.GetHostByGUID("grumpy")
	require.NoError(t, err)
	assert.Equal(t, types.ResourceStateError, host.ResourceState)
	assert.Equal(t, types.HostStatusError, host.Status)
	assert.False(t, res.Connected())
}

func TestDiscoverHostsFallsThroughFailingDiscoverer(t *testing.T) {
	f := newFixture(t)
	res := simulator.NewResource(simulator.ResourceSpec{
		GUID:      "late",
		ZoneID:    f.zone.ID,
		PodID:     f.pod.ID,
		ClusterID: f.cluster.ID,
	})
	f.coord.RegisterDiscoverer(&staticDiscoverer{name: "broken", err: assert.AnError})
	f.coord.RegisterDiscoverer(&staticDiscoverer{name: "static", resources: []*simulator.Resource{res}})

	hosts, err := f.coord.DiscoverHosts(context.Background(), f.request("http://late"))
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "late", hosts[0].GUID)
}

func TestDiscoverCluster(t *testing.T) {
	f := newFixture(t)

	clusters, err := f.coord.DiscoverCluster(context.Background(), discovery.DiscoverClusterRequest{
		ZoneID:      f.zone.ID,
		PodID:       f.pod.ID,
		ClusterName: "empty",
		Hypervisor:  types.HypervisorSimulator,
	})
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, types.AllocationEnabled, clusters[0].AllocationState)
	assert.Empty(t, clusters[0].GUID)

	clusters, err = f.coord.DiscoverCluster(context.Background(), discovery.DiscoverClusterRequest{
		ZoneID:      f.zone.ID,
		PodID:       f.pod.ID,
		ClusterName: "populated",
		Hypervisor:  types.HypervisorSimulator,
		URL:         "sim://node",
	})
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.NotEmpty(t, clusters[0].GUID)

	hosts, err := f.dir.HostsInCluster(clusters[0].ID)
	require.NoError(t, err)
	assert.Len(t, hosts, 1)
}

func TestDiscoverClusterRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.DiscoverCluster(context.Background(), discovery.DiscoverClusterRequest{
		ZoneID:      f.zone.ID,
		PodID:       f.pod.ID,
		ClusterName: "broken",
		Hypervisor:  types.HypervisorSimulator,
		URL:         "sim://node?fail=true",
	})
	assert.True(t, fault.Is(err, fault.KindDiscoveryFailed))

	_, err = f.store.GetClusterByName(f.pod.ID, "broken")
	assert.True(t, fault.Is(err, fault.KindNotFound))

	_, err = f.coord.DiscoverCluster(context.Background(), discovery.DiscoverClusterRequest{
		ZoneID:      f.zone.ID,
		PodID:       f.pod.ID,
		ClusterName: "any",
		Hypervisor:  types.HypervisorAny,
	})
	assert.True(t, fault.Is(err, fault.KindInvalidParameter))
}
