package resource

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/directory"
	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type vetoAdapter struct {
	answer *registry.DeleteHostAnswer
}

func (v vetoAdapter) Name() string { return "veto" }

func (v vetoAdapter) CreateHostForDirectConnect(host *types.Host, _ *agent.StartupCommand, _ agent.ServerResource) (*types.Host, error) {
	return host, nil
}

func (v vetoAdapter) CreateHostForConnected(host *types.Host, _ *agent.StartupCommand) (*types.Host, error) {
	return host, nil
}

func (v vetoAdapter) DeleteHost(*types.Host, bool, bool) (*registry.DeleteHostAnswer, error) {
	return v.answer, nil
}

func TestDeleteHostRequiresMaintenance(t *testing.T) {
	e := newEnv(t)
	host := e.addHost("h1")

	ok, err := e.mgr.DeleteHost(context.Background(), host.ID, false, false)
	assert.False(t, ok)
	assert.True(t, fault.Is(err, fault.KindPrecondition))
	assert.Equal(t, types.ResourceStateEnabled, e.state(host.ID))
}

func TestDeleteHostFromMaintenance(t *testing.T) {
	e := newEnv(t)
	host := e.addHost("h1")
	require.NoError(t, e.store.CreateAnnotation(&types.Annotation{EntityID: host.ID, Text: "rack 4"}))

	_, err := e.mgr.Maintain(context.Background(), host.ID)
	require.NoError(t, err)
	require.Equal(t, types.ResourceStateMaintenance, e.state(host.ID))

	stopped := e.addVM(host, "parked", func(vm *types.VM) { vm.State = types.VMStateStopped })

	var seen []registry.Event
	var afterErr error
	e.listeners.Register(registry.ListenerFunc(func(ev registry.Event, p registry.Payload) {
		seen = append(seen, ev)
		if ev == registry.EventDeleteHostAfter {
			afterErr = p.Err
		}
	}), registry.EventDeleteHostBefore, registry.EventDeleteHostAfter)

	ok, err := e.mgr.DeleteHost(context.Background(), host.ID, false, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []registry.Event{registry.EventDeleteHostBefore, registry.EventDeleteHostAfter}, seen)
	assert.NoError(t, afterErr)

	_, err = e.mgr.GetHost(host.ID)
	assert.True(t, fault.Is(err, fault.KindNotFound))

	hosts, err := e.mgr.ListHosts(directory.Query{ClusterID: e.cluster.ID})
	require.NoError(t, err)
	assert.Empty(t, hosts)

	removed := e.reload(host.ID)
	assert.True(t, removed.IsRemoved())
	assert.Equal(t, types.HostStatusRemoved, removed.Status)
	assert.Empty(t, removed.ClusterID)
	assert.Empty(t, removed.Details)

	rows, err := e.store.ListCapacity(host.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	notes, err := e.store.ListAnnotations(host.ID)
	require.NoError(t, err)
	assert.Empty(t, notes)

	vm, err := e.store.GetVM(stopped.ID)
	require.NoError(t, err)
	assert.Empty(t, vm.HostID)
	assert.Equal(t, host.ID, vm.LastHostID)

	// The last host is gone, so the cluster can be claimed again
	cluster, err := e.store.GetCluster(e.cluster.ID)
	require.NoError(t, err)
	assert.Empty(t, cluster.GUID)

	assert.False(t, e.resource("h1").Connected())
}

// failingStore rolls back every transaction while fail is set
type failingStore struct {
	storage.Store
	fail atomic.Bool
}

var errDiskFull = errors.New("disk full")

func (s *failingStore) Update(fn func(tx storage.Store) error) error {
	if !s.fail.Load() {
		return s.Store.Update(fn)
	}
	return s.Store.Update(func(tx storage.Store) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errDiskFull
	})
}

func TestDeleteHostKeepsAgentWhenCommitFails(t *testing.T) {
	var store *failingStore
	e := newEnv(t, func(c *Config) {
		store = &failingStore{Store: c.Store}
		c.Store = store
	})
	host := e.addHost("h1")
	_, err := e.mgr.Maintain(context.Background(), host.ID)
	require.NoError(t, err)
	require.Equal(t, types.ResourceStateMaintenance, e.state(host.ID))

	store.fail.Store(true)
	ok, err := e.mgr.DeleteHost(context.Background(), host.ID, false, false)
	assert.False(t, ok)
	assert.ErrorIs(t, err, errDiskFull)

	current := e.reload(host.ID)
	assert.False(t, current.IsRemoved())
	assert.Equal(t, types.ResourceStateMaintenance, current.ResourceState)
	assert.Equal(t, e.cluster.ID, current.ClusterID)
	assert.True(t, e.resource("h1").Connected(), "agent must stay attached to a surviving host")

	store.fail.Store(false)
	ok, err = e.mgr.DeleteHost(context.Background(), host.ID, false, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, e.reload(host.ID).IsRemoved())
	assert.False(t, e.resource("h1").Connected())
}

func TestDeleteHostForced(t *testing.T) {
	e := newEnv(t)
	host := e.addHost("h1")
	e.addHost("h2")

	ok, err := e.mgr.DeleteHost(context.Background(), host.ID, true, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, e.reload(host.ID).IsRemoved())

	// Another host remains, so the cluster keeps its guid
	cluster, err := e.store.GetCluster(e.cluster.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, cluster.GUID)
}

func TestDeleteHostLocalStorage(t *testing.T) {
	e := newEnv(t)
	host := e.addHost("h1")
	pool := &types.StoragePool{
		Name:        "local",
		ZoneID:      host.ZoneID,
		ClusterID:   host.ClusterID,
		HostID:      host.ID,
		Scope:       types.PoolScopeHost,
		IsLocal:     true,
		VolumeCount: 1,
	}
	require.NoError(t, e.store.CreateStoragePool(pool))

	_, err := e.mgr.DeleteHost(context.Background(), host.ID, true, false)
	assert.True(t, fault.Is(err, fault.KindUnableToDelete))
	assert.False(t, e.reload(host.ID).IsRemoved())

	ok, err := e.mgr.DeleteHost(context.Background(), host.ID, true, true)
	require.NoError(t, err)
	assert.True(t, ok)

	pools, err := e.store.ListStoragePools(storage.PoolFilter{HostID: host.ID})
	require.NoError(t, err)
	assert.Empty(t, pools)
}

func TestDeleteHostAdapterAnswers(t *testing.T) {
	tests := []struct {
		name    string
		answer  *registry.DeleteHostAnswer
		ok      bool
		kind    fault.Kind
		removed bool
	}{
		{"fatal", &registry.DeleteHostAnswer{IsFatal: true, Reason: "still in use"}, false, fault.KindUnableToDelete, false},
		{"handled by adapter", &registry.DeleteHostAnswer{}, true, "", false},
		{"no adapter", nil, false, fault.KindInternal, false},
		{"continue", &registry.DeleteHostAnswer{IsContinue: true}, true, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			host := e.addHost("h1")
			e.adapters.Unregister("simulator")
			e.adapters.Register(vetoAdapter{answer: tt.answer})

			ok, err := e.mgr.DeleteHost(context.Background(), host.ID, true, false)
			assert.Equal(t, tt.ok, ok)
			if tt.kind == "" {
				assert.NoError(t, err)
			} else {
				assert.True(t, fault.Is(err, tt.kind), "got %v", err)
			}
			assert.Equal(t, tt.removed, e.reload(host.ID).IsRemoved())
		})
	}
}

func TestDeleteCluster(t *testing.T) {
	e := newEnv(t)
	host := e.addHost("h1")

	_, err := e.mgr.DeleteCluster(context.Background(), e.cluster.ID)
	assert.True(t, fault.Is(err, fault.KindPrecondition))

	_, err = e.mgr.DeleteHost(context.Background(), host.ID, true, false)
	require.NoError(t, err)

	ok, err := e.mgr.DeleteCluster(context.Background(), e.cluster.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	clusters, err := e.store.ListClusters(storage.ClusterFilter{PodID: e.pod.ID})
	require.NoError(t, err)
	assert.Empty(t, clusters)

	_, err = e.mgr.DeleteCluster(context.Background(), e.cluster.ID)
	assert.Error(t, err)
}

func TestDeleteClusterWithPools(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.store.CreateStoragePool(&types.StoragePool{
		Name:      "shared",
		ZoneID:    e.zone.ID,
		ClusterID: e.cluster.ID,
		Scope:     types.PoolScopeCluster,
	}))

	_, err := e.mgr.DeleteCluster(context.Background(), e.cluster.ID)
	assert.True(t, fault.Is(err, fault.KindPrecondition))
}

func TestUmanageHost(t *testing.T) {
	e := newEnv(t)
	host := e.addHost("h1")

	ok, err := e.mgr.UmanageHost(context.Background(), host.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got := e.reload(host.ID)
	assert.Equal(t, types.ResourceStateEnabled, got.ResourceState)
	assert.Equal(t, types.HostStatusDisconnected, got.Status)
	assert.False(t, e.resource("h1").Connected())
}
