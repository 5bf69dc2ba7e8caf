package resource

import (
	"context"
	"errors"
	"testing"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/ha"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRestarter struct {
	calls []string
	err   error
}

func (f *fakeRestarter) RestartAgent(_ context.Context, address, username, password string) error {
	f.calls = append(f.calls, address+" "+username+" "+password)
	return f.err
}

func TestCancelMaintenanceReturnsToEnabled(t *testing.T) {
	e := newEnv(t)
	host := e.addHost("h1")

	_, err := e.mgr.Maintain(context.Background(), host.ID)
	require.NoError(t, err)
	require.Equal(t, types.ResourceStateMaintenance, e.state(host.ID))

	var seen []registry.Event
	e.listeners.Register(registry.ListenerFunc(func(ev registry.Event, _ registry.Payload) {
		seen = append(seen, ev)
	}), registry.EventCancelMaintenanceBefore, registry.EventCancelMaintenanceAfter)

	ok, err := e.mgr.CancelMaintenance(context.Background(), host.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, types.ResourceStateEnabled, e.state(host.ID))
	assert.False(t, e.transport.IsAgentInMaintenance(host.ID))
	assert.Equal(t, []registry.Event{registry.EventCancelMaintenanceBefore, registry.EventCancelMaintenanceAfter}, seen)

	rows, err := e.store.ListCapacity(host.ID)
	require.NoError(t, err)
	for _, row := range rows {
		assert.True(t, row.Enabled)
	}
}

func TestCancelMaintenanceDropsScheduledMigrations(t *testing.T) {
	e := newEnv(t)
	src := e.addHost("h1")
	e.addHost("h2")
	vm := e.addVM(src, "web")

	_, err := e.mgr.Maintain(context.Background(), src.ID)
	require.NoError(t, err)
	require.True(t, e.queue.HasPendingMigrationsWork(vm.ID))

	ok, err := e.mgr.CancelMaintenance(context.Background(), src.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, e.queue.HasPendingMigrationsWork(vm.ID))
	assert.Empty(t, workTypes(e.queue.Items()))
	assert.Equal(t, types.ResourceStateEnabled, e.state(src.ID))
}

func TestCancelMaintenanceOutsideMaintenance(t *testing.T) {
	e := newEnv(t)
	host := e.addHost("h1")

	ok, err := e.mgr.CancelMaintenance(context.Background(), host.ID)
	assert.False(t, ok)
	assert.True(t, fault.Is(err, fault.KindPrecondition))
	assert.Equal(t, types.ResourceStateEnabled, e.state(host.ID))
}

func kvmHostInMaintenance(t *testing.T, e *testEnv, withCredentials bool) *types.Host {
	t.Helper()
	host := &types.Host{
		Name:          "kvm1",
		GUID:          "kvm1-guid",
		Type:          types.HostTypeRouting,
		ZoneID:        e.zone.ID,
		PodID:         e.pod.ID,
		ClusterID:     e.cluster.ID,
		Hypervisor:    types.HypervisorKVM,
		PrivateIP:     "10.0.0.5",
		Status:        types.HostStatusDisconnected,
		ResourceState: types.ResourceStateMaintenance,
	}
	if withCredentials {
		host.SetDetail(types.DetailUsername, "root")
		host.SetDetail(types.DetailPassword, "secret")
	}
	require.NoError(t, e.store.CreateHost(host))
	return host
}

func TestCancelMaintenanceRestartsKVMAgent(t *testing.T) {
	restarter := &fakeRestarter{}
	e := newEnv(t, func(c *Config) { c.Restarter = restarter })
	e.cfg.Maintenance.SSHRestartAgent = true
	host := kvmHostInMaintenance(t, e, true)

	ok, err := e.mgr.CancelMaintenance(context.Background(), host.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"10.0.0.5 root secret"}, restarter.calls)
	assert.Equal(t, types.ResourceStateEnabled, e.state(host.ID))
}

func TestCancelMaintenanceKVMAgentCannotRestart(t *testing.T) {
	tests := []struct {
		name        string
		sshEnabled  bool
		credentials bool
		restartErr  error
		kind        fault.Kind
	}{
		{"ssh restart disabled", false, true, nil, fault.KindPrecondition},
		{"no credentials", true, false, nil, fault.KindPrecondition},
		{"restart fails", true, true, errors.New("connection refused"), fault.KindAgentUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restarter := &fakeRestarter{err: tt.restartErr}
			e := newEnv(t, func(c *Config) { c.Restarter = restarter })
			e.cfg.Maintenance.SSHRestartAgent = tt.sshEnabled
			host := kvmHostInMaintenance(t, e, tt.credentials)

			ok, err := e.mgr.CancelMaintenance(context.Background(), host.ID)
			assert.False(t, ok)
			assert.True(t, fault.Is(err, tt.kind), "got %v", err)
			assert.Equal(t, types.ResourceStateMaintenance, e.state(host.ID))
		})
	}
}

func TestDeclareAndCancelDegraded(t *testing.T) {
	e := newEnv(t)
	host := e.addHost("h1")
	running := e.addVM(host, "web")
	stopped := e.addVM(host, "idle", func(vm *types.VM) { vm.State = types.VMStateStopped })

	_, err := e.mgr.DeclareHostAsDegraded(context.Background(), host.ID)
	assert.True(t, fault.Is(err, fault.KindPrecondition), "an Up host is not degraded")

	require.NoError(t, e.transport.AgentStatusTransitTo(host, agent.StatusEventPingTimeout, "node-1"))
	require.Equal(t, types.HostStatusAlert, e.reload(host.ID).Status)

	ok, err := e.mgr.DeclareHostAsDegraded(context.Background(), host.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, types.ResourceStateDegraded, e.state(host.ID))

	work := workTypes(e.queue.Items())
	assert.Equal(t, ha.WorkRestart, work[running.ID])
	assert.NotContains(t, work, stopped.ID)

	ok, err = e.mgr.CancelHostAsDegraded(context.Background(), host.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, types.ResourceStateEnabled, e.state(host.ID))

	_, err = e.mgr.CancelHostAsDegraded(context.Background(), host.ID)
	assert.True(t, fault.Is(err, fault.KindPrecondition))
}

func TestDeclareDegradedByStatus(t *testing.T) {
	tests := []struct {
		status  types.HostStatus
		allowed bool
	}{
		{types.HostStatusAlert, true},
		{types.HostStatusDisconnected, true},
		{types.HostStatusDown, false},
		{types.HostStatusUp, false},
		{types.HostStatusError, false},
		{types.HostStatusConnecting, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			e := newEnv(t)
			host := e.addHost("h1")
			vm := e.addVM(host, "web")

			host.Status = tt.status
			require.NoError(t, e.store.UpdateHost(host))

			ok, err := e.mgr.DeclareHostAsDegraded(context.Background(), host.ID)
			if tt.allowed {
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, types.ResourceStateDegraded, e.state(host.ID))
				return
			}
			assert.False(t, ok)
			assert.True(t, fault.Is(err, fault.KindPrecondition), "got %v", err)
			assert.Equal(t, types.ResourceStateEnabled, e.state(host.ID))
			assert.NotContains(t, workTypes(e.queue.Items()), vm.ID)
		})
	}
}
