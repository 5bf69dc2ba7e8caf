package resource

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateHostAllocation(t *testing.T) {
	e := newEnv(t)
	host := e.addHost("h1")

	updated, err := e.mgr.UpdateHost(context.Background(), UpdateHostRequest{HostID: host.ID, AllocationState: "Disable"})
	require.NoError(t, err)
	assert.Equal(t, types.ResourceStateDisabled, updated.ResourceState)

	rows, err := e.store.ListCapacity(host.ID)
	require.NoError(t, err)
	for _, row := range rows {
		assert.False(t, row.Enabled)
	}

	// Asking for the state the host is already in is not an error
	updated, err = e.mgr.UpdateHost(context.Background(), UpdateHostRequest{HostID: host.ID, AllocationState: "Disable"})
	require.NoError(t, err)
	assert.Equal(t, types.ResourceStateDisabled, updated.ResourceState)

	updated, err = e.mgr.UpdateHost(context.Background(), UpdateHostRequest{HostID: host.ID, AllocationState: "Enable"})
	require.NoError(t, err)
	assert.Equal(t, types.ResourceStateEnabled, updated.ResourceState)
}

func TestUpdateHostFields(t *testing.T) {
	e := newEnv(t)
	host := e.addHost("h1")

	updated, err := e.mgr.UpdateHost(context.Background(), UpdateHostRequest{
		HostID:            host.ID,
		Name:              "renamed",
		Tags:              []string{"ssd", " gpu", "ssd", ""},
		GuestOSCategoryID: "linux",
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, []string{"ssd", "gpu"}, updated.Tags)
	assert.Equal(t, "linux", updated.GuestOSCategoryID)
	assert.Equal(t, types.ResourceStateEnabled, updated.ResourceState)

	// A nil tag list leaves tags alone, an empty one clears them
	updated, err = e.mgr.UpdateHost(context.Background(), UpdateHostRequest{HostID: host.ID, Name: "again"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ssd", "gpu"}, updated.Tags)

	updated, err = e.mgr.UpdateHost(context.Background(), UpdateHostRequest{HostID: host.ID, Tags: []string{}})
	require.NoError(t, err)
	assert.Empty(t, updated.Tags)
}

func TestUpdateHostValidation(t *testing.T) {
	e := newEnv(t)
	host := e.addHost("h1")

	_, err := e.mgr.UpdateHost(context.Background(), UpdateHostRequest{})
	assert.True(t, fault.Is(err, fault.KindInvalidParameter))

	_, err = e.mgr.UpdateHost(context.Background(), UpdateHostRequest{HostID: host.ID, AllocationState: "Maintenance"})
	assert.True(t, fault.Is(err, fault.KindInvalidParameter))

	_, err = e.mgr.UpdateHost(context.Background(), UpdateHostRequest{HostID: "missing"})
	assert.True(t, fault.Is(err, fault.KindNotFound))
}

func TestUpdateHostAllocationInMaintenance(t *testing.T) {
	e := newEnv(t)
	host := e.addHost("h1")
	_, err := e.mgr.Maintain(context.Background(), host.ID)
	require.NoError(t, err)

	_, err = e.mgr.UpdateHost(context.Background(), UpdateHostRequest{HostID: host.ID, AllocationState: "Enable"})
	assert.True(t, fault.Is(err, fault.KindNoTransition))
	assert.Equal(t, types.ResourceStateMaintenance, e.state(host.ID))
}

func TestUpdateHostPassword(t *testing.T) {
	e := newEnv(t)
	host := e.addHost("h1")

	ok, err := e.mgr.UpdateHostPassword(context.Background(), host.ID, "admin", "s3cret")
	require.NoError(t, err)
	assert.True(t, ok)

	user, pass := e.resource("h1").Credentials()
	assert.Equal(t, "admin", user)
	assert.Equal(t, "s3cret", pass)

	got := e.reload(host.ID)
	assert.Equal(t, "admin", got.Detail(types.DetailUsername))
	assert.Equal(t, "s3cret", got.Detail(types.DetailPassword))
	assert.Equal(t, types.ResourceStateEnabled, got.ResourceState)

	_, err = e.mgr.UpdateHostPassword(context.Background(), host.ID, "admin", "")
	assert.True(t, fault.Is(err, fault.KindInvalidParameter))
}

func TestUpdateHostPasswordDuringEvacuation(t *testing.T) {
	e := newEnv(t)
	host := e.addHost("h1")
	e.prepare(host)

	_, err := e.mgr.UpdateHostPassword(context.Background(), host.ID, "admin", "s3cret")
	assert.True(t, fault.Is(err, fault.KindNoTransition))
	assert.Empty(t, e.reload(host.ID).Detail(types.DetailPassword))
}

func TestUpdateClusterFields(t *testing.T) {
	e := newEnv(t)

	updated, err := e.mgr.UpdateCluster(context.Background(), UpdateClusterRequest{
		ClusterID:       e.cluster.ID,
		Name:            "compute",
		AllocationState: types.AllocationDisabled,
	})
	require.NoError(t, err)
	assert.Equal(t, "compute", updated.Name)
	assert.Equal(t, types.AllocationDisabled, updated.AllocationState)

	other := &types.Cluster{Name: "storage", ZoneID: e.zone.ID, PodID: e.pod.ID, Hypervisor: types.HypervisorSimulator}
	require.NoError(t, e.store.CreateCluster(other))

	_, err = e.mgr.UpdateCluster(context.Background(), UpdateClusterRequest{ClusterID: other.ID, Name: "compute"})
	assert.True(t, fault.Is(err, fault.KindInvalidParameter))

	_, err = e.mgr.UpdateCluster(context.Background(), UpdateClusterRequest{ClusterID: other.ID, ManagedState: "Sideways"})
	assert.True(t, fault.Is(err, fault.KindInvalidParameter))
}

func TestUpdateClusterUnmanageAndManage(t *testing.T) {
	e := newEnv(t)
	e.cfg.Maintenance.CheckInterval = 10 * time.Millisecond
	e.cfg.Maintenance.UnmanageTimeout = time.Second
	h1 := e.addHost("h1")
	h2 := e.addHost("h2")

	updated, err := e.mgr.UpdateCluster(context.Background(), UpdateClusterRequest{
		ClusterID:    e.cluster.ID,
		ManagedState: types.ManagedStateUnmanaged,
	})
	require.NoError(t, err)
	assert.Equal(t, types.ManagedStateUnmanaged, updated.ManagedState)

	for _, id := range []string{h1.ID, h2.ID} {
		assert.Equal(t, types.HostStatusDisconnected, e.reload(id).Status)
	}
	assert.False(t, e.resource("h1").Connected())

	updated, err = e.mgr.UpdateCluster(context.Background(), UpdateClusterRequest{
		ClusterID:    e.cluster.ID,
		ManagedState: types.ManagedStateManaged,
	})
	require.NoError(t, err)
	assert.Equal(t, types.ManagedStateManaged, updated.ManagedState)
}

func TestUpdateClusterUnmanageTimesOut(t *testing.T) {
	e := newEnv(t)
	e.cfg.Maintenance.CheckInterval = 10 * time.Millisecond
	e.cfg.Maintenance.UnmanageTimeout = 50 * time.Millisecond

	// The transport cannot move a Rebalancing host to Disconnected
	stuck := &types.Host{
		Name:          "stuck",
		GUID:          "stuck-guid",
		Type:          types.HostTypeRouting,
		ZoneID:        e.zone.ID,
		PodID:         e.pod.ID,
		ClusterID:     e.cluster.ID,
		Hypervisor:    types.HypervisorSimulator,
		Status:        types.HostStatusRebalancing,
		ResourceState: types.ResourceStateEnabled,
	}
	require.NoError(t, e.store.CreateHost(stuck))

	_, err := e.mgr.UpdateCluster(context.Background(), UpdateClusterRequest{
		ClusterID:    e.cluster.ID,
		ManagedState: types.ManagedStateUnmanaged,
	})
	assert.True(t, fault.Is(err, fault.KindTimeout), "got %v", err)

	cluster, err := e.store.GetCluster(e.cluster.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ManagedStatePrepareUnmanagedError, cluster.ManagedState)

	_, err = e.mgr.UpdateCluster(context.Background(), UpdateClusterRequest{
		ClusterID:    e.cluster.ID,
		ManagedState: types.ManagedStateUnmanaged,
	})
	assert.True(t, fault.Is(err, fault.KindPrecondition))
}
