package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResource struct {
	rejectReady  bool
	fail         error
	executed     []string
	disconnected bool
}

func (f *fakeResource) Type() types.HostType             { return types.HostTypeRouting }
func (f *fakeResource) Hypervisor() types.HypervisorType { return types.HypervisorSimulator }
func (f *fakeResource) Disconnected()                    { f.disconnected = true }

func (f *fakeResource) Startup(ctx context.Context) ([]*StartupCommand, error) {
	return []*StartupCommand{{GUID: "g"}}, nil
}

func (f *fakeResource) Execute(ctx context.Context, cmd Command) (*Answer, error) {
	f.executed = append(f.executed, cmd.Name())
	if f.fail != nil {
		return nil, f.fail
	}
	if _, ok := cmd.(ReadyCommand); ok && f.rejectReady {
		return &Answer{Result: false, Details: "not ready"}, nil
	}
	return &Answer{Result: true}, nil
}

func newTransport(t *testing.T) (*DirectTransport, storage.Store, *types.Host) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	host := &types.Host{Name: "h1", Status: types.HostStatusCreating}
	require.NoError(t, store.CreateHost(host))
	return NewDirectTransport(store, "node-1"), store, host
}

func TestConnectHandshake(t *testing.T) {
	tr, store, host := newTransport(t)
	res := &fakeResource{}

	require.NoError(t, tr.Connect(context.Background(), host, res))

	got, err := store.GetHost(host.ID)
	require.NoError(t, err)
	assert.Equal(t, types.HostStatusUp, got.Status)
	assert.Equal(t, "node-1", got.ManagementServerID)
	assert.Equal(t, []string{"Ready"}, res.executed)
}

func TestConnectRejected(t *testing.T) {
	tr, store, host := newTransport(t)
	res := &fakeResource{rejectReady: true}

	err := tr.Connect(context.Background(), host, res)
	assert.True(t, fault.Is(err, fault.KindAgentUnavailable))
	assert.True(t, res.disconnected)

	got, err := store.GetHost(host.ID)
	require.NoError(t, err)
	assert.Equal(t, types.HostStatusDisconnected, got.Status)
}

func TestMaintenancePausesTraffic(t *testing.T) {
	tr, _, host := newTransport(t)
	res := &fakeResource{}
	require.NoError(t, tr.Connect(context.Background(), host, res))

	tr.PullAgentToMaintenance(host.ID)
	assert.True(t, tr.IsAgentInMaintenance(host.ID))

	_, err := tr.Send(context.Background(), host.ID, SetupVMVncCommand{})
	assert.True(t, fault.Is(err, fault.KindAgentUnavailable))

	answer, err := tr.Send(context.Background(), host.ID, RollingMaintenanceCommand{Stage: StageMaintenance})
	require.NoError(t, err)
	assert.True(t, answer.Result)

	tr.PullAgentOutMaintenance(host.ID)
	_, err = tr.Send(context.Background(), host.ID, SetupVMVncCommand{})
	assert.NoError(t, err)
}

func TestSendErrors(t *testing.T) {
	tr, _, host := newTransport(t)

	_, err := tr.Send(context.Background(), host.ID, MaintainCommand{})
	assert.True(t, fault.Is(err, fault.KindAgentUnavailable))
	assert.Nil(t, tr.EasySend(context.Background(), host.ID, MaintainCommand{}))

	tr.Attach(host.ID, &fakeResource{fail: errors.New("connection reset")})
	_, err = tr.Send(context.Background(), host.ID, MaintainCommand{})
	assert.True(t, fault.Is(err, fault.KindAgentUnavailable))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.Send(ctx, host.ID, MaintainCommand{})
	assert.True(t, fault.Is(err, fault.KindTimeout))
}

func TestNextStatus(t *testing.T) {
	tests := []struct {
		from    types.HostStatus
		event   StatusEvent
		want    types.HostStatus
		wantErr bool
	}{
		{"", StatusEventAgentConnected, types.HostStatusConnecting, false},
		{types.HostStatusConnecting, StatusEventReady, types.HostStatusUp, false},
		{types.HostStatusDisconnected, StatusEventReady, types.HostStatusDisconnected, true},
		{types.HostStatusUp, StatusEventPingTimeout, types.HostStatusAlert, false},
		{types.HostStatusUp, StatusEventAgentDisconnected, types.HostStatusDisconnected, false},
		{types.HostStatusRemoved, StatusEventAgentConnected, types.HostStatusRemoved, true},
		{types.HostStatusUp, StatusEventRemove, types.HostStatusRemoved, false},
		{types.HostStatusCreating, StatusEventError, types.HostStatusError, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			got, err := NextStatus(tt.from, tt.event)
			if tt.wantErr {
				assert.True(t, fault.Is(err, fault.KindNoTransition))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

type recordingMonitor struct {
	events []string
}

func (m *recordingMonitor) HostAdded(hostID string)            { m.events = append(m.events, "added:"+hostID) }
func (m *recordingMonitor) HostAboutToBeRemoved(hostID string) { m.events = append(m.events, "removing:"+hostID) }
func (m *recordingMonitor) HostRemoved(hostID, clusterID string) {
	m.events = append(m.events, "removed:"+hostID)
}

func TestMonitors(t *testing.T) {
	tr, _, _ := newTransport(t)
	m := &recordingMonitor{}
	tr.AddMonitor(m)

	tr.NotifyMonitorsOfNewlyAddedHost("h1")
	tr.NotifyMonitorsOfHostAboutToBeRemoved("h1")
	tr.NotifyMonitorsOfRemovedHost("h1", "c1")

	assert.Equal(t, []string{"added:h1", "removing:h1", "removed:h1"}, m.events)
}
