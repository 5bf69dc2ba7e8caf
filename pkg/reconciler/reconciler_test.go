package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/directory"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu        sync.Mutex
	checked   []string
	connected []string
	synced    int
	fail      map[string]bool
}

func (r *recorder) CheckAndMaintain(_ context.Context, hostID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checked = append(r.checked, hostID)
	if r.fail[hostID] {
		return false, errors.New("agent gone")
	}
	return true, nil
}

func (r *recorder) ConnectDeferred(_ context.Context, hostID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, hostID)
	if r.fail[hostID] {
		return errors.New("handshake failed")
	}
	return nil
}

func (r *recorder) SyncClaims(hosts []*types.Host) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synced = len(hosts)
	return len(hosts), nil
}

func (r *recorder) checkedHosts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.checked...)
}

type fixture struct {
	store storage.Store
	dir   *directory.Directory
	rec   *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return &fixture{store: store, dir: directory.New(store), rec: &recorder{fail: map[string]bool{}}}
}

func (f *fixture) host(t *testing.T, name string, status types.HostStatus, state types.ResourceState, deferred bool) *types.Host {
	t.Helper()
	h := &types.Host{Name: name, Type: types.HostTypeRouting, ZoneID: "z1", Status: status, ResourceState: state}
	if deferred {
		h.SetDetail(types.DetailDeferredConnect, "true")
	}
	require.NoError(t, f.store.CreateHost(h))
	return h
}

func TestReconcileChecksPreparingHosts(t *testing.T) {
	f := newFixture(t)
	pfm := f.host(t, "pfm", types.HostStatusUp, types.ResourceStatePrepareForMaintenance, false)
	eipfm := f.host(t, "eipfm", types.HostStatusUp, types.ResourceStateErrorInPrepareForMaintenance, false)
	eim := f.host(t, "eim", types.HostStatusUp, types.ResourceStateErrorInMaintenance, false)
	f.host(t, "enabled", types.HostStatusUp, types.ResourceStateEnabled, false)
	f.host(t, "maint", types.HostStatusUp, types.ResourceStateMaintenance, false)

	r := NewReconciler(Config{Directory: f.dir, Maintenance: f.rec})
	r.Reconcile(context.Background())

	assert.ElementsMatch(t, []string{pfm.ID, eipfm.ID, eim.ID}, f.rec.checked)
	assert.Empty(t, f.rec.connected)
}

func TestReconcileContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	a := f.host(t, "a", types.HostStatusUp, types.ResourceStatePrepareForMaintenance, false)
	b := f.host(t, "b", types.HostStatusUp, types.ResourceStatePrepareForMaintenance, false)
	f.rec.fail[a.ID] = true

	r := NewReconciler(Config{Directory: f.dir, Maintenance: f.rec})
	r.Reconcile(context.Background())

	assert.ElementsMatch(t, []string{a.ID, b.ID}, f.rec.checked)
}

func TestReconcileConnectsDeferredHosts(t *testing.T) {
	f := newFixture(t)
	d1 := f.host(t, "d1", types.HostStatusDisconnected, types.ResourceStateCreating, true)
	d2 := f.host(t, "d2", types.HostStatusDisconnected, types.ResourceStateCreating, true)
	f.host(t, "plain", types.HostStatusDisconnected, types.ResourceStateEnabled, false)
	f.rec.fail[d1.ID] = true

	r := NewReconciler(Config{Directory: f.dir, Maintenance: f.rec, Deferred: f.rec})
	r.Reconcile(context.Background())

	assert.ElementsMatch(t, []string{d1.ID, d2.ID}, f.rec.connected)
}

func TestReconcileSyncsClaims(t *testing.T) {
	f := newFixture(t)
	f.host(t, "a", types.HostStatusUp, types.ResourceStateEnabled, false)
	f.host(t, "b", types.HostStatusUp, types.ResourceStateEnabled, false)

	r := NewReconciler(Config{Directory: f.dir, Maintenance: f.rec, Claims: f.rec})
	r.Reconcile(context.Background())

	assert.Equal(t, 2, f.rec.synced)
}

func TestReconcilerLoop(t *testing.T) {
	f := newFixture(t)
	h := f.host(t, "pfm", types.HostStatusUp, types.ResourceStatePrepareForMaintenance, false)

	r := NewReconciler(Config{Directory: f.dir, Maintenance: f.rec, Interval: 5 * time.Millisecond})
	r.Start()

	require.Eventually(t, func() bool {
		return len(f.rec.checkedHosts()) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	r.Stop()

	n := len(f.rec.checkedHosts())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, len(f.rec.checkedHosts()))
	assert.Equal(t, h.ID, f.rec.checkedHosts()[0])
}
