package metrics

import (
	"testing"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRaft struct{ leader bool }

func (f fakeRaft) IsLeader() bool  { return f.leader }
func (f fakeRaft) PeerCount() int  { return 3 }
func (f fakeRaft) ClaimCount() int { return 2 }

func TestCollectorCollect(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	for _, h := range []*types.Host{
		{Name: "a", Status: types.HostStatusUp, ResourceState: types.ResourceStateEnabled},
		{Name: "b", Status: types.HostStatusUp, ResourceState: types.ResourceStateEnabled},
		{Name: "c", Status: types.HostStatusUp, ResourceState: types.ResourceStateMaintenance},
	} {
		require.NoError(t, store.CreateHost(h))
	}
	require.NoError(t, store.CreateCluster(&types.Cluster{Name: "c1", PodID: "p"}))
	require.NoError(t, store.CreateVM(&types.VM{Name: "vm", State: types.VMStateRunning}))

	c := NewCollector(store, fakeRaft{leader: true})
	c.collect()

	assert.Equal(t, 2.0, testutil.ToFloat64(HostsTotal.WithLabelValues("Up", "Enabled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(HostsTotal.WithLabelValues("Up", "Maintenance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ClustersTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(VMsTotal.WithLabelValues("Running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(RaftLeader))
	assert.Equal(t, 3.0, testutil.ToFloat64(RaftPeers))
	assert.Equal(t, 2.0, testutil.ToFloat64(HostClaims))
}

func TestCollectorWithoutRaft(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	c := NewCollector(store, nil)
	c.Start()
	c.Stop()
}
