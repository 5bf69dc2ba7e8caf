package planner

import (
	"context"
	"testing"

	"github.com/cuemby/burrow/pkg/affinity"
	"github.com/cuemby/burrow/pkg/capacity"
	"github.com/cuemby/burrow/pkg/directory"
	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gib = int64(1 << 30)

func newHost(name string, tags ...string) *types.Host {
	return &types.Host{
		Name:          name,
		ClusterID:     "c1",
		ZoneID:        "z1",
		Type:          types.HostTypeRouting,
		Status:        types.HostStatusUp,
		ResourceState: types.ResourceStateEnabled,
		CPUs:          4,
		CPUSpeed:      2000,
		TotalMemory:   8 * gib,
		Tags:          tags,
	}
}

func setup(t *testing.T, hosts ...*types.Host) (*FirstFit, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	calc := capacity.NewCalculator(store, 0)
	for _, h := range hosts {
		require.NoError(t, store.CreateHost(h))
		require.NoError(t, store.Update(func(tx storage.Store) error {
			return calc.CreateCapacityRows(tx, h)
		}))
	}

	p := NewFirstFit(store, directory.New(store), calc, affinity.Chain{affinity.NewHostAntiAffinity(store)}, nil)
	return p, store
}

func TestPlanDeploymentPrefersLeastLoaded(t *testing.T) {
	busy := newHost("busy")
	idle := newHost("idle")
	p, store := setup(t, busy, idle)

	require.NoError(t, store.CreateVM(&types.VM{Name: "x", HostID: busy.ID, State: types.VMStateRunning, CPUs: 1, CPUSpeed: 1000, Memory: gib}))

	dest, err := p.PlanDeployment(context.Background(), &types.VM{Name: "v", CPUs: 1, CPUSpeed: 1000, Memory: gib}, Plan{ClusterID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, idle.ID, dest.HostID)
	assert.Equal(t, "c1", dest.ClusterID)
}

func TestPlanDeploymentChecks(t *testing.T) {
	tagged := newHost("tagged", "gpu")
	plain := newHost("plain")
	p, store := setup(t, tagged, plain)

	require.NoError(t, store.CreateVM(&types.VM{ID: "db-1", HostID: plain.ID, State: types.VMStateRunning, AffinityGroups: []string{"db"}}))

	tests := []struct {
		name     string
		vm       *types.VM
		plan     Plan
		wantHost string
		wantErr  fault.Kind
	}{
		{
			name:     "host tags",
			vm:       &types.VM{Name: "a", HostTags: []string{"gpu"}, CPUs: 1, CPUSpeed: 1000, Memory: gib},
			plan:     Plan{ClusterID: "c1"},
			wantHost: tagged.ID,
		},
		{
			name:    "excluded only match",
			vm:      &types.VM{Name: "b", HostTags: []string{"gpu"}, CPUs: 1, CPUSpeed: 1000},
			plan:    Plan{ClusterID: "c1", Exclude: []string{tagged.ID}},
			wantErr: fault.KindInsufficientCapacity,
		},
		{
			name:    "cpu capability",
			vm:      &types.VM{Name: "c", CPUs: 16, CPUSpeed: 1000},
			plan:    Plan{ClusterID: "c1"},
			wantErr: fault.KindInsufficientCapacity,
		},
		{
			name:    "memory",
			vm:      &types.VM{Name: "d", CPUs: 1, CPUSpeed: 1000, Memory: 16 * gib},
			plan:    Plan{ZoneID: "z1"},
			wantErr: fault.KindInsufficientCapacity,
		},
		{
			name:    "anti affinity",
			vm:      &types.VM{ID: "db-2", Name: "db-2", CPUs: 1, CPUSpeed: 1000, AffinityGroups: []string{"db"}, HostID: "elsewhere"},
			plan:    Plan{ClusterID: "c1", Exclude: []string{tagged.ID}},
			wantErr: fault.KindInsufficientCapacity,
		},
		{
			name:    "no scope",
			vm:      &types.VM{Name: "e"},
			plan:    Plan{},
			wantErr: fault.KindInvalidParameter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest, err := p.PlanDeployment(context.Background(), tt.vm, tt.plan)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, fault.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, dest.HostID)
		})
	}
}

func TestPlanDeploymentLocalStorage(t *testing.T) {
	withPool := newHost("with-pool")
	without := newHost("without")
	p, store := setup(t, without, withPool)

	require.NoError(t, store.CreateStoragePool(&types.StoragePool{ID: "local-1", HostID: withPool.ID, Scope: types.PoolScopeHost, IsLocal: true}))

	dest, err := p.PlanDeployment(context.Background(), &types.VM{Name: "v", UsesLocalStorage: true}, Plan{ClusterID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, withPool.ID, dest.HostID)
	assert.Equal(t, "local-1", dest.StoragePoolID)
}
