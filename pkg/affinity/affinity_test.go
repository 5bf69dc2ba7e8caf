package affinity

import (
	"errors"
	"testing"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixed struct {
	ok  bool
	err error
	hit *int
}

func (f fixed) Name() string { return "fixed" }

func (f fixed) Check(*types.VM, *types.DeployDestination) (bool, error) {
	*f.hit++
	return f.ok, f.err
}

func TestChainAllMustPass(t *testing.T) {
	var hits int
	vm := &types.VM{}
	dest := &types.DeployDestination{HostID: "h"}

	ok, err := Chain{fixed{ok: true, hit: &hits}, fixed{ok: true, hit: &hits}}.Check(vm, dest)
	require.NoError(t, err)
	assert.True(t, ok)

	hits = 0
	ok, err = Chain{fixed{ok: false, hit: &hits}, fixed{ok: true, hit: &hits}}.Check(vm, dest)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, hits, "chain stops at the first rejection")

	_, err = Chain{fixed{err: errors.New("boom"), hit: &hits}}.Check(vm, dest)
	assert.Error(t, err)

	ok, err = Chain{}.Check(vm, dest)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHostAntiAffinity(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.CreateVM(&types.VM{ID: "db-1", HostID: "h1", State: types.VMStateRunning, AffinityGroups: []string{"db"}}))
	require.NoError(t, store.CreateVM(&types.VM{ID: "db-old", HostID: "h2", State: types.VMStateStopped, AffinityGroups: []string{"db"}}))

	p := NewHostAntiAffinity(store)
	vm := &types.VM{ID: "db-2", AffinityGroups: []string{"db"}}

	ok, err := p.Check(vm, &types.DeployDestination{HostID: "h1"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = p.Check(vm, &types.DeployDestination{HostID: "h2"})
	require.NoError(t, err)
	assert.True(t, ok, "stopped members do not count")

	ok, err = p.Check(&types.VM{ID: "web"}, &types.DeployDestination{HostID: "h1"})
	require.NoError(t, err)
	assert.True(t, ok)
}
