package planner

import (
	"context"
	"fmt"
	"sort"

	"github.com/cuemby/burrow/pkg/affinity"
	"github.com/cuemby/burrow/pkg/capacity"
	"github.com/cuemby/burrow/pkg/directory"
	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// Plan constrains a placement. Exactly one of ClusterID or ZoneID sets the scope.
type Plan struct {
	ClusterID string
	ZoneID    string
	// Exclude lists host ids that must not be chosen
	Exclude []string
}

// Planner picks a destination for a VM
type Planner interface {
	// PlanDeployment returns a destination or a fault.KindInsufficientCapacity error
	PlanDeployment(ctx context.Context, vm *types.VM, plan Plan) (*types.DeployDestination, error)
}

// OvercommitFunc returns the cpu and memory overcommit ratios of a cluster
type OvercommitFunc func(clusterID string) (cpu, mem float64)

// FirstFit tries candidate hosts from least to most loaded and returns the
// first one that passes every check
type FirstFit struct {
	store      storage.Store
	dir        *directory.Directory
	capacity   capacity.Checker
	affinity   affinity.Processor
	overcommit OvercommitFunc
}

// NewFirstFit creates a FirstFit planner. A nil overcommit uses 1.0 for both ratios.
func NewFirstFit(store storage.Store, dir *directory.Directory, checker capacity.Checker, processor affinity.Processor, overcommit OvercommitFunc) *FirstFit {
	if overcommit == nil {
		overcommit = func(string) (float64, float64) { return 1, 1 }
	}
	if processor == nil {
		processor = affinity.Chain{}
	}
	return &FirstFit{
		store:      store,
		dir:        dir,
		capacity:   checker,
		affinity:   processor,
		overcommit: overcommit,
	}
}

func (p *FirstFit) PlanDeployment(ctx context.Context, vm *types.VM, plan Plan) (*types.DeployDestination, error) {
	var (
		candidates []*types.Host
		err        error
	)
	switch {
	case plan.ClusterID != "":
		candidates, err = p.dir.UpAndEnabledRoutingHosts(plan.ClusterID)
	case plan.ZoneID != "":
		candidates, err = p.dir.UpAndEnabledRoutingHostsInZone(plan.ZoneID)
	default:
		return nil, fault.InvalidParameter("plan needs a cluster or zone scope")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate hosts: %w", err)
	}

	excluded := make(map[string]bool, len(plan.Exclude))
	for _, id := range plan.Exclude {
		excluded[id] = true
	}

	ordered, err := p.byLoad(candidates)
	if err != nil {
		return nil, err
	}

	for _, host := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if excluded[host.ID] || host.ID == vm.HostID {
			continue
		}

		dest, ok, err := p.fits(vm, host)
		if err != nil {
			return nil, err
		}
		if ok {
			return dest, nil
		}
	}

	return nil, fault.New(fault.KindInsufficientCapacity, "no destination for vm %s", vm.Name).WithEntity(vm.ID)
}

// byLoad sorts hosts by the number of VMs they carry, fewest first
func (p *FirstFit) byLoad(hosts []*types.Host) ([]*types.Host, error) {
	counts := make(map[string]int, len(hosts))
	for _, h := range hosts {
		vms, err := p.dir.VMsOnHost(h.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list vms on %s: %w", h.ID, err)
		}
		counts[h.ID] = len(vms)
	}

	ordered := append([]*types.Host(nil), hosts...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return counts[ordered[i].ID] < counts[ordered[j].ID]
	})
	return ordered, nil
}

func (p *FirstFit) fits(vm *types.VM, host *types.Host) (*types.DeployDestination, bool, error) {
	if !host.HasTags(vm.HostTags) {
		return nil, false, nil
	}
	if !p.capacity.CheckIfHostHasCPUCapability(host, vm.CPUs, vm.CPUSpeed) {
		return nil, false, nil
	}

	full, err := p.capacity.CheckIfHostReachMaxGuestLimit(host)
	if err != nil || full {
		return nil, false, err
	}

	cpuRatio, memRatio := p.overcommit(host.ClusterID)
	ok, err := p.capacity.CheckIfHostHasCapacity(host, int64(vm.CPUs)*int64(vm.CPUSpeed), vm.Memory, cpuRatio, memRatio)
	if err != nil || !ok {
		return nil, false, err
	}

	dest := &types.DeployDestination{
		ZoneID:    host.ZoneID,
		PodID:     host.PodID,
		ClusterID: host.ClusterID,
		HostID:    host.ID,
	}

	if vm.UsesLocalStorage {
		pools, err := p.store.ListStoragePools(storage.PoolFilter{HostID: host.ID, Scope: types.PoolScopeHost})
		if err != nil {
			return nil, false, err
		}
		if len(pools) == 0 {
			return nil, false, nil
		}
		dest.StoragePoolID = pools[0].ID
	}

	ok, err = p.affinity.Check(vm, dest)
	if err != nil || !ok {
		return nil, false, err
	}
	return dest, true, nil
}
