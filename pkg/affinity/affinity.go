package affinity

import (
	"fmt"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// Processor is one affinity rule plugin
type Processor interface {
	Name() string
	// Check reports whether vm may be placed at dest
	Check(vm *types.VM, dest *types.DeployDestination) (bool, error)
}

// Chain passes only if every processor passes
type Chain []Processor

func (c Chain) Name() string { return "chain" }

// Check runs processors in order and stops at the first rejection
func (c Chain) Check(vm *types.VM, dest *types.DeployDestination) (bool, error) {
	for _, p := range c {
		ok, err := p.Check(vm, dest)
		if err != nil {
			return false, fmt.Errorf("affinity processor %s: %w", p.Name(), err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// HostAntiAffinity keeps members of the same affinity group on different hosts
type HostAntiAffinity struct {
	store storage.Store
}

// NewHostAntiAffinity creates the processor
func NewHostAntiAffinity(store storage.Store) *HostAntiAffinity {
	return &HostAntiAffinity{store: store}
}

func (p *HostAntiAffinity) Name() string { return "host-anti-affinity" }

func (p *HostAntiAffinity) Check(vm *types.VM, dest *types.DeployDestination) (bool, error) {
	if len(vm.AffinityGroups) == 0 || dest == nil || dest.HostID == "" {
		return true, nil
	}

	groups := make(map[string]bool, len(vm.AffinityGroups))
	for _, g := range vm.AffinityGroups {
		groups[g] = true
	}

	residents, err := p.store.ListVMs(storage.VMFilter{HostID: dest.HostID})
	if err != nil {
		return false, err
	}
	for _, other := range residents {
		if other.ID == vm.ID || other.State == types.VMStateStopped || other.State == types.VMStateDestroyed {
			continue
		}
		for _, g := range other.AffinityGroups {
			if groups[g] {
				return false, nil
			}
		}
	}
	return true, nil
}
