package capacity

import (
	"fmt"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// Checker answers capacity questions for placement and keeps the capacity
// rows of each host in step with its resource state
type Checker interface {
	// CheckIfHostHasCapacity reports whether host can take cpu (MHz) and
	// memory (bytes) more, after applying the overcommit ratios
	CheckIfHostHasCapacity(host *types.Host, cpu int64, memory int64, cpuOvercommit, memOvercommit float64) (bool, error)
	// CheckIfHostHasCPUCapability reports whether host has enough cores of enough speed
	CheckIfHostHasCPUCapability(host *types.Host, cpus, speed int) bool
	// CheckIfHostReachMaxGuestLimit reports whether host already runs its maximum number of guests
	CheckIfHostReachMaxGuestLimit(host *types.Host) (bool, error)
	// UpdateCapacityState flips the Enabled flag on every capacity row of host
	UpdateCapacityState(tx storage.Store, host *types.Host, enabled bool) error
	// CreateCapacityRows writes the initial rows for a newly registered host
	CreateCapacityRows(tx storage.Store, host *types.Host) error
}

// Calculator derives usage from the VMs placed on each host
type Calculator struct {
	store     storage.Store
	maxGuests int
}

// NewCalculator creates a Calculator; maxGuests <= 0 disables the guest limit
func NewCalculator(store storage.Store, maxGuests int) *Calculator {
	return &Calculator{store: store, maxGuests: maxGuests}
}

// consuming reports whether a VM in state s holds resources on its host
func consuming(s types.VMState) bool {
	switch s {
	case types.VMStateStarting, types.VMStateRunning, types.VMStateStopping, types.VMStateMigrating:
		return true
	default:
		return false
	}
}

// Usage is the resource total a host has committed to guests
type Usage struct {
	CPU    int64 // MHz
	Memory int64
	Guests int
}

// UsageOf sums VMs on host plus VMs migrating into it
func (c *Calculator) UsageOf(hostID string) (Usage, error) {
	var u Usage

	vms, err := c.store.ListVMs(storage.VMFilter{HostID: hostID})
	if err != nil {
		return u, fmt.Errorf("failed to list vms: %w", err)
	}
	incoming, err := c.store.ListVMs(storage.VMFilter{TargetHostID: hostID, States: []types.VMState{types.VMStateMigrating}})
	if err != nil {
		return u, fmt.Errorf("failed to list incoming vms: %w", err)
	}

	for _, vm := range append(vms, incoming...) {
		if !consuming(vm.State) {
			continue
		}
		u.CPU += int64(vm.CPUs) * int64(vm.CPUSpeed)
		u.Memory += vm.Memory
		u.Guests++
	}
	return u, nil
}

func (c *Calculator) enabled(hostID string) (bool, error) {
	rows, err := c.store.ListCapacity(hostID)
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if row.PoolID == "" && !row.Enabled {
			return false, nil
		}
	}
	return true, nil
}

func (c *Calculator) CheckIfHostHasCapacity(host *types.Host, cpu int64, memory int64, cpuOvercommit, memOvercommit float64) (bool, error) {
	if cpuOvercommit <= 0 {
		cpuOvercommit = 1
	}
	if memOvercommit <= 0 {
		memOvercommit = 1
	}

	ok, err := c.enabled(host.ID)
	if err != nil || !ok {
		return false, err
	}

	used, err := c.UsageOf(host.ID)
	if err != nil {
		return false, err
	}

	totalCPU := float64(int64(host.CPUs)*int64(host.CPUSpeed)) * cpuOvercommit
	totalMem := float64(host.TotalMemory) * memOvercommit

	return float64(used.CPU+cpu) <= totalCPU && float64(used.Memory+memory) <= totalMem, nil
}

func (c *Calculator) CheckIfHostHasCPUCapability(host *types.Host, cpus, speed int) bool {
	return host.CPUs >= cpus && host.CPUSpeed >= speed
}

func (c *Calculator) CheckIfHostReachMaxGuestLimit(host *types.Host) (bool, error) {
	if c.maxGuests <= 0 {
		return false, nil
	}
	used, err := c.UsageOf(host.ID)
	if err != nil {
		return false, err
	}
	return used.Guests >= c.maxGuests, nil
}

// UpdateCapacityState covers host rows and the rows of its local pools
func (c *Calculator) UpdateCapacityState(tx storage.Store, host *types.Host, enabled bool) error {
	rows, err := tx.ListCapacity(host.ID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.Enabled == enabled {
			continue
		}
		row.Enabled = enabled
		if err := tx.PutCapacity(row); err != nil {
			return fmt.Errorf("failed to update capacity row: %w", err)
		}
	}
	return nil
}

func (c *Calculator) CreateCapacityRows(tx storage.Store, host *types.Host) error {
	if host.Type != types.HostTypeRouting {
		return nil
	}

	enabled := host.ResourceState == types.ResourceStateEnabled
	rows := []*types.Capacity{
		{HostID: host.ID, Type: types.CapacityCPU, Total: int64(host.CPUs) * int64(host.CPUSpeed), Enabled: enabled},
		{HostID: host.ID, Type: types.CapacityMemory, Total: host.TotalMemory, Enabled: enabled},
	}

	pools, err := tx.ListStoragePools(storage.PoolFilter{HostID: host.ID})
	if err != nil {
		return err
	}
	for _, p := range pools {
		if p.IsLocal {
			rows = append(rows, &types.Capacity{HostID: host.ID, PoolID: p.ID, Type: types.CapacityLocalStorage, Enabled: enabled})
		}
	}

	for _, row := range rows {
		if err := tx.PutCapacity(row); err != nil {
			return fmt.Errorf("failed to create capacity row: %w", err)
		}
	}
	return nil
}
