// Package kvm provides the resource state adapter for KVM and LXC hosts.
package kvm

import (
	"fmt"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// Adapter claims Routing hosts of the KVM and LXC families
type Adapter struct {
	store storage.Store
}

// NewAdapter creates a KVM/LXC adapter
func NewAdapter(store storage.Store) *Adapter {
	return &Adapter{store: store}
}

func (a *Adapter) Name() string { return "kvm" }

func handles(hypervisor types.HypervisorType, hostType types.HostType) bool {
	return (hypervisor == types.HypervisorKVM || hypervisor == types.HypervisorLXC) &&
		hostType == types.HostTypeRouting
}

func (a *Adapter) CreateHostForDirectConnect(host *types.Host, startup *agent.StartupCommand, _ agent.ServerResource) (*types.Host, error) {
	return a.CreateHostForConnected(host, startup)
}

// CreateHostForConnected rejects hosts that report no usable compute
func (a *Adapter) CreateHostForConnected(host *types.Host, startup *agent.StartupCommand) (*types.Host, error) {
	if !handles(startup.Hypervisor, startup.Type) {
		return nil, nil
	}
	if startup.CPUs <= 0 || startup.Memory <= 0 {
		return nil, fmt.Errorf("host %s reports %d cpus and %d bytes of memory", startup.GUID, startup.CPUs, startup.Memory)
	}
	if startup.PrivateIP == "" {
		return nil, fmt.Errorf("host %s did not report a private ip", startup.GUID)
	}
	return host, nil
}

// DeleteHost refuses to remove a host that still runs VMs unless forced
func (a *Adapter) DeleteHost(host *types.Host, forced, _ bool) (*registry.DeleteHostAnswer, error) {
	if !handles(host.Hypervisor, host.Type) {
		return nil, nil
	}
	if forced {
		return &registry.DeleteHostAnswer{IsContinue: true}, nil
	}

	vms, err := a.store.ListVMs(storage.VMFilter{
		HostID: host.ID,
		States: []types.VMState{
			types.VMStateStarting,
			types.VMStateRunning,
			types.VMStateStopping,
			types.VMStateMigrating,
		},
	})
	if err != nil {
		return nil, err
	}
	if len(vms) > 0 {
		return &registry.DeleteHostAnswer{
			IsFatal: true,
			Reason:  fmt.Sprintf("host %s still has %d active VMs", host.UUID, len(vms)),
		}, nil
	}
	return &registry.DeleteHostAnswer{IsContinue: true}, nil
}
