package simulator

import (
	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/types"
)

// Adapter is the resource state adapter for simulated hosts
type Adapter struct{}

// NewAdapter creates the simulator adapter
func NewAdapter() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Name() string { return "simulator" }

func (a *Adapter) CreateHostForDirectConnect(host *types.Host, startup *agent.StartupCommand, resource agent.ServerResource) (*types.Host, error) {
	if startup.Hypervisor != types.HypervisorSimulator {
		return nil, nil
	}
	if _, ok := resource.(*Resource); !ok {
		return nil, nil
	}
	host.SetDetail("simulator", "true")
	return host, nil
}

func (a *Adapter) CreateHostForConnected(host *types.Host, startup *agent.StartupCommand) (*types.Host, error) {
	if startup.Hypervisor != types.HypervisorSimulator {
		return nil, nil
	}
	return host, nil
}

func (a *Adapter) DeleteHost(host *types.Host, forced, forceDeleteStorage bool) (*registry.DeleteHostAnswer, error) {
	if host.Hypervisor != types.HypervisorSimulator {
		return nil, nil
	}
	return &registry.DeleteHostAnswer{IsContinue: true}, nil
}
