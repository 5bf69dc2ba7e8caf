package kvm

import (
	"testing"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateHost(t *testing.T) {
	a := NewAdapter(nil)

	tests := []struct {
		name    string
		startup agent.StartupCommand
		claimed bool
		wantErr bool
	}{
		{"kvm routing", agent.StartupCommand{GUID: "g", Type: types.HostTypeRouting, Hypervisor: types.HypervisorKVM, CPUs: 4, Memory: 1 << 30, PrivateIP: "10.0.0.2"}, true, false},
		{"lxc routing", agent.StartupCommand{GUID: "g", Type: types.HostTypeRouting, Hypervisor: types.HypervisorLXC, CPUs: 4, Memory: 1 << 30, PrivateIP: "10.0.0.2"}, true, false},
		{"other hypervisor", agent.StartupCommand{GUID: "g", Type: types.HostTypeRouting, Hypervisor: types.HypervisorVMware}, false, false},
		{"storage host", agent.StartupCommand{GUID: "g", Type: types.HostTypeStorage, Hypervisor: types.HypervisorKVM}, false, false},
		{"no memory", agent.StartupCommand{GUID: "g", Type: types.HostTypeRouting, Hypervisor: types.HypervisorKVM, CPUs: 4, PrivateIP: "10.0.0.2"}, false, true},
		{"no private ip", agent.StartupCommand{GUID: "g", Type: types.HostTypeRouting, Hypervisor: types.HypervisorKVM, CPUs: 4, Memory: 1 << 30}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := &types.Host{GUID: "g"}
			startup := tt.startup
			got, err := a.CreateHostForConnected(host, &startup)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.claimed {
				assert.Same(t, host, got)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestDeleteHost(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	host := &types.Host{Name: "kvm-01", Type: types.HostTypeRouting, Hypervisor: types.HypervisorKVM}
	require.NoError(t, store.CreateHost(host))
	require.NoError(t, store.CreateVM(&types.VM{Name: "vm", HostID: host.ID, State: types.VMStateRunning}))

	a := NewAdapter(store)

	answer, err := a.DeleteHost(host, false, false)
	require.NoError(t, err)
	assert.True(t, answer.IsFatal)

	answer, err = a.DeleteHost(host, true, false)
	require.NoError(t, err)
	assert.True(t, answer.IsContinue)

	answer, err = a.DeleteHost(&types.Host{Hypervisor: types.HypervisorVMware, Type: types.HostTypeRouting}, false, false)
	require.NoError(t, err)
	assert.Nil(t, answer)
}
