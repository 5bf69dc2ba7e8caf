package registry

import (
	"errors"
	"testing"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	name      string
	claim     bool
	err       error
	deleteAns *DeleteHostAnswer
	calls     *[]string
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) CreateHostForDirectConnect(host *types.Host, _ *agent.StartupCommand, _ agent.ServerResource) (*types.Host, error) {
	*s.calls = append(*s.calls, s.name)
	if s.err != nil {
		return nil, s.err
	}
	if !s.claim {
		return nil, nil
	}
	claimed := *host
	claimed.Capabilities = s.name
	return &claimed, nil
}

func (s *stubAdapter) CreateHostForConnected(host *types.Host, startup *agent.StartupCommand) (*types.Host, error) {
	return s.CreateHostForDirectConnect(host, startup, nil)
}

func (s *stubAdapter) DeleteHost(*types.Host, bool, bool) (*DeleteHostAnswer, error) {
	*s.calls = append(*s.calls, s.name)
	return s.deleteAns, s.err
}

func TestDispatchCreateFirstResponderWins(t *testing.T) {
	var calls []string
	r := NewAdapters()
	r.Register(&stubAdapter{name: "a", calls: &calls})
	r.Register(&stubAdapter{name: "b", claim: true, calls: &calls})
	r.Register(&stubAdapter{name: "c", claim: true, calls: &calls})

	host, err := r.DispatchCreate(EventCreateHostForDirectConnect, &types.Host{Name: "h"}, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, host)
	assert.Equal(t, "b", host.Capabilities)
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestDispatchCreateVeto(t *testing.T) {
	var calls []string
	r := NewAdapters()
	r.Register(&stubAdapter{name: "a", err: errors.New("unsupported cpu"), calls: &calls})
	r.Register(&stubAdapter{name: "b", claim: true, calls: &calls})

	_, err := r.DispatchCreate(EventCreateHostForConnected, &types.Host{}, nil, nil)
	assert.ErrorContains(t, err, "unsupported cpu")
	assert.Equal(t, []string{"a"}, calls)
}

func TestDispatchDelete(t *testing.T) {
	var calls []string
	r := NewAdapters()

	answer, name := r.DispatchDelete(&types.Host{}, false, false)
	assert.Nil(t, answer)
	assert.Empty(t, name)

	r.Register(&stubAdapter{name: "quiet", calls: &calls})
	r.Register(&stubAdapter{name: "kvm", deleteAns: &DeleteHostAnswer{IsContinue: true}, calls: &calls})

	answer, name = r.DispatchDelete(&types.Host{}, false, false)
	require.NotNil(t, answer)
	assert.True(t, answer.IsContinue)
	assert.Equal(t, "kvm", name)
}

func TestRegisterReplaceAndUnregister(t *testing.T) {
	var calls []string
	r := NewAdapters()
	r.Register(&stubAdapter{name: "a", calls: &calls})
	r.Register(&stubAdapter{name: "b", calls: &calls})
	r.Register(&stubAdapter{name: "a", claim: true, calls: &calls})

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name())

	r.Unregister("a")
	_, ok := r.Get("a")
	assert.False(t, ok)
	assert.Len(t, r.List(), 1)
}

func TestListenersNotifyAllInOrder(t *testing.T) {
	r := NewListeners()
	var seen []string

	r.Register(ListenerFunc(func(e Event, p Payload) { seen = append(seen, "first:"+string(e)) }), EventDiscoverBefore, EventDiscoverAfter)
	r.Register(ListenerFunc(func(e Event, p Payload) { seen = append(seen, "second:"+string(e)) }), EventDiscoverAfter)

	r.Notify(EventDiscoverBefore, Payload{})
	r.Notify(EventDiscoverAfter, Payload{})
	r.Notify(EventDeleteHostAfter, Payload{})

	assert.Equal(t, []string{
		"first:DiscoverBefore",
		"first:DiscoverAfter",
		"second:DiscoverAfter",
	}, seen)
}
