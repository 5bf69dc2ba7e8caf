package manager

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/cuemby/burrow/pkg/fault"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applyCmd(t *testing.T, f *OwnershipFSM, op string, payload interface{}) interface{} {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	cmd, err := json.Marshal(Command{Op: op, Data: data})
	require.NoError(t, err)
	return f.Apply(&raft.Log{Data: cmd})
}

func TestFSMClaims(t *testing.T) {
	f := NewOwnershipFSM()

	assert.Nil(t, applyCmd(t, f, OpRegisterServer, Server{ID: "mgmt-1", Address: "a"}))
	assert.Nil(t, applyCmd(t, f, OpRegisterServer, Server{ID: "mgmt-2", Address: "b"}))
	assert.Nil(t, applyCmd(t, f, OpClaimHost, Claim{HostID: "h1", ServerID: "mgmt-1"}))
	assert.Nil(t, applyCmd(t, f, OpClaimHost, Claim{HostID: "h2", ServerID: "mgmt-2"}))

	assert.Equal(t, "mgmt-1", f.Owner("h1"))
	assert.Equal(t, "mgmt-2", f.Owner("h2"))
	assert.Equal(t, "", f.Owner("h3"))

	// A stale release does not drop a newer claim
	assert.Nil(t, applyCmd(t, f, OpClaimHost, Claim{HostID: "h1", ServerID: "mgmt-2"}))
	assert.Nil(t, applyCmd(t, f, OpReleaseHost, Claim{HostID: "h1", ServerID: "mgmt-1"}))
	assert.Equal(t, "mgmt-2", f.Owner("h1"))

	assert.Nil(t, applyCmd(t, f, OpReleaseHost, Claim{HostID: "h1"}))
	assert.Equal(t, "", f.Owner("h1"))
}

func TestFSMClaimNeedsRegisteredServer(t *testing.T) {
	f := NewOwnershipFSM()

	res := applyCmd(t, f, OpClaimHost, Claim{HostID: "h1", ServerID: "ghost"})
	err, ok := res.(error)
	require.True(t, ok)
	assert.True(t, fault.Is(err, fault.KindNotFound))
	assert.Empty(t, f.Claims())
}

func TestFSMDeregisterDropsClaims(t *testing.T) {
	f := NewOwnershipFSM()
	applyCmd(t, f, OpRegisterServer, Server{ID: "mgmt-1"})
	applyCmd(t, f, OpRegisterServer, Server{ID: "mgmt-2"})
	applyCmd(t, f, OpClaimHost, Claim{HostID: "h1", ServerID: "mgmt-1"})
	applyCmd(t, f, OpClaimHost, Claim{HostID: "h2", ServerID: "mgmt-2"})

	assert.Nil(t, applyCmd(t, f, OpDeregisterServer, "mgmt-1"))

	_, ok := f.Server("mgmt-1")
	assert.False(t, ok)
	assert.Equal(t, map[string]string{"h2": "mgmt-2"}, f.Claims())
}

func TestFSMRejectsBadCommands(t *testing.T) {
	f := NewOwnershipFSM()

	res := f.Apply(&raft.Log{Data: []byte("not json")})
	assert.Error(t, res.(error))

	res = applyCmd(t, f, "drop_everything", nil)
	assert.EqualError(t, res.(error), "unknown command: drop_everything")

	res = applyCmd(t, f, OpRegisterServer, Server{})
	assert.True(t, fault.Is(res.(error), fault.KindInvalidParameter))
}

type memorySink struct {
	bytes.Buffer
	cancelled bool
}

func (s *memorySink) ID() string { return "test" }
func (s *memorySink) Close() error { return nil }
func (s *memorySink) Cancel() error { s.cancelled = true; return nil }

func TestFSMSnapshotRestore(t *testing.T) {
	f := NewOwnershipFSM()
	applyCmd(t, f, OpRegisterServer, Server{ID: "mgmt-1", Address: "10.0.0.1:7946"})
	applyCmd(t, f, OpClaimHost, Claim{HostID: "h1", ServerID: "mgmt-1"})

	snap, err := f.Snapshot()
	require.NoError(t, err)
	sink := &memorySink{}
	require.NoError(t, snap.Persist(sink))
	snap.Release()
	assert.False(t, sink.cancelled)

	// Restore replaces whatever was there
	restored := NewOwnershipFSM()
	applyCmd(t, restored, OpRegisterServer, Server{ID: "stale"})
	require.NoError(t, restored.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))

	assert.Equal(t, "mgmt-1", restored.Owner("h1"))
	servers := restored.Servers()
	require.Len(t, servers, 1)
	assert.Equal(t, "10.0.0.1:7946", servers[0].Address)
}
