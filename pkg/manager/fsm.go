package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/fault"
	"github.com/hashicorp/raft"
)

// Replicated operations
const (
	OpRegisterServer   = "register_server"
	OpDeregisterServer = "deregister_server"
	OpClaimHost        = "claim_host"
	OpReleaseHost      = "release_host"
)

// Server is a management server known to the cluster
type Server struct {
	ID           string    `json:"id"`
	Address      string    `json:"address"`
	APIAddress   string    `json:"api_address,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Claim records which management server owns a host's agent connection
type Claim struct {
	HostID   string `json:"host_id"`
	ServerID string `json:"server_id"`
}

// OwnershipFSM implements the Raft Finite State Machine for the table of
// management servers and the hosts they own
type OwnershipFSM struct {
	mu      sync.RWMutex
	servers map[string]*Server
	claims  map[string]string
}

// NewOwnershipFSM creates an empty FSM
func NewOwnershipFSM() *OwnershipFSM {
	return &OwnershipFSM{
		servers: make(map[string]*Server),
		claims:  make(map[string]string),
	}
}

// Command represents a state change operation in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// Apply applies a committed Raft log entry. The returned value is nil or
// the error the operation failed with.
func (f *OwnershipFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpRegisterServer:
		var server Server
		if err := json.Unmarshal(cmd.Data, &server); err != nil {
			return err
		}
		if server.ID == "" {
			return fault.InvalidParameter("server id is required")
		}
		f.servers[server.ID] = &server
		return nil

	case OpDeregisterServer:
		var serverID string
		if err := json.Unmarshal(cmd.Data, &serverID); err != nil {
			return err
		}
		delete(f.servers, serverID)
		// Hosts of a departed server are up for grabs
		for hostID, owner := range f.claims {
			if owner == serverID {
				delete(f.claims, hostID)
			}
		}
		return nil

	case OpClaimHost:
		var claim Claim
		if err := json.Unmarshal(cmd.Data, &claim); err != nil {
			return err
		}
		if _, ok := f.servers[claim.ServerID]; !ok {
			return fault.NotFound("management server %s is not registered", claim.ServerID)
		}
		f.claims[claim.HostID] = claim.ServerID
		return nil

	case OpReleaseHost:
		var claim Claim
		if err := json.Unmarshal(cmd.Data, &claim); err != nil {
			return err
		}
		// A release only wins over the claim it was issued for
		if owner, ok := f.claims[claim.HostID]; ok && (claim.ServerID == "" || owner == claim.ServerID) {
			delete(f.claims, claim.HostID)
		}
		return nil

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Owner returns the server owning hostID, or ""
func (f *OwnershipFSM) Owner(hostID string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.claims[hostID]
}

// Server returns a registered server
func (f *OwnershipFSM) Server(id string) (*Server, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.servers[id]
	if !ok {
		return nil, false
	}
	copied := *s
	return &copied, true
}

// Servers returns every registered server
func (f *OwnershipFSM) Servers() []*Server {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Server, 0, len(f.servers))
	for _, s := range f.servers {
		copied := *s
		out = append(out, &copied)
	}
	return out
}

// Claims returns a copy of the host to server table
func (f *OwnershipFSM) Claims() map[string]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]string, len(f.claims))
	for k, v := range f.claims {
		out[k] = v
	}
	return out
}

// Snapshot creates a point-in-time snapshot of the FSM
func (f *OwnershipFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snapshot := &OwnershipSnapshot{
		Servers: make([]*Server, 0, len(f.servers)),
		Claims:  make([]Claim, 0, len(f.claims)),
	}
	for _, s := range f.servers {
		copied := *s
		snapshot.Servers = append(snapshot.Servers, &copied)
	}
	for hostID, serverID := range f.claims {
		snapshot.Claims = append(snapshot.Claims, Claim{HostID: hostID, ServerID: serverID})
	}
	return snapshot, nil
}

// Restore replaces the FSM state with a snapshot
func (f *OwnershipFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot OwnershipSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %v", err)
	}

	servers := make(map[string]*Server, len(snapshot.Servers))
	for _, s := range snapshot.Servers {
		servers[s.ID] = s
	}
	claims := make(map[string]string, len(snapshot.Claims))
	for _, c := range snapshot.Claims {
		claims[c.HostID] = c.ServerID
	}

	f.mu.Lock()
	f.servers = servers
	f.claims = claims
	f.mu.Unlock()
	return nil
}

// OwnershipSnapshot is a point-in-time copy of the ownership table
type OwnershipSnapshot struct {
	Servers []*Server `json:"servers"`
	Claims  []Claim   `json:"claims"`
}

// Persist writes the snapshot to the given SnapshotSink
func (s *OwnershipSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources
func (s *OwnershipSnapshot) Release() {}
