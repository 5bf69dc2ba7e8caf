package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/poll"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

const (
	applyTimeout      = 5 * time.Second
	membershipTimeout = 10 * time.Second
	joinTokenTTL      = 24 * time.Hour
)

// Admitter lets a new management server into the cluster. address is the
// raft transport address, apiAddr the address peers forward requests to.
type Admitter interface {
	Admit(nodeID, address, apiAddr, token string) error
}

// Manager is one management server's view of the replicated ownership table
type Manager struct {
	nodeID   string
	bindAddr string
	apiAddr  string
	dataDir  string
	inMemory bool

	raft      *raft.Raft
	transport raft.Transport
	closers   []func() error
	fsm       *OwnershipFSM
	tokens    *TokenManager
	logger    zerolog.Logger
}

// Config holds configuration for creating a Manager
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string

	// APIAddr is where this server answers forwarded requests
	APIAddr string

	// InMemory keeps the raft log, snapshots and transport in process
	InMemory bool
}

// NewManager creates a new Manager instance. Raft is not started until
// Bootstrap, Start or Join is called.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg.NodeID == "" {
		return nil, fault.InvalidParameter("node id is required")
	}
	if !cfg.InMemory {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %v", err)
		}
	}

	return &Manager{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		apiAddr:  cfg.APIAddr,
		dataDir:  cfg.DataDir,
		inMemory: cfg.InMemory,
		fsm:      NewOwnershipFSM(),
		tokens:   NewTokenManager(),
		logger:   log.WithNode("manager", cfg.NodeID),
	}, nil
}

// NodeID returns this management server's id
func (m *Manager) NodeID() string {
	return m.nodeID
}

func (m *Manager) raftConfig() *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)

	// Management servers share a LAN; fail over in a few seconds instead
	// of the WAN-friendly defaults
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	config.LogOutput = zerologWriter{m.logger}
	return config
}

// newRaft builds the raft instance over bolt-backed or in-memory stores
func (m *Manager) newRaft() error {
	if m.raft != nil {
		return fault.Precondition("raft already started on %s", m.nodeID)
	}
	config := m.raftConfig()

	var (
		logStore    raft.LogStore
		stableStore raft.StableStore
		snapshots   raft.SnapshotStore
	)

	if m.inMemory {
		_, transport := raft.NewInmemTransport(raft.ServerAddress(m.nodeID))
		m.transport = transport
		store := raft.NewInmemStore()
		logStore, stableStore = store, store
		snapshots = raft.NewInmemSnapshotStore()
	} else {
		addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
		if err != nil {
			return fmt.Errorf("failed to resolve bind address: %v", err)
		}

		transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, zerologWriter{m.logger})
		if err != nil {
			return fmt.Errorf("failed to create transport: %v", err)
		}
		m.transport = transport
		m.closers = append(m.closers, transport.Close)

		snapshots, err = raft.NewFileSnapshotStore(m.dataDir, 2, zerologWriter{m.logger})
		if err != nil {
			return fmt.Errorf("failed to create snapshot store: %v", err)
		}

		boltLog, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
		if err != nil {
			return fmt.Errorf("failed to create log store: %v", err)
		}
		m.closers = append(m.closers, boltLog.Close)

		boltStable, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
		if err != nil {
			return fmt.Errorf("failed to create stable store: %v", err)
		}
		m.closers = append(m.closers, boltStable.Close)
		logStore, stableStore = boltLog, boltStable
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshots, m.transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %v", err)
	}
	m.raft = r
	return nil
}

// Bootstrap initializes a new single-node Raft cluster and registers this
// server once it leads. An already bootstrapped data directory is reused.
func (m *Manager) Bootstrap(ctx context.Context) error {
	if err := m.newRaft(); err != nil {
		return err
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      raft.ServerID(m.nodeID),
				Address: m.transport.LocalAddr(),
			},
		},
	}

	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
		return fmt.Errorf("failed to bootstrap cluster: %v", err)
	}

	if err := m.WaitForLeader(ctx, membershipTimeout); err != nil {
		return err
	}
	if m.IsLeader() {
		if err := m.RegisterServer(m.nodeID, string(m.transport.LocalAddr()), m.apiAddr); err != nil {
			return err
		}
	}

	m.logger.Info().Str("addr", string(m.transport.LocalAddr())).Msg("Raft cluster bootstrapped")
	return nil
}

// Start runs raft without bootstrapping; the server waits for a leader to
// add it as a voter
func (m *Manager) Start() error {
	if err := m.newRaft(); err != nil {
		return err
	}
	m.logger.Info().Str("addr", string(m.transport.LocalAddr())).Msg("Raft started, waiting to be admitted")
	return nil
}

// Join starts raft and asks leader to admit this server
func (m *Manager) Join(leader Admitter, token string) error {
	if err := m.Start(); err != nil {
		return err
	}
	if l, ok := leader.(*Manager); ok {
		m.link(l)
	}
	if err := leader.Admit(m.nodeID, string(m.transport.LocalAddr()), m.apiAddr, token); err != nil {
		return fmt.Errorf("failed to join cluster: %w", err)
	}
	m.logger.Info().Msg("Joined cluster")
	return nil
}

// Admit validates a join token, adds the server as a voter and registers it
func (m *Manager) Admit(nodeID, address, apiAddr, token string) error {
	if _, err := m.tokens.ValidateToken(token); err != nil {
		return fault.Wrap(fault.KindPrecondition, err, "server %s cannot join", nodeID)
	}
	if err := m.AddVoter(nodeID, address); err != nil {
		return err
	}
	return m.RegisterServer(nodeID, address, apiAddr)
}

// link connects two in-memory transports; TCP transports dial on demand
func (m *Manager) link(other *Manager) {
	a, okA := m.transport.(*raft.InmemTransport)
	b, okB := other.transport.(*raft.InmemTransport)
	if !okA || !okB {
		return
	}
	a.Connect(b.LocalAddr(), b)
	b.Connect(a.LocalAddr(), a)
}

// AddVoter adds a new management server to the Raft cluster
func (m *Manager) AddVoter(nodeID, address string) error {
	if err := m.leaderOnly(); err != nil {
		return err
	}

	m.logger.Info().Str("voter", nodeID).Str("address", address).Msg("Adding voter")

	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, membershipTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %v", err)
	}
	return nil
}

// RemoveServer removes a management server from the Raft cluster and
// drops its registration and claims
func (m *Manager) RemoveServer(nodeID string) error {
	if err := m.leaderOnly(); err != nil {
		return err
	}

	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, membershipTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %v", err)
	}
	return m.DeregisterServer(nodeID)
}

// GetClusterServers returns information about all servers in the Raft cluster
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}

	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %v", err)
	}

	return future.Configuration().Servers, nil
}

// IsLeader returns true if this manager is the Raft leader
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	addr, _ := m.raft.LeaderWithID()
	return string(addr)
}

// WaitForLeader blocks until the cluster has elected a leader
func (m *Manager) WaitForLeader(ctx context.Context, timeout time.Duration) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	err := poll.NewWaiter(timeout, 50*time.Millisecond).WaitFor(ctx, func(context.Context) (bool, error) {
		return m.LeaderAddr() != "", nil
	}, "raft leader election")
	if err == nil {
		metrics.UpdateComponent(metrics.ComponentRaft, true, "")
	} else {
		metrics.UpdateComponent(metrics.ComponentRaft, false, "leader not elected")
	}
	return err
}

// GetRaftStats returns Raft statistics
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}

	stats := make(map[string]interface{})
	stats["state"] = m.raft.State().String()
	stats["last_log_index"] = m.raft.LastIndex()
	stats["applied_index"] = m.raft.AppliedIndex()
	stats["leader"] = m.LeaderAddr()
	stats["servers"] = len(m.fsm.Servers())
	stats["claims"] = len(m.fsm.Claims())

	return stats
}

func (m *Manager) leaderOnly() error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fault.Precondition("not the leader, current leader: %s", m.LeaderAddr())
	}
	return nil
}

// Apply submits a command to the Raft cluster
func (m *Manager) Apply(cmd Command) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %v", err)
	}

	future := m.raft.Apply(data, applyTimeout)
	if err := future.Error(); err != nil {
		if err == raft.ErrNotLeader {
			return fault.Precondition("not the leader, current leader: %s", m.LeaderAddr())
		}
		return fmt.Errorf("failed to apply command: %v", err)
	}

	// Check if apply returned an error
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) apply(op string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %v", op, err)
	}
	return m.Apply(Command{Op: op, Data: data})
}

// RegisterServer records a management server in the replicated table
func (m *Manager) RegisterServer(nodeID, address, apiAddr string) error {
	return m.apply(OpRegisterServer, Server{
		ID:           nodeID,
		Address:      address,
		APIAddress:   apiAddr,
		RegisteredAt: time.Now().UTC(),
	})
}

// DeregisterServer removes a management server and releases its hosts
func (m *Manager) DeregisterServer(nodeID string) error {
	return m.apply(OpDeregisterServer, nodeID)
}

// ClaimHost records serverID as the owner of hostID's agent connection
func (m *Manager) ClaimHost(hostID, serverID string) error {
	return m.apply(OpClaimHost, Claim{HostID: hostID, ServerID: serverID})
}

// ReleaseHost drops serverID's claim on hostID. An empty serverID drops
// whatever claim exists.
func (m *Manager) ReleaseHost(hostID, serverID string) error {
	return m.apply(OpReleaseHost, Claim{HostID: hostID, ServerID: serverID})
}

// PeerFor returns the management server owning hostID, or "" when the host
// is not claimed
func (m *Manager) PeerFor(hostID string) string {
	return m.fsm.Owner(hostID)
}

// APIAddr returns the forwarding address registered by peerID, or ""
func (m *Manager) APIAddr(peerID string) string {
	server, ok := m.fsm.Server(peerID)
	if !ok {
		return ""
	}
	return server.APIAddress
}

// Servers returns the registered management servers
func (m *Manager) Servers() []*Server {
	return m.fsm.Servers()
}

// PeerCount returns the number of registered management servers
func (m *Manager) PeerCount() int {
	return len(m.fsm.Servers())
}

// ClaimCount returns the number of claimed hosts
func (m *Manager) ClaimCount() int {
	return len(m.fsm.Claims())
}

// SyncClaims brings the claim table in line with the ManagementServerID
// recorded on hosts. Only the leader writes; followers return 0.
func (m *Manager) SyncClaims(hosts []*types.Host) (int, error) {
	if !m.IsLeader() {
		return 0, nil
	}

	claims := m.fsm.Claims()
	seen := make(map[string]bool, len(hosts))
	changed := 0

	for _, host := range hosts {
		seen[host.ID] = true
		owner := claims[host.ID]
		want := host.ManagementServerID
		if want != "" {
			if _, ok := m.fsm.Server(want); !ok {
				want = ""
			}
		}

		switch {
		case want == owner:
			continue
		case want == "":
			if err := m.ReleaseHost(host.ID, owner); err != nil {
				return changed, err
			}
		default:
			if err := m.ClaimHost(host.ID, want); err != nil {
				return changed, err
			}
		}
		changed++
	}

	for hostID, owner := range claims {
		if seen[hostID] {
			continue
		}
		if err := m.ReleaseHost(hostID, owner); err != nil {
			return changed, err
		}
		changed++
	}

	if changed > 0 {
		m.logger.Debug().Int("changed", changed).Msg("Host claims synchronized")
	}
	return changed, nil
}

// GenerateJoinToken generates a new join token for adding management servers
func (m *Manager) GenerateJoinToken() (*JoinToken, error) {
	if err := m.leaderOnly(); err != nil {
		return nil, err
	}
	return m.tokens.GenerateToken(RoleManager, joinTokenTTL)
}

// Shutdown gracefully shuts down raft and closes its stores
func (m *Manager) Shutdown() error {
	if m.raft != nil {
		future := m.raft.Shutdown()
		if err := future.Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %v", err)
		}
	}

	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to close raft store")
		}
	}
	m.closers = nil

	return nil
}

// zerologWriter forwards raft's own log lines to the component logger
type zerologWriter struct {
	logger zerolog.Logger
}

func (w zerologWriter) Write(p []byte) (int, error) {
	msg := string(p)
	if n := len(msg); n > 0 && msg[n-1] == '\n' {
		msg = msg[:n-1]
	}
	w.logger.Debug().Str("source", "raft").Msg(msg)
	return len(p), nil
}
