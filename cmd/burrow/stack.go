package main

import (
	"fmt"
	"os"
	"time"

	"github.com/cuemby/burrow/pkg/affinity"
	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/capacity"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/directory"
	"github.com/cuemby/burrow/pkg/discovery/simulator"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/ha"
	"github.com/cuemby/burrow/pkg/hypervisor/kvm"
	"github.com/cuemby/burrow/pkg/planner"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/resource"
	"github.com/cuemby/burrow/pkg/rolling"
	"github.com/cuemby/burrow/pkg/storage"
)

// stack is every component of one management server, wired together
type stack struct {
	cfg          *config.Config
	store        *storage.BoltStore
	dir          *directory.Directory
	settings     *config.Settings
	transport    *agent.DirectTransport
	planner      *planner.FirstFit
	queue        *ha.WorkQueue
	broker       *events.Broker
	resources    *resource.Manager
	sim          *simulator.Discoverer
	orchestrator *rolling.Orchestrator
}

// cluster is how a stack reaches the other management servers; both
// fields may be nil for a standalone server
type cluster struct {
	peers   resource.PeerLocator
	channel resource.ClusterChannel
}

func newStack(cfg *config.Config, peer cluster) (*stack, error) {
	if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}
	store, err := storage.NewBoltStore(cfg.Node.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open inventory: %w", err)
	}

	settings := config.NewSettings(cfg, store)
	dir := directory.New(store)
	calc := capacity.NewCalculator(store, cfg.Capacity.MaxGuestsPerHost)
	pl := planner.NewFirstFit(store, dir, calc, affinity.Chain{affinity.NewHostAntiAffinity(store)}, settings.Overcommit)
	queue := ha.NewWorkQueue(store, pl, time.Second, cfg.Maintenance.HAMaxAttempts)

	broker := events.NewBroker()
	monitor := events.NewHostMonitor(broker)
	transport := agent.NewDirectTransport(store, cfg.Node.ID)
	transport.AddMonitor(monitor)

	adapters := registry.NewAdapters()
	adapters.Register(kvm.NewAdapter(store))
	adapters.Register(simulator.NewAdapter())

	var restarter agent.Restarter
	if cfg.Maintenance.SSHRestartAgent {
		restarter = agent.NewSSHRestarter(cfg.Maintenance.SSHPort, cfg.Maintenance.AgentService)
	}

	resources := resource.NewManager(resource.Config{
		Store:     store,
		Directory: dir,
		Transport: transport,
		Capacity:  calc,
		Planner:   pl,
		HA:        queue,
		Adapters:  adapters,
		Listeners: registry.NewListeners(),
		Settings:  settings,
		Restarter: restarter,
		Peers:     peer.peers,
		Channel:   peer.channel,
		Observer:  monitor,
		NodeID:    cfg.Node.ID,
	})
	sim := simulator.NewDiscoverer()
	resources.Discovery().RegisterDiscoverer(sim)

	orchestrator := rolling.NewOrchestrator(rolling.Config{
		Store:     store,
		Directory: dir,
		Transport: transport,
		Planner:   pl,
		Hosts:     resources,
		Settings:  settings,
		Broker:    broker,
	})

	return &stack{
		cfg:          cfg,
		store:        store,
		dir:          dir,
		settings:     settings,
		transport:    transport,
		planner:      pl,
		queue:        queue,
		broker:       broker,
		resources:    resources,
		sim:          sim,
		orchestrator: orchestrator,
	}, nil
}

// start runs the background workers of the stack
func (s *stack) start() {
	s.broker.Start()
	s.queue.Start()
}

// close stops the background workers and closes the inventory
func (s *stack) close() error {
	s.queue.Stop()
	s.broker.Stop()
	return s.store.Close()
}
