package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/reconciler"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the management server",
	Long: `Run the management server: the resource manager, the reconciler that
drives hosts into maintenance and connects deferred hosts, the HA work
queue, and the replicated ownership table.

With node.bootstrap set the server starts a new single-node Raft cluster
and prints a join token. Otherwise it starts Raft and, when node.join_addr
is set, asks that leader to admit it with node.join_token. Requests for
hosts owned by other servers travel over the cluster gRPC service on
node.api_addr.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := log.WithNode("serve", cfg.Node.ID)
	metrics.SetVersion(Version)

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   cfg.Node.ID,
		BindAddr: cfg.Node.BindAddr,
		APIAddr:  cfg.Node.APIAddr,
		DataDir:  filepath.Join(cfg.Node.DataDir, "raft"),
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %v", err)
	}

	peers := api.NewClient(mgr)
	router := manager.NewRouter()
	router.SetRemote(peers)
	s, err := newStack(cfg, cluster{peers: mgr, channel: router})
	if err != nil {
		return err
	}
	router.Register(cfg.Node.ID, s.resources)
	metrics.RegisterComponent(metrics.ComponentStorage, true, "")
	metrics.RegisterComponent(metrics.ComponentTransport, true, "")
	metrics.RegisterComponent(metrics.ComponentRaft, false, "starting")
	metrics.RegisterComponent(metrics.ComponentAPI, false, "starting")
	s.start()

	errCh := make(chan error, 2)
	apiServer := api.NewServer(api.Config{
		NodeID:   cfg.Node.ID,
		Handler:  s.resources,
		Admitter: mgr,
		IsLeader: mgr.IsLeader,
	})
	go func() {
		if err := apiServer.Start(cfg.Node.APIAddr); err != nil {
			metrics.UpdateComponent(metrics.ComponentAPI, false, err.Error())
			errCh <- fmt.Errorf("cluster api error: %v", err)
		}
	}()
	metrics.UpdateComponent(metrics.ComponentAPI, true, "")
	fmt.Printf("✓ Cluster API on %s\n", cfg.Node.APIAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	abort := func(err error) error {
		apiServer.Stop()
		_ = peers.Close()
		_ = mgr.Shutdown()
		_ = s.close()
		return err
	}

	if cfg.Node.Bootstrap {
		if err := mgr.Bootstrap(ctx); err != nil {
			return abort(fmt.Errorf("failed to bootstrap cluster: %v", err))
		}
		fmt.Println("✓ Cluster bootstrapped")
		if mgr.IsLeader() {
			token, err := mgr.GenerateJoinToken()
			if err != nil {
				return abort(fmt.Errorf("failed to generate join token: %v", err))
			}
			fmt.Printf("✓ Join token (valid until %s): %s\n", token.ExpiresAt.Format(time.RFC3339), token.Token)
		}
	} else {
		if err := mgr.Start(); err != nil {
			return abort(fmt.Errorf("failed to start raft: %v", err))
		}
		if cfg.Node.JoinAddr == "" {
			fmt.Println("✓ Raft started, waiting to be admitted")
		} else {
			if err := join(ctx, peers, cfg); err != nil {
				return abort(err)
			}
			fmt.Printf("✓ Joined cluster through %s\n", cfg.Node.JoinAddr)
		}
	}

	collector := metrics.NewCollector(s.store, mgr)
	collector.Start()

	recon := reconciler.NewReconciler(reconciler.Config{
		Directory:   s.dir,
		Maintenance: s.resources,
		Deferred:    s.resources.Discovery(),
		Claims:      mgr,
		Interval:    cfg.Maintenance.CheckInterval,
	})
	recon.Start()
	fmt.Println("✓ Reconciler started")

	audit := s.broker.Subscribe()
	go logEvents(logger, audit)

	var server *http.Server
	if cfg.Metrics.Addr != "" {
		server = newMetricsServer(cfg.Metrics.Addr)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %v", err)
			}
		}()
		fmt.Printf("✓ Metrics on http://%s/metrics\n", cfg.Metrics.Addr)
	}

	fmt.Println()
	fmt.Println("Management server is running. Press Ctrl+C to stop.")

	select {
	case <-ctx.Done():
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = server.Shutdown(shutdownCtx)
		cancel()
	}
	recon.Stop()
	collector.Stop()
	s.broker.Unsubscribe(audit)
	router.Unregister(cfg.Node.ID)
	apiServer.Stop()
	if err := peers.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close peer connections")
	}
	if err := mgr.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("Failed to shut down raft")
	}
	if err := s.close(); err != nil {
		return fmt.Errorf("failed to shutdown: %v", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}

// join asks the leader at node.join_addr to admit this server
func join(ctx context.Context, peers *api.Client, cfg *config.Config) error {
	resp, err := peers.Admit(ctx, cfg.Node.JoinAddr, &api.AdmitRequest{
		NodeID:     cfg.Node.ID,
		Address:    cfg.Node.BindAddr,
		APIAddress: cfg.Node.APIAddr,
		Token:      cfg.Node.JoinToken,
	})
	if err != nil {
		return fmt.Errorf("failed to join cluster: %w", err)
	}
	logger := log.WithNode("serve", cfg.Node.ID)
	logger.Info().
		Str("leader", resp.LeaderID).
		Time("admitted_at", resp.AdmittedAt.AsTime()).
		Msg("Admitted to cluster")
	return nil
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// logEvents writes every published event to the audit log
func logEvents(logger zerolog.Logger, sub events.Subscriber) {
	for event := range sub {
		e := logger.Info().Str("event", string(event.Type))
		for k, v := range event.Metadata {
			e = e.Str(k, v)
		}
		e.Msg(event.Message)
	}
}
