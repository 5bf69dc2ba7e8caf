package main

import (
	"fmt"
	"os"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - host lifecycle and maintenance orchestration",
	Long: `Burrow tracks compute hosts through their administrative lifecycle:
discovery, maintenance, evacuation and rolling maintenance campaigns across
clusters.

Every command reads burrow.yaml (or --config) and BURROW_* environment
variables. Commands other than serve open the inventory in the data
directory directly, so run them while the server is stopped.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./burrow.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(inventoryCmd)
	rootCmd.AddCommand(hostsCmd)
	rootCmd.AddCommand(campaignCmd)
}

// loadConfig reads the configuration and initializes logging from it
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	log.Init(log.Config{
		Level:      log.Level(cfg.Logging.Level),
		JSONOutput: cfg.Logging.JSON,
		Output:     os.Stderr,
	})
	return cfg, nil
}
