// Package config provides configuration management for Burrow.
//
// Configuration is loaded in the following order (later sources override
// earlier ones):
//  1. Default values
//  2. Configuration file (./burrow.yaml, $HOME/.burrow/burrow.yaml, /etc/burrow/burrow.yaml)
//  3. Environment variables (BURROW_ prefix)
//
// Use underscores for nested keys in environment variables:
//   - BURROW_NODE_ID=mgmt-1
//   - BURROW_ROLLING_PING_INTERVAL=30s
//   - BURROW_MAINTENANCE_LOCAL_STORAGE_STRATEGY=ForceStop
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the root configuration structure
type Config struct {
	// Node identifies this management server
	Node NodeConfig `mapstructure:"node"`

	// Logging contains log level and format
	Logging LoggingConfig `mapstructure:"logging"`

	// Metrics contains the metrics and health endpoint address
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Maintenance contains single-host maintenance settings
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`

	// Rolling contains rolling maintenance timing
	Rolling RollingConfig `mapstructure:"rolling"`

	// Capacity contains zone-wide capacity defaults
	Capacity CapacityConfig `mapstructure:"capacity"`
}

// NodeConfig identifies the management server and where it keeps state
type NodeConfig struct {
	// ID is the management server id recorded as the owner of agent connections
	ID string `mapstructure:"id" validate:"required"`

	// BindAddr is the raft transport address
	BindAddr string `mapstructure:"bind_addr" validate:"required,hostname_port"`

	// DataDir holds the inventory database and raft logs
	DataDir string `mapstructure:"data_dir" validate:"required"`

	// APIAddr is where the cluster gRPC service listens for propagated
	// requests and join calls
	APIAddr string `mapstructure:"api_addr" validate:"required,hostname_port"`

	// Bootstrap starts a new single-node raft cluster
	Bootstrap bool `mapstructure:"bootstrap"`

	// JoinAddr is the leader's API address; used when Bootstrap is false
	JoinAddr string `mapstructure:"join_addr" validate:"omitempty,hostname_port"`

	// JoinToken is the token issued by the leader
	JoinToken string `mapstructure:"join_token" validate:"required_with=JoinAddr"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// JSON switches from console to JSON output
	JSON bool `mapstructure:"json"`
}

// MetricsConfig contains the metrics listener
type MetricsConfig struct {
	// Addr serves /metrics, /health, /ready and /live; empty disables it
	Addr string `mapstructure:"addr"`
}

// MaintenanceConfig contains single-host maintenance settings
type MaintenanceConfig struct {
	// LocalStorageStrategy is used for VMs on host-local storage unless the
	// cluster overrides it (Error, Migration, ForceStop)
	LocalStorageStrategy string `mapstructure:"local_storage_strategy" validate:"oneof=Error Migration ForceStop"`

	// CrossClusterMigration lets evacuations fall back to zone-wide placement
	CrossClusterMigration bool `mapstructure:"cross_cluster_migration"`

	// SSHRestartAgent allows restarting a KVM/LXC agent over SSH on cancel
	SSHRestartAgent bool `mapstructure:"ssh_restart_agent"`

	// SSHPort is the port used for agent restarts
	SSHPort int `mapstructure:"ssh_port" validate:"min=1,max=65535"`

	// AgentService is the service name restarted over SSH
	AgentService string `mapstructure:"agent_service"`

	// CheckInterval is how often preparing hosts are re-evaluated
	CheckInterval time.Duration `mapstructure:"check_interval" validate:"gt=0"`

	// UnmanageTimeout bounds the wait for hosts to disconnect when a cluster is unmanaged
	UnmanageTimeout time.Duration `mapstructure:"unmanage_timeout" validate:"gt=0"`

	// HAMaxAttempts is how many times a failed HA work item is retried
	HAMaxAttempts int `mapstructure:"ha_max_attempts" validate:"min=1"`
}

// RollingConfig contains rolling maintenance timing
type RollingConfig struct {
	// PingInterval is the agent poll interval; campaign timeouts must exceed it
	PingInterval time.Duration `mapstructure:"ping_interval" validate:"gt=0"`

	// PollInterval is how often a host is checked while entering maintenance
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`

	// StageTimeout is the per-stage timeout used when a campaign does not set one
	StageTimeout time.Duration `mapstructure:"stage_timeout" validate:"gt=0"`

	// WaitMaintenanceTimeout bounds how long a host may take to reach Maintenance
	WaitMaintenanceTimeout time.Duration `mapstructure:"wait_maintenance_timeout" validate:"gt=0"`
}

// CapacityConfig contains capacity defaults
type CapacityConfig struct {
	// CPUOvercommit is the default CPU overcommit ratio
	CPUOvercommit float64 `mapstructure:"cpu_overcommit" validate:"gt=0"`

	// MemOvercommit is the default memory overcommit ratio
	MemOvercommit float64 `mapstructure:"mem_overcommit" validate:"gt=0"`

	// MaxGuestsPerHost limits VMs per host; 0 disables the limit
	MaxGuestsPerHost int `mapstructure:"max_guests_per_host" validate:"min=0"`
}

// Load reads configuration from a file and environment variables.
// If cfgFile is empty, it searches for burrow.yaml in standard locations.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("burrow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.burrow")
		v.AddConfigPath("/etc/burrow")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if cfgFile == "" && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("BURROW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration with every default applied
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// Defaults always decode
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "burrow-1"
	}

	v.SetDefault("node.id", hostname)
	v.SetDefault("node.bind_addr", "127.0.0.1:7946")
	v.SetDefault("node.data_dir", "./data")
	v.SetDefault("node.api_addr", "127.0.0.1:7947")
	v.SetDefault("node.bootstrap", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)

	v.SetDefault("metrics.addr", "127.0.0.1:9090")

	v.SetDefault("maintenance.local_storage_strategy", "Error")
	v.SetDefault("maintenance.cross_cluster_migration", false)
	v.SetDefault("maintenance.ssh_restart_agent", false)
	v.SetDefault("maintenance.ssh_port", 22)
	v.SetDefault("maintenance.agent_service", "burrow-agent")
	v.SetDefault("maintenance.check_interval", "10s")
	v.SetDefault("maintenance.unmanage_timeout", "5m")
	v.SetDefault("maintenance.ha_max_attempts", 3)

	v.SetDefault("rolling.ping_interval", "60s")
	v.SetDefault("rolling.poll_interval", "10s")
	v.SetDefault("rolling.stage_timeout", "30m")
	v.SetDefault("rolling.wait_maintenance_timeout", "30m")

	v.SetDefault("capacity.cpu_overcommit", 1.0)
	v.SetDefault("capacity.mem_overcommit", 1.0)
	v.SetDefault("capacity.max_guests_per_host", 0)
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	if cfg.Rolling.StageTimeout <= cfg.Rolling.PingInterval {
		return fmt.Errorf("rolling.stage_timeout (%s) must exceed rolling.ping_interval (%s)",
			cfg.Rolling.StageTimeout, cfg.Rolling.PingInterval)
	}
	return nil
}
