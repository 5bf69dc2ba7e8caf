package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 60*time.Second, cfg.Rolling.PingInterval)
	assert.Equal(t, "Error", cfg.Maintenance.LocalStorageStrategy)
	assert.Equal(t, 22, cfg.Maintenance.SSHPort)
	assert.Equal(t, 1.0, cfg.Capacity.CPUOvercommit)
	assert.Equal(t, "127.0.0.1:7947", cfg.Node.APIAddr)
	assert.Empty(t, cfg.Node.JoinAddr)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burrow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node:
  id: mgmt-7
rolling:
  ping_interval: 5s
  stage_timeout: 1m
capacity:
  cpu_overcommit: 2.5
`), 0600))

	t.Setenv("BURROW_MAINTENANCE_LOCAL_STORAGE_STRATEGY", "ForceStop")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mgmt-7", cfg.Node.ID)
	assert.Equal(t, 5*time.Second, cfg.Rolling.PingInterval)
	assert.Equal(t, time.Minute, cfg.Rolling.StageTimeout)
	assert.Equal(t, 2.5, cfg.Capacity.CPUOvercommit)
	assert.Equal(t, "ForceStop", cfg.Maintenance.LocalStorageStrategy)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad strategy", func(c *Config) { c.Maintenance.LocalStorageStrategy = "Pray" }, true},
		{"stage timeout below ping", func(c *Config) { c.Rolling.StageTimeout = c.Rolling.PingInterval }, true},
		{"missing node id", func(c *Config) { c.Node.ID = "" }, true},
		{"bad api addr", func(c *Config) { c.Node.APIAddr = "nowhere" }, true},
		{"join without token", func(c *Config) { c.Node.JoinAddr = "10.0.0.1:7947" }, true},
		{"join with token", func(c *Config) {
			c.Node.JoinAddr = "10.0.0.1:7947"
			c.Node.JoinToken = "secret"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSettingsClusterOverrides(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	tuned := &types.Cluster{Name: "tuned", PodID: "p", Details: map[string]string{
		types.ClusterDetailLocalStorageStrategy: "Migration",
		types.ClusterDetailCPUOvercommit:        "4",
		types.ClusterDetailMemOvercommit:        "garbage",
	}}
	plain := &types.Cluster{Name: "plain", PodID: "p"}
	require.NoError(t, store.CreateCluster(tuned))
	require.NoError(t, store.CreateCluster(plain))

	s := NewSettings(Default(), store)

	assert.Equal(t, types.LocalStorageMigration, s.LocalStorageStrategy(tuned.ID))
	assert.Equal(t, types.LocalStorageError, s.LocalStorageStrategy(plain.ID))

	cpu, mem := s.Overcommit(tuned.ID)
	assert.Equal(t, 4.0, cpu)
	assert.Equal(t, 1.0, mem)

	cpu, _ = s.Overcommit("")
	assert.Equal(t, 1.0, cpu)
}
