package config

import (
	"strconv"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// Settings resolves cluster-scoped overrides stored in cluster details,
// falling back to the loaded configuration
type Settings struct {
	cfg   *Config
	store storage.Store
}

// NewSettings creates a resolver over cfg and the cluster records in store
func NewSettings(cfg *Config, store storage.Store) *Settings {
	return &Settings{cfg: cfg, store: store}
}

// Config returns the process-wide configuration
func (s *Settings) Config() *Config {
	return s.cfg
}

func (s *Settings) clusterDetail(clusterID, key string) string {
	if clusterID == "" {
		return ""
	}
	cluster, err := s.store.GetCluster(clusterID)
	if err != nil || cluster.Details == nil {
		return ""
	}
	return cluster.Details[key]
}

// LocalStorageStrategy returns how VMs on local storage in the cluster are evacuated
func (s *Settings) LocalStorageStrategy(clusterID string) types.LocalStorageStrategy {
	if v := s.clusterDetail(clusterID, types.ClusterDetailLocalStorageStrategy); v != "" {
		switch types.LocalStorageStrategy(v) {
		case types.LocalStorageError, types.LocalStorageMigration, types.LocalStorageForceStop:
			return types.LocalStorageStrategy(v)
		}
	}
	return types.LocalStorageStrategy(s.cfg.Maintenance.LocalStorageStrategy)
}

// Overcommit returns the CPU and memory overcommit ratios of the cluster
func (s *Settings) Overcommit(clusterID string) (cpu, mem float64) {
	cpu = s.ratio(clusterID, types.ClusterDetailCPUOvercommit, s.cfg.Capacity.CPUOvercommit)
	mem = s.ratio(clusterID, types.ClusterDetailMemOvercommit, s.cfg.Capacity.MemOvercommit)
	return cpu, mem
}

func (s *Settings) ratio(clusterID, key string, fallback float64) float64 {
	v := s.clusterDetail(clusterID, key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}
