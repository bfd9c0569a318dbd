package config

import (
	"strings"
	"time"

	"github.com/marmos91/pagefs/pkg/gc"
	"github.com/marmos91/pagefs/pkg/lifecycle"
	"github.com/marmos91/pagefs/pkg/pagewriter"
	"github.com/marmos91/pagefs/pkg/sweeper"
	"github.com/marmos91/pagefs/pkg/synclock"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled by the factories
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStorageDefaults(&cfg.Storage)
	applyBlobsDefaults(&cfg.Blobs)
	applyLifecycleDefaults(&cfg.Lifecycle)
	applySweeperDefaults(&cfg.Sweeper)
	applyGCDefaults(&cfg.GC)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
}

func applyBlobsDefaults(cfg *BlobsConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Compress == nil {
		enabled := true
		cfg.Compress = &enabled
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	// Filled for every type so generated config files show the option
	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = "/tmp/pagefs-pages"
	}
}

func applyLifecycleDefaults(cfg *LifecycleConfig) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = pagewriter.DefaultChunkSize
	}
	if cfg.MaxChunkRetries == 0 {
		cfg.MaxChunkRetries = pagewriter.DefaultMaxAttempts
	}
	if cfg.ChunkRetryBackoff == 0 {
		cfg.ChunkRetryBackoff = pagewriter.DefaultRetryBackoff
	}
	if cfg.MaxTombstoneAttempts == 0 {
		cfg.MaxTombstoneAttempts = lifecycle.DefaultMaxTombstoneAttempts
	}
	if cfg.SyncLockTimeout == 0 {
		cfg.SyncLockTimeout = synclock.DefaultTimeout
	}
	if cfg.CleanupRetries == 0 {
		cfg.CleanupRetries = lifecycle.DefaultCleanupRetries
	}
	// UploadBytesPerSecond defaults to 0 (unlimited)
}

// applySweeperDefaults enables the sweeper unless it was explicitly
// configured off: an untouched section (no interval) means "use defaults".
func applySweeperDefaults(cfg *SweeperConfig) {
	if !cfg.Enabled && cfg.Interval == 0 {
		cfg.Enabled = true
	}
	if cfg.Interval == 0 {
		cfg.Interval = sweeper.DefaultInterval
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = sweeper.DefaultBatchSize
	}
	if cfg.RunTimeout == 0 {
		cfg.RunTimeout = sweeper.DefaultRunTimeout
	}
}

func applyGCDefaults(cfg *GCConfig) {
	// Enabled defaults to false
	if cfg.Interval == 0 {
		cfg.Interval = gc.DefaultInterval
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = gc.DefaultBatchSize
	}
	if cfg.MinAge == 0 {
		cfg.MinAge = gc.DefaultMinAge
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
