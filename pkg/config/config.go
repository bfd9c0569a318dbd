package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete PageFS configuration.
//
// This structure captures all configurable aspects of a PageFS node:
//   - Logging configuration
//   - Server-wide settings
//   - Storage engine selection (store-specific options)
//   - Page blob backend selection (backend-specific options)
//   - Lifecycle engine tuning
//   - Background maintenance (sweeper, page garbage collector)
//   - Metrics exposition
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (PAGEFS_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each storage engine and blob backend defines its own options. The Config
// struct carries them as type-specific maps (e.g. storage.badger,
// blobs.s3) and only the section matching the selected type is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Storage selects the transactional storage engine
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Blobs selects where page bytes are kept
	Blobs BlobsConfig `mapstructure:"blobs" yaml:"blobs"`

	// Lifecycle tunes uploads, retries and tombstones
	Lifecycle LifecycleConfig `mapstructure:"lifecycle" yaml:"lifecycle"`

	// Sweeper configures the maintenance sweeper
	Sweeper SweeperConfig `mapstructure:"sweeper" yaml:"sweeper"`

	// GC configures the page blob garbage collector
	GC GCConfig `mapstructure:"gc" yaml:"gc"`

	// Metrics configures Prometheus exposition
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`
}

// StorageConfig specifies the storage engine.
//
// The Type field determines which engine is used. Only the corresponding
// type-specific section is used.
type StorageConfig struct {
	// Type specifies which storage engine to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	// Keys: db_path, block_cache_mb, index_cache_mb, sync_writes
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// BlobsConfig specifies the page blob backend.
type BlobsConfig struct {
	// Type specifies which blob backend to use
	// Valid values: memory, filesystem, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory filesystem s3"`

	// Compress zstd-compresses page bytes at rest (default: true)
	Compress *bool `mapstructure:"compress" yaml:"compress"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	// Keys: path
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	// Keys: region, bucket, key_prefix, endpoint, access_key_id,
	// secret_access_key, max_retries
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// CompressEnabled reports whether page compression is on.
func (c BlobsConfig) CompressEnabled() bool {
	return c.Compress == nil || *c.Compress
}

// LifecycleConfig tunes the lifecycle engine.
type LifecycleConfig struct {
	// ChunkSize is the page size uploads are cut into, in bytes
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size" validate:"gt=0,lte=67108864"`

	// MaxChunkRetries bounds the attempts to store one conflicting chunk
	MaxChunkRetries int `mapstructure:"max_chunk_retries" yaml:"max_chunk_retries" validate:"gt=0"`

	// ChunkRetryBackoff is the fixed pause between conflicting attempts
	ChunkRetryBackoff time.Duration `mapstructure:"chunk_retry_backoff" yaml:"chunk_retry_backoff" validate:"gt=0"`

	// MaxTombstoneAttempts bounds the tombstone names tried per delete
	MaxTombstoneAttempts int `mapstructure:"max_tombstone_attempts" yaml:"max_tombstone_attempts" validate:"gt=0"`

	// UploadBytesPerSecond throttles ingestion across all uploads (0 = unlimited)
	UploadBytesPerSecond uint64 `mapstructure:"upload_bytes_per_second" yaml:"upload_bytes_per_second"`

	// SyncLockTimeout is how long a synchronization lock stays valid
	SyncLockTimeout time.Duration `mapstructure:"sync_lock_timeout" yaml:"sync_lock_timeout" validate:"gt=0"`

	// CleanupRetries bounds the deletes attempted after a failed upload
	CleanupRetries int `mapstructure:"cleanup_retries" yaml:"cleanup_retries" validate:"gt=0"`
}

// SweeperConfig configures the maintenance sweeper.
type SweeperConfig struct {
	// Enabled controls whether the sweeper runs in the background
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval is how often a sweep cycle runs
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gt=0"`

	// BatchSize bounds the items each sweep handles per cycle
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size" validate:"gt=0"`

	// RunTimeout bounds one cycle
	RunTimeout time.Duration `mapstructure:"run_timeout" yaml:"run_timeout" validate:"gt=0"`
}

// GCConfig configures the page blob garbage collector.
type GCConfig struct {
	// Enabled controls whether the collector runs in the background
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval is how often a collection runs
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gt=0"`

	// BatchSize is how many orphaned blobs are deleted per batch
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size" validate:"gt=0"`

	// MinAge is how old an unreferenced blob must be before deletion
	MinAge time.Duration `mapstructure:"min_age" yaml:"min_age" validate:"gte=0"`

	// DryRun logs what would be deleted without deleting
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled exposes /metrics over HTTP
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port of the metrics server
	Port int `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (PAGEFS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the PAGEFS_ prefix and underscores
	// Example: PAGEFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("PAGEFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Env overrides only reach Unmarshal for keys viper knows about
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/pagefs/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// envKeys are the scalar settings that can be overridden from the environment.
var envKeys = []string{
	"logging.level", "logging.format", "logging.output",
	"server.shutdown_timeout",
	"storage.type",
	"blobs.type", "blobs.compress",
	"lifecycle.chunk_size", "lifecycle.max_chunk_retries", "lifecycle.chunk_retry_backoff",
	"lifecycle.max_tombstone_attempts", "lifecycle.upload_bytes_per_second",
	"lifecycle.sync_lock_timeout", "lifecycle.cleanup_retries",
	"sweeper.enabled", "sweeper.interval", "sweeper.batch_size", "sweeper.run_timeout",
	"gc.enabled", "gc.interval", "gc.batch_size", "gc.min_age", "gc.dry_run",
	"metrics.enabled", "metrics.port",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "pagefs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "pagefs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
