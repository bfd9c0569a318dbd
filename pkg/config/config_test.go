package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultConfig(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Write minimal config
	configContent := `
logging:
  level: "INFO"

storage:
  type: "memory"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify defaults were applied
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Blobs.Type != "memory" {
		t.Errorf("Expected default blobs type 'memory', got %q", cfg.Blobs.Type)
	}
	if !cfg.Sweeper.Enabled {
		t.Error("Expected sweeper enabled by default")
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// A non-existent explicit path keeps the user's own config out of the test
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("Expected default storage type 'memory', got %q", cfg.Storage.Type)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	configContent := `
logging:
  level: INFO
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[logging]
level = "WARN"
format = "json"

[lifecycle]
chunk_size = 65536
chunk_retry_backoff = "250ms"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Lifecycle.ChunkSize != 65536 {
		t.Errorf("Expected chunk_size 65536, got %d", cfg.Lifecycle.ChunkSize)
	}
	if cfg.Lifecycle.ChunkRetryBackoff != 250*time.Millisecond {
		t.Errorf("Expected chunk_retry_backoff 250ms, got %v", cfg.Lifecycle.ChunkRetryBackoff)
	}
}

func TestLoad_StoreSpecificSections(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
storage:
  type: badger
  badger:
    db_path: ` + filepath.Join(tmpDir, "db") + `
    sync_writes: false

blobs:
  type: filesystem
  compress: false
  filesystem:
    path: ` + filepath.Join(tmpDir, "pages") + `
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	opts, err := decodeBadgerOptions(cfg.Storage.Badger)
	if err != nil {
		t.Fatalf("Failed to decode badger options: %v", err)
	}
	if opts.DBPath != filepath.Join(tmpDir, "db") {
		t.Errorf("Expected db_path under temp dir, got %q", opts.DBPath)
	}
	if opts.SyncWrites == nil || *opts.SyncWrites {
		t.Error("Expected sync_writes explicitly false")
	}
	if cfg.Blobs.CompressEnabled() {
		t.Error("Expected compression disabled")
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("Expected default storage type 'memory', got %q", cfg.Storage.Type)
	}
	if !cfg.Blobs.CompressEnabled() {
		t.Error("Expected compression enabled by default")
	}
	if cfg.GC.Enabled {
		t.Error("Expected GC disabled by default")
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
}

func TestConfigExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if ConfigExists() {
		t.Fatal("Expected no config in a fresh config dir")
	}

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	if !ConfigExists() {
		t.Error("Expected config to exist after InitConfig")
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	dir := GetConfigDir()

	if filepath.Base(dir) != "pagefs" {
		t.Errorf("Expected directory name 'pagefs', got %q", filepath.Base(dir))
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("PAGEFS_LOGGING_LEVEL", "ERROR")
	t.Setenv("PAGEFS_LIFECYCLE_CHUNK_SIZE", "4096")
	t.Setenv("PAGEFS_SWEEPER_INTERVAL", "1m")
	t.Setenv("PAGEFS_SWEEPER_RUN_TIMEOUT", "30s")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

lifecycle:
  chunk_size: 1048576
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Environment variables override the config file
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Lifecycle.ChunkSize != 4096 {
		t.Errorf("Expected chunk_size 4096 from env var, got %d", cfg.Lifecycle.ChunkSize)
	}
	if cfg.Sweeper.Interval != time.Minute {
		t.Errorf("Expected sweeper interval 1m from env var, got %v", cfg.Sweeper.Interval)
	}
}
