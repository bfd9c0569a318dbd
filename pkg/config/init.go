package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# PageFS Configuration File
#
# Every setting can be overridden from the environment with the PAGEFS_
# prefix, e.g. PAGEFS_LOGGING_LEVEL=DEBUG or PAGEFS_STORAGE_TYPE=badger.
# Durations use Go syntax (30s, 15m, 24h).

`

// sectionComments documents each top-level section of the generated file.
var sectionComments = map[string]string{
	"logging": "Logging configuration",
	"server":  "Server-wide settings",
	"storage": "Storage engine (memory, badger)\n" +
		"badger keys: db_path, block_cache_mb, index_cache_mb, sync_writes",
	"blobs": "Page blob backend (memory, filesystem, s3)\n" +
		"s3 keys: region, bucket, key_prefix, endpoint, access_key_id, secret_access_key, max_retries",
	"lifecycle": "Upload chunking, retries, tombstones and throttling",
	"sweeper":   "Resumes interrupted renames and purges deleted files",
	"gc":        "Deletes page blobs no longer referenced by any file",
	"metrics":   "Prometheus metrics endpoint",
}

// InitConfig writes a default configuration file to the default location.
//
// Parameters:
//   - force: Overwrite an existing file
//
// Returns:
//   - string: Path of the written file
//   - error: If the file exists (without force) or cannot be written
func InitConfig(force bool) (string, error) {
	configPath := GetDefaultConfigPath()
	if err := InitConfigToPath(configPath, force); err != nil {
		return "", err
	}
	return configPath, nil
}

// InitConfigToPath writes a default configuration file to configPath,
// creating parent directories as needed.
func InitConfigToPath(configPath string, force bool) error {
	if !force {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
		}
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateYAMLWithComments renders cfg as YAML with a file header and a
// comment above every top-level section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var root yaml.Node
	if err := root.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	mapping := &root
	if mapping.Kind == yaml.DocumentNode && len(mapping.Content) > 0 {
		mapping = mapping.Content[0]
	}
	if mapping.Kind != yaml.MappingNode {
		return "", fmt.Errorf("unexpected YAML node kind %d for config", mapping.Kind)
	}

	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key := mapping.Content[i]
		if comment, ok := sectionComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(mapping); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	return buf.String(), nil
}
