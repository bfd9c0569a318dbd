package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig writes a badger + filesystem configuration under a temp dir.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
logging:
  level: ERROR
storage:
  type: badger
  badger:
    db_path: ` + filepath.Join(dir, "db") + `
blobs:
  type: filesystem
  filesystem:
    path: ` + filepath.Join(dir, "pages") + `
lifecycle:
  chunk_size: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// run executes the CLI with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFileCommands(t *testing.T) {
	cfg := writeTestConfig(t)
	src := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(src, []byte("quarterly numbers"), 0644))

	out, err := run(t, "-c", cfg, "put", src, "/Docs/Report.txt", "--meta", "owner=alice")
	require.NoError(t, err)
	assert.Contains(t, out, "/docs/report.txt version=")

	out, err = run(t, "-c", cfg, "get", "/docs/report.txt")
	require.NoError(t, err)
	assert.Equal(t, "quarterly numbers", out)

	out, err = run(t, "-c", cfg, "stat", "/docs/report.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "owner: alice")

	_, err = run(t, "-c", cfg, "rename", "/docs/report.txt", "/archive/report.txt")
	require.NoError(t, err)

	out, err = run(t, "-c", cfg, "ls", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "/archive/report.txt")
	assert.Contains(t, out, "moved to /archive/report.txt")

	_, err = run(t, "-c", cfg, "delete", "/archive/report.txt")
	require.NoError(t, err)

	_, err = run(t, "-c", cfg, "get", "/archive/report.txt")
	assert.Error(t, err)

	out, err = run(t, "-c", cfg, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "purges=1/0/0")

	out, err = run(t, "-c", cfg, "gc")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted=")

	// The delete tombstone is gone; the rename tombstone stays until the
	// source path is reused
	out, err = run(t, "-c", cfg, "ls", "--all")
	require.NoError(t, err)
	assert.NotContains(t, out, "deleted")
	assert.Contains(t, out, "moved to /archive/report.txt")
}

func TestPutVersionConflict(t *testing.T) {
	cfg := writeTestConfig(t)
	src := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("v1"), 0644))

	_, err := run(t, "-c", cfg, "put", src, "/a.txt")
	require.NoError(t, err)

	_, err = run(t, "-c", cfg, "put", src, "/a.txt", "--if-version", "999999")
	assert.Error(t, err)
}

func TestPutRejectsBadMetadata(t *testing.T) {
	cfg := writeTestConfig(t)
	src := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("v1"), 0644))

	_, err := run(t, "-c", cfg, "put", src, "/a.txt", "--meta", "novalue")
	assert.Error(t, err)
}

func TestConfigInitAndSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pagefs.yaml")

	out, err := run(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	_, err = run(t, "config", "init", path)
	assert.Error(t, err)

	_, err = run(t, "config", "init", path, "--force")
	require.NoError(t, err)

	schemaPath := filepath.Join(dir, "schema.json")
	_, err = run(t, "config", "schema", schemaPath)
	require.NoError(t, err)

	data, err := os.ReadFile(schemaPath)
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, "PageFS Configuration", schema["title"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "lifecycle")
	assert.Contains(t, props, "sweeper")
}
