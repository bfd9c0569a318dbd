package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetWriter(&buf)
	SetFormat("text")
	SetLevel("WARN")
	t.Cleanup(func() {
		SetLevel("INFO")
		SetOutput("stdout")
	})

	Info("hidden %d", 1)
	Warn("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden 1")
	assert.Contains(t, out, "shown 2")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	SetWriter(&buf)
	SetFormat("json")
	SetLevel("DEBUG")
	t.Cleanup(func() {
		SetFormat("text")
		SetLevel("INFO")
		SetOutput("stdout")
	})

	Debug("Sweeper: purged %s", "/a.txt$deleting")

	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "Sweeper: purged /a.txt$deleting", entry["message"])
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}
