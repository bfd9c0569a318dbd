package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The registry is process-global, so every constructor is exercised once here.
func TestMetricsExposedOnServer(t *testing.T) {
	InitRegistry()
	require.True(t, IsEnabled())

	lm := NewLifecycleMetrics()
	lm.RecordOperation("put", 10*time.Millisecond, nil)
	lm.RecordOperation("delete", time.Millisecond, errors.New("boom"))
	lm.RecordChunkConflict()
	lm.RecordBytesIngested(1024)
	lm.RecordTombstone("delete")

	sm := NewSweeperMetrics()
	sm.ObserveRun(time.Second)
	sm.RecordItem("purge", "completed")

	gm := NewGCMetrics()
	gm.ObserveRun(time.Second, 10, 2, 4096, nil)

	bm := NewBlobMetrics("memory")
	require.NotNil(t, bm)
	bm.ObserveOperation("put", time.Millisecond, nil)
	bm.RecordBytes("in", 42)

	srv := NewServer(ServerConfig{})
	assert.Equal(t, ":9090", srv.Addr())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, name := range []string{
		`pagefs_lifecycle_operations_total{operation="put",status="success"} 1`,
		`pagefs_lifecycle_operations_total{operation="delete",status="error"} 1`,
		"pagefs_pagewriter_chunk_conflicts_total 1",
		"pagefs_pagewriter_bytes_ingested_total 1024",
		`pagefs_sweeper_items_total{outcome="completed",sweep="purge"} 1`,
		"pagefs_gc_blobs_deleted_total 2",
		`pagefs_blob_bytes_total{backend="memory",direction="in"} 42`,
	} {
		assert.True(t, strings.Contains(body, name), "missing %s", name)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthChecks(t *testing.T) {
	srv := NewServer(ServerConfig{Port: 9191, CheckTimeout: time.Second})

	var sweeperErr error
	srv.AddCheck("storage", func(ctx context.Context) error { return nil })
	srv.AddCheck("sweeper", func(ctx context.Context) error { return sweeperErr })

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "storage: ok\nsweeper: ok\n", rec.Body.String())

	sweeperErr = errors.New("last cycle failed")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "storage: ok")
	assert.Contains(t, rec.Body.String(), "sweeper: last cycle failed")
}

func TestHealthCheckTimeout(t *testing.T) {
	srv := NewServer(ServerConfig{CheckTimeout: 10 * time.Millisecond})
	srv.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "deadline exceeded")
}
