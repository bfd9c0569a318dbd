package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LifecycleMetrics provides observability for the file lifecycle engine.
//
// This interface is optional - if the engine is built without one,
// operations proceed without metrics collection (zero overhead).
type LifecycleMetrics interface {
	// RecordOperation records a completed client operation.
	//
	// Parameters:
	//   - operation: Operation name (e.g., "put", "rename", "delete")
	//   - duration: Time taken to complete the operation
	//   - err: Error if operation failed, nil if successful
	RecordOperation(operation string, duration time.Duration, err error)

	// RecordChunkConflict records one storage conflict hit while storing a
	// chunk (each retry counts once).
	RecordChunkConflict()

	// RecordBytesIngested records bytes associated by the page writer.
	RecordBytesIngested(bytes int64)

	// RecordTombstone records a tombstone being written.
	//
	// Parameters:
	//   - kind: "delete" or "rename"
	RecordTombstone(kind string)
}

type lifecycleMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	chunkConflicts    prometheus.Counter
	bytesIngested     prometheus.Counter
	tombstonesTotal   *prometheus.CounterVec
}

// NewLifecycleMetrics creates a Prometheus-backed LifecycleMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled.
func NewLifecycleMetrics() LifecycleMetrics {
	if !IsEnabled() {
		return NoopLifecycleMetrics{}
	}

	reg := GetRegistry()

	return &lifecycleMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagefs_lifecycle_operations_total",
				Help: "Total number of lifecycle operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "pagefs_lifecycle_operation_duration_seconds",
				Help: "Duration of lifecycle operations in seconds",
				Buckets: []float64{
					0.001, // 1ms
					0.005, // 5ms
					0.025, // 25ms
					0.1,   // 100ms
					0.5,   // 500ms
					1.0,   // 1s
					5.0,   // 5s
					30.0,  // 30s
					120.0, // 2m
				},
			},
			[]string{"operation"},
		),
		chunkConflicts: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "pagefs_pagewriter_chunk_conflicts_total",
				Help: "Total number of storage conflicts retried while storing chunks",
			},
		),
		bytesIngested: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "pagefs_pagewriter_bytes_ingested_total",
				Help: "Total number of bytes stored by the page writer",
			},
		),
		tombstonesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagefs_lifecycle_tombstones_total",
				Help: "Total number of tombstones written by kind",
			},
			[]string{"kind"},
		),
	}
}

func (m *lifecycleMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(operation, status(err)).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *lifecycleMetrics) RecordChunkConflict() {
	m.chunkConflicts.Inc()
}

func (m *lifecycleMetrics) RecordBytesIngested(bytes int64) {
	m.bytesIngested.Add(float64(bytes))
}

func (m *lifecycleMetrics) RecordTombstone(kind string) {
	m.tombstonesTotal.WithLabelValues(kind).Inc()
}

// NoopLifecycleMetrics discards everything.
type NoopLifecycleMetrics struct{}

func (NoopLifecycleMetrics) RecordOperation(string, time.Duration, error) {}
func (NoopLifecycleMetrics) RecordChunkConflict()                         {}
func (NoopLifecycleMetrics) RecordBytesIngested(int64)                    {}
func (NoopLifecycleMetrics) RecordTombstone(string)                       {}
