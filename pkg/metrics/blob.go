package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/pagefs/pkg/blob"
)

// blobMetrics is the Prometheus implementation of blob.Metrics.
//
// This implementation collects metrics about page blob operations including:
//   - Operation counts (put, get, delete, ...)
//   - Operation latency
//   - Bytes transferred
type blobMetrics struct {
	backend           string
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
}

// NewBlobMetrics creates a Prometheus-backed blob.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// makes blob.NewInstrumented return the store unchanged.
//
// Parameters:
//   - backend: Blob backend name ("memory", "filesystem", "s3"), used as a label
func NewBlobMetrics(backend string) blob.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &blobMetrics{
		backend: backend,
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagefs_blob_operations_total",
				Help: "Total number of page blob operations by backend, operation and status",
			},
			[]string{"backend", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "pagefs_blob_operation_duration_seconds",
				Help: "Duration of page blob operations in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.001,  // 1ms
					0.01,   // 10ms
					0.025,  // 25ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
				},
			},
			[]string{"backend", "operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagefs_blob_bytes_total",
				Help: "Total bytes transferred to and from the page blob backend",
			},
			[]string{"backend", "direction"},
		),
	}
}

func (m *blobMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(m.backend, operation, status(err)).Inc()
	m.operationDuration.WithLabelValues(m.backend, operation).Observe(duration.Seconds())
}

func (m *blobMetrics) RecordBytes(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(m.backend, direction).Add(float64(bytes))
}
