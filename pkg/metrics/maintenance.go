package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SweeperMetrics provides observability for the maintenance sweeper.
type SweeperMetrics interface {
	// ObserveRun records one sweep cycle.
	ObserveRun(duration time.Duration)

	// RecordItem records the outcome of one batch item.
	//
	// Parameters:
	//   - sweep: "rename" or "purge"
	//   - outcome: "completed", "skipped", or "failed"
	RecordItem(sweep, outcome string)
}

// GCMetrics provides observability for the page garbage collector.
type GCMetrics interface {
	// ObserveRun records one collection with the blobs scanned and deleted
	// and the bytes reclaimed.
	ObserveRun(duration time.Duration, scanned, deleted int, bytes int64, err error)
}

type sweeperMetrics struct {
	runDuration prometheus.Histogram
	itemsTotal  *prometheus.CounterVec
}

// NewSweeperMetrics creates a Prometheus-backed SweeperMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled.
func NewSweeperMetrics() SweeperMetrics {
	if !IsEnabled() {
		return NoopSweeperMetrics{}
	}

	reg := GetRegistry()

	return &sweeperMetrics{
		runDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pagefs_sweeper_run_duration_seconds",
				Help:    "Duration of sweeper cycles in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 9),
			},
		),
		itemsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagefs_sweeper_items_total",
				Help: "Total number of sweeper batch items by sweep and outcome",
			},
			[]string{"sweep", "outcome"},
		),
	}
}

func (m *sweeperMetrics) ObserveRun(duration time.Duration) {
	m.runDuration.Observe(duration.Seconds())
}

func (m *sweeperMetrics) RecordItem(sweep, outcome string) {
	m.itemsTotal.WithLabelValues(sweep, outcome).Inc()
}

// NoopSweeperMetrics discards everything.
type NoopSweeperMetrics struct{}

func (NoopSweeperMetrics) ObserveRun(time.Duration)   {}
func (NoopSweeperMetrics) RecordItem(string, string) {}

type gcMetrics struct {
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	blobsScanned   prometheus.Counter
	blobsDeleted   prometheus.Counter
	bytesReclaimed prometheus.Counter
}

// NewGCMetrics creates a Prometheus-backed GCMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled.
func NewGCMetrics() GCMetrics {
	if !IsEnabled() {
		return NoopGCMetrics{}
	}

	reg := GetRegistry()

	return &gcMetrics{
		runsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagefs_gc_runs_total",
				Help: "Total number of page garbage collection runs by status",
			},
			[]string{"status"},
		),
		runDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pagefs_gc_run_duration_seconds",
				Help:    "Duration of page garbage collection runs in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 9),
			},
		),
		blobsScanned: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "pagefs_gc_blobs_scanned_total",
				Help: "Total number of page blobs scanned",
			},
		),
		blobsDeleted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "pagefs_gc_blobs_deleted_total",
				Help: "Total number of orphaned page blobs deleted",
			},
		),
		bytesReclaimed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "pagefs_gc_bytes_reclaimed_total",
				Help: "Total number of bytes reclaimed from orphaned page blobs",
			},
		),
	}
}

func (m *gcMetrics) ObserveRun(duration time.Duration, scanned, deleted int, bytes int64, err error) {
	m.runsTotal.WithLabelValues(status(err)).Inc()
	m.runDuration.Observe(duration.Seconds())
	m.blobsScanned.Add(float64(scanned))
	m.blobsDeleted.Add(float64(deleted))
	m.bytesReclaimed.Add(float64(bytes))
}

// NoopGCMetrics discards everything.
type NoopGCMetrics struct{}

func (NoopGCMetrics) ObserveRun(time.Duration, int, int, int64, error) {}
