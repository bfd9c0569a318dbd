package config

import (
	"github.com/marmos91/pagefs/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Lifecycle, Sweeper and GC are never nil; they are no-ops when disabled
	Lifecycle metrics.LifecycleMetrics
	Sweeper   metrics.SweeperMetrics
	GC        metrics.GCMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
//
// Must run before CreateBlobStore so the blob backend gets instrumented.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Lifecycle: metrics.NoopLifecycleMetrics{},
			Sweeper:   metrics.NoopSweeperMetrics{},
			GC:        metrics.NoopGCMetrics{},
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server:    metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port}),
		Lifecycle: metrics.NewLifecycleMetrics(),
		Sweeper:   metrics.NewSweeperMetrics(),
		GC:        metrics.NewGCMetrics(),
	}
}
