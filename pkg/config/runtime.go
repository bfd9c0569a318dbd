package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/pagefs/internal/logger"
	"github.com/marmos91/pagefs/internal/ratelimiter"
	"github.com/marmos91/pagefs/pkg/blob"
	"github.com/marmos91/pagefs/pkg/gc"
	"github.com/marmos91/pagefs/pkg/hooks"
	"github.com/marmos91/pagefs/pkg/lifecycle"
	"github.com/marmos91/pagefs/pkg/metrics"
	"github.com/marmos91/pagefs/pkg/notify"
	"github.com/marmos91/pagefs/pkg/storage"
	"github.com/marmos91/pagefs/pkg/sweeper"
	"github.com/marmos91/pagefs/pkg/synclock"
)

// Runtime is a fully wired PageFS node: storage, lifecycle engine and the
// background maintenance workers.
type Runtime struct {
	Config    *Config
	Blobs     blob.Store
	Store     storage.Store
	Engine    *lifecycle.Engine
	Bus       *notify.Bus
	Sweeper   *sweeper.Sweeper
	Collector *gc.Collector
	Metrics   *MetricsResult

	metricsCancel context.CancelFunc
	metricsDone   chan struct{}
}

// RuntimeOption customizes InitializeRuntime.
type RuntimeOption func(*runtimeOptions)

type runtimeOptions struct {
	hooks   []hooks.Hook
	indexer notify.Indexer
}

// WithHooks registers extension hooks with the engine, in order.
func WithHooks(h ...hooks.Hook) RuntimeOption {
	return func(o *runtimeOptions) { o.hooks = append(o.hooks, h...) }
}

// WithIndexer sets the search index the engine keeps up to date.
func WithIndexer(idx notify.Indexer) RuntimeOption {
	return func(o *runtimeOptions) { o.indexer = idx }
}

// InitializeRuntime creates every component described by cfg.
//
// This function orchestrates the complete initialization process:
//  1. Creates the metrics components (no-ops when disabled)
//  2. Creates the blob backend and the storage engine on top of it
//  3. Builds the lifecycle engine with its collaborators
//  4. Creates (but does not start) the sweeper and the page collector
//
// Parameters:
//   - ctx: Context for cancellation during initialization
//   - cfg: Complete configuration loaded from config file
//
// Returns:
//   - *Runtime: Components ready to use; call Start to run the workers
//   - error: If any component fails to initialize
func InitializeRuntime(ctx context.Context, cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}

	var o runtimeOptions
	for _, opt := range opts {
		opt(&o)
	}

	m := InitializeMetrics(cfg)

	blobs, err := CreateBlobStore(ctx, &cfg.Blobs)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}
	logger.Debug("Blob store created: type=%s compress=%v", cfg.Blobs.Type, cfg.Blobs.CompressEnabled())

	store, err := CreateStorage(ctx, &cfg.Storage, blobs)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}
	logger.Debug("Storage engine created: type=%s", cfg.Storage.Type)

	bus := notify.NewBus()
	engine := lifecycle.New(store, lifecycle.Options{
		ChunkSize:            cfg.Lifecycle.ChunkSize,
		MaxAttempts:          cfg.Lifecycle.MaxChunkRetries,
		RetryBackoff:         cfg.Lifecycle.ChunkRetryBackoff,
		MaxTombstoneAttempts: cfg.Lifecycle.MaxTombstoneAttempts,
		CleanupRetries:       cfg.Lifecycle.CleanupRetries,
		Limiter:              ratelimiter.New(cfg.Lifecycle.UploadBytesPerSecond, cfg.Lifecycle.ChunkSize),
		Hooks:                hooks.NewRegistry(o.hooks...),
		SyncLocks:            synclock.NewManager(cfg.Lifecycle.SyncLockTimeout),
		Publisher:            bus,
		Indexer:              o.indexer,
		Metrics:              m.Lifecycle,
	})

	sw := sweeper.New(engine, sweeper.Config{
		Enabled:    cfg.Sweeper.Enabled,
		Interval:   cfg.Sweeper.Interval,
		BatchSize:  cfg.Sweeper.BatchSize,
		RunTimeout: cfg.Sweeper.RunTimeout,
		Metrics:    m.Sweeper,
	})

	collector := gc.NewCollector(store, blobs, gc.Config{
		Enabled:   cfg.GC.Enabled,
		Interval:  cfg.GC.Interval,
		BatchSize: cfg.GC.BatchSize,
		MinAge:    cfg.GC.MinAge,
		DryRun:    cfg.GC.DryRun,
		Metrics:   m.GC,
	})

	rt := &Runtime{
		Config:    cfg,
		Blobs:     blobs,
		Store:     store,
		Engine:    engine,
		Bus:       bus,
		Sweeper:   sw,
		Collector: collector,
		Metrics:   m,
	}

	if m.Server != nil {
		for name, check := range rt.HealthChecks() {
			m.Server.AddCheck(name, check)
		}
	}
	return rt, nil
}

// HealthChecks returns the node's liveness checks, keyed by component:
//   - storage: a read transaction against the storage engine
//   - blobs: a lookup against the page blob backend
//   - sweeper: the outcome and age of the last maintenance cycle
func (r *Runtime) HealthChecks() map[string]metrics.HealthCheck {
	return map[string]metrics.HealthCheck{
		"storage": func(ctx context.Context) error {
			return r.Store.View(ctx, func(tx storage.Txn) error {
				_, err := tx.RecordCount()
				return err
			})
		},
		"blobs": func(ctx context.Context) error {
			_, err := r.Blobs.Exists(ctx, "healthz")
			return err
		},
		"sweeper": func(context.Context) error {
			return r.Sweeper.Health(time.Now())
		},
	}
}

// Start launches the background workers and, when enabled, the metrics server.
func (r *Runtime) Start() {
	r.Sweeper.Start()
	r.Collector.Start()

	if r.Metrics.Server != nil {
		ctx, cancel := context.WithCancel(context.Background())
		r.metricsCancel = cancel
		r.metricsDone = make(chan struct{})
		go func() {
			defer close(r.metricsDone)
			if err := r.Metrics.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}
}

// Stop stops the workers, then closes the storage engine. All shutdown
// errors are reported.
func (r *Runtime) Stop(ctx context.Context) error {
	var errs []error

	if err := r.Sweeper.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sweeper: %w", err))
	}
	if err := r.Collector.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("gc: %w", err))
	}

	if r.metricsCancel != nil {
		r.metricsCancel()
		select {
		case <-r.metricsDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("metrics server: %w", ctx.Err()))
		}
	}

	if err := r.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}

	return errors.Join(errs...)
}
