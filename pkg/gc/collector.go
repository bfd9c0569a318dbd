// Package gc provides garbage collection for orphaned page blobs.
//
// Page bytes live in a blob store while the page entries that reference them
// live in the transactional storage engine. A blob becomes orphaned when:
//   - The last file referencing its page was purged (entries are dropped at
//     zero references, blobs are left behind)
//   - A batch inserted a page and then rolled back
//   - The process crashed between writing a blob and committing its entry
//
// The collector reconciles the two: blobs with no page entry that are older
// than MinAge are deleted. MinAge protects pages whose batch has written the
// blob but not yet committed.
package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/pagefs/internal/logger"
	"github.com/marmos91/pagefs/pkg/blob"
	"github.com/marmos91/pagefs/pkg/metrics"
	"github.com/marmos91/pagefs/pkg/storage"
)

const (
	DefaultInterval             = 24 * time.Hour
	DefaultBatchSize            = 1000
	DefaultMinAge               = time.Hour
	DefaultRunTimeout           = 10 * time.Minute
	DefaultValueLogDiscardRatio = 0.5
)

// valueLogCollector is implemented by storage engines that can compact their
// own log after pages have been released (the Badger engine).
type valueLogCollector interface {
	RunValueLogGC(discardRatio float64) error
}

// collectionGuard is implemented by blob stores that fence writes against
// collector deletes (blob.Guarded).
type collectionGuard interface {
	BeginCollection() (end func())
	DeleteUntouched(ctx context.Context, hash string) (bool, error)
}

// Collector performs periodic garbage collection on page blobs.
//
// Thread Safety: Safe for concurrent use.
type Collector struct {
	store  storage.Store
	blobs  blob.Store
	config Config
	now    func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Config contains configuration for the garbage collector.
type Config struct {
	// Enabled controls whether the background worker runs (default: false)
	Enabled bool

	// Interval is how often to run garbage collection (default: 24h)
	Interval time.Duration

	// BatchSize is how many orphaned blobs are deleted between cancellation
	// checks (default: 1000)
	BatchSize int

	// MinAge is how old an unreferenced blob must be before it is deleted
	// (default: 1h)
	MinAge time.Duration

	// DryRun mode logs what would be deleted without actually deleting
	DryRun bool

	// RunTimeout bounds one background run (default: 10m)
	RunTimeout time.Duration

	// ValueLogDiscardRatio is passed to engines with a value log (default: 0.5)
	ValueLogDiscardRatio float64

	Metrics metrics.GCMetrics
}

// NewCollector creates a new garbage collector.
//
// The collector will be initialized but not started. Call Start() to begin
// background garbage collection.
//
// Parameters:
//   - store: Storage engine holding the page entries
//   - blobs: Blob store holding the page bytes
//   - config: Garbage collection configuration
//
// Returns:
//   - *Collector: Initialized collector (not started)
func NewCollector(store storage.Store, blobs blob.Store, config Config) *Collector {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.MinAge < 0 {
		config.MinAge = DefaultMinAge
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = DefaultRunTimeout
	}
	if config.ValueLogDiscardRatio <= 0 || config.ValueLogDiscardRatio >= 1 {
		config.ValueLogDiscardRatio = DefaultValueLogDiscardRatio
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoopGCMetrics{}
	}

	return &Collector{
		store:  store,
		blobs:  blobs,
		config: config,
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// SetClock replaces the clock used for MinAge. For tests.
func (c *Collector) SetClock(now func() time.Time) {
	c.now = now
}

// Start begins background garbage collection. Subsequent calls are no-ops.
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Garbage collection disabled")
		return
	}

	c.startOnce.Do(func() {
		logger.Info("Starting garbage collector: interval=%s batch_size=%d min_age=%s dry_run=%v",
			c.config.Interval, c.config.BatchSize, c.config.MinAge, c.config.DryRun)
		go c.worker()
	})
}

// Stop stops the garbage collector and waits for it to finish.
//
// Parameters:
//   - ctx: Context for timeout
//
// Returns:
//   - error: Returns error if context expires before shutdown completes
func (c *Collector) Stop(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	var err error
	c.stopOnce.Do(func() {
		logger.Info("Stopping garbage collector...")
		close(c.stopCh)

		// Start may never have been called
		c.startOnce.Do(func() { close(c.doneCh) })

		select {
		case <-c.doneCh:
			logger.Info("Garbage collector stopped successfully")
		case <-ctx.Done():
			logger.Warn("Garbage collector shutdown timeout")
			err = ctx.Err()
		}
	})
	return err
}

// RunNow triggers an immediate garbage collection run and blocks until it
// completes or ctx is cancelled.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	logger.Info("Running garbage collection (manual trigger)...")
	return c.collect(ctx)
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.config.RunTimeout)
			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("Garbage collection failed: %v", err)
			} else {
				logger.Info("Garbage collection completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

// collect performs a single garbage collection run:
//  1. List every blob and keep those older than MinAge
//  2. Read the referenced page hashes from the storage engine
//  3. Re-check each batch of orphans against the engine and delete them
//
// A page committed after step 2 is caught by the re-check in step 3. A page
// whose blob is rewritten after the re-check is caught by the blob guard,
// which keeps any blob written since the run began.
func (c *Collector) collect(ctx context.Context) (stats *Stats, err error) {
	stats = &Stats{StartTime: time.Now()}
	defer func() {
		stats.EndTime = time.Now()
		c.config.Metrics.ObserveRun(stats.Duration(), stats.ExistingCount, stats.DeletedCount, stats.ReclaimedBytes, err)
	}()

	guard, guarded := c.blobs.(collectionGuard)
	if guarded {
		end := guard.BeginCollection()
		defer end()
	} else {
		logger.Debug("GC: blob store is not guarded, relying on MinAge alone")
	}

	// Phase 1: blobs old enough to judge
	existing, err := c.blobs.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list blobs: %w", err)
	}
	stats.ExistingCount = len(existing)

	cutoff := c.now().Add(-c.config.MinAge)
	candidates := make([]blob.Info, 0, len(existing))
	for _, info := range existing {
		if info.ModTime.After(cutoff) {
			stats.YoungCount++
			continue
		}
		candidates = append(candidates, info)
	}

	// Phase 2: referenced pages
	referenced := make(map[string]struct{})
	err = c.store.View(ctx, func(tx storage.Txn) error {
		hashes, err := tx.ListPageHashes()
		if err != nil {
			return err
		}
		for _, h := range hashes {
			referenced[h] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("failed to read page entries: %w", err)
	}
	stats.ReferencedCount = len(referenced)

	orphaned := make([]blob.Info, 0)
	for _, info := range candidates {
		if _, ok := referenced[info.Hash]; !ok {
			orphaned = append(orphaned, info)
		}
	}
	stats.OrphanedCount = len(orphaned)

	if len(orphaned) == 0 {
		logger.Debug("GC: No orphaned blobs found")
		return stats, nil
	}

	if c.config.DryRun {
		logger.Info("GC: DRY RUN - Would delete %d blobs:", stats.OrphanedCount)
		for i, info := range orphaned {
			if i >= 10 {
				logger.Info("  ... and %d more", len(orphaned)-10)
				break
			}
			logger.Info("  - %s (%d bytes)", info.Hash, info.Size)
		}
		return stats, nil
	}

	// Phase 3: delete
	for i := 0; i < len(orphaned); i += c.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		end := min(i+c.config.BatchSize, len(orphaned))
		batch, err := c.stillOrphaned(ctx, orphaned[i:end])
		if err != nil {
			return stats, fmt.Errorf("failed to re-check page entries: %w", err)
		}
		stats.RevivedCount += end - i - len(batch)

		for _, info := range batch {
			deleted := true
			var err error
			if guarded {
				deleted, err = guard.DeleteUntouched(ctx, info.Hash)
			} else {
				err = c.blobs.Delete(ctx, info.Hash)
			}
			if err != nil {
				logger.Debug("GC: Failed to delete %s: %v", info.Hash, err)
				stats.FailedCount++
				continue
			}
			if !deleted {
				logger.Debug("GC: %s was rewritten during collection, keeping it", info.Hash)
				stats.RevivedCount++
				continue
			}
			stats.DeletedCount++
			stats.ReclaimedBytes += info.Size
		}
	}

	if vl, ok := c.store.(valueLogCollector); ok && stats.DeletedCount > 0 {
		if err := vl.RunValueLogGC(c.config.ValueLogDiscardRatio); err != nil {
			logger.Warn("GC: value log compaction failed: %v", err)
		}
	}

	logger.Info("GC: Completed - deleted %d blobs (%d bytes), %d failed",
		stats.DeletedCount, stats.ReclaimedBytes, stats.FailedCount)

	return stats, nil
}

// stillOrphaned returns the blobs of batch that still have no page entry.
func (c *Collector) stillOrphaned(ctx context.Context, batch []blob.Info) ([]blob.Info, error) {
	out := make([]blob.Info, 0, len(batch))
	err := c.store.View(ctx, func(tx storage.Txn) error {
		out = out[:0]
		for _, info := range batch {
			has, err := tx.HasPage(info.Hash)
			if err != nil {
				return err
			}
			if has {
				logger.Debug("GC: %s gained a reference during collection, keeping it", info.Hash)
				continue
			}
			out = append(out, info)
		}
		return nil
	})
	return out, err
}

// Stats contains statistics from a garbage collection run.
type Stats struct {
	StartTime       time.Time // When collection started
	EndTime         time.Time // When collection ended
	ExistingCount   int       // Blobs in the blob store
	YoungCount      int       // Blobs skipped for being newer than MinAge
	ReferencedCount int       // Page entries in the storage engine
	OrphanedCount   int       // Old blobs with no page entry
	RevivedCount    int       // Orphans referenced or rewritten before deletion
	DeletedCount    int       // Orphans deleted
	FailedCount     int       // Orphans that failed to delete
	ReclaimedBytes  int64     // Stored bytes freed
}

// Duration returns the total collection duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the collection.
func (s *Stats) Summary() string {
	return fmt.Sprintf("existing=%d young=%d referenced=%d orphaned=%d revived=%d deleted=%d failed=%d reclaimed=%dB duration=%s",
		s.ExistingCount, s.YoungCount, s.ReferencedCount, s.OrphanedCount, s.RevivedCount,
		s.DeletedCount, s.FailedCount, s.ReclaimedBytes, s.Duration())
}
