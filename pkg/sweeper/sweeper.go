// Package sweeper provides the periodic maintenance sweeper.
//
// Every cycle runs two independent sweeps over the durable operation log:
//   - Resume renames: rename operations whose move never ran (the process
//     died between persisting the operation and executing it) are executed.
//   - Purge deletes: delete-tombstones are physically removed once nothing is
//     touching their original path (no running purge, no sync lock, no upload
//     still writing).
//
// Both sweeps are bounded to BatchSize items per cycle, and every item's
// outcome is independent: one failure is logged and the batch continues.
// Purges that are skipped do not count against the bound; the sweep pages
// past them so a blocked tombstone cannot starve the ones after it.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/pagefs/internal/logger"
	"github.com/marmos91/pagefs/pkg/lifecycle"
	"github.com/marmos91/pagefs/pkg/metrics"
	"github.com/marmos91/pagefs/pkg/oplog"
	"github.com/marmos91/pagefs/pkg/tracker"
)

const (
	DefaultInterval   = 15 * time.Minute
	DefaultBatchSize  = 10
	DefaultRunTimeout = 5 * time.Minute
)

// Item outcomes reported to metrics.
const (
	outcomeCompleted = "completed"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
)

// Config contains configuration for the sweeper.
type Config struct {
	// Enabled controls whether the background worker runs (default: true)
	Enabled bool

	// Interval is how often a sweep cycle runs (default: 15m)
	Interval time.Duration

	// BatchSize bounds the items each sweep handles per cycle (default: 10)
	BatchSize int

	// RunTimeout bounds one background cycle (default: 5m)
	RunTimeout time.Duration

	Metrics metrics.SweeperMetrics
}

// Sweeper resumes and purges pending lifecycle operations.
//
// It shares the engine's in-flight tracker so work the engine is already
// doing in this process is never duplicated.
//
// Thread Safety: Safe for concurrent use.
type Sweeper struct {
	engine  *lifecycle.Engine
	tracker *tracker.Tracker
	config  Config

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}

	last atomic.Pointer[cycleResult]
}

// cycleResult is the outcome of the most recent cycle.
type cycleResult struct {
	at  time.Time
	err error
}

// New creates a sweeper over engine.
//
// The sweeper is initialized but not started. Call Start() to begin
// background sweeping.
func New(engine *lifecycle.Engine, config Config) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = DefaultRunTimeout
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoopSweeperMetrics{}
	}

	return &Sweeper{
		engine:  engine,
		tracker: engine.Tracker(),
		config:  config,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins background sweeping. Subsequent calls are no-ops.
func (s *Sweeper) Start() {
	if !s.config.Enabled {
		logger.Info("Sweeper disabled")
		return
	}

	s.startOnce.Do(func() {
		logger.Info("Starting sweeper: interval=%s batch_size=%d", s.config.Interval, s.config.BatchSize)
		s.last.CompareAndSwap(nil, &cycleResult{at: time.Now()})
		s.started.Store(true)
		go s.worker()
	})
}

// Stop stops the sweeper and waits for an in-progress cycle to finish.
//
// Parameters:
//   - ctx: Bounds the wait
//
// Returns:
//   - error: ctx.Err() if the worker did not exit in time
func (s *Sweeper) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if !s.started.Load() {
			return
		}

		logger.Info("Stopping sweeper...")
		select {
		case <-s.doneCh:
			logger.Info("Sweeper stopped")
		case <-ctx.Done():
			logger.Warn("Sweeper shutdown timeout")
			err = ctx.Err()
		}
	})
	return err
}

// RunNow runs one sweep cycle immediately and blocks until it completes.
func (s *Sweeper) RunNow(ctx context.Context) (*Stats, error) {
	return s.sweep(ctx)
}

func (s *Sweeper) worker() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.config.RunTimeout)
			stats, err := s.sweep(ctx)
			cancel()

			if err != nil {
				logger.Error("Sweeper: cycle failed: %v", err)
			} else if stats.Touched() {
				logger.Info("Sweeper: cycle completed: %s", stats.Summary())
			} else {
				logger.Debug("Sweeper: nothing to do")
			}

		case <-s.stopCh:
			return
		}
	}
}

// Health reports whether the background sweeper is keeping up: nil when it
// is not running, an error when the last cycle failed or no cycle finished
// within three intervals of the worker starting.
func (s *Sweeper) Health(now time.Time) error {
	if !s.started.Load() {
		return nil
	}

	last := s.last.Load()
	if last == nil {
		return nil
	}
	if last.err != nil {
		return fmt.Errorf("last cycle at %s failed: %w", last.at.Format(time.RFC3339), last.err)
	}
	if stale := 3 * s.config.Interval; now.Sub(last.at) > stale {
		return fmt.Errorf("no cycle completed since %s", last.at.Format(time.RFC3339))
	}
	return nil
}

func (s *Sweeper) sweep(ctx context.Context) (stats *Stats, err error) {
	stats = &Stats{StartTime: time.Now()}
	defer func() {
		stats.EndTime = time.Now()
		s.last.Store(&cycleResult{at: stats.EndTime, err: err})
		s.config.Metrics.ObserveRun(stats.Duration())
	}()

	renameErr := s.resumeRenames(ctx, stats)
	purgeErr := s.purgeDeletes(ctx, stats)

	if renameErr != nil {
		return stats, renameErr
	}
	return stats, purgeErr
}

// ============================================================================
// Resume renames
// ============================================================================

func (s *Sweeper) resumeRenames(ctx context.Context, stats *Stats) error {
	ops, err := s.engine.PendingRenames(ctx, s.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list rename operations: %w", err)
	}

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch s.resumeRename(ctx, op) {
		case outcomeCompleted:
			stats.RenamesCompleted++
		case outcomeSkipped:
			stats.RenamesSkipped++
		default:
			stats.RenamesFailed++
		}
	}
	return nil
}

func (s *Sweeper) resumeRename(ctx context.Context, op *oplog.RenameOperation) (outcome string) {
	defer func() { s.config.Metrics.RecordItem("rename", outcome) }()

	task, ok := s.tracker.Renames.TryStart(op.Source)
	if !ok {
		logger.Debug("Sweeper: rename of %s is running, skipping", op.Source)
		return outcomeSkipped
	}
	defer task.Done()

	if err := s.engine.ExecuteRenameOperation(ctx, op); err != nil {
		logger.Warn("Sweeper: failed to resume rename %s -> %s: %v", op.Source, op.Target, err)
		return outcomeFailed
	}

	logger.Info("Sweeper: resumed rename %s -> %s", op.Source, op.Target)
	return outcomeCompleted
}

// ============================================================================
// Purge deletes
// ============================================================================

func (s *Sweeper) purgeDeletes(ctx context.Context, stats *Stats) error {
	// One observation per original path per cycle; several tombstones of the
	// same path must not advance the upload verdict more than once
	quiet := make(map[string]bool)

	// Completed operations leave the log; skipped and failed ones stay and
	// are stepped over with skip
	skip, attempted := 0, 0
	for attempted < s.config.BatchSize {
		take := s.config.BatchSize - attempted
		ops, err := s.engine.PendingDeletes(ctx, skip, take)
		if err != nil {
			return fmt.Errorf("failed to list delete operations: %w", err)
		}

		for _, op := range ops {
			if err := ctx.Err(); err != nil {
				return err
			}

			switch s.purgeDelete(ctx, op, quiet) {
			case outcomeCompleted:
				stats.PurgesCompleted++
				attempted++
			case outcomeSkipped:
				stats.PurgesSkipped++
				skip++
			default:
				stats.PurgesFailed++
				attempted++
				skip++
			}
		}

		if len(ops) < take {
			return nil
		}
	}
	return nil
}

func (s *Sweeper) purgeDelete(ctx context.Context, op *oplog.DeleteOperation, quiet map[string]bool) (outcome string) {
	defer func() { s.config.Metrics.RecordItem("purge", outcome) }()

	task, ok := s.tracker.Deletes.TryStart(op.CurrentPath)
	if !ok {
		logger.Debug("Sweeper: purge of %s is running, skipping", op.CurrentPath)
		return outcomeSkipped
	}
	defer task.Done()

	locked, err := s.engine.IsSyncLocked(ctx, op.OriginalPath)
	if err != nil {
		logger.Warn("Sweeper: failed to check sync lock on %s: %v", op.OriginalPath, err)
		return outcomeFailed
	}
	if locked {
		logger.Debug("Sweeper: %s is being synchronized, keeping %s", op.OriginalPath, op.CurrentPath)
		return outcomeSkipped
	}

	ready, seen := quiet[op.OriginalPath]
	if !seen {
		ready, err = s.uploadQuiescent(ctx, op.OriginalPath)
		if err != nil {
			logger.Warn("Sweeper: failed to inspect %s: %v", op.OriginalPath, err)
			return outcomeFailed
		}
		quiet[op.OriginalPath] = ready
	}
	if !ready {
		return outcomeSkipped
	}

	if err := s.engine.PurgeTombstone(ctx, op); err != nil {
		logger.Warn("Sweeper: failed to purge %s: %v", op.CurrentPath, err)
		return outcomeFailed
	}

	logger.Debug("Sweeper: purged %s", op.CurrentPath)
	return outcomeCompleted
}

// uploadQuiescent reports whether no upload is still writing to path. An
// unfinished upload is observed across cycles: it must be seen twice with an
// unchanged size before its tombstones may go.
func (s *Sweeper) uploadQuiescent(ctx context.Context, path string) (bool, error) {
	rec, err := s.engine.Inspect(ctx, path)
	if lifecycle.IsCode(err, lifecycle.ErrNotFound) {
		s.tracker.Uploads.Forget(path)
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if rec.UploadComplete {
		s.tracker.Uploads.Forget(path)
		return true, nil
	}

	verdict := s.tracker.Uploads.Observe(path, rec.UploadedSize)
	if verdict != tracker.Proceed {
		logger.Debug("Sweeper: upload at %s observed (%s, %d bytes)", path, verdict, rec.UploadedSize)
		return false, nil
	}
	return true, nil
}

// ============================================================================
// Stats
// ============================================================================

// Stats contains statistics from one sweep cycle.
type Stats struct {
	StartTime time.Time
	EndTime   time.Time

	RenamesCompleted int
	RenamesSkipped   int
	RenamesFailed    int

	PurgesCompleted int
	PurgesSkipped   int
	PurgesFailed    int
}

// Duration returns the cycle duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Touched reports whether the cycle found any work.
func (s *Stats) Touched() bool {
	return s.RenamesCompleted+s.RenamesSkipped+s.RenamesFailed+
		s.PurgesCompleted+s.PurgesSkipped+s.PurgesFailed > 0
}

// Summary returns a human-readable summary of the cycle.
func (s *Stats) Summary() string {
	return fmt.Sprintf("renames=%d/%d/%d purges=%d/%d/%d (completed/skipped/failed) duration=%s",
		s.RenamesCompleted, s.RenamesSkipped, s.RenamesFailed,
		s.PurgesCompleted, s.PurgesSkipped, s.PurgesFailed, s.Duration())
}
