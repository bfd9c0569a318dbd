// Package lifecycle is the file lifecycle orchestrator.
//
// It turns Put, Rename and Delete into tombstone-aware state transitions over
// the transactional storage engine:
//
//   - Put tombstones whatever holds the path, creates a fresh record, then
//     streams the content in through the page writer.
//   - Rename persists a rename operation record, then moves the record and
//     leaves a rename-tombstone at the old path in a second batch. If the
//     process dies between the two, the sweeper finishes the move.
//   - Delete renames the record to a reserved tombstone name and persists a
//     delete operation record. The sweeper purges the tombstone later, once
//     nothing is writing to the original path.
//
// Notifications (events, index updates, after-hooks) are only emitted once
// the batch that caused them has committed.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/marmos91/pagefs/internal/logger"
	"github.com/marmos91/pagefs/internal/ratelimiter"
	"github.com/marmos91/pagefs/pkg/hooks"
	"github.com/marmos91/pagefs/pkg/metrics"
	"github.com/marmos91/pagefs/pkg/notify"
	"github.com/marmos91/pagefs/pkg/pagewriter"
	"github.com/marmos91/pagefs/pkg/storage"
	"github.com/marmos91/pagefs/pkg/synclock"
	"github.com/marmos91/pagefs/pkg/tracker"
)

const (
	// DefaultMaxTombstoneAttempts bounds the tombstone names tried per delete.
	DefaultMaxTombstoneAttempts = 128

	// DefaultCleanupRetries bounds the deletes attempted after a failed upload.
	DefaultCleanupRetries = 3
)

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	// ChunkSize is the page size used by uploads
	ChunkSize int

	// MaxAttempts bounds every retried storage batch (chunk stores included)
	MaxAttempts int

	// RetryBackoff is the constant pause between conflicting attempts
	RetryBackoff time.Duration

	MaxTombstoneAttempts int
	CleanupRetries       int

	// Limiter throttles upload ingestion; nil means unthrottled
	Limiter *ratelimiter.RateLimiter

	Hooks     *hooks.Registry
	SyncLocks *synclock.Manager
	Publisher notify.Publisher
	Indexer   notify.Indexer
	Tracker   *tracker.Tracker
	Metrics   metrics.LifecycleMetrics

	// Now is the clock used for timestamps
	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = pagewriter.DefaultChunkSize
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = pagewriter.DefaultMaxAttempts
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = pagewriter.DefaultRetryBackoff
	}
	if o.MaxTombstoneAttempts <= 0 {
		o.MaxTombstoneAttempts = DefaultMaxTombstoneAttempts
	}
	if o.CleanupRetries <= 0 {
		o.CleanupRetries = DefaultCleanupRetries
	}
	if o.SyncLocks == nil {
		o.SyncLocks = synclock.NewManager(0)
	}
	if o.Publisher == nil {
		o.Publisher = notify.NoopPublisher{}
	}
	if o.Indexer == nil {
		o.Indexer = notify.NoopIndexer{}
	}
	if o.Tracker == nil {
		o.Tracker = tracker.New()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NoopLifecycleMetrics{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Engine orchestrates file lifecycles over a storage engine.
//
// Thread Safety:
// All methods are safe for concurrent use. Storage batches are the only
// consistency boundary; the tracker only suppresses duplicate work.
type Engine struct {
	store  storage.Store
	writer *pagewriter.Writer
	opts   Options
}

// New creates an engine over store.
func New(store storage.Store, opts Options) *Engine {
	opts.applyDefaults()
	return &Engine{
		store: store,
		writer: pagewriter.New(store, pagewriter.Options{
			ChunkSize:    opts.ChunkSize,
			MaxAttempts:  opts.MaxAttempts,
			RetryBackoff: opts.RetryBackoff,
			Hooks:        opts.Hooks,
			Limiter:      opts.Limiter,
			Metrics:      opts.Metrics,
		}),
		opts: opts,
	}
}

// Store returns the underlying storage engine.
func (e *Engine) Store() storage.Store {
	return e.store
}

// Tracker returns the engine's in-flight work tracker.
func (e *Engine) Tracker() *tracker.Tracker {
	return e.opts.Tracker
}

// SyncLocks returns the engine's synchronization lock manager.
func (e *Engine) SyncLocks() *synclock.Manager {
	return e.opts.SyncLocks
}

func (e *Engine) timestamp() string {
	return e.opts.Now().UTC().Format(time.RFC3339Nano)
}

// ============================================================================
// Batches and deferred effects
// ============================================================================

type indexEntry struct {
	path     string
	metadata storage.Metadata
	version  uint64
}

// effects collects what a batch wants to announce once it has committed.
type effects struct {
	events      []notify.Event
	indexed     []indexEntry
	unindexed   []string
	afterDelete []string
	tombstones  []string
}

func (fx *effects) event(kind notify.Kind, path, newPath string, version uint64) {
	fx.events = append(fx.events, notify.Event{Kind: kind, Path: path, NewPath: newPath, Version: version})
}

// batch runs fn in a storage batch, retrying lost optimistic races. The
// effects of the committed attempt are returned.
func (e *Engine) batch(ctx context.Context, fn func(tx storage.Txn, fx *effects) error) (*effects, error) {
	var fx *effects

	backoff := retry.WithMaxRetries(uint64(e.opts.MaxAttempts-1), retry.NewConstant(e.opts.RetryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		fx = &effects{}
		err := e.store.Batch(ctx, func(tx storage.Txn) error {
			return fn(tx, fx)
		})
		if storage.IsConflict(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return fx, nil
}

// apply emits the effects of a committed batch.
func (e *Engine) apply(fx *effects) {
	if fx == nil {
		return
	}
	for _, p := range fx.unindexed {
		if err := e.opts.Indexer.Remove(p); err != nil {
			logger.Warn("Lifecycle: failed to remove %s from index: %v", p, err)
		}
	}
	for _, entry := range fx.indexed {
		if err := e.opts.Indexer.Index(entry.path, entry.metadata, entry.version); err != nil {
			logger.Warn("Lifecycle: failed to index %s: %v", entry.path, err)
		}
	}
	for _, p := range fx.afterDelete {
		e.opts.Hooks.AfterDelete(p)
	}
	for _, kind := range fx.tombstones {
		e.opts.Metrics.RecordTombstone(kind)
	}
	for _, ev := range fx.events {
		e.publish(ev)
	}
}

func (e *Engine) publish(ev notify.Event) {
	if ev.At.IsZero() {
		ev.At = e.opts.Now()
	}
	e.opts.Publisher.Publish(ev)
}

func (e *Engine) checkSyncLock(tx storage.Txn, path string) error {
	locked, err := e.opts.SyncLocks.Check(tx, path)
	if err != nil {
		return err
	}
	if locked {
		return newError(ErrSyncLocked, path, "file is being synchronized")
	}
	return nil
}

// IsSyncLocked reports whether path currently holds a synchronization lock.
func (e *Engine) IsSyncLocked(ctx context.Context, path string) (bool, error) {
	var locked bool
	err := e.store.View(ctx, func(tx storage.Txn) error {
		var err error
		locked, err = e.opts.SyncLocks.IsLocked(tx, path)
		return err
	})
	return locked, err
}

// toError maps lower-layer failures onto the lifecycle taxonomy.
func (e *Engine) toError(err error, path string) error {
	if err == nil {
		return nil
	}

	var le *Error
	if errors.As(err, &le) {
		return le
	}

	var veto *hooks.Veto
	if errors.As(err, &veto) {
		return &Error{Code: ErrVetoed, Path: path, Message: veto.Error(), Hook: veto.Hook, Reason: veto.Reason}
	}

	var mismatch *storage.VersionMismatchError
	if errors.As(err, &mismatch) {
		return conflictError(mismatch.Path, mismatch.Expected, mismatch.Actual)
	}

	var sizeErr *pagewriter.SizeMismatchError
	if errors.As(err, &sizeErr) {
		return &Error{Code: ErrSizeMismatch, Path: path, Message: sizeErr.Error(), Err: err}
	}

	switch {
	case errors.Is(err, pagewriter.ErrRetriesExhausted):
		return &Error{Code: ErrRetriesExhausted, Path: path, Message: "chunk store kept conflicting", Err: err}
	case errors.Is(err, pagewriter.ErrSuperseded):
		return &Error{Code: ErrConflict, Path: path, Message: "file was replaced during upload", Err: err}
	case storage.IsConflict(err):
		return &Error{Code: ErrConflict, Path: path, Message: "storage conflict", Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: ErrCancelled, Path: path, Message: "operation cancelled", Err: err}
	}

	return fmt.Errorf("%s: %w", path, err)
}
