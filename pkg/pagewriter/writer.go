// Package pagewriter ingests an upload stream into content-addressed pages.
//
// The stream is consumed in fixed-size chunks. Each chunk is stored and
// associated with the file at the next offset inside its own storage batch,
// so a large upload never holds a transaction open across network reads.
// A batch that loses an optimistic race is retried with a short constant
// backoff a bounded number of times.
package pagewriter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/marmos91/pagefs/internal/logger"
	"github.com/marmos91/pagefs/internal/ratelimiter"
	"github.com/marmos91/pagefs/pkg/hooks"
	"github.com/marmos91/pagefs/pkg/metrics"
	"github.com/marmos91/pagefs/pkg/storage"
)

const (
	// DefaultChunkSize is the page size used when none is configured.
	DefaultChunkSize = 64 * 1024

	// DefaultMaxAttempts bounds the batches tried per chunk.
	DefaultMaxAttempts = 50

	// DefaultRetryBackoff is the pause between conflicting attempts.
	DefaultRetryBackoff = 20 * time.Millisecond
)

// Metadata keys written when an upload is finalized.
const (
	ContentHashKey   = "Content-Hash"
	ContentLengthKey = "Content-Length"
)

var (
	// ErrRetriesExhausted indicates a chunk kept conflicting until the attempt
	// bound was reached.
	ErrRetriesExhausted = errors.New("chunk store retries exhausted")

	// ErrSuperseded indicates the record being written was replaced or
	// tombstoned by another operation mid-upload.
	ErrSuperseded = errors.New("upload target superseded")
)

// SizeMismatchError reports a stream whose length differs from the size
// declared when the upload started.
type SizeMismatchError struct {
	Path     string
	Declared int64
	Actual   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch on %s: declared %d bytes, received %d", e.Path, e.Declared, e.Actual)
}

// Options configures a Writer. Zero values select the defaults.
type Options struct {
	ChunkSize    int
	MaxAttempts  int
	RetryBackoff time.Duration

	// Hooks receives OnChunkStored for every associated page
	Hooks *hooks.Registry

	// Limiter throttles ingestion; nil means unthrottled
	Limiter *ratelimiter.RateLimiter

	Metrics metrics.LifecycleMetrics
}

func (o *Options) applyDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NoopLifecycleMetrics{}
	}
}

// Target identifies the record an upload writes into.
type Target struct {
	Path string

	// Version is the stamp PutRecord assigned; every chunk batch verifies the
	// record still carries it
	Version uint64

	// DeclaredSize is the announced length; nil for chunked uploads
	DeclaredSize *int64
}

// Result summarises a finished upload.
type Result struct {
	Size   int64
	Hash   string
	Chunks int

	// Record is the finalized record
	Record *storage.FileRecord
}

// Writer drives chunked ingestion.
//
// Thread Safety:
// A Writer is stateless between calls and may serve concurrent uploads.
type Writer struct {
	store storage.Store
	opts  Options
}

// New creates a writer over store.
func New(store storage.Store, opts Options) *Writer {
	opts.applyDefaults()
	return &Writer{store: store, opts: opts}
}

// Write consumes r into target and finalizes the record.
//
// On success the record's metadata carries the content hash and length and
// its upload is flagged complete. On failure the pages stored so far stay
// associated with the (incomplete) record; the caller is expected to delete it.
//
// Returns:
//   - *Result on success
//   - *SizeMismatchError if the stream length differs from DeclaredSize
//   - ErrRetriesExhausted (wrapped) if a chunk kept conflicting
//   - ErrSuperseded (wrapped) if the record was replaced mid-upload
//   - ctx.Err() if the context was cancelled
func (w *Writer) Write(ctx context.Context, target Target, r io.Reader) (*Result, error) {
	buf := make([]byte, w.opts.ChunkSize)
	sum := sha256.New()
	var offset int64
	chunks := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			if err := w.opts.Limiter.WaitN(ctx, n); err != nil {
				return nil, err
			}

			chunk := buf[:n]
			hash, err := w.storeChunk(ctx, target, chunk, offset)
			if err != nil {
				return nil, err
			}

			sum.Write(chunk)
			w.opts.Hooks.ChunkStored(target.Path, offset, n, hash)
			w.opts.Metrics.RecordBytesIngested(int64(n))
			offset += int64(n)
			chunks++
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("failed to read upload stream for %s: %w", target.Path, readErr)
		}
	}

	if target.DeclaredSize != nil && *target.DeclaredSize != offset {
		return nil, &SizeMismatchError{Path: target.Path, Declared: *target.DeclaredSize, Actual: offset}
	}

	rec, err := w.finalize(ctx, target, sum, offset)
	if err != nil {
		return nil, err
	}

	logger.Debug("PageWriter: stored %s (%d bytes, %d chunks)", target.Path, offset, chunks)

	return &Result{
		Size:   offset,
		Hash:   rec.Metadata[ContentHashKey],
		Chunks: chunks,
		Record: rec,
	}, nil
}

// storeChunk stores and associates one chunk, retrying conflicts.
func (w *Writer) storeChunk(ctx context.Context, target Target, chunk []byte, offset int64) (string, error) {
	var hash string
	attempts := 0

	backoff := retry.WithMaxRetries(uint64(w.opts.MaxAttempts-1), retry.NewConstant(w.opts.RetryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		err := w.store.Batch(ctx, func(tx storage.Txn) error {
			if err := checkTarget(tx, target); err != nil {
				return err
			}
			h, err := tx.InsertPage(chunk)
			if err != nil {
				return err
			}
			if err := tx.AssociatePage(target.Path, h, offset, len(chunk)); err != nil {
				return err
			}
			hash = h
			return nil
		})
		if storage.IsConflict(err) {
			w.opts.Metrics.RecordChunkConflict()
			logger.Debug("PageWriter: conflict storing %s@%d (attempt %d/%d)", target.Path, offset, attempts, w.opts.MaxAttempts)
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return hash, nil
	}
	if storage.IsConflict(err) {
		return "", fmt.Errorf("%w: %s at offset %d after %d attempts: %v", ErrRetriesExhausted, target.Path, offset, attempts, err)
	}
	return "", err
}

// finalize records the content hash and length and completes the upload.
func (w *Writer) finalize(ctx context.Context, target Target, sum hash.Hash, size int64) (*storage.FileRecord, error) {
	contentHash := hex.EncodeToString(sum.Sum(nil))
	var rec *storage.FileRecord

	attempts := 0
	backoff := retry.WithMaxRetries(uint64(w.opts.MaxAttempts-1), retry.NewConstant(w.opts.RetryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		err := w.store.Batch(ctx, func(tx storage.Txn) error {
			current, err := tx.ReadRecord(target.Path)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("%w: %s", ErrSuperseded, target.Path)
				}
				return err
			}
			if current.Version != target.Version {
				return fmt.Errorf("%w: %s", ErrSuperseded, target.Path)
			}

			md := current.Metadata.Clone()
			md[ContentHashKey] = contentHash
			md[ContentLengthKey] = strconv.FormatInt(size, 10)

			updated, err := tx.UpdateMetadata(target.Path, md, &target.Version)
			if err != nil {
				return err
			}
			if err := tx.CompleteUpload(target.Path); err != nil {
				return err
			}
			updated.UploadComplete = true
			rec = updated
			return nil
		})
		if storage.IsConflict(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if storage.IsConflict(err) {
		return nil, fmt.Errorf("%w: finalizing %s after %d attempts: %v", ErrRetriesExhausted, target.Path, attempts, err)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func checkTarget(tx storage.Txn, target Target) error {
	rec, err := tx.ReadRecord(target.Path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSuperseded, target.Path)
		}
		return err
	}
	if rec.Version != target.Version {
		return fmt.Errorf("%w: %s", ErrSuperseded, target.Path)
	}
	return nil
}
