package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/marmos91/pagefs/internal/logger"
	"github.com/marmos91/pagefs/pkg/notify"
	"github.com/marmos91/pagefs/pkg/pagewriter"
	"github.com/marmos91/pagefs/pkg/storage"
)

// StreamFactory opens the byte stream of an upload. It is called once, after
// the record has been created.
type StreamFactory func() (io.ReadCloser, error)

// FromReader adapts r to a StreamFactory.
func FromReader(r io.Reader) StreamFactory {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(r), nil
	}
}

// FromBytes is a StreamFactory over an in-memory payload.
func FromBytes(data []byte) StreamFactory {
	return FromReader(bytes.NewReader(data))
}

// PutOptions carries the optional parts of an upload.
type PutOptions struct {
	// ExpectedVersion, if set, must match the live record being replaced
	ExpectedVersion *uint64

	// Metadata supplied by the client
	Metadata storage.Metadata

	// ContentLength is the declared size; nil for chunked uploads of unknown
	// length
	ContentLength *int64

	// PreserveTimestamps trusts client-supplied Creation-Date/Last-Modified
	PreserveTimestamps bool
}

// reservedKeys are stripped from client metadata; the engine owns them.
var reservedKeys = []string{MetaDeleteMarker, MetaRenameMarker, MetaContentHash, MetaContentLength}

func (e *Engine) prepareMetadata(opts PutOptions) storage.Metadata {
	md := opts.Metadata.Clone()
	for _, k := range reservedKeys {
		delete(md, k)
	}

	now := e.timestamp()
	if !opts.PreserveTimestamps || md[MetaCreationDate] == "" {
		md[MetaCreationDate] = now
	}
	if !opts.PreserveTimestamps || md[MetaLastModified] == "" {
		md[MetaLastModified] = now
	}

	if opts.ContentLength != nil {
		md[MetaContentLength] = strconv.FormatInt(*opts.ContentLength, 10)
	}
	return md
}

// Put uploads a file to path.
//
// Whatever currently holds path is tombstoned first, then a fresh record is
// created and the stream is ingested page by page. On any ingestion failure
// the partial record is deleted (best effort) and the failure returned.
//
// Parameters:
//   - ctx: Cancelling it aborts the upload and emits UploadCancelled
//   - p: Destination path (canonicalized)
//   - open: Opens the content stream
//   - opts: Expected version, metadata, declared length
//
// Returns:
//   - *storage.FileRecord: The finalized record
//   - error: *Error with ErrVetoed, ErrSyncLocked, ErrConflict,
//     ErrSizeMismatch, ErrRetriesExhausted, ErrCancelled or ErrInvalidPath
func (e *Engine) Put(ctx context.Context, p string, open StreamFactory, opts PutOptions) (rec *storage.FileRecord, err error) {
	start := time.Now()
	defer func() { e.opts.Metrics.RecordOperation("put", time.Since(start), err) }()

	path, err := canonicalWritable(p)
	if err != nil {
		return nil, err
	}
	if opts.ContentLength != nil && *opts.ContentLength < 0 {
		return nil, newError(ErrSizeMismatch, path, "negative content length %d", *opts.ContentLength)
	}

	md := e.prepareMetadata(opts)

	// Step 1: tombstone the current holder of the path and create the record
	var created *storage.FileRecord
	fx, err := e.batch(ctx, func(tx storage.Txn, fx *effects) error {
		if veto := e.opts.Hooks.CheckPut(path, md); veto != nil {
			return veto
		}
		if err := e.checkSyncLock(tx, path); err != nil {
			return err
		}

		existing, err := tx.ReadRecord(path)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			if opts.ExpectedVersion != nil {
				return conflictError(path, *opts.ExpectedVersion, 0)
			}
		case err != nil:
			return err
		default:
			if opts.ExpectedVersion != nil {
				actual := existing.Version
				if IsTombstone(existing) {
					actual = 0
				}
				if actual != *opts.ExpectedVersion {
					return conflictError(path, *opts.ExpectedVersion, actual)
				}
			}
			if err := e.indicateFileToDelete(tx, fx, path, nil); err != nil {
				return err
			}
		}

		created, err = tx.PutRecord(path, opts.ContentLength, md)
		return err
	})
	if err != nil {
		return nil, e.toError(err, path)
	}
	e.apply(fx)

	// Step 2: ingest the stream outside any transaction
	stream, err := open()
	if err != nil {
		e.abandonUpload(ctx, path, created.Version)
		return nil, fmt.Errorf("failed to open upload stream for %s: %w", path, err)
	}
	defer func() { _ = stream.Close() }()

	res, err := e.writer.Write(ctx, pagewriter.Target{
		Path:         path,
		Version:      created.Version,
		DeclaredSize: opts.ContentLength,
	}, stream)
	if err != nil {
		if ctx.Err() != nil {
			e.publish(notify.Event{Kind: notify.UploadCancelled, Path: path, Version: created.Version})
		}
		logger.Warn("Lifecycle: upload of %s failed: %v", path, err)
		e.abandonUpload(ctx, path, created.Version)
		return nil, e.toError(err, path)
	}

	// Step 3: announce the finished file
	final := res.Record
	e.opts.Hooks.AfterPut(path, final.Metadata, final.Version)
	if err := e.opts.Indexer.Index(path, final.Metadata, final.Version); err != nil {
		logger.Warn("Lifecycle: failed to index %s: %v", path, err)
	}
	e.publish(notify.Event{Kind: notify.Added, Path: path, Version: final.Version})

	logger.Info("Lifecycle: stored %s (%d bytes, version %d)", path, res.Size, final.Version)
	return final, nil
}

// abandonUpload deletes a failed upload's record, as long as it is still the
// record this upload created. It runs detached from ctx so a cancelled
// client still gets its partial file cleaned up.
func (e *Engine) abandonUpload(ctx context.Context, path string, version uint64) {
	cleanupCtx := context.WithoutCancel(ctx)

	backoff := retry.WithMaxRetries(uint64(e.opts.CleanupRetries-1), retry.NewConstant(e.opts.RetryBackoff))
	err := retry.Do(cleanupCtx, backoff, func(ctx context.Context) error {
		fx, err := e.batch(ctx, func(tx storage.Txn, fx *effects) error {
			return e.indicateFileToDelete(tx, fx, path, &version)
		})
		switch {
		case err == nil:
			e.apply(fx)
			return nil
		case IsCode(err, ErrConflict), IsCode(err, ErrNotFound):
			// Someone else's record now holds the path
			logger.Debug("Lifecycle: partial upload %s already superseded", path)
			return nil
		default:
			return retry.RetryableError(err)
		}
	})
	if err != nil {
		logger.Error("Lifecycle: failed to clean up partial upload %s: %v", path, err)
	}
}
