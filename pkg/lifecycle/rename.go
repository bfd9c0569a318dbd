package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/pagefs/internal/logger"
	"github.com/marmos91/pagefs/pkg/notify"
	"github.com/marmos91/pagefs/pkg/oplog"
	"github.com/marmos91/pagefs/pkg/storage"
)

// Rename moves the file at p to np.
//
// The rename is persisted as an operation record in its own batch before any
// data moves; ExecuteRenameOperation then performs the move. A crash in
// between leaves the record for the sweeper to complete.
//
// A rename-tombstone at the destination is overwritten; a live file there
// fails the rename with ErrDestinationExists.
func (e *Engine) Rename(ctx context.Context, p, np string, expectedVersion *uint64) (err error) {
	start := time.Now()
	defer func() { e.opts.Metrics.RecordOperation("rename", time.Since(start), err) }()

	path, err := canonicalWritable(p)
	if err != nil {
		return err
	}
	newPath, err := canonicalWritable(np)
	if err != nil {
		return err
	}
	if path == newPath {
		return newError(ErrInvalidPath, path, "source and destination are the same")
	}

	if veto := e.opts.Hooks.CheckRename(path, newPath); veto != nil {
		return e.toError(veto, path)
	}

	task, ok := e.opts.Tracker.Renames.TryStart(path)
	if !ok {
		return newError(ErrConflict, path, "a rename of this file is already running")
	}
	defer task.Done()

	// Step 1: validate and persist the operation record
	var op *oplog.RenameOperation
	fx, err := e.batch(ctx, func(tx storage.Txn, fx *effects) error {
		if err := e.checkSyncLock(tx, path); err != nil {
			return err
		}

		rec, err := tx.ReadRecord(path)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && IsTombstone(rec)) {
			return newError(ErrNotFound, path, "no file to rename")
		}
		if err != nil {
			return err
		}
		if !rec.UploadComplete {
			return newError(ErrConflict, path, "file is still being uploaded")
		}

		dst, err := tx.ReadRecord(newPath)
		if err == nil && !IsTombstone(dst) {
			return &Error{Code: ErrDestinationExists, Path: path, NewPath: newPath, Message: "destination already exists"}
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		if expectedVersion != nil && *expectedVersion != rec.Version {
			return conflictError(path, *expectedVersion, rec.Version)
		}

		// A pending rename recorded for an older version of the file can never
		// run and is replaced
		if pending, err := oplog.GetRename(tx, path); err == nil {
			if pending.SourceVersion == rec.Version {
				return newError(ErrConflict, path, "an earlier rename of this file is pending recovery")
			}
			logger.Debug("Lifecycle: replacing stale rename operation %s of %s", pending.ID, path)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		md := rec.Metadata.Clone()
		md[MetaLastModified] = e.timestamp()

		op = oplog.NewRenameOperation(path, newPath, rec.Version, md)
		if err := oplog.PutRename(tx, op); err != nil {
			return err
		}
		fx.event(notify.ConfigSet, oplog.RenameKey(path), "", 0)
		return nil
	})
	if err != nil {
		return e.toError(err, path)
	}
	e.apply(fx)

	// Step 2: move
	return e.ExecuteRenameOperation(ctx, op)
}

// ExecuteRenameOperation performs the physical move described by op: any
// tombstone at the target is replaced, the record and its pages move to the
// target under the operation's metadata, a rename-tombstone is written at the
// source, and the operation record is removed. All of it commits in one
// batch, so running it again after success is a no-op.
//
// The move only applies to the record version the rename was accepted for.
// If the file at the source was replaced since, the operation is dropped and
// ErrConflict is returned.
func (e *Engine) ExecuteRenameOperation(ctx context.Context, op *oplog.RenameOperation) error {
	recorded, movable, err := e.pendingRename(ctx, op)
	if err != nil {
		return e.toError(err, op.Source)
	}
	if !recorded {
		return nil
	}
	if movable {
		e.publish(notify.Event{Kind: notify.Renaming, Path: op.Source, NewPath: op.Target})
	}

	var (
		moved   *storage.FileRecord
		destErr error
	)
	fx, err := e.batch(ctx, func(tx storage.Txn, fx *effects) error {
		moved, destErr = nil, nil

		stored, err := oplog.GetRename(tx, op.Source)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if stored.ID != op.ID {
			return nil
		}

		dropOperation := func() error {
			if err := oplog.DeleteRename(tx, op.Source); err != nil {
				return err
			}
			fx.event(notify.ConfigDeleted, oplog.RenameKey(op.Source), "", 0)
			return nil
		}

		src, err := tx.ReadRecord(op.Source)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && IsTombstone(src)) {
			logger.Warn("Lifecycle: rename source %s vanished, dropping operation %s", op.Source, op.ID)
			destErr = newError(ErrNotFound, op.Source, "rename source no longer exists")
			return dropOperation()
		}
		if err != nil {
			return err
		}
		if src.Version != op.SourceVersion {
			logger.Warn("Lifecycle: %s was replaced since rename %s was recorded (version %d, now %d), dropping it",
				op.Source, op.ID, op.SourceVersion, src.Version)
			destErr = conflictError(op.Source, op.SourceVersion, src.Version)
			return dropOperation()
		}

		dst, err := tx.ReadRecord(op.Target)
		if err == nil && !IsTombstone(dst) {
			logger.Warn("Lifecycle: rename target %s was taken, dropping operation %s", op.Target, op.ID)
			destErr = &Error{Code: ErrDestinationExists, Path: op.Source, NewPath: op.Target, Message: "destination already exists"}
			return dropOperation()
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		if err := tx.RenamePath(op.Source, op.Target, true); err != nil {
			return err
		}
		updated, err := tx.UpdateMetadata(op.Target, op.Metadata, nil)
		if err != nil {
			return err
		}

		now := e.timestamp()
		zero := int64(0)
		tombstone := storage.Metadata{
			MetaDeleteMarker:  "true",
			MetaRenameMarker:  op.Target,
			MetaCreationDate:  now,
			MetaLastModified:  now,
			MetaContentLength: "0",
		}
		if _, err := tx.PutRecord(op.Source, &zero, tombstone); err != nil {
			return err
		}
		if err := tx.CompleteUpload(op.Source); err != nil {
			return err
		}
		if err := tx.DecrementRecordCount(op.Source); err != nil {
			return err
		}

		if err := dropOperation(); err != nil {
			return err
		}

		moved = updated
		fx.unindexed = append(fx.unindexed, op.Source)
		fx.indexed = append(fx.indexed, indexEntry{path: op.Target, metadata: updated.Metadata, version: updated.Version})
		fx.tombstones = append(fx.tombstones, "rename")
		fx.event(notify.Renamed, op.Source, op.Target, updated.Version)
		return nil
	})
	if err != nil {
		return e.toError(err, op.Source)
	}
	e.apply(fx)

	if destErr != nil {
		return destErr
	}
	if moved != nil {
		logger.Info("Lifecycle: renamed %s to %s", op.Source, op.Target)
	}
	return nil
}

// pendingRename reports whether op is still the recorded rename of its
// source, and whether the source still holds the version it was recorded
// for.
func (e *Engine) pendingRename(ctx context.Context, op *oplog.RenameOperation) (recorded, movable bool, err error) {
	err = e.store.View(ctx, func(tx storage.Txn) error {
		stored, err := oplog.GetRename(tx, op.Source)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if stored.ID != op.ID {
			return nil
		}
		recorded = true

		src, err := tx.ReadRecord(op.Source)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		movable = !IsTombstone(src) && src.Version == op.SourceVersion
		return nil
	})
	return recorded, movable, err
}

// PendingRenames returns up to limit rename operations awaiting execution.
func (e *Engine) PendingRenames(ctx context.Context, limit int) ([]*oplog.RenameOperation, error) {
	var ops []*oplog.RenameOperation
	err := e.store.View(ctx, func(tx storage.Txn) error {
		var err error
		ops, err = oplog.ListRenames(tx, 0, limit)
		return err
	})
	return ops, err
}
