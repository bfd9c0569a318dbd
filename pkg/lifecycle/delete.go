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

// Delete tombstones the file at path.
//
// The record is renamed to a reserved tombstone name and a delete operation
// is persisted; the sweeper purges the tombstone later. Deleting a missing
// path succeeds unless expectedVersion pins a version, in which case it
// fails with ErrNotFound. Deleting a path that itself holds a tombstone
// purges that tombstone immediately.
func (e *Engine) Delete(ctx context.Context, p string, expectedVersion *uint64) (err error) {
	start := time.Now()
	defer func() { e.opts.Metrics.RecordOperation("delete", time.Since(start), err) }()

	path, err := CanonicalPath(p)
	if err != nil {
		return err
	}

	if veto := e.opts.Hooks.CheckDelete(path); veto != nil {
		return e.toError(veto, path)
	}

	fx, err := e.batch(ctx, func(tx storage.Txn, fx *effects) error {
		if err := e.checkSyncLock(tx, path); err != nil {
			return err
		}
		return e.indicateFileToDelete(tx, fx, path, expectedVersion)
	})
	if err != nil {
		return e.toError(err, path)
	}

	e.apply(fx)
	return nil
}

// indicateFileToDelete is the tombstone phase of a delete, run inside the
// caller's batch.
func (e *Engine) indicateFileToDelete(tx storage.Txn, fx *effects, path string, expectedVersion *uint64) error {
	rec, err := tx.ReadRecord(path)
	if errors.Is(err, storage.ErrNotFound) {
		if expectedVersion != nil {
			return newError(ErrNotFound, path, "no file to delete")
		}
		return nil
	}
	if err != nil {
		return err
	}

	if IsTombstone(rec) {
		return e.purgeRecord(tx, fx, path)
	}

	if expectedVersion != nil && *expectedVersion != rec.Version {
		return conflictError(path, *expectedVersion, rec.Version)
	}

	for attempt := 0; attempt < e.opts.MaxTombstoneAttempts; attempt++ {
		name := tombstoneName(path, attempt)

		existing, err := tx.ReadRecord(name)
		if err == nil {
			if sameContent(existing, rec) {
				// The same file is already tombstoned under this name
				if err := tx.DeleteRecord(path); err != nil {
					return err
				}
				fx.unindexed = append(fx.unindexed, path)
				fx.afterDelete = append(fx.afterDelete, path)
				fx.event(notify.Deleted, path, "", rec.Version)
				return nil
			}
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		if err := tx.RenamePath(path, name, false); err != nil {
			return err
		}

		md := rec.Metadata.Clone()
		md[MetaDeleteMarker] = "true"
		if _, err := tx.UpdateMetadata(name, md, nil); err != nil {
			return err
		}
		if err := tx.DecrementRecordCount(name); err != nil {
			return err
		}

		op := oplog.NewDeleteOperation(path, name)
		if err := oplog.PutDelete(tx, op); err != nil {
			return err
		}

		fx.unindexed = append(fx.unindexed, path, name)
		fx.afterDelete = append(fx.afterDelete, path)
		fx.tombstones = append(fx.tombstones, "delete")
		fx.event(notify.Deleted, path, name, rec.Version)
		fx.event(notify.ConfigSet, oplog.DeleteKey(name), "", 0)
		return nil
	}

	return newError(ErrConflict, path, "no free tombstone name after %d attempts", e.opts.MaxTombstoneAttempts)
}

// purgeRecord physically removes a tombstone and any delete operation
// pointing at it.
func (e *Engine) purgeRecord(tx storage.Txn, fx *effects, path string) error {
	if err := tx.DeleteRecord(path); err != nil {
		return err
	}

	if _, err := oplog.GetDelete(tx, path); err == nil {
		if err := oplog.DeleteDelete(tx, path); err != nil {
			return err
		}
		fx.event(notify.ConfigDeleted, oplog.DeleteKey(path), "", 0)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	fx.unindexed = append(fx.unindexed, path)
	return nil
}

// PurgeTombstone physically removes the tombstone described by op and then
// the operation record itself. An operation whose record is already gone
// is simply dropped.
func (e *Engine) PurgeTombstone(ctx context.Context, op *oplog.DeleteOperation) error {
	fx, err := e.batch(ctx, func(tx storage.Txn, fx *effects) error {
		if _, err := oplog.GetDelete(tx, op.CurrentPath); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			return err
		}

		rec, err := tx.ReadRecord(op.CurrentPath)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			logger.Debug("Lifecycle: tombstone %s already gone, dropping its operation", op.CurrentPath)
		case err != nil:
			return err
		case !IsTombstone(rec):
			logger.Warn("Lifecycle: %s is not a tombstone, dropping its operation without purging", op.CurrentPath)
		default:
			if err := tx.DeleteRecord(op.CurrentPath); err != nil {
				return err
			}
		}

		if err := oplog.DeleteDelete(tx, op.CurrentPath); err != nil {
			return err
		}
		fx.event(notify.ConfigDeleted, oplog.DeleteKey(op.CurrentPath), "", 0)
		return nil
	})
	if err != nil {
		return e.toError(err, op.CurrentPath)
	}

	e.apply(fx)
	return nil
}

// PendingDeletes returns up to limit delete operations awaiting purge,
// ordered by tombstone path, after skipping the first skip of them.
func (e *Engine) PendingDeletes(ctx context.Context, skip, limit int) ([]*oplog.DeleteOperation, error) {
	var ops []*oplog.DeleteOperation
	err := e.store.View(ctx, func(tx storage.Txn) error {
		var err error
		ops, err = oplog.ListDeletes(tx, skip, limit)
		return err
	})
	return ops, err
}
