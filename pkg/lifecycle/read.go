package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/marmos91/pagefs/pkg/storage"
)

// Stat returns the live record at p.
func (e *Engine) Stat(ctx context.Context, p string) (*storage.FileRecord, error) {
	path, err := CanonicalPath(p)
	if err != nil {
		return nil, err
	}

	rec, err := e.Inspect(ctx, path)
	if err != nil {
		return nil, err
	}
	if IsTombstone(rec) {
		return nil, newError(ErrNotFound, path, "file was removed")
	}
	return rec, nil
}

// Inspect returns whatever record is stored at the canonical path, tombstones
// included.
func (e *Engine) Inspect(ctx context.Context, path string) (*storage.FileRecord, error) {
	var rec *storage.FileRecord
	err := e.store.View(ctx, func(tx storage.Txn) error {
		var err error
		rec, err = tx.ReadRecord(path)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newError(ErrNotFound, path, "no such file")
	}
	if err != nil {
		return nil, e.toError(err, path)
	}
	return rec, nil
}

// ListOptions selects a page of records.
type ListOptions struct {
	Prefix            string
	Skip              int
	Take              int
	IncludeTombstones bool
}

// List returns records ordered by path. Skip and Take apply after tombstones
// are filtered out; Take <= 0 means no limit.
func (e *Engine) List(ctx context.Context, opts ListOptions) ([]*storage.FileRecord, error) {
	prefix := opts.Prefix
	if prefix != "" {
		prefix = strings.ToLower("/" + strings.TrimLeft(prefix, "/"))
	}

	var out []*storage.FileRecord
	err := e.store.View(ctx, func(tx storage.Txn) error {
		if opts.IncludeTombstones {
			var err error
			out, err = tx.ListRecords(prefix, opts.Skip, opts.Take)
			return err
		}

		all, err := tx.ListRecords(prefix, 0, 0)
		if err != nil {
			return err
		}
		skipped := 0
		for _, rec := range all {
			if IsTombstone(rec) {
				continue
			}
			if skipped < opts.Skip {
				skipped++
				continue
			}
			if opts.Take > 0 && len(out) >= opts.Take {
				break
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, e.toError(err, opts.Prefix)
	}
	return out, nil
}

// Open streams the content of the live file at p.
//
// Pages are fetched lazily as the reader advances. The page list is
// snapshotted at open time.
func (e *Engine) Open(ctx context.Context, p string) (io.ReadCloser, *storage.FileRecord, error) {
	path, err := CanonicalPath(p)
	if err != nil {
		return nil, nil, err
	}

	var (
		rec  *storage.FileRecord
		refs []storage.PageRef
	)
	err = e.store.View(ctx, func(tx storage.Txn) error {
		var err error
		rec, err = tx.ReadRecord(path)
		if err != nil {
			return err
		}
		refs, err = tx.ReadPages(path)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, newError(ErrNotFound, path, "no such file")
	}
	if err != nil {
		return nil, nil, e.toError(err, path)
	}
	if IsTombstone(rec) {
		return nil, nil, newError(ErrNotFound, path, "file was removed")
	}
	if !rec.UploadComplete {
		return nil, nil, newError(ErrUploadIncomplete, path, "upload in progress")
	}

	return &pageReader{ctx: ctx, store: e.store, refs: refs}, rec, nil
}

// pageReader reads a file's pages in offset order.
type pageReader struct {
	ctx   context.Context
	store storage.Store
	refs  []storage.PageRef
	next  int
	buf   []byte
}

func (r *pageReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.next >= len(r.refs) {
			return 0, io.EOF
		}
		if err := r.fetch(r.refs[r.next]); err != nil {
			return 0, err
		}
		r.next++
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *pageReader) fetch(ref storage.PageRef) error {
	return r.store.View(r.ctx, func(tx storage.Txn) error {
		data, err := tx.ReadPage(ref.Hash)
		if err != nil {
			return fmt.Errorf("failed to read page at offset %d: %w", ref.Offset, err)
		}
		if len(data) < ref.Length {
			return fmt.Errorf("page at offset %d is truncated: %d < %d bytes", ref.Offset, len(data), ref.Length)
		}
		r.buf = data[:ref.Length]
		return nil
	})
}

func (r *pageReader) Close() error {
	r.refs = nil
	r.buf = nil
	return nil
}
