// Package engine implements the storage.Txn operations once, on top of an
// ordered key-value transaction. The memory and badger engines only provide
// the KV and the commit/rollback around it.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/marmos91/pagefs/pkg/blob"
	"github.com/marmos91/pagefs/pkg/storage"
)

// KV is a key-value transaction.
//
// Get returns storage.ErrNotFound for missing keys. Iterate visits the keys
// with the given prefix in lexical order; fn must not write to the KV. Byte
// slices handed out by Get and Iterate belong to the caller.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Iterate(prefix []byte, fn func(key, value []byte) error) error
}

// VersionSource hands out monotonically increasing version stamps.
type VersionSource func() (uint64, error)

// Txn implements storage.Txn over a KV.
type Txn struct {
	ctx         context.Context
	kv          KV
	blobs       blob.Store
	nextVersion VersionSource
	readOnly    bool
}

var _ storage.Txn = (*Txn)(nil)

// New wraps kv. nextVersion may be nil for read-only transactions.
func New(ctx context.Context, kv KV, blobs blob.Store, nextVersion VersionSource, readOnly bool) *Txn {
	return &Txn{
		ctx:         ctx,
		kv:          kv,
		blobs:       blobs,
		nextVersion: nextVersion,
		readOnly:    readOnly,
	}
}

// HashPage returns the content hash used to address a page.
func HashPage(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (t *Txn) writable() error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	return t.ctx.Err()
}

// ============================================================================
// Records
// ============================================================================

func (t *Txn) readRecord(path string) (*record, error) {
	data, err := t.kv.Get(keyRecord(path))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("record %s: %w", path, storage.ErrNotFound)
		}
		return nil, err
	}
	return decodeRecord(data)
}

func (t *Txn) writeRecord(r *record) error {
	data, err := encodeRecord(r)
	if err != nil {
		return err
	}
	return t.kv.Set(keyRecord(r.Path), data)
}

func (t *Txn) ReadRecord(path string) (*storage.FileRecord, error) {
	r, err := t.readRecord(path)
	if err != nil {
		return nil, err
	}
	return r.FileRecord.Clone(), nil
}

func (t *Txn) PutRecord(path string, declaredSize *int64, md storage.Metadata) (*storage.FileRecord, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}

	if _, err := t.kv.Get(keyRecord(path)); err == nil {
		return nil, fmt.Errorf("record %s: %w", path, storage.ErrAlreadyExists)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	version, err := t.nextVersion()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate version: %w", err)
	}

	r := &record{FileRecord: storage.FileRecord{
		Path:     path,
		Version:  version,
		Metadata: md.Clone(),
	}}
	if declaredSize != nil {
		size := *declaredSize
		r.DeclaredSize = &size
	}

	if err := t.writeRecord(r); err != nil {
		return nil, err
	}
	if err := t.addRecordCount(1); err != nil {
		return nil, err
	}

	return r.FileRecord.Clone(), nil
}

func (t *Txn) UpdateMetadata(path string, md storage.Metadata, expectedVersion *uint64) (*storage.FileRecord, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}

	r, err := t.readRecord(path)
	if err != nil {
		return nil, err
	}
	if expectedVersion != nil && *expectedVersion != r.Version {
		return nil, &storage.VersionMismatchError{Path: path, Expected: *expectedVersion, Actual: r.Version}
	}

	version, err := t.nextVersion()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate version: %w", err)
	}
	r.Version = version
	r.Metadata = md.Clone()

	if err := t.writeRecord(r); err != nil {
		return nil, err
	}
	return r.FileRecord.Clone(), nil
}

func (t *Txn) RenamePath(oldPath, newPath string, overwrite bool) error {
	if err := t.writable(); err != nil {
		return err
	}
	if oldPath == newPath {
		return nil
	}

	r, err := t.readRecord(oldPath)
	if err != nil {
		return err
	}

	if _, err := t.kv.Get(keyRecord(newPath)); err == nil {
		if !overwrite {
			return fmt.Errorf("record %s: %w", newPath, storage.ErrAlreadyExists)
		}
		if err := t.DeleteRecord(newPath); err != nil {
			return fmt.Errorf("failed to replace %s: %w", newPath, err)
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	type assoc struct {
		offset int64
		value  []byte
	}
	var assocs []assoc
	err = t.kv.Iterate(keyAssocPrefix(oldPath), func(key, value []byte) error {
		offset, err := offsetFromAssocKey(key)
		if err != nil {
			return err
		}
		assocs = append(assocs, assoc{offset: offset, value: value})
		return nil
	})
	if err != nil {
		return err
	}

	for _, a := range assocs {
		if err := t.kv.Set(keyAssoc(newPath, a.offset), a.value); err != nil {
			return err
		}
		if err := t.kv.Delete(keyAssoc(oldPath, a.offset)); err != nil {
			return err
		}
	}

	r.Path = newPath
	if err := t.writeRecord(r); err != nil {
		return err
	}
	return t.kv.Delete(keyRecord(oldPath))
}

func (t *Txn) DeleteRecord(path string) error {
	if err := t.writable(); err != nil {
		return err
	}

	r, err := t.readRecord(path)
	if err != nil {
		return err
	}

	refs, err := t.ReadPages(path)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if err := t.kv.Delete(keyAssoc(path, ref.Offset)); err != nil {
			return err
		}
		if err := t.releasePage(ref.Hash); err != nil {
			return err
		}
	}

	if !r.Uncounted {
		if err := t.addRecordCount(-1); err != nil {
			return err
		}
	}
	return t.kv.Delete(keyRecord(path))
}

func (t *Txn) ListRecords(prefix string, skip, take int) ([]*storage.FileRecord, error) {
	var out []*storage.FileRecord
	seen := 0
	errStop := errors.New("stop")

	err := t.kv.Iterate([]byte(prefixRecord+prefix), func(_, value []byte) error {
		if seen < skip {
			seen++
			return nil
		}
		if take > 0 && len(out) >= take {
			return errStop
		}
		r, err := decodeRecord(value)
		if err != nil {
			return err
		}
		out = append(out, r.FileRecord.Clone())
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return out, nil
}

func (t *Txn) DecrementRecordCount(path string) error {
	if err := t.writable(); err != nil {
		return err
	}

	r, err := t.readRecord(path)
	if err != nil {
		return err
	}
	if r.Uncounted {
		return nil
	}
	r.Uncounted = true
	if err := t.writeRecord(r); err != nil {
		return err
	}
	return t.addRecordCount(-1)
}

func (t *Txn) RecordCount() (int64, error) {
	data, err := t.kv.Get(keyRecordCount)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeCount(data)
}

func (t *Txn) addRecordCount(delta int64) error {
	n, err := t.RecordCount()
	if err != nil {
		return err
	}
	n += delta
	if n < 0 {
		n = 0
	}
	return t.kv.Set(keyRecordCount, encodeCount(n))
}

// ============================================================================
// Pages
// ============================================================================

func (t *Txn) readPageEntry(hash string) (pageEntry, error) {
	data, err := t.kv.Get(keyPage(hash))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return pageEntry{}, fmt.Errorf("page %s: %w", hash, storage.ErrNotFound)
		}
		return pageEntry{}, err
	}
	return decodePageEntry(data)
}

func (t *Txn) writePageEntry(hash string, e pageEntry) error {
	data, err := encodePageEntry(e)
	if err != nil {
		return err
	}
	return t.kv.Set(keyPage(hash), data)
}

// releasePage drops one reference. The entry goes away at zero; the blob is
// left for the page collector.
func (t *Txn) releasePage(hash string) error {
	e, err := t.readPageEntry(hash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	e.Refs--
	if e.Refs <= 0 {
		return t.kv.Delete(keyPage(hash))
	}
	return t.writePageEntry(hash, e)
}

func (t *Txn) InsertPage(data []byte) (string, error) {
	if err := t.writable(); err != nil {
		return "", err
	}

	hash := HashPage(data)
	if _, err := t.kv.Get(keyPage(hash)); err == nil {
		return hash, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	if err := t.blobs.Put(t.ctx, hash, data); err != nil {
		return "", fmt.Errorf("failed to store page %s: %w", hash, err)
	}
	if err := t.writePageEntry(hash, pageEntry{Size: len(data)}); err != nil {
		return "", err
	}
	return hash, nil
}

func (t *Txn) AssociatePage(path, hash string, offset int64, length int) error {
	if err := t.writable(); err != nil {
		return err
	}

	r, err := t.readRecord(path)
	if err != nil {
		return err
	}
	if r.UploadComplete {
		return fmt.Errorf("record %s: %w", path, storage.ErrUploadComplete)
	}
	if offset != r.UploadedSize {
		return fmt.Errorf("record %s: offset %d, expected %d: %w", path, offset, r.UploadedSize, storage.ErrInvalidOffset)
	}

	e, err := t.readPageEntry(hash)
	if err != nil {
		return err
	}
	if length < 0 || length > e.Size {
		return fmt.Errorf("page %s: length %d exceeds size %d", hash, length, e.Size)
	}
	e.Refs++
	if err := t.writePageEntry(hash, e); err != nil {
		return err
	}

	link, err := encodePageLink(pageLink{Hash: hash, Length: length})
	if err != nil {
		return err
	}
	if err := t.kv.Set(keyAssoc(path, offset), link); err != nil {
		return err
	}

	r.UploadedSize += int64(length)
	return t.writeRecord(r)
}

func (t *Txn) ReadPages(path string) ([]storage.PageRef, error) {
	var refs []storage.PageRef
	err := t.kv.Iterate(keyAssocPrefix(path), func(key, value []byte) error {
		offset, err := offsetFromAssocKey(key)
		if err != nil {
			return err
		}
		link, err := decodePageLink(value)
		if err != nil {
			return err
		}
		refs = append(refs, storage.PageRef{Hash: link.Hash, Offset: offset, Length: link.Length})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

func (t *Txn) ReadPage(hash string) ([]byte, error) {
	if _, err := t.readPageEntry(hash); err != nil {
		return nil, err
	}
	data, err := t.blobs.Get(t.ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to read page %s: %w", hash, err)
	}
	return data, nil
}

func (t *Txn) ListPageHashes() ([]string, error) {
	var hashes []string
	err := t.kv.Iterate([]byte(prefixPage), func(key, _ []byte) error {
		hashes = append(hashes, strings.TrimPrefix(string(key), prefixPage))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hashes, nil
}

func (t *Txn) HasPage(hash string) (bool, error) {
	if _, err := t.kv.Get(keyPage(hash)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (t *Txn) CompleteUpload(path string) error {
	if err := t.writable(); err != nil {
		return err
	}

	r, err := t.readRecord(path)
	if err != nil {
		return err
	}
	r.UploadComplete = true
	return t.writeRecord(r)
}

// ============================================================================
// Configuration entries
// ============================================================================

func (t *Txn) SetConfig(name string, value []byte) error {
	if err := t.writable(); err != nil {
		return err
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	return t.kv.Set(keyConfig(name), buf)
}

func (t *Txn) GetConfig(name string) ([]byte, error) {
	data, err := t.kv.Get(keyConfig(name))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("config %s: %w", name, storage.ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

func (t *Txn) DeleteConfig(name string) error {
	if err := t.writable(); err != nil {
		return err
	}
	return t.kv.Delete(keyConfig(name))
}

func (t *Txn) ListConfigs(prefix string, skip, take int) ([]storage.ConfigEntry, error) {
	var out []storage.ConfigEntry
	seen := 0
	errStop := errors.New("stop")

	err := t.kv.Iterate([]byte(prefixConfig+prefix), func(key, value []byte) error {
		if seen < skip {
			seen++
			return nil
		}
		if take > 0 && len(out) >= take {
			return errStop
		}
		out = append(out, storage.ConfigEntry{
			Name:  strings.TrimPrefix(string(key), prefixConfig),
			Value: value,
		})
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return out, nil
}
