// Package storage defines the transactional storage contract the file
// lifecycle engine is built on.
//
// A Store executes batches: every read and write performed through the Txn
// handed to a Batch callback is atomic and isolated from other batches.
// Nothing spanning two batches is atomic; callers that need multi-step
// durability persist an operation record in one batch and complete it in a
// later one.
//
// Two engines implement the contract:
//   - storage/memory: mutex-serialised, ephemeral, used by tests
//   - storage/badger: persistent, optimistic MVCC transactions; concurrent
//     batches touching the same keys fail with ErrConflict
package storage

import "context"

// Store is the transactional storage engine.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type Store interface {
	// Batch runs fn inside a read-write transaction. If fn returns an error the
	// transaction is discarded; otherwise it is committed. A commit that loses
	// an optimistic race returns an error wrapping ErrConflict.
	Batch(ctx context.Context, fn func(tx Txn) error) error

	// View runs fn inside a read-only transaction. Write methods on the Txn
	// return ErrReadOnly.
	View(ctx context.Context, fn func(tx Txn) error) error

	// Close releases the engine's resources.
	Close() error
}

// Txn is the set of operations available inside one batch.
//
// Paths passed to a Txn are already canonical; the storage layer treats them
// as opaque unique keys.
type Txn interface {
	// ========================================================================
	// Records
	// ========================================================================

	// ReadRecord returns the record stored at path, or ErrNotFound.
	ReadRecord(path string) (*FileRecord, error)

	// PutRecord creates a new record with a fresh version stamp and an
	// in-progress upload. declaredSize is nil when the size is unknown.
	// Returns ErrAlreadyExists if any record (live or tombstone) holds path.
	PutRecord(path string, declaredSize *int64, md Metadata) (*FileRecord, error)

	// UpdateMetadata replaces the record's metadata and assigns a new version
	// stamp. If expectedVersion is non-nil and differs from the stored
	// version, a *VersionMismatchError is returned.
	UpdateMetadata(path string, md Metadata, expectedVersion *uint64) (*FileRecord, error)

	// RenamePath moves the record and its page associations from oldPath to
	// newPath, preserving the version stamp. If newPath is occupied it is
	// deleted first when overwrite is true, otherwise ErrAlreadyExists.
	RenamePath(oldPath, newPath string, overwrite bool) error

	// DeleteRecord removes the record and dissociates its pages. Pages whose
	// reference count drops to zero lose their page entry.
	DeleteRecord(path string) error

	// ListRecords returns records whose path starts with prefix, ordered by
	// path.
	ListRecords(prefix string, skip, take int) ([]*FileRecord, error)

	// DecrementRecordCount removes path's record from the live record count.
	DecrementRecordCount(path string) error

	// RecordCount returns the number of live records.
	RecordCount() (int64, error)

	// ========================================================================
	// Pages
	// ========================================================================

	// InsertPage stores data as an immutable page and returns its content
	// hash. Inserting bytes that already exist is a no-op returning the same
	// hash.
	InsertPage(data []byte) (string, error)

	// AssociatePage appends the page to path's content. offset must equal the
	// record's current uploaded size.
	AssociatePage(path, hash string, offset int64, length int) error

	// ReadPages returns path's page associations in offset order.
	ReadPages(path string) ([]PageRef, error)

	// ReadPage returns the bytes of a page.
	ReadPage(hash string) ([]byte, error)

	// ListPageHashes returns the hash of every page entry.
	ListPageHashes() ([]string, error)

	// HasPage reports whether a page entry exists for hash.
	HasPage(hash string) (bool, error)

	// CompleteUpload flags path's upload as finished.
	CompleteUpload(path string) error

	// ========================================================================
	// Configuration entries
	// ========================================================================

	// SetConfig stores value under name, replacing any previous value.
	SetConfig(name string, value []byte) error

	// GetConfig returns the value stored under name, or ErrNotFound.
	GetConfig(name string) ([]byte, error)

	// DeleteConfig removes name. Deleting a missing entry succeeds.
	DeleteConfig(name string) error

	// ListConfigs returns entries whose name starts with prefix, ordered by
	// name.
	ListConfigs(prefix string, skip, take int) ([]ConfigEntry, error)
}
