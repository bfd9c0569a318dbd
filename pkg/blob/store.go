// Package blob stores immutable page bytes addressed by their content hash.
//
// The transactional storage engine keeps page entries (size, reference count)
// inside its own transactions; the bytes themselves live in a blob Store. This
// mirrors the metadata/content split the rest of the system uses: the engine
// is the source of truth for which pages exist, the blob store is dumb bulk
// storage that the page garbage collector reconciles against it.
//
// Because blobs are content-addressed, writing the same hash twice is always
// safe and idempotent; implementations never need to coordinate writers.
package blob

import (
	"context"
	"errors"
	"time"
)

// ErrBlobNotFound indicates no blob exists for the requested hash.
var ErrBlobNotFound = errors.New("blob not found")

// Info describes a stored blob.
type Info struct {
	// Hash is the hex-encoded content hash the blob is stored under
	Hash string

	// Size is the stored size in bytes (after any encoding)
	Size int64

	// ModTime is when the blob was last written
	ModTime time.Time
}

// Store is the page byte storage contract.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type Store interface {
	// Put stores data under hash. Overwriting an existing blob is allowed and,
	// since content is addressed by hash, yields identical bytes.
	Put(ctx context.Context, hash string, data []byte) error

	// Get returns the bytes stored under hash, or ErrBlobNotFound.
	Get(ctx context.Context, hash string) ([]byte, error)

	// Exists reports whether a blob is stored under hash.
	Exists(ctx context.Context, hash string) (bool, error)

	// Delete removes the blob. Deleting a missing blob succeeds.
	Delete(ctx context.Context, hash string) error

	// List returns every stored blob. Used by garbage collection.
	List(ctx context.Context) ([]Info, error)
}
