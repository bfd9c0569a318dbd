package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/pagefs/pkg/blob"
)

// MemoryBlobStore implements blob.Store using in-memory storage.
//
// This implementation is designed for:
//   - Testing and development
//   - Ephemeral engines (paired with the memory storage engine)
//
// Characteristics:
//   - Fast: All operations are memory-speed
//   - Volatile: Data lost on restart
//   - Thread-safe: Protected by RWMutex
//
// Copying data on read/write prevents data races with caller-owned buffers.
type MemoryBlobStore struct {
	// blobs stores page bytes keyed by hash
	blobs map[string]entry

	// mu protects concurrent access to blobs
	mu sync.RWMutex

	// now is the clock used to stamp ModTime (overridable in tests)
	now func() time.Time
}

type entry struct {
	data    []byte
	modTime time.Time
}

// NewMemoryBlobStore creates a new, empty in-memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{
		blobs: make(map[string]entry),
		now:   time.Now,
	}
}

// SetClock overrides the clock used to stamp blob modification times.
func (s *MemoryBlobStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryBlobStore) Put(ctx context.Context, hash string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs[hash] = entry{data: buf, modTime: s.now()}
	return nil
}

func (s *MemoryBlobStore) Get(ctx context.Context, hash string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.blobs[hash]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", hash, blob.ErrBlobNotFound)
	}

	buf := make([]byte, len(e.data))
	copy(buf, e.data)
	return buf, nil
}

func (s *MemoryBlobStore) Exists(ctx context.Context, hash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.blobs[hash]
	return ok, nil
}

func (s *MemoryBlobStore) Delete(ctx context.Context, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blobs, hash)
	return nil
}

func (s *MemoryBlobStore) List(ctx context.Context) ([]blob.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]blob.Info, 0, len(s.blobs))
	for hash, e := range s.blobs {
		infos = append(infos, blob.Info{
			Hash:    hash,
			Size:    int64(len(e.data)),
			ModTime: e.modTime,
		})
	}
	return infos, nil
}

// Len returns the number of stored blobs.
func (s *MemoryBlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
