package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/pagefs/pkg/blob"
	"github.com/marmos91/pagefs/pkg/storage"
	"github.com/marmos91/pagefs/pkg/storage/internal/engine"
)

// MemoryStore implements storage.Store with in-memory data structures.
//
// It is suitable for:
//   - Testing and development environments
//   - Ephemeral deployments where persistence is not required
//
// Thread Safety:
// Batches hold the store's write lock for their whole duration, so they are
// serialised and never conflict. Views share the read lock. A batch stages its
// writes in an overlay that is applied only when the callback succeeds, which
// gives the same all-or-nothing behaviour as the persistent engine.
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string][]byte
	blobs   blob.Store
	version uint64
	closed  bool
}

var _ storage.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store whose pages live in blobs.
func NewMemoryStore(blobs blob.Store) *MemoryStore {
	return &MemoryStore{
		data:  make(map[string][]byte),
		blobs: blobs,
	}
}

func (s *MemoryStore) Batch(ctx context.Context, fn func(tx storage.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("memory store is closed")
	}

	ov := newOverlay(s.data)
	// Versions drawn by a discarded batch are simply skipped.
	next := func() (uint64, error) {
		s.version++
		return s.version, nil
	}

	if err := fn(engine.New(ctx, ov, s.blobs, next, false)); err != nil {
		return err
	}

	ov.commit()
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(tx storage.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return errors.New("memory store is closed")
	}

	return fn(engine.New(ctx, newOverlay(s.data), s.blobs, nil, true))
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// overlay is a write set staged on top of the committed map.
type overlay struct {
	base   map[string][]byte
	writes map[string][]byte
	// deleted marks keys removed in this batch (present with nil value in
	// writes would be ambiguous with empty values)
	deleted map[string]struct{}
}

func newOverlay(base map[string][]byte) *overlay {
	return &overlay{
		base:    base,
		writes:  make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (o *overlay) Get(key []byte) ([]byte, error) {
	k := string(key)
	if _, ok := o.deleted[k]; ok {
		return nil, storage.ErrNotFound
	}
	if v, ok := o.writes[k]; ok {
		return clone(v), nil
	}
	if v, ok := o.base[k]; ok {
		return clone(v), nil
	}
	return nil, storage.ErrNotFound
}

func (o *overlay) Set(key, value []byte) error {
	k := string(key)
	delete(o.deleted, k)
	o.writes[k] = clone(value)
	return nil
}

func (o *overlay) Delete(key []byte) error {
	k := string(key)
	delete(o.writes, k)
	o.deleted[k] = struct{}{}
	return nil
}

func (o *overlay) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	p := string(prefix)
	keys := make(map[string]struct{})
	for k := range o.base {
		if strings.HasPrefix(k, p) {
			keys[k] = struct{}{}
		}
	}
	for k := range o.writes {
		if strings.HasPrefix(k, p) {
			keys[k] = struct{}{}
		}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		if _, gone := o.deleted[k]; !gone {
			sorted = append(sorted, k)
		}
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		v, err := o.Get([]byte(k))
		if err != nil {
			return err
		}
		if err := fn([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

func (o *overlay) commit() {
	for k := range o.deleted {
		delete(o.base, k)
	}
	for k, v := range o.writes {
		o.base[k] = v
	}
}
