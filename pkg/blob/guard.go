package blob

import (
	"context"
	"hash/fnv"
	"sync"
)

// guardStripes is the number of hash lock stripes.
const guardStripes = 256

// Guarded serialises writes and collector deletes of the same hash.
//
// A storage batch writes a page blob before it commits the page entry that
// references it, so a collector that decided a blob was orphaned can race
// with an upload of identical bytes. While a collection is open, every Put
// marks its hash as touched; DeleteUntouched refuses to remove a touched
// blob and holds the hash lock across the delete, so a concurrent Put either
// lands before (and is seen) or after (and recreates the blob).
//
// Thread Safety: Safe for concurrent use.
type Guarded struct {
	Store

	stripes [guardStripes]sync.Mutex

	mu      sync.Mutex
	open    int
	touched map[string]struct{}
}

// NewGuarded wraps inner with write/delete fencing.
func NewGuarded(inner Store) *Guarded {
	return &Guarded{Store: inner}
}

// Put stores data under hash, recording the write for open collections.
func (g *Guarded) Put(ctx context.Context, hash string, data []byte) error {
	unlock := g.lockHash(hash)
	defer unlock()

	g.mu.Lock()
	if g.open > 0 {
		g.touched[hash] = struct{}{}
	}
	g.mu.Unlock()

	return g.Store.Put(ctx, hash, data)
}

// BeginCollection opens a collection window. Writes from this point on are
// remembered until the returned function is called.
func (g *Guarded) BeginCollection() (end func()) {
	g.mu.Lock()
	if g.open == 0 {
		g.touched = make(map[string]struct{})
	}
	g.open++
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.open--
			if g.open == 0 {
				g.touched = nil
			}
			g.mu.Unlock()
		})
	}
}

// DeleteUntouched removes the blob unless it was written since the oldest
// open collection began. Outside a collection it behaves like Delete.
//
// Returns:
//   - bool: true if the blob was deleted
//   - error: Error from the underlying store
func (g *Guarded) DeleteUntouched(ctx context.Context, hash string) (bool, error) {
	unlock := g.lockHash(hash)
	defer unlock()

	g.mu.Lock()
	_, written := g.touched[hash]
	g.mu.Unlock()
	if written {
		return false, nil
	}

	if err := g.Store.Delete(ctx, hash); err != nil {
		return false, err
	}
	return true, nil
}

// lockHash acquires the stripe lock covering hash.
func (g *Guarded) lockHash(hash string) (unlock func()) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(hash))
	mu := &g.stripes[h.Sum32()%guardStripes]
	mu.Lock()
	return mu.Unlock
}
