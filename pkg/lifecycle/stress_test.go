package lifecycle

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	blobmemory "github.com/marmos91/pagefs/pkg/blob/memory"
	"github.com/marmos91/pagefs/pkg/storage"
	"github.com/marmos91/pagefs/pkg/storage/badger"
)

// newBadgerEngine returns an engine over an in-memory Badger database, whose
// optimistic transactions report real conflicts between concurrent batches.
func newBadgerEngine(t *testing.T) (*Engine, storage.Store) {
	t.Helper()
	st, err := badger.NewBadgerStore(context.Background(), badger.BadgerStoreConfig{InMemory: true}, blobmemory.NewMemoryBlobStore())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return New(st, Options{ChunkSize: 4, MaxAttempts: 20, RetryBackoff: time.Millisecond}), st
}

func TestMixedOperationsKeepFilesConsistent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping concurrency stress in short mode")
	}

	e, _ := newBadgerEngine(t)
	ctx := context.Background()

	paths := []string{"/p0", "/p1", "/p2", "/p3"}
	const (
		workers    = 8
		iterations = 40
	)

	var (
		mu      sync.Mutex
		written = make(map[string]struct{})
	)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(w), 42))

			for i := 0; i < iterations; i++ {
				p := paths[rng.IntN(len(paths))]
				switch rng.IntN(3) {
				case 0:
					content := fmt.Sprintf("w%d-i%d-%s", w, i, p)
					mu.Lock()
					written[content] = struct{}{}
					mu.Unlock()
					_, _ = e.Put(ctx, p, FromBytes([]byte(content)), PutOptions{})
				case 1:
					np := paths[rng.IntN(len(paths))]
					if np != p {
						_ = e.Rename(ctx, p, np, nil)
					}
				default:
					_ = e.Delete(ctx, p, nil)
				}
			}
		}(w)
	}
	wg.Wait()

	// Finish renames a failed second step left behind
	pending, err := e.PendingRenames(ctx, 100)
	require.NoError(t, err)
	for _, op := range pending {
		_ = e.ExecuteRenameOperation(ctx, op)
	}
	pending, err = e.PendingRenames(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, pending)

	live, err := e.List(ctx, ListOptions{})
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, rec := range live {
		assert.False(t, seen[rec.Path], "more than one live record at %s", rec.Path)
		seen[rec.Path] = true
		assert.False(t, IsTombstone(rec))

		if !rec.UploadComplete {
			continue
		}

		r, _, err := e.Open(ctx, rec.Path)
		require.NoError(t, err)
		data, err := io.ReadAll(r)
		r.Close()
		require.NoError(t, err)

		assert.Equal(t, contentHash(string(data)), rec.Metadata[MetaContentHash], "hash of %s does not match its bytes", rec.Path)
		assert.Equal(t, strconv.Itoa(len(data)), rec.Metadata[MetaContentLength], "length of %s does not match its bytes", rec.Path)
		assert.Contains(t, written, string(data), "%s holds bytes nobody wrote", rec.Path)
	}
}
