package gc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/marmos91/pagefs/pkg/blob"
	blobmemory "github.com/marmos91/pagefs/pkg/blob/memory"
	"github.com/marmos91/pagefs/pkg/storage"
	"github.com/marmos91/pagefs/pkg/storage/badger"
	"github.com/marmos91/pagefs/pkg/storage/memory"
)

// writeFile stores data as a single-page file at path.
func writeFile(t *testing.T, st storage.Store, path string, data []byte) string {
	t.Helper()
	var hash string
	require.NoError(t, st.Batch(context.Background(), func(tx storage.Txn) error {
		if _, err := tx.PutRecord(path, nil, storage.Metadata{}); err != nil {
			return err
		}
		h, err := tx.InsertPage(data)
		if err != nil {
			return err
		}
		hash = h
		if err := tx.AssociatePage(path, h, 0, len(data)); err != nil {
			return err
		}
		return tx.CompleteUpload(path)
	}))
	return hash
}

func removeFile(t *testing.T, st storage.Store, path string) {
	t.Helper()
	require.NoError(t, st.Batch(context.Background(), func(tx storage.Txn) error {
		return tx.DeleteRecord(path)
	}))
}

func TestCollectDeletesOrphans(t *testing.T) {
	blobs := blobmemory.NewMemoryBlobStore()
	st := memory.NewMemoryStore(blobs)
	defer st.Close()

	kept := writeFile(t, st, "/keep", []byte("kept bytes"))
	writeFile(t, st, "/drop", []byte("dropped bytes"))
	removeFile(t, st, "/drop")
	require.Equal(t, 2, blobs.Len())

	c := NewCollector(st, blobs, Config{MinAge: 0})
	stats, err := c.RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.ExistingCount)
	assert.Equal(t, 1, stats.ReferencedCount)
	assert.Equal(t, 1, stats.OrphanedCount)
	assert.Equal(t, 1, stats.DeletedCount)
	assert.Positive(t, stats.ReclaimedBytes)

	require.Equal(t, 1, blobs.Len())
	ok, err := blobs.Exists(context.Background(), kept)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCollectSparesYoungBlobs(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	blobs := blobmemory.NewMemoryBlobStore()
	blobs.SetClock(func() time.Time { return now })
	st := memory.NewMemoryStore(blobs)
	defer st.Close()

	writeFile(t, st, "/a", []byte("fresh"))
	removeFile(t, st, "/a")

	c := NewCollector(st, blobs, Config{MinAge: time.Hour})

	c.SetClock(func() time.Time { return now.Add(30 * time.Minute) })
	stats, err := c.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.YoungCount)
	assert.Zero(t, stats.DeletedCount)
	assert.Equal(t, 1, blobs.Len())

	c.SetClock(func() time.Time { return now.Add(2 * time.Hour) })
	stats, err = c.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeletedCount)
	assert.Zero(t, blobs.Len())
}

func TestCollectDryRun(t *testing.T) {
	blobs := blobmemory.NewMemoryBlobStore()
	st := memory.NewMemoryStore(blobs)
	defer st.Close()

	writeFile(t, st, "/a", []byte("orphan"))
	removeFile(t, st, "/a")

	stats, err := NewCollector(st, blobs, Config{DryRun: true}).RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.OrphanedCount)
	assert.Zero(t, stats.DeletedCount)
	assert.Equal(t, 1, blobs.Len())
}

func TestCollectSharedPageSurvives(t *testing.T) {
	blobs := blobmemory.NewMemoryBlobStore()
	st := memory.NewMemoryStore(blobs)
	defer st.Close()

	writeFile(t, st, "/a", []byte("same bytes"))
	writeFile(t, st, "/b", []byte("same bytes"))
	removeFile(t, st, "/a")

	stats, err := NewCollector(st, blobs, Config{}).RunNow(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.OrphanedCount)
	assert.Equal(t, 1, blobs.Len())
}

// viewHookStore runs after[n] once the n-th View of the store returns.
type viewHookStore struct {
	storage.Store
	views int
	after map[int]func()
}

func (s *viewHookStore) View(ctx context.Context, fn func(tx storage.Txn) error) error {
	err := s.Store.View(ctx, fn)
	s.views++
	if f := s.after[s.views]; f != nil {
		f()
	}
	return err
}

func TestCollectKeepsPageCommittedAfterSnapshot(t *testing.T) {
	blobs := blobmemory.NewMemoryBlobStore()
	inner := memory.NewMemoryStore(blobs)
	defer inner.Close()

	data := []byte("identical bytes")
	hash := writeFile(t, inner, "/old", data)
	removeFile(t, inner, "/old")

	// The first View is the reference snapshot; the same bytes are uploaded
	// again right after it
	st := &viewHookStore{Store: inner, after: map[int]func(){
		1: func() { writeFile(t, inner, "/again", data) },
	}}

	stats, err := NewCollector(st, blobs, Config{}).RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.OrphanedCount)
	assert.Equal(t, 1, stats.RevivedCount)
	assert.Zero(t, stats.DeletedCount)

	ok, err := blobs.Exists(context.Background(), hash)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, inner.View(context.Background(), func(tx storage.Txn) error {
		got, err := tx.ReadPage(hash)
		require.NoError(t, err)
		assert.Equal(t, data, got)
		return nil
	}))
}

func TestCollectKeepsBlobRewrittenAfterRecheck(t *testing.T) {
	blobs := blob.NewGuarded(blobmemory.NewMemoryBlobStore())
	inner := memory.NewMemoryStore(blobs)
	defer inner.Close()

	data := []byte("identical bytes")
	hash := writeFile(t, inner, "/old", data)
	removeFile(t, inner, "/old")

	// The second View is the re-check before deletion
	st := &viewHookStore{Store: inner, after: map[int]func(){
		2: func() { writeFile(t, inner, "/again", data) },
	}}

	stats, err := NewCollector(st, blobs, Config{}).RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RevivedCount)
	assert.Zero(t, stats.DeletedCount)

	ok, err := blobs.Exists(context.Background(), hash)
	require.NoError(t, err)
	assert.True(t, ok)

	// Once the collection is over, a later orphan of the same hash goes
	removeFile(t, inner, "/again")
	stats, err = NewCollector(inner, blobs, Config{}).RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeletedCount)
}

func TestCollectOnBadger(t *testing.T) {
	blobs := blobmemory.NewMemoryBlobStore()
	st, err := badger.NewBadgerStore(context.Background(), badger.BadgerStoreConfig{DBPath: t.TempDir()}, blobs)
	require.NoError(t, err)
	defer st.Close()

	writeFile(t, st, "/a", []byte("badger page"))
	removeFile(t, st, "/a")

	stats, err := NewCollector(st, blobs, Config{}).RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeletedCount)
	assert.Zero(t, blobs.Len())
}

func TestCollectCancelled(t *testing.T) {
	blobs := blobmemory.NewMemoryBlobStore()
	st := memory.NewMemoryStore(blobs)
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCollector(st, blobs, Config{}).RunNow(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorkerStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	blobs := blobmemory.NewMemoryBlobStore()
	st := memory.NewMemoryStore(blobs)
	defer st.Close()

	writeFile(t, st, "/a", []byte("orphan"))
	removeFile(t, st, "/a")

	c := NewCollector(st, blobs, Config{Enabled: true, Interval: 10 * time.Millisecond})
	c.Start()

	require.Eventually(t, func() bool { return blobs.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
}

func TestStopWithoutStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	blobs := blobmemory.NewMemoryBlobStore()
	st := memory.NewMemoryStore(blobs)
	defer st.Close()

	c := NewCollector(st, blobs, Config{Enabled: true})
	require.NoError(t, c.Stop(context.Background()))
	c.Start()
}
