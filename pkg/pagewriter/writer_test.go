package pagewriter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	blobmemory "github.com/marmos91/pagefs/pkg/blob/memory"
	"github.com/marmos91/pagefs/pkg/hooks"
	"github.com/marmos91/pagefs/pkg/storage"
	"github.com/marmos91/pagefs/pkg/storage/memory"
)

// flakyStore fails the first failures batches with a conflict.
type flakyStore struct {
	storage.Store
	failures int64
	calls    atomic.Int64
}

func (s *flakyStore) Batch(ctx context.Context, fn func(tx storage.Txn) error) error {
	n := s.calls.Add(1)
	if s.failures < 0 || n <= s.failures {
		return storage.ErrConflict
	}
	return s.Store.Batch(ctx, fn)
}

type chunkRecorder struct {
	offsets []int64
}

func (c *chunkRecorder) Name() string { return "chunks" }

func (c *chunkRecorder) OnChunkStored(_ string, offset int64, _ int, _ string) {
	c.offsets = append(c.offsets, offset)
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	st := memory.NewMemoryStore(blobmemory.NewMemoryBlobStore())
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func createRecord(t *testing.T, st storage.Store, path string, declared *int64) Target {
	t.Helper()
	var rec *storage.FileRecord
	require.NoError(t, st.Batch(context.Background(), func(tx storage.Txn) error {
		var err error
		rec, err = tx.PutRecord(path, declared, storage.Metadata{"Creation-Date": "x"})
		return err
	}))
	return Target{Path: path, Version: rec.Version, DeclaredSize: declared}
}

func readBack(t *testing.T, st storage.Store, path string) []byte {
	t.Helper()
	var out []byte
	require.NoError(t, st.View(context.Background(), func(tx storage.Txn) error {
		refs, err := tx.ReadPages(path)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			data, err := tx.ReadPage(ref.Hash)
			if err != nil {
				return err
			}
			out = append(out, data[:ref.Length]...)
		}
		return nil
	}))
	return out
}

func size(n int64) *int64 { return &n }

func TestWriteRoundTrip(t *testing.T) {
	st := newStore(t)
	rec := &chunkRecorder{}
	w := New(st, Options{ChunkSize: 4, Hooks: hooks.NewRegistry(rec)})

	content := []byte("hello, paged world")
	target := createRecord(t, st, "/a.txt", size(int64(len(content))))

	res, err := w.Write(context.Background(), target, bytes.NewReader(content))
	require.NoError(t, err)

	want := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(want[:]), res.Hash)
	assert.Equal(t, int64(len(content)), res.Size)
	assert.Equal(t, 5, res.Chunks)
	assert.Equal(t, []int64{0, 4, 8, 12, 16}, rec.offsets)

	assert.True(t, res.Record.UploadComplete)
	assert.Greater(t, res.Record.Version, target.Version)
	assert.Equal(t, "18", res.Record.Metadata[ContentLengthKey])
	assert.Equal(t, "x", res.Record.Metadata["Creation-Date"])

	assert.Equal(t, content, readBack(t, st, "/a.txt"))
}

func TestWriteUnknownLength(t *testing.T) {
	st := newStore(t)
	w := New(st, Options{ChunkSize: 8})
	target := createRecord(t, st, "/chunked", nil)

	res, err := w.Write(context.Background(), target, strings.NewReader("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Size)
}

func TestWriteEmptyStream(t *testing.T) {
	st := newStore(t)
	w := New(st, Options{})
	target := createRecord(t, st, "/empty", size(0))

	res, err := w.Write(context.Background(), target, bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Zero(t, res.Chunks)
	assert.Equal(t, "0", res.Record.Metadata[ContentLengthKey])
}

func TestWriteSizeMismatch(t *testing.T) {
	st := newStore(t)
	w := New(st, Options{ChunkSize: 4})
	target := createRecord(t, st, "/short", size(10))

	_, err := w.Write(context.Background(), target, strings.NewReader("12345"))

	var mismatch *SizeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, int64(10), mismatch.Declared)
	assert.Equal(t, int64(5), mismatch.Actual)

	require.NoError(t, st.View(context.Background(), func(tx storage.Txn) error {
		rec, err := tx.ReadRecord("/short")
		require.NoError(t, err)
		assert.False(t, rec.UploadComplete, "a mismatched upload is never marked complete")
		return nil
	}))
}

func TestWriteRetriesTransientConflicts(t *testing.T) {
	base := newStore(t)
	target := createRecord(t, base, "/a", nil)

	st := &flakyStore{Store: base, failures: 3}
	w := New(st, Options{ChunkSize: 64, MaxAttempts: 5, RetryBackoff: time.Millisecond})

	_, err := w.Write(context.Background(), target, strings.NewReader("data"))
	require.NoError(t, err)
	// three conflicts, the successful chunk batch, the finalize batch
	assert.Equal(t, int64(5), st.calls.Load())
}

func TestWriteConflictBound(t *testing.T) {
	base := newStore(t)
	target := createRecord(t, base, "/a", nil)

	st := &flakyStore{Store: base, failures: -1}
	w := New(st, Options{ChunkSize: 64, MaxAttempts: 7, RetryBackoff: time.Millisecond})

	_, err := w.Write(context.Background(), target, strings.NewReader("data"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, int64(7), st.calls.Load(), "exactly the configured number of attempts")
}

func TestWriteSuperseded(t *testing.T) {
	st := newStore(t)
	w := New(st, Options{ChunkSize: 4})
	target := createRecord(t, st, "/a", nil)

	// Another operation replaces the record
	require.NoError(t, st.Batch(context.Background(), func(tx storage.Txn) error {
		if err := tx.DeleteRecord("/a"); err != nil {
			return err
		}
		_, err := tx.PutRecord("/a", nil, storage.Metadata{})
		return err
	}))

	_, err := w.Write(context.Background(), target, strings.NewReader("data"))
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Empty(t, readBack(t, st, "/a"))
}

func TestWriteCancelled(t *testing.T) {
	st := newStore(t)
	w := New(st, Options{ChunkSize: 4})
	target := createRecord(t, st, "/a", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Write(ctx, target, strings.NewReader("data"))
	assert.ErrorIs(t, err, context.Canceled)
}
