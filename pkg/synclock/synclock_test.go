package synclock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	blobmemory "github.com/marmos91/pagefs/pkg/blob/memory"
	"github.com/marmos91/pagefs/pkg/storage"
	"github.com/marmos91/pagefs/pkg/storage/memory"
)

func TestLockLifecycle(t *testing.T) {
	st := memory.NewMemoryStore(blobmemory.NewMemoryBlobStore())
	defer st.Close()
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(time.Minute)
	m.SetClock(func() time.Time { return now })

	require.NoError(t, st.Batch(ctx, func(tx storage.Txn) error {
		return m.Lock(tx, "/a.txt", "replica-1")
	}))

	require.NoError(t, st.Batch(ctx, func(tx storage.Txn) error {
		locked, err := m.Check(tx, "/a.txt")
		require.NoError(t, err)
		assert.True(t, locked)

		locked, err = m.IsLocked(tx, "/other")
		require.NoError(t, err)
		assert.False(t, locked)
		return nil
	}))

	now = now.Add(2 * time.Minute)

	require.NoError(t, st.Batch(ctx, func(tx storage.Txn) error {
		locked, err := m.Check(tx, "/a.txt")
		require.NoError(t, err)
		assert.False(t, locked)
		return nil
	}))

	// Check cleared the expired entry
	require.NoError(t, st.View(ctx, func(tx storage.Txn) error {
		_, err := tx.GetConfig(Prefix + "/a.txt")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		return nil
	}))
}

func TestUnlock(t *testing.T) {
	st := memory.NewMemoryStore(blobmemory.NewMemoryBlobStore())
	defer st.Close()
	ctx := context.Background()
	m := NewManager(0)

	require.NoError(t, st.Batch(ctx, func(tx storage.Txn) error {
		require.NoError(t, m.Lock(tx, "/a", "me"))
		require.NoError(t, m.Unlock(tx, "/a"))
		require.NoError(t, m.Unlock(tx, "/a"))

		locked, err := m.IsLocked(tx, "/a")
		require.NoError(t, err)
		assert.False(t, locked)
		return nil
	}))
}
