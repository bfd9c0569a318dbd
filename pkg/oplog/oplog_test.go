package oplog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	blobmemory "github.com/marmos91/pagefs/pkg/blob/memory"
	"github.com/marmos91/pagefs/pkg/storage"
	"github.com/marmos91/pagefs/pkg/storage/memory"
)

func newStore(t *testing.T) storage.Store {
	t.Helper()
	st := memory.NewMemoryStore(blobmemory.NewMemoryBlobStore())
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRenameOperations(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	op := NewRenameOperation("/a.txt", "/b.txt", 7, storage.Metadata{"Content-Length": "10"})
	require.NotEqual(t, op.ID.String(), "00000000-0000-0000-0000-000000000000")

	require.NoError(t, st.Batch(ctx, func(tx storage.Txn) error {
		return PutRename(tx, op)
	}))

	require.NoError(t, st.View(ctx, func(tx storage.Txn) error {
		got, err := GetRename(tx, "/a.txt")
		require.NoError(t, err)
		assert.Equal(t, op, got)

		ops, err := ListRenames(tx, 0, 10)
		require.NoError(t, err)
		require.Len(t, ops, 1)
		assert.Equal(t, "/b.txt", ops[0].Target)
		assert.Equal(t, uint64(7), ops[0].SourceVersion)

		deletes, err := ListDeletes(tx, 0, 10)
		require.NoError(t, err)
		assert.Empty(t, deletes)
		return nil
	}))

	require.NoError(t, st.Batch(ctx, func(tx storage.Txn) error {
		return DeleteRename(tx, "/a.txt")
	}))

	require.NoError(t, st.View(ctx, func(tx storage.Txn) error {
		_, err := GetRename(tx, "/a.txt")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		return nil
	}))
}

func TestDeleteOperationsListInBatches(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	require.NoError(t, st.Batch(ctx, func(tx storage.Txn) error {
		for _, p := range []string{"/c", "/a", "/b"} {
			if err := PutDelete(tx, NewDeleteOperation(p, p+"$deleting")); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, st.View(ctx, func(tx storage.Txn) error {
		first, err := ListDeletes(tx, 0, 2)
		require.NoError(t, err)
		require.Len(t, first, 2)
		assert.Equal(t, "/a", first[0].OriginalPath)
		assert.Equal(t, "/b$deleting", first[1].CurrentPath)

		rest, err := ListDeletes(tx, 2, 2)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, "/c", rest[0].OriginalPath)
		return nil
	}))
}

func TestIsOperationKey(t *testing.T) {
	assert.True(t, IsOperationKey(RenameKey("/x")))
	assert.True(t, IsOperationKey(DeleteKey("/x$deleting")))
	assert.False(t, IsOperationKey("sync/lock/x"))
}
