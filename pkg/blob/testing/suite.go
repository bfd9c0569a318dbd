package testing

import (
	"context"
	"errors"
	"testing"

	"github.com/marmos91/pagefs/pkg/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite exercises the blob.Store contract. It is reused by every
// backend so they all behave the same way.
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test.
	NewStore func(t *testing.T) blob.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("PutGet", suite.testPutGet)
	t.Run("GetMissing", suite.testGetMissing)
	t.Run("PutIdempotent", suite.testPutIdempotent)
	t.Run("Delete", suite.testDelete)
	t.Run("List", suite.testList)
}

const (
	hashA = "aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11"
	hashB = "bb22bb22bb22bb22bb22bb22bb22bb22bb22bb22bb22bb22bb22bb22bb22bb22"
)

func (suite *StoreTestSuite) testPutGet(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	data := []byte("the quick brown fox jumps over the lazy dog")
	require.NoError(t, store.Put(ctx, hashA, data))

	got, err := store.Get(ctx, hashA)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	exists, err := store.Exists(ctx, hashA)
	require.NoError(t, err)
	assert.True(t, exists)
}

func (suite *StoreTestSuite) testGetMissing(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	_, err := store.Get(ctx, hashB)
	require.Error(t, err)
	assert.True(t, errors.Is(err, blob.ErrBlobNotFound), "expected ErrBlobNotFound, got %v", err)

	exists, err := store.Exists(ctx, hashB)
	require.NoError(t, err)
	assert.False(t, exists)
}

func (suite *StoreTestSuite) testPutIdempotent(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	data := []byte("same bytes twice")
	require.NoError(t, store.Put(ctx, hashA, data))
	require.NoError(t, store.Put(ctx, hashA, data))

	got, err := store.Get(ctx, hashA)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	infos, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func (suite *StoreTestSuite) testDelete(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	require.NoError(t, store.Put(ctx, hashA, []byte("doomed")))
	require.NoError(t, store.Delete(ctx, hashA))

	exists, err := store.Exists(ctx, hashA)
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting again is not an error
	require.NoError(t, store.Delete(ctx, hashA))
}

func (suite *StoreTestSuite) testList(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	require.NoError(t, store.Put(ctx, hashA, []byte("one")))
	require.NoError(t, store.Put(ctx, hashB, []byte("two")))

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	seen := map[string]bool{}
	for _, info := range infos {
		seen[info.Hash] = true
		assert.False(t, info.ModTime.IsZero(), "blob %s has no modification time", info.Hash)
	}
	assert.True(t, seen[hashA])
	assert.True(t, seen[hashB])
}
