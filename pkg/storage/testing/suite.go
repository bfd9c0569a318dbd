// Package testing provides a conformance suite run against every
// storage.Store engine.
package testing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/pagefs/pkg/storage"
)

// StoreTestSuite runs the engine conformance tests.
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test
	NewStore func(t *testing.T) storage.Store
}

// Run executes all tests in the suite.
func (s *StoreTestSuite) Run(t *testing.T) {
	t.Run("Records", s.RunRecordTests)
	t.Run("Pages", s.RunPageTests)
	t.Run("Config", s.RunConfigTests)
	t.Run("Transactions", s.RunTransactionTests)
}

func (s *StoreTestSuite) store(t *testing.T) storage.Store {
	t.Helper()
	st := s.NewStore(t)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func size(n int64) *int64 { return &n }

// putFile writes a complete file made of the given pages.
func putFile(t *testing.T, st storage.Store, path string, pages ...[]byte) {
	t.Helper()
	require.NoError(t, st.Batch(context.Background(), func(tx storage.Txn) error {
		if _, err := tx.PutRecord(path, nil, storage.Metadata{}); err != nil {
			return err
		}
		var offset int64
		for _, p := range pages {
			hash, err := tx.InsertPage(p)
			if err != nil {
				return err
			}
			if err := tx.AssociatePage(path, hash, offset, len(p)); err != nil {
				return err
			}
			offset += int64(len(p))
		}
		return tx.CompleteUpload(path)
	}))
}

func readRecord(t *testing.T, st storage.Store, path string) (*storage.FileRecord, error) {
	t.Helper()
	var rec *storage.FileRecord
	err := st.View(context.Background(), func(tx storage.Txn) error {
		var err error
		rec, err = tx.ReadRecord(path)
		return err
	})
	return rec, err
}

// ============================================================================
// Records
// ============================================================================

func (s *StoreTestSuite) RunRecordTests(t *testing.T) {
	t.Run("PutAndRead", s.testPutAndRead)
	t.Run("PutDuplicate", s.testPutDuplicate)
	t.Run("UpdateMetadataAdvancesVersion", s.testUpdateMetadata)
	t.Run("UpdateMetadataVersionMismatch", s.testUpdateMetadataMismatch)
	t.Run("RenamePreservesVersionAndPages", s.testRename)
	t.Run("RenameOntoExisting", s.testRenameOntoExisting)
	t.Run("DeleteRecord", s.testDeleteRecord)
	t.Run("ListRecords", s.testListRecords)
	t.Run("RecordCount", s.testRecordCount)
}

func (s *StoreTestSuite) testPutAndRead(t *testing.T) {
	st := s.store(t)
	ctx := context.Background()

	require.NoError(t, st.Batch(ctx, func(tx storage.Txn) error {
		rec, err := tx.PutRecord("/a", size(10), storage.Metadata{"k": "v"})
		require.NoError(t, err)
		assert.NotZero(t, rec.Version)
		return nil
	}))

	rec, err := readRecord(t, st, "/a")
	require.NoError(t, err)
	assert.Equal(t, "/a", rec.Path)
	assert.Equal(t, "v", rec.Metadata["k"])
	require.NotNil(t, rec.DeclaredSize)
	assert.Equal(t, int64(10), *rec.DeclaredSize)
	assert.False(t, rec.UploadComplete)

	_, err = readRecord(t, st, "/missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func (s *StoreTestSuite) testPutDuplicate(t *testing.T) {
	st := s.store(t)
	putFile(t, st, "/a")

	err := st.Batch(context.Background(), func(tx storage.Txn) error {
		_, err := tx.PutRecord("/a", nil, storage.Metadata{})
		return err
	})
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func (s *StoreTestSuite) testUpdateMetadata(t *testing.T) {
	st := s.store(t)
	putFile(t, st, "/a")
	before, err := readRecord(t, st, "/a")
	require.NoError(t, err)

	require.NoError(t, st.Batch(context.Background(), func(tx storage.Txn) error {
		_, err := tx.UpdateMetadata("/a", storage.Metadata{"x": "1"}, &before.Version)
		return err
	}))

	after, err := readRecord(t, st, "/a")
	require.NoError(t, err)
	assert.Greater(t, after.Version, before.Version)
	assert.Equal(t, storage.Metadata{"x": "1"}, after.Metadata)
}

func (s *StoreTestSuite) testUpdateMetadataMismatch(t *testing.T) {
	st := s.store(t)
	putFile(t, st, "/a")
	rec, err := readRecord(t, st, "/a")
	require.NoError(t, err)

	stale := rec.Version + 100
	err = st.Batch(context.Background(), func(tx storage.Txn) error {
		_, err := tx.UpdateMetadata("/a", storage.Metadata{}, &stale)
		return err
	})

	var mismatch *storage.VersionMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, stale, mismatch.Expected)
	assert.Equal(t, rec.Version, mismatch.Actual)
}

func (s *StoreTestSuite) testRename(t *testing.T) {
	st := s.store(t)
	putFile(t, st, "/old", []byte("hello "), []byte("world"))
	before, err := readRecord(t, st, "/old")
	require.NoError(t, err)

	require.NoError(t, st.Batch(context.Background(), func(tx storage.Txn) error {
		return tx.RenamePath("/old", "/new", false)
	}))

	_, err = readRecord(t, st, "/old")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	after, err := readRecord(t, st, "/new")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, int64(11), after.UploadedSize)

	require.NoError(t, st.View(context.Background(), func(tx storage.Txn) error {
		refs, err := tx.ReadPages("/new")
		require.NoError(t, err)
		require.Len(t, refs, 2)
		assert.Equal(t, int64(6), refs[1].Offset)

		old, err := tx.ReadPages("/old")
		require.NoError(t, err)
		assert.Empty(t, old)
		return nil
	}))
}

func (s *StoreTestSuite) testRenameOntoExisting(t *testing.T) {
	st := s.store(t)
	putFile(t, st, "/src", []byte("src"))
	putFile(t, st, "/dst", []byte("dst"))

	err := st.Batch(context.Background(), func(tx storage.Txn) error {
		return tx.RenamePath("/src", "/dst", false)
	})
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	require.NoError(t, st.Batch(context.Background(), func(tx storage.Txn) error {
		return tx.RenamePath("/src", "/dst", true)
	}))

	require.NoError(t, st.View(context.Background(), func(tx storage.Txn) error {
		refs, err := tx.ReadPages("/dst")
		require.NoError(t, err)
		require.Len(t, refs, 1)
		data, err := tx.ReadPage(refs[0].Hash)
		require.NoError(t, err)
		assert.Equal(t, "src", string(data))

		n, err := tx.RecordCount()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return nil
	}))
}

func (s *StoreTestSuite) testDeleteRecord(t *testing.T) {
	st := s.store(t)
	putFile(t, st, "/a", []byte("shared"), []byte("only-a"))
	putFile(t, st, "/b", []byte("shared"))

	require.NoError(t, st.Batch(context.Background(), func(tx storage.Txn) error {
		return tx.DeleteRecord("/a")
	}))

	require.NoError(t, st.View(context.Background(), func(tx storage.Txn) error {
		_, err := tx.ReadRecord("/a")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		hashes, err := tx.ListPageHashes()
		require.NoError(t, err)
		assert.Len(t, hashes, 1, "page still referenced by /b survives")

		refs, err := tx.ReadPages("/b")
		require.NoError(t, err)
		require.Len(t, refs, 1)
		_, err = tx.ReadPage(refs[0].Hash)
		assert.NoError(t, err)

		has, err := tx.HasPage(refs[0].Hash)
		require.NoError(t, err)
		assert.True(t, has)

		has, err = tx.HasPage(hashes[0] + "0")
		require.NoError(t, err)
		assert.False(t, has)
		return nil
	}))

	err := st.Batch(context.Background(), func(tx storage.Txn) error {
		return tx.DeleteRecord("/a")
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func (s *StoreTestSuite) testListRecords(t *testing.T) {
	st := s.store(t)
	for _, p := range []string{"/dir/c", "/dir/a", "/other", "/dir/b"} {
		putFile(t, st, p)
	}

	require.NoError(t, st.View(context.Background(), func(tx storage.Txn) error {
		all, err := tx.ListRecords("/dir/", 0, 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "/dir/a", all[0].Path)
		assert.Equal(t, "/dir/c", all[2].Path)

		page, err := tx.ListRecords("/dir/", 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "/dir/b", page[0].Path)
		return nil
	}))
}

func (s *StoreTestSuite) testRecordCount(t *testing.T) {
	st := s.store(t)
	putFile(t, st, "/a")
	putFile(t, st, "/b")

	require.NoError(t, st.Batch(context.Background(), func(tx storage.Txn) error {
		require.NoError(t, tx.DecrementRecordCount("/a"))
		// Already uncounted: no effect
		require.NoError(t, tx.DecrementRecordCount("/a"))
		// Deleting an uncounted record leaves the count alone
		return tx.DeleteRecord("/a")
	}))

	require.NoError(t, st.View(context.Background(), func(tx storage.Txn) error {
		n, err := tx.RecordCount()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return nil
	}))
}

// ============================================================================
// Pages
// ============================================================================

func (s *StoreTestSuite) RunPageTests(t *testing.T) {
	t.Run("InsertPageDeduplicates", s.testInsertPageDedup)
	t.Run("AssociateOutOfOrder", s.testAssociateOutOfOrder)
	t.Run("AssociateAfterComplete", s.testAssociateAfterComplete)
	t.Run("ReadPages", s.testReadPages)
}

func (s *StoreTestSuite) testInsertPageDedup(t *testing.T) {
	st := s.store(t)

	require.NoError(t, st.Batch(context.Background(), func(tx storage.Txn) error {
		h1, err := tx.InsertPage([]byte("same"))
		require.NoError(t, err)
		h2, err := tx.InsertPage([]byte("same"))
		require.NoError(t, err)
		assert.Equal(t, h1, h2)

		hashes, err := tx.ListPageHashes()
		require.NoError(t, err)
		assert.Len(t, hashes, 1)
		return nil
	}))
}

func (s *StoreTestSuite) testAssociateOutOfOrder(t *testing.T) {
	st := s.store(t)

	err := st.Batch(context.Background(), func(tx storage.Txn) error {
		if _, err := tx.PutRecord("/a", nil, storage.Metadata{}); err != nil {
			return err
		}
		hash, err := tx.InsertPage([]byte("data"))
		if err != nil {
			return err
		}
		return tx.AssociatePage("/a", hash, 100, 4)
	})
	assert.ErrorIs(t, err, storage.ErrInvalidOffset)
}

func (s *StoreTestSuite) testAssociateAfterComplete(t *testing.T) {
	st := s.store(t)
	putFile(t, st, "/a", []byte("x"))

	err := st.Batch(context.Background(), func(tx storage.Txn) error {
		hash, err := tx.InsertPage([]byte("y"))
		if err != nil {
			return err
		}
		return tx.AssociatePage("/a", hash, 1, 1)
	})
	assert.ErrorIs(t, err, storage.ErrUploadComplete)
}

func (s *StoreTestSuite) testReadPages(t *testing.T) {
	st := s.store(t)
	putFile(t, st, "/a", []byte("one"), []byte("two"), []byte("three"))

	require.NoError(t, st.View(context.Background(), func(tx storage.Txn) error {
		refs, err := tx.ReadPages("/a")
		require.NoError(t, err)
		require.Len(t, refs, 3)

		var content []byte
		for _, ref := range refs {
			data, err := tx.ReadPage(ref.Hash)
			require.NoError(t, err)
			content = append(content, data[:ref.Length]...)
		}
		assert.Equal(t, "onetwothree", string(content))

		rec, err := tx.ReadRecord("/a")
		require.NoError(t, err)
		assert.True(t, rec.UploadComplete)
		assert.Equal(t, int64(11), rec.UploadedSize)
		return nil
	}))
}

// ============================================================================
// Config
// ============================================================================

func (s *StoreTestSuite) RunConfigTests(t *testing.T) {
	st := s.store(t)
	ctx := context.Background()

	require.NoError(t, st.Batch(ctx, func(tx storage.Txn) error {
		require.NoError(t, tx.SetConfig("op/rename/b", []byte("2")))
		require.NoError(t, tx.SetConfig("op/rename/a", []byte("1")))
		require.NoError(t, tx.SetConfig("op/delete/x", []byte("3")))
		return nil
	}))

	require.NoError(t, st.View(ctx, func(tx storage.Txn) error {
		v, err := tx.GetConfig("op/rename/a")
		require.NoError(t, err)
		assert.Equal(t, "1", string(v))

		_, err = tx.GetConfig("missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		entries, err := tx.ListConfigs("op/rename/", 0, 0)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "op/rename/a", entries[0].Name)

		entries, err = tx.ListConfigs("op/", 1, 1)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "op/rename/a", entries[0].Name)
		return nil
	}))

	require.NoError(t, st.Batch(ctx, func(tx storage.Txn) error {
		require.NoError(t, tx.DeleteConfig("op/rename/a"))
		return tx.DeleteConfig("never-existed")
	}))

	require.NoError(t, st.View(ctx, func(tx storage.Txn) error {
		_, err := tx.GetConfig("op/rename/a")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		return nil
	}))
}

// ============================================================================
// Transactions
// ============================================================================

func (s *StoreTestSuite) RunTransactionTests(t *testing.T) {
	t.Run("RollbackOnError", s.testRollback)
	t.Run("ViewIsReadOnly", s.testViewReadOnly)
	t.Run("ReadYourWrites", s.testReadYourWrites)
}

func (s *StoreTestSuite) testRollback(t *testing.T) {
	st := s.store(t)
	boom := errors.New("boom")

	err := st.Batch(context.Background(), func(tx storage.Txn) error {
		if _, err := tx.PutRecord("/a", nil, storage.Metadata{}); err != nil {
			return err
		}
		if err := tx.SetConfig("k", []byte("v")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = readRecord(t, st, "/a")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, st.View(context.Background(), func(tx storage.Txn) error {
		_, err := tx.GetConfig("k")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		n, err := tx.RecordCount()
		require.NoError(t, err)
		assert.Zero(t, n)
		return nil
	}))
}

func (s *StoreTestSuite) testViewReadOnly(t *testing.T) {
	st := s.store(t)

	err := st.View(context.Background(), func(tx storage.Txn) error {
		_, err := tx.PutRecord("/a", nil, storage.Metadata{})
		return err
	})
	assert.ErrorIs(t, err, storage.ErrReadOnly)
}

func (s *StoreTestSuite) testReadYourWrites(t *testing.T) {
	st := s.store(t)

	require.NoError(t, st.Batch(context.Background(), func(tx storage.Txn) error {
		_, err := tx.PutRecord("/a", nil, storage.Metadata{})
		require.NoError(t, err)
		require.NoError(t, tx.RenamePath("/a", "/b", false))

		_, err = tx.ReadRecord("/a")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = tx.ReadRecord("/b")
		assert.NoError(t, err)
		return nil
	}))
}
