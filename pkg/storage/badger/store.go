package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/pagefs/internal/logger"
	"github.com/marmos91/pagefs/pkg/blob"
	"github.com/marmos91/pagefs/pkg/storage"
	"github.com/marmos91/pagefs/pkg/storage/internal/engine"
)

// versionSequenceKey holds the leased counter behind version stamps.
var versionSequenceKey = []byte("meta:version_seq")

// versionLeaseBandwidth is how many version stamps are leased per disk write.
const versionLeaseBandwidth = 1000

// BadgerStore implements storage.Store on top of BadgerDB.
//
// Every batch is a BadgerDB read-write transaction. BadgerDB uses optimistic
// concurrency control: two batches that read and write overlapping keys both
// run to completion, and the second to commit fails with badger.ErrConflict,
// which is reported as storage.ErrConflict. The page writer and the lifecycle
// engine retry such batches.
//
// Version stamps come from a BadgerDB sequence. Leased stamps that are never
// used (crash, discarded batch) leave gaps; ordering is what matters.
type BadgerStore struct {
	db    *badger.DB
	seq   *badger.Sequence
	blobs blob.Store
}

var _ storage.Store = (*BadgerStore)(nil)

// BadgerStoreConfig contains configuration for creating a BadgerDB store.
type BadgerStoreConfig struct {
	// DBPath is the directory where BadgerDB will store its files
	DBPath string `mapstructure:"db_path"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 256)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 128)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_mb"`

	// SyncWrites forces an fsync on every commit
	SyncWrites bool `mapstructure:"sync_writes"`

	// InMemory runs BadgerDB without touching disk (tests)
	InMemory bool `mapstructure:"-"`
}

// NewBadgerStore opens (or creates) the database at config.DBPath.
//
// Parameters:
//   - ctx: Context for cancellation during initialization
//   - config: Database location and tuning
//   - blobs: Where page bytes are stored
//
// Returns:
//   - *BadgerStore: A store ready for concurrent use
//   - error: Error if the database cannot be opened or ctx is cancelled
func NewBadgerStore(ctx context.Context, config BadgerStoreConfig, blobs blob.Store) (*BadgerStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if blobs == nil {
		return nil, errors.New("badger store requires a blob store")
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if config.DBPath == "" {
			return nil, errors.New("badger store requires db_path")
		}
		opts = badger.DefaultOptions(config.DBPath)
	}

	// Records and page entries are small JSON documents
	opts = opts.WithCompression(options.None)
	opts = opts.WithSyncWrites(config.SyncWrites)
	opts = opts.WithLogger(badgerLogger{})

	blockCacheMB := config.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 256
	}
	indexCacheMB := config.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 128
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	seq, err := db.GetSequence(versionSequenceKey, versionLeaseBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open version sequence: %w", err)
	}

	return &BadgerStore{db: db, seq: seq, blobs: blobs}, nil
}

// nextVersion returns the next stamp. The sequence starts at 0; stamps start
// at 1 so the zero value never names a real version.
func (s *BadgerStore) nextVersion() (uint64, error) {
	n, err := s.seq.Next()
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

func (s *BadgerStore) Batch(ctx context.Context, fn func(tx storage.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return fn(engine.New(ctx, kv{txn: txn}, s.blobs, s.nextVersion, false))
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %v", storage.ErrConflict, err)
	}
	return err
}

func (s *BadgerStore) View(ctx context.Context, fn func(tx storage.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.View(func(txn *badger.Txn) error {
		return fn(engine.New(ctx, kv{txn: txn}, s.blobs, nil, true))
	})
}

// Close releases the version lease and closes the database.
func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		logger.Warn("Failed to release version sequence: %v", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

// RunValueLogGC reclaims space in BadgerDB's value log. It returns nil when
// there was nothing to rewrite.
func (s *BadgerStore) RunValueLogGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}
