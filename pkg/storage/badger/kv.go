package badger

import (
	"errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/marmos91/pagefs/internal/logger"
	"github.com/marmos91/pagefs/pkg/storage"
)

// kv adapts a badger.Txn to the engine's key-value interface.
type kv struct {
	txn *badger.Txn
}

func (k kv) Get(key []byte) ([]byte, error) {
	item, err := k.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (k kv) Set(key, value []byte) error {
	return k.txn.Set(key, value)
}

func (k kv) Delete(key []byte) error {
	return k.txn.Delete(key)
}

func (k kv) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := k.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(item.KeyCopy(nil), value); err != nil {
			return err
		}
	}
	return nil
}

// badgerLogger routes BadgerDB's internal logging through the service logger.
// Info chatter is demoted to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, v ...any) {
	logger.Error("badger: "+format, v...)
}

func (badgerLogger) Warningf(format string, v ...any) {
	logger.Warn("badger: "+format, v...)
}

func (badgerLogger) Infof(format string, v ...any) {
	logger.Debug("badger: "+format, v...)
}

func (badgerLogger) Debugf(format string, v ...any) {
	logger.Debug("badger: "+format, v...)
}
