package utils

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

// DiskStore is a small badger-backed key/value store used for warm-start
// snapshots.
type DiskStore struct {
	db *badger.DB
}

func OpenDiskStore(path string) (*DiskStore, error) {
	opts := badger.DefaultOptions(path)
	// Decrease logging verbosity
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &DiskStore{db: db}, nil
}

func (s *DiskStore) Close() error {
	return s.db.Close()
}

func (s *DiskStore) Put(key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Get returns nil without an error when key is absent.
func (s *DiskStore) Get(key string) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	return val, err
}

func (s *DiskStore) BatchPutRaw(entries map[string][]byte) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for k, v := range entries {
		if err := wb.Set([]byte(k), v); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// ForEachPrefix visits keys starting with prefix in key order.
func (s *DiskStore) ForEachPrefix(prefix string, fn func(k, v []byte) error) error {
	p := []byte(prefix)
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			k := item.Key()
			err := item.Value(func(v []byte) error {
				return fn(k, v)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplacePrefix drops every key under prefix and writes entries in its place.
func (s *DiskStore) ReplacePrefix(prefix string, entries map[string][]byte) error {
	if err := s.db.DropPrefix([]byte(prefix)); err != nil {
		return err
	}
	return s.BatchPutRaw(entries)
}
