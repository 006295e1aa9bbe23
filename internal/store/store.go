// Package store wraps badger as the durable key-value layer behind the
// mempool and ledger, using the key prefixes from spec §6: rawTx:,
// processingTx:, tx:, lockedUtxo, block:, cube:. Persistence failures are
// logged and swallowed everywhere this package is used — the system
// prefers liveness over perfect recovery (spec §4.3, §4.10, §7).
package store

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// Store is a thin wrapper over a badger.DB adding prefix iteration, the
// one access pattern every caller here needs on top of plain get/set.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a badger database at path. An empty path opens
// an in-memory store, used by tests and by nodes that opt out of
// persistence entirely.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes key=value. Failures are logged by the caller's choice; Put
// itself just returns the error so the caller can decide whether this is
// one of the "log and continue" sites in spec §7.
func (s *Store) Put(key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Get returns the value for key, or (nil, false) if absent.
func (s *Store) Get(key string) ([]byte, bool) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, false
	}
	return out, true
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// ForEachPrefix calls fn for every key/value pair whose key starts with
// prefix, in key order. Used to rehydrate mempool state on restart.
func (s *Store) ForEachPrefix(prefix string, fn func(key string, value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			var val []byte
			if err := item.Value(func(v []byte) error {
				val = append([]byte(nil), v...)
				return nil
			}); err != nil {
				logrus.WithError(err).Warn("store: read value during prefix scan")
				continue
			}
			if err := fn(string(item.Key()), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutLogged writes key=value and logs+swallows any error, matching the
// "persistence failures never abort the in-memory transition" policy of
// spec §4.3/§4.10/§7.
func (s *Store) PutLogged(key string, value []byte) {
	if err := s.Put(key, value); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("store: persist failed")
	}
}

// DeleteLogged removes key and logs+swallows any error.
func (s *Store) DeleteLogged(key string) {
	if err := s.Delete(key); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("store: delete failed")
	}
}
