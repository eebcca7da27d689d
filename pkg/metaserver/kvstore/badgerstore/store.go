// Package badgerstore implements kvstore.Store on BadgerDB.
//
// Tables are folded into the keyspace as a "<table>/" prefix, so one Badger
// instance hosts every partition's tables while preserving byte order within
// each table. This is the production backend: metadata survives restarts and
// range scans map directly onto Badger's LSM iterators.
package badgerstore

import (
	"bytes"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/loomfs/loomfs/internal/logger"
	"github.com/loomfs/loomfs/pkg/metaserver/kvstore"
)

// Config contains the options for opening a Badger-backed store.
type Config struct {
	// Dir is the directory where Badger keeps its value log and LSM tree.
	// Ignored when InMemory is set.
	Dir string

	// InMemory runs Badger without any files. Used by tests and ephemeral
	// deployments.
	InMemory bool

	// BlockCacheSizeMB is Badger's block cache size in MB (default 256).
	BlockCacheSizeMB int64

	// IndexCacheSizeMB is Badger's index cache size in MB (default 128).
	IndexCacheSizeMB int64
}

// Store is a kvstore.Store backed by BadgerDB.
type Store struct {
	config Config
	db     *badger.DB
}

// New creates an unopened Badger store. Call Open before use.
func New(config Config) *Store {
	return &Store{config: config}
}

// Open opens the underlying Badger database. It is idempotent.
func (s *Store) Open() error {
	if s.db != nil {
		return nil
	}

	opts := badger.DefaultOptions(s.config.Dir)
	if s.config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}

	// Metadata rows are small; compression overhead is not worth it.
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	blockCacheMB := s.config.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 256
	}
	indexCacheMB := s.config.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 128
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("failed to open badger at %q: %w", s.config.Dir, err)
	}
	s.db = db

	logger.Debug("badger store opened", "dir", s.config.Dir, "in_memory", s.config.InMemory)
	return nil
}

// Close closes the Badger database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger: %w", err)
	}
	s.db = nil
	return nil
}

// tablePrefix namespaces a table inside the shared keyspace. The separator
// may not appear in table names produced by kvstore.NameGenerator, so tables
// never overlap.
func tablePrefix(table string) []byte {
	return []byte(table + "/")
}

func fullKey(table string, key []byte) []byte {
	prefix := tablePrefix(table)
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	return append(out, key...)
}

// Get returns the value for key, or kvstore.ErrKeyNotFound.
func (s *Store) Get(table string, key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fullKey(table, key))
		if err == badger.ErrKeyNotFound {
			return kvstore.ErrKeyNotFound
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put stores value under key.
func (s *Store) Put(table string, key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(fullKey(table, key), value)
	})
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(table string, key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(fullKey(table, key))
	})
}

// Scan returns a lazy iterator over [start, end) in table. The iterator
// holds a read transaction until closed.
func (s *Store) Scan(table string, start, end []byte) (kvstore.Iterator, error) {
	prefix := tablePrefix(table)

	txn := s.db.NewTransaction(false)

	iterOpts := badger.DefaultIteratorOptions
	iterOpts.Prefix = prefix
	it := txn.NewIterator(iterOpts)
	it.Seek(fullKey(table, start))

	return &scanIterator{
		txn:    txn,
		it:     it,
		prefix: prefix,
		end:    end,
	}, nil
}

// DropTable removes every row of table.
func (s *Store) DropTable(table string) error {
	if err := s.db.DropPrefix(tablePrefix(table)); err != nil {
		return fmt.Errorf("failed to drop table %q: %w", table, err)
	}
	return nil
}

// scanIterator adapts a Badger iterator to kvstore.Iterator. Badger items
// are only valid until the iterator advances, so Key/Value return copies.
type scanIterator struct {
	txn    *badger.Txn
	it     *badger.Iterator
	prefix []byte
	end    []byte

	key     []byte
	value   []byte
	err     error
	started bool
	closed  bool
}

func (s *scanIterator) Next() bool {
	if s.closed || s.err != nil {
		return false
	}
	if s.started {
		s.it.Next()
	}
	s.started = true

	if !s.it.ValidForPrefix(s.prefix) {
		return false
	}

	item := s.it.Item()
	key := item.KeyCopy(nil)[len(s.prefix):]
	if s.end != nil && bytes.Compare(key, s.end) >= 0 {
		return false
	}

	value, err := item.ValueCopy(nil)
	if err != nil {
		s.err = err
		return false
	}

	s.key = key
	s.value = value
	return true
}

func (s *scanIterator) Key() []byte   { return s.key }
func (s *scanIterator) Value() []byte { return s.value }
func (s *scanIterator) Err() error    { return s.err }

func (s *scanIterator) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.it.Close()
	s.txn.Discard()
}
