// Package memstore implements kvstore.Store on in-memory B-trees.
//
// Each table is an ordered B-tree of key/value pairs. The store is used by
// tests and by ephemeral single-node deployments where metadata does not
// need to survive a restart.
package memstore

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"github.com/loomfs/loomfs/pkg/metaserver/kvstore"
)

const btreeDegree = 32

type row struct {
	key   []byte
	value []byte
}

func rowLess(a, b row) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// Store is an in-memory kvstore.Store.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*btree.BTreeG[row]
}

// New creates an unopened memory store.
func New() *Store {
	return &Store{}
}

// Open initializes the table map. It is idempotent.
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables == nil {
		s.tables = make(map[string]*btree.BTreeG[row])
	}
	return nil
}

// Close drops all tables.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = nil
	return nil
}

func (s *Store) table(name string, create bool) *btree.BTreeG[row] {
	t, ok := s.tables[name]
	if !ok && create {
		t = btree.NewG(btreeDegree, rowLess)
		s.tables[name] = t
	}
	return t
}

// Get returns the value for key, or kvstore.ErrKeyNotFound.
func (s *Store) Get(table string, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.table(table, false)
	if t == nil {
		return nil, kvstore.ErrKeyNotFound
	}
	r, ok := t.Get(row{key: key})
	if !ok {
		return nil, kvstore.ErrKeyNotFound
	}
	return append([]byte(nil), r.value...), nil
}

// Put stores value under key.
func (s *Store) Put(table string, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table(table, true)
	t.ReplaceOrInsert(row{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(table string, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t := s.table(table, false); t != nil {
		t.Delete(row{key: key})
	}
	return nil
}

// Scan returns an iterator over [start, end) in table. The matching rows are
// collected up front under the read lock, so the iterator stays valid across
// concurrent writes.
func (s *Store) Scan(table string, start, end []byte) (kvstore.Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []row
	if t := s.table(table, false); t != nil {
		t.AscendGreaterOrEqual(row{key: start}, func(r row) bool {
			if end != nil && bytes.Compare(r.key, end) >= 0 {
				return false
			}
			rows = append(rows, row{
				key:   append([]byte(nil), r.key...),
				value: append([]byte(nil), r.value...),
			})
			return true
		})
	}

	return &sliceIterator{rows: rows, pos: -1}, nil
}

// DropTable removes every row of table.
func (s *Store) DropTable(table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables, table)
	return nil
}

type sliceIterator struct {
	rows []row
	pos  int
}

func (it *sliceIterator) Next() bool {
	if it.pos+1 >= len(it.rows) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Key() []byte   { return it.rows[it.pos].key }
func (it *sliceIterator) Value() []byte { return it.rows[it.pos].value }
func (it *sliceIterator) Err() error    { return nil }
func (it *sliceIterator) Close()        {}
