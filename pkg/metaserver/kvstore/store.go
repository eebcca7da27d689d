// Package kvstore defines the ordered key-value storage capability consumed
// by the metadata server's storage engines.
//
// A Store organizes rows into named tables. Keys within a table are ordered
// by ascending byte order, which the dentry engine relies on for prefix and
// range scans. Implementations must be safe for concurrent use; atomicity
// across multiple calls is the caller's responsibility (the metadata engines
// are driven single-threadedly per partition by the log-application loop).
package kvstore

import "errors"

// ErrKeyNotFound is returned by Get when the key does not exist.
// Callers check it with errors.Is.
var ErrKeyNotFound = errors.New("kvstore: key not found")

// Store is an ordered key-value store partitioned into named tables.
type Store interface {
	// Open prepares the store for use. It must be called before any other
	// method and is idempotent.
	Open() error

	// Close releases all resources. The store must not be used afterwards.
	Close() error

	// Get returns the value stored under key in table, or ErrKeyNotFound.
	Get(table string, key []byte) ([]byte, error)

	// Put stores value under key in table, overwriting any existing value.
	Put(table string, key, value []byte) error

	// Delete removes key from table. Deleting a missing key is not an error.
	Delete(table string, key []byte) error

	// Scan returns an iterator over [start, end) in table, in ascending byte
	// order. A nil end scans to the end of the table. The iterator must be
	// closed by the caller.
	Scan(table string, start, end []byte) (Iterator, error)

	// DropTable removes every row of the given table.
	DropTable(table string) error
}

// Iterator walks a key range lazily. Usage:
//
//	it, err := store.Scan(table, start, end)
//	if err != nil { ... }
//	defer it.Close()
//	for it.Next() {
//	    _ = it.Key()
//	    _ = it.Value()
//	}
//	if err := it.Err(); err != nil { ... }
//
// Key and Value return buffers owned by the caller; they remain valid after
// the next call to Next.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close()
}
