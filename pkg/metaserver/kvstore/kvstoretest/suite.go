// Package kvstoretest provides a conformance suite for kvstore.Store
// implementations. Every backend must pass it; the dentry engine depends on
// exactly the semantics it asserts (byte-ordered scans, half-open ranges,
// table isolation, drop behavior).
package kvstoretest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomfs/loomfs/pkg/metaserver/kvstore"
)

// StoreFactory creates a fresh, opened Store for a test. Factories use
// t.TempDir() for backends that need a filesystem path and t.Cleanup() for
// teardown.
type StoreFactory func(t *testing.T) kvstore.Store

// RunConformanceSuite runs the full suite against the factory. Each subtest
// gets a fresh store instance to ensure isolation.
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()

	t.Run("GetPutDelete", func(t *testing.T) { testGetPutDelete(t, factory(t)) })
	t.Run("ScanOrdering", func(t *testing.T) { testScanOrdering(t, factory(t)) })
	t.Run("ScanBounds", func(t *testing.T) { testScanBounds(t, factory(t)) })
	t.Run("TableIsolation", func(t *testing.T) { testTableIsolation(t, factory(t)) })
	t.Run("DropTable", func(t *testing.T) { testDropTable(t, factory(t)) })
}

func testGetPutDelete(t *testing.T, store kvstore.Store) {
	_, err := store.Get("tbl", []byte("missing"))
	require.ErrorIs(t, err, kvstore.ErrKeyNotFound)

	require.NoError(t, store.Put("tbl", []byte("k"), []byte("v1")))
	got, err := store.Get("tbl", []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	// Overwrite
	require.NoError(t, store.Put("tbl", []byte("k"), []byte("v2")))
	got, err = store.Get("tbl", []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, store.Delete("tbl", []byte("k")))
	_, err = store.Get("tbl", []byte("k"))
	require.ErrorIs(t, err, kvstore.ErrKeyNotFound)

	// Deleting a missing key is not an error.
	require.NoError(t, store.Delete("tbl", []byte("k")))
}

func testScanOrdering(t *testing.T, store kvstore.Store) {
	// Insert out of order, expect byte-ascending iteration.
	keys := [][]byte{
		{0x02, 0x00},
		{0x01},
		{0x01, 0x00},
		{0x01, 0xff},
		{0x02},
	}
	for _, k := range keys {
		require.NoError(t, store.Put("tbl", k, k))
	}

	it, err := store.Scan("tbl", nil, nil)
	require.NoError(t, err)
	defer it.Close()

	var got [][]byte
	for it.Next() {
		got = append(got, append([]byte(nil), it.Key()...))
	}
	require.NoError(t, it.Err())

	want := [][]byte{
		{0x01},
		{0x01, 0x00},
		{0x01, 0xff},
		{0x02},
		{0x02, 0x00},
	}
	assert.Equal(t, want, got)
}

func testScanBounds(t *testing.T, store kvstore.Store) {
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.Put("tbl", []byte(k), []byte(k)))
	}

	// Half-open [b, d): includes b and c, excludes d.
	it, err := store.Scan("tbl", []byte("b"), []byte("d"))
	require.NoError(t, err)
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"b", "c"}, got)

	// nil end scans to the end of the table.
	it2, err := store.Scan("tbl", []byte("c"), nil)
	require.NoError(t, err)
	defer it2.Close()

	got = nil
	for it2.Next() {
		got = append(got, string(it2.Key()))
	}
	require.NoError(t, it2.Err())
	assert.Equal(t, []string{"c", "d"}, got)

	// Empty range.
	it3, err := store.Scan("tbl", []byte("x"), nil)
	require.NoError(t, err)
	defer it3.Close()
	assert.False(t, it3.Next())
	require.NoError(t, it3.Err())
}

func testTableIsolation(t *testing.T, store kvstore.Store) {
	require.NoError(t, store.Put("alpha", []byte("k"), []byte("a")))
	require.NoError(t, store.Put("beta", []byte("k"), []byte("b")))

	got, err := store.Get("alpha", []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)

	got, err = store.Get("beta", []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), got)

	// A scan of one table never sees the other's rows.
	it, err := store.Scan("alpha", nil, nil)
	require.NoError(t, err)
	defer it.Close()

	count := 0
	for it.Next() {
		count++
		assert.Equal(t, []byte("a"), it.Value())
	}
	require.NoError(t, it.Err())
	assert.Equal(t, 1, count)
}

func testDropTable(t *testing.T, store kvstore.Store) {
	require.NoError(t, store.Put("tbl", []byte("k1"), []byte("v")))
	require.NoError(t, store.Put("tbl", []byte("k2"), []byte("v")))
	require.NoError(t, store.Put("other", []byte("k"), []byte("v")))

	require.NoError(t, store.DropTable("tbl"))

	_, err := store.Get("tbl", []byte("k1"))
	require.ErrorIs(t, err, kvstore.ErrKeyNotFound)
	_, err = store.Get("tbl", []byte("k2"))
	require.ErrorIs(t, err, kvstore.ErrKeyNotFound)

	// Other tables are untouched.
	got, err := store.Get("other", []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	// Dropping an empty or missing table is fine.
	require.NoError(t, store.DropTable("tbl"))
}
