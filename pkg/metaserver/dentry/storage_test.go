package dentry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomfs/loomfs/pkg/metaserver/kvstore"
	"github.com/loomfs/loomfs/pkg/metaserver/kvstore/badgerstore"
	"github.com/loomfs/loomfs/pkg/metaserver/kvstore/memstore"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	store := memstore.New()
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	s := New(store, kvstore.NewNameGenerator(1), nil)
	require.NoError(t, s.Init())
	return s
}

func file(name string, inodeID, txID uint64) *Dentry {
	return &Dentry{
		FsID:          1,
		ParentInodeID: 1,
		Name:          name,
		TxID:          txID,
		InodeID:       inodeID,
		Type:          FileTypeFile,
	}
}

func dir(name string, inodeID, txID uint64) *Dentry {
	d := file(name, inodeID, txID)
	d.Type = FileTypeDirectory
	return d
}

func tombstone(name string, txID uint64) *Dentry {
	return &Dentry{
		FsID:          1,
		ParentInodeID: 1,
		Name:          name,
		TxID:          txID,
		Flags:         FlagDeleteMark,
	}
}

func mustInsert(t *testing.T, s *Storage, d *Dentry) {
	t.Helper()
	st, err := s.Insert(d, 1)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
}

// prepare writes a chain row directly, bypassing Insert's visibility checks.
func prepare(t *testing.T, s *Storage, d *Dentry) {
	t.Helper()
	st, err := s.PrepareTx([]*Dentry{d}, nil, 1)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
}

func TestInsertBasic(t *testing.T) {
	s := newTestStorage(t)

	st, err := s.Insert(file("A", 2, 0), 1)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, int64(1), s.Size())

	// Replaying the identical request changes nothing.
	st, err = s.Insert(file("A", 2, 0), 2)
	require.NoError(t, err)
	assert.Equal(t, StatusIdempotenceOK, st)
	assert.Equal(t, int64(1), s.Size())
}

func TestInsertConflictingInode(t *testing.T) {
	s := newTestStorage(t)
	mustInsert(t, s, file("A", 2, 0))

	st, err := s.Insert(file("A", 3, 0), 2)
	require.NoError(t, err)
	assert.Equal(t, StatusDentryExists, st)
	assert.Equal(t, int64(1), s.Size())

	// The stored entry keeps its original target.
	got := file("A", 0, 0)
	st, err = s.Get(got)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	assert.Equal(t, uint64(2), got.InodeID)
}

func TestInsertSameTargetAtNewerTx(t *testing.T) {
	s := newTestStorage(t)
	mustInsert(t, s, file("A", 2, 0))

	// Same outcome at a later snapshot: redundant, no new version row.
	st, err := s.Insert(file("A", 2, 1), 2)
	require.NoError(t, err)
	assert.Equal(t, StatusIdempotenceOK, st)
	assert.Equal(t, int64(1), s.Size())
}

func TestInsertDifferentInodeAtNewerTx(t *testing.T) {
	s := newTestStorage(t)
	mustInsert(t, s, file("A", 2, 0))

	// The name is still occupied at the later snapshot.
	st, err := s.Insert(file("A", 3, 1), 2)
	require.NoError(t, err)
	assert.Equal(t, StatusDentryExists, st)
	assert.Equal(t, int64(1), s.Size())
}

func TestInsertCompactsRedundantVersions(t *testing.T) {
	s := newTestStorage(t)
	mustInsert(t, s, file("A", 2, 0))
	prepare(t, s, file("A", 2, 1))
	require.Equal(t, int64(2), s.Size())

	// The tx1 row repeats the tx0 outcome; the redundant insert both
	// reports idempotence and garbage-collects the duplicate row.
	st, err := s.Insert(file("A", 2, 1), 3)
	require.NoError(t, err)
	assert.Equal(t, StatusIdempotenceOK, st)
	assert.Equal(t, int64(1), s.Size())

	// Both snapshots still resolve to the same entry.
	for _, txID := range []uint64{0, 1} {
		got := file("A", 0, txID)
		st, err := s.Get(got)
		require.NoError(t, err)
		require.Equal(t, StatusOK, st)
		assert.Equal(t, uint64(2), got.InodeID)
	}
}

func TestInsertCompactionKeepsGroundVersion(t *testing.T) {
	s := newTestStorage(t)
	mustInsert(t, s, file("A", 2, 3))
	prepare(t, s, file("A", 2, 5))
	prepare(t, s, file("A", 2, 9))
	require.Equal(t, int64(3), s.Size())

	// Compaction at snapshot 5 may drop the tx5 duplicate but must keep
	// the tx3 ground and never touch the tx9 row beyond the snapshot.
	st, err := s.Insert(file("A", 2, 5), 4)
	require.NoError(t, err)
	assert.Equal(t, StatusIdempotenceOK, st)
	assert.Equal(t, int64(2), s.Size())

	got := file("A", 0, 3)
	st, err = s.Get(got)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)

	got = file("A", 0, 9)
	st, err = s.Get(got)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)
}

func TestInsertAfterTombstone(t *testing.T) {
	s := newTestStorage(t)
	prepare(t, s, tombstone("A", 0))

	// Re-writing the tombstone row byte for byte is a replay.
	st, err := s.Insert(tombstone("A", 0), 1)
	require.NoError(t, err)
	assert.Equal(t, StatusIdempotenceOK, st)

	// A live row at the tombstone's exact slot is a conflict.
	st, err = s.Insert(file("A", 2, 0), 2)
	require.NoError(t, err)
	assert.Equal(t, StatusDentryExists, st)

	// At a later snapshot the name is free again.
	st, err = s.Insert(file("A", 2, 1), 3)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, int64(2), s.Size())
}

func TestDeleteMissing(t *testing.T) {
	s := newTestStorage(t)

	st, err := s.Delete(file("A", 2, 0), 1)
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, st)
}

func TestDeleteBasic(t *testing.T) {
	s := newTestStorage(t)
	mustInsert(t, s, file("A", 2, 0))

	st, err := s.Delete(file("A", 2, 0), 2)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, int64(0), s.Size())

	st, err = s.Delete(file("A", 2, 0), 3)
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, st)
}

func TestDeleteAtLaterSnapshot(t *testing.T) {
	s := newTestStorage(t)
	mustInsert(t, s, file("A", 2, 0))

	st, err := s.Delete(file("A", 2, 5), 2)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, int64(0), s.Size())
}

func TestDeleteStaleRequestPreservesNewerVersion(t *testing.T) {
	s := newTestStorage(t)
	mustInsert(t, s, file("A", 2, 5))

	st, err := s.Delete(file("A", 2, 1), 2)
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, st)
	assert.Equal(t, int64(1), s.Size())

	got := file("A", 0, 5)
	st, err = s.Get(got)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)
}

func TestDeleteTombstonedEntry(t *testing.T) {
	s := newTestStorage(t)
	mustInsert(t, s, file("A", 2, 0))
	prepare(t, s, tombstone("A", 1))
	require.Equal(t, int64(2), s.Size())

	// Logically absent already; the dead chain is purged anyway.
	st, err := s.Delete(file("A", 2, 1), 2)
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, st)
	assert.Equal(t, int64(0), s.Size())
}

func TestDeletePurgesWholeChain(t *testing.T) {
	s := newTestStorage(t)
	mustInsert(t, s, file("A", 2, 0))
	prepare(t, s, file("A", 3, 1))
	prepare(t, s, file("A", 4, 2))
	require.Equal(t, int64(3), s.Size())

	st, err := s.Delete(file("A", 4, 2), 2)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, int64(0), s.Size())

	st, err = s.Get(file("A", 0, 0))
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, st)
}

func TestGet(t *testing.T) {
	s := newTestStorage(t)
	mustInsert(t, s, file("A", 2, 3))

	t.Run("missing name", func(t *testing.T) {
		d := file("B", 0, 10)
		st, err := s.Get(d)
		require.NoError(t, err)
		assert.Equal(t, StatusNotFound, st)
		assert.Equal(t, uint64(0), d.InodeID)
	})

	t.Run("before creation", func(t *testing.T) {
		st, err := s.Get(file("A", 0, 2))
		require.NoError(t, err)
		assert.Equal(t, StatusNotFound, st)
	})

	t.Run("at and after creation", func(t *testing.T) {
		for _, txID := range []uint64{3, 100} {
			d := file("A", 0, txID)
			st, err := s.Get(d)
			require.NoError(t, err)
			require.Equal(t, StatusOK, st)
			assert.Equal(t, uint64(2), d.InodeID)
			assert.Equal(t, uint64(3), d.TxID)
			assert.Equal(t, FileTypeFile, d.Type)
		}
	})

	t.Run("tombstoned", func(t *testing.T) {
		prepare(t, s, tombstone("A", 7))
		st, err := s.Get(file("A", 0, 7))
		require.NoError(t, err)
		assert.Equal(t, StatusNotFound, st)

		// Older snapshots still see the live version.
		st, err = s.Get(file("A", 0, 5))
		require.NoError(t, err)
		assert.Equal(t, StatusOK, st)
	})
}

func listNames(dentries []*Dentry) []string {
	names := make([]string, len(dentries))
	for i, d := range dentries {
		names[i] = d.Name
	}
	return names
}

func TestListEmptyDirectory(t *testing.T) {
	s := newTestStorage(t)

	out, st, err := s.List(file("", 0, 10), 0, false)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)
	assert.Empty(t, out)
}

func TestListOrderingAndVisibility(t *testing.T) {
	s := newTestStorage(t)
	mustInsert(t, s, file("b", 2, 0))
	mustInsert(t, s, dir("a", 3, 0))
	mustInsert(t, s, file("c", 4, 5))
	prepare(t, s, tombstone("b", 3))

	t.Run("snapshot before tombstone and late create", func(t *testing.T) {
		out, st, err := s.List(file("", 0, 2), 0, false)
		require.NoError(t, err)
		require.Equal(t, StatusOK, st)
		assert.Equal(t, []string{"a", "b"}, listNames(out))
	})

	t.Run("snapshot after tombstone", func(t *testing.T) {
		out, st, err := s.List(file("", 0, 4), 0, false)
		require.NoError(t, err)
		require.Equal(t, StatusOK, st)
		assert.Equal(t, []string{"a"}, listNames(out))
	})

	t.Run("latest snapshot", func(t *testing.T) {
		out, st, err := s.List(file("", 0, 10), 0, false)
		require.NoError(t, err)
		require.Equal(t, StatusOK, st)
		assert.Equal(t, []string{"a", "c"}, listNames(out))
	})

	t.Run("directories only", func(t *testing.T) {
		out, st, err := s.List(file("", 0, 10), 0, true)
		require.NoError(t, err)
		require.Equal(t, StatusOK, st)
		assert.Equal(t, []string{"a"}, listNames(out))
	})
}

func TestListResolvesOneEntryPerChain(t *testing.T) {
	s := newTestStorage(t)
	mustInsert(t, s, file("a", 2, 0))
	prepare(t, s, file("a", 3, 4))

	out, st, err := s.List(file("", 0, 10), 0, false)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	require.Len(t, out, 1)
	assert.Equal(t, uint64(3), out[0].InodeID)
	assert.Equal(t, uint64(4), out[0].TxID)
}

func TestListPagination(t *testing.T) {
	s := newTestStorage(t)
	names := []string{"ab", "abc", "b", "ba", "c"}
	for i, name := range names {
		mustInsert(t, s, file(name, uint64(100+i), 0))
	}
	// Tombstoned names must be skipped without breaking the cursor walk.
	prepare(t, s, tombstone("abz", 0))
	prepare(t, s, tombstone("bz", 0))

	var got []string
	cursor := ""
	for {
		out, st, err := s.List(file(cursor, 0, 10), 2, false)
		require.NoError(t, err)
		require.Equal(t, StatusOK, st)
		if len(out) == 0 {
			break
		}
		got = append(got, listNames(out)...)
		cursor = out[len(out)-1].Name
	}

	assert.Equal(t, names, got)
}

func TestListLimitCountsQualifyingEntriesOnly(t *testing.T) {
	s := newTestStorage(t)
	mustInsert(t, s, file("a", 2, 0))
	mustInsert(t, s, dir("b", 3, 0))
	mustInsert(t, s, file("c", 4, 0))
	mustInsert(t, s, dir("d", 5, 0))

	// Filtered-out files must not consume the limit.
	out, st, err := s.List(file("", 0, 10), 2, true)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	assert.Equal(t, []string{"b", "d"}, listNames(out))
}

func TestListIsolatesDirectoriesAndFilesystems(t *testing.T) {
	s := newTestStorage(t)
	mustInsert(t, s, file("a", 2, 0))

	other := file("a", 3, 0)
	other.ParentInodeID = 2
	mustInsert(t, s, other)

	foreign := file("a", 4, 0)
	foreign.FsID = 2
	mustInsert(t, s, foreign)

	out, st, err := s.List(file("", 0, 10), 0, false)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	require.Len(t, out, 1)
	assert.Equal(t, uint64(2), out[0].InodeID)
}

func TestTxPrepareCommit(t *testing.T) {
	s := newTestStorage(t)
	mustInsert(t, s, file("A", 2, 0))

	req := &TxRequest{Type: TxRequestRename, RawPayload: []byte("move A")}
	st, err := s.PrepareTx([]*Dentry{file("A", 3, 1)}, req, 2)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, int64(2), s.Size())

	// The pending version is visible at its own snapshot, the ground
	// version at earlier ones.
	got := file("A", 0, 1)
	st, err = s.Get(got)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	assert.Equal(t, uint64(3), got.InodeID)

	got = file("A", 0, 0)
	st, err = s.Get(got)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	assert.Equal(t, uint64(2), got.InodeID)

	pending, st, err := s.PendingTx()
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	assert.Equal(t, req, pending)

	st, err = s.CommitTx([]*Dentry{file("A", 3, 1)}, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, int64(1), s.Size())

	_, st, err = s.PendingTx()
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, st)
}

func TestTxPrepareIsReplaySafe(t *testing.T) {
	s := newTestStorage(t)
	mustInsert(t, s, file("A", 2, 0))

	proposed := []*Dentry{file("A", 3, 1)}
	for i := 0; i < 2; i++ {
		st, err := s.PrepareTx(proposed, nil, 2)
		require.NoError(t, err)
		require.Equal(t, StatusOK, st)
	}
	assert.Equal(t, int64(2), s.Size())
}

func TestTxCommitTombstone(t *testing.T) {
	s := newTestStorage(t)
	mustInsert(t, s, file("A", 2, 0))
	prepare(t, s, tombstone("A", 1))

	st, err := s.CommitTx([]*Dentry{tombstone("A", 1)}, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, int64(0), s.Size())

	st, err = s.Get(file("A", 0, 10))
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, st)
}

func TestTxRollback(t *testing.T) {
	s := newTestStorage(t)
	mustInsert(t, s, file("A", 2, 0))
	st, err := s.PrepareTx([]*Dentry{file("A", 3, 1)}, &TxRequest{Type: TxRequestRename}, 2)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)

	st, err = s.RollbackTx([]*Dentry{file("A", 3, 1)}, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, int64(1), s.Size())

	// The ground version survives and is visible even past the aborted tx.
	got := file("A", 0, 5)
	st, err = s.Get(got)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	assert.Equal(t, uint64(2), got.InodeID)

	_, st, err = s.PendingTx()
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, st)

	// Rolling back again is harmless.
	st, err = s.RollbackTx([]*Dentry{file("A", 3, 1)}, 4)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, int64(1), s.Size())
}

func TestPendingTxEmpty(t *testing.T) {
	s := newTestStorage(t)

	pending, st, err := s.PendingTx()
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, st)
	assert.Nil(t, pending)
}

func TestInitRecountsRows(t *testing.T) {
	store := memstore.New()
	require.NoError(t, store.Open())
	defer store.Close()

	tables := kvstore.NewNameGenerator(1)

	s := New(store, tables, nil)
	require.NoError(t, s.Init())
	mustInsert(t, s, file("A", 2, 0))
	mustInsert(t, s, file("B", 3, 0))
	prepare(t, s, file("A", 4, 1))

	// A fresh engine over the same keyspace recovers the row count.
	reopened := New(store, tables, nil)
	require.NoError(t, reopened.Init())
	assert.Equal(t, int64(3), reopened.Size())
}

// The engine must behave identically on the persistent backend.
func TestStorageOnBadger(t *testing.T) {
	store := badgerstore.New(badgerstore.Config{InMemory: true})
	require.NoError(t, store.Open())
	defer store.Close()

	s := New(store, kvstore.NewNameGenerator(3), nil)
	require.NoError(t, s.Init())

	mustInsert(t, s, file("A", 2, 0))
	mustInsert(t, s, dir("B", 3, 0))

	st, err := s.Insert(file("A", 9, 0), 2)
	require.NoError(t, err)
	assert.Equal(t, StatusDentryExists, st)

	st, err = s.PrepareTx([]*Dentry{file("A", 4, 1)}, &TxRequest{Type: TxRequestRename}, 3)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	require.Equal(t, int64(3), s.Size())

	st, err = s.CommitTx([]*Dentry{file("A", 4, 1)}, 4)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	assert.Equal(t, int64(2), s.Size())

	out, st, err := s.List(file("", 0, 10), 0, false)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	require.Equal(t, []string{"A", "B"}, listNames(out))
	assert.Equal(t, uint64(4), out[0].InodeID)
}

func TestClear(t *testing.T) {
	s := newTestStorage(t)
	mustInsert(t, s, file("A", 2, 0))
	st, err := s.PrepareTx([]*Dentry{file("B", 3, 1)}, &TxRequest{Type: TxRequestRename}, 2)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)

	require.NoError(t, s.Clear())
	assert.Equal(t, int64(0), s.Size())

	st, err = s.Get(file("A", 0, 10))
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, st)

	_, st, err = s.PendingTx()
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, st)
}
