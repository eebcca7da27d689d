package dentry

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyRoundTrip(t *testing.T) {
	d := &Dentry{
		FsID:          7,
		ParentInodeID: 42,
		Name:          "report.txt",
		TxID:          99,
	}

	fsID, parent, name, txID, err := decodeKey(encodeKey(d))
	require.NoError(t, err)
	assert.Equal(t, d.FsID, fsID)
	assert.Equal(t, d.ParentInodeID, parent)
	assert.Equal(t, d.Name, name)
	assert.Equal(t, d.TxID, txID)
}

func TestDecodeKeyRejectsMalformed(t *testing.T) {
	_, _, _, _, err := decodeKey([]byte("short"))
	assert.Error(t, err)

	// Right length, wrong separator byte.
	key := encodeKey(&Dentry{FsID: 1, ParentInodeID: 1, Name: "a", TxID: 1})
	key[len(key)-9] = 0x7f
	_, _, _, _, err = decodeKey(key)
	assert.Error(t, err)
}

// Byte order of encoded keys must follow (fsID, parentInodeID, name, txID)
// order, including the case where one name is a prefix of another.
func TestKeyOrdering(t *testing.T) {
	ordered := []*Dentry{
		{FsID: 1, ParentInodeID: 1, Name: "a", TxID: 5},
		{FsID: 1, ParentInodeID: 1, Name: "ab", TxID: 0},
		{FsID: 1, ParentInodeID: 1, Name: "ab", TxID: 3},
		{FsID: 1, ParentInodeID: 1, Name: "abc", TxID: 1},
		{FsID: 1, ParentInodeID: 1, Name: "b", TxID: 0},
		{FsID: 1, ParentInodeID: 2, Name: "a", TxID: 0},
		{FsID: 2, ParentInodeID: 0, Name: "a", TxID: 0},
	}

	keys := make([][]byte, len(ordered))
	for i, d := range ordered {
		keys[i] = encodeKey(d)
	}

	assert.True(t, sort.SliceIsSorted(keys, func(i, j int) bool {
		return bytes.Compare(keys[i], keys[j]) < 0
	}))
}

func TestChainPrefixCoversAllVersions(t *testing.T) {
	prefix := chainPrefix(1, 1, "ab")
	end := prefixUpperBound(prefix)

	inside := []*Dentry{
		{FsID: 1, ParentInodeID: 1, Name: "ab", TxID: 0},
		{FsID: 1, ParentInodeID: 1, Name: "ab", TxID: ^uint64(0)},
	}
	for _, d := range inside {
		key := encodeKey(d)
		assert.True(t, bytes.Compare(key, prefix) >= 0)
		assert.True(t, bytes.Compare(key, end) < 0)
	}

	// "abc" shares "ab" as a textual prefix but belongs to another chain.
	other := encodeKey(&Dentry{FsID: 1, ParentInodeID: 1, Name: "abc", TxID: 0})
	assert.True(t, bytes.Compare(other, end) >= 0)
}

func TestListStartIsExclusiveOfCursor(t *testing.T) {
	start := listStart(1, 1, "ab")

	cursor := encodeKey(&Dentry{FsID: 1, ParentInodeID: 1, Name: "ab", TxID: ^uint64(0)})
	assert.True(t, bytes.Compare(cursor, start) < 0, "cursor's own versions must fall below the bound")

	next := encodeKey(&Dentry{FsID: 1, ParentInodeID: 1, Name: "abc", TxID: 0})
	assert.True(t, bytes.Compare(next, start) >= 0, "a longer name extending the cursor must be included")
}

func TestListStartEmptyCursor(t *testing.T) {
	assert.Equal(t, directoryPrefix(1, 1), listStart(1, 1, ""))
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x03}, prefixUpperBound([]byte{0x01, 0x02}))
	assert.Equal(t, []byte{0x02}, prefixUpperBound([]byte{0x01, 0xff}))
	assert.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
}
