package dentry

import (
	"encoding/binary"
	"fmt"
)

// Key layout:
//
//	fsID (u32 BE) | parentInodeID (u64 BE) | name | 0x00 | txID (u64 BE)
//
// Big-endian fixed-width integers make numeric order equal byte order, and
// the NUL separator (never valid inside a name) keeps names ordered
// lexicographically even when one is a prefix of another. The resulting
// total order groups a filesystem's rows together, a directory's children
// contiguously within it, one name's version chain contiguously within that,
// and versions ascending by txID - so every read the engine performs is a
// single range scan.

const (
	keyHeaderLen = 4 + 8 // fsID + parentInodeID
	keyTxIDLen   = 8

	nameSeparator byte = 0x00
)

// encodeKey builds the storage key for a dentry row.
func encodeKey(d *Dentry) []byte {
	key := make([]byte, 0, keyHeaderLen+len(d.Name)+1+keyTxIDLen)
	key = binary.BigEndian.AppendUint32(key, d.FsID)
	key = binary.BigEndian.AppendUint64(key, d.ParentInodeID)
	key = append(key, d.Name...)
	key = append(key, nameSeparator)
	return binary.BigEndian.AppendUint64(key, d.TxID)
}

// decodeKey parses a storage key back into its fields.
func decodeKey(key []byte) (fsID uint32, parentInodeID uint64, name string, txID uint64, err error) {
	minLen := keyHeaderLen + 1 + 1 + keyTxIDLen // at least one name byte
	if len(key) < minLen {
		return 0, 0, "", 0, fmt.Errorf("dentry key too short: %d bytes", len(key))
	}
	sep := len(key) - keyTxIDLen - 1
	if key[sep] != nameSeparator {
		return 0, 0, "", 0, fmt.Errorf("malformed dentry key: missing name separator")
	}

	fsID = binary.BigEndian.Uint32(key[0:4])
	parentInodeID = binary.BigEndian.Uint64(key[4:keyHeaderLen])
	name = string(key[keyHeaderLen:sep])
	txID = binary.BigEndian.Uint64(key[sep+1:])
	return fsID, parentInodeID, name, txID, nil
}

// directoryPrefix is the common prefix of every row under one directory.
func directoryPrefix(fsID uint32, parentInodeID uint64) []byte {
	prefix := make([]byte, 0, keyHeaderLen)
	prefix = binary.BigEndian.AppendUint32(prefix, fsID)
	return binary.BigEndian.AppendUint64(prefix, parentInodeID)
}

// chainPrefix is the common prefix of every version of one name.
func chainPrefix(fsID uint32, parentInodeID uint64, name string) []byte {
	prefix := directoryPrefix(fsID, parentInodeID)
	prefix = append(prefix, name...)
	return append(prefix, nameSeparator)
}

// listStart is the scan lower bound for a directory listing with a cursor.
// An empty cursor name starts from the directory's first child; otherwise
// the bound admits only names strictly greater than the cursor. Appending
// 0x01 works because every key of the cursor name itself continues with the
// 0x00 separator, while any longer name sharing the cursor as a prefix
// continues with a byte >= 0x01.
func listStart(fsID uint32, parentInodeID uint64, name string) []byte {
	start := directoryPrefix(fsID, parentInodeID)
	if name == "" {
		return start
	}
	start = append(start, name...)
	return append(start, 0x01)
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix, for use as an exclusive scan bound. Returns nil (scan to
// table end) when no such key exists.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
