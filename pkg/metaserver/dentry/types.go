// Package dentry implements the dentry storage engine of the LoomFS
// metadata server: the persisted mapping from (filesystem, parent directory,
// child name) to inode.
//
// Rows are multi-versioned. All rows sharing (fsID, parentInodeID, name) but
// differing in txID form a version chain; a snapshot read at transaction S
// sees the row with the largest txID <= S, or nothing if that row is a
// tombstone. Version chains exist to support cross-directory rename/move
// transactions: PrepareTx writes pending versions next to the ground
// version, CommitTx collapses the chain to the committed row, RollbackTx
// removes exactly the pending row.
//
// The engine is a deterministic state machine driven by a replicated
// operation log. Idempotence under at-least-once delivery is state-based:
// every mutation re-derives "would this change the visible outcome?" from
// the current keyspace rather than tracking applied log indexes.
package dentry

import (
	"encoding/json"
	"fmt"
)

// FileType is the type of the child a dentry points at. Enumeration
// (List with dirOnly) filters on it.
type FileType uint8

const (
	FileTypeUnknown FileType = iota
	FileTypeFile
	FileTypeDirectory
	FileTypeSymlink
)

// String returns a human-readable name for the file type.
func (t FileType) String() string {
	switch t {
	case FileTypeFile:
		return "File"
	case FileTypeDirectory:
		return "Directory"
	case FileTypeSymlink:
		return "Symlink"
	default:
		return "Unknown"
	}
}

// Flag is a bitset of dentry row flags.
type Flag uint32

const (
	// FlagDeleteMark marks the row as a tombstone: it occupies a version
	// slot but denotes logical absence as of its txID.
	FlagDeleteMark Flag = 1 << 0
)

// Dentry is the persisted directory entry record.
type Dentry struct {
	// FsID identifies the filesystem namespace; storage is multi-tenant.
	FsID uint32 `json:"fs_id"`

	// ParentInodeID is the inode of the containing directory.
	ParentInodeID uint64 `json:"parent_inode_id"`

	// Name is the child name, unique within (FsID, ParentInodeID) at any
	// single snapshot. Names must be non-empty and must not contain NUL.
	Name string `json:"name"`

	// TxID is the transaction under which this row was written. Rows with
	// equal (FsID, ParentInodeID, Name) but different TxID form a version
	// chain.
	TxID uint64 `json:"tx_id"`

	// InodeID is the target inode. Meaningless on tombstone rows.
	InodeID uint64 `json:"inode_id"`

	// Type is the child's file type.
	Type FileType `json:"type"`

	// Flags carries row flags, in particular FlagDeleteMark.
	Flags Flag `json:"flags"`
}

// HasDeleteMark reports whether the row is a tombstone.
func (d *Dentry) HasDeleteMark() bool {
	return d.Flags&FlagDeleteMark != 0
}

// effectEqual reports whether two chain rows have the same observable effect
// for a reader: either both are tombstones, or both point at the same inode
// with the same type.
func effectEqual(a, b *Dentry) bool {
	if a.HasDeleteMark() != b.HasDeleteMark() {
		return false
	}
	if a.HasDeleteMark() {
		return true
	}
	return a.InodeID == b.InodeID && a.Type == b.Type
}

func encodeDentry(d *Dentry) ([]byte, error) {
	bytes, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dentry: %w", err)
	}
	return bytes, nil
}

func decodeDentry(data []byte) (*Dentry, error) {
	var d Dentry
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode dentry: %w", err)
	}
	return &d, nil
}

// TxRequestType tags the payload of a transaction request descriptor.
// The engine never interprets it.
type TxRequestType int32

const (
	TxRequestNone TxRequestType = iota
	TxRequestRename
)

// TxRequest is the opaque transaction descriptor handed to PrepareTx by the
// request layer. It is persisted alongside the prepared versions so a
// restarted node can rediscover the in-flight transaction.
type TxRequest struct {
	Type       TxRequestType `json:"type"`
	RawPayload []byte        `json:"raw_payload,omitempty"`
}

func encodeTxRequest(r *TxRequest) ([]byte, error) {
	bytes, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tx request: %w", err)
	}
	return bytes, nil
}

func decodeTxRequest(data []byte) (*TxRequest, error) {
	var r TxRequest
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode tx request: %w", err)
	}
	return &r, nil
}
