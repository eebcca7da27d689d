package dentry

// resolveVersion selects the chain row visible at the given snapshot: the
// row with the largest txID <= snapshotTxID. Returns nil when no such row
// exists or when the selected row is a tombstone. The chain must be ordered
// by ascending txID, which is how chain scans yield it.
//
// This single rule underlies Get, List, and the visibility checks inside
// Insert and Delete.
func resolveVersion(chain []*Dentry, snapshotTxID uint64) *Dentry {
	var visible *Dentry
	for _, row := range chain {
		if row.TxID > snapshotTxID {
			break
		}
		visible = row
	}
	if visible == nil || visible.HasDeleteMark() {
		return nil
	}
	return visible
}

// groundVersion returns the oldest chain row from which every later row up
// to visible carries the same observable effect. Rows newer than the ground
// inside that run are provably unreachable: any snapshot that would resolve
// to them observes the identical outcome through the ground row.
func groundVersion(chain []*Dentry, visible *Dentry) *Dentry {
	idx := -1
	for i, row := range chain {
		if row.TxID == visible.TxID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return visible
	}
	for idx > 0 && effectEqual(chain[idx-1], visible) {
		idx--
	}
	return chain[idx]
}
