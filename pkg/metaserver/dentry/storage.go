package dentry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/loomfs/loomfs/internal/logger"
	"github.com/loomfs/loomfs/pkg/metaserver/kvstore"
	"github.com/loomfs/loomfs/pkg/metrics"
)

// txPendingKey is the fixed key under which the partition's in-flight
// transaction descriptor is stored in the tx table.
var txPendingKey = []byte("pending")

// Storage persists one partition's dentry rows on an ordered key-value
// store.
//
// Every public operation takes the logIndex of the driving log entry for
// traceability; it is never used as a deduplication key. Operations must be
// applied in non-decreasing logIndex order per partition - that ordering is
// the caller's contract, typically upheld by the log-application loop.
//
// The mutex only guards against callers that bypass the serialized-log
// discipline (concurrent reads during tests, metrics scrapes); it does not
// make out-of-order application correct.
type Storage struct {
	mu      sync.RWMutex
	store   kvstore.Store
	tables  *kvstore.NameGenerator
	metrics metrics.DentryMetrics

	// nRows counts physically stored rows, including tombstones and all
	// chain versions.
	nRows int64
}

// New creates a dentry storage engine for the partition named by tables.
// The store must already be open. Call Init before serving operations.
// Pass nil metrics to disable instrumentation.
func New(store kvstore.Store, tables *kvstore.NameGenerator, m metrics.DentryMetrics) *Storage {
	return &Storage{
		store:   store,
		tables:  tables,
		metrics: m,
	}
}

// Init recounts the physically stored rows. It must be called once after
// opening the store, before the log-application loop starts feeding
// operations, so Size reflects rows persisted by earlier incarnations.
func (s *Storage) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.store.Scan(s.tables.DentryTable(), nil, nil)
	if err != nil {
		return fmt.Errorf("failed to scan dentry table: %w", err)
	}
	defer it.Close()

	var count int64
	for it.Next() {
		count++
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("failed to count dentry rows: %w", err)
	}

	s.nRows = count
	if s.metrics != nil {
		s.metrics.SetRows(count)
	}

	logger.Debug("dentry storage initialized",
		"partition", s.tables.PartitionID(), "rows", count)
	return nil
}

// Insert adds a dentry, unless the store's visible state already conflicts
// with or subsumes it.
//
// Returns StatusDentryExists when a different entry is visible under the
// name at the dentry's snapshot, StatusIdempotenceOK when the visible entry
// already matches the requested outcome (at-least-once replays land here),
// and StatusOK when a new row was written.
func (s *Storage) Insert(d *Dentry, logIndex int64) (st Status, err error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.observe("insert", st, start) }()

	chain, err := s.loadChain(d.FsID, d.ParentInodeID, d.Name)
	if err != nil {
		return StatusError, err
	}

	if visible := resolveVersion(chain, d.TxID); visible != nil {
		if !d.HasDeleteMark() && visible.InodeID == d.InodeID {
			// Redundant insert. Opportunistically drop chain rows made
			// unreachable by the equal-effect run ending at the visible row.
			if err := s.compactRun(chain, visible, d.TxID); err != nil {
				return StatusError, err
			}
			return StatusIdempotenceOK, nil
		}
		return StatusDentryExists, nil
	}

	// Nothing visible at this snapshot, but a physical row may still occupy
	// the exact key (a tombstone). Replaying an identical write is
	// redundant; a different payload is a conflicting concurrent create.
	for _, row := range chain {
		if row.TxID == d.TxID {
			if *row == *d {
				return StatusIdempotenceOK, nil
			}
			return StatusDentryExists, nil
		}
	}

	if err := s.putRow(d); err != nil {
		return StatusError, err
	}

	logger.Debug("dentry inserted",
		"partition", s.tables.PartitionID(), "log_index", logIndex,
		"fs_id", d.FsID, "parent", d.ParentInodeID, "name", d.Name, "tx_id", d.TxID)
	return StatusOK, nil
}

// Delete removes a name's entire version chain, provided the visible state
// agrees the entry exists at or before the dentry's snapshot.
//
// A chain whose newest row is newer than the request is left untouched
// (StatusNotFound): the newer version supersedes the delete. A chain whose
// newest row is a tombstone, or an empty chain, is already logically absent;
// the chain is purged as a side effect but the result is StatusNotFound.
func (s *Storage) Delete(d *Dentry, logIndex int64) (st Status, err error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.observe("delete", st, start) }()

	chain, err := s.loadChain(d.FsID, d.ParentInodeID, d.Name)
	if err != nil {
		return StatusError, err
	}
	if len(chain) == 0 {
		return StatusNotFound, nil
	}

	latest := chain[len(chain)-1]
	if latest.TxID > d.TxID {
		// A newer version superseded this request; it must be preserved.
		return StatusNotFound, nil
	}

	// Deletion is agreed at or before this txID; the chain serves no
	// further purpose either way.
	for _, row := range chain {
		if err := s.deleteRow(row); err != nil {
			return StatusError, err
		}
	}

	if latest.HasDeleteMark() {
		return StatusNotFound, nil
	}

	logger.Debug("dentry deleted",
		"partition", s.tables.PartitionID(), "log_index", logIndex,
		"fs_id", d.FsID, "parent", d.ParentInodeID, "name", d.Name, "tx_id", d.TxID)
	return StatusOK, nil
}

// Get resolves the dentry visible at d.TxID for (d.FsID, d.ParentInodeID,
// d.Name) and fills d from the resolved row. On StatusNotFound d is left
// unchanged.
func (s *Storage) Get(d *Dentry) (st Status, err error) {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer func() { s.observe("get", st, start) }()

	chain, err := s.loadChain(d.FsID, d.ParentInodeID, d.Name)
	if err != nil {
		return StatusError, err
	}

	visible := resolveVersion(chain, d.TxID)
	if visible == nil {
		return StatusNotFound, nil
	}

	*d = *visible
	return StatusOK, nil
}

// List enumerates the children of (cursor.FsID, cursor.ParentInodeID) whose
// names are strictly greater than cursor.Name, visible at snapshot
// cursor.TxID, in ascending name order. An empty cursor name starts from the
// first child, which together with passing the last returned name back in
// gives cursor-based pagination.
//
// limit bounds the number of returned entries and counts only entries that
// pass every filter; limit 0 means unbounded. When dirOnly is set, only
// directories are returned. An empty result is StatusOK.
func (s *Storage) List(cursor *Dentry, limit uint32, dirOnly bool) (out []*Dentry, st Status, err error) {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer func() { s.observe("list", st, start) }()

	dirPrefix := directoryPrefix(cursor.FsID, cursor.ParentInodeID)
	scanFrom := listStart(cursor.FsID, cursor.ParentInodeID, cursor.Name)

	it, err := s.store.Scan(s.tables.DentryTable(), scanFrom, prefixUpperBound(dirPrefix))
	if err != nil {
		return nil, StatusError, fmt.Errorf("failed to scan directory: %w", err)
	}
	defer it.Close()

	var chain []*Dentry

	// Chains arrive as contiguous key runs; resolve each name once its last
	// version has been seen.
	emit := func() {
		if len(chain) == 0 {
			return
		}
		visible := resolveVersion(chain, cursor.TxID)
		chain = chain[:0]
		if visible == nil {
			return
		}
		if dirOnly && visible.Type != FileTypeDirectory {
			return
		}
		out = append(out, visible)
	}

	for it.Next() {
		row, err := decodeDentry(it.Value())
		if err != nil {
			return nil, StatusError, err
		}
		if len(chain) > 0 && row.Name != chain[0].Name {
			emit()
			if limit > 0 && uint32(len(out)) >= limit {
				return out, StatusOK, nil
			}
		}
		chain = append(chain, row)
	}
	if err := it.Err(); err != nil {
		return nil, StatusError, fmt.Errorf("failed to scan directory: %w", err)
	}

	emit()
	if limit > 0 && uint32(len(out)) > limit {
		out = out[:limit]
	}
	return out, StatusOK, nil
}

// PrepareTx blindly upserts every proposed version at its exact key and
// persists the transaction descriptor. No conflict or idempotence checks
// run here: callers already decided eligibility, and re-preparing an
// identical set under log replay is a harmless overwrite.
func (s *Storage) PrepareTx(dentries []*Dentry, req *TxRequest, logIndex int64) (st Status, err error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.observe("prepare_tx", st, start) }()

	for _, d := range dentries {
		if err := s.upsertRow(d); err != nil {
			return StatusError, err
		}
	}

	if req != nil {
		value, err := encodeTxRequest(req)
		if err != nil {
			return StatusError, err
		}
		if err := s.store.Put(s.tables.TxTable(), txPendingKey, value); err != nil {
			return StatusError, fmt.Errorf("failed to persist tx request: %w", err)
		}
	}

	logger.Debug("tx prepared",
		"partition", s.tables.PartitionID(), "log_index", logIndex, "dentries", len(dentries))
	return StatusOK, nil
}

// CommitTx makes each committed dentry the sole truth for its key: every
// other chain row is purged. A committed tombstone leaves the key entirely
// absent. The pending transaction descriptor is erased.
func (s *Storage) CommitTx(dentries []*Dentry, logIndex int64) (st Status, err error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.observe("commit_tx", st, start) }()

	for _, d := range dentries {
		chain, err := s.loadChain(d.FsID, d.ParentInodeID, d.Name)
		if err != nil {
			return StatusError, err
		}
		for _, row := range chain {
			if err := s.deleteRow(row); err != nil {
				return StatusError, err
			}
		}
		if !d.HasDeleteMark() {
			if err := s.putRow(d); err != nil {
				return StatusError, err
			}
		}
	}

	if err := s.clearPendingTx(); err != nil {
		return StatusError, err
	}

	logger.Debug("tx committed",
		"partition", s.tables.PartitionID(), "log_index", logIndex, "dentries", len(dentries))
	return StatusOK, nil
}

// RollbackTx removes exactly the rows proposed by a prior PrepareTx, leaving
// every other chain version (in particular the ground version) untouched,
// and erases the pending transaction descriptor.
func (s *Storage) RollbackTx(dentries []*Dentry, logIndex int64) (st Status, err error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.observe("rollback_tx", st, start) }()

	for _, d := range dentries {
		if err := s.removeRowAt(d); err != nil {
			return StatusError, err
		}
	}

	if err := s.clearPendingTx(); err != nil {
		return StatusError, err
	}

	logger.Debug("tx rolled back",
		"partition", s.tables.PartitionID(), "log_index", logIndex, "dentries", len(dentries))
	return StatusOK, nil
}

// PendingTx returns the transaction descriptor persisted by the latest
// PrepareTx, or StatusNotFound when no transaction is in flight.
func (s *Storage) PendingTx() (*TxRequest, Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, err := s.store.Get(s.tables.TxTable(), txPendingKey)
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, StatusNotFound, nil
	}
	if err != nil {
		return nil, StatusError, fmt.Errorf("failed to load tx request: %w", err)
	}

	req, err := decodeTxRequest(value)
	if err != nil {
		return nil, StatusError, err
	}
	return req, StatusOK, nil
}

// Size returns the number of physically stored rows, including tombstones
// and superseded chain versions.
func (s *Storage) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nRows
}

// Clear drops the partition's entire dentry keyspace and any pending
// transaction descriptor.
func (s *Storage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.DropTable(s.tables.DentryTable()); err != nil {
		return err
	}
	if err := s.store.DropTable(s.tables.TxTable()); err != nil {
		return err
	}

	s.nRows = 0
	if s.metrics != nil {
		s.metrics.SetRows(0)
	}
	return nil
}

// loadChain returns every stored version of one name, ascending by txID.
func (s *Storage) loadChain(fsID uint32, parentInodeID uint64, name string) ([]*Dentry, error) {
	prefix := chainPrefix(fsID, parentInodeID, name)

	it, err := s.store.Scan(s.tables.DentryTable(), prefix, prefixUpperBound(prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to scan version chain: %w", err)
	}
	defer it.Close()

	var chain []*Dentry
	for it.Next() {
		row, err := decodeDentry(it.Value())
		if err != nil {
			return nil, err
		}
		chain = append(chain, row)
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan version chain: %w", err)
	}
	return chain, nil
}

// compactRun purges the chain rows superseded within the equal-effect run
// ending at the visible row: everything strictly newer than the run's ground
// version, up to the requesting snapshot. Rows newer than the snapshot are
// never touched.
func (s *Storage) compactRun(chain []*Dentry, visible *Dentry, snapshotTxID uint64) error {
	ground := groundVersion(chain, visible)
	for _, row := range chain {
		if row.TxID <= ground.TxID || row.TxID > snapshotTxID {
			continue
		}
		if !effectEqual(row, visible) {
			continue
		}
		if err := s.deleteRow(row); err != nil {
			return err
		}
	}
	return nil
}

// putRow writes a row the engine knows is absent.
func (s *Storage) putRow(d *Dentry) error {
	value, err := encodeDentry(d)
	if err != nil {
		return err
	}
	if err := s.store.Put(s.tables.DentryTable(), encodeKey(d), value); err != nil {
		return fmt.Errorf("failed to put dentry row: %w", err)
	}
	s.nRows++
	return nil
}

// upsertRow writes a row that may or may not exist, keeping nRows accurate.
func (s *Storage) upsertRow(d *Dentry) error {
	key := encodeKey(d)

	_, err := s.store.Get(s.tables.DentryTable(), key)
	exists := err == nil
	if err != nil && !errors.Is(err, kvstore.ErrKeyNotFound) {
		return fmt.Errorf("failed to check dentry row: %w", err)
	}

	value, err := encodeDentry(d)
	if err != nil {
		return err
	}
	if err := s.store.Put(s.tables.DentryTable(), key, value); err != nil {
		return fmt.Errorf("failed to put dentry row: %w", err)
	}
	if !exists {
		s.nRows++
	}
	return nil
}

// deleteRow removes a row the engine knows is present.
func (s *Storage) deleteRow(d *Dentry) error {
	if err := s.store.Delete(s.tables.DentryTable(), encodeKey(d)); err != nil {
		return fmt.Errorf("failed to delete dentry row: %w", err)
	}
	s.nRows--
	return nil
}

// removeRowAt removes the row at d's exact key if present.
func (s *Storage) removeRowAt(d *Dentry) error {
	key := encodeKey(d)

	_, err := s.store.Get(s.tables.DentryTable(), key)
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check dentry row: %w", err)
	}

	if err := s.store.Delete(s.tables.DentryTable(), key); err != nil {
		return fmt.Errorf("failed to delete dentry row: %w", err)
	}
	s.nRows--
	return nil
}

func (s *Storage) clearPendingTx() error {
	if err := s.store.Delete(s.tables.TxTable(), txPendingKey); err != nil {
		return fmt.Errorf("failed to clear tx request: %w", err)
	}
	return nil
}

// observe records one operation's metrics. Runs with the engine mutex still
// held so the row gauge reads a consistent count.
func (s *Storage) observe(operation string, st Status, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordOperation(operation, st.String(), time.Since(start))
	s.metrics.SetRows(s.nRows)
}
