package metrics

import "time"

// DentryMetrics provides observability for dentry storage operations.
//
// This interface is optional - pass nil to disable metrics collection with
// zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	m := prometheus.NewDentryMetrics(partitionID)
//	storage := dentry.New(store, tables, m)
//
//	// Without metrics (pass nil for zero overhead)
//	storage := dentry.New(store, tables, nil)
type DentryMetrics interface {
	// RecordOperation records a completed storage operation with its
	// resulting status code and duration.
	//
	// Parameters:
	//   - operation: operation name (e.g. "insert", "commit_tx")
	//   - status: status code string (e.g. "OK", "NOT_FOUND")
	//   - duration: time taken to execute the operation
	RecordOperation(operation string, status string, duration time.Duration)

	// SetRows records the current number of physically stored rows,
	// including tombstones and superseded chain versions.
	SetRows(count int64)
}
