package dentry

// Status is the closed set of result codes returned by storage operations.
//
// StatusIdempotenceOK is a success-class code distinct from StatusOK: it
// tells the caller that no new state was created but the request matched the
// store's current visible outcome. Retried requests under at-least-once log
// replay must be answered with it rather than rejected or double-applied.
type Status int

const (
	// StatusOK indicates the operation changed state as requested.
	StatusOK Status = iota

	// StatusNotFound indicates the addressed entry is logically absent
	// (or, for Delete, that a newer version superseded the request).
	StatusNotFound

	// StatusDentryExists indicates a conflicting entry occupies the name.
	// This is the only true conflict signal; the request layer maps it to
	// EEXIST for filesystem clients.
	StatusDentryExists

	// StatusIdempotenceOK indicates the request was redundant: the visible
	// outcome already matches what the operation would have produced.
	StatusIdempotenceOK

	// StatusError indicates a storage backend failure. The underlying
	// error is returned alongside, wrapped and never retried internally.
	StatusError
)

// String returns the status code name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusDentryExists:
		return "DENTRY_EXIST"
	case StatusIdempotenceOK:
		return "IDEMPOTENCE_OK"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
