package tables

import "errors"

var (
	// ErrRevisionNotFound reports a lookup of an uncommitted revision
	// number.
	ErrRevisionNotFound = errors.New("tables: revision not found")

	// ErrTxnNotFound reports a lookup of a transaction id with no backing
	// record.
	ErrTxnNotFound = errors.New("tables: transaction not found")

	// ErrNotInitialized reports a revisions-table read against a store
	// that has never committed revision 0.
	ErrNotInitialized = errors.New("tables: filesystem not initialized")
)
