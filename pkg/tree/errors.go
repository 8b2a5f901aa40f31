package tree

import "errors"

var (
	// ErrNotFound reports a path component that does not exist.
	ErrNotFound = errors.New("tree: path not found")

	// ErrNotDirectory reports a non-terminal path component (or an
	// operation target) that is not a directory.
	ErrNotDirectory = errors.New("tree: not a directory")

	// ErrNotFile reports a file operation against a directory.
	ErrNotFile = errors.New("tree: not a file")

	// ErrAlreadyExists reports creation of an entry whose name is taken.
	ErrAlreadyExists = errors.New("tree: entry already exists")

	// ErrNotTxnRoot reports a mutation attempted through a revision root.
	ErrNotTxnRoot = errors.New("tree: operation requires a transaction root")

	// ErrRootDir reports an attempt to delete the filesystem root.
	ErrRootDir = errors.New("tree: cannot delete the root directory")

	// ErrDirNotEmpty reports a non-recursive delete of a non-empty
	// directory.
	ErrDirNotEmpty = errors.New("tree: directory not empty")

	// ErrTxnNotMutable reports a mutation through an already-committed
	// transaction.
	ErrTxnNotMutable = errors.New("tree: transaction is already committed")
)
