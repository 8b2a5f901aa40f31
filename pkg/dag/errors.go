package dag

import "errors"

// Errors the DAG layer itself can raise. Higher layers (tree, merge) add
// their own on top of these.
var (
	ErrIDNotFound    = errors.New("dag: node revision id not found")
	ErrNotDir        = errors.New("dag: not a directory")
	ErrNotFile       = errors.New("dag: not a file")
	ErrNotMutable    = errors.New("dag: node is not mutable in this transaction")
	ErrAlreadyExists = errors.New("dag: entry already exists")
	ErrNotFound      = errors.New("dag: entry not found")
	ErrCycle         = errors.New("dag: operation would create a cycle")
)
