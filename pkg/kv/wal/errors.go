package wal

import "errors"

var (
	// ErrTruncated indicates a short or partially-written record.
	ErrTruncated = errors.New("wal: truncated record")
	// ErrLogClosed indicates an operation on a closed log.
	ErrLogClosed = errors.New("wal: log closed")
)
