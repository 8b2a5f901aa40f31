package kv

import "errors"

var (
	// ErrDeadlock is returned by Begin when the writer lock cannot be
	// acquired — either because the caller's context expired while
	// waiting, or because the same trail tried to reenter a write
	// transaction it already holds. The trail runtime (pkg/trail)
	// retries on this with a fresh Tx.
	ErrDeadlock = errors.New("kv: deadlock")

	// ErrCorrupt indicates the on-disk meta page failed its signature or
	// structural checks.
	ErrCorrupt = errors.New("kv: corrupt database")

	// ErrClosed indicates an operation on a DB or Tx after Close/Commit/Abort.
	ErrClosed = errors.New("kv: closed")
)
