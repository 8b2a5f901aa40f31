// Package trail implements the retryable transactional unit ("trail") that
// every higher layer of this module uses to touch the KV tables. It is the
// only place outside pkg/kv that calls pkg/kv.DB.Begin.
package trail

import (
	"context"
	"errors"

	"github.com/branchfs/branchfs/pkg/kv"
)

// ErrCancelled is returned when a Context passed to Run is done at the
// start of a trail attempt (the first one or a deadlock retry).
var ErrCancelled = errors.New("trail: cancelled")

// maxAttempts bounds deadlock retry so a permanently wedged writer lock
// surfaces as an error instead of looping forever.
const maxAttempts = 64

// Trail bundles a single KV transaction with the scratch state a body needs
// to read and write the tables (pkg/tables) during one atomic unit of work.
type Trail struct {
	ctx context.Context
	tx  *kv.Tx
}

// Tx returns the underlying KV transaction, for use by pkg/tables.
func (t *Trail) Tx() *kv.Tx { return t.tx }

// Context returns the context the enclosing Run call was given, so a long
// recursive body can check it at its own iteration boundaries per the
// cancellation contract.
func (t *Trail) Context() context.Context { return t.ctx }

// Body is one retryable unit of work. It must not perform visible
// side-effects outside of t — no logging side channels, no network calls —
// since Run may invoke it more than once per call if the KV engine reports
// a deadlock.
type Body[T any] func(t *Trail) (T, error)

// Run opens a trail against db and invokes body, retrying with a fresh KV
// transaction whenever body's KV operations report kv.ErrDeadlock. Any
// other error aborts the trail and propagates. A successful body commits
// the trail before Run returns.
func Run[T any](ctx context.Context, db *kv.DB, body Body[T]) (T, error) {
	var zero T

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, ErrCancelled
		}

		tx, err := db.Begin(ctx)
		if err != nil {
			if errors.Is(err, kv.ErrDeadlock) {
				continue
			}
			return zero, err
		}

		result, err := body(&Trail{ctx: ctx, tx: tx})
		if err != nil {
			tx.Abort()
			if errors.Is(err, kv.ErrDeadlock) {
				continue
			}
			return zero, err
		}

		if err := tx.Commit(); err != nil {
			if errors.Is(err, kv.ErrDeadlock) {
				continue
			}
			return zero, err
		}
		return result, nil
	}

	return zero, kv.ErrDeadlock
}

// RunVoid is Run for bodies with no return value.
func RunVoid(ctx context.Context, db *kv.DB, body func(t *Trail) error) error {
	_, err := Run(ctx, db, func(t *Trail) (struct{}, error) {
		return struct{}{}, body(t)
	})
	return err
}
