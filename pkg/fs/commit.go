package fs

import (
	"context"
	"time"

	"github.com/branchfs/branchfs/pkg/dag"
	"github.com/branchfs/branchfs/pkg/tables"
	"github.com/branchfs/branchfs/pkg/trail"
	"github.com/branchfs/branchfs/pkg/tree"
)

// Commit turns the transaction into a new committed revision and returns
// its number.
//
// If other transactions committed since this one began, their changes are
// reconciled first by a structural three-way merge against the current
// youngest revision; a *ConflictError carrying the conflicting path is
// returned when they overlap, and the transaction stays open at its
// pre-merge state. The youngest revision is re-read inside the commit
// trail itself, so a racing commit is detected and answered with another
// merge round rather than a lost update: every committed revision is based
// on the state that was youngest at the moment of its own creation.
func (t *Txn) Commit(ctx context.Context) (int64, error) {
	f := t.fs
	start := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return 0, trail.ErrCancelled
		}

		young, err := trail.Run(ctx, f.db, func(tr *trail.Trail) (youngest, error) {
			return readYoungest(tr, f.tab)
		})
		if err != nil {
			return 0, err
		}

		if err := t.mergeWithYoungest(ctx, young); err != nil {
			if path, ok := IsConflict(err); ok {
				if f.met != nil {
					f.met.MergeConflictsTotal.Inc()
				}
				f.log.LogMergeConflict(t.ID, path)
			}
			return 0, err
		}

		rev, raced, err := t.tryCommit(ctx, young)
		if err != nil {
			return 0, err
		}
		if raced {
			if f.met != nil {
				f.met.CommitRetriesTotal.Inc()
			}
			continue
		}

		if f.met != nil {
			f.met.CommitsTotal.Inc()
			f.met.CommitDuration.Observe(time.Since(start).Seconds())
		}
		f.log.LogCommit(t.ID, rev, time.Since(start))
		return rev, nil
	}
}

type youngest struct {
	rev  int64
	root dag.ID
}

func readYoungest(tr *trail.Trail, tab *tables.Tables) (youngest, error) {
	rev, err := tab.Revisions.YoungestRevision(tr)
	if err != nil {
		return youngest{}, err
	}
	root, err := tab.Revisions.RevisionRoot(tr, rev)
	if err != nil {
		return youngest{}, err
	}
	return youngest{rev: rev, root: root}, nil
}

// mergeWithYoungest ratchets the transaction's base forward to young,
// merging if the transaction carries mutations. A conflict aborts the
// trail, discarding any partial merge writes.
func (t *Txn) mergeWithYoungest(ctx context.Context, young youngest) error {
	f := t.fs
	return trail.RunVoid(ctx, f.db, func(tr *trail.Trail) error {
		txn, err := t.record(tr)
		if err != nil {
			return err
		}
		if txn.Committed {
			return tree.ErrTxnNotMutable
		}
		if txn.BaseRoot.Equal(young.root) {
			return nil
		}

		if txn.Root.Equal(txn.BaseRoot) {
			// No mutations yet at all: both base and root ratchet
			// straight to the youngest tree.
			txn.Root = young.root
			txn.BaseRev = young.rev
			txn.BaseRoot = young.root
			return f.tab.Txns.PutTxn(tr, txn)
		}

		target, err := tree.GetNode(tr, f.tab, txn.Root)
		if err != nil {
			return err
		}
		source, err := tree.GetNode(tr, f.tab, young.root)
		if err != nil {
			return err
		}
		ancestor, err := tree.GetNode(tr, f.tab, txn.BaseRoot)
		if err != nil {
			return err
		}

		conflict, err := mergeDirs(tr, f.tab, txn, "/", target, source, ancestor)
		if err != nil {
			return err
		}
		if conflict != "" {
			return &ConflictError{Path: conflict}
		}

		txn.BaseRev = young.rev
		txn.BaseRoot = young.root
		return f.tab.Txns.PutTxn(tr, txn)
	})
}

// tryCommit writes the new revision, provided the youngest revision seen
// by the merge round is still youngest inside this trail. raced is true
// when someone else committed in between and the caller must merge again.
func (t *Txn) tryCommit(ctx context.Context, young youngest) (rev int64, raced bool, err error) {
	f := t.fs
	rev, err = trail.Run(ctx, f.db, func(tr *trail.Trail) (int64, error) {
		current, err := f.tab.Revisions.YoungestRevision(tr)
		if err != nil {
			return 0, err
		}
		if current != young.rev {
			return tables.NoCommittedRevision, nil
		}

		txn, err := t.record(tr)
		if err != nil {
			return 0, err
		}
		if txn.Committed {
			return 0, tree.ErrTxnNotMutable
		}

		props := txn.Props
		if props == nil {
			props = map[string][]byte{}
		}
		props[DateProp] = []byte(time.Now().UTC().Format(time.RFC3339Nano))

		rev, err := f.tab.Revisions.PutRevision(tr, &tables.Revision{
			Root:  txn.Root,
			Txn:   txn.ID,
			Props: props,
		})
		if err != nil {
			return 0, err
		}

		// The property map moves to the revision; the record stays behind,
		// terminally committed, so the transaction remains queryable.
		txn.Committed = true
		txn.CommittedRev = rev
		txn.Props = map[string][]byte{}
		return rev, f.tab.Txns.PutTxn(tr, txn)
	})
	if err != nil {
		return 0, false, err
	}
	if rev == tables.NoCommittedRevision {
		return 0, true, nil
	}
	return rev, false, nil
}
