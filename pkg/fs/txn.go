package fs

import (
	"context"
	"time"

	"github.com/branchfs/branchfs/pkg/tables"
	"github.com/branchfs/branchfs/pkg/trail"
	"github.com/branchfs/branchfs/pkg/tree"
)

// Txn is a handle on one transaction: a mutable working tree rooted at a
// base revision, yielding a new revision when committed.
type Txn struct {
	fs *FS
	ID string
}

// BeginTxn opens a new transaction based on baseRev. The commit-date
// property is assigned now and overwritten at commit time.
func (f *FS) BeginTxn(ctx context.Context, baseRev int64) (*Txn, error) {
	id, err := trail.Run(ctx, f.db, func(tr *trail.Trail) (string, error) {
		baseRoot, err := f.tab.Revisions.RevisionRoot(tr, baseRev)
		if err != nil {
			return "", err
		}
		id, err := f.tab.Txns.CreateTxn(tr, baseRev, baseRoot)
		if err != nil {
			return "", err
		}
		txn, err := f.tab.Txns.GetTxn(tr, id)
		if err != nil {
			return "", err
		}
		txn.Props[DateProp] = []byte(time.Now().UTC().Format(time.RFC3339Nano))
		return id, f.tab.Txns.PutTxn(tr, txn)
	})
	if err != nil {
		return nil, err
	}
	if f.met != nil {
		f.met.TxnsBegunTotal.Inc()
	}
	f.log.LogTxnBegin(id, baseRev)
	return &Txn{fs: f, ID: id}, nil
}

// OpenTxn reopens an existing transaction by id.
func (f *FS) OpenTxn(ctx context.Context, id string) (*Txn, error) {
	_, err := trail.Run(ctx, f.db, func(tr *trail.Trail) (*tables.Txn, error) {
		return f.tab.Txns.GetTxn(tr, id)
	})
	if err != nil {
		return nil, err
	}
	return &Txn{fs: f, ID: id}, nil
}

// ListTxns returns the ids of every open (uncommitted) transaction.
func (f *FS) ListTxns(ctx context.Context) ([]string, error) {
	return trail.Run(ctx, f.db, func(tr *trail.Trail) ([]string, error) {
		var open []string
		for _, id := range f.tab.Txns.ListTxns(tr) {
			txn, err := f.tab.Txns.GetTxn(tr, id)
			if err != nil {
				return nil, err
			}
			if !txn.Committed {
				open = append(open, id)
			}
		}
		return open, nil
	})
}

// Root opens the read-write tree of this transaction.
func (t *Txn) Root() *tree.Root {
	return tree.TxnRoot(t.fs.db, t.fs.tab, t.ID)
}

// record fetches the live transaction record.
func (t *Txn) record(tr *trail.Trail) (*tables.Txn, error) {
	return t.fs.tab.Txns.GetTxn(tr, t.ID)
}

// BaseRevision returns the revision this transaction is based on — after a
// successful merge ratchet, the youngest revision merged against.
func (t *Txn) BaseRevision(ctx context.Context) (int64, error) {
	return trail.Run(ctx, t.fs.db, func(tr *trail.Trail) (int64, error) {
		txn, err := t.record(tr)
		if err != nil {
			return 0, err
		}
		return txn.BaseRev, nil
	})
}

// CommittedRevision returns the revision this transaction committed as,
// or tables.NoCommittedRevision while it is still open.
func (t *Txn) CommittedRevision(ctx context.Context) (int64, error) {
	return trail.Run(ctx, t.fs.db, func(tr *trail.Trail) (int64, error) {
		txn, err := t.record(tr)
		if err != nil {
			return 0, err
		}
		return txn.CommittedRev, nil
	})
}

// Prop returns one transaction property, nil if unset.
func (t *Txn) Prop(ctx context.Context, key string) ([]byte, error) {
	props, err := t.Proplist(ctx)
	if err != nil {
		return nil, err
	}
	return props[key], nil
}

// Proplist returns the transaction's property map — the map that becomes
// the revision's properties at commit.
func (t *Txn) Proplist(ctx context.Context) (map[string][]byte, error) {
	return trail.Run(ctx, t.fs.db, func(tr *trail.Trail) (map[string][]byte, error) {
		txn, err := t.record(tr)
		if err != nil {
			return nil, err
		}
		return txn.Props, nil
	})
}

// ChangeProp sets (or, when val is nil, removes) one transaction property.
func (t *Txn) ChangeProp(ctx context.Context, key string, val []byte) error {
	return trail.RunVoid(ctx, t.fs.db, func(tr *trail.Trail) error {
		txn, err := t.record(tr)
		if err != nil {
			return err
		}
		if txn.Committed {
			return tree.ErrTxnNotMutable
		}
		if val == nil {
			delete(txn.Props, key)
		} else {
			txn.Props[key] = append([]byte(nil), val...)
		}
		return t.fs.tab.Txns.PutTxn(tr, txn)
	})
}

// Abort discards the transaction: every node revision it owns is removed,
// its copy lineages are reclaimed, and its record and change log are
// deleted. Nothing the transaction touched remains visible.
func (t *Txn) Abort(ctx context.Context) error {
	err := trail.RunVoid(ctx, t.fs.db, func(tr *trail.Trail) error {
		txn, err := t.record(tr)
		if err != nil {
			return err
		}
		if txn.Committed {
			return tree.ErrTxnNotMutable
		}
		if err := tree.DeleteIfMutable(tr, t.fs.tab, txn.ID, txn.Root); err != nil {
			return err
		}
		for _, copyID := range txn.CopyList {
			t.fs.tab.Copies.Delete(tr, copyID)
		}
		t.fs.tab.Changes.DeleteAll(tr, txn.ID)
		t.fs.tab.Txns.DeleteTxn(tr, txn.ID)
		return nil
	})
	if err != nil {
		return err
	}
	if t.fs.met != nil {
		t.fs.met.TxnsAbortedTotal.Inc()
	}
	t.fs.log.LogTxnAbort(t.ID)
	return nil
}
