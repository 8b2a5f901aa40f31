// Package tree turns the node-revision DAG into a path-addressed
// filesystem: path resolution with just-in-time copy-on-write cloning,
// per-path change recording, copy and link semantics, and the path-level
// operations exposed through fs roots.
package tree

import (
	"github.com/branchfs/branchfs/pkg/dag"
	"github.com/branchfs/branchfs/pkg/kv"
	"github.com/branchfs/branchfs/pkg/tables"
	"github.com/branchfs/branchfs/pkg/trail"
)

// Root is one addressable tree: either a committed revision (read-only) or
// an open transaction (read-write). Revision roots carry a fixed root node
// id; transaction roots re-read the root from the transaction record on
// every trail, because a parallel operation in the same transaction may
// have cloned it since.
type Root struct {
	DB  *kv.DB
	Tab *tables.Tables

	// Rev is the revision number when Txn is empty.
	Rev int64
	// Txn is the owning transaction id for a read-write root.
	Txn string
}

// RevisionRoot opens the read-only tree of a committed revision.
func RevisionRoot(db *kv.DB, tab *tables.Tables, rev int64) *Root {
	return &Root{DB: db, Tab: tab, Rev: rev}
}

// TxnRoot opens the read-write tree of an open transaction.
func TxnRoot(db *kv.DB, tab *tables.Tables, txnID string) *Root {
	return &Root{DB: db, Tab: tab, Txn: txnID}
}

// IsTxn reports whether this root is a transaction (read-write) root.
func (r *Root) IsTxn() bool { return r.Txn != "" }

// rootNode loads the root directory for this root inside tr. For
// transaction roots the returned record is the live transaction, nil
// otherwise.
func (r *Root) rootNode(tr *trail.Trail) (*dag.NodeRevision, *tables.Txn, error) {
	if !r.IsTxn() {
		id, err := r.Tab.Revisions.RevisionRoot(tr, r.Rev)
		if err != nil {
			return nil, nil, err
		}
		n, err := r.Tab.Nodes.GetNodeRevision(tr, id)
		if err != nil {
			return nil, nil, err
		}
		return n, nil, nil
	}

	txn, err := r.Tab.Txns.GetTxn(tr, r.Txn)
	if err != nil {
		return nil, nil, err
	}
	n, err := r.Tab.Nodes.GetNodeRevision(tr, txn.Root)
	if err != nil {
		return nil, nil, err
	}
	return n, txn, nil
}

// mutableTxn loads the transaction record and rejects mutation through a
// revision root or a committed transaction.
func (r *Root) mutableTxn(tr *trail.Trail) (*tables.Txn, error) {
	if !r.IsTxn() {
		return nil, ErrNotTxnRoot
	}
	txn, err := r.Tab.Txns.GetTxn(tr, r.Txn)
	if err != nil {
		return nil, err
	}
	if txn.Committed {
		return nil, ErrTxnNotMutable
	}
	return txn, nil
}
