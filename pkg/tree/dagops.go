package tree

import (
	"github.com/branchfs/branchfs/pkg/dag"
	"github.com/branchfs/branchfs/pkg/tables"
	"github.com/branchfs/branchfs/pkg/trail"
)

// GetNode fetches the node revision stored at id.
func GetNode(tr *trail.Trail, tab *tables.Tables, id dag.ID) (*dag.NodeRevision, error) {
	return tab.Nodes.GetNodeRevision(tr, id)
}

// cloneRoot makes the transaction's root directory mutable, storing the
// clone's id back in the transaction record. Idempotent: a root already
// mutable in txn is returned unchanged.
func cloneRoot(tr *trail.Trail, tab *tables.Tables, txn *tables.Txn) (*dag.NodeRevision, error) {
	root, err := tab.Nodes.GetNodeRevision(tr, txn.Root)
	if err != nil {
		return nil, err
	}
	if root.IsMutableIn(txn.ID) {
		return root, nil
	}

	succID, err := tab.Nodes.NewSuccessorID(tr, root.ID)
	if err != nil {
		return nil, err
	}
	clone := root.Clone(succID, txn.ID)
	if err := tab.Nodes.PutNodeRevision(tr, clone); err != nil {
		return nil, err
	}
	txn.Root = succID
	if err := tab.Txns.PutTxn(tr, txn); err != nil {
		return nil, err
	}
	return clone, nil
}

// CloneChild makes the child under name mutable in txn. If it already is,
// it is returned unchanged. Otherwise a successor id is allocated, a fresh
// node revision with content copied from the immutable predecessor is
// stored, and the parent's entry is rewritten to the clone. path is the
// canonical absolute path of the child, consulted by the copy-id
// inheritance choice below.
func CloneChild(tr *trail.Trail, tab *tables.Tables, txn *tables.Txn, parent *dag.NodeRevision, name, path string) (*dag.NodeRevision, error) {
	if parent.Kind != dag.KindDirectory {
		return nil, dag.ErrNotDir
	}
	if !parent.IsMutableIn(txn.ID) {
		return nil, dag.ErrNotMutable
	}
	childID, ok := parent.Dir.Entries[name]
	if !ok {
		return nil, ErrNotFound
	}
	child, err := tab.Nodes.GetNodeRevision(tr, childID)
	if err != nil {
		return nil, err
	}
	if child.IsMutableIn(txn.ID) {
		return child, nil
	}

	copyID, err := chooseCopyID(tr, tab, txn, parent, child, path)
	if err != nil {
		return nil, err
	}

	succID, err := tab.Nodes.NewSuccessorID(tr, childID)
	if err != nil {
		return nil, err
	}
	clone := child.Clone(succID, txn.ID)
	clone.Header.CopyID = copyID
	if copyID == child.Header.CopyID && child.Header.IsCopyRoot() {
		// The clone stays the root of its copy lineage and keeps carrying
		// the recorded source.
		clone.Header.CopyFromRev = child.Header.CopyFromRev
		clone.Header.CopyFromPath = child.Header.CopyFromPath
	}
	if err := tab.Nodes.PutNodeRevision(tr, clone); err != nil {
		return nil, err
	}

	parent.Dir.Entries[name] = succID
	if err := tab.Nodes.PutNodeRevision(tr, parent); err != nil {
		return nil, err
	}
	return clone, nil
}

// chooseCopyID picks the copy-id a clone of child adopts when it first
// becomes mutable beneath parent:
//
//  1. inherit-self: the child is the root of its copy lineage and is being
//     reached via the path its copy was created at.
//  2. inherit-parent: the child shares the parent's lineage, or carries the
//     not-a-copy sentinel, or is an interior node of the parent's copy.
//  3. new: the access is via a subtree of a copy, so the child's first
//     modification opens a lineage of its own. The fresh copy-id is
//     recorded in the copies table and on the transaction's copy-list so
//     abort can reclaim it.
func chooseCopyID(tr *trail.Trail, tab *tables.Tables, txn *tables.Txn, parent, child *dag.NodeRevision, path string) (string, error) {
	childCopy := child.Header.CopyID

	if childCopy != dag.CopyIDSentinel {
		rec, ok, err := tab.Copies.Get(tr, childCopy)
		if err != nil {
			return "", err
		}
		if ok && rec.DstPath == path {
			return childCopy, nil
		}
	}

	if childCopy == parent.Header.CopyID || childCopy == dag.CopyIDSentinel {
		return parent.Header.CopyID, nil
	}

	newID, err := tab.Copies.NewCopyID(tr)
	if err != nil {
		return "", err
	}
	tab.Copies.Put(tr, newID, tables.CopyRecord{
		FromRev: tables.NoCopyFromRev,
		DstPath: path,
	})
	txn.CopyList = append(txn.CopyList, newID)
	if err := tab.Txns.PutTxn(tr, txn); err != nil {
		return "", err
	}
	return newID, nil
}

// makeChild creates a brand-new, empty child node beneath parent. The
// parent must be mutable and must not already carry an entry of that name.
func makeChild(tr *trail.Trail, tab *tables.Tables, txn *tables.Txn, parent *dag.NodeRevision, name string, kind dag.Kind) (*dag.NodeRevision, error) {
	if parent.Kind != dag.KindDirectory {
		return nil, dag.ErrNotDir
	}
	if !parent.IsMutableIn(txn.ID) {
		return nil, dag.ErrNotMutable
	}
	if _, ok := parent.Dir.Entries[name]; ok {
		return nil, ErrAlreadyExists
	}

	id, err := tab.Nodes.NewNodeID(tr)
	if err != nil {
		return nil, err
	}
	var child *dag.NodeRevision
	if kind == dag.KindDirectory {
		child = dag.NewDirectory(id, txn.ID, parent.Header.CopyID)
	} else {
		child = dag.NewFile(id, txn.ID, parent.Header.CopyID)
	}
	if err := tab.Nodes.PutNodeRevision(tr, child); err != nil {
		return nil, err
	}
	parent.Dir.Entries[name] = id
	if err := tab.Nodes.PutNodeRevision(tr, parent); err != nil {
		return nil, err
	}
	return child, nil
}

// DeleteIfMutable is the aborted-transaction garbage collector: starting at
// id, it recursively removes every node revision owned by txnID, walking
// directory entries before the directory itself. Immutable nodes are left
// untouched.
func DeleteIfMutable(tr *trail.Trail, tab *tables.Tables, txnID string, id dag.ID) error {
	if err := tr.Context().Err(); err != nil {
		return err
	}
	n, err := tab.Nodes.GetNodeRevision(tr, id)
	if err != nil {
		if err == dag.ErrIDNotFound {
			return nil
		}
		return err
	}
	if !n.IsMutableIn(txnID) {
		return nil
	}
	if n.Kind == dag.KindDirectory {
		for _, e := range n.Dir.SortedEntries() {
			if err := DeleteIfMutable(tr, tab, txnID, e.ID); err != nil {
				return err
			}
		}
	}
	tab.Nodes.DeleteNodeRevision(tr, id)
	return nil
}
