package tree

import (
	"context"
	"fmt"

	"github.com/branchfs/branchfs/pkg/dag"
	"github.com/branchfs/branchfs/pkg/tables"
	"github.com/branchfs/branchfs/pkg/trail"
)

// Copy copies the node at fromPath in a revision root to toPath in a
// transaction root, preserving history: the destination becomes a fresh
// copy lineage whose root records the source (revision, path) and whose
// nodes all carry the newly allocated copy-id. An add-change is recorded,
// or a replace-change when the destination entry already existed.
func Copy(ctx context.Context, from *Root, fromPath string, to *Root, toPath string) error {
	return copyPath(ctx, from, fromPath, to, toPath, true)
}

// RevisionLink links the node at path in a revision root into the same
// path of a transaction root without opening a copy lineage: the
// destination entry points at the source node id directly, sharing its
// structure. An add-change is recorded.
func RevisionLink(ctx context.Context, from *Root, to *Root, path string) error {
	return copyPath(ctx, from, path, to, path, false)
}

func copyPath(ctx context.Context, from *Root, fromPath string, to *Root, toPath string, preserveHistory bool) error {
	if from.IsTxn() {
		return fmt.Errorf("tree: copy source must be a revision root")
	}
	return trail.RunVoid(ctx, to.DB, func(tr *trail.Trail) error {
		txn, err := to.mutableTxn(tr)
		if err != nil {
			return err
		}
		fromPP, _, err := openPath(tr, from, fromPath, 0)
		if err != nil {
			return err
		}
		toPP, _, err := openPath(tr, to, toPath, openLastOptional)
		if err != nil {
			return err
		}
		if toPP.parent == nil {
			return ErrRootDir
		}
		replaced := toPP.node != nil

		if err := makePathMutable(tr, to, txn, toPP.parent); err != nil {
			return err
		}
		if replaced {
			// The old entry is superseded; reclaim anything this
			// transaction owned beneath it.
			oldID := toPP.parent.node.Dir.Entries[toPP.name]
			if err := DeleteIfMutable(tr, to.Tab, txn.ID, oldID); err != nil {
				return err
			}
		}

		var newID dag.ID
		if preserveHistory {
			copyID, err := to.Tab.Copies.NewCopyID(tr)
			if err != nil {
				return err
			}
			newID, err = copySubtree(tr, to.Tab, txn, fromPP.node, copyID)
			if err != nil {
				return err
			}
			root, err := to.Tab.Nodes.GetNodeRevision(tr, newID)
			if err != nil {
				return err
			}
			root.Header.CopyFromRev = from.Rev
			root.Header.CopyFromPath = fromPP.fullPath()
			if err := to.Tab.Nodes.PutNodeRevision(tr, root); err != nil {
				return err
			}
			to.Tab.Copies.Put(tr, copyID, tables.CopyRecord{
				FromRev:  from.Rev,
				FromPath: fromPP.fullPath(),
				DstPath:  toPP.fullPath(),
			})
			txn.CopyList = append(txn.CopyList, copyID)
			if err := to.Tab.Txns.PutTxn(tr, txn); err != nil {
				return err
			}
		} else {
			newID = fromPP.node.ID
		}

		toPP.parent.node.Dir.Entries[toPP.name] = newID
		if err := to.Tab.Nodes.PutNodeRevision(tr, toPP.parent.node); err != nil {
			return err
		}

		kind := tables.ChangeAdd
		if replaced {
			kind = tables.ChangeReplace
		}
		return recordChange(tr, to.Tab, txn.ID, toPP.fullPath(), newID, kind, false, false)
	})
}

// copySubtree clones src and everything beneath it into txn under the
// given copy-id, each clone's id extending its original's branch so
// ancestry queries relate the copy back to its source. Returns the id of
// src's clone.
func copySubtree(tr *trail.Trail, tab *tables.Tables, txn *tables.Txn, src *dag.NodeRevision, copyID string) (dag.ID, error) {
	if err := tr.Context().Err(); err != nil {
		return dag.ID{}, err
	}
	succID, err := tab.Nodes.NewSuccessorID(tr, src.ID)
	if err != nil {
		return dag.ID{}, err
	}
	clone := src.Clone(succID, txn.ID)
	clone.Header.CopyID = copyID

	if clone.Kind == dag.KindDirectory {
		for _, e := range src.Dir.SortedEntries() {
			child, err := tab.Nodes.GetNodeRevision(tr, e.ID)
			if err != nil {
				return dag.ID{}, err
			}
			childID, err := copySubtree(tr, tab, txn, child, copyID)
			if err != nil {
				return dag.ID{}, err
			}
			clone.Dir.Entries[e.Name] = childID
		}
	}
	if err := tab.Nodes.PutNodeRevision(tr, clone); err != nil {
		return dag.ID{}, err
	}
	return succID, nil
}
