package fs

import (
	"sort"

	"github.com/branchfs/branchfs/pkg/dag"
	"github.com/branchfs/branchfs/pkg/tables"
	"github.com/branchfs/branchfs/pkg/trail"
	"github.com/branchfs/branchfs/pkg/tree"
)

// mergeDirs performs the recursive three-way directory merge of a commit:
// target is the transaction's tree, source is the current youngest
// revision's tree, ancestor is the transaction's base. A non-empty return
// is the full path of the first conflicting entry; the caller aborts the
// enclosing trail so a conflicted merge leaves no partial state.
//
// Entry dispositions, per name appearing in any of the three directories:
//
//	unchanged in target            -> fast-forward to source's id
//	caught up (anc <= tgt <= src)  -> fast-forward to source's id
//	changed in both, directories   -> recurse, then re-point the target
//	                                  child's predecessor at source
//	changed in both, not all dirs  -> conflict
//	deleted in source, tgt as anc  -> delete from target
//	deleted in source, tgt changed -> conflict
//	deleted in source and target   -> strike the delete from the txn's
//	                                  change log (not this txn's doing)
//	added in source only           -> add to target
//	twin add (same node)           -> no-op
//	added in both, distinct nodes  -> conflict
//	added in target only           -> no-op
func mergeDirs(tr *trail.Trail, tab *tables.Tables, txn *tables.Txn, path string, target, source, ancestor *dag.NodeRevision) (string, error) {
	if err := tr.Context().Err(); err != nil {
		return "", err
	}
	if ancestor.ID.Equal(source.ID) || source.ID.Equal(target.ID) {
		return "", nil
	}
	if target.Kind != dag.KindDirectory || source.Kind != dag.KindDirectory || ancestor.Kind != dag.KindDirectory {
		return path, nil
	}
	// Property edits assume an up-to-date directory: bail if the
	// transaction touched the target's property keys.
	if !propKeysEqual(target.Props, ancestor.Props) {
		return path, nil
	}

	for _, name := range entryUnion(ancestor, source, target) {
		childPath := joinMergePath(path, name)
		aID, inAnc := ancestor.Dir.Entries[name]
		sID, inSrc := source.Dir.Entries[name]
		tID, inTgt := target.Dir.Entries[name]

		switch {
		case inAnc && inSrc && inTgt:
			switch {
			case sID.Equal(tID):
				// Source and target already agree.
			case tID.Equal(aID):
				target.Dir.Entries[name] = sID
			case aID.IsAncestorOf(tID) && tID.IsAncestorOf(sID):
				target.Dir.Entries[name] = sID
			case sID.IsAncestorOf(tID):
				// Target already descends from source's state.
			default:
				conflict, err := mergeEntry(tr, tab, txn, childPath, target, name, sID, aID)
				if err != nil || conflict != "" {
					return conflict, err
				}
			}

		case inAnc && inSrc && !inTgt:
			if !aID.Equal(sID) {
				return childPath, nil
			}

		case inAnc && !inSrc && inTgt:
			if !tID.Equal(aID) {
				return childPath, nil
			}
			delete(target.Dir.Entries, name)

		case inAnc && !inSrc && !inTgt:
			if err := tab.Changes.UndeleteChange(tr, txn.ID, childPath); err != nil {
				return "", err
			}

		case !inAnc && inSrc && !inTgt:
			target.Dir.Entries[name] = sID

		case !inAnc && inSrc && inTgt:
			if !sID.Equal(tID) && !sID.IsAncestorOf(tID) {
				return childPath, nil
			}

		default:
			// Present only in target: the transaction's own addition.
		}
	}

	return "", tab.Nodes.PutNodeRevision(tr, target)
}

// mergeEntry handles the changed-in-both case: all three nodes must be
// directories, the target child is made mutable, the merge recurses, and
// on success the child's predecessor chain is re-pointed at source.
func mergeEntry(tr *trail.Trail, tab *tables.Tables, txn *tables.Txn, childPath string, target *dag.NodeRevision, name string, sID, aID dag.ID) (string, error) {
	tID := target.Dir.Entries[name]
	tChild, err := tree.GetNode(tr, tab, tID)
	if err != nil {
		return "", err
	}
	sChild, err := tree.GetNode(tr, tab, sID)
	if err != nil {
		return "", err
	}
	aChild, err := tree.GetNode(tr, tab, aID)
	if err != nil {
		return "", err
	}
	if tChild.Kind != dag.KindDirectory || sChild.Kind != dag.KindDirectory || aChild.Kind != dag.KindDirectory {
		return childPath, nil
	}

	tChild, err = tree.CloneChild(tr, tab, txn, target, name, childPath)
	if err != nil {
		return "", err
	}
	conflict, err := mergeDirs(tr, tab, txn, childPath, tChild, sChild, aChild)
	if err != nil || conflict != "" {
		return conflict, err
	}

	tChild.Header.PredecessorID = sID
	if tChild.Header.PredecessorCount != dag.NoPredecessorCount {
		tChild.Header.PredecessorCount++
	}
	return "", tab.Nodes.PutNodeRevision(tr, tChild)
}

func entryUnion(nodes ...*dag.NodeRevision) []string {
	seen := map[string]bool{}
	var names []string
	for _, n := range nodes {
		for name := range n.Dir.Entries {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func propKeysEqual(a, b map[string][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func joinMergePath(dir, name string) string {
	if dir == "/" || dir == "" {
		return "/" + name
	}
	return dir + "/" + name
}
