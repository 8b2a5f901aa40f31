package tree

import (
	"strings"

	"github.com/branchfs/branchfs/pkg/dag"
	"github.com/branchfs/branchfs/pkg/tables"
	"github.com/branchfs/branchfs/pkg/trail"
)

// parentPath is one step of a resolved path: the node at this step, its
// entry name in the parent, and a link back toward the root. The linked
// list runs from the target node back up to the root; lifetimes match the
// trail that produced it.
type parentPath struct {
	// node is nil only for the terminal step of an openLastOptional
	// resolution whose final component is missing.
	node   *dag.NodeRevision
	name   string // entry name in parent; "" at the root
	parent *parentPath
}

// fullPath rebuilds the canonical absolute path for this step.
func (pp *parentPath) fullPath() string {
	var parts []string
	for p := pp; p != nil && p.name != ""; p = p.parent {
		parts = append(parts, p.name)
	}
	var b strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(parts[i])
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// splitPath canonicalizes a path into its components. Empty components and
// trailing slashes collapse (they mean "stay put").
func splitPath(path string) []string {
	fields := strings.Split(path, "/")
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// joinPath appends one component to a canonical absolute path.
func joinPath(dir, name string) string {
	if dir == "/" || dir == "" {
		return "/" + name
	}
	return dir + "/" + name
}

// openPath flags.
const (
	// openLastOptional permits the final component to be missing: the
	// returned terminal step has a nil node and records the name that
	// would have been. Creation operations resolve their target this way.
	openLastOptional = 1 << iota
)

// openPath walks path from r's root, returning a parent-path list from the
// target back to the root with one step per component.
func openPath(tr *trail.Trail, r *Root, path string, flags int) (*parentPath, *tables.Txn, error) {
	root, txn, err := r.rootNode(tr)
	if err != nil {
		return nil, nil, err
	}

	pp := &parentPath{node: root}
	comps := splitPath(path)
	for i, comp := range comps {
		if pp.node.Kind != dag.KindDirectory {
			return nil, nil, ErrNotDirectory
		}
		childID, ok := pp.node.Dir.Entries[comp]
		if !ok {
			if flags&openLastOptional != 0 && i == len(comps)-1 {
				return &parentPath{name: comp, parent: pp}, txn, nil
			}
			return nil, nil, ErrNotFound
		}
		child, err := r.Tab.Nodes.GetNodeRevision(tr, childID)
		if err != nil {
			return nil, nil, err
		}
		pp = &parentPath{node: child, name: comp, parent: pp}
	}
	return pp, txn, nil
}

// makePathMutable ensures every node from the root down to pp is mutable
// in txn, cloning immutable nodes just in time. Walking from the target
// toward the root: if the target is already mutable nothing happens;
// otherwise the parent is made mutable first and the target is cloned
// beneath it. The parent-path's node references are rewritten to the
// clones so subsequent operations through pp see the mutable view.
func makePathMutable(tr *trail.Trail, r *Root, txn *tables.Txn, pp *parentPath) error {
	if pp.node != nil && pp.node.IsMutableIn(txn.ID) {
		return nil
	}

	if pp.parent == nil {
		n, err := cloneRoot(tr, r.Tab, txn)
		if err != nil {
			return err
		}
		pp.node = n
		return nil
	}

	if err := makePathMutable(tr, r, txn, pp.parent); err != nil {
		return err
	}
	if pp.node == nil {
		// Optional missing terminal: only the parent chain is cloned.
		return nil
	}
	child, err := CloneChild(tr, r.Tab, txn, pp.parent.node, pp.name, pp.fullPath())
	if err != nil {
		return err
	}
	pp.node = child
	return nil
}
