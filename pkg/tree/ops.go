package tree

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/branchfs/branchfs/pkg/dag"
	"github.com/branchfs/branchfs/pkg/tables"
	"github.com/branchfs/branchfs/pkg/trail"
)

// openMutable resolves path for a mutation: the root must be a transaction
// root and the transaction still open.
func (r *Root) openMutable(tr *trail.Trail, path string, flags int) (*parentPath, *tables.Txn, error) {
	txn, err := r.mutableTxn(tr)
	if err != nil {
		return nil, nil, err
	}
	pp, _, err := openPath(tr, r, path, flags)
	if err != nil {
		return nil, nil, err
	}
	return pp, txn, nil
}

func recordChange(tr *trail.Trail, tab *tables.Tables, txnID, path string, id dag.ID, kind tables.ChangeKind, textMod, propMod bool) error {
	return tab.Changes.Add(tr, txnID, tables.ChangeRecord{
		Path:      path,
		NodeRevID: id,
		Kind:      kind,
		TextMod:   textMod,
		PropMod:   propMod,
	})
}

// NodeID resolves path and returns the node id stored there.
func (r *Root) NodeID(ctx context.Context, path string) (dag.ID, error) {
	return trail.Run(ctx, r.DB, func(tr *trail.Trail) (dag.ID, error) {
		pp, _, err := openPath(tr, r, path, 0)
		if err != nil {
			return dag.ID{}, err
		}
		return pp.node.ID, nil
	})
}

// CheckPath reports what is stored at path: dag.KindFile, dag.KindDirectory,
// or zero when nothing is there.
func (r *Root) CheckPath(ctx context.Context, path string) (dag.Kind, error) {
	return trail.Run(ctx, r.DB, func(tr *trail.Trail) (dag.Kind, error) {
		pp, _, err := openPath(tr, r, path, 0)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotDirectory) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		return pp.node.Kind, nil
	})
}

// IsDir reports whether path names a directory.
func (r *Root) IsDir(ctx context.Context, path string) (bool, error) {
	k, err := r.CheckPath(ctx, path)
	return k == dag.KindDirectory, err
}

// IsFile reports whether path names a file.
func (r *Root) IsFile(ctx context.Context, path string) (bool, error) {
	k, err := r.CheckPath(ctx, path)
	return k == dag.KindFile, err
}

// DirEntries returns the entry map of the directory at path.
func (r *Root) DirEntries(ctx context.Context, path string) (map[string]dag.ID, error) {
	return trail.Run(ctx, r.DB, func(tr *trail.Trail) (map[string]dag.ID, error) {
		pp, _, err := openPath(tr, r, path, 0)
		if err != nil {
			return nil, err
		}
		if pp.node.Kind != dag.KindDirectory {
			return nil, ErrNotDirectory
		}
		out := make(map[string]dag.ID, len(pp.node.Dir.Entries))
		for name, id := range pp.node.Dir.Entries {
			out[name] = id
		}
		return out, nil
	})
}

func (r *Root) fileAt(tr *trail.Trail, path string) (*dag.NodeRevision, error) {
	pp, _, err := openPath(tr, r, path, 0)
	if err != nil {
		return nil, err
	}
	if pp.node.Kind != dag.KindFile {
		return nil, ErrNotFile
	}
	return pp.node, nil
}

// FileLength returns the byte length of the file at path.
func (r *Root) FileLength(ctx context.Context, path string) (int64, error) {
	return trail.Run(ctx, r.DB, func(tr *trail.Trail) (int64, error) {
		n, err := r.fileAt(tr, path)
		if err != nil {
			return 0, err
		}
		return n.File.Length, nil
	})
}

// FileChecksum returns the stored content checksum of the file at path.
func (r *Root) FileChecksum(ctx context.Context, path string) ([]byte, error) {
	return trail.Run(ctx, r.DB, func(tr *trail.Trail) ([]byte, error) {
		n, err := r.fileAt(tr, path)
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), n.File.Checksum[:]...), nil
	})
}

// FileContents returns the full content of the file at path. The returned
// slice is a private copy, valid past the trail that produced it.
func (r *Root) FileContents(ctx context.Context, path string) ([]byte, error) {
	return trail.Run(ctx, r.DB, func(tr *trail.Trail) ([]byte, error) {
		n, err := r.fileAt(tr, path)
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), n.File.Data...), nil
	})
}

// FileReader is FileContents as a stream.
func (r *Root) FileReader(ctx context.Context, path string) (io.Reader, error) {
	data, err := r.FileContents(ctx, path)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// NodeProp returns one property of the node at path, nil if unset.
func (r *Root) NodeProp(ctx context.Context, path, key string) ([]byte, error) {
	props, err := r.NodeProplist(ctx, path)
	if err != nil {
		return nil, err
	}
	return props[key], nil
}

// NodeProplist returns all properties of the node at path.
func (r *Root) NodeProplist(ctx context.Context, path string) (map[string][]byte, error) {
	return trail.Run(ctx, r.DB, func(tr *trail.Trail) (map[string][]byte, error) {
		pp, _, err := openPath(tr, r, path, 0)
		if err != nil {
			return nil, err
		}
		out := make(map[string][]byte, len(pp.node.Props))
		for k, v := range pp.node.Props {
			out[k] = append([]byte(nil), v...)
		}
		return out, nil
	})
}

// MakeFile creates an empty file at path and records an add-change. The
// parent directory must exist; the name must be free.
func (r *Root) MakeFile(ctx context.Context, path string) error {
	return r.makeNode(ctx, path, dag.KindFile)
}

// MakeDir creates an empty directory at path and records an add-change.
func (r *Root) MakeDir(ctx context.Context, path string) error {
	return r.makeNode(ctx, path, dag.KindDirectory)
}

func (r *Root) makeNode(ctx context.Context, path string, kind dag.Kind) error {
	return trail.RunVoid(ctx, r.DB, func(tr *trail.Trail) error {
		pp, txn, err := r.openMutable(tr, path, openLastOptional)
		if err != nil {
			return err
		}
		if pp.node != nil {
			return ErrAlreadyExists
		}
		if err := makePathMutable(tr, r, txn, pp.parent); err != nil {
			return err
		}
		child, err := makeChild(tr, r.Tab, txn, pp.parent.node, pp.name, kind)
		if err != nil {
			return err
		}
		return recordChange(tr, r.Tab, txn.ID, pp.fullPath(), child.ID, tables.ChangeAdd, false, false)
	})
}

// ApplyText replaces the content of the file at path with everything read
// from src, recording a text-modify change.
func (r *Root) ApplyText(ctx context.Context, path string, src io.Reader) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	return trail.RunVoid(ctx, r.DB, func(tr *trail.Trail) error {
		pp, txn, err := r.openMutable(tr, path, 0)
		if err != nil {
			return err
		}
		if pp.node.Kind != dag.KindFile {
			return ErrNotFile
		}
		if err := makePathMutable(tr, r, txn, pp); err != nil {
			return err
		}
		fc := dag.NewFileContent(data)
		pp.node.File = &fc
		if err := r.Tab.Nodes.PutNodeRevision(tr, pp.node); err != nil {
			return err
		}
		return recordChange(tr, r.Tab, txn.ID, pp.fullPath(), pp.node.ID, tables.ChangeModify, true, false)
	})
}

// ChangeNodeProp sets (or, when val is nil, removes) one property of the
// node at path, recording a prop-modify change.
func (r *Root) ChangeNodeProp(ctx context.Context, path, key string, val []byte) error {
	return trail.RunVoid(ctx, r.DB, func(tr *trail.Trail) error {
		pp, txn, err := r.openMutable(tr, path, 0)
		if err != nil {
			return err
		}
		if err := makePathMutable(tr, r, txn, pp); err != nil {
			return err
		}
		if val == nil {
			delete(pp.node.Props, key)
		} else {
			pp.node.Props[key] = append([]byte(nil), val...)
		}
		if err := r.Tab.Nodes.PutNodeRevision(tr, pp.node); err != nil {
			return err
		}
		return recordChange(tr, r.Tab, txn.ID, pp.fullPath(), pp.node.ID, tables.ChangeModify, false, true)
	})
}

// Delete removes the entry at path, recording a delete-change. A directory
// must be empty; DeleteTree removes subtrees.
func (r *Root) Delete(ctx context.Context, path string) error {
	return r.deletePath(ctx, path, false)
}

// DeleteTree removes the entry at path and, for a directory, its whole
// subtree beneath it first.
func (r *Root) DeleteTree(ctx context.Context, path string) error {
	return r.deletePath(ctx, path, true)
}

func (r *Root) deletePath(ctx context.Context, path string, recursive bool) error {
	return trail.RunVoid(ctx, r.DB, func(tr *trail.Trail) error {
		pp, txn, err := r.openMutable(tr, path, 0)
		if err != nil {
			return err
		}
		if pp.parent == nil {
			return ErrRootDir
		}
		if pp.node.Kind == dag.KindDirectory && len(pp.node.Dir.Entries) > 0 && !recursive {
			return ErrDirNotEmpty
		}
		if err := makePathMutable(tr, r, txn, pp.parent); err != nil {
			return err
		}

		// The id credited to the change record is the one at delete time.
		targetID := pp.parent.node.Dir.Entries[pp.name]
		if err := DeleteIfMutable(tr, r.Tab, txn.ID, targetID); err != nil {
			return err
		}
		delete(pp.parent.node.Dir.Entries, pp.name)
		if err := r.Tab.Nodes.PutNodeRevision(tr, pp.parent.node); err != nil {
			return err
		}
		return recordChange(tr, r.Tab, txn.ID, pp.fullPath(), targetID, tables.ChangeDelete, false, false)
	})
}

// CopiedFrom returns the recorded copy source of the node at path, or
// (dag.NoCopyFrom, "") when the node does not begin a copy lineage.
// Descendants of a copied subtree do not carry a source; callers asking
// where a descendant came from walk up to the copy root themselves.
func (r *Root) CopiedFrom(ctx context.Context, path string) (int64, string, error) {
	type src struct {
		rev  int64
		path string
	}
	s, err := trail.Run(ctx, r.DB, func(tr *trail.Trail) (src, error) {
		pp, _, err := openPath(tr, r, path, 0)
		if err != nil {
			return src{}, err
		}
		if !pp.node.Header.IsCopyRoot() {
			return src{rev: dag.NoCopyFrom}, nil
		}
		return src{rev: pp.node.Header.CopyFromRev, path: pp.node.Header.CopyFromPath}, nil
	})
	if err != nil {
		return dag.NoCopyFrom, "", err
	}
	return s.rev, s.path, nil
}

// NodeCopyID returns the copy lineage tag of the node at path.
func (r *Root) NodeCopyID(ctx context.Context, path string) (string, error) {
	return trail.Run(ctx, r.DB, func(tr *trail.Trail) (string, error) {
		pp, _, err := openPath(tr, r, path, 0)
		if err != nil {
			return "", err
		}
		return pp.node.Header.CopyID, nil
	})
}

// PathsChanged returns the aggregated change set of this root's
// transaction: for a transaction root the changes logged so far, for a
// revision root the changes of the transaction that committed it.
func (r *Root) PathsChanged(ctx context.Context) (map[string]tables.ChangeRecord, error) {
	return trail.Run(ctx, r.DB, func(tr *trail.Trail) (map[string]tables.ChangeRecord, error) {
		txnID := r.Txn
		if !r.IsTxn() {
			rev, err := r.Tab.Revisions.GetRevision(tr, r.Rev)
			if err != nil {
				return nil, err
			}
			txnID = rev.Txn
		}
		if txnID == "" {
			return map[string]tables.ChangeRecord{}, nil
		}
		return r.Tab.Changes.Fetch(tr, txnID)
	})
}

// IsDifferent reports whether the nodes at the two paths differ. This is
// the weak, representation-identity form: two nodes are "the same" only if
// they are literally the same stored node revision. Equal content stored
// under distinct ids reads as different.
func (r *Root) IsDifferent(ctx context.Context, path string, other *Root, otherPath string) (bool, error) {
	return trail.Run(ctx, r.DB, func(tr *trail.Trail) (bool, error) {
		a, _, err := openPath(tr, r, path, 0)
		if err != nil {
			return false, err
		}
		b, _, err := openPath(tr, other, otherPath, 0)
		if err != nil {
			return false, err
		}
		return !a.node.ID.Equal(b.node.ID), nil
	})
}

// PropsChanged reports whether the stored property lists at the two paths
// differ.
func (r *Root) PropsChanged(ctx context.Context, path string, other *Root, otherPath string) (bool, error) {
	return trail.Run(ctx, r.DB, func(tr *trail.Trail) (bool, error) {
		a, _, err := openPath(tr, r, path, 0)
		if err != nil {
			return false, err
		}
		b, _, err := openPath(tr, other, otherPath, 0)
		if err != nil {
			return false, err
		}
		return !propsEqual(a.node.Props, b.node.Props), nil
	})
}

// ContentsChanged reports whether the stored file contents at the two
// paths differ, by length and checksum.
func (r *Root) ContentsChanged(ctx context.Context, path string, other *Root, otherPath string) (bool, error) {
	return trail.Run(ctx, r.DB, func(tr *trail.Trail) (bool, error) {
		a, err := r.fileAt(tr, path)
		if err != nil {
			return false, err
		}
		b, err := other.fileAt(tr, otherPath)
		if err != nil {
			return false, err
		}
		return a.File.Length != b.File.Length || a.File.Checksum != b.File.Checksum, nil
	})
}

func propsEqual(a, b map[string][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || !bytes.Equal(v, w) {
			return false
		}
	}
	return true
}
