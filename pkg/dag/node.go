package dag

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/branchfs/branchfs/pkg/fscodec"
)

// Kind distinguishes the two node-revision shapes.
type Kind uint8

const (
	KindFile Kind = iota + 1
	KindDirectory
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// NoPredecessorCount is the header's predecessor-count sentinel for
// "unknown".
const NoPredecessorCount = -1

// NoCopyFrom is the CopyFromRev sentinel for nodes that are not the first
// node of a copied subtree.
const NoCopyFrom = -1

// Header carries the ancestry and copy-on-write bookkeeping common to
// both file and directory node revisions.
type Header struct {
	PredecessorID    ID     // zero value (IsZero) if none
	PredecessorCount int64  // -1 (NoPredecessorCount) means unknown
	CopyID           string // lineage tag; "0" is the sentinel meaning "not a copy"
	Txn              string // owning transaction id

	// CopyFromRev/CopyFromPath record the copy source on the first node of
	// a copied subtree only; descendants carry NoCopyFrom. Callers asking
	// "where does this descend from?" walk up to the copy root.
	CopyFromRev  int64
	CopyFromPath string
}

// CopyIDSentinel tags nodes that belong to no copy lineage.
const CopyIDSentinel = "0"

// IsCopyRoot reports whether this revision is the first node of a copied
// subtree, i.e. the one carrying the recorded copy source.
func (h Header) IsCopyRoot() bool { return h.CopyFromRev != NoCopyFrom }

// Entry is one directory entry: a name bound to a child node id.
type Entry struct {
	Name string
	ID   ID
}

// FileContent is a file node revision's payload: the stored byte
// sequence plus its length and a strong content checksum. The bytes live
// inline in the node revision record rather than behind a separate
// content-addressed blob table. See DESIGN.md.
type FileContent struct {
	Data     []byte
	Length   int64
	Checksum [sha256.Size]byte
}

// NewFileContent computes Length/Checksum from data.
func NewFileContent(data []byte) FileContent {
	return FileContent{Data: data, Length: int64(len(data)), Checksum: sha256.Sum256(data)}
}

// DirContent is a directory node revision's payload: an ordered set of
// entries distinct by name.
type DirContent struct {
	Entries map[string]ID
}

func NewDirContent() DirContent { return DirContent{Entries: map[string]ID{}} }

// SortedEntries returns entries ordered by name, for deterministic
// encoding and deterministic iteration by callers.
func (d DirContent) SortedEntries() []Entry {
	names := make([]string, 0, len(d.Entries))
	for name := range d.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Entry, len(names))
	for i, name := range names {
		out[i] = Entry{Name: name, ID: d.Entries[name]}
	}
	return out
}

// NodeRevision is one stored (kind, header, content) triple, plus the id
// it is stored under and its property list.
type NodeRevision struct {
	ID       ID
	Kind     Kind
	Header   Header
	Props    map[string][]byte
	File     *FileContent
	Dir      *DirContent
}

// NewDirectory builds an empty directory node revision owned by txn.
func NewDirectory(id ID, txn, copyID string) *NodeRevision {
	dir := NewDirContent()
	return &NodeRevision{
		ID:   id,
		Kind: KindDirectory,
		Header: Header{
			PredecessorCount: 0,
			CopyID:           copyID,
			Txn:              txn,
			CopyFromRev:      NoCopyFrom,
		},
		Props: map[string][]byte{},
		Dir:   &dir,
	}
}

// NewFile builds an empty file node revision owned by txn.
func NewFile(id ID, txn, copyID string) *NodeRevision {
	fc := NewFileContent(nil)
	return &NodeRevision{
		ID:   id,
		Kind: KindFile,
		Header: Header{
			PredecessorCount: 0,
			CopyID:           copyID,
			Txn:              txn,
			CopyFromRev:      NoCopyFrom,
		},
		Props: map[string][]byte{},
		File:  &fc,
	}
}

// Clone returns a deep copy of n stored under a new id, with the
// predecessor chain extended to point back at n. The clone belongs to txn.
func (n *NodeRevision) Clone(newID ID, txn string) *NodeRevision {
	count := n.Header.PredecessorCount
	if count != NoPredecessorCount {
		count++
	}
	c := &NodeRevision{
		ID:   newID,
		Kind: n.Kind,
		Header: Header{
			PredecessorID:    n.ID,
			PredecessorCount: count,
			CopyID:           n.Header.CopyID,
			Txn:              txn,
			CopyFromRev:      NoCopyFrom,
		},
		Props: map[string][]byte{},
	}
	for k, v := range n.Props {
		c.Props[k] = append([]byte(nil), v...)
	}
	switch n.Kind {
	case KindFile:
		fc := FileContent{Length: n.File.Length, Checksum: n.File.Checksum}
		fc.Data = append([]byte(nil), n.File.Data...)
		c.File = &fc
	case KindDirectory:
		dir := NewDirContent()
		for name, id := range n.Dir.Entries {
			dir.Entries[name] = id
		}
		c.Dir = &dir
	}
	return c
}

// IsMutableIn reports whether this revision is mutable in transaction
// txn, i.e. whether txn owns it (see id.go).
func (n *NodeRevision) IsMutableIn(txn string) bool {
	return txn != "" && n.Header.Txn == txn
}

// Encode serializes a node revision with fscodec.
func Encode(n *NodeRevision) []byte {
	r := fscodec.NewRecord().
		Uint64(uint64(n.Kind)).
		String(n.Header.PredecessorID.String()).
		Bool(!n.Header.PredecessorID.IsZero()).
		Int64(n.Header.PredecessorCount).
		String(n.Header.CopyID).
		String(n.Header.Txn).
		Int64(n.Header.CopyFromRev).
		String(n.Header.CopyFromPath)

	r.Uint64(uint64(len(n.Props)))
	keys := make([]string, 0, len(n.Props))
	for k := range n.Props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r.String(k).Bytes(n.Props[k])
	}

	switch n.Kind {
	case KindFile:
		fc := n.File
		if fc == nil {
			fc = &FileContent{}
		}
		r.Bytes(fc.Data).Int64(fc.Length).Bytes(fc.Checksum[:])
	case KindDirectory:
		entries := DirContent{}.SortedEntries()
		if n.Dir != nil {
			entries = n.Dir.SortedEntries()
		}
		r.Uint64(uint64(len(entries)))
		for _, e := range entries {
			r.String(e.Name).String(e.ID.String())
		}
	}
	return r.Encode()
}

// Decode is Encode's inverse. Unknown trailing fields (a larger Props map
// or additional reserved fields appended by a newer writer) are tolerated
// via fscodec's field-count framing and simply left unread.
func Decode(id ID, data []byte) (*NodeRevision, error) {
	d, err := fscodec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("dag: decode %s: %w", id, err)
	}

	kindVal, err := d.Uint64()
	if err != nil {
		return nil, err
	}
	predIDStr, err := d.String()
	if err != nil {
		return nil, err
	}
	hasPred, err := d.Bool()
	if err != nil {
		return nil, err
	}
	predCount, err := d.Int64()
	if err != nil {
		return nil, err
	}
	copyID, err := d.String()
	if err != nil {
		return nil, err
	}
	txn, err := d.String()
	if err != nil {
		return nil, err
	}
	copyFromRev, err := d.Int64()
	if err != nil {
		return nil, err
	}
	copyFromPath, err := d.String()
	if err != nil {
		return nil, err
	}

	n := &NodeRevision{
		ID:   id,
		Kind: Kind(kindVal),
		Header: Header{
			PredecessorCount: predCount,
			CopyID:           copyID,
			Txn:              txn,
			CopyFromRev:      copyFromRev,
			CopyFromPath:     copyFromPath,
		},
		Props: map[string][]byte{},
	}
	if hasPred {
		pid, err := Parse(predIDStr)
		if err != nil {
			return nil, fmt.Errorf("dag: decode %s: predecessor id: %w", id, err)
		}
		n.Header.PredecessorID = pid
	}

	propCount, err := d.Uint64()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < propCount; i++ {
		k, err := d.String()
		if err != nil {
			return nil, err
		}
		v, err := d.Bytes()
		if err != nil {
			return nil, err
		}
		n.Props[k] = v
	}

	switch n.Kind {
	case KindFile:
		data, err := d.Bytes()
		if err != nil {
			return nil, err
		}
		length, err := d.Int64()
		if err != nil {
			return nil, err
		}
		sum, err := d.Bytes()
		if err != nil {
			return nil, err
		}
		fc := FileContent{Data: data, Length: length}
		copy(fc.Checksum[:], sum)
		n.File = &fc
	case KindDirectory:
		count, err := d.Uint64()
		if err != nil {
			return nil, err
		}
		dir := NewDirContent()
		for i := uint64(0); i < count; i++ {
			name, err := d.String()
			if err != nil {
				return nil, err
			}
			idStr, err := d.String()
			if err != nil {
				return nil, err
			}
			childID, err := Parse(idStr)
			if err != nil {
				return nil, err
			}
			dir.Entries[name] = childID
		}
		n.Dir = &dir
	default:
		return nil, fmt.Errorf("dag: decode %s: unknown kind %d", id, kindVal)
	}

	return n, nil
}
