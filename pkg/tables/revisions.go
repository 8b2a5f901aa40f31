package tables

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/branchfs/branchfs/pkg/dag"
	"github.com/branchfs/branchfs/pkg/fscodec"
	"github.com/branchfs/branchfs/pkg/kv"
	"github.com/branchfs/branchfs/pkg/trail"
)

// Revision is the revisions table's value: the committed tree's root node
// id, the transaction that committed it, and the revision property map.
type Revision struct {
	Root  dag.ID
	Txn   string
	Props map[string][]byte
}

func encodeRevision(r *Revision) []byte {
	rec := fscodec.NewRecord().String(r.Root.String()).String(r.Txn)
	rec.Uint64(uint64(len(r.Props)))
	keys := sortedKeys(r.Props)
	for _, k := range keys {
		rec.String(k).Bytes(r.Props[k])
	}
	return rec.Encode()
}

func decodeRevision(data []byte) (*Revision, error) {
	d, err := fscodec.Decode(data)
	if err != nil {
		return nil, err
	}
	rootStr, err := d.String()
	if err != nil {
		return nil, err
	}
	root, err := dag.Parse(rootStr)
	if err != nil {
		return nil, err
	}
	txn, err := d.String()
	if err != nil {
		return nil, err
	}
	count, err := d.Uint64()
	if err != nil {
		return nil, err
	}
	props := map[string][]byte{}
	for i := uint64(0); i < count; i++ {
		k, err := d.String()
		if err != nil {
			return nil, err
		}
		v, err := d.Bytes()
		if err != nil {
			return nil, err
		}
		props[k] = v
	}
	return &Revision{Root: root, Txn: txn, Props: props}, nil
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RevisionsTable is the revisions table: revision-number (big-endian) ->
// serialized revision record, plus the counter that keeps revision
// numbers 0-based and gapless.
type RevisionsTable struct {
	records kv.Table
	counter kv.Table
}

var revCounterKey = kv.BytesValue([]byte("rev"))

// PutRevision allocates the next sequential revision number and stores rec
// under it.
func (t RevisionsTable) PutRevision(tr *trail.Trail, rec *Revision) (int64, error) {
	raw, ok := t.counter.Get(tr.Tx(), revCounterKey)
	next := int64(0)
	if ok {
		if len(raw) != 8 {
			return 0, fmt.Errorf("tables: corrupt revision counter")
		}
		next = int64(binary.BigEndian.Uint64(raw)) + 1
	}
	t.records.Set(tr.Tx(), encodeRevision(rec), kv.Uint64Value(uint64(next)))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(next))
	t.counter.Set(tr.Tx(), buf[:], revCounterKey)
	return next, nil
}

// GetRevision fetches revision rev.
func (t RevisionsTable) GetRevision(tr *trail.Trail, rev int64) (*Revision, error) {
	raw, ok := t.records.Get(tr.Tx(), kv.Uint64Value(uint64(rev)))
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRevisionNotFound, rev)
	}
	return decodeRevision(raw)
}

// RevisionRoot is a convenience wrapper returning just the root node id.
func (t RevisionsTable) RevisionRoot(tr *trail.Trail, rev int64) (dag.ID, error) {
	r, err := t.GetRevision(tr, rev)
	if err != nil {
		return dag.ID{}, err
	}
	return r.Root, nil
}

// YoungestRevision returns the highest committed revision number. A trail
// that reads this holds the value stable until the trail ends: pkg/kv's
// single-writer-per-Tx serialization means no one else can commit a new
// revision underneath an open trail. See DESIGN.md.
func (t RevisionsTable) YoungestRevision(tr *trail.Trail) (int64, error) {
	raw, ok := t.counter.Get(tr.Tx(), revCounterKey)
	if !ok {
		return 0, ErrNotInitialized
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

// ChangeRevisionProp sets (or, if val is nil, deletes) a single revision
// property in place — the one piece of a committed revision that remains
// mutable.
func (t RevisionsTable) ChangeRevisionProp(tr *trail.Trail, rev int64, key string, val []byte) error {
	r, err := t.GetRevision(tr, rev)
	if err != nil {
		return err
	}
	if val == nil {
		delete(r.Props, key)
	} else {
		r.Props[key] = val
	}
	t.records.Set(tr.Tx(), encodeRevision(r), kv.Uint64Value(uint64(rev)))
	return nil
}
