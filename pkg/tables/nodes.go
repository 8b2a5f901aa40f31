package tables

import (
	"encoding/binary"
	"fmt"

	"github.com/branchfs/branchfs/pkg/dag"
	"github.com/branchfs/branchfs/pkg/kv"
	"github.com/branchfs/branchfs/pkg/trail"
)

// NodesTable is the nodes table: node-id (string form) -> serialized
// node-revision, plus the per-branch youngest-revision and
// next-node-number counters NewSuccessorID needs.
type NodesTable struct {
	records kv.Table
	nodeCtr kv.Table
	branch  kv.Table
}

func nodeKey(id dag.ID) kv.Value { return kv.BytesValue([]byte(id.String())) }

// nodeChunkSize keeps each stored row comfortably under the KV engine's
// per-value ceiling. Node revisions embed file contents and entry maps,
// so a single record can be arbitrarily large; it is split across
// (id, chunk) rows and reassembled on read.
const nodeChunkSize = 2000

// GetNodeRevision fetches and decodes the node revision stored at id.
func (t NodesTable) GetNodeRevision(tr *trail.Trail, id dag.ID) (*dag.NodeRevision, error) {
	raw, found := t.readChunks(tr, id)
	if !found {
		return nil, dag.ErrIDNotFound
	}
	return dag.Decode(id, raw)
}

// PutNodeRevision stores (or overwrites) a node revision.
func (t NodesTable) PutNodeRevision(tr *trail.Trail, n *dag.NodeRevision) error {
	t.deleteChunks(tr, n.ID)
	data := dag.Encode(n)
	for i := 0; len(data) > 0 || i == 0; i++ {
		chunk := data
		if len(chunk) > nodeChunkSize {
			chunk = chunk[:nodeChunkSize]
		}
		t.records.Set(tr.Tx(), chunk, nodeKey(n.ID), kv.Uint64Value(uint64(i)))
		data = data[len(chunk):]
	}
	return nil
}

// DeleteNodeRevision removes a node revision's record outright (used by
// the aborted-transaction garbage collector).
func (t NodesTable) DeleteNodeRevision(tr *trail.Trail, id dag.ID) {
	t.deleteChunks(tr, id)
}

func (t NodesTable) readChunks(tr *trail.Trail, id dag.ID) ([]byte, bool) {
	idStr := id.String()
	var raw []byte
	found := false
	t.records.Scan(tr.Tx(), []kv.Value{nodeKey(id)}, func(vals []kv.Value, val []byte) bool {
		if len(vals) < 1 || string(vals[0].Str) != idStr {
			return false
		}
		found = true
		raw = append(raw, val...)
		return true
	})
	return raw, found
}

func (t NodesTable) deleteChunks(tr *trail.Trail, id dag.ID) {
	idStr := id.String()
	var keys [][]kv.Value
	t.records.Scan(tr.Tx(), []kv.Value{nodeKey(id)}, func(vals []kv.Value, val []byte) bool {
		if len(vals) < 1 || string(vals[0].Str) != idStr {
			return false
		}
		cp := make([]kv.Value, len(vals))
		copy(cp, vals)
		keys = append(keys, cp)
		return true
	})
	for _, k := range keys {
		t.records.Del(tr.Tx(), k...)
	}
}

// NewNodeID allocates a brand-new node number and returns its initial id
// "n.0" — used when make_file/make_dir create a node with no predecessor.
func (t NodesTable) NewNodeID(tr *trail.Trail) (dag.ID, error) {
	next, err := bumpCounter(tr, t.nodeCtr, kv.BytesValue([]byte("node")))
	if err != nil {
		return dag.ID{}, err
	}
	return dag.New(next, 0), nil
}

// NewSuccessorID allocates the id a clone of base is stored under: if base
// is currently the youngest revision on its branch, the successor simply
// bumps the trailing revision number; otherwise a fresh branch is opened at
// base with its own revision counter starting at 1.
func (t NodesTable) NewSuccessorID(tr *trail.Trail, base dag.ID) (dag.ID, error) {
	branchKey := kv.BytesValue([]byte("y:" + base.BranchKey()))
	raw, ok := t.branch.Get(tr.Tx(), branchKey)
	youngest := base.BranchRevision()
	if ok {
		youngest = int64(binary.BigEndian.Uint64(raw))
	}

	if youngest == base.BranchRevision() {
		next := youngest + 1
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(next))
		t.branch.Set(tr.Tx(), buf[:], branchKey)
		return base.WithRevision(next), nil
	}

	branchNumKey := kv.BytesValue([]byte("b:" + base.String()))
	branchNum, err := bumpCounter(tr, t.branch, branchNumKey)
	if err != nil {
		return dag.ID{}, err
	}
	newID := base.WithBranch(branchNum, 1)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], 1)
	t.branch.Set(tr.Tx(), buf[:], kv.BytesValue([]byte("y:"+newID.BranchKey())))
	return newID, nil
}

// bumpCounter reads an 8-byte big-endian counter at key, increments it, and
// writes it back, returning the post-increment value. Counters start at 1
// on first use (node number 0 and branch number 0 are reserved for the
// filesystem root).
func bumpCounter(tr *trail.Trail, table kv.Table, key kv.Value) (int64, error) {
	raw, ok := table.Get(tr.Tx(), key)
	var cur uint64
	if ok {
		if len(raw) != 8 {
			return 0, fmt.Errorf("tables: corrupt counter at %v", key)
		}
		cur = binary.BigEndian.Uint64(raw)
	}
	cur++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], cur)
	table.Set(tr.Tx(), buf[:], key)
	return int64(cur), nil
}
