package tables

import (
	"encoding/binary"

	"github.com/branchfs/branchfs/pkg/dag"
	"github.com/branchfs/branchfs/pkg/fscodec"
	"github.com/branchfs/branchfs/pkg/kv"
	"github.com/branchfs/branchfs/pkg/trail"
)

// ChangeKind is the per-path change kind of a change record.
type ChangeKind uint8

const (
	ChangeAdd ChangeKind = iota + 1
	ChangeDelete
	ChangeReplace
	ChangeModify
	ChangeReset
)

// ChangeRecord is one raw log entry, or (after Fetch's aggregation) one
// entry of the per-transaction aggregated change set.
type ChangeRecord struct {
	Path      string
	NodeRevID dag.ID
	Kind      ChangeKind
	TextMod   bool
	PropMod   bool
}

func encodeChange(r ChangeRecord) []byte {
	return fscodec.NewRecord().
		String(r.Path).
		String(r.NodeRevID.String()).
		Uint64(uint64(r.Kind)).
		Bool(r.TextMod).
		Bool(r.PropMod).
		Encode()
}

func decodeChange(data []byte) (ChangeRecord, error) {
	d, err := fscodec.Decode(data)
	if err != nil {
		return ChangeRecord{}, err
	}
	path, err := d.String()
	if err != nil {
		return ChangeRecord{}, err
	}
	idStr, err := d.String()
	if err != nil {
		return ChangeRecord{}, err
	}
	id, err := dag.Parse(idStr)
	if err != nil {
		return ChangeRecord{}, err
	}
	kind, err := d.Uint64()
	if err != nil {
		return ChangeRecord{}, err
	}
	textMod, err := d.Bool()
	if err != nil {
		return ChangeRecord{}, err
	}
	propMod, err := d.Bool()
	if err != nil {
		return ChangeRecord{}, err
	}
	return ChangeRecord{Path: path, NodeRevID: id, Kind: ChangeKind(kind), TextMod: textMod, PropMod: propMod}, nil
}

// ChangesTable is the changes table: an append-only, per-txn log keyed by
// (txn_id, seq) so scanning a txn_id prefix replays records in insertion
// order.
type ChangesTable struct {
	records kv.Table
	seq     kv.Table
}

// Add appends one raw change record for txnID.
func (t ChangesTable) Add(tr *trail.Trail, txnID string, rec ChangeRecord) error {
	seq, err := t.nextSeq(tr, txnID)
	if err != nil {
		return err
	}
	t.records.Set(tr.Tx(), encodeChange(rec), kv.BytesValue([]byte(txnID)), kv.Uint64Value(seq))
	return nil
}

func (t ChangesTable) nextSeq(tr *trail.Trail, txnID string) (uint64, error) {
	key := kv.BytesValue([]byte(txnID))
	raw, ok := t.seq.Get(tr.Tx(), key)
	var next uint64
	if ok {
		next = binary.BigEndian.Uint64(raw) + 1
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	t.seq.Set(tr.Tx(), buf[:], key)
	return next, nil
}

// Fetch replays txnID's raw log in insertion order and folds it into the
// path -> aggregated-change mapping. The result is deterministic and
// independent of how the log was buffered when written:
//
//	add over none                 -> add
//	delete over add               -> none (path drops out)
//	delete over none              -> delete
//	delete over modify/replace    -> delete, text/prop flags preserved
//	replace over add or modify    -> replace
//	modify over any existing      -> existing kind, flags OR-ed in
//	reset                         -> path drops out
func (t ChangesTable) Fetch(tr *trail.Trail, txnID string) (map[string]ChangeRecord, error) {
	agg := map[string]ChangeRecord{}
	var decodeErr error
	t.records.Scan(tr.Tx(), []kv.Value{kv.BytesValue([]byte(txnID))}, func(vals []kv.Value, val []byte) bool {
		if len(vals) < 1 || string(vals[0].Str) != txnID {
			return false
		}
		rec, err := decodeChange(val)
		if err != nil {
			decodeErr = err
			return false
		}
		applyChange(agg, rec)
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	return agg, nil
}

// applyChange folds one raw record into the running aggregate per the
// table in Fetch's doc comment.
func applyChange(agg map[string]ChangeRecord, rec ChangeRecord) {
	switch rec.Kind {
	case ChangeAdd:
		agg[rec.Path] = rec

	case ChangeDelete:
		existing, has := agg[rec.Path]
		if !has {
			agg[rec.Path] = rec // delete over none -> delete
			return
		}
		switch existing.Kind {
		case ChangeAdd:
			delete(agg, rec.Path) // delete over add -> none
		case ChangeModify, ChangeReplace:
			agg[rec.Path] = ChangeRecord{
				Path: rec.Path, NodeRevID: rec.NodeRevID, Kind: ChangeDelete,
				TextMod: existing.TextMod || rec.TextMod, PropMod: existing.PropMod || rec.PropMod,
			} // replace-by-delete
		default:
			agg[rec.Path] = rec
		}

	case ChangeReplace:
		agg[rec.Path] = rec // replace over any add or modify -> replace

	case ChangeModify:
		existing, has := agg[rec.Path]
		if !has {
			agg[rec.Path] = rec
			return
		}
		agg[rec.Path] = ChangeRecord{
			Path: rec.Path, NodeRevID: rec.NodeRevID, Kind: existing.Kind,
			TextMod: existing.TextMod || rec.TextMod, PropMod: existing.PropMod || rec.PropMod,
		}

	case ChangeReset:
		delete(agg, rec.Path) // reset removes the entry outright
	}
}

// UndeleteChange removes a prior delete record for path from txnID's raw
// log — used when a merge discovers the path was also deleted upstream,
// so the delete should not be credited to this transaction.
func (t ChangesTable) UndeleteChange(tr *trail.Trail, txnID, path string) error {
	var toDelete [][]kv.Value
	t.records.Scan(tr.Tx(), []kv.Value{kv.BytesValue([]byte(txnID))}, func(vals []kv.Value, val []byte) bool {
		if len(vals) < 1 || string(vals[0].Str) != txnID {
			return false
		}
		rec, err := decodeChange(val)
		if err != nil {
			return true
		}
		if rec.Path == path && rec.Kind == ChangeDelete {
			cp := make([]kv.Value, len(vals))
			copy(cp, vals)
			toDelete = append(toDelete, cp)
		}
		return true
	})
	for _, vals := range toDelete {
		t.records.Del(tr.Tx(), vals...)
	}
	return nil
}

// DeleteAll removes every raw change record for txnID. Only abort uses
// this: commit leaves the log in place so the committed revision's
// paths-changed query can keep reading it.
func (t ChangesTable) DeleteAll(tr *trail.Trail, txnID string) {
	var toDelete [][]kv.Value
	t.records.Scan(tr.Tx(), []kv.Value{kv.BytesValue([]byte(txnID))}, func(vals []kv.Value, val []byte) bool {
		if len(vals) < 1 || string(vals[0].Str) != txnID {
			return false
		}
		cp := make([]kv.Value, len(vals))
		copy(cp, vals)
		toDelete = append(toDelete, cp)
		return true
	})
	for _, vals := range toDelete {
		t.records.Del(tr.Tx(), vals...)
	}
	t.seq.Del(tr.Tx(), kv.BytesValue([]byte(txnID)))
}
