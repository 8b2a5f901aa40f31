package tables

import (
	"strconv"

	"github.com/branchfs/branchfs/pkg/fscodec"
	"github.com/branchfs/branchfs/pkg/kv"
	"github.com/branchfs/branchfs/pkg/trail"
)

// CopyRecord describes one copy-id lineage: where the copy came from and
// the destination path it was created at. FromRev is NoCopyFromRev for
// lineages opened implicitly by editing inside a copied subtree.
type CopyRecord struct {
	FromRev  int64
	FromPath string
	DstPath  string
}

// NoCopyFromRev marks a copy record with no explicit source revision.
const NoCopyFromRev = -1

func encodeCopy(r CopyRecord) []byte {
	return fscodec.NewRecord().
		Int64(r.FromRev).
		String(r.FromPath).
		String(r.DstPath).
		Encode()
}

func decodeCopy(data []byte) (CopyRecord, error) {
	d, err := fscodec.Decode(data)
	if err != nil {
		return CopyRecord{}, err
	}
	fromRev, err := d.Int64()
	if err != nil {
		return CopyRecord{}, err
	}
	fromPath, err := d.String()
	if err != nil {
		return CopyRecord{}, err
	}
	dstPath, err := d.String()
	if err != nil {
		return CopyRecord{}, err
	}
	return CopyRecord{FromRev: fromRev, FromPath: fromPath, DstPath: dstPath}, nil
}

// CopiesTable tracks copy-id lineages: copy-id -> CopyRecord, plus the
// counter that allocates fresh copy ids. Copy id "0" is reserved as the
// not-a-copy sentinel and never stored here.
type CopiesTable struct {
	records kv.Table
	counter kv.Table
}

var copyCounterKey = kv.BytesValue([]byte("copy"))

// NewCopyID allocates the next unused copy id.
func (t CopiesTable) NewCopyID(tr *trail.Trail) (string, error) {
	next, err := bumpCounter(tr, t.counter, copyCounterKey)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(next, 10), nil
}

// Put stores the lineage record for copyID.
func (t CopiesTable) Put(tr *trail.Trail, copyID string, rec CopyRecord) {
	t.records.Set(tr.Tx(), encodeCopy(rec), kv.BytesValue([]byte(copyID)))
}

// Get fetches the lineage record for copyID.
func (t CopiesTable) Get(tr *trail.Trail, copyID string) (CopyRecord, bool, error) {
	raw, ok := t.records.Get(tr.Tx(), kv.BytesValue([]byte(copyID)))
	if !ok {
		return CopyRecord{}, false, nil
	}
	rec, err := decodeCopy(raw)
	if err != nil {
		return CopyRecord{}, false, err
	}
	return rec, true, nil
}

// Delete removes copyID's record (aborted-transaction cleanup).
func (t CopiesTable) Delete(tr *trail.Trail, copyID string) {
	t.records.Del(tr.Tx(), kv.BytesValue([]byte(copyID)))
}
