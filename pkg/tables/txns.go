package tables

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/branchfs/branchfs/pkg/dag"
	"github.com/branchfs/branchfs/pkg/fscodec"
	"github.com/branchfs/branchfs/pkg/kv"
	"github.com/branchfs/branchfs/pkg/trail"
)

// NoCommittedRevision is Txn.CommittedRev's sentinel for an open
// transaction.
const NoCommittedRevision = -1

// Txn is the transactions table's value: one transaction's id, base
// revision, current and base root node ids, copy-list, property map, and
// terminal commit state.
type Txn struct {
	ID           string
	BaseRev      int64
	Root         dag.ID
	BaseRoot     dag.ID
	CopyList     []string
	Props        map[string][]byte
	Committed    bool
	CommittedRev int64
}

func encodeTxn(t *Txn) []byte {
	rec := fscodec.NewRecord().
		String(t.ID).
		Int64(t.BaseRev).
		String(t.Root.String()).
		String(t.BaseRoot.String()).
		Bool(t.Committed).
		Int64(t.CommittedRev)

	rec.Uint64(uint64(len(t.CopyList)))
	for _, c := range t.CopyList {
		rec.String(c)
	}

	keys := sortedKeys(t.Props)
	rec.Uint64(uint64(len(keys)))
	for _, k := range keys {
		rec.String(k).Bytes(t.Props[k])
	}
	return rec.Encode()
}

func decodeTxn(data []byte) (*Txn, error) {
	d, err := fscodec.Decode(data)
	if err != nil {
		return nil, err
	}
	id, err := d.String()
	if err != nil {
		return nil, err
	}
	baseRev, err := d.Int64()
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
	baseRootStr, err := d.String()
	if err != nil {
		return nil, err
	}
	baseRoot, err := dag.Parse(baseRootStr)
	if err != nil {
		return nil, err
	}
	committed, err := d.Bool()
	if err != nil {
		return nil, err
	}
	committedRev, err := d.Int64()
	if err != nil {
		return nil, err
	}
	copyCount, err := d.Uint64()
	if err != nil {
		return nil, err
	}
	copyList := make([]string, 0, copyCount)
	for i := uint64(0); i < copyCount; i++ {
		c, err := d.String()
		if err != nil {
			return nil, err
		}
		copyList = append(copyList, c)
	}
	propCount, err := d.Uint64()
	if err != nil {
		return nil, err
	}
	props := map[string][]byte{}
	for i := uint64(0); i < propCount; i++ {
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
	return &Txn{
		ID: id, BaseRev: baseRev, Root: root, BaseRoot: baseRoot,
		CopyList: copyList, Props: props,
		Committed: committed, CommittedRev: committedRev,
	}, nil
}

// TxnsTable is the transactions table.
type TxnsTable struct {
	records kv.Table
	counter kv.Table
}

func txnKey(id string) kv.Value { return kv.BytesValue([]byte(id)) }

var txnCounterKey = kv.BytesValue([]byte("txn"))

// CreateTxn begins a new transaction rooted (initially) at baseRoot, the
// root node id of baseRev.
func (t TxnsTable) CreateTxn(tr *trail.Trail, baseRev int64, baseRoot dag.ID) (string, error) {
	raw, ok := t.counter.Get(tr.Tx(), txnCounterKey)
	var next uint64 = 1
	if ok {
		if len(raw) != 8 {
			return "", fmt.Errorf("tables: corrupt txn counter")
		}
		next = binary.BigEndian.Uint64(raw) + 1
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	t.counter.Set(tr.Tx(), buf[:], txnCounterKey)

	id := strconv.FormatUint(next, 10)
	txn := &Txn{
		ID: id, BaseRev: baseRev, Root: baseRoot, BaseRoot: baseRoot,
		Props: map[string][]byte{}, CommittedRev: NoCommittedRevision,
	}
	if err := t.PutTxn(tr, txn); err != nil {
		return "", err
	}
	return id, nil
}

// GetTxn fetches a transaction record by id.
func (t TxnsTable) GetTxn(tr *trail.Trail, id string) (*Txn, error) {
	raw, ok := t.records.Get(tr.Tx(), txnKey(id))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTxnNotFound, id)
	}
	return decodeTxn(raw)
}

// PutTxn stores (or overwrites) a transaction record.
func (t TxnsTable) PutTxn(tr *trail.Trail, txn *Txn) error {
	t.records.Set(tr.Tx(), encodeTxn(txn), txnKey(txn.ID))
	return nil
}

// DeleteTxn removes a transaction record (on abort; commit keeps it).
func (t TxnsTable) DeleteTxn(tr *trail.Trail, id string) {
	t.records.Del(tr.Tx(), txnKey(id))
}

// ListTxns returns the id of every stored transaction record, committed
// ones included.
func (t TxnsTable) ListTxns(tr *trail.Trail) []string {
	var ids []string
	t.records.Scan(tr.Tx(), nil, func(vals []kv.Value, val []byte) bool {
		if len(vals) == 1 {
			ids = append(ids, string(vals[0].Str))
		}
		return true
	})
	return ids
}
