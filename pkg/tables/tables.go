// Package tables implements the store's logical tables — nodes,
// revisions, transactions, changes, copies — as typed accessors over
// pkg/kv, each laying out its own prefix-scoped keyspace with pkg/kv's
// order-preserving composite-key encoding.
package tables

import "github.com/branchfs/branchfs/pkg/kv"

// Table prefixes. Each logical table may use more than one physical
// kv.Table to keep a primary record keyspace separate from internal
// counters or secondary indexes.
const (
	prefixNodeRecords     = 0x4E4F4400 // "NOD\0"
	prefixNodeCounter     = 0x4E4F4401 // last allocated node number
	prefixBranchCounter   = 0x4E4F4402 // per-branch youngest-revision counter
	prefixRevisionRecords = 0x52455600 // "REV\0"
	prefixRevisionCounter = 0x52455601 // youngest revision number
	prefixTxnRecords      = 0x54584E00 // "TXN\0"
	prefixTxnCounter      = 0x54584E01
	prefixChangeRecords   = 0x43484700 // "CHG\0": key (txn_id, seq)
	prefixChangeCounter   = 0x43484701 // per-txn append sequence
	prefixCopyRecords     = 0x43505900 // "CPY\0": copy-id lineages
	prefixCopyCounter     = 0x43505901
)

// Tables bundles the typed accessors used throughout the DAG, tree and
// merge layers.
type Tables struct {
	Nodes     NodesTable
	Revisions RevisionsTable
	Txns      TxnsTable
	Changes   ChangesTable
	Copies    CopiesTable
}

// New wires the accessors to their key prefixes. A single Tables value is
// shared by every trail body opened against the same kv.DB.
func New() *Tables {
	return &Tables{
		Nodes: NodesTable{
			records: kv.NewTable(prefixNodeRecords),
			nodeCtr: kv.NewTable(prefixNodeCounter),
			branch:  kv.NewTable(prefixBranchCounter),
		},
		Revisions: RevisionsTable{
			records: kv.NewTable(prefixRevisionRecords),
			counter: kv.NewTable(prefixRevisionCounter),
		},
		Txns: TxnsTable{
			records: kv.NewTable(prefixTxnRecords),
			counter: kv.NewTable(prefixTxnCounter),
		},
		Changes: ChangesTable{
			records: kv.NewTable(prefixChangeRecords),
			seq:     kv.NewTable(prefixChangeCounter),
		},
		Copies: CopiesTable{
			records: kv.NewTable(prefixCopyRecords),
			counter: kv.NewTable(prefixCopyCounter),
		},
	}
}
