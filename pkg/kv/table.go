package kv

// Table is a logical keyspace within one DB, distinguished by a 4-byte
// prefix so the store's logical tables (see pkg/tables) can share a
// single underlying B+Tree and page store without colliding.
type Table struct {
	Prefix uint32
}

// NewTable declares a table at the given prefix. Callers are responsible
// for choosing prefixes that don't collide across tables in the same DB.
func NewTable(prefix uint32) Table {
	return Table{Prefix: prefix}
}

// Key encodes a composite key within this table.
func (t Table) Key(vals ...Value) []byte {
	return EncodeKey(t.Prefix, vals)
}

func (t Table) Get(tx *Tx, vals ...Value) ([]byte, bool) {
	return tx.Get(t.Key(vals...))
}

func (t Table) Set(tx *Tx, val []byte, vals ...Value) {
	tx.Set(t.Key(vals...), val)
}

func (t Table) Del(tx *Tx, vals ...Value) bool {
	return tx.Del(t.Key(vals...))
}

// Scan iterates this table's rows with keys >= the encoded prefix of vals
// (vals may be a strict prefix of the table's full composite key, e.g.
// just the partition column, to scan an entire sub-range). fn receives the
// decoded remaining values and the stored record; returning false stops
// the scan. The scan stops automatically once the key prefix no longer
// belongs to this table.
func (t Table) Scan(tx *Tx, vals []Value, fn func(vals []Value, val []byte) bool) {
	start := EncodeKey(t.Prefix, vals)
	tx.Scan(start, func(key, val []byte) bool {
		if ExtractPrefix(key) != t.Prefix {
			return false
		}
		decoded, err := ExtractValues(key)
		if err != nil {
			return false
		}
		return fn(decoded, val)
	})
}

// ScanSnapshot is Scan's read-only counterpart for callers that only hold
// a DB snapshot, not an open Tx (e.g. a youngest-revision cache warmup).
func (t Table) ScanSnapshot(db *DB, vals []Value, fn func(vals []Value, val []byte) bool) {
	start := EncodeKey(t.Prefix, vals)
	db.Scan(start, func(key, val []byte) bool {
		if ExtractPrefix(key) != t.Prefix {
			return false
		}
		decoded, err := ExtractValues(key)
		if err != nil {
			return false
		}
		return fn(decoded, val)
	})
}
