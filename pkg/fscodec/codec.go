// Package fscodec is the deterministic, round-trip-safe record codec for
// node revisions, revision records, and the other table values, built
// directly on pkg/kv's order-preserving tag-length-value Value encoding
// (pkg/kv/encoding.go).
package fscodec

import (
	"encoding/binary"
	"fmt"

	"github.com/branchfs/branchfs/pkg/kv"
)

// Record is an ordered sequence of fields ready to encode. Callers build one
// with NewRecord and append fields with the typed helpers below, in a fixed
// order agreed between the writer and reader for a given record kind.
type Record struct {
	vals []kv.Value
}

func NewRecord() *Record { return &Record{} }

func (r *Record) Bytes(b []byte) *Record   { r.vals = append(r.vals, kv.BytesValue(b)); return r }
func (r *Record) String(s string) *Record  { return r.Bytes([]byte(s)) }
func (r *Record) Int64(i int64) *Record    { r.vals = append(r.vals, kv.Int64Value(i)); return r }
func (r *Record) Uint64(u uint64) *Record  { r.vals = append(r.vals, kv.Uint64Value(u)); return r }
func (r *Record) Bool(b bool) *Record {
	if b {
		return r.Uint64(1)
	}
	return r.Uint64(0)
}

// Encode serializes the record as: a 4-byte field count, then the
// field count's worth of tag-length-value-encoded Values. A reader that
// only knows about the first N < count fields simply stops after reading
// N and ignores the remainder, so unknown trailing fields appended by a
// newer writer decode harmlessly.
func (r *Record) Encode() []byte {
	out := make([]byte, 4, 64)
	binary.BigEndian.PutUint32(out, uint32(len(r.vals)))
	return append(out, kv.EncodeValues(r.vals)...)
}

// Decoded is a decoded record ready for field-by-field extraction in the
// same order it was written.
type Decoded struct {
	vals []kv.Value
	pos  int
}

// Decode parses the field count prefix and the Value sequence that follows.
func Decode(data []byte) (*Decoded, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("fscodec: truncated record header")
	}
	count := binary.BigEndian.Uint32(data[:4])
	vals, err := kv.DecodeValues(data[4:])
	if err != nil {
		return nil, fmt.Errorf("fscodec: %w", err)
	}
	if uint32(len(vals)) < count {
		return nil, fmt.Errorf("fscodec: record declares %d fields, found %d", count, len(vals))
	}
	return &Decoded{vals: vals}, nil
}

func (d *Decoded) next() (kv.Value, error) {
	if d.pos >= len(d.vals) {
		return kv.Value{}, fmt.Errorf("fscodec: record exhausted at field %d", d.pos)
	}
	v := d.vals[d.pos]
	d.pos++
	return v, nil
}

func (d *Decoded) Bytes() ([]byte, error) {
	v, err := d.next()
	if err != nil {
		return nil, err
	}
	return v.Str, nil
}

func (d *Decoded) String() (string, error) {
	b, err := d.Bytes()
	return string(b), err
}

func (d *Decoded) Int64() (int64, error) {
	v, err := d.next()
	if err != nil {
		return 0, err
	}
	return v.I64, nil
}

func (d *Decoded) Uint64() (uint64, error) {
	v, err := d.next()
	if err != nil {
		return 0, err
	}
	return v.U64, nil
}

func (d *Decoded) Bool() (bool, error) {
	u, err := d.Uint64()
	return u != 0, err
}

// Remaining reports how many trailing (unknown-to-this-reader) fields
// follow the reader's current position — exercised by the forward-
// compatibility round-trip test.
func (d *Decoded) Remaining() int { return len(d.vals) - d.pos }
