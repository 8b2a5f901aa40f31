package kv

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Value-type tags for the order-preserving composite-key encoding. Every
// value is tagged so distinct types can never collide, and integers are
// big-endian with the sign bit flipped so byte-order comparison matches
// numeric order.
const (
	TypeBytes  = 1
	TypeInt64  = 2
	TypeUint64 = 3
	TypeTime   = 4
)

// Value is one column of a composite key or record.
type Value struct {
	Type uint8
	Str  []byte
	I64  int64
	U64  uint64
	Time time.Time
}

func BytesValue(b []byte) Value    { return Value{Type: TypeBytes, Str: b} }
func Int64Value(i int64) Value     { return Value{Type: TypeInt64, I64: i} }
func Uint64Value(u uint64) Value   { return Value{Type: TypeUint64, U64: u} }
func TimeValue(t time.Time) Value  { return Value{Type: TypeTime, Time: t} }

// EncodeValues serializes a sequence of Values preserving lexicographic
// order across the whole sequence: each value is tag-prefixed and,
// for TypeBytes, escaped and null-terminated so embedded 0x00/0xFF bytes
// can't be confused with the terminator or the partial-key sentinel.
func EncodeValues(vals []Value) []byte {
	out := make([]byte, 0, 64)
	for _, v := range vals {
		out = append(out, byte(v.Type))
		switch v.Type {
		case TypeInt64:
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], uint64(v.I64)+(1<<63))
			out = append(out, buf[:]...)
		case TypeUint64:
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], v.U64)
			out = append(out, buf[:]...)
		case TypeTime:
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], uint64(v.Time.Unix())+(1<<63))
			out = append(out, buf[:]...)
		case TypeBytes:
			out = append(out, escape(v.Str)...)
			out = append(out, 0)
		default:
			panic(fmt.Sprintf("kv: unknown value type %d", v.Type))
		}
	}
	return out
}

func escape(s []byte) []byte {
	n := 0
	for _, b := range s {
		if b <= 0x01 || b >= 0xFE {
			n++
		}
	}
	if n == 0 {
		return s
	}
	out := make([]byte, 0, len(s)+n)
	for _, b := range s {
		switch b {
		case 0x00, 0x01:
			out = append(out, 0x01, b+1)
		case 0xFE, 0xFF:
			out = append(out, 0xFE, b)
		default:
			out = append(out, b)
		}
	}
	return out
}

func unescape(s []byte) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0x01 && i+1 < len(s) {
			out = append(out, s[i+1]-1)
			i++
		} else if s[i] == 0xFE && i+1 < len(s) {
			out = append(out, s[i+1])
			i++
		} else {
			out = append(out, s[i])
		}
	}
	return out
}

// DecodeValues is the inverse of EncodeValues.
func DecodeValues(data []byte) ([]Value, error) {
	vals := make([]Value, 0, 4)
	pos := 0
	for pos < len(data) {
		typ := data[pos]
		pos++
		switch typ {
		case TypeInt64:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("kv: truncated int64 at %d", pos)
			}
			u := binary.BigEndian.Uint64(data[pos : pos+8])
			vals = append(vals, Int64Value(int64(u-(1<<63))))
			pos += 8
		case TypeUint64:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("kv: truncated uint64 at %d", pos)
			}
			vals = append(vals, Uint64Value(binary.BigEndian.Uint64(data[pos:pos+8])))
			pos += 8
		case TypeTime:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("kv: truncated time at %d", pos)
			}
			u := binary.BigEndian.Uint64(data[pos : pos+8])
			vals = append(vals, TimeValue(time.Unix(int64(u-(1<<63)), 0).UTC()))
			pos += 8
		case TypeBytes:
			end := pos
			for end < len(data) && data[end] != 0 {
				end++
			}
			if end >= len(data) {
				return nil, fmt.Errorf("kv: unterminated bytes at %d", pos)
			}
			vals = append(vals, BytesValue(unescape(data[pos:end])))
			pos = end + 1
		default:
			return nil, fmt.Errorf("kv: unknown value type %d at %d", typ, pos-1)
		}
	}
	return vals, nil
}

// EncodeKey prepends a 4-byte big-endian table prefix to an encoded value
// sequence, so distinct tables/indexes never share key space.
func EncodeKey(prefix uint32, vals []Value) []byte {
	out := make([]byte, 4, 4+32)
	binary.BigEndian.PutUint32(out, prefix)
	return append(out, EncodeValues(vals)...)
}

// Comparison directions for EncodeKeyPartial's infinity padding.
const (
	CmpGE = 1
	CmpGT = 2
	CmpLT = 3
	CmpLE = 4
)

// EncodeKeyPartial encodes a prefix of a composite key for range scans;
// the missing trailing columns are padded to +infinity or left at
// -infinity (the empty suffix) depending on the comparison direction.
func EncodeKeyPartial(prefix uint32, vals []Value, cmp int) []byte {
	out := EncodeKey(prefix, vals)
	if cmp == CmpGT || cmp == CmpLE {
		out = append(out, 0xFF)
	}
	return out
}

// ExtractPrefix reads the table prefix back out of an encoded key.
func ExtractPrefix(key []byte) uint32 {
	if len(key) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(key[:4])
}

// ExtractValues decodes the value sequence following a key's table prefix.
func ExtractValues(key []byte) ([]Value, error) {
	if len(key) < 4 {
		return nil, fmt.Errorf("kv: key too short")
	}
	return DecodeValues(key[4:])
}
