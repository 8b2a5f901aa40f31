// Package btree implements the copy-on-write B+Tree index the KV engine
// stores its keyspace in. Pages use a slotted layout: a small header, a
// slot directory of cell offsets, then the cells themselves. Every
// mutation decodes the affected root-to-leaf path into entry slices,
// rebuilds it, and writes replacement pages through the owner's page
// store, freeing the superseded ones.
package btree

import "encoding/binary"

const (
	pageLeaf     uint16 = 1
	pageInternal uint16 = 2

	PageSize   = 4096
	MaxKeySize = 1000
	MaxValSize = 3000

	// pageHeader is | kind u16 | count u16 |; the slot directory of
	// per-cell offsets follows it, then the cells.
	pageHeader = 4
)

// entry is the in-memory form of one cell: a key with either a value
// (leaf pages) or a child pointer (internal pages, where key is the
// smallest key reachable through child).
type entry struct {
	key   []byte
	val   []byte
	child uint64
}

func pageKind(p []byte) uint16 { return binary.LittleEndian.Uint16(p[0:2]) }
func pageCount(p []byte) int   { return int(binary.LittleEndian.Uint16(p[2:4])) }

// footprint is the bytes e occupies in a page of the given kind,
// slot included.
func footprint(kind uint16, e entry) int {
	if kind == pageLeaf {
		return 2 + 4 + len(e.key) + len(e.val)
	}
	return 2 + 10 + len(e.key)
}

// decodePage reads every cell back into entry form. The returned slices
// alias p and stay valid for as long as the page buffer does.
func decodePage(p []byte) []entry {
	kind := pageKind(p)
	count := pageCount(p)
	out := make([]entry, count)
	for i := 0; i < count; i++ {
		off := int(binary.LittleEndian.Uint16(p[pageHeader+2*i:]))
		cell := p[off:]
		if kind == pageLeaf {
			klen := int(binary.LittleEndian.Uint16(cell[0:2]))
			vlen := int(binary.LittleEndian.Uint16(cell[2:4]))
			out[i] = entry{key: cell[4 : 4+klen], val: cell[4+klen : 4+klen+vlen]}
		} else {
			child := binary.LittleEndian.Uint64(cell[0:8])
			klen := int(binary.LittleEndian.Uint16(cell[8:10]))
			out[i] = entry{key: cell[10 : 10+klen], child: child}
		}
	}
	return out
}

// encodePage lays entries out as one page. The caller guarantees they fit
// (see chunkEntries).
func encodePage(kind uint16, entries []entry) []byte {
	p := make([]byte, PageSize)
	binary.LittleEndian.PutUint16(p[0:2], kind)
	binary.LittleEndian.PutUint16(p[2:4], uint16(len(entries)))

	off := pageHeader + 2*len(entries)
	for i, e := range entries {
		binary.LittleEndian.PutUint16(p[pageHeader+2*i:], uint16(off))
		if kind == pageLeaf {
			binary.LittleEndian.PutUint16(p[off:], uint16(len(e.key)))
			binary.LittleEndian.PutUint16(p[off+2:], uint16(len(e.val)))
			copy(p[off+4:], e.key)
			copy(p[off+4+len(e.key):], e.val)
			off += 4 + len(e.key) + len(e.val)
		} else {
			binary.LittleEndian.PutUint64(p[off:], e.child)
			binary.LittleEndian.PutUint16(p[off+8:], uint16(len(e.key)))
			copy(p[off+10:], e.key)
			off += 10 + len(e.key)
		}
	}
	return p
}

// chunkEntries partitions entries into runs that each fit one page,
// filling greedily. One run means no split was needed.
func chunkEntries(kind uint16, entries []entry) [][]entry {
	capacity := PageSize - pageHeader
	var chunks [][]entry
	var cur []entry
	fill := 0
	for _, e := range entries {
		fp := footprint(kind, e)
		if len(cur) > 0 && fill+fp > capacity {
			chunks = append(chunks, cur)
			cur, fill = nil, 0
		}
		cur = append(cur, e)
		fill += fp
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}

func init() {
	largest := pageHeader + 2 + 4 + MaxKeySize + MaxValSize
	if largest > PageSize {
		panic("btree: single-entry page exceeds page size")
	}
}
