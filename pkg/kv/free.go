package kv

import (
	"encoding/binary"

	"github.com/branchfs/branchfs/pkg/kv/btree"
)

// Free-page bookkeeping. Unlike an incrementally-maintained on-disk
// structure, the whole free set is rewritten as a fresh chain of pages on
// every commit: the set is small relative to a commit's page traffic, and
// a wholesale rewrite means the persisted chain always describes exactly
// the post-commit state with no windowing logic.
//
// Three pools:
//
//	avail — reusable right now; pageAlloc pops from here.
//	limbo — freed by the in-flight transaction; the previous tree still
//	        references these pages until the commit is durable, so they
//	        only become avail afterwards.
//	chain — the pages holding the currently persisted set; recycled into
//	        the next commit's set once its replacement chain is durable.
const (
	freePageKind   uint16 = 3 // distinct from the B+Tree page kinds
	freePageHeader        = 12
	freePageCap           = (btree.PageSize - freePageHeader) / 8
)

type freeSet struct {
	avail []uint64
	limbo []uint64
	chain []uint64

	staged      []uint64
	stagedChain []uint64
}

// pop hands out a reusable page pointer, 0 when none is available.
func (fs *freeSet) pop() uint64 {
	if len(fs.avail) == 0 {
		return 0
	}
	ptr := fs.avail[len(fs.avail)-1]
	fs.avail = fs.avail[:len(fs.avail)-1]
	return ptr
}

// release parks a page freed by the in-flight transaction in limbo.
func (fs *freeSet) release(ptr uint64) {
	fs.limbo = append(fs.limbo, ptr)
}

// persist assembles the post-commit free set — everything still
// available, everything the transaction freed, and the now-obsolete old
// chain — and writes it as a fresh chain via appendPage, returning the
// chain head (0 when the set is empty). The new state is staged until
// commitStaged confirms durability.
func (fs *freeSet) persist(appendPage func([]byte) uint64) uint64 {
	pending := make([]uint64, 0, len(fs.avail)+len(fs.limbo)+len(fs.chain))
	pending = append(pending, fs.avail...)
	pending = append(pending, fs.limbo...)
	pending = append(pending, fs.chain...)

	var bounds [][2]int
	for start := 0; start < len(pending); start += freePageCap {
		end := start + freePageCap
		if end > len(pending) {
			end = len(pending)
		}
		bounds = append(bounds, [2]int{start, end})
	}

	var head uint64
	var chain []uint64
	for i := len(bounds) - 1; i >= 0; i-- {
		b := bounds[i]
		page := make([]byte, btree.PageSize)
		binary.LittleEndian.PutUint16(page[0:2], freePageKind)
		binary.LittleEndian.PutUint16(page[2:4], uint16(b[1]-b[0]))
		binary.LittleEndian.PutUint64(page[4:12], head)
		for j, ptr := range pending[b[0]:b[1]] {
			binary.LittleEndian.PutUint64(page[freePageHeader+8*j:], ptr)
		}
		head = appendPage(page)
		chain = append(chain, head)
	}

	fs.staged = pending
	fs.stagedChain = chain
	return head
}

// commitStaged installs the staged state after a durable commit.
func (fs *freeSet) commitStaged() {
	fs.avail = fs.staged
	fs.chain = fs.stagedChain
	fs.limbo = nil
	fs.staged, fs.stagedChain = nil, nil
}

// load rebuilds the set from the persisted chain at head.
func (fs *freeSet) load(head uint64, readPage func(uint64) []byte) error {
	fs.avail = nil
	fs.chain = nil
	fs.limbo = nil
	for ptr := head; ptr != 0; {
		page := readPage(ptr)
		if binary.LittleEndian.Uint16(page[0:2]) != freePageKind {
			return ErrCorrupt
		}
		count := int(binary.LittleEndian.Uint16(page[2:4]))
		next := binary.LittleEndian.Uint64(page[4:12])
		for i := 0; i < count; i++ {
			fs.avail = append(fs.avail, binary.LittleEndian.Uint64(page[freePageHeader+8*i:]))
		}
		fs.chain = append(fs.chain, ptr)
		ptr = next
	}
	return nil
}

// freeSnapshot captures the state a transaction must restore on abort:
// the pages it popped go back, the pages it released are forgotten.
type freeSnapshot struct {
	avail    []uint64
	limboLen int
}

func (fs *freeSet) snapshot() freeSnapshot {
	return freeSnapshot{
		avail:    append([]uint64(nil), fs.avail...),
		limboLen: len(fs.limbo),
	}
}

func (fs *freeSet) restore(s freeSnapshot) {
	fs.avail = s.avail
	fs.limbo = fs.limbo[:s.limboLen]
	fs.staged, fs.stagedChain = nil, nil
}
