package btree

import (
	"bytes"
	"fmt"
	"math/rand"
	"sort"
	"testing"
)

// memPages is an in-memory page store so the tree's algorithms can be
// exercised without any file I/O.
type memPages struct {
	next  uint64
	pages map[uint64][]byte
}

func newMemTree() (*Tree, *memPages) {
	m := &memPages{next: 1, pages: map[uint64][]byte{}}
	tr := &Tree{}
	tr.SetCallbacks(
		func(ptr uint64) []byte {
			p, ok := m.pages[ptr]
			if !ok {
				panic("btree: dangling page pointer")
			}
			return p
		},
		func(page []byte) uint64 {
			ptr := m.next
			m.next++
			m.pages[ptr] = page
			return ptr
		},
		func(ptr uint64) {
			delete(m.pages, ptr)
		},
	)
	return tr, m
}

func TestInsertGetUpdate(t *testing.T) {
	tr, _ := newMemTree()

	tr.Insert([]byte("b"), []byte("2"))
	tr.Insert([]byte("a"), []byte("1"))
	tr.Insert([]byte("c"), []byte("3"))

	for k, want := range map[string]string{"a": "1", "b": "2", "c": "3"} {
		got, ok := tr.Get([]byte(k))
		if !ok || string(got) != want {
			t.Fatalf("Get(%q) = %q, %v; want %q", k, got, ok, want)
		}
	}
	if _, ok := tr.Get([]byte("missing")); ok {
		t.Fatal("Get of absent key reported found")
	}

	tr.Insert([]byte("b"), []byte("two"))
	if got, _ := tr.Get([]byte("b")); string(got) != "two" {
		t.Fatalf("after update, Get(b) = %q", got)
	}
}

func TestInsertBelowMinimum(t *testing.T) {
	tr, _ := newMemTree()
	tr.Insert([]byte("m"), []byte("1"))
	tr.Insert([]byte("a"), []byte("2"))
	if got, ok := tr.Get([]byte("a")); !ok || string(got) != "2" {
		t.Fatalf("Get(a) = %q, %v", got, ok)
	}
}

func TestSplitsAcrossLevels(t *testing.T) {
	tr, m := newMemTree()

	const n = 2000
	keys := rand.New(rand.NewSource(7)).Perm(n)
	for _, k := range keys {
		key := []byte(fmt.Sprintf("key-%08d", k))
		tr.Insert(key, []byte(fmt.Sprintf("val-%d", k)))
	}

	if pageKind(m.pages[tr.Root()]) != pageInternal {
		t.Fatal("2000 keys did not force an internal level")
	}
	for k := 0; k < n; k++ {
		key := []byte(fmt.Sprintf("key-%08d", k))
		got, ok := tr.Get(key)
		if !ok || string(got) != fmt.Sprintf("val-%d", k) {
			t.Fatalf("Get(%s) = %q, %v", key, got, ok)
		}
	}
}

func TestDeleteDownToEmpty(t *testing.T) {
	tr, m := newMemTree()

	const n = 600
	for k := 0; k < n; k++ {
		tr.Insert([]byte(fmt.Sprintf("key-%08d", k)), []byte("v"))
	}
	if tr.Delete([]byte("nope")) {
		t.Fatal("Delete of absent key reported found")
	}
	for k := 0; k < n; k++ {
		if !tr.Delete([]byte(fmt.Sprintf("key-%08d", k))) {
			t.Fatalf("Delete(key-%08d) reported absent", k)
		}
	}
	if tr.Root() != 0 {
		t.Fatalf("emptied tree has root %d", tr.Root())
	}
	if len(m.pages) != 0 {
		t.Fatalf("%d pages leaked after deleting everything", len(m.pages))
	}
}

func TestDeleteKeepsRemainder(t *testing.T) {
	tr, _ := newMemTree()

	const n = 1000
	for k := 0; k < n; k++ {
		tr.Insert([]byte(fmt.Sprintf("key-%08d", k)), []byte(fmt.Sprintf("val-%d", k)))
	}
	for k := 0; k < n; k += 2 {
		if !tr.Delete([]byte(fmt.Sprintf("key-%08d", k))) {
			t.Fatalf("Delete(key-%08d) reported absent", k)
		}
	}
	for k := 0; k < n; k++ {
		got, ok := tr.Get([]byte(fmt.Sprintf("key-%08d", k)))
		if k%2 == 0 {
			if ok {
				t.Fatalf("deleted key-%08d still present", k)
			}
			continue
		}
		if !ok || string(got) != fmt.Sprintf("val-%d", k) {
			t.Fatalf("surviving key-%08d = %q, %v", k, got, ok)
		}
	}
}

func TestScanOrderAndRange(t *testing.T) {
	tr, _ := newMemTree()

	var want []string
	for k := 0; k < 500; k++ {
		key := fmt.Sprintf("key-%08d", k)
		want = append(want, key)
		tr.Insert([]byte(key), []byte("v"))
	}
	sort.Strings(want)

	var got []string
	tr.Scan(nil, func(k, v []byte) bool {
		got = append(got, string(k))
		return true
	})
	if len(got) != len(want) {
		t.Fatalf("full scan saw %d keys, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("scan order diverges at %d: %q vs %q", i, got[i], want[i])
		}
	}

	// A mid-range start skips everything below it.
	start := []byte("key-00000250")
	var fromMid []string
	tr.Scan(start, func(k, v []byte) bool {
		fromMid = append(fromMid, string(k))
		return true
	})
	if len(fromMid) != 250 {
		t.Fatalf("ranged scan saw %d keys, want 250", len(fromMid))
	}
	if bytes.Compare([]byte(fromMid[0]), start) < 0 {
		t.Fatalf("ranged scan began at %q, before start", fromMid[0])
	}

	// Early termination stops the walk.
	count := 0
	tr.Scan(nil, func(k, v []byte) bool {
		count++
		return count < 10
	})
	if count != 10 {
		t.Fatalf("terminated scan visited %d keys", count)
	}
}

func TestScanEmptyTree(t *testing.T) {
	tr, _ := newMemTree()
	tr.Scan(nil, func(k, v []byte) bool {
		t.Fatal("callback invoked on empty tree")
		return false
	})
}

func TestPagesFreedOnRewrite(t *testing.T) {
	tr, m := newMemTree()

	for k := 0; k < 300; k++ {
		tr.Insert([]byte(fmt.Sprintf("key-%08d", k)), bytes.Repeat([]byte("x"), 40))
	}
	// Every live page must be reachable from the root: rebuildings must
	// not leak their superseded pages.
	reachable := map[uint64]bool{}
	var walk func(ptr uint64)
	walk = func(ptr uint64) {
		reachable[ptr] = true
		p := m.pages[ptr]
		if pageKind(p) == pageInternal {
			for _, e := range decodePage(p) {
				walk(e.child)
			}
		}
	}
	walk(tr.Root())
	if len(reachable) != len(m.pages) {
		t.Fatalf("%d pages live, only %d reachable from root", len(m.pages), len(reachable))
	}
}
