package wal

import "testing"

func tempLog(t *testing.T) *Log {
	t.Helper()
	l := &Log{Path: t.TempDir() + "/test.wal"}
	if err := l.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func appendGen(t *testing.T, l *Log, gen uint64, pages int, commit bool) {
	t.Helper()
	for i := 0; i < pages; i++ {
		e := &Entry{LSN: l.NextLSN(), Generation: gen, Op: OpPage, Ptr: uint64(i + 1), Data: []byte("page")}
		if err := l.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	meta := &Entry{LSN: l.NextLSN(), Generation: gen, Op: OpMeta, Ptr: MetaPtr, Data: []byte("meta")}
	if err := l.Append(meta); err != nil {
		t.Fatalf("Append meta: %v", err)
	}
	if commit {
		if err := l.Append(&Entry{LSN: l.NextLSN(), Generation: gen, Op: OpCommit}); err != nil {
			t.Fatalf("Append commit: %v", err)
		}
	}
	if err := l.Fsync(); err != nil {
		t.Fatalf("Fsync: %v", err)
	}
}

func TestReplayAppliesCommittedGeneration(t *testing.T) {
	l := tempLog(t)
	appendGen(t, l, 1, 3, true)

	applied := map[uint64][]byte{}
	err := l.Replay(func(ptr uint64, data []byte) error {
		applied[ptr] = data
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(applied) != 4 {
		t.Fatalf("applied %d images, want 3 pages + meta", len(applied))
	}
	if string(applied[MetaPtr]) != "meta" {
		t.Fatalf("meta image = %q", applied[MetaPtr])
	}
	for ptr := uint64(1); ptr <= 3; ptr++ {
		if string(applied[ptr]) != "page" {
			t.Fatalf("page %d image = %q", ptr, applied[ptr])
		}
	}
}

func TestReplaySkipsUncommittedTail(t *testing.T) {
	l := tempLog(t)
	appendGen(t, l, 1, 2, true)
	appendGen(t, l, 2, 2, false) // crashed before its commit record

	var gens []uint64
	err := l.Replay(func(ptr uint64, data []byte) error {
		gens = append(gens, ptr)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(gens) != 3 {
		t.Fatalf("applied %d images, want only generation 1's 3", len(gens))
	}
}

func TestReplayStopsAtTornRecord(t *testing.T) {
	l := tempLog(t)
	appendGen(t, l, 1, 1, true)

	// A torn write: half a record at the tail.
	garbage := (&Entry{LSN: 99, Generation: 2, Op: OpPage, Ptr: 9, Data: []byte("partial")}).encode()
	if _, err := l.f.Write(garbage[:len(garbage)-5]); err != nil {
		t.Fatalf("write torn tail: %v", err)
	}

	count := 0
	if err := l.Replay(func(ptr uint64, data []byte) error {
		count++
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if count != 2 {
		t.Fatalf("applied %d images, want generation 1's page + meta", count)
	}
}

func TestCheckpointEmptiesLog(t *testing.T) {
	l := tempLog(t)
	appendGen(t, l, 1, 2, true)

	if err := l.Checkpoint(1); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := l.Replay(func(ptr uint64, data []byte) error {
		t.Fatal("replayed an image after checkpoint")
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	// The log keeps working after a checkpoint.
	appendGen(t, l, 2, 1, true)
	count := 0
	if err := l.Replay(func(ptr uint64, data []byte) error {
		count++
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if count != 2 {
		t.Fatalf("applied %d images after post-checkpoint append", count)
	}
}

func TestLSNResumesAcrossReopen(t *testing.T) {
	path := t.TempDir() + "/resume.wal"
	l := &Log{Path: path}
	if err := l.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	appendGen(t, l, 1, 2, false) // no checkpoint, unclean shutdown
	high := l.NextLSN()
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := &Log{Path: path}
	if err := reopened.Open(); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if next := reopened.NextLSN(); next <= high-1 {
		t.Fatalf("LSN after reopen = %d, want past %d", next, high-1)
	}
}
