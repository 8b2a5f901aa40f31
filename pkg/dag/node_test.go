package dag

import (
	"bytes"
	"testing"
)

func TestFileNodeEncodeDecode(t *testing.T) {
	fc := NewFileContent([]byte("hello world\n"))
	n := &NodeRevision{
		ID:   New(3, 0),
		Kind: KindFile,
		Header: Header{
			PredecessorID:    New(3, 0).WithRevision(0),
			PredecessorCount: 2,
			CopyID:           "4",
			Txn:              "7",
			CopyFromRev:      5,
			CopyFromPath:     "/A/mu",
		},
		Props: map[string][]byte{"mime": []byte("text/plain")},
		File:  &fc,
	}

	decoded, err := Decode(n.ID, Encode(n))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Kind != KindFile {
		t.Fatalf("Kind = %v", decoded.Kind)
	}
	if !decoded.Header.PredecessorID.Equal(n.Header.PredecessorID) {
		t.Errorf("PredecessorID = %v", decoded.Header.PredecessorID)
	}
	if decoded.Header.PredecessorCount != 2 || decoded.Header.CopyID != "4" || decoded.Header.Txn != "7" {
		t.Errorf("header mismatch: %+v", decoded.Header)
	}
	if decoded.Header.CopyFromRev != 5 || decoded.Header.CopyFromPath != "/A/mu" {
		t.Errorf("copy source not preserved: %+v", decoded.Header)
	}
	if !decoded.Header.IsCopyRoot() {
		t.Error("IsCopyRoot = false for a node carrying a source")
	}
	if !bytes.Equal(decoded.File.Data, fc.Data) || decoded.File.Length != fc.Length || decoded.File.Checksum != fc.Checksum {
		t.Errorf("file content mismatch")
	}
	if string(decoded.Props["mime"]) != "text/plain" {
		t.Errorf("props mismatch: %v", decoded.Props)
	}
}

func TestDirectoryNodeEncodeDecode(t *testing.T) {
	n := NewDirectory(RootID(), "1", CopyIDSentinel)
	n.Dir.Entries["iota"] = New(1, 0)
	n.Dir.Entries["A"] = New(2, 0)

	decoded, err := Decode(n.ID, Encode(n))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Kind != KindDirectory {
		t.Fatalf("Kind = %v", decoded.Kind)
	}
	if len(decoded.Dir.Entries) != 2 {
		t.Fatalf("entries = %v", decoded.Dir.Entries)
	}
	if !decoded.Dir.Entries["iota"].Equal(New(1, 0)) || !decoded.Dir.Entries["A"].Equal(New(2, 0)) {
		t.Fatalf("entry ids mismatch: %v", decoded.Dir.Entries)
	}
	if decoded.Header.IsCopyRoot() {
		t.Error("fresh directory reports a copy source")
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	n := NewDirectory(RootID(), "", CopyIDSentinel)
	n.Dir.Entries["b"] = New(1, 0)
	n.Dir.Entries["a"] = New(2, 0)
	n.Props["x"] = []byte("1")
	n.Props["y"] = []byte("2")

	first := Encode(n)
	for i := 0; i < 8; i++ {
		if !bytes.Equal(Encode(n), first) {
			t.Fatal("Encode varies across calls for identical input")
		}
	}
}

func TestCloneExtendsPredecessorChain(t *testing.T) {
	fc := NewFileContent([]byte("payload"))
	orig := &NodeRevision{
		ID:   New(9, 0),
		Kind: KindFile,
		Header: Header{
			PredecessorCount: 0,
			CopyID:           "3",
			Txn:              "",
			CopyFromRev:      NoCopyFrom,
		},
		Props: map[string][]byte{"k": []byte("v")},
		File:  &fc,
	}

	clone := orig.Clone(New(9, 1), "12")
	if !clone.Header.PredecessorID.Equal(orig.ID) {
		t.Errorf("clone predecessor = %v, want %v", clone.Header.PredecessorID, orig.ID)
	}
	if clone.Header.PredecessorCount != 1 {
		t.Errorf("clone predecessor count = %d, want 1", clone.Header.PredecessorCount)
	}
	if clone.Header.Txn != "12" || !clone.IsMutableIn("12") {
		t.Errorf("clone not owned by txn 12: %+v", clone.Header)
	}
	if clone.Header.CopyID != "3" {
		t.Errorf("clone copy id = %q, want inherited %q", clone.Header.CopyID, "3")
	}

	// Mutating the clone's state must not alias the original.
	clone.Props["k"][0] = 'V'
	clone.File.Data[0] = 'P'
	if string(orig.Props["k"]) != "v" || string(orig.File.Data) != "payload" {
		t.Error("clone aliases the original's buffers")
	}

	unknown := orig.Clone(New(9, 2), "13")
	if got := unknown.Header.PredecessorCount; got != 1 {
		t.Errorf("count after clone = %d, want 1", got)
	}
	orig.Header.PredecessorCount = NoPredecessorCount
	if got := orig.Clone(New(9, 3), "14").Header.PredecessorCount; got != NoPredecessorCount {
		t.Errorf("unknown predecessor count must stay unknown, got %d", got)
	}
}
