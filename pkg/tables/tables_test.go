package tables

import (
	"context"
	"testing"

	"github.com/branchfs/branchfs/pkg/dag"
	"github.com/branchfs/branchfs/pkg/kv"
	"github.com/branchfs/branchfs/pkg/trail"
)

func testTables(t *testing.T) (*kv.DB, *Tables) {
	t.Helper()
	db := &kv.DB{Path: t.TempDir() + "/tables.db"}
	if err := db.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, New()
}

func runTrail(t *testing.T, db *kv.DB, body func(tr *trail.Trail) error) {
	t.Helper()
	if err := trail.RunVoid(context.Background(), db, body); err != nil {
		t.Fatalf("trail: %v", err)
	}
}

func TestNodeRevisionPutGetDelete(t *testing.T) {
	db, tab := testTables(t)

	n := dag.NewDirectory(dag.RootID(), "1", dag.CopyIDSentinel)
	n.Dir.Entries["child"] = dag.New(1, 0)

	runTrail(t, db, func(tr *trail.Trail) error {
		if err := tab.Nodes.PutNodeRevision(tr, n); err != nil {
			return err
		}
		got, err := tab.Nodes.GetNodeRevision(tr, dag.RootID())
		if err != nil {
			return err
		}
		if got.Kind != dag.KindDirectory || !got.Dir.Entries["child"].Equal(dag.New(1, 0)) {
			t.Errorf("stored node mismatch: %+v", got)
		}
		return nil
	})

	runTrail(t, db, func(tr *trail.Trail) error {
		tab.Nodes.DeleteNodeRevision(tr, dag.RootID())
		if _, err := tab.Nodes.GetNodeRevision(tr, dag.RootID()); err != dag.ErrIDNotFound {
			t.Errorf("after delete, err = %v, want ErrIDNotFound", err)
		}
		return nil
	})
}

func TestLargeNodeRevisionRoundTrip(t *testing.T) {
	db, tab := testTables(t)

	// Well past the KV engine's per-value ceiling: exercises the chunked
	// storage of node revision records.
	big := make([]byte, 64<<10)
	for i := range big {
		big[i] = byte(i)
	}
	fc := dag.NewFileContent(big)
	file := &dag.NodeRevision{
		ID:     dag.New(2, 0),
		Kind:   dag.KindFile,
		Header: dag.Header{CopyID: dag.CopyIDSentinel, Txn: "1", CopyFromRev: dag.NoCopyFrom},
		Props:  map[string][]byte{},
		File:   &fc,
	}

	wide := dag.NewDirectory(dag.New(3, 0), "1", dag.CopyIDSentinel)
	for i := 0; i < 300; i++ {
		wide.Dir.Entries[string(rune('a'+i%26))+string(rune('0'+i%10))+string(rune('A'+i%26))] = dag.New(int64(i+10), 0)
	}

	runTrail(t, db, func(tr *trail.Trail) error {
		if err := tab.Nodes.PutNodeRevision(tr, file); err != nil {
			return err
		}
		if err := tab.Nodes.PutNodeRevision(tr, wide); err != nil {
			return err
		}

		gotFile, err := tab.Nodes.GetNodeRevision(tr, file.ID)
		if err != nil {
			return err
		}
		if gotFile.File.Length != int64(len(big)) || gotFile.File.Checksum != fc.Checksum {
			t.Errorf("large file content mangled: len=%d", gotFile.File.Length)
		}

		gotDir, err := tab.Nodes.GetNodeRevision(tr, wide.ID)
		if err != nil {
			return err
		}
		if len(gotDir.Dir.Entries) != len(wide.Dir.Entries) {
			t.Errorf("wide directory entries = %d, want %d", len(gotDir.Dir.Entries), len(wide.Dir.Entries))
		}

		// Overwriting with a smaller record must not leave stale chunks.
		small := dag.NewFileContent([]byte("tiny"))
		file.File = &small
		if err := tab.Nodes.PutNodeRevision(tr, file); err != nil {
			return err
		}
		gotFile, err = tab.Nodes.GetNodeRevision(tr, file.ID)
		if err != nil {
			return err
		}
		if string(gotFile.File.Data) != "tiny" {
			t.Errorf("rewrite left stale data: %d bytes", len(gotFile.File.Data))
		}
		return nil
	})
}

func TestNewSuccessorIDBumpsThenBranches(t *testing.T) {
	db, tab := testTables(t)

	base := dag.New(4, 0)
	runTrail(t, db, func(tr *trail.Trail) error {
		succ, err := tab.Nodes.NewSuccessorID(tr, base)
		if err != nil {
			return err
		}
		if succ.String() != "4.1" {
			t.Fatalf("first successor = %s, want 4.1", succ)
		}

		// base is no longer the youngest on its branch: succeeding it
		// again must fork a branch at base rather than bump in place.
		branch, err := tab.Nodes.NewSuccessorID(tr, base)
		if err != nil {
			return err
		}
		if branch.String() != "4.0.1.1" {
			t.Fatalf("re-succession = %s, want branch 4.0.1.1", branch)
		}

		// The fresh branch has its own youngest counter.
		next, err := tab.Nodes.NewSuccessorID(tr, branch)
		if err != nil {
			return err
		}
		if next.String() != "4.0.1.2" {
			t.Fatalf("branch successor = %s, want 4.0.1.2", next)
		}
		return nil
	})
}

func TestRevisionNumbersAreGapless(t *testing.T) {
	db, tab := testTables(t)

	runTrail(t, db, func(tr *trail.Trail) error {
		for want := int64(0); want < 3; want++ {
			rev, err := tab.Revisions.PutRevision(tr, &Revision{Root: dag.RootID(), Props: map[string][]byte{}})
			if err != nil {
				return err
			}
			if rev != want {
				t.Fatalf("PutRevision = %d, want %d", rev, want)
			}
		}
		young, err := tab.Revisions.YoungestRevision(tr)
		if err != nil {
			return err
		}
		if young != 2 {
			t.Fatalf("YoungestRevision = %d, want 2", young)
		}
		return nil
	})
}

func TestYoungestOnFreshStore(t *testing.T) {
	db, tab := testTables(t)
	runTrail(t, db, func(tr *trail.Trail) error {
		if _, err := tab.Revisions.YoungestRevision(tr); err != ErrNotInitialized {
			t.Fatalf("YoungestRevision on empty store = %v, want ErrNotInitialized", err)
		}
		return nil
	})
}

func TestTxnRecordRoundTrip(t *testing.T) {
	db, tab := testTables(t)

	runTrail(t, db, func(tr *trail.Trail) error {
		id, err := tab.Txns.CreateTxn(tr, 3, dag.RootID())
		if err != nil {
			return err
		}
		txn, err := tab.Txns.GetTxn(tr, id)
		if err != nil {
			return err
		}
		if txn.BaseRev != 3 || !txn.Root.Equal(dag.RootID()) || !txn.BaseRoot.Equal(dag.RootID()) {
			t.Fatalf("fresh txn = %+v", txn)
		}
		if txn.Committed || txn.CommittedRev != NoCommittedRevision {
			t.Fatalf("fresh txn reports committed: %+v", txn)
		}

		txn.CopyList = append(txn.CopyList, "9")
		txn.Props["date"] = []byte("then")
		txn.Committed = true
		txn.CommittedRev = 4
		if err := tab.Txns.PutTxn(tr, txn); err != nil {
			return err
		}
		again, err := tab.Txns.GetTxn(tr, id)
		if err != nil {
			return err
		}
		if !again.Committed || again.CommittedRev != 4 || len(again.CopyList) != 1 || string(again.Props["date"]) != "then" {
			t.Fatalf("rewritten txn = %+v", again)
		}
		return nil
	})
}

func addChange(t *testing.T, tr *trail.Trail, tab *Tables, txn, path string, kind ChangeKind, text, prop bool) {
	t.Helper()
	err := tab.Changes.Add(tr, txn, ChangeRecord{
		Path: path, NodeRevID: dag.New(1, 0), Kind: kind, TextMod: text, PropMod: prop,
	})
	if err != nil {
		t.Fatalf("Changes.Add: %v", err)
	}
}

func TestChangesAggregation(t *testing.T) {
	db, tab := testTables(t)

	runTrail(t, db, func(tr *trail.Trail) error {
		// delete over add -> the path drops out entirely.
		addChange(t, tr, tab, "t1", "/gone", ChangeAdd, false, false)
		addChange(t, tr, tab, "t1", "/gone", ChangeDelete, false, false)

		// modify over add keeps the add, OR-ing the flags in.
		addChange(t, tr, tab, "t1", "/new", ChangeAdd, false, false)
		addChange(t, tr, tab, "t1", "/new", ChangeModify, true, false)
		addChange(t, tr, tab, "t1", "/new", ChangeModify, false, true)

		// delete over modify becomes a delete preserving the flags.
		addChange(t, tr, tab, "t1", "/mod-del", ChangeModify, true, false)
		addChange(t, tr, tab, "t1", "/mod-del", ChangeDelete, false, false)

		// replace supersedes a prior modify.
		addChange(t, tr, tab, "t1", "/swap", ChangeModify, true, false)
		addChange(t, tr, tab, "t1", "/swap", ChangeReplace, false, false)

		// reset removes the entry outright.
		addChange(t, tr, tab, "t1", "/reset", ChangeAdd, false, false)
		addChange(t, tr, tab, "t1", "/reset", ChangeReset, false, false)

		// bare delete stays a delete.
		addChange(t, tr, tab, "t1", "/plain-del", ChangeDelete, false, false)

		agg, err := tab.Changes.Fetch(tr, "t1")
		if err != nil {
			return err
		}

		if _, ok := agg["/gone"]; ok {
			t.Error("/gone survived delete-over-add")
		}
		if rec := agg["/new"]; rec.Kind != ChangeAdd || !rec.TextMod || !rec.PropMod {
			t.Errorf("/new = %+v, want add with both flags", rec)
		}
		if rec := agg["/mod-del"]; rec.Kind != ChangeDelete || !rec.TextMod {
			t.Errorf("/mod-del = %+v, want delete preserving text flag", rec)
		}
		if rec := agg["/swap"]; rec.Kind != ChangeReplace {
			t.Errorf("/swap = %+v, want replace", rec)
		}
		if _, ok := agg["/reset"]; ok {
			t.Error("/reset survived reset")
		}
		if rec := agg["/plain-del"]; rec.Kind != ChangeDelete {
			t.Errorf("/plain-del = %+v, want delete", rec)
		}
		return nil
	})
}

func TestChangesIsolatedPerTxn(t *testing.T) {
	db, tab := testTables(t)

	runTrail(t, db, func(tr *trail.Trail) error {
		addChange(t, tr, tab, "a", "/x", ChangeAdd, false, false)
		addChange(t, tr, tab, "b", "/y", ChangeAdd, false, false)

		aggA, err := tab.Changes.Fetch(tr, "a")
		if err != nil {
			return err
		}
		if len(aggA) != 1 {
			t.Fatalf("txn a sees %v", aggA)
		}
		if _, ok := aggA["/y"]; ok {
			t.Fatal("txn a sees txn b's change")
		}

		tab.Changes.DeleteAll(tr, "a")
		aggA, err = tab.Changes.Fetch(tr, "a")
		if err != nil {
			return err
		}
		if len(aggA) != 0 {
			t.Fatalf("after DeleteAll, txn a sees %v", aggA)
		}
		aggB, err := tab.Changes.Fetch(tr, "b")
		if err != nil {
			return err
		}
		if len(aggB) != 1 {
			t.Fatalf("DeleteAll(a) disturbed txn b: %v", aggB)
		}
		return nil
	})
}

func TestUndeleteChange(t *testing.T) {
	db, tab := testTables(t)

	runTrail(t, db, func(tr *trail.Trail) error {
		addChange(t, tr, tab, "t", "/d", ChangeDelete, false, false)
		addChange(t, tr, tab, "t", "/keep", ChangeAdd, false, false)

		if err := tab.Changes.UndeleteChange(tr, "t", "/d"); err != nil {
			return err
		}
		agg, err := tab.Changes.Fetch(tr, "t")
		if err != nil {
			return err
		}
		if _, ok := agg["/d"]; ok {
			t.Error("delete record survived UndeleteChange")
		}
		if _, ok := agg["/keep"]; !ok {
			t.Error("UndeleteChange removed an unrelated record")
		}
		return nil
	})
}

func TestCopiesTable(t *testing.T) {
	db, tab := testTables(t)

	runTrail(t, db, func(tr *trail.Trail) error {
		id, err := tab.Copies.NewCopyID(tr)
		if err != nil {
			return err
		}
		if id == dag.CopyIDSentinel {
			t.Fatalf("NewCopyID returned the sentinel %q", id)
		}
		tab.Copies.Put(tr, id, CopyRecord{FromRev: 2, FromPath: "/A", DstPath: "/A2"})

		rec, ok, err := tab.Copies.Get(tr, id)
		if err != nil || !ok {
			t.Fatalf("Get = %v, %v, %v", rec, ok, err)
		}
		if rec.FromRev != 2 || rec.FromPath != "/A" || rec.DstPath != "/A2" {
			t.Fatalf("record = %+v", rec)
		}

		tab.Copies.Delete(tr, id)
		if _, ok, _ := tab.Copies.Get(tr, id); ok {
			t.Fatal("record survived Delete")
		}
		return nil
	})
}
