package kv

import (
	"context"
	"testing"
)

func TestTableScanStaysWithinPrefix(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	widgets := NewTable(100)
	gadgets := NewTable(200)

	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	widgets.Set(tx, []byte("w1"), BytesValue([]byte("alpha")))
	widgets.Set(tx, []byte("w2"), BytesValue([]byte("beta")))
	gadgets.Set(tx, []byte("g1"), BytesValue([]byte("gamma")))
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx, err = db.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Abort()

	var names []string
	widgets.Scan(tx, nil, func(vals []Value, val []byte) bool {
		names = append(names, string(vals[0].Str))
		return true
	})

	if len(names) != 2 {
		t.Fatalf("widgets.Scan returned %v, want 2 entries", names)
	}
	for _, n := range names {
		if n != "alpha" && n != "beta" {
			t.Fatalf("unexpected widget scanned: %q (scan leaked across table prefix)", n)
		}
	}
}

func TestTableGetSetDel(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	tbl := NewTable(1)

	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	tbl.Set(tx, []byte("value"), BytesValue([]byte("key")))
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx, err = db.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	val, ok := tbl.Get(tx, BytesValue([]byte("key")))
	if !ok || string(val) != "value" {
		t.Fatalf("Get = %q, %v", val, ok)
	}
	if !tbl.Del(tx, BytesValue([]byte("key"))) {
		t.Fatal("Del reported not-found")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, ok := db.Get(tbl.Key(BytesValue([]byte("key")))); ok {
		t.Fatal("key still present after Del")
	}
}
