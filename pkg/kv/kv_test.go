package kv

import (
	"context"
	"fmt"
	"os"
	"testing"
)

func tempDB(t *testing.T) *DB {
	t.Helper()
	path := fmt.Sprintf("%s/branchfs-kv-test-%d.db", t.TempDir(), os.Getpid())
	db := &DB{Path: path}
	if err := db.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDBBasicSetGet(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	if err := db.Set(ctx, []byte("key1"), []byte("value1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := db.Set(ctx, []byte("key2"), []byte("value2")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if val, ok := db.Get([]byte("key1")); !ok || string(val) != "value1" {
		t.Fatalf("Get(key1) = %q, %v", val, ok)
	}
	if val, ok := db.Get([]byte("key2")); !ok || string(val) != "value2" {
		t.Fatalf("Get(key2) = %q, %v", val, ok)
	}
}

func TestDBPersistsAcrossReopen(t *testing.T) {
	path := fmt.Sprintf("%s/persist.db", t.TempDir())
	ctx := context.Background()

	db := &DB{Path: path}
	if err := db.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Set(ctx, []byte("durable"), []byte("yes")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := &DB{Path: path}
	if err := reopened.Open(); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if val, ok := reopened.Get([]byte("durable")); !ok || string(val) != "yes" {
		t.Fatalf("Get(durable) after reopen = %q, %v", val, ok)
	}
}

func TestTxCommitIsAtomic(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	tx.Set([]byte("a"), []byte("1"))
	tx.Set([]byte("b"), []byte("2"))

	if val, ok := tx.Get([]byte("a")); !ok || string(val) != "1" {
		t.Fatalf("uncommitted Get within tx = %q, %v", val, ok)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if val, ok := db.Get([]byte("a")); !ok || string(val) != "1" {
		t.Fatalf("Get(a) post-commit = %q, %v", val, ok)
	}
	if val, ok := db.Get([]byte("b")); !ok || string(val) != "2" {
		t.Fatalf("Get(b) post-commit = %q, %v", val, ok)
	}
}

func TestTxAbortLeavesNoTrace(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	if err := db.Set(ctx, []byte("existing"), []byte("value")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	tx.Set([]byte("existing"), []byte("modified"))
	tx.Set([]byte("new_key"), []byte("new_value"))
	tx.Abort()

	if val, ok := db.Get([]byte("existing")); !ok || string(val) != "value" {
		t.Fatalf("Get(existing) after abort = %q, %v; want unchanged", val, ok)
	}
	if _, ok := db.Get([]byte("new_key")); ok {
		t.Fatal("new_key visible after abort")
	}
}

func TestBeginReentrantReturnsDeadlock(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Abort()

	nestedCtx := WithTxOwner(ctx, tx)
	if _, err := db.Begin(nestedCtx); err != ErrDeadlock {
		t.Fatalf("reentrant Begin error = %v, want ErrDeadlock", err)
	}
}

func TestBeginRespectsContextCancellation(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Abort()

	cancelCtx, cancel := context.WithTimeout(ctx, 0)
	defer cancel()

	if _, err := db.Begin(cancelCtx); err != ErrDeadlock {
		t.Fatalf("Begin under expired context = %v, want ErrDeadlock", err)
	}
}

func TestScanOrdersAcrossTable(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	keys := []string{"c", "a", "b"}
	for _, k := range keys {
		if err := db.Set(ctx, []byte(k), []byte(k)); err != nil {
			t.Fatalf("Set(%q): %v", k, err)
		}
	}

	var seen []string
	db.Scan([]byte(""), func(k, v []byte) bool {
		seen = append(seen, string(k))
		return true
	})

	want := []string{"a", "b", "c"}
	for i, w := range want {
		if i >= len(seen) || seen[i] != w {
			t.Fatalf("Scan order = %v, want %v", seen, want)
		}
	}
}
