package trail

import (
	"context"
	"errors"
	"testing"

	"github.com/branchfs/branchfs/pkg/kv"
)

func tempDB(t *testing.T) *kv.DB {
	t.Helper()
	db := &kv.DB{Path: t.TempDir() + "/trail.db"}
	if err := db.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunCommitsOnSuccess(t *testing.T) {
	db := tempDB(t)

	got, err := Run(context.Background(), db, func(tr *Trail) (string, error) {
		tr.Tx().Set([]byte("k"), []byte("v"))
		return "done", nil
	})
	if err != nil || got != "done" {
		t.Fatalf("Run = %q, %v", got, err)
	}
	if val, ok := db.Get([]byte("k")); !ok || string(val) != "v" {
		t.Fatalf("write not committed: %q, %v", val, ok)
	}
}

func TestRunAbortsOnBodyError(t *testing.T) {
	db := tempDB(t)
	boom := errors.New("boom")

	_, err := Run(context.Background(), db, func(tr *Trail) (int, error) {
		tr.Tx().Set([]byte("k"), []byte("v"))
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run err = %v, want boom", err)
	}
	if _, ok := db.Get([]byte("k")); ok {
		t.Fatal("failed body's write is visible")
	}
}

func TestRunRetriesOnDeadlock(t *testing.T) {
	db := tempDB(t)

	attempts := 0
	got, err := Run(context.Background(), db, func(tr *Trail) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, kv.ErrDeadlock
		}
		tr.Tx().Set([]byte("k"), []byte("v"))
		return attempts, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	if _, ok := db.Get([]byte("k")); !ok {
		t.Fatal("final attempt's write missing")
	}
}

func TestRunGivesUpAfterMaxAttempts(t *testing.T) {
	db := tempDB(t)

	attempts := 0
	_, err := Run(context.Background(), db, func(tr *Trail) (int, error) {
		attempts++
		return 0, kv.ErrDeadlock
	})
	if !errors.Is(err, kv.ErrDeadlock) {
		t.Fatalf("Run err = %v, want ErrDeadlock", err)
	}
	if attempts != maxAttempts {
		t.Fatalf("attempts = %d, want %d", attempts, maxAttempts)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	db := tempDB(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	_, err := Run(ctx, db, func(tr *Trail) (int, error) {
		ran = true
		return 0, nil
	})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Run err = %v, want ErrCancelled", err)
	}
	if ran {
		t.Fatal("body ran under a cancelled context")
	}
}
