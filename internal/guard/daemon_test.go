package guard

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/arkiliandb/docstore/internal/collection"
	"github.com/arkiliandb/docstore/internal/config"
	"github.com/arkiliandb/docstore/internal/index"
	"github.com/arkiliandb/docstore/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.DBFile = filepath.Join(cfg.DataDir, "docstore.db")
	cfg.Resolve()

	st, err := store.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRunOnce_RepairsDriftedArrayIndex(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	col, err := collection.Open(ctx, st, "people")
	if err != nil {
		t.Fatalf("failed to open collection: %v", err)
	}
	if _, err := col.Insert(ctx, map[string]any{"firstname": "Bart", "hobbies": []any{"skateboarding"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := col.EnsureArrayIndex(ctx, "hobbies", index.Ascending); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	table := col.ArrayIndexPaths()
	if len(table) != 1 {
		t.Fatalf("expected exactly 1 array-indexed path, got %v", table)
	}

	if err := st.WithinTransaction(ctx, func(ctx context.Context, conn store.Conn) error {
		_, err := conn.ExecContext(ctx, `DELETE FROM "people_hobbies"`)
		return err
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clean, err := col.VerifyArrayIndex(ctx, "hobbies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clean {
		t.Fatal("expected drift after clearing the side table out of band")
	}

	d := New(st, config.GuardConfig{Enabled: true, MaxConcurrency: 4, MinConcurrency: 1, FailureRateThreshold: 0.5})
	d.runOnce(ctx)

	repaired, err := col.VerifyArrayIndex(ctx, "hobbies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !repaired {
		t.Fatal("expected runOnce to have repaired the drifted array index")
	}
}

func TestRunOnce_NoopWhenNothingIsIndexed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := collection.Open(ctx, st, "people"); err != nil {
		t.Fatalf("failed to open collection: %v", err)
	}

	d := New(st, config.GuardConfig{Enabled: true, MaxConcurrency: 4, MinConcurrency: 1, FailureRateThreshold: 0.5})
	d.runOnce(ctx)
}

func TestStartStop_IsIdempotentAndReturnsCleanly(t *testing.T) {
	st := newTestStore(t)
	d := New(st, config.GuardConfig{Enabled: true, CheckInterval: time.Hour, MaxConcurrency: 4, MinConcurrency: 1, FailureRateThreshold: 0.5})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error starting: %v", err)
	}
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("expected starting an already-running daemon to error")
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("unexpected error stopping: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("expected stopping an already-stopped daemon to be a clean no-op, got %v", err)
	}
}
