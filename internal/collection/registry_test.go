package collection

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/arkiliandb/docstore/internal/config"
	"github.com/arkiliandb/docstore/internal/store"
)

func openRegistryTestStore(t *testing.T) *store.Store {
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

func TestRegistry_CollectionCachesHandleAcrossCalls(t *testing.T) {
	st := openRegistryTestStore(t)
	ctx := context.Background()
	reg := NewRegistry(st)

	first, err := reg.Collection(ctx, "people")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := reg.Collection(ctx, "people")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatal("expected the same *Collection pointer on the second call")
	}
}

func TestRegistry_DistinctNamesGetDistinctHandles(t *testing.T) {
	st := openRegistryTestStore(t)
	ctx := context.Background()
	reg := NewRegistry(st)

	people, err := reg.Collection(ctx, "people")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pets, err := reg.Collection(ctx, "pets")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if people == pets {
		t.Fatal("expected distinct handles for distinct collection names")
	}
	if people.Name() != "people" || pets.Name() != "pets" {
		t.Fatalf("unexpected names: %q, %q", people.Name(), pets.Name())
	}
}

func TestRegistry_AppliesOptionsToEveryOpenedCollection(t *testing.T) {
	st := openRegistryTestStore(t)
	ctx := context.Background()

	var recorded []string
	rec := recorderFunc(func(path, operator string) { recorded = append(recorded, path+":"+operator) })
	reg := NewRegistry(st, WithStatsRecorder(rec))

	col, err := reg.Collection(ctx, "people")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := col.Find(ctx, map[string]any{"firstname": "Bart"}, FindOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recorded) == 0 {
		t.Fatal("expected the registry-applied StatsRecorder to observe the compiled predicate")
	}
}

type recorderFunc func(path, operator string)

func (f recorderFunc) Record(path, operator string) { f(path, operator) }

func TestRegistry_OnOpenFiresOnceThenNeverAgainOnCacheHit(t *testing.T) {
	st := openRegistryTestStore(t)
	ctx := context.Background()
	reg := NewRegistry(st)

	var opened []string
	reg.OnOpen(func(c *Collection) { opened = append(opened, c.Name()) })

	if _, err := reg.Collection(ctx, "people"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := reg.Collection(ctx, "people"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := reg.Collection(ctx, "pets"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(opened) != 2 || opened[0] != "people" || opened[1] != "pets" {
		t.Fatalf("expected OnOpen to fire exactly once per distinct name, got %v", opened)
	}
}
