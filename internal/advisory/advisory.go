// Package advisory runs the background policy loop that turns observed
// query-compile frequency into automatic array-index creation (and, when
// explicitly enabled, removal) decisions. It mirrors the teacher's
// statistics-driven secondary-index policy, generalized from physical
// columns to JSON array paths.
package advisory

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/arkiliandb/docstore/internal/config"
	"github.com/arkiliandb/docstore/internal/index"
	"github.com/arkiliandb/docstore/internal/stats"
)

// ArrayIndexer is the subset of Collection the Advisor drives.
type ArrayIndexer interface {
	Name() string
	ArrayIndexPaths() []string
	EnsureArrayIndex(ctx context.Context, fieldPath string, order index.Order) error
	SamplePathValues(ctx context.Context, fieldPath string, limit int) ([]string, error)
}

// ActionType distinguishes a create decision from a drop recommendation.
type ActionType string

const (
	ActionCreate ActionType = "CREATE"
	ActionDrop   ActionType = "DROP"
)

// Action is one index decision the Advisor's evaluate pass produced.
type Action struct {
	Type ActionType
	Path string
}

// Advisor evaluates Tracker frequency against a collection's current array
// indexes on a fixed interval and acts on (or logs) the result.
type Advisor struct {
	tracker    *stats.Tracker
	collection ArrayIndexer
	cfg        config.AdvisoryConfig

	mu sync.Mutex
}

// New creates an Advisor for one collection, sharing tracker with the
// compile-time stats hook wired into that collection's options.
func New(tracker *stats.Tracker, collection ArrayIndexer, cfg config.AdvisoryConfig) *Advisor {
	return &Advisor{tracker: tracker, collection: collection, cfg: cfg}
}

// Run starts the ticking evaluation loop; it blocks until ctx is cancelled.
// When the advisory is disabled it returns immediately.
func (a *Advisor) Run(ctx context.Context) {
	if !a.cfg.Enabled {
		return
	}
	interval := a.cfg.CheckInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, action := range a.evaluate(ctx) {
				if err := a.execute(ctx, action); err != nil {
					log.Printf("advisory: %s %s failed: %v", action.Type, action.Path, err)
				}
			}
		}
	}
}

// sampleSize bounds how many array-element values evaluate reads per
// candidate path before deciding whether its cardinality justifies an
// index; it is a sample, not a full scan, so the advisory loop never
// competes with foreground traffic for a large table.
const sampleSize = 500

// evaluate determines which index actions should be taken based on the
// tracker's current top paths, mirroring the teacher's Policy.evaluate.
// A path that clears the frequency threshold still skips CREATE if a
// sample of its values estimates too few distinct elements to benefit
// from an index — a low-cardinality array path (e.g. a boolean flag)
// gains nothing from a value index and only adds write overhead.
func (a *Advisor) evaluate(ctx context.Context) []Action {
	a.mu.Lock()
	defer a.mu.Unlock()

	var actions []Action

	top := a.tracker.TopPaths(a.cfg.MaxIndexes + 10)
	existing := a.collection.ArrayIndexPaths()
	existingSet := make(map[string]bool, len(existing))
	for _, p := range existing {
		existingSet[p] = true
	}

	for _, s := range top {
		if s.Frequency >= a.cfg.CreateThreshold && !existingSet[s.Path] && s.Operators["$in"] > 0 {
			if len(existingSet) >= a.cfg.MaxIndexes {
				continue
			}
			if a.cfg.MinCardinality > 0 && !a.meetsCardinality(ctx, s.Path) {
				continue
			}
			actions = append(actions, Action{Type: ActionCreate, Path: s.Path})
			existingSet[s.Path] = true
		}
	}

	for _, p := range existing {
		if a.tracker.FrequencyOf(p) < a.cfg.DropThreshold {
			actions = append(actions, Action{Type: ActionDrop, Path: p})
		}
	}

	return actions
}

// meetsCardinality samples fieldPath's array values and reports whether
// their estimated distinct count clears cfg.MinCardinality. A sampling
// failure is treated as inconclusive rather than fatal: the advisory loop
// logs and defers the decision to the next tick instead of blocking other
// candidate paths in the same pass.
func (a *Advisor) meetsCardinality(ctx context.Context, fieldPath string) bool {
	samples, err := a.collection.SamplePathValues(ctx, fieldPath, sampleSize)
	if err != nil {
		log.Printf("advisory: cardinality sampling for %s.%s failed: %v", a.collection.Name(), fieldPath, err)
		return false
	}
	return estimateCardinality(samples) >= a.cfg.MinCardinality
}

func (a *Advisor) execute(ctx context.Context, action Action) error {
	switch action.Type {
	case ActionCreate:
		log.Printf("advisory: creating array index on %s.%s", a.collection.Name(), action.Path)
		return a.collection.EnsureArrayIndex(ctx, action.Path, index.Ascending)
	case ActionDrop:
		// Dropping a materialized index is destructive and not specified by
		// the original core's lifecycle, so the Advisor only logs the
		// recommendation. AutoDrop changes only the message logged: the
		// Collection Orchestrator has no drop operation, so nothing is dropped.
		if !a.cfg.AutoDrop {
			log.Printf("advisory: recommend dropping array index on %s.%s (frequency below threshold)",
				a.collection.Name(), action.Path)
			return nil
		}
		log.Printf("advisory: auto-drop is enabled but no DropArrayIndex operation is exposed by the Collection Orchestrator; recommendation logged only for %s.%s",
			a.collection.Name(), action.Path)
		return nil
	default:
		return nil
	}
}
