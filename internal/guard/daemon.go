// Package guard runs the background consistency sweep that keeps every
// collection's array-containment side tables honest: it asks the Metadata
// Catalog which (collection, path) pairs are indexed, verifies each, and
// repairs whatever has drifted, under a backpressure controller adapted
// from the teacher's compaction daemon.
package guard

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/arkiliandb/docstore/internal/collection"
	"github.com/arkiliandb/docstore/internal/config"
	"github.com/arkiliandb/docstore/internal/store"
)

// pair is one (collection, field path) array index the daemon watches.
type pair struct {
	collection string
	path       string
}

// Daemon manages the background array-index verification and repair loop.
type Daemon struct {
	store *store.Store
	cfg   config.GuardConfig
	bp    *BackpressureController

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Daemon bound to st, using cfg for its check interval and
// backpressure tuning.
func New(st *store.Store, cfg config.GuardConfig) *Daemon {
	bp := NewBackpressureController(Config{
		MaxConcurrency:   cfg.MaxConcurrency,
		MinConcurrency:   cfg.MinConcurrency,
		FailureThreshold: cfg.FailureRateThreshold,
	})
	return &Daemon{store: st, cfg: cfg, bp: bp}
}

// Start begins the verification loop. It runs until the context is
// cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	if !d.cfg.Enabled {
		return nil
	}
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("guard: daemon is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.run(ctx)
	return nil
}

// Stop gracefully stops the daemon, waiting for the in-flight sweep to end.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}
	d.cancel()
	<-d.done
	d.running = false
	return nil
}

func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)

	d.runOnce(ctx)

	interval := d.cfg.CheckInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runOnce(ctx)
		}
	}
}

// runOnce performs a single verify-then-repair sweep across every known
// array index, honoring the backpressure controller's concurrency cap.
func (d *Daemon) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	byCollection, err := collection.ListArrayIndexedPaths(ctx, d.store)
	if err != nil {
		log.Printf("guard: failed to list array-indexed paths: %v", err)
		return
	}

	var pairs []pair
	for collectionName, paths := range byCollection {
		for _, path := range paths {
			pairs = append(pairs, pair{collection: collectionName, path: path})
		}
	}
	if len(pairs) == 0 {
		return
	}

	d.bp.AdjustConcurrency()
	if d.bp.ShouldPause(len(pairs)) {
		log.Printf("guard: pausing sweep — failure rate %.2f exceeds threshold with backlog of %d", d.bp.FailureRate(), len(pairs))
		return
	}

	limit := d.bp.Concurrency()
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for _, p := range pairs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(p pair) {
			defer wg.Done()
			defer func() { <-sem }()
			d.verifyAndRepair(ctx, p)
		}(p)
	}
	wg.Wait()
}

func (d *Daemon) verifyAndRepair(ctx context.Context, p pair) {
	col, err := collection.Open(ctx, d.store, p.collection)
	if err != nil {
		log.Printf("guard: failed to open %s for verification: %v", p.collection, err)
		d.bp.RecordFailure()
		return
	}

	clean, err := col.VerifyArrayIndex(ctx, p.path)
	if err != nil {
		log.Printf("guard: verify failed for %s.%s: %v", p.collection, p.path, err)
		d.bp.RecordFailure()
		return
	}
	if clean {
		d.bp.RecordSuccess()
		return
	}

	log.Printf("guard: repairing drifted array index %s.%s", p.collection, p.path)
	if err := col.RepairArrayIndex(ctx, p.path); err != nil {
		log.Printf("guard: repair failed for %s.%s: %v", p.collection, p.path, err)
		d.bp.RecordFailure()
		return
	}
	d.bp.RecordSuccess()
}
