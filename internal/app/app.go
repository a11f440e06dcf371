// Package app provides the unified application lifecycle management for the
// document store.
package app

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/arkiliandb/docstore/internal/advisory"
	"github.com/arkiliandb/docstore/internal/changebus"
	"github.com/arkiliandb/docstore/internal/collection"
	"github.com/arkiliandb/docstore/internal/config"
	"github.com/arkiliandb/docstore/internal/guard"
	"github.com/arkiliandb/docstore/internal/httpapi"
	"github.com/arkiliandb/docstore/internal/plancache"
	"github.com/arkiliandb/docstore/internal/stats"
	"github.com/arkiliandb/docstore/internal/store"
)

// App manages the document store's service lifecycle: the SQLite-backed
// Store, the in-process Change Bus, the Plan Cache, the compile-frequency
// Tracker, one Index Advisory loop per collection, the Array Index Guard,
// and the HTTP Surface, all behind one Start/Stop pair.
type App struct {
	cfg *config.Config

	// Shared resources
	store    *store.Store
	bus      *changebus.Bus
	cache    *plancache.Cache
	tracker  *stats.Tracker
	registry *collection.Registry
	shutdown *store.ShutdownManager

	// Service components
	guardDaemon *guard.Daemon
	httpServer  *httpapi.GracefulHTTPServer

	advisoryMu      sync.Mutex
	advisoryCancels []context.CancelFunc

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{cfg: cfg}, nil
}

// Start initializes shared resources and starts all configured services.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	a.guardDaemon = guard.New(a.store, a.cfg.Guard)
	if err := a.guardDaemon.Start(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to start guard daemon: %w", err)
	}
	log.Printf("docstore: array index guard started")

	a.shutdown.RegisterCloser(store.CloserFunc(func() error {
		return a.guardDaemon.Stop()
	}))
	a.shutdown.RegisterCloser(store.CloserFunc(func() error {
		return a.store.Close()
	}))

	srv := httpapi.NewServer(a.cfg.HTTP, a.registry, a.shutdown)
	a.httpServer = httpapi.NewGracefulHTTPServer(srv, a.shutdown)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("docstore: http surface listening on %s", a.cfg.HTTP.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil {
			log.Printf("docstore: http server error: %v", err)
		}
	}()

	log.Printf("docstore started")
	return nil
}

// initSharedResources opens the Store and wires the Change Bus, Plan Cache,
// Tracker, and Registry together. The Registry's OnOpen hook starts one
// Index Advisory loop per collection the first time a request touches it,
// since collections are opened lazily by name rather than declared up
// front the way the teacher iterates a static partition key set.
func (a *App) initSharedResources(ctx context.Context) error {
	var err error
	a.store, err = store.Open(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	log.Printf("docstore: store opened at %s", a.cfg.DBFile)

	a.shutdown = store.NewShutdownManager(store.DefaultShutdownConfig())

	a.bus = changebus.New(256)
	a.cache = plancache.NewSubscribedTo(a.cfg.PlanCache.MaxEntries, a.bus, a.shutdown.ShutdownCh())
	a.tracker = stats.New(a.cfg.Advisory.Window)

	a.registry = collection.NewRegistry(a.store,
		collection.WithPublisher(a.bus),
		collection.WithPlanCache(a.cache),
		collection.WithStatsRecorder(a.tracker),
	)
	a.registry.OnOpen(func(col *collection.Collection) {
		a.startAdvisorFor(ctx, col)
	})

	return nil
}

// startAdvisorFor starts one Index Advisory evaluation loop for col,
// stopped when parentCtx is cancelled by Stop. It is registered as a
// collection.Registry.OnOpen hook and therefore runs synchronously,
// exactly once, the first time col's name is opened.
func (a *App) startAdvisorFor(parentCtx context.Context, col *collection.Collection) {
	if !a.cfg.Advisory.Enabled {
		return
	}

	advisorCtx, cancel := context.WithCancel(parentCtx)
	a.advisoryMu.Lock()
	a.advisoryCancels = append(a.advisoryCancels, cancel)
	a.advisoryMu.Unlock()

	adv := advisory.New(a.tracker, col, a.cfg.Advisory)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		adv.Run(advisorCtx)
	}()
	log.Printf("docstore: index advisory started for %s", col.Name())
}

// Stop gracefully stops all services and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	log.Printf("docstore: initiating graceful shutdown...")

	a.advisoryMu.Lock()
	for _, cancel := range a.advisoryCancels {
		cancel()
	}
	a.advisoryMu.Unlock()

	if a.shutdown != nil {
		if err := a.shutdown.Shutdown(ctx, "app stop"); err != nil {
			log.Printf("docstore: shutdown error: %v", err)
		}
	}

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("docstore: shutdown timeout, some goroutines may not have finished")
	}

	a.cleanup()

	log.Printf("docstore stopped")
	return nil
}

// cleanup releases resources not already owned by the ShutdownManager's
// closer chain.
func (a *App) cleanup() {
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}
