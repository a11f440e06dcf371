package collection

import (
	"context"
	"sync"

	"github.com/arkiliandb/docstore/internal/store"
)

// Registry lazily opens and caches Collection handles by name, applying
// the same Options (Publisher, PlanCache, StatsRecorder) to every handle
// it opens. It is the runnable module's substitute for a
// Store.Collection(name, opts...) method: Store cannot return a
// *Collection itself without importing this package, which would invert
// the dependency direction described at the top of collection.go.
type Registry struct {
	store  *store.Store
	opts   []Option
	onOpen []func(*Collection)

	mu   sync.Mutex
	open map[string]*Collection
}

// NewRegistry creates a Registry bound to st. Every collection opened
// through it is configured with opts.
func NewRegistry(st *store.Store, opts ...Option) *Registry {
	return &Registry{store: st, opts: opts, open: make(map[string]*Collection)}
}

// OnOpen registers fn to run once, synchronously, the first time a given
// collection name is opened — never again on a cache hit. The Index
// Advisory uses this to start one evaluation loop per collection the
// first time a caller touches it, since there is no static collection
// list to iterate up front.
func (r *Registry) OnOpen(fn func(*Collection)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onOpen = append(r.onOpen, fn)
}

// Collection returns the cached handle for name, opening (and caching) it
// on first access. Concurrent callers requesting the same name observe a
// single Open call; one of them does the work, the rest wait on the lock
// and get the cached result.
func (r *Registry) Collection(ctx context.Context, name string) (*Collection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.open[name]; ok {
		return c, nil
	}
	c, err := Open(ctx, r.store, name, r.opts...)
	if err != nil {
		return nil, err
	}
	r.open[name] = c
	for _, fn := range r.onOpen {
		fn(c)
	}
	return c, nil
}
