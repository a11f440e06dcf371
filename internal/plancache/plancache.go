// Package plancache is a bounded, in-memory cache from a collection's
// query-shape key to its compiled SQL fragments, sparing the Query
// Compiler a recompile on every Find/Update/Delete call for a previously
// seen shape. Eviction is least-recently-used with an access-count
// tiebreak, adapted from the teacher's tiered NVMe cache policy with the
// on-disk tier (and everything that copies bytes to/from a filesystem)
// dropped: there is nothing to page in here, only a compiled-SQL value
// already held in memory.
package plancache

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/arkiliandb/docstore/internal/changebus"
	"github.com/arkiliandb/docstore/internal/collection"
	"github.com/arkiliandb/docstore/internal/query/compiler"
)

// Metrics holds cache statistics for observability.
type Metrics struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Evictions atomic.Int64
	Entries   atomic.Int64
}

type entry struct {
	plan        *compiler.CompiledQuery
	lastAccess  atomic.Int64
	accessCount atomic.Int64
}

// Cache implements collection.PlanCache with a bounded entry count.
type Cache struct {
	mu         sync.Mutex
	index      map[string]*entry
	maxEntries int
	metrics    Metrics
	clock      atomic.Int64
}

// New creates a Cache that holds at most maxEntries compiled shapes.
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Cache{index: make(map[string]*entry), maxEntries: maxEntries}
}

// NewSubscribedTo creates a Cache and starts a goroutine that invalidates a
// collection's entries whenever that collection's IndexCreated event
// arrives on bus, per §4.11's "entries are invalidated wholesale per
// collection" rule. The goroutine exits when ctxDone is closed.
func NewSubscribedTo(maxEntries int, bus *changebus.Bus, ctxDone <-chan struct{}) *Cache {
	c := New(maxEntries)
	sub := bus.SubscribeAutoID()
	go func() {
		for {
			select {
			case <-ctxDone:
				bus.Unsubscribe(sub.ID)
				return
			case e, ok := <-sub.Ch:
				if !ok {
					return
				}
				if e.Type == collection.EventIndexCreated {
					c.InvalidateCollection(e.Collection)
				}
			}
		}
	}()
	return c
}

func cacheKey(collectionName, shapeKey string) string {
	return collectionName + "\x00" + shapeKey
}

// Get satisfies collection.PlanCache.
func (c *Cache) Get(collectionName, shapeKey string) (*compiler.CompiledQuery, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.index[cacheKey(collectionName, shapeKey)]
	if !ok {
		c.metrics.Misses.Add(1)
		return nil, false
	}
	c.metrics.Hits.Add(1)
	e.lastAccess.Store(c.tick())
	e.accessCount.Add(1)
	return e.plan, true
}

// Put satisfies collection.PlanCache.
func (c *Cache) Put(collectionName, shapeKey string, plan *compiler.CompiledQuery) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(collectionName, shapeKey)
	if _, exists := c.index[key]; !exists {
		c.metrics.Entries.Add(1)
	}
	e := &entry{plan: plan}
	e.lastAccess.Store(c.tick())
	e.accessCount.Store(1)
	c.index[key] = e

	if len(c.index) > c.maxEntries {
		c.evictOne()
	}
}

// InvalidateCollection drops every cached shape for collectionName.
func (c *Cache) InvalidateCollection(collectionName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := collectionName + "\x00"
	for key := range c.index {
		if strings.HasPrefix(key, prefix) {
			delete(c.index, key)
			c.metrics.Entries.Add(-1)
		}
	}
}

// evictOne removes the least-recently-used entry, breaking ties by the
// lowest access count, mirroring the teacher's performEviction ordering.
func (c *Cache) evictOne() {
	type candidate struct {
		key        string
		accessTime int64
		count      int64
	}
	candidates := make([]candidate, 0, len(c.index))
	for key, e := range c.index {
		candidates = append(candidates, candidate{key: key, accessTime: e.lastAccess.Load(), count: e.accessCount.Load()})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].accessTime != candidates[j].accessTime {
			return candidates[i].accessTime < candidates[j].accessTime
		}
		return candidates[i].count < candidates[j].count
	})
	if len(candidates) == 0 {
		return
	}
	delete(c.index, candidates[0].key)
	c.metrics.Entries.Add(-1)
	c.metrics.Evictions.Add(1)
}

func (c *Cache) tick() int64 {
	return c.clock.Add(1)
}
