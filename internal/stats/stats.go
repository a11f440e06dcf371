// Package stats tracks per-path, per-operator compile frequency so the
// Index Advisory can decide which array paths deserve a materialized
// array index and which existing ones have gone cold.
package stats

import (
	"sort"
	"sync"
	"time"
)

// PathStats holds the compile-frequency statistics for one JSON field path.
type PathStats struct {
	Path      string
	Frequency int64
	LastSeen  time.Time
	Operators map[string]int
}

// Tracker accumulates PathStats over a sliding window. It is safe for
// concurrent use by many Collection.compile calls.
type Tracker struct {
	mu     sync.RWMutex
	byPath map[string]*PathStats
	window time.Duration
}

// New creates a Tracker that prunes entries idle for longer than window.
func New(window time.Duration) *Tracker {
	return &Tracker{
		byPath: make(map[string]*PathStats),
		window: window,
	}
}

// Record registers one compiled predicate against path using operator
// (e.g. "$in", "$eq"). O(1) and safe to call on every Compile.
func (t *Tracker) Record(path, operator string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byPath[path]
	if !ok {
		s = &PathStats{Path: path, Operators: make(map[string]int)}
		t.byPath[path] = s
	}
	s.Frequency++
	s.LastSeen = time.Now()
	s.Operators[operator]++
}

// TopPaths returns up to n PathStats sorted by frequency, descending.
func (t *Tracker) TopPaths(n int) []PathStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if n <= 0 || len(t.byPath) == 0 {
		return []PathStats{}
	}

	out := make([]PathStats, 0, len(t.byPath))
	for _, s := range t.byPath {
		copyOps := make(map[string]int, len(s.Operators))
		for op, count := range s.Operators {
			copyOps[op] = count
		}
		out = append(out, PathStats{Path: s.Path, Frequency: s.Frequency, LastSeen: s.LastSeen, Operators: copyOps})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Frequency > out[j].Frequency })
	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}

// FrequencyOf reports the current frequency recorded for path, or 0 if
// path has never been recorded (or has since been pruned).
func (t *Tracker) FrequencyOf(path string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.byPath[path]; ok {
		return s.Frequency
	}
	return 0
}

// Prune drops every path whose LastSeen is older than the tracker's window.
func (t *Tracker) Prune() {
	t.mu.Lock()
	defer t.mu.Unlock()

	threshold := time.Now().Add(-t.window)
	for path, s := range t.byPath {
		if s.LastSeen.Before(threshold) {
			delete(t.byPath, path)
		}
	}
}
