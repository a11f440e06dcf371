package collection

import (
	"github.com/arkiliandb/docstore/internal/query/ast"
	"github.com/arkiliandb/docstore/internal/query/compiler"
)

// FindOptions controls ordering and pagination for Find.
type FindOptions struct {
	OrderBy []ast.OrderTerm
	Limit   *int
	Skip    *int
}

// UpdateOptions controls multi-row and upsert behavior for Update.
type UpdateOptions struct {
	Multi  bool
	Upsert bool
}

// DeleteOptions controls row-count behavior for Delete.
type DeleteOptions struct {
	JustOne bool
}

// IndexOptions controls uniqueness for EnsureIndex.
type IndexOptions struct {
	Unique bool
}

// Event is published to a Collection's Publisher on observable writes.
// Path and Table are only set on EventIndexCreated; IDs is only set on
// EventDocumentWritten.
type Event struct {
	Type       string
	Collection string
	IDs        []string
	Path       string
	Table      string
}

// Event types published by a Collection.
const (
	EventDocumentWritten = "DocumentWritten"
	EventIndexCreated    = "IndexCreated"
)

// Publisher receives Events. A Collection with a nil Publisher simply does
// not publish; the Change Bus (§4.10) is the production implementation.
type Publisher interface {
	Publish(Event)
}

// PlanCache resolves a query's compiled form from a cache keyed by its
// shape, avoiding a recompile on every Find/Update/Delete call. The Plan
// Cache (§4.11) is the production implementation; a nil PlanCache disables
// caching without changing behavior.
type PlanCache interface {
	Get(collection, shapeKey string) (*compiler.CompiledQuery, bool)
	Put(collection, shapeKey string, plan *compiler.CompiledQuery)
}

// StatsRecorder tallies per-path, per-operator compile frequency. The
// Index Advisory (§4.9) is the production implementation; a nil
// StatsRecorder disables tracking without changing query behavior.
type StatsRecorder interface {
	Record(path, operator string)
}
