package collection

import (
	"context"

	"github.com/arkiliandb/docstore/internal/query/ast"
)

// Cursor is a chainable, immutable query-plan builder returned by
// Collection.Cursor. Each chaining method returns a new Cursor value
// carrying an augmented plan; none mutates the receiver (§4.5).
type Cursor struct {
	collection *Collection
	query      map[string]any
	orderBy    []ast.OrderTerm
	limit      *int
	skip       *int
}

// Cursor begins a reactive cursor over documents matching q.
func (c *Collection) Cursor(q map[string]any) *Cursor {
	return &Cursor{collection: c, query: q}
}

// Sort returns a new Cursor that additionally orders by field.
func (cur *Cursor) Sort(field string, descending bool) *Cursor {
	next := cur.clone()
	next.orderBy = append(next.orderBy, ast.OrderTerm{Field: field, Descending: descending})
	return next
}

// Limit returns a new Cursor capped to n documents.
func (cur *Cursor) Limit(n int) *Cursor {
	next := cur.clone()
	next.limit = &n
	return next
}

// Skip returns a new Cursor that skips the first n matching documents.
func (cur *Cursor) Skip(n int) *Cursor {
	next := cur.clone()
	next.skip = &n
	return next
}

func (cur *Cursor) clone() *Cursor {
	orderBy := make([]ast.OrderTerm, len(cur.orderBy))
	copy(orderBy, cur.orderBy)
	return &Cursor{
		collection: cur.collection,
		query:      cur.query,
		orderBy:    orderBy,
		limit:      cur.limit,
		skip:       cur.skip,
	}
}

// All executes the cursor's plan and returns every matching document.
func (cur *Cursor) All(ctx context.Context) ([]map[string]any, error) {
	return cur.collection.Find(ctx, cur.query, FindOptions{
		OrderBy: cur.orderBy,
		Limit:   cur.limit,
		Skip:    cur.skip,
	})
}

// One executes the cursor's plan capped to a single document and returns
// it, or nil if nothing matches.
func (cur *Cursor) One(ctx context.Context) (map[string]any, error) {
	one := 1
	docs, err := cur.collection.Find(ctx, cur.query, FindOptions{
		OrderBy: cur.orderBy,
		Limit:   &one,
		Skip:    cur.skip,
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// Count returns the number of documents the cursor's query matches,
// ignoring Sort/Limit/Skip (which do not affect a count).
func (cur *Cursor) Count(ctx context.Context) (int64, error) {
	return cur.collection.Count(ctx, cur.query)
}
