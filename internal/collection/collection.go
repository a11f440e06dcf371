// Package collection implements the Collection Orchestrator: the public
// Insert/Find/Update/Delete surface that compiles a caller's query and
// update documents through the query/ast, query/compiler, and
// query/updater packages and executes the resulting SQL against a Store.
package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/arkiliandb/docstore/internal/idgen"
	"github.com/arkiliandb/docstore/internal/index"
	"github.com/arkiliandb/docstore/internal/query/ast"
	"github.com/arkiliandb/docstore/internal/query/compiler"
	"github.com/arkiliandb/docstore/internal/sqlident"
	"github.com/arkiliandb/docstore/internal/store"

	docerrors "github.com/arkiliandb/docstore/internal/errors"
)

// MetadataCollectionName is the reserved collection the Metadata Catalog
// (§4.6) stores its records in. It is itself opened and queried as an
// ordinary Collection, never through a second code path.
const MetadataCollectionName = "_metadata"

// Collection is a handle to one named collection backed by a Store. It is
// safe for concurrent use: the identifier field is fixed after first
// insert, and the array-index snapshot is swapped atomically rather than
// mutated in place (§9).
type Collection struct {
	store     *store.Store
	name      string
	idField   string
	arrayIdx  atomic.Pointer[index.ArrayIndexes]
	publisher Publisher
	planCache PlanCache
	stats     StatsRecorder
}

// Open attaches to (creating if necessary) the named collection's backing
// table and, for every collection other than the metadata catalog itself,
// loads or initializes its catalog record.
func Open(ctx context.Context, st *store.Store, name string, opts ...Option) (*Collection, error) {
	if err := st.EnsureCollectionTable(ctx, name); err != nil {
		return nil, err
	}

	c := &Collection{store: st, name: name}
	for _, opt := range opts {
		opt(c)
	}

	if name == MetadataCollectionName {
		c.idField = "_id"
		empty := index.ArrayIndexes{}
		c.arrayIdx.Store(&empty)
		return c, nil
	}

	rec, err := loadOrCreateMetadata(ctx, st, name)
	if err != nil {
		return nil, err
	}
	c.idField = rec.IDField
	snapshot := index.ArrayIndexes(rec.ArrayIndexes)
	c.arrayIdx.Store(&snapshot)
	return c, nil
}

// Option configures a Collection at Open time.
type Option func(*Collection)

// WithPublisher attaches a Change Bus (or test double) that receives
// Events on observable writes.
func WithPublisher(p Publisher) Option {
	return func(c *Collection) { c.publisher = p }
}

// WithPlanCache attaches a Plan Cache (or test double) consulted before
// compiling a query.
func WithPlanCache(pc PlanCache) Option {
	return func(c *Collection) { c.planCache = pc }
}

// WithStatsRecorder attaches an Index Advisory tracker (or test double)
// that observes every compiled predicate's path and operator.
func WithStatsRecorder(sr StatsRecorder) Option {
	return func(c *Collection) { c.stats = sr }
}

// IdField returns the name of the field used as this collection's document
// identifier.
func (c *Collection) IdField() string {
	return c.idField
}

// SetIdField changes the identifier field name. It is only legal on a
// collection with no documents yet; SetIdField checks this itself by
// counting the collection's documents before writing the change through
// the Metadata Catalog's normal update path.
func (c *Collection) SetIdField(ctx context.Context, name string) error {
	if c.name == MetadataCollectionName {
		return docerrors.Invariant(docerrors.CodeUnreachable, "the metadata catalog's id field is fixed")
	}
	n, err := c.Count(ctx, nil)
	if err != nil {
		return err
	}
	if n > 0 {
		return docerrors.Invariant(docerrors.CodeUnreachable,
			"idField may only be changed before the first document is inserted").WithDetails(c.name)
	}
	if err := setMetadataIDField(ctx, c.store, c.name, name); err != nil {
		return err
	}
	c.idField = name
	return nil
}

func (c *Collection) arrayIndexes() index.ArrayIndexes {
	return *c.arrayIdx.Load()
}

// Name returns the collection's name.
func (c *Collection) Name() string {
	return c.name
}

// ArrayIndexPaths returns the field paths currently backed by a
// materialized array index, for the Index Advisory and Guard Daemon.
func (c *Collection) ArrayIndexPaths() []string {
	snapshot := c.arrayIndexes()
	paths := make([]string, 0, len(snapshot))
	for path := range snapshot {
		paths = append(paths, path)
	}
	return paths
}

// Insert assigns an identifier if doc has none, persists it, and returns
// the stored document (with the identifier present under idField).
func (c *Collection) Insert(ctx context.Context, doc map[string]any) (map[string]any, error) {
	return c.insertWithConn(ctx, nil, doc)
}

func (c *Collection) insertWithConn(ctx context.Context, conn store.Conn, doc map[string]any) (map[string]any, error) {
	id, err := documentID(doc, c.idField)
	if err != nil {
		return nil, err
	}

	body := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == c.idField {
			continue
		}
		body[k] = v
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, docerrors.Invariant(docerrors.CodeUnreachable, "document failed to marshal")
	}

	table := sqlident.Quote(c.name)
	stmt := fmt.Sprintf(`INSERT INTO %s (_id, document) VALUES (?, ?)`, table)

	run := func(ctx context.Context, conn store.Conn) error {
		_, err := conn.ExecContext(ctx, stmt, id, string(encoded))
		if err != nil {
			return docerrors.Backend(docerrors.CodeConstraintViolation, "insert failed", err).WithDetails(c.name)
		}
		return nil
	}

	if conn != nil {
		if err := run(ctx, conn); err != nil {
			return nil, err
		}
	} else if err := c.store.WithinTransaction(ctx, run); err != nil {
		return nil, err
	}

	c.publish(EventDocumentWritten, id)

	result := make(map[string]any, len(body)+1)
	for k, v := range body {
		result[k] = v
	}
	result[c.idField] = id
	return result, nil
}

// InsertMany inserts every document in docs inside a single transaction.
func (c *Collection) InsertMany(ctx context.Context, docs []map[string]any) ([]map[string]any, error) {
	results := make([]map[string]any, 0, len(docs))
	err := c.store.WithinTransaction(ctx, func(ctx context.Context, conn store.Conn) error {
		for _, doc := range docs {
			inserted, err := c.insertWithConn(ctx, conn, doc)
			if err != nil {
				return err
			}
			results = append(results, inserted)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Save inserts doc if it carries no identifier, or upserts it by
// identifier and returns the stored document otherwise.
func (c *Collection) Save(ctx context.Context, doc map[string]any) (map[string]any, error) {
	id, ok := doc[c.idField]
	if !ok || id == nil {
		return c.Insert(ctx, doc)
	}
	q := map[string]any{c.idField: id}
	if err := c.Update(ctx, q, doc, UpdateOptions{Upsert: true}); err != nil {
		return nil, err
	}
	return c.FindOne(ctx, q)
}

func documentID(doc map[string]any, idField string) (string, error) {
	if v, ok := doc[idField]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return "", docerrors.TypeMismatch(docerrors.CodeOperandShapeMismatch,
				"identifier field must be a string").WithDetails(idField)
		}
		return s, nil
	}
	return idgen.New(), nil
}

func (c *Collection) publish(eventType string, ids ...string) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(Event{Type: eventType, Collection: c.name, IDs: ids})
}

func (c *Collection) publishIndexCreated(path, table string) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(Event{Type: EventIndexCreated, Collection: c.name, Path: path, Table: table})
}

// compile parses q and consults the Plan Cache by the query's canonical
// shape key when one is configured. A cached entry's Where/Join text is
// shape-only — it carries no literal values — so a cache hit still
// re-extracts this call's own parameter list from the AST it just parsed
// rather than reusing whatever an earlier, same-shape query happened to
// bind; two queries sharing a shape (e.g. {age: 5} and {age: 9}) must never
// share bound parameters.
func (c *Collection) compile(q map[string]any) (*compiler.CompiledQuery, error) {
	key := shapeKey(q)

	parsed, err := ast.ParseQuery(q)
	if err != nil {
		return nil, err
	}
	if c.stats != nil {
		ast.Walk(parsed.Where, func(p *ast.Predicate) {
			c.stats.Record(p.Field, string(opOrEq(p.Op)))
		})
	}

	if c.planCache != nil {
		if cached, ok := c.planCache.Get(c.name, key); ok {
			params, err := compiler.ExtractParams(parsed.Where)
			if err != nil {
				return nil, err
			}
			return &compiler.CompiledQuery{
				Where:    cached.Where,
				Join:     cached.Join,
				Params:   params,
				Distinct: cached.Distinct,
			}, nil
		}
	}

	compiled, err := compiler.Compile(parsed.Where, c.name, c.idField, c.arrayIndexes())
	if err != nil {
		return nil, err
	}

	if c.planCache != nil {
		c.planCache.Put(c.name, key, compiled)
	}
	return compiled, nil
}

// opOrEq normalizes an empty Op (implicit equality) to OpEq for reporting,
// mirroring the compiler's own defensive normalization.
func opOrEq(op ast.Op) ast.Op {
	if op == "" {
		return ast.OpEq
	}
	return op
}

// shapeKey renders a canonical cache key for q: field names and operators
// in sorted order, values dropped entirely, so two queries differing only
// in literal values (e.g. {age: 5} vs {age: 9}) share one cache entry, per
// §4.11's query-shape cache design.
func shapeKey(q map[string]any) string {
	var b strings.Builder
	writeShape(&b, q)
	return b.String()
}

func writeShape(b *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte(':')
			writeShape(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		b.WriteString(fmt.Sprintf("%d", len(val)))
		b.WriteByte(']')
	default:
		b.WriteByte('_')
	}
}
