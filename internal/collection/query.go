package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arkiliandb/docstore/internal/query/compiler"
	"github.com/arkiliandb/docstore/internal/sqlident"

	docerrors "github.com/arkiliandb/docstore/internal/errors"
)

// Find compiles q and returns every matching document, hydrated with the
// identifier field injected, in the order given by opts.OrderBy.
func (c *Collection) Find(ctx context.Context, q map[string]any, opts FindOptions) ([]map[string]any, error) {
	compiled, err := c.compile(q)
	if err != nil {
		return nil, err
	}

	stmt, args := c.selectStatement(compiled, opts)
	rows, err := c.store.Reader().QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, docerrors.Backend(docerrors.CodeDriverFailure, "find failed", err).WithDetails(c.name)
	}
	defer rows.Close()

	var results []map[string]any
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, docerrors.Backend(docerrors.CodeDriverFailure, "failed to scan row", err)
		}
		doc, err := c.hydrate(id, raw)
		if err != nil {
			return nil, err
		}
		results = append(results, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, docerrors.Backend(docerrors.CodeDriverFailure, "find failed", err)
	}
	return results, nil
}

// FindOne returns the first document matching q, or nil if none match.
func (c *Collection) FindOne(ctx context.Context, q map[string]any) (map[string]any, error) {
	one := 1
	docs, err := c.Find(ctx, q, FindOptions{Limit: &one})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// Count returns the number of distinct documents matching q.
func (c *Collection) Count(ctx context.Context, q map[string]any) (int64, error) {
	compiled, err := c.compile(q)
	if err != nil {
		return 0, err
	}
	table := sqlident.Quote(c.name)
	stmt := fmt.Sprintf(`SELECT COUNT(DISTINCT %s._id) FROM %s %s WHERE %s`,
		table, table, compiled.Join, compiled.Where)

	var n int64
	if err := c.store.Reader().QueryRowContext(ctx, stmt, compiled.Params...).Scan(&n); err != nil {
		return 0, docerrors.Backend(docerrors.CodeDriverFailure, "count failed", err).WithDetails(c.name)
	}
	return n, nil
}

func (c *Collection) selectStatement(compiled *compiler.CompiledQuery, opts FindOptions) (string, []any) {
	table := sqlident.Quote(c.name)
	var b strings.Builder
	fmt.Fprintf(&b, `SELECT DISTINCT %s._id, %s.document FROM %s %s WHERE %s`,
		table, table, table, compiled.Join, compiled.Where)

	if len(opts.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, term := range opts.OrderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			expr := table + "._id"
			if term.Field != c.idField {
				expr = fmt.Sprintf("json_extract(%s.document, '%s')", table, sqlident.JSONPath(term.Field))
			}
			b.WriteString(expr)
			if term.Descending {
				b.WriteString(" DESC")
			} else {
				b.WriteString(" ASC")
			}
		}
	}

	args := append([]any{}, compiled.Params...)
	if opts.Limit != nil {
		fmt.Fprintf(&b, " LIMIT %d", *opts.Limit)
		if opts.Skip != nil {
			fmt.Fprintf(&b, " OFFSET %d", *opts.Skip)
		}
	} else if opts.Skip != nil {
		fmt.Fprintf(&b, " LIMIT -1 OFFSET %d", *opts.Skip)
	}

	return b.String(), args
}

func (c *Collection) hydrate(id, raw string) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, docerrors.Invariant(docerrors.CodeUnreachable, "stored document failed to unmarshal").WithDetails(c.name)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	doc[c.idField] = id
	return doc, nil
}
