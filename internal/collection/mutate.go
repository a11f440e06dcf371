package collection

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/arkiliandb/docstore/internal/index"
	"github.com/arkiliandb/docstore/internal/query/compiler"
	"github.com/arkiliandb/docstore/internal/query/updater"
	"github.com/arkiliandb/docstore/internal/sqlident"
	"github.com/arkiliandb/docstore/internal/store"

	docerrors "github.com/arkiliandb/docstore/internal/errors"
)

// Update applies u to the documents matching q, following the upsert
// algorithm in §4.5: probe for a matching row, fall through to a normal
// update if one exists, otherwise insert (directly for a replacement body,
// or via a seeded recursive update for an operator body) when Upsert is
// set.
func (c *Collection) Update(ctx context.Context, q, u map[string]any, opts UpdateOptions) error {
	compiled, err := c.compile(q)
	if err != nil {
		return err
	}
	instructions, err := updater.Normalize(u)
	if err != nil {
		return err
	}

	return c.store.WithinTransaction(ctx, func(ctx context.Context, conn store.Conn) error {
		exists, err := c.probe(ctx, conn, compiled)
		if err != nil {
			return err
		}

		if exists {
			return c.applyUpdate(ctx, conn, compiled, instructions, opts.Multi)
		}
		if !opts.Upsert {
			return nil
		}
		return c.upsert(ctx, conn, q, u, instructions)
	})
}

func (c *Collection) probe(ctx context.Context, conn store.Conn, compiled *compiler.CompiledQuery) (bool, error) {
	table := sqlident.Quote(c.name)
	stmt := fmt.Sprintf(`SELECT 1 FROM %s %s WHERE %s LIMIT 1`, table, compiled.Join, compiled.Where)
	var ignore int
	err := conn.QueryRowContext(ctx, stmt, compiled.Params...).Scan(&ignore)
	if err == nil {
		return true, nil
	}
	if err == sql.ErrNoRows {
		return false, nil
	}
	return false, docerrors.Backend(docerrors.CodeDriverFailure, "update probe failed", err).WithDetails(c.name)
}

// applyUpdate expands any $addToSet instructions into a nested $nin-guarded
// recursive update (§4.3) and renders the rest directly to SQL.
func (c *Collection) applyUpdate(ctx context.Context, conn store.Conn, compiled *compiler.CompiledQuery, instructions []updater.Instruction, multi bool) error {
	var direct []updater.Instruction
	for _, ins := range instructions {
		if ins.Kind != updater.AddToSetOp {
			direct = append(direct, ins)
			continue
		}
		if err := c.applyAddToSet(ctx, conn, compiled, ins, multi); err != nil {
			return err
		}
	}
	if len(direct) == 0 {
		return nil
	}

	stmts, err := updater.Compile(direct, c.name, c.idField, compiled.Where, compiled.Join, compiled.Params, multi)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt.SQL, stmt.Params...); err != nil {
			return docerrors.Backend(docerrors.CodeDriverFailure, "update failed", err).WithDetails(c.name)
		}
	}
	return nil
}

// applyAddToSet re-expresses {$addToSet: {field: v}} as: for each matching
// row where v is not already present at field, push it — by ANDing the
// original compiled predicate with a compiled {field: {$nin: [v]}} guard
// and applying a $push update to the rows that combined predicate selects.
func (c *Collection) applyAddToSet(ctx context.Context, conn store.Conn, compiled *compiler.CompiledQuery, ins updater.Instruction, multi bool) error {
	guardQuery := map[string]any{ins.Field: map[string]any{"$nin": []any{ins.Operand}}}
	guardCompiled, err := c.compile(guardQuery)
	if err != nil {
		return err
	}
	where := "(" + compiled.Where + ") AND (" + guardCompiled.Where + ")"
	join := strings.TrimSpace(compiled.Join + " " + guardCompiled.Join)
	params := append(append([]any{}, compiled.Params...), guardCompiled.Params...)
	pushInstruction := []updater.Instruction{{Kind: updater.PushOp, Field: ins.Field, Operand: ins.Operand}}
	stmts, err := updater.Compile(pushInstruction, c.name, c.idField, where, join, params, multi)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt.SQL, stmt.Params...); err != nil {
			return docerrors.Backend(docerrors.CodeDriverFailure, "addToSet failed", err).WithDetails(c.name)
		}
	}
	return nil
}

// upsert implements §4.5 steps 3–4 for the no-matching-row case.
func (c *Collection) upsert(ctx context.Context, conn store.Conn, q, u map[string]any, instructions []updater.Instruction) error {
	if len(instructions) == 1 && instructions[0].Kind == updater.ReplaceOp {
		body := instructions[0].Document
		if _, ok := body[c.idField]; !ok {
			if qid, ok := q[c.idField]; ok {
				body[c.idField] = qid
			}
		}
		_, err := c.insertWithConn(ctx, conn, body)
		return err
	}

	seed := stripOperators(q)
	seeded, err := c.insertWithConn(ctx, conn, seed)
	if err != nil {
		return err
	}

	followUp := map[string]any{c.idField: seeded[c.idField]}
	compiled, err := c.compile(followUp)
	if err != nil {
		return err
	}
	return c.applyUpdate(ctx, conn, compiled, instructions, false)
}

// stripOperators builds the seed document for an operator-form upsert by
// dropping every $-prefixed key (and any field whose value is itself an
// operator clause) from q, per §4.5 step 4.
func stripOperators(q map[string]any) map[string]any {
	seed := make(map[string]any)
	for k, v := range q {
		if strings.HasPrefix(k, "$") {
			continue
		}
		if m, ok := v.(map[string]any); ok && isOperatorClause(m) {
			continue
		}
		seed[k] = v
	}
	return seed
}

func isOperatorClause(m map[string]any) bool {
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return len(m) > 0
}

// Delete removes documents matching q, wrapping the predicate with a
// single-row selector when JustOne is set, and returns the number of rows
// removed.
func (c *Collection) Delete(ctx context.Context, q map[string]any, opts DeleteOptions) (int64, error) {
	compiled, err := c.compile(q)
	if err != nil {
		return 0, err
	}

	selector, params := updater.Selector(c.name, compiled.Where, compiled.Join, compiled.Params, !opts.JustOne)
	table := sqlident.Quote(c.name)
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE %s`, table, selector)

	var affected int64
	err = c.store.WithinTransaction(ctx, func(ctx context.Context, conn store.Conn) error {
		result, err := conn.ExecContext(ctx, stmt, params...)
		if err != nil {
			return docerrors.Backend(docerrors.CodeDriverFailure, "delete failed", err).WithDetails(c.name)
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		c.publish(EventDocumentWritten)
	}
	return affected, nil
}

// EnsureIndex creates a plain B-tree index on a json_extract expression for
// fieldPath. It is forwarded to the backend as a hint only; the Query
// Compiler does not change join strategy based on its presence.
func (c *Collection) EnsureIndex(ctx context.Context, fieldPath string, opts IndexOptions) error {
	if err := sqlident.Validate(fieldPath); err != nil {
		return err
	}
	table := sqlident.Quote(c.name)
	indexName := sqlident.Quote(c.name + "_" + strings.ReplaceAll(fieldPath, ".", "_") + "_idx")
	unique := ""
	if opts.Unique {
		unique = "UNIQUE "
	}
	stmt := fmt.Sprintf(`CREATE %sINDEX IF NOT EXISTS %s ON %s(json_extract(document, '%s'))`,
		unique, indexName, table, sqlident.JSONPath(fieldPath))

	return c.store.WithinTransaction(ctx, func(ctx context.Context, conn store.Conn) error {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return docerrors.Backend(docerrors.CodeConstraintViolation, "ensure index failed", err).WithDetails(fieldPath)
		}
		return nil
	})
}

// EnsureArrayIndex materializes (or no-ops if already present) an
// array-containment side table for fieldPath, per §4.4. On success it
// updates the catalog record and swaps in a new in-memory snapshot; on
// failure the transaction rolls back, the in-memory map is left untouched,
// and no event is published.
func (c *Collection) EnsureArrayIndex(ctx context.Context, fieldPath string, order index.Order) error {
	if _, already := c.arrayIndexes()[fieldPath]; already {
		return nil
	}

	plan, err := index.Plan(c.name, fieldPath, order)
	if err != nil {
		return err
	}

	err = c.store.WithinTransaction(ctx, func(ctx context.Context, conn store.Conn) error {
		for _, ddl := range plan.DDL {
			if _, err := conn.ExecContext(ctx, ddl); err != nil {
				return docerrors.Backend(docerrors.CodeDriverFailure, "array index creation failed", err).WithDetails(fieldPath)
			}
		}
		return recordArrayIndex(ctx, c.store, c.name, fieldPath, plan.Table)
	})
	if err != nil {
		return err
	}

	next := c.arrayIndexes().With(fieldPath, plan.Table)
	c.arrayIdx.Store(&next)
	c.publishIndexCreated(fieldPath, plan.Table)
	return nil
}

// VerifyArrayIndex reports whether fieldPath's side table has drifted from
// the primary table's live array contents, without mutating anything.
func (c *Collection) VerifyArrayIndex(ctx context.Context, fieldPath string) (bool, error) {
	q, err := index.VerifyQuery(c.name, fieldPath)
	if err != nil {
		return false, err
	}
	var mismatches int64
	if err := c.store.Reader().QueryRowContext(ctx, q).Scan(&mismatches); err != nil {
		return false, docerrors.Backend(docerrors.CodeDriverFailure, "array index verification failed", err).WithDetails(fieldPath)
	}
	return mismatches == 0, nil
}

// RepairArrayIndex rebuilds fieldPath's side table from the primary table
// inside a transaction. It is the operation the Guard Daemon invokes when
// VerifyArrayIndex reports drift.
func (c *Collection) RepairArrayIndex(ctx context.Context, fieldPath string) error {
	plan, err := index.RepairPlan(c.name, fieldPath)
	if err != nil {
		return err
	}
	return c.store.WithinTransaction(ctx, func(ctx context.Context, conn store.Conn) error {
		for _, ddl := range plan.DDL {
			if _, err := conn.ExecContext(ctx, ddl); err != nil {
				return docerrors.Backend(docerrors.CodeDriverFailure, "array index repair failed", err).WithDetails(fieldPath)
			}
		}
		return nil
	})
}

// SamplePathValues returns up to limit array-element values observed at
// fieldPath across the collection's live documents, for the Index Advisory
// to estimate cardinality before recommending an array index — the same
// json_each live expansion EnsureArrayIndex materializes into a side table,
// read directly instead of persisted.
func (c *Collection) SamplePathValues(ctx context.Context, fieldPath string, limit int) ([]string, error) {
	if err := sqlident.Validate(fieldPath); err != nil {
		return nil, err
	}
	table := sqlident.Quote(c.name)
	path := sqlident.JSONPath(fieldPath)
	stmt := fmt.Sprintf(`SELECT json_each.value FROM %s, json_each(%s.document, '%s') LIMIT %d`,
		table, table, path, limit)

	rows, err := c.store.Reader().QueryContext(ctx, stmt)
	if err != nil {
		return nil, docerrors.Backend(docerrors.CodeDriverFailure, "array path sampling failed", err).WithDetails(fieldPath)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, docerrors.Backend(docerrors.CodeDriverFailure, "failed to scan sampled value", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, docerrors.Backend(docerrors.CodeDriverFailure, "array path sampling failed", err)
	}
	return values, nil
}
