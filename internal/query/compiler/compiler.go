// Package compiler turns a query.ast.Node into a parameterized SQL WHERE
// clause (and, when the tree contains array-containment predicates, a JOIN
// clause to go with it) over a single collection's backing table. It does
// not execute SQL and does not know about transactions; callers assemble
// the returned fragments into a full SELECT/UPDATE/DELETE statement.
package compiler

import (
	"fmt"
	"strings"

	"github.com/arkiliandb/docstore/internal/idgen"

	"github.com/arkiliandb/docstore/internal/query/ast"
	"github.com/arkiliandb/docstore/internal/sqlident"

	docerrors "github.com/arkiliandb/docstore/internal/errors"
)

// CompiledQuery is the (WHERE, JOIN, params) triple produced by Compile.
// Callers assemble a statement as:
//
//	SELECT ... FROM "<collection>" <Join> WHERE <Where> [ORDER BY ...] [LIMIT ...]
//
// with Params bound to the resulting statement's positional placeholders in
// left-to-right order as they appear in Join then Where.
type CompiledQuery struct {
	Where    string
	Join     string
	Params   []any
	Distinct bool
}

// comparatorOperators map a leaf Predicate's comparison operator directly
// onto a SQL binary operator against a json_extract expression.
var comparatorOperators = map[ast.Op]string{
	ast.OpEq:  "IS",
	ast.OpNe:  "!=",
	ast.OpGt:  ">",
	ast.OpGte: ">=",
	ast.OpLt:  "<",
	ast.OpLte: "<=",
	ast.OpLike: "LIKE",
}

// Compile translates ast tree w into a CompiledQuery against collection,
// whose document primary key column is idField (conventionally "_id").
// arrayIndexes maps a field path to the side table name maintained for it
// by the array-index manager; a field absent from the map still compiles,
// falling back to a lateral json_each expansion.
func Compile(w ast.Node, collection, idField string, arrayIndexes map[string]string) (*CompiledQuery, error) {
	if err := sqlident.Validate(collection); err != nil {
		return nil, err
	}
	c := &compilation{
		collection:   collection,
		idField:      idField,
		arrayIndexes: arrayIndexes,
	}

	if w == nil {
		return &CompiledQuery{Where: "1=1"}, nil
	}

	where, err := c.compile(w)
	if err != nil {
		return nil, err
	}

	return &CompiledQuery{
		Where:    where,
		Join:     strings.Join(c.joins, " "),
		Params:   c.params,
		Distinct: c.distinct,
	}, nil
}

// ExtractParams walks w and returns the positional parameter values a
// Compile of the same tree would bind to its placeholders, in the same
// left-to-right order, without re-deriving any SQL text. The Plan Cache
// uses this on a cache hit to rebind a cached shape's Where/Join text —
// which carries no literals of its own — to the current query's actual
// values, since two queries sharing a shape key (e.g. {age: 5} and
// {age: 9}) must never share bound parameters.
func ExtractParams(w ast.Node) ([]any, error) {
	if w == nil {
		return nil, nil
	}
	var params []any
	if err := extractParams(w, &params); err != nil {
		return nil, err
	}
	return params, nil
}

func extractParams(n ast.Node, params *[]any) error {
	switch node := n.(type) {
	case *ast.Logical:
		switch node.Op {
		case ast.OpAnd, ast.OpOr:
			for _, child := range node.Children {
				if err := extractParams(child, params); err != nil {
					return err
				}
			}
			return nil
		case ast.OpNot:
			if len(node.Children) != 1 {
				return docerrors.Configuration(docerrors.CodeMalformedNode,
					"$not applies to exactly one leaf comparator").
					WithDetails(fmt.Sprintf("got %d children", len(node.Children)))
			}
			pred, ok := node.Children[0].(*ast.Predicate)
			if !ok {
				return docerrors.Configuration(docerrors.CodeMalformedNode,
					"$not requires a leaf predicate child, not a nested logical node")
			}
			return extractPredicateParams(pred, params)
		default:
			return docerrors.Configuration(docerrors.CodeUnsupportedOperator,
				"unsupported logical operator").WithDetails(string(node.Op))
		}
	case *ast.Predicate:
		return extractPredicateParams(node, params)
	case *ast.Compiled:
		*params = append(*params, node.Params...)
		return nil
	default:
		return docerrors.Invariant(docerrors.CodeUnreachable, "unknown ast.Node type")
	}
}

func extractPredicateParams(p *ast.Predicate, params *[]any) error {
	op := p.Op
	if op == "" {
		op = ast.OpEq
	}
	switch op {
	case ast.OpIn, ast.OpNin:
		values, ok := toSlice(p.Operand)
		if !ok {
			return docerrors.TypeMismatch(docerrors.CodeOperandShapeMismatch,
				"$in/$nin requires a list operand").WithDetails(p.Field)
		}
		*params = append(*params, values...)
		return nil
	default:
		if _, ok := comparatorOperators[op]; !ok {
			return docerrors.Configuration(docerrors.CodeUnsupportedOperator,
				"unsupported comparison operator").WithDetails(string(op))
		}
		*params = append(*params, p.Operand)
		return nil
	}
}

// compilation accumulates join fragments and bound parameters as the tree
// is walked depth-first; this lets $and/$or children share the outer
// join list while a $nin subquery's join stays scoped to itself.
type compilation struct {
	collection   string
	idField      string
	arrayIndexes map[string]string
	joins        []string
	params       []any
	distinct     bool
}

func (c *compilation) compile(n ast.Node) (string, error) {
	switch node := n.(type) {
	case *ast.Logical:
		return c.compileLogical(node)
	case *ast.Predicate:
		return c.compilePredicate(node)
	case *ast.Compiled:
		c.params = append(c.params, node.Params...)
		if node.Join != "" {
			c.joins = append(c.joins, node.Join)
		}
		return node.SQL, nil
	default:
		return "", docerrors.Invariant(docerrors.CodeUnreachable, "unknown ast.Node type")
	}
}

func (c *compilation) compileLogical(l *ast.Logical) (string, error) {
	switch l.Op {
	case ast.OpAnd, ast.OpOr:
		if len(l.Children) == 0 {
			return "1=1", nil
		}
		parts := make([]string, 0, len(l.Children))
		for _, child := range l.Children {
			frag, err := c.compile(child)
			if err != nil {
				return "", err
			}
			parts = append(parts, "("+frag+")")
		}
		joiner := " AND "
		if l.Op == ast.OpOr {
			joiner = " OR "
		}
		return strings.Join(parts, joiner), nil

	case ast.OpNot:
		if len(l.Children) != 1 {
			return "", docerrors.Configuration(docerrors.CodeMalformedNode,
				"$not applies to exactly one leaf comparator").
				WithDetails(fmt.Sprintf("got %d children", len(l.Children)))
		}
		pred, ok := l.Children[0].(*ast.Predicate)
		if !ok {
			return "", docerrors.Configuration(docerrors.CodeMalformedNode,
				"$not requires a leaf predicate child, not a nested logical node")
		}
		frag, err := c.compilePredicate(pred)
		if err != nil {
			return "", err
		}
		return "NOT (" + frag + ")", nil

	default:
		return "", docerrors.Configuration(docerrors.CodeUnsupportedOperator,
			"unsupported logical operator").WithDetails(string(l.Op))
	}
}

func (c *compilation) compilePredicate(p *ast.Predicate) (string, error) {
	op := p.Op
	if op == "" {
		op = ast.OpEq
	}

	switch op {
	case ast.OpIn:
		frag, join, params, err := c.compileIn(p.Field, p.Operand)
		if err != nil {
			return "", err
		}
		c.joins = append(c.joins, join)
		c.params = append(c.params, params...)
		c.distinct = true
		return frag, nil

	case ast.OpNin:
		frag, join, params, err := c.compileIn(p.Field, p.Operand)
		if err != nil {
			return "", err
		}
		inner := fmt.Sprintf(`SELECT %s._id FROM %s %s WHERE %s`,
			sqlident.Quote(c.collection), sqlident.Quote(c.collection), join, frag)
		c.params = append(c.params, params...)
		return fmt.Sprintf("%s._id NOT IN (%s)", sqlident.Quote(c.collection), inner), nil

	default:
		cmp, ok := comparatorOperators[op]
		if !ok {
			return "", docerrors.Configuration(docerrors.CodeUnsupportedOperator,
				"unsupported comparison operator").WithDetails(string(op))
		}
		expr, err := c.fieldExpr(p.Field)
		if err != nil {
			return "", err
		}
		c.params = append(c.params, p.Operand)
		return fmt.Sprintf("%s %s ?", expr, cmp), nil
	}
}

// compileIn builds the array-containment join+comparator pair for an $in
// (or, via the caller, $nin) predicate. When arrayIndexes names a side
// table for field, the join targets it directly; otherwise the predicate
// falls back to a lateral json_each expansion over the document column.
func (c *compilation) compileIn(field string, operand any) (frag, join string, params []any, err error) {
	values, ok := toSlice(operand)
	if !ok {
		return "", "", nil, docerrors.TypeMismatch(docerrors.CodeOperandShapeMismatch,
			"$in/$nin requires a list operand").WithDetails(field)
	}

	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		params = append(params, v)
	}
	inList := strings.Join(placeholders, ",")

	if table, ok := c.arrayIndexes[field]; ok {
		if err := sqlident.Validate(table); err != nil {
			return "", "", nil, err
		}
		join = fmt.Sprintf(`INNER JOIN %s ON %s._id = %s._id`,
			sqlident.Quote(table), sqlident.Quote(table), sqlident.Quote(c.collection))
		frag = fmt.Sprintf(`%s.value IN (%s)`, sqlident.Quote(table), inList)
		return frag, join, params, nil
	}

	alias := "j" + idgen.New()
	join = fmt.Sprintf(`, json_each(json_extract(%s.document, '%s')) AS %s`,
		sqlident.Quote(c.collection), sqlident.JSONPath(field), sqlident.Quote(alias))
	frag = fmt.Sprintf(`%s.value IN (%s)`, sqlident.Quote(alias), inList)
	return frag, join, params, nil
}

// fieldExpr renders a field path as the SQL expression that reads it: the
// bare id column when the field is the document's identifier field, or a
// json_extract against the document column otherwise.
func (c *compilation) fieldExpr(field string) (string, error) {
	if field == c.idField {
		return sqlident.Quote(c.collection) + "._id", nil
	}
	return fmt.Sprintf("json_extract(%s.document, '%s')",
		sqlident.Quote(c.collection), sqlident.JSONPath(field)), nil
}

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	default:
		return nil, false
	}
}
