// Package updater normalizes a Mongo-style update document into a vector of
// typed instructions and renders each instruction as parameterized SQL
// against a single collection's JSON document column. It mirrors the
// Query Compiler's separation of concerns: this package never executes SQL
// and never touches the database handle.
package updater

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arkiliandb/docstore/internal/sqlident"

	docerrors "github.com/arkiliandb/docstore/internal/errors"
)

// Kind discriminates the normalized instruction vector described in §4.3.
type Kind int

const (
	SetOp Kind = iota
	IncOp
	PushOp
	PopOp
	AddToSetOp
	ReplaceOp
)

// Instruction is one normalized element of an update document: either an
// operator applied to a single field (Field/Operand set) or, for ReplaceOp,
// a full replacement document (Document set, Field/Operand unused).
type Instruction struct {
	Kind     Kind
	Field    string
	Operand  any
	Document map[string]any
}

// operatorKeys maps each supported $-prefixed update operator to the
// instruction Kind it normalizes to.
var operatorKeys = map[string]Kind{
	"$set":      SetOp,
	"$inc":      IncOp,
	"$push":     PushOp,
	"$pop":      PopOp,
	"$addToSet": AddToSetOp,
}

// Normalize converts a raw update document into the typed instruction
// vector described in §4.3. A document with no $-prefixed top-level key is
// a single ReplaceOp instruction. Mixing operator and non-operator keys, or
// targeting the same field from two different operators, is a Configuration
// error raised here rather than deferred to SQL rendering.
func Normalize(doc map[string]any) ([]Instruction, error) {
	hasOperatorKey := false
	hasPlainKey := false
	for k := range doc {
		if strings.HasPrefix(k, "$") {
			hasOperatorKey = true
		} else {
			hasPlainKey = true
		}
	}

	if !hasOperatorKey {
		return []Instruction{{Kind: ReplaceOp, Document: doc}}, nil
	}
	if hasPlainKey {
		return nil, docerrors.Configuration(docerrors.CodeMixedUpdateKeys,
			"update document mixes operator and non-operator top-level keys")
	}

	seen := map[string]string{}
	var instructions []Instruction
	for opKey, kind := range operatorKeys {
		raw, ok := doc[opKey]
		if !ok {
			continue
		}
		fields, ok := raw.(map[string]any)
		if !ok {
			return nil, docerrors.Configuration(docerrors.CodeMalformedNode,
				opKey+" requires a {field: value} object")
		}
		for field, operand := range fields {
			if prior, dup := seen[field]; dup {
				return nil, docerrors.Configuration(docerrors.CodeDuplicateOperatorKey,
					"field targeted by more than one operator").
					WithDetails(fmt.Sprintf("%q via %s and %s", field, prior, opKey))
			}
			seen[field] = opKey
			instructions = append(instructions, Instruction{Kind: kind, Field: field, Operand: operand})
		}
	}

	for key := range doc {
		if _, known := operatorKeys[key]; strings.HasPrefix(key, "$") && !known {
			return nil, docerrors.Configuration(docerrors.CodeUnsupportedOperator,
				"unsupported update operator").WithDetails(key)
		}
	}

	return instructions, nil
}

// Statement is one parameterized SQL statement the Collection Orchestrator
// executes in order, within the same transaction, to apply an update.
type Statement struct {
	SQL    string
	Params []any
}

// Compile renders instructions into the ordered statement sequence that
// applies them to collection's rows matching whereSQL/whereParams. The
// predicate is wrapped in the `_id IN (SELECT DISTINCT ...)` form described
// in §4.3 when a join is present or multi is false (a single-row update).
func Compile(instructions []Instruction, collection, idField, whereSQL, join string, whereParams []any, multi bool) ([]Statement, error) {
	if err := sqlident.Validate(collection); err != nil {
		return nil, err
	}

	if len(instructions) == 1 && instructions[0].Kind == ReplaceOp {
		return compileReplace(instructions[0], collection, idField, whereSQL, join, whereParams, multi)
	}

	selector, selectorParams := Selector(collection, whereSQL, join, whereParams, multi)

	var stmts []Statement
	for _, ins := range instructions {
		fieldStmts, err := compileInstruction(ins, collection, selector, selectorParams)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, fieldStmts...)
	}
	return stmts, nil
}

func compileInstruction(ins Instruction, collection, selector string, selectorParams []any) ([]Statement, error) {
	switch ins.Kind {
	case SetOp:
		return []Statement{compileSet(ins, collection, selector, selectorParams)}, nil
	case IncOp:
		return compileInc(ins, collection, selector, selectorParams)
	case PushOp:
		return compilePush(ins, collection, selector, selectorParams)
	case PopOp:
		return compilePop(ins, collection, selector, selectorParams)
	case AddToSetOp:
		// AddToSetOp is expanded by the caller (Collection Orchestrator) into
		// a $nin-augmented recursive update, per §4.3; it never reaches SQL
		// rendering directly.
		return nil, docerrors.Invariant(docerrors.CodeUnreachable,
			"$addToSet must be expanded before Compile")
	default:
		return nil, docerrors.Invariant(docerrors.CodeUnreachable, "unknown instruction kind")
	}
}

func compileSet(ins Instruction, collection, selector string, selectorParams []any) Statement {
	value, isRaw := scalarOrJSON(ins.Operand)
	table := sqlident.Quote(collection)
	var sql string
	if isRaw {
		sql = fmt.Sprintf(`UPDATE %s SET document = json_set(document, '%s', json(?)) WHERE %s`,
			table, sqlident.JSONPath(ins.Field), selector)
	} else {
		sql = fmt.Sprintf(`UPDATE %s SET document = json_set(document, '%s', ?) WHERE %s`,
			table, sqlident.JSONPath(ins.Field), selector)
	}
	return Statement{SQL: sql, Params: append([]any{value}, selectorParams...)}
}

func compileInc(ins Instruction, collection, selector string, selectorParams []any) ([]Statement, error) {
	switch ins.Operand.(type) {
	case int, int32, int64, float32, float64:
	default:
		return nil, docerrors.TypeMismatch(docerrors.CodeNonNumericIncrement,
			"$inc operand must be numeric").WithDetails(ins.Field)
	}
	table := sqlident.Quote(collection)
	path := sqlident.JSONPath(ins.Field)
	sql := fmt.Sprintf(
		`UPDATE %s SET document = json_set(document, '%s', coalesce(json_extract(document, '%s'), 0) + ?) WHERE %s`,
		table, path, path, selector)
	return []Statement{{SQL: sql, Params: append([]any{ins.Operand}, selectorParams...)}}, nil
}

// compilePush emits the two-statement sequence from §4.3: first seed an
// absent array to [], then append the value at its current length.
func compilePush(ins Instruction, collection, selector string, selectorParams []any) ([]Statement, error) {
	table := sqlident.Quote(collection)
	path := sqlident.JSONPath(ins.Field)

	seed := Statement{
		SQL: fmt.Sprintf(
			`UPDATE %s SET document = json_set(document, '%s', json_array()) WHERE json_extract(document, '%s') IS NULL AND %s`,
			table, path, path, selector),
		Params: append([]any{}, selectorParams...),
	}

	value, isRaw := scalarOrJSON(ins.Operand)
	appendPathExpr := fmt.Sprintf(`'%s[' || json_array_length(document, '%s') || ']'`, path, path)
	var appendSQL string
	if isRaw {
		appendSQL = fmt.Sprintf(`UPDATE %s SET document = json_set(document, %s, json(?)) WHERE %s`,
			table, appendPathExpr, selector)
	} else {
		appendSQL = fmt.Sprintf(`UPDATE %s SET document = json_set(document, %s, ?) WHERE %s`,
			table, appendPathExpr, selector)
	}
	appendStmt := Statement{SQL: appendSQL, Params: append([]any{value}, selectorParams...)}

	return []Statement{seed, appendStmt}, nil
}

func compilePop(ins Instruction, collection, selector string, selectorParams []any) ([]Statement, error) {
	dir, ok := toInt(ins.Operand)
	if !ok || (dir != 1 && dir != -1) {
		return nil, docerrors.TypeMismatch(docerrors.CodeInvalidPopDirection,
			"$pop operand must be 1 or -1").WithDetails(ins.Field)
	}
	table := sqlident.Quote(collection)
	path := sqlident.JSONPath(ins.Field)

	var indexExpr string
	if dir == 1 {
		indexExpr = fmt.Sprintf(`(json_array_length(document, '%s') - 1)`, path)
	} else {
		indexExpr = "0"
	}
	removePathExpr := fmt.Sprintf(`'%s[' || %s || ']'`, path, indexExpr)

	sql := fmt.Sprintf(`UPDATE %s SET document = json_remove(document, %s) WHERE %s`,
		table, removePathExpr, selector)
	return []Statement{{SQL: sql, Params: append([]any{}, selectorParams...)}}, nil
}

func compileReplace(ins Instruction, collection, idField, whereSQL, join string, whereParams []any, multi bool) ([]Statement, error) {
	body := make(map[string]any, len(ins.Document))
	for k, v := range ins.Document {
		if k == idField {
			continue
		}
		body[k] = v
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, docerrors.Invariant(docerrors.CodeUnreachable, "replacement document failed to marshal")
	}

	selector, selectorParams := Selector(collection, whereSQL, join, whereParams, multi)
	sql := fmt.Sprintf(`UPDATE %s SET document = json(?) WHERE %s`, sqlident.Quote(collection), selector)
	return []Statement{{SQL: sql, Params: append([]any{string(encoded)}, selectorParams...)}}, nil
}

// Selector wraps whereSQL per §4.3's row-selection rule: whenever a join is
// present or the operation is not Multi, the predicate is wrapped as
// `_id IN (SELECT DISTINCT "<C>"._id FROM "<C>" <join> WHERE <predicate> [LIMIT 1])`
// so a backend UPDATE/DELETE statement (which cannot itself carry a join or
// LIMIT) still only ever touches the rows the compiled query selected.
// Update and Delete share this wrapping rule, so Delete calls it directly.
func Selector(collection, whereSQL, join string, whereParams []any, multi bool) (string, []any) {
	if join == "" && multi {
		return whereSQL, whereParams
	}
	table := sqlident.Quote(collection)
	limit := ""
	if !multi {
		limit = " LIMIT 1"
	}
	sub := fmt.Sprintf(`SELECT DISTINCT %s._id FROM %s %s WHERE %s%s`, table, table, join, whereSQL, limit)
	return fmt.Sprintf("_id IN (%s)", sub), whereParams
}

func scalarOrJSON(v any) (bound any, isRawJSON bool) {
	switch val := v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64:
		return v, false
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return v, false
		}
		return string(encoded), true
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
