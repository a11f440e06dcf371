package ast

import (
	docerrors "github.com/arkiliandb/docstore/internal/errors"
)

// ParseQuery turns a raw Mongo-style query document (as decoded from JSON,
// e.g. map[string]any{"firstname": "Lisa"}) into a Query. This is the
// "external Mongo-query parser" the compiler otherwise assumes as a given
// collaborator (§1); it implements only the mechanical field→predicate and
// {$query,$order} envelope translation described in §4.1 and §6, not a
// general query language parser.
func ParseQuery(doc map[string]any) (*Query, error) {
	if q, order, ok := splitEnvelope(doc); ok {
		where, err := parseTopLevel(q)
		if err != nil {
			return nil, err
		}
		orderBy, err := parseOrder(order)
		if err != nil {
			return nil, err
		}
		return &Query{Where: where, OrderBy: orderBy}, nil
	}

	where, err := parseTopLevel(doc)
	if err != nil {
		return nil, err
	}
	return &Query{Where: where}, nil
}

// splitEnvelope recognizes the {$query: Q, $order: O} envelope.
func splitEnvelope(doc map[string]any) (query map[string]any, order map[string]any, ok bool) {
	q, hasQuery := doc["$query"]
	if !hasQuery {
		return nil, nil, false
	}
	qm, ok1 := q.(map[string]any)
	if !ok1 {
		return nil, nil, false
	}
	var om map[string]any
	if o, hasOrder := doc["$order"]; hasOrder {
		om, _ = o.(map[string]any)
	}
	return qm, om, true
}

func parseOrder(order map[string]any) ([]OrderTerm, error) {
	if len(order) == 0 {
		return nil, nil
	}
	terms := make([]OrderTerm, 0, len(order))
	for field, dir := range order {
		desc, err := orderDirection(field, dir)
		if err != nil {
			return nil, err
		}
		terms = append(terms, OrderTerm{Field: field, Descending: desc})
	}
	return terms, nil
}

func orderDirection(field string, dir any) (bool, error) {
	switch v := dir.(type) {
	case int:
		return v < 0, nil
	case int64:
		return v < 0, nil
	case float64:
		return v < 0, nil
	default:
		return false, docerrors.Configuration(docerrors.CodeMalformedNode,
			"order direction must be ±1").WithDetails(field)
	}
}

// parseTopLevel parses the implicit top-level $and described in §4.1.
func parseTopLevel(doc map[string]any) (Node, error) {
	if doc == nil {
		return &Logical{Op: OpAnd, Children: nil}, nil
	}

	var parts []Node
	for key, val := range doc {
		switch key {
		case string(OpAnd), string(OpOr):
			children, ok := val.([]any)
			if !ok {
				return nil, docerrors.Configuration(docerrors.CodeMalformedNode,
					string(key)+" requires a list of sub-queries").WithDetails(key)
			}
			sub := make([]Node, 0, len(children))
			for _, c := range children {
				cm, ok := c.(map[string]any)
				if !ok {
					return nil, docerrors.Configuration(docerrors.CodeMalformedNode,
						string(key)+" entries must be query documents")
				}
				n, err := parseTopLevel(cm)
				if err != nil {
					return nil, err
				}
				sub = append(sub, n)
			}
			if key == string(OpAnd) {
				parts = append(parts, And(sub...))
			} else {
				parts = append(parts, Or(sub...))
			}
		default:
			n, err := parseFieldClause(key, val)
			if err != nil {
				return nil, err
			}
			parts = append(parts, n)
		}
	}

	return And(parts...), nil
}

// parseFieldClause parses one {field: value} or {field: {$op: operand}}
// entry. A map value whose keys are all $-prefixed operators is treated as
// an operator clause (possibly several, ANDed together); any other value
// is an implicit equality.
func parseFieldClause(field string, val any) (Node, error) {
	m, ok := val.(map[string]any)
	if !ok || len(m) == 0 || !allDollarKeys(m) {
		return &Predicate{Field: field, Op: OpEq, Operand: val}, nil
	}

	var parts []Node
	for op, operand := range m {
		if Op(op) == OpNot {
			inner, ok := operand.(map[string]any)
			if !ok || len(inner) != 1 {
				return nil, docerrors.Configuration(docerrors.CodeMalformedNode,
					"$not must wrap exactly one operator clause").WithDetails(field)
			}
			for innerOp, innerOperand := range inner {
				parts = append(parts, &Logical{
					Op:       OpNot,
					Children: []Node{&Predicate{Field: field, Op: Op(innerOp), Operand: innerOperand}},
				})
			}
			continue
		}
		parts = append(parts, &Predicate{Field: field, Op: Op(op), Operand: operand})
	}

	return And(parts...), nil
}

func allDollarKeys(m map[string]any) bool {
	for k := range m {
		if len(k) == 0 || k[0] != '$' {
			return false
		}
	}
	return true
}
