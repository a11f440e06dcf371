package compiler

import (
	"strings"
	"testing"

	"github.com/arkiliandb/docstore/internal/query/ast"

	docerrors "github.com/arkiliandb/docstore/internal/errors"
)

func TestCompile_ImplicitEquality(t *testing.T) {
	q, err := Compile(&ast.Predicate{Field: "firstname", Op: ast.OpEq, Operand: "Lisa"}, "people", "_id", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(q.Where, "json_extract") || !strings.Contains(q.Where, "IS ?") {
		t.Errorf("expected json_extract ... IS ? fragment, got %q", q.Where)
	}
	if len(q.Params) != 1 || q.Params[0] != "Lisa" {
		t.Errorf("expected params [Lisa], got %v", q.Params)
	}
}

func TestCompile_NeIsStrictInequality(t *testing.T) {
	q, err := Compile(&ast.Predicate{Field: "status", Op: ast.OpNe, Operand: "open"}, "people", "_id", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(q.Where, "!= ?") {
		t.Errorf("expected a strict != fragment, got %q", q.Where)
	}
	if strings.Contains(q.Where, "IS NOT") {
		t.Errorf("$ne must not compile to SQLite's null-safe IS NOT, got %q", q.Where)
	}
}

func TestCompile_IdFieldUsesBareColumn(t *testing.T) {
	q, err := Compile(&ast.Predicate{Field: "_id", Op: ast.OpEq, Operand: "abc"}, "people", "_id", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(q.Where, "json_extract") {
		t.Errorf("expected bare _id column reference, got %q", q.Where)
	}
}

func TestCompile_AndFlattensAndJoinsWithAnd(t *testing.T) {
	w := ast.And(
		&ast.Predicate{Field: "firstname", Op: ast.OpEq, Operand: "Lisa"},
		&ast.Predicate{Field: "age", Op: ast.OpGt, Operand: 30},
	)
	q, err := Compile(w, "people", "_id", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(q.Where, " AND ") {
		t.Errorf("expected AND-joined fragments, got %q", q.Where)
	}
	if len(q.Params) != 2 {
		t.Errorf("expected 2 params, got %v", q.Params)
	}
}

func TestCompile_OrJoinsWithOr(t *testing.T) {
	w := ast.Or(
		&ast.Predicate{Field: "firstname", Op: ast.OpEq, Operand: "Lisa"},
		&ast.Predicate{Field: "firstname", Op: ast.OpEq, Operand: "Bob"},
	)
	q, err := Compile(w, "people", "_id", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(q.Where, " OR ") {
		t.Errorf("expected OR-joined fragments, got %q", q.Where)
	}
}

func TestCompile_NotPushesDownToComparator(t *testing.T) {
	w := &ast.Logical{
		Op: ast.OpNot,
		Children: []ast.Node{
			&ast.Predicate{Field: "firstname", Op: ast.OpLike, Operand: "M%"},
		},
	}
	q, err := Compile(w, "people", "_id", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(q.Where, "NOT (") || !strings.Contains(q.Where, "LIKE ?") {
		t.Errorf("expected NOT (... LIKE ?), got %q", q.Where)
	}
}

func TestCompile_NotRejectsNonLeafChild(t *testing.T) {
	w := &ast.Logical{
		Op: ast.OpNot,
		Children: []ast.Node{
			&ast.Logical{Op: ast.OpAnd, Children: []ast.Node{&ast.Predicate{Field: "a", Op: ast.OpEq, Operand: 1}}},
		},
	}
	_, err := Compile(w, "people", "_id", nil)
	if docerrors.GetCode(err) != docerrors.CodeMalformedNode {
		t.Errorf("expected MALFORMED_NODE, got %v", err)
	}
}

func TestCompile_InWithoutIndexUsesJsonEach(t *testing.T) {
	w := &ast.Predicate{Field: "tags", Op: ast.OpIn, Operand: []any{"go", "sqlite"}}
	q, err := Compile(w, "people", "_id", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(q.Join, "json_each") {
		t.Errorf("expected json_each join, got %q", q.Join)
	}
	if !q.Distinct {
		t.Error("expected Distinct to be set for array containment")
	}
	if len(q.Params) != 2 {
		t.Errorf("expected 2 params, got %v", q.Params)
	}
}

func TestCompile_InWithIndexUsesSideTable(t *testing.T) {
	w := &ast.Predicate{Field: "tags", Op: ast.OpIn, Operand: []any{"go"}}
	q, err := Compile(w, "people", "_id", map[string]string{"tags": "people_tags_idx"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(q.Join, `"people_tags_idx"`) {
		t.Errorf("expected join against side table, got %q", q.Join)
	}
	if strings.Contains(q.Join, "json_each") {
		t.Errorf("did not expect json_each fallback, got %q", q.Join)
	}
}

func TestCompile_InRejectsNonListOperand(t *testing.T) {
	w := &ast.Predicate{Field: "tags", Op: ast.OpIn, Operand: "go"}
	_, err := Compile(w, "people", "_id", nil)
	if docerrors.GetCode(err) != docerrors.CodeOperandShapeMismatch {
		t.Errorf("expected OPERAND_SHAPE_MISMATCH, got %v", err)
	}
}

func TestCompile_NinRewritesToSubqueryAndDropsOuterJoin(t *testing.T) {
	w := &ast.Predicate{Field: "tags", Op: ast.OpNin, Operand: []any{"deprecated"}}
	q, err := Compile(w, "people", "_id", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(q.Where, "NOT IN (SELECT") {
		t.Errorf("expected NOT IN subquery, got %q", q.Where)
	}
	if q.Join != "" {
		t.Errorf("expected no outer join for $nin, got %q", q.Join)
	}
}

func TestCompile_UnsupportedOperator(t *testing.T) {
	w := &ast.Predicate{Field: "x", Op: "$regex", Operand: "abc"}
	_, err := Compile(w, "people", "_id", nil)
	if docerrors.GetCode(err) != docerrors.CodeUnsupportedOperator {
		t.Errorf("expected UNSUPPORTED_OPERATOR, got %v", err)
	}
}

func TestCompile_NilTreeMatchesEverything(t *testing.T) {
	q, err := Compile(nil, "people", "_id", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Where != "1=1" {
		t.Errorf("expected trivially-true clause, got %q", q.Where)
	}
}

func TestCompile_RejectsUnquotableCollectionName(t *testing.T) {
	_, err := Compile(&ast.Predicate{Field: "a", Op: ast.OpEq, Operand: 1}, `people"; DROP`, "_id", nil)
	if docerrors.GetCode(err) != docerrors.CodeInvalidIdentifier {
		t.Errorf("expected INVALID_IDENTIFIER, got %v", err)
	}
}

func TestExtractParams_MatchesCompileOrderForMixedTree(t *testing.T) {
	w := ast.And(
		&ast.Predicate{Field: "firstname", Op: ast.OpEq, Operand: "Lisa"},
		&ast.Predicate{Field: "hobbies", Op: ast.OpIn, Operand: []any{"reading", "sax"}},
		&ast.Predicate{Field: "age", Op: ast.OpGt, Operand: 10},
	)
	compiled, err := Compile(w, "people", "_id", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	extracted, err := ExtractParams(w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(extracted) != len(compiled.Params) {
		t.Fatalf("expected %d params, got %d: %v", len(compiled.Params), len(extracted), extracted)
	}
	for i := range compiled.Params {
		if extracted[i] != compiled.Params[i] {
			t.Errorf("param %d: expected %v, got %v", i, compiled.Params[i], extracted[i])
		}
	}
}

func TestExtractParams_DiffersWhenLiteralsDiffer(t *testing.T) {
	first, err := ExtractParams(&ast.Predicate{Field: "firstname", Op: ast.OpEq, Operand: "Lisa"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := ExtractParams(&ast.Predicate{Field: "firstname", Op: ast.OpEq, Operand: "Bart"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first[0] == second[0] {
		t.Fatalf("expected different literals to extract to different params, got %v and %v", first, second)
	}
}

func TestExtractParams_NilTreeHasNoParams(t *testing.T) {
	params, err := ExtractParams(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params) != 0 {
		t.Errorf("expected no params for a nil tree, got %v", params)
	}
}
