// Package index renders the DDL and verification SQL for array-containment
// side tables. Like the query and update compilers, it only produces SQL
// text; the Collection Orchestrator executes it inside its own transaction
// and persists the resulting index metadata through the normal catalog
// update path.
package index

import (
	"fmt"
	"strings"

	"github.com/arkiliandb/docstore/internal/sqlident"

	docerrors "github.com/arkiliandb/docstore/internal/errors"
)

// Order is the sort order requested for a side table's value index.
type Order string

const (
	Ascending  Order = "ASC"
	Descending Order = "DESC"
)

// TableName derives the deterministic side-table name for collection/field,
// e.g. "people"/"tags" → "people_tags". Dots in a nested field path are
// flattened to underscores so the table name stays a single identifier.
func TableName(collection, field string) string {
	return collection + "_" + strings.ReplaceAll(field, ".", "_")
}

func triggerNames(table string) (insert, update, delete string) {
	return table + "_ai", table + "_au", table + "_ad"
}

// CreatePlan is the ordered sequence of DDL statements EnsureArrayIndex
// executes, in a transaction, to materialize and start maintaining a side
// table for one array field path (§4.4 step 2).
type CreatePlan struct {
	Collection string
	Field      string
	Table      string
	DDL        []string
}

// Plan builds the CreatePlan for collection/field. order controls the
// side table's value index direction; it defaults to Ascending.
func Plan(collection, field string, order Order) (*CreatePlan, error) {
	if err := sqlident.Validate(collection); err != nil {
		return nil, err
	}
	if field == "" {
		return nil, docerrors.Configuration(docerrors.CodeInvalidIdentifier, "array index field must not be empty")
	}
	if order == "" {
		order = Ascending
	}

	table := TableName(collection, field)
	c := sqlident.Quote(collection)
	t := sqlident.Quote(table)
	path := sqlident.JSONPath(field)
	ins, upd, del := triggerNames(table)

	ddl := []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, t),
		fmt.Sprintf(`CREATE TABLE %s AS SELECT %s._id AS _id, json_each.value AS value FROM %s, json_each(%s.document, '%s')`,
			t, c, c, c, path),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s(value %s)`, sqlident.Quote(table+"_value_idx"), t, order),
		fmt.Sprintf(`DROP TRIGGER IF EXISTS %s`, sqlident.Quote(ins)),
		fmt.Sprintf(`CREATE TRIGGER %s AFTER INSERT ON %s BEGIN
    INSERT INTO %s (_id, value) SELECT NEW._id, json_each.value FROM json_each(NEW.document, '%s');
END`, sqlident.Quote(ins), c, t, path),
		fmt.Sprintf(`DROP TRIGGER IF EXISTS %s`, sqlident.Quote(upd)),
		fmt.Sprintf(`CREATE TRIGGER %s AFTER UPDATE ON %s BEGIN
    DELETE FROM %s WHERE _id = OLD._id;
    INSERT INTO %s (_id, value) SELECT NEW._id, json_each.value FROM json_each(NEW.document, '%s');
END`, sqlident.Quote(upd), c, t, t, path),
		fmt.Sprintf(`DROP TRIGGER IF EXISTS %s`, sqlident.Quote(del)),
		fmt.Sprintf(`CREATE TRIGGER %s AFTER DELETE ON %s BEGIN
    DELETE FROM %s WHERE _id = OLD._id;
END`, sqlident.Quote(del), c, t),
	}

	return &CreatePlan{Collection: collection, Field: field, Table: table, DDL: ddl}, nil
}

// RepairPlan is the DROP-then-recreate sequence RepairArrayIndex runs to
// rebuild a side table from the primary table when VerifyArrayIndex finds
// drift. It reuses the same CREATE TABLE ... AS SELECT step Plan uses. The
// triggers live on the primary table and stay in place; dropping the side
// table also drops its value index, which this plan does not recreate.
func RepairPlan(collection, field string) (*CreatePlan, error) {
	if err := sqlident.Validate(collection); err != nil {
		return nil, err
	}
	table := TableName(collection, field)
	c := sqlident.Quote(collection)
	t := sqlident.Quote(table)
	path := sqlident.JSONPath(field)

	ddl := []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, t),
		fmt.Sprintf(`CREATE TABLE %s AS SELECT %s._id AS _id, json_each.value AS value FROM %s, json_each(%s.document, '%s')`,
			t, c, c, c, path),
	}
	return &CreatePlan{Collection: collection, Field: field, Table: table, DDL: ddl}, nil
}

// VerifyQuery renders a SQL statement that returns a single row/column: the
// count of (id, value) pairs present in exactly one of the primary table's
// live array expansion and the side table. A non-zero result means the side
// table has drifted from the primary table (§8's array-index invariant).
func VerifyQuery(collection, field string) (string, error) {
	if err := sqlident.Validate(collection); err != nil {
		return "", err
	}
	table := TableName(collection, field)
	c := sqlident.Quote(collection)
	t := sqlident.Quote(table)
	path := sqlident.JSONPath(field)

	live := fmt.Sprintf(`SELECT %s._id AS _id, json_each.value AS value FROM %s, json_each(%s.document, '%s')`, c, c, c, path)
	side := fmt.Sprintf(`SELECT _id, value FROM %s`, t)

	return fmt.Sprintf(`SELECT COUNT(*) FROM ((%s EXCEPT %s) UNION ALL (%s EXCEPT %s))`, live, side, side, live), nil
}
