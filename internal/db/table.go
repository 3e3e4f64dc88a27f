package db

import (
	"strings"

	"github.com/jackc/pgx/v5"
)

// Table is a schema-qualified table name.
type Table struct {
	Schema string
	Name   string
}

// String returns the unquoted "schema.table" form, used for to_regclass
// lookups and log fields.
func (t Table) String() string {
	return t.Schema + "." + t.Name
}

// Identifier returns the pgx identifier for COPY.
func (t Table) Identifier() pgx.Identifier {
	return pgx.Identifier{t.Schema, t.Name}
}

// Ident returns the quoted identifier for use in SQL text.
func (t Table) Ident() string {
	return t.Identifier().Sanitize()
}

// QuoteIdent quotes a single identifier (column, index or schema name).
func QuoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// QuoteIdents quotes and comma-joins column names.
func QuoteIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// QuoteLiteral renders s as a single-quoted SQL string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Column is a column name with its SQL type.
type Column struct {
	Name string
	Type string
}

// ColumnNames returns the names of cols in order.
func ColumnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// ColumnDefs renders cols as a CREATE TABLE column list.
func ColumnDefs(cols []Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = QuoteIdent(c.Name) + " " + c.Type
	}
	return strings.Join(defs, ",\n  ")
}
