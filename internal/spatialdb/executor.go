// Package spatialdb is the pipeline's view of the spatial datastore: run SQL,
// check table existence, read a single text value and bulk-load CSV files.
// Two implementations exist, one shelling out to psql and one on a pgx pool.
package spatialdb

import (
	"context"

	"github.com/sells-group/connectivity-cli/internal/db"
)

// Executor runs statements against the spatial datastore.
type Executor interface {
	// Exec runs one or more statements. Any failure aborts the batch.
	Exec(ctx context.Context, sql string) error
	// TableExists reports whether table is present.
	TableExists(ctx context.Context, table db.Table) (bool, error)
	// QueryText runs a query returning one text value and returns it.
	// A NULL result is returned as the empty string.
	QueryText(ctx context.Context, sql string) (string, error)
	// CopyCSV loads a headered CSV file into an existing table.
	CopyCSV(ctx context.Context, src CSVSource) (int64, error)
}

// CSVSource describes a headered CSV file and the table columns its fields
// map to, in order.
type CSVSource struct {
	Path    string
	Table   db.Table
	Columns []db.Column
}

// existsSQL is the table existence query shared by both executors.
func existsSQL(table db.Table) string {
	return "SELECT to_regclass(" + db.QuoteLiteral(table.Ident()) + ") IS NOT NULL"
}
