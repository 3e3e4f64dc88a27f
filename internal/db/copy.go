// Package db provides shared PostgreSQL helpers: the pool interface,
// schema-qualified table names and COPY-based bulk loading.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyStream bulk-inserts rows produced by next until it returns a nil row.
// Rows are streamed, so the source is never held in memory.
func CopyStream(ctx context.Context, pool Pool, table Table, columns []string, next func() ([]any, error)) (int64, error) {
	n, err := pool.CopyFrom(ctx, table.Identifier(), columns, pgx.CopyFromFunc(next))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}

	return n, nil
}
