package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/connectivity-cli/internal/db"
	"github.com/sells-group/connectivity-cli/internal/spatialdb"
)

// dbPool connects to the configured database.
func dbPool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := db.Connect(ctx, cfg.Database.URL())
	if err != nil {
		return nil, eris.Wrap(err, "connect to database")
	}
	return pool, nil
}

// openStore returns the executor selected by store.driver. The pool is nil
// for the psql driver. The returned func releases any connection.
func openStore(ctx context.Context) (spatialdb.Executor, *pgxpool.Pool, func(), error) {
	if cfg.Store.Driver == "psql" {
		return spatialdb.NewPSQL(cfg.Store.PsqlPath, cfg.Database.ConnInfo()), nil, func() {}, nil
	}
	pool, err := dbPool(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return spatialdb.NewPoolExecutor(pool), pool, pool.Close, nil
}
