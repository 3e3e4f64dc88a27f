// Package runlog records pipeline runs and stage outcomes in etl.run_log.
package runlog

import (
	"context"
	"embed"
	"io/fs"
	"path"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/connectivity-cli/internal/db"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID serializes concurrent `etl run` invocations while the
// run-log schema is brought up to date.
const migrationLockID = 4242001

const bootstrapSQL = `
CREATE SCHEMA IF NOT EXISTS etl;
CREATE TABLE IF NOT EXISTS etl.schema_migrations (
	id         SERIAL PRIMARY KEY,
	filename   TEXT NOT NULL UNIQUE,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

type migration struct {
	name string
	sql  string
}

func embeddedMigrations() ([]migration, error) {
	paths, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list migrations")
	}
	sort.Strings(paths)

	out := make([]migration, 0, len(paths))
	for _, p := range paths {
		data, err := migrationFS.ReadFile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "runlog: read migration %s", p)
		}
		out = append(out, migration{name: path.Base(p), sql: string(data)})
	}
	return out, nil
}

func (m migration) apply(ctx context.Context, pool db.Pool) error {
	zap.L().Info("runlog: applying migration", zap.String("file", m.name))
	if _, err := pool.Exec(ctx, m.sql); err != nil {
		return eris.Wrapf(err, "runlog: apply migration %s", m.name)
	}
	if _, err := pool.Exec(ctx,
		"INSERT INTO etl.schema_migrations (filename, applied_at) VALUES ($1, now())", m.name,
	); err != nil {
		return eris.Wrapf(err, "runlog: record migration %s", m.name)
	}
	return nil
}

// Migrate creates etl.run_log and its indexes if they are missing.
func Migrate(ctx context.Context, pool db.Pool) error {
	pending, err := embeddedMigrations()
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "runlog: acquire migration advisory lock")
	}
	defer func() {
		if _, err := pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			zap.L().Warn("runlog: release migration advisory lock", zap.Error(err))
		}
	}()

	if _, err := pool.Exec(ctx, bootstrapSQL); err != nil {
		return eris.Wrap(err, "runlog: create etl schema")
	}

	rows, err := pool.Query(ctx, "SELECT filename FROM etl.schema_migrations")
	if err != nil {
		return eris.Wrap(err, "runlog: query applied migrations")
	}
	applied, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return eris.Wrap(err, "runlog: scan applied migrations")
	}
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}

	for _, m := range pending {
		if done[m.name] {
			continue
		}
		if err := m.apply(ctx, pool); err != nil {
			return err
		}
	}
	return nil
}
