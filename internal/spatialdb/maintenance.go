package spatialdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/connectivity-cli/internal/db"
)

// TableStats holds size and row count information for a pipeline table.
type TableStats struct {
	TableName  string `json:"table_name"`
	Exists     bool   `json:"exists"`
	RowCount   int64  `json:"row_count"`
	TotalSize  string `json:"total_size"`
	HasSpatial bool   `json:"has_spatial"`
}

// GetTableStats reports existence, live rows, size and GIST index presence
// for each table, in the order given. The query returns one JSON document so
// it works the same through psql and pgx.
func GetTableStats(ctx context.Context, exec Executor, tables []db.Table) ([]TableStats, error) {
	if len(tables) == 0 {
		return nil, nil
	}

	values := make([]string, len(tables))
	for i, t := range tables {
		values[i] = fmt.Sprintf("(%s, %s, %d)", db.QuoteLiteral(t.Schema), db.QuoteLiteral(t.Name), i)
	}

	sql := `
SELECT coalesce(json_agg(json_build_object(
	'table_name', t.schema_name || '.' || t.table_name,
	'exists', c.oid IS NOT NULL,
	'row_count', coalesce(s.n_live_tup, 0),
	'total_size', coalesce(pg_size_pretty(pg_total_relation_size(c.oid)), ''),
	'has_spatial', EXISTS (
		SELECT 1 FROM pg_indexes i
		WHERE i.schemaname = t.schema_name AND i.tablename = t.table_name
		AND i.indexdef ILIKE '%USING gist%'
	)
) ORDER BY t.ord), '[]'::json)::text
FROM (VALUES ` + strings.Join(values, ", ") + `) AS t(schema_name, table_name, ord)
LEFT JOIN pg_class c ON c.oid = to_regclass(quote_ident(t.schema_name) || '.' || quote_ident(t.table_name))
LEFT JOIN pg_stat_user_tables s ON s.relid = c.oid`

	out, err := exec.QueryText(ctx, sql)
	if err != nil {
		return nil, eris.Wrap(err, "spatialdb: query table stats")
	}

	var stats []TableStats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		return nil, eris.Wrap(err, "spatialdb: decode table stats")
	}
	return stats, nil
}

// VacuumAnalyze runs VACUUM ANALYZE on each existing table, one statement at
// a time since VACUUM cannot run inside a transaction block.
func VacuumAnalyze(ctx context.Context, exec Executor, tables []db.Table) (int, error) {
	var done int
	for _, t := range tables {
		ok, err := exec.TableExists(ctx, t)
		if err != nil {
			return done, err
		}
		if !ok {
			zap.L().Debug("spatialdb: vacuum skipped, table missing", zap.String("table", t.String()))
			continue
		}
		zap.L().Info("spatialdb: vacuum analyze", zap.String("table", t.String()))
		if err := exec.Exec(ctx, "VACUUM ANALYZE "+t.Ident()); err != nil {
			return done, eris.Wrapf(err, "spatialdb: vacuum analyze %s", t)
		}
		done++
	}
	return done, nil
}
