package spatialdb

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/connectivity-cli/internal/db"
)

// PoolExecutor runs statements over a pgx pool. Statement batches go through
// the simple protocol, so DO blocks and multiple statements are allowed.
type PoolExecutor struct {
	pool db.Pool
}

// NewPoolExecutor wraps pool.
func NewPoolExecutor(pool db.Pool) *PoolExecutor {
	return &PoolExecutor{pool: pool}
}

// Exec runs sql.
func (e *PoolExecutor) Exec(ctx context.Context, sql string) error {
	if _, err := e.pool.Exec(ctx, sql); err != nil {
		return eris.Wrap(err, "spatialdb: exec")
	}
	return nil
}

// QueryText scans a single nullable text value.
func (e *PoolExecutor) QueryText(ctx context.Context, sql string) (string, error) {
	var out *string
	if err := e.pool.QueryRow(ctx, sql).Scan(&out); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", eris.Wrap(err, "spatialdb: query text")
	}
	if out == nil {
		return "", nil
	}
	return *out, nil
}

// TableExists asks to_regclass for table.
func (e *PoolExecutor) TableExists(ctx context.Context, table db.Table) (bool, error) {
	var exists bool
	if err := e.pool.QueryRow(ctx, existsSQL(table)).Scan(&exists); err != nil {
		return false, eris.Wrapf(err, "spatialdb: check %s", table)
	}
	return exists, nil
}

// CopyCSV streams the file through COPY, converting each field to its
// column type. Blank fields load as NULL.
func (e *PoolExecutor) CopyCSV(ctx context.Context, src CSVSource) (int64, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return 0, eris.Wrapf(err, "spatialdb: open %s", src.Path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.ReuseRecord = true
	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, eris.Wrapf(err, "spatialdb: read header of %s", src.Path)
	}

	line := 1
	next := func() ([]any, error) {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		line++
		if err != nil {
			return nil, eris.Wrapf(err, "line %d", line)
		}
		if len(rec) != len(src.Columns) {
			return nil, eris.Errorf("line %d: %d fields, want %d", line, len(rec), len(src.Columns))
		}
		row := make([]any, len(rec))
		for i, field := range rec {
			v, err := convertField(field, src.Columns[i].Type)
			if err != nil {
				return nil, eris.Wrapf(err, "line %d column %s", line, src.Columns[i].Name)
			}
			row[i] = v
		}
		return row, nil
	}

	n, err := db.CopyStream(ctx, e.pool, src.Table, db.ColumnNames(src.Columns), next)
	if err != nil {
		return 0, eris.Wrapf(err, "spatialdb: copy %s", src.Path)
	}
	return n, nil
}

// convertField parses a CSV field for a column of sqlType.
func convertField(field, sqlType string) (any, error) {
	s := strings.TrimSpace(field)
	if s == "" {
		return nil, nil
	}
	switch strings.ToLower(sqlType) {
	case "double precision", "float8", "real", "float4", "numeric":
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "parse %q", s)
		}
		return v, nil
	case "integer", "int", "int4", "smallint", "int2":
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, eris.Wrapf(err, "parse %q", s)
		}
		return int32(v), nil
	case "bigint", "int8":
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "parse %q", s)
		}
		return v, nil
	default:
		return field, nil
	}
}
