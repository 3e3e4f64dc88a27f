// Package ookla loads Ookla open-data speed tiles from parquet into the
// speed-tile base table.
package ookla

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/wkt"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"go.uber.org/zap"

	"github.com/sells-group/connectivity-cli/internal/db"
	"github.com/sells-group/connectivity-cli/internal/geo"
)

const defaultBatchSize = 10000

// Tile is one row of the open-data performance tiles.
type Tile struct {
	Quadkey  *string `parquet:"name=quadkey, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Tile     *string `parquet:"name=tile, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	AvgDKbps *int64  `parquet:"name=avg_d_kbps, type=INT64, repetitiontype=OPTIONAL"`
	AvgUKbps *int64  `parquet:"name=avg_u_kbps, type=INT64, repetitiontype=OPTIONAL"`
	AvgLatMs *int64  `parquet:"name=avg_lat_ms, type=INT64, repetitiontype=OPTIONAL"`
	Tests    *int64  `parquet:"name=tests, type=INT64, repetitiontype=OPTIONAL"`
	Devices  *int64  `parquet:"name=devices, type=INT64, repetitiontype=OPTIONAL"`
}

// Columns are the loaded columns, in COPY order. The table also carries an
// ogc_fid serial key.
var Columns = []db.Column{
	{Name: "quadkey", Type: "text"},
	{Name: "tile", Type: "text"},
	{Name: "avg_d_kbps", Type: "bigint"},
	{Name: "avg_u_kbps", Type: "bigint"},
	{Name: "avg_lat_ms", Type: "bigint"},
	{Name: "tests", Type: "bigint"},
	{Name: "devices", Type: "bigint"},
}

func (t *Tile) values() []any {
	return []any{t.Quadkey, t.Tile, t.AvgDKbps, t.AvgUKbps, t.AvgLatMs, t.Tests, t.Devices}
}

// Options configures a load.
type Options struct {
	Path      string
	Table     db.Table
	IDColumn  string
	Region    *geo.BBox // nil loads every tile
	BatchSize int
}

// Stats summarizes a load.
type Stats struct {
	Expected int64 // row count in the parquet footer
	Read     int64
	Loaded   int64
	Filtered int64
	BadWKT   int64
}

// Load replaces opts.Table with the tiles in the parquet file at opts.Path.
// With a region set, only tiles whose polygon bounds intersect it are kept.
func Load(ctx context.Context, pool db.Pool, opts Options) (Stats, error) {
	var stats Stats
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.IDColumn == "" {
		opts.IDColumn = "ogc_fid"
	}
	log := zap.L().With(
		zap.String("component", "ookla.loader"),
		zap.String("file", opts.Path),
		zap.String("table", opts.Table.String()),
	)

	src, err := Open(opts.Path, opts.BatchSize)
	if err != nil {
		return stats, err
	}
	defer src.Close()
	stats.Expected = src.Rows()

	if _, err := pool.Exec(ctx, CreateTableSQL(opts.Table, opts.IDColumn)); err != nil {
		return stats, eris.Wrapf(err, "ookla: create %s", opts.Table)
	}

	next := func() ([]any, error) {
		for {
			t, err := src.Next()
			if err != nil || t == nil {
				return nil, err
			}
			stats.Read++
			if opts.Region != nil {
				ok, err := InRegion(t, *opts.Region)
				if err != nil {
					stats.BadWKT++
					continue
				}
				if !ok {
					stats.Filtered++
					continue
				}
			}
			return t.values(), nil
		}
	}

	n, err := db.CopyStream(ctx, pool, opts.Table, db.ColumnNames(Columns), next)
	if err != nil {
		return stats, eris.Wrap(err, "ookla: load tiles")
	}
	stats.Loaded = n
	if stats.Read != stats.Expected {
		log.Warn("parquet footer row count differs from rows read",
			zap.Int64("expected", stats.Expected),
			zap.Int64("read", stats.Read),
		)
	}

	log.Info("speed tiles loaded",
		zap.Int64("expected", stats.Expected),
		zap.Int64("read", stats.Read),
		zap.Int64("loaded", stats.Loaded),
		zap.Int64("filtered", stats.Filtered),
		zap.Int64("bad_wkt", stats.BadWKT),
	)
	return stats, nil
}

// CreateTableSQL drops and recreates the base table.
func CreateTableSQL(table db.Table, idColumn string) string {
	return fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;
DROP TABLE IF EXISTS %s;
CREATE TABLE %s (
  %s serial PRIMARY KEY,
  %s
);`, db.QuoteIdent(table.Schema), table.Ident(), table.Ident(), db.QuoteIdent(idColumn), db.ColumnDefs(Columns))
}

// InRegion reports whether the tile polygon's bounds intersect region.
// A tile with no polygon text is an error.
func InRegion(t *Tile, region geo.BBox) (bool, error) {
	if t.Tile == nil {
		return false, eris.New("ookla: tile has no geometry")
	}
	g, err := wkt.Unmarshal(*t.Tile)
	if err != nil {
		return false, eris.Wrap(err, "ookla: parse tile wkt")
	}
	return geo.FromBounds(g.Bounds()).Intersects(region), nil
}

// Source reads tiles from a parquet file in batches.
type Source struct {
	file      source.ParquetFile
	pr        *reader.ParquetReader
	remaining int64
	batchSize int
	batch     []Tile
	pos       int
}

// Open opens a parquet file of tiles.
func Open(path string, batchSize int) (*Source, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ookla: open %s", path)
	}
	pr, err := reader.NewParquetReader(fr, new(Tile), 4)
	if err != nil {
		fr.Close()
		return nil, eris.Wrapf(err, "ookla: read parquet footer of %s", path)
	}
	return &Source{
		file:      fr,
		pr:        pr,
		remaining: pr.GetNumRows(),
		batchSize: batchSize,
	}, nil
}

// Rows returns the row count recorded in the file footer.
func (s *Source) Rows() int64 {
	return s.pr.GetNumRows()
}

// Next returns the next tile, or nil once the file is exhausted.
func (s *Source) Next() (*Tile, error) {
	if s.pos >= len(s.batch) {
		if s.remaining == 0 {
			return nil, nil
		}
		n := int64(s.batchSize)
		if n > s.remaining {
			n = s.remaining
		}
		s.batch = make([]Tile, n)
		if err := s.pr.Read(&s.batch); err != nil {
			return nil, eris.Wrap(err, "ookla: read parquet rows")
		}
		s.remaining -= n
		s.pos = 0
		if len(s.batch) == 0 {
			return nil, nil
		}
	}
	t := &s.batch[s.pos]
	s.pos++
	return t, nil
}

// Close releases the reader and the file.
func (s *Source) Close() error {
	s.pr.ReadStop()
	return s.file.Close()
}
