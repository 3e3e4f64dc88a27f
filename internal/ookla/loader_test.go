package ookla

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/sells-group/connectivity-cli/internal/db"
	"github.com/sells-group/connectivity-cli/internal/geo"
)

var (
	tilesTable = db.Table{Schema: "ookla_tiles", Name: "raw_mobile_q1_2024"}
	barbados   = geo.BBox{MinLat: 13.03, MinLon: -59.95, MaxLat: 13.40, MaxLon: -59.35}
)

func strp(s string) *string { return &s }
func intp(v int64) *int64   { return &v }

func tile(quadkey, wktText string, down, up int64) Tile {
	return Tile{
		Quadkey:  strp(quadkey),
		Tile:     strp(wktText),
		AvgDKbps: intp(down),
		AvgUKbps: intp(up),
		AvgLatMs: intp(20),
		Tests:    intp(5),
		Devices:  intp(3),
	}
}

func writeParquet(t *testing.T, tiles []Tile) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiles.parquet")

	fw, err := local.NewLocalFileWriter(path)
	require.NoError(t, err)
	pw, err := writer.NewParquetWriter(fw, new(Tile), 1)
	require.NoError(t, err)
	for i := range tiles {
		require.NoError(t, pw.Write(tiles[i]))
	}
	require.NoError(t, pw.WriteStop())
	require.NoError(t, fw.Close())
	return path
}

func sampleTiles() []Tile {
	return []Tile{
		tile("0321", "POLYGON((-59.6 13.1, -59.59 13.1, -59.59 13.11, -59.6 13.11, -59.6 13.1))", 25000, 8000),
		tile("0322", "POLYGON((-59.5 13.2, -59.49 13.2, -59.49 13.21, -59.5 13.21, -59.5 13.2))", 40000, 12000),
		tile("1200", "POLYGON((2.3 48.8, 2.31 48.8, 2.31 48.81, 2.3 48.81, 2.3 48.8))", 90000, 30000),
		tile("9999", "not wkt", 1, 1),
	}
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestSource_ReadsAllRowsInBatches(t *testing.T) {
	path := writeParquet(t, sampleTiles())

	src, err := Open(path, 3)
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, int64(4), src.Rows())

	var quadkeys []string
	for {
		tl, err := src.Next()
		require.NoError(t, err)
		if tl == nil {
			break
		}
		quadkeys = append(quadkeys, *tl.Quadkey)
	}
	assert.Equal(t, []string{"0321", "0322", "1200", "9999"}, quadkeys)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.parquet"), 10)
	assert.Error(t, err)
}

func TestInRegion(t *testing.T) {
	tiles := sampleTiles()

	ok, err := InRegion(&tiles[0], barbados)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = InRegion(&tiles[2], barbados)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = InRegion(&tiles[3], barbados)
	assert.Error(t, err)

	_, err = InRegion(&Tile{}, barbados)
	assert.Error(t, err)
}

func TestCreateTableSQL(t *testing.T) {
	sql := CreateTableSQL(tilesTable, "ogc_fid")
	assert.Contains(t, sql, `CREATE SCHEMA IF NOT EXISTS "ookla_tiles"`)
	assert.Contains(t, sql, `DROP TABLE IF EXISTS "ookla_tiles"."raw_mobile_q1_2024"`)
	assert.Contains(t, sql, `"ogc_fid" serial PRIMARY KEY`)
	assert.Contains(t, sql, `"tile" text`)
	assert.Contains(t, sql, `"avg_d_kbps" bigint`)
}

func TestLoad_RegionOnly(t *testing.T) {
	path := writeParquet(t, sampleTiles())
	mock := newMock(t)

	mock.ExpectExec(CreateTableSQL(tilesTable, "ogc_fid")).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"ookla_tiles", "raw_mobile_q1_2024"}, db.ColumnNames(Columns)).WillReturnResult(2)

	region := barbados
	stats, err := Load(context.Background(), mock, Options{Path: path, Table: tilesTable, Region: &region, BatchSize: 2})
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.Expected)
	assert.Equal(t, int64(4), stats.Read)
	assert.Equal(t, int64(2), stats.Loaded)
	assert.Equal(t, int64(1), stats.Filtered)
	assert.Equal(t, int64(1), stats.BadWKT)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_AllTiles(t *testing.T) {
	path := writeParquet(t, sampleTiles())
	mock := newMock(t)

	mock.ExpectExec(CreateTableSQL(tilesTable, "ogc_fid")).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"ookla_tiles", "raw_mobile_q1_2024"}, db.ColumnNames(Columns)).WillReturnResult(4)

	stats, err := Load(context.Background(), mock, Options{Path: path, Table: tilesTable})
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Expected)
	assert.Equal(t, int64(4), stats.Read)
	assert.Equal(t, int64(4), stats.Loaded)
	assert.Zero(t, stats.Filtered)
}

func TestLoad_CreateFails(t *testing.T) {
	path := writeParquet(t, sampleTiles())
	mock := newMock(t)

	mock.ExpectExec(CreateTableSQL(tilesTable, "ogc_fid")).WillReturnError(errors.New("permission denied"))

	_, err := Load(context.Background(), mock, Options{Path: path, Table: tilesTable})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}
