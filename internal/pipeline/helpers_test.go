package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/connectivity-cli/internal/db"
	"github.com/sells-group/connectivity-cli/internal/geo"
	"github.com/sells-group/connectivity-cli/internal/radio"
	"github.com/sells-group/connectivity-cli/internal/spatialdb"
	"github.com/sells-group/connectivity-cli/internal/spatialdb/spatialdbtest"
)

const towersHeader = "lat,lon,mcc,mnc,lac,cellid,averagesig,range,samples,changeable,radio,rnc,cid,tac,sid,nid,bid"

func testOptions(dir string) Options {
	return Options{
		Towers:         db.Table{Schema: "cell_towers", Name: "bb_towers"},
		Tiles:          db.Table{Schema: "ookla_tiles", Name: "raw_mobile_q1_2024"},
		TilesSubset:    db.Table{Schema: "ookla_tiles", Name: "raw_mobile_q1_2024_bb"},
		TileIDColumn:   "ogc_fid",
		AnalysisSchema: "analysis",
		Region:         geo.BBox{MinLat: 13.03, MinLon: -59.95, MaxLat: 13.40, MaxLon: -59.35},
		Categories:     []string{"LTE", "5G"},
		TowersCSV:      filepath.Join(dir, "towers.csv"),
		ImportMode:     ImportCopy,
		OutputDir:      filepath.Join(dir, "out"),
		AllFile:        "towers_per_tile.geojson",
		CategoryFile:   "towers_per_tile_%s.geojson",
		ExportAll:      true,
	}
}

func writeTowersCSV(t *testing.T, path string, rows ...string) {
	t.Helper()
	writeTowersCSVWithHeader(t, path, towersHeader, rows...)
}

func writeTowersCSVWithHeader(t *testing.T, path, header string, rows ...string) {
	t.Helper()
	body := header + "\n" + strings.Join(rows, "\n")
	require.NoError(t, os.WriteFile(path, []byte(body+"\n"), 0o644))
}

func newEnv(t *testing.T, store spatialdb.Executor) *Env {
	t.Helper()
	dir := t.TempDir()
	opts := testOptions(dir)
	writeTowersCSV(t, opts.TowersCSV,
		"13.1,-59.6,342,1,10,1001,-80,500,4,1,LTE,,,,,,",
		"13.2,-59.5,342,1,10,1002,-70,500,4,1,NR,,,,,,",
	)
	return &Env{Store: store, Radio: radio.Default(), Opts: opts}
}

// answer returns a QueryFunc that reports counts as "3" and renders every
// export query as doc.
func answer(doc string) func(string) (string, error) {
	return func(sql string) (string, error) {
		if strings.HasPrefix(sql, "SELECT count(*)") {
			return "3", nil
		}
		return doc, nil
	}
}

func newFake(existing ...db.Table) *spatialdbtest.Executor {
	return spatialdbtest.New(existing...)
}

type mockConverter struct {
	mock.Mock
	store *spatialdbtest.Executor
}

func (m *mockConverter) ImportCSV(ctx context.Context, src spatialdb.CSVSource) error {
	args := m.Called(ctx, src)
	if args.Error(0) == nil && m.store != nil {
		_ = m.store.Exec(ctx, "CREATE TABLE "+src.Table.Ident()+" ("+db.ColumnDefs(src.Columns)+")")
	}
	return args.Error(0)
}

type mockObserver struct {
	mock.Mock
}

func (m *mockObserver) StageStarted(_ context.Context, _ uuid.UUID, stage string) {
	m.Called(stage)
}

func (m *mockObserver) StageFinished(_ context.Context, _ uuid.UUID, res Result) {
	m.Called(res.Stage, res.Outcome)
}
