package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/connectivity-cli/internal/db"
	"github.com/sells-group/connectivity-cli/internal/export"
	"github.com/sells-group/connectivity-cli/internal/spatialdb"
	"github.com/sells-group/connectivity-cli/internal/towers"
)

// Stage names.
const (
	StageLoadTowers    = "load_towers"
	StageNormalizeGeom = "normalize_geometry"
	StageSubsetTiles   = "subset_tiles"
	StageClassifyRadio = "classify_radio"
	StageAggregate     = "aggregate"
	StageExport        = "export"
)

// DefaultStages returns the ETL stages in execution order.
func DefaultStages() []Stage {
	return []Stage{
		loadTowers{},
		normalizeGeometry{},
		subsetTiles{},
		classifyRadio{},
		aggregate{},
		exportDocuments{},
	}
}

type loadTowers struct{}

func (loadTowers) Name() string        { return StageLoadTowers }
func (loadTowers) DependsOn() []string { return nil }

func (loadTowers) Run(ctx context.Context, env *Env) (Result, error) {
	o := env.Opts
	path, err := filepath.Abs(o.TowersCSV)
	if err != nil {
		return Result{}, eris.Wrapf(err, "pipeline: resolve %s", o.TowersCSV)
	}
	if _, err := os.Stat(path); err != nil {
		return Result{}, eris.Wrapf(ErrPrecondition,
			"towers CSV not found at %s: mount the directory that contains it or pass --towers-csv", path)
	}
	if err := towers.CheckFile(path); err != nil {
		return Result{}, eris.Wrap(err, "pipeline: towers CSV")
	}

	if err := env.Store.Exec(ctx, PrerequisitesSQL(o)); err != nil {
		return Result{}, eris.Wrap(err, "pipeline: prerequisites")
	}

	src := spatialdb.CSVSource{Path: path, Table: o.Towers, Columns: towers.Columns()}

	if o.ImportMode == ImportGDAL {
		if env.Converter == nil {
			return Result{}, eris.New("pipeline: gdal import mode needs an ogr2ogr converter")
		}
		if err := env.Store.Exec(ctx, "DROP TABLE IF EXISTS "+o.Towers.Ident()+";"); err != nil {
			return Result{}, eris.Wrapf(err, "pipeline: drop %s", o.Towers)
		}
		loaded, err := towers.FileColumns(path)
		if err != nil {
			return Result{}, eris.Wrap(err, "pipeline: towers CSV")
		}
		src.Columns = loaded
		if err := env.Converter.ImportCSV(ctx, src); err != nil {
			return Result{}, err
		}
		if sql := RenameTowerColumnsSQL(o.Towers, loaded); sql != "" {
			if err := env.Store.Exec(ctx, sql); err != nil {
				return Result{}, eris.Wrapf(err, "pipeline: rename aliased columns of %s", o.Towers)
			}
		}
		rows, err := countRows(ctx, env.Store, o.Towers)
		if err != nil {
			return Result{}, err
		}
		return completed(rows), nil
	}

	if err := env.Store.Exec(ctx, CreateTowersSQL(o.Towers, src.Columns)); err != nil {
		return Result{}, eris.Wrapf(err, "pipeline: create %s", o.Towers)
	}
	rows, err := env.Store.CopyCSV(ctx, src)
	if err != nil {
		return Result{}, eris.Wrapf(err, "pipeline: load %s", path)
	}
	return completed(rows), nil
}

type normalizeGeometry struct{}

func (normalizeGeometry) Name() string        { return StageNormalizeGeom }
func (normalizeGeometry) DependsOn() []string { return []string{StageLoadTowers} }

func (normalizeGeometry) Run(ctx context.Context, env *Env) (Result, error) {
	t := env.Opts.Towers
	if err := env.Store.Exec(ctx, NormalizeGeometrySQL(t)); err != nil {
		return Result{}, eris.Wrapf(err, "pipeline: normalize geometry of %s", t)
	}
	return completed(0), nil
}

type subsetTiles struct{}

func (subsetTiles) Name() string        { return StageSubsetTiles }
func (subsetTiles) DependsOn() []string { return nil }

func (subsetTiles) Run(ctx context.Context, env *Env) (Result, error) {
	o := env.Opts
	ok, err := env.Store.TableExists(ctx, o.Tiles)
	if err != nil {
		return Result{}, eris.Wrapf(err, "pipeline: check %s", o.Tiles)
	}
	if !ok {
		return skipped("speed-tile base table " + o.Tiles.String() +
			" not found: load tiles first (connectivity-cli tiles load) or set tables.tiles_schema/tables.tiles_table"), nil
	}

	if err := env.Store.Exec(ctx, SubsetSQL(o)); err != nil {
		return Result{}, eris.Wrapf(err, "pipeline: build subset %s", o.TilesSubset)
	}
	rows, err := countRows(ctx, env.Store, o.TilesSubset)
	if err != nil {
		return Result{}, err
	}
	return completed(rows), nil
}

type classifyRadio struct{}

func (classifyRadio) Name() string        { return StageClassifyRadio }
func (classifyRadio) DependsOn() []string { return []string{StageNormalizeGeom} }

func (classifyRadio) Run(ctx context.Context, env *Env) (Result, error) {
	if err := env.Store.Exec(ctx, ClassifySQL(env.Opts.Towers, env.Radio)); err != nil {
		return Result{}, eris.Wrapf(err, "pipeline: classify radio in %s", env.Opts.Towers)
	}
	return completed(0), nil
}

type aggregate struct{}

func (aggregate) Name() string { return StageAggregate }
func (aggregate) DependsOn() []string {
	return []string{StageNormalizeGeom, StageSubsetTiles, StageClassifyRadio}
}

func (aggregate) Run(ctx context.Context, env *Env) (Result, error) {
	o := env.Opts
	ok, err := env.Store.TableExists(ctx, o.TilesSubset)
	if err != nil {
		return Result{}, eris.Wrapf(err, "pipeline: check %s", o.TilesSubset)
	}
	if !ok {
		return skipped("region subset " + o.TilesSubset.String() + " not found"), nil
	}

	for _, stmt := range AggregateSQL(o) {
		if err := env.Store.Exec(ctx, stmt); err != nil {
			return Result{}, eris.Wrap(err, "pipeline: aggregate")
		}
	}
	rows, err := countRows(ctx, env.Store, o.TowersPerTile())
	if err != nil {
		return Result{}, err
	}
	return completed(rows), nil
}

type exportDocuments struct{}

func (exportDocuments) Name() string        { return StageExport }
func (exportDocuments) DependsOn() []string { return []string{StageAggregate} }

type document struct {
	source db.Table
	path   string
}

func (exportDocuments) Run(ctx context.Context, env *Env) (Result, error) {
	o := env.Opts
	var docs []document
	if o.ExportAll {
		docs = append(docs, document{source: o.TowersPerTile(), path: o.AllPath()})
	}
	for _, c := range o.Categories {
		docs = append(docs, document{source: o.Summary(c), path: o.CategoryPath(c)})
	}

	var written []string
	var missing []string
	for _, d := range docs {
		ok, err := env.Store.TableExists(ctx, d.source)
		if err != nil {
			return Result{}, eris.Wrapf(err, "pipeline: check %s", d.source)
		}
		if !ok {
			missing = append(missing, d.source.String())
			continue
		}

		raw, err := env.Store.QueryText(ctx, ExportSQL(o, d.source))
		if err != nil {
			return Result{}, eris.Wrapf(err, "pipeline: render %s", d.source)
		}
		if err := export.WriteFile(d.path, []byte(raw)); err != nil {
			return Result{}, err
		}
		written = append(written, d.path)
	}

	if len(written) == 0 {
		return skipped("no source tables: " + strings.Join(missing, ", ")), nil
	}
	return completed(int64(len(written)), written...), nil
}

func countRows(ctx context.Context, store spatialdb.Executor, t db.Table) (int64, error) {
	out, err := store.QueryText(ctx, CountSQL(t))
	if err != nil {
		return 0, eris.Wrapf(err, "pipeline: count %s", t)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(out, 10, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "pipeline: parse row count of %s", t)
	}
	return n, nil
}
