package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sells-group/connectivity-cli/internal/db"
	"github.com/sells-group/connectivity-cli/internal/geo"
	"github.com/sells-group/connectivity-cli/internal/ogr"
	"github.com/sells-group/connectivity-cli/internal/radio"
	"github.com/sells-group/connectivity-cli/internal/spatialdb"
)

// Import modes for the tower load.
const (
	ImportCopy = "copy"
	ImportGDAL = "gdal"
)

// Options is the immutable run configuration shared by every stage.
type Options struct {
	Towers         db.Table
	Tiles          db.Table
	TilesSubset    db.Table
	TileIDColumn   string
	AnalysisSchema string
	Region         geo.BBox

	// Categories of interest, e.g. LTE and 5G. Each gets its own count,
	// distance and summary tables and its own export document.
	Categories []string

	TowersCSV  string
	ImportMode string

	OutputDir    string
	AllFile      string
	CategoryFile string // contains one %s for the category slug
	ExportAll    bool
}

// Env is what a stage runs against.
type Env struct {
	Store     spatialdb.Executor
	Converter ogr.Converter
	Radio     *radio.Classifier
	Opts      Options
}

// Slug turns a category into the suffix used in table, column and file
// names: lower case with every non-alphanumeric replaced by "_".
func Slug(category string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(category) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (o Options) analysis(name string) db.Table {
	return db.Table{Schema: o.AnalysisSchema, Name: name}
}

// TowersPerTile is the all-towers count table.
func (o Options) TowersPerTile() db.Table { return o.analysis("towers_per_tile") }

// Centroids holds one centroid per subset tile.
func (o Options) Centroids() db.Table { return o.analysis("tile_centroids") }

// CategoryCounts is the per-category count table.
func (o Options) CategoryCounts(category string) db.Table {
	return o.analysis("towers_per_tile_" + Slug(category))
}

// NearestDistance is the per-category nearest-tower distance table.
func (o Options) NearestDistance(category string) db.Table {
	return o.analysis("nearest_" + Slug(category) + "_distance")
}

// Summary joins counts and distances for one category.
func (o Options) Summary(category string) db.Table {
	return o.analysis("tile_" + Slug(category) + "_summary")
}

// AllPath is the all-towers export file.
func (o Options) AllPath() string {
	return filepath.Join(o.OutputDir, o.AllFile)
}

// CategoryPath is the export file for category.
func (o Options) CategoryPath(category string) string {
	return filepath.Join(o.OutputDir, fmt.Sprintf(o.CategoryFile, Slug(category)))
}

// Tables lists every table the pipeline reads or writes, in stage order.
func (o Options) Tables() []db.Table {
	tables := []db.Table{o.Towers, o.Tiles, o.TilesSubset, o.TowersPerTile(), o.Centroids()}
	for _, c := range o.Categories {
		tables = append(tables, o.CategoryCounts(c), o.NearestDistance(c), o.Summary(c))
	}
	return tables
}
