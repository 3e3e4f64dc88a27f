// Package ogr imports tabular files into PostGIS through GDAL's ogr2ogr.
package ogr

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/connectivity-cli/internal/db"
	"github.com/sells-group/connectivity-cli/internal/spatialdb"
)

// Converter loads a CSV file into a table, creating the table and a point
// geometry column named wkb_geometry from the lon/lat fields.
type Converter interface {
	ImportCSV(ctx context.Context, src spatialdb.CSVSource) error
}

// OGR2OGR is a Converter backed by the ogr2ogr binary.
type OGR2OGR struct {
	binPath string
	conn    db.ConnInfo
	log     *zap.Logger
}

// New creates an OGR2OGR converter. If binPath is empty, "ogr2ogr" is used.
func New(binPath string, conn db.ConnInfo) *OGR2OGR {
	if binPath == "" {
		binPath = "ogr2ogr"
	}
	return &OGR2OGR{
		binPath: binPath,
		conn:    conn,
		log:     zap.L().With(zap.String("component", "ogr.ogr2ogr")),
	}
}

// Args builds the ogr2ogr argument list for src. The password is not part
// of it.
func (o *OGR2OGR) Args(src spatialdb.CSVSource) []string {
	args := []string{
		"-f", "PostgreSQL",
		"PG:" + o.conn.Keywords(),
		src.Path,
		"-nln", src.Table.String(),
		"-overwrite",
		"-oo", "X_POSSIBLE_NAMES=lon*,lng",
		"-oo", "Y_POSSIBLE_NAMES=lat*",
		"-oo", "KEEP_GEOM_COLUMNS=YES",
	}
	if types := ColumnTypes(src.Columns); types != "" {
		args = append(args, "-oo", "COLUMN_TYPES="+types)
	}
	return append(args, "-a_srs", "EPSG:4326", "-lco", "FID=ogc_fid")
}

// ImportCSV runs ogr2ogr for src. A non-zero exit is returned as an error
// carrying the tool's stderr.
func (o *OGR2OGR) ImportCSV(ctx context.Context, src spatialdb.CSVSource) error {
	cmd := exec.CommandContext(ctx, o.binPath, o.Args(src)...)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+o.conn.Password)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	o.log.Info("importing with ogr2ogr",
		zap.String("file", src.Path),
		zap.String("table", src.Table.String()),
	)
	if err := cmd.Run(); err != nil {
		return eris.Wrapf(err, "ogr: ogr2ogr import of %s failed: %s", src.Path, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// ColumnTypes renders the CSV driver's COLUMN_TYPES open option,
// e.g. "lat=Real,mcc=Integer,radio=String".
func ColumnTypes(cols []db.Column) string {
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, c.Name+"="+fieldType(c.Type))
	}
	return strings.Join(parts, ",")
}

func fieldType(sqlType string) string {
	switch strings.ToLower(sqlType) {
	case "double precision", "real", "numeric":
		return "Real"
	case "integer", "int", "smallint":
		return "Integer"
	case "bigint":
		return "Integer64"
	default:
		return "String"
	}
}
