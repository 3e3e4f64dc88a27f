package ogr

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/connectivity-cli/internal/db"
	"github.com/sells-group/connectivity-cli/internal/spatialdb"
)

var testConn = db.ConnInfo{Host: "db", Port: 5432, Name: "geodb", User: "admin", Password: "s3cret"}

func testSource() spatialdb.CSVSource {
	return spatialdb.CSVSource{
		Path:  "/data/towers.csv",
		Table: db.Table{Schema: "cell_towers", Name: "bb_towers"},
		Columns: []db.Column{
			{Name: "lat", Type: "double precision"},
			{Name: "cellid", Type: "bigint"},
			{Name: "mcc", Type: "integer"},
			{Name: "radio", Type: "text"},
		},
	}
}

func TestArgs(t *testing.T) {
	o := New("", testConn)
	args := o.Args(testSource())

	assert.Equal(t, []string{
		"-f", "PostgreSQL",
		"PG:host=db port=5432 dbname=geodb user=admin",
		"/data/towers.csv",
		"-nln", "cell_towers.bb_towers",
		"-overwrite",
		"-oo", "X_POSSIBLE_NAMES=lon*,lng",
		"-oo", "Y_POSSIBLE_NAMES=lat*",
		"-oo", "KEEP_GEOM_COLUMNS=YES",
		"-oo", "COLUMN_TYPES=lat=Real,cellid=Integer64,mcc=Integer,radio=String",
		"-a_srs", "EPSG:4326",
		"-lco", "FID=ogc_fid",
	}, args)
	assert.NotContains(t, strings.Join(args, " "), "s3cret")
}

func fakeOGR(t *testing.T, code string) (bin, record string) {
	t.Helper()
	dir := t.TempDir()
	record = filepath.Join(dir, "record")
	bin = filepath.Join(dir, "ogr2ogr")
	script := "#!/bin/sh\n" +
		"printf '%s\\n' \"$@\" > " + record + ".args\n" +
		"printf '%s' \"$PGPASSWORD\" > " + record + ".pw\n" +
		"echo 'ERROR 1: relation does not exist' >&2\n" +
		"exit " + code + "\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0755))
	return bin, record
}

func TestImportCSV(t *testing.T) {
	bin, record := fakeOGR(t, "0")
	o := New(bin, testConn)

	require.NoError(t, o.ImportCSV(context.Background(), testSource()))

	args, err := os.ReadFile(record + ".args")
	require.NoError(t, err)
	assert.Contains(t, string(args), "-nln\ncell_towers.bb_towers\n")

	pw, err := os.ReadFile(record + ".pw")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", string(pw))
}

func TestImportCSV_Failure(t *testing.T) {
	bin, _ := fakeOGR(t, "1")
	o := New(bin, testConn)

	err := o.ImportCSV(context.Background(), testSource())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relation does not exist")
}

func TestImportCSV_MissingBinary(t *testing.T) {
	o := New(filepath.Join(t.TempDir(), "nope"), testConn)
	assert.Error(t, o.ImportCSV(context.Background(), testSource()))
}
