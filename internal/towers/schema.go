// Package towers defines the cell tower CSV layout loaded into PostGIS and
// the helpers that validate and filter tower CSV files.
package towers

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/connectivity-cli/internal/db"
)

// Field is a tower table column with the header names that may stand for it.
type Field struct {
	db.Column
	Aliases []string
}

// Fields is the fixed column order of the tower table. CSV headers must
// line up with it position by position.
var Fields = []Field{
	{Column: db.Column{Name: "lat", Type: "double precision"}, Aliases: []string{"latitude"}},
	{Column: db.Column{Name: "lon", Type: "double precision"}, Aliases: []string{"longitude", "lng"}},
	{Column: db.Column{Name: "mcc", Type: "integer"}},
	{Column: db.Column{Name: "mnc", Type: "integer"}, Aliases: []string{"net"}},
	{Column: db.Column{Name: "lac", Type: "integer"}, Aliases: []string{"area"}},
	{Column: db.Column{Name: "cellid", Type: "bigint"}, Aliases: []string{"cell"}},
	{Column: db.Column{Name: "averagesig", Type: "integer"}, Aliases: []string{"averagesignalstrength", "averagesignal"}},
	{Column: db.Column{Name: "range", Type: "integer"}},
	{Column: db.Column{Name: "samples", Type: "integer"}},
	{Column: db.Column{Name: "changeable", Type: "integer"}},
	{Column: db.Column{Name: "radio", Type: "text"}},
	{Column: db.Column{Name: "rnc", Type: "integer"}},
	{Column: db.Column{Name: "cid", Type: "integer"}},
	{Column: db.Column{Name: "tac", Type: "integer"}},
	{Column: db.Column{Name: "sid", Type: "integer"}},
	{Column: db.Column{Name: "nid", Type: "integer"}},
	{Column: db.Column{Name: "bid", Type: "integer"}},
}

// Columns returns the tower table columns in load order.
func Columns() []db.Column {
	cols := make([]db.Column, len(Fields))
	for i, f := range Fields {
		cols[i] = f.Column
	}
	return cols
}

// matches reports whether a header cell names the field.
func (f Field) matches(header string) bool {
	h := strings.ToLower(strings.TrimSpace(header))
	if h == f.Name {
		return true
	}
	for _, a := range f.Aliases {
		if h == a {
			return true
		}
	}
	return false
}

// ErrHeaderMismatch is returned when a CSV header does not line up with Fields.
var ErrHeaderMismatch = errors.New("towers: csv header does not match the tower column list")

// CheckHeader validates a header row against Fields.
func CheckHeader(header []string) error {
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	if len(header) != len(Fields) {
		return eris.Wrapf(ErrHeaderMismatch, "got %d columns, want %d (%s)",
			len(header), len(Fields), strings.Join(db.ColumnNames(Columns()), ","))
	}
	for i, f := range Fields {
		if !f.matches(header[i]) {
			return eris.Wrapf(ErrHeaderMismatch, "column %d is %q, want %q", i+1, header[i], f.Name)
		}
	}
	return nil
}

// CheckFile reads the header row of the CSV at path and validates it.
func CheckFile(path string) error {
	_, err := FileColumns(path)
	return err
}

// FileColumns validates the header of the CSV at path and returns the tower
// columns named the way the header names them, lower-cased. Loaders that
// take column names from the file create these, not the canonical ones.
func FileColumns(path string) ([]db.Column, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "towers: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	header, err := csv.NewReader(f).Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, eris.Wrapf(ErrHeaderMismatch, "%s is empty", path)
		}
		return nil, eris.Wrapf(err, "towers: read header of %s", path)
	}
	if err := CheckHeader(header); err != nil {
		return nil, err
	}

	cols := Columns()
	for i := range cols {
		cols[i].Name = strings.ToLower(strings.TrimSpace(header[i]))
	}
	return cols, nil
}
