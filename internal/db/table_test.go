package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableIdent(t *testing.T) {
	tbl := Table{Schema: "cell_towers", Name: "bb_towers"}
	assert.Equal(t, `"cell_towers"."bb_towers"`, tbl.Ident())
	assert.Equal(t, "cell_towers.bb_towers", tbl.String())
}

func TestQuoteIdents(t *testing.T) {
	assert.Equal(t, `"lat", "lon", "range"`, QuoteIdents([]string{"lat", "lon", "range"}))
	assert.Equal(t, `"we""ird"`, QuoteIdent(`we"ird`))
}

func TestQuoteLiteral(t *testing.T) {
	assert.Equal(t, `'/data/o''brien.csv'`, QuoteLiteral("/data/o'brien.csv"))
}

func TestColumnDefs(t *testing.T) {
	cols := []Column{{Name: "lat", Type: "double precision"}, {Name: "radio", Type: "text"}}
	assert.Equal(t, []string{"lat", "radio"}, ColumnNames(cols))
	assert.Equal(t, "\"lat\" double precision,\n  \"radio\" text", ColumnDefs(cols))
}
