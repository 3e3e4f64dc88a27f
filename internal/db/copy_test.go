package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyStream_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"cell_towers", "bb_towers"}, []string{"lat"}).WillReturnError(fmt.Errorf("permission denied"))

	next := func() ([]any, error) { return nil, nil }
	_, err = CopyStream(context.Background(), mock, Table{Schema: "cell_towers", Name: "bb_towers"}, []string{"lat"}, next)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO cell_towers.bb_towers")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyStream_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"ookla_tiles", "raw"}, []string{"quadkey"}).WillReturnResult(2)

	rows := [][]any{{"0123"}, {"0124"}}
	i := 0
	next := func() ([]any, error) {
		if i >= len(rows) {
			return nil, nil
		}
		i++
		return rows[i-1], nil
	}

	n, err := CopyStream(context.Background(), mock, Table{Schema: "ookla_tiles", Name: "raw"}, []string{"quadkey"}, next)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
