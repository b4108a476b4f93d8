//go:build integration

package database_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/database"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/testhelpers"
)

func countUnits(t *testing.T, ctx context.Context, q database.Querier, symbol string) int {
	t.Helper()
	var n int
	require.NoError(t, q.QueryRow(ctx, `SELECT COUNT(*) FROM unit WHERE symbol = $1`, symbol).Scan(&n))
	return n
}

func TestRunInSavepoint_RollsBackOnlyTheFailedSavepoint(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()
	errStop := errors.New("stop")

	err := testDB.DB.RunInTx(ctx, func(ctx context.Context) error {
		q, err := database.QuerierFromContext(ctx)
		require.NoError(t, err)

		require.NoError(t, testDB.DB.RunInSavepoint(ctx, func(ctx context.Context) error {
			q, _ := database.QuerierFromContext(ctx)
			_, err := q.Exec(ctx, `INSERT INTO unit (symbol) VALUES ('sp-kept')`)
			return err
		}))

		err = testDB.DB.RunInSavepoint(ctx, func(ctx context.Context) error {
			q, _ := database.QuerierFromContext(ctx)
			if _, err := q.Exec(ctx, `INSERT INTO unit (symbol) VALUES ('sp-dropped')`); err != nil {
				return err
			}
			return errStop
		})
		assert.ErrorIs(t, err, errStop)

		assert.Equal(t, 1, countUnits(t, ctx, q, "sp-kept"))
		assert.Equal(t, 0, countUnits(t, ctx, q, "sp-dropped"))

		// Roll the outer transaction back so the shared database stays clean.
		return errStop
	})
	assert.ErrorIs(t, err, errStop)

	assert.Equal(t, 0, countUnits(t, ctx, testDB.DB, "sp-kept"))
}

func TestRunInTx_RejectsNesting(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	err := testDB.DB.RunInTx(ctx, func(ctx context.Context) error {
		return testDB.DB.RunInTx(ctx, func(context.Context) error { return nil })
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")
}
