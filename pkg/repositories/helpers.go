package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/database"
)

// querier returns the transaction in ctx. Every repository call runs inside
// the run's transaction; there is no autocommit path.
func querier(ctx context.Context) (database.Querier, error) {
	scope, ok := database.GetTxScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTxScope
	}
	return scope.Tx, nil
}

// wrapPgError maps constraint violations onto apperrors sentinels while
// keeping the driver error in the chain.
func wrapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%s: %w: %w", op, apperrors.ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
