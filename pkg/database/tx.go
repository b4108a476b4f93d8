package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/apperrors"
)

type contextKey string

// TxScopeKey is the context key for storing the active transaction.
const TxScopeKey contextKey = "txScope"

// Querier is the subset of pgx.Tx used by repositories.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxScope carries the transaction (or savepoint) every repository call in a
// run must share. Depth is 0 for the outer transaction.
type TxScope struct {
	Tx    pgx.Tx
	Depth int
}

// GetTxScope retrieves the transaction scope from context.
// Returns nil and false if not present.
func GetTxScope(ctx context.Context) (*TxScope, bool) {
	scope, ok := ctx.Value(TxScopeKey).(*TxScope)
	return scope, ok && scope != nil && scope.Tx != nil
}

// SetTxScope stores the transaction scope in context.
func SetTxScope(ctx context.Context, scope *TxScope) context.Context {
	return context.WithValue(ctx, TxScopeKey, scope)
}

// TxRunner runs work inside a transaction placed in context.
// Import and canonicalization each execute as one transaction; import rows
// additionally run in savepoints so a failing row is rolled back alone.
type TxRunner interface {
	// RunInTx begins a transaction, commits it when fn returns nil and rolls it
	// back otherwise.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	// RunInSavepoint runs fn inside a savepoint of the transaction already in ctx.
	RunInSavepoint(ctx context.Context, fn func(ctx context.Context) error) error
}

var _ TxRunner = (*DB)(nil)

// RunInTx implements TxRunner on the pool.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := GetTxScope(ctx); ok {
		return errors.New("transaction already in progress")
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	return runScoped(ctx, &TxScope{Tx: tx}, fn)
}

// RunInSavepoint implements TxRunner. pgx maps a nested Begin to SAVEPOINT.
func (db *DB) RunInSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	return RunInSavepoint(ctx, fn)
}

// RunInSavepoint opens a savepoint on the transaction in ctx, independent of any pool.
func RunInSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	parent, ok := GetTxScope(ctx)
	if !ok {
		return apperrors.ErrNoTxScope
	}

	sp, err := parent.Tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	return runScoped(ctx, &TxScope{Tx: sp, Depth: parent.Depth + 1}, fn)
}

func runScoped(ctx context.Context, scope *TxScope, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			_ = scope.Tx.Rollback(context.Background())
			panic(p)
		}
	}()

	if err := fn(SetTxScope(ctx, scope)); err != nil {
		// Rollback on a context that may already be cancelled still releases the conn.
		if rbErr := scope.Tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := scope.Tx.Commit(ctx); err != nil {
		if scope.Depth > 0 {
			return fmt.Errorf("failed to release savepoint: %w", err)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// QuerierFromContext returns the transaction in ctx as a Querier.
func QuerierFromContext(ctx context.Context) (Querier, error) {
	scope, ok := GetTxScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTxScope
	}
	return scope.Tx, nil
}
