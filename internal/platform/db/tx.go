package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	lockingTxAttempts      = 3
)

// ErrTxConflict is returned once a transaction kept losing to concurrent writers.
var ErrTxConflict = fmt.Errorf("platform/db: concurrent update, retry later: %w", shared.ErrConflict)

// WithTx executes fn within a transaction using the RepeatableRead isolation level.
// The transaction is rolled back when fn returns an error.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return withTx(ctx, pool, pgx.RepeatableRead, fn)
}

// WithLockingTx executes fn within a ReadCommitted transaction meant for
// row-lock based workflows. Every statement after a lock wait sees the rows
// committed by the previous lock holder. Serialization failures and
// deadlocks are retried from the start.
func WithLockingTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return RetrySerializable(ctx, func() error {
		return withTx(ctx, pool, pgx.ReadCommitted, fn)
	})
}

// RetrySerializable runs attempt until it stops failing with a serialization
// failure or deadlock. ErrTxConflict is returned when every attempt lost.
func RetrySerializable(ctx context.Context, attempt func() error) error {
	for i := 0; i < lockingTxAttempts; i++ {
		err := attempt()
		if !IsSerializationFailure(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return ErrTxConflict
}

// IsSerializationFailure reports whether err is a Postgres error that is safe
// to retry with a fresh transaction.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
}

func withTx(ctx context.Context, pool *pgxpool.Pool, iso pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	if pool == nil {
		return fmt.Errorf("platform/db: pool not initialised")
	}
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}
