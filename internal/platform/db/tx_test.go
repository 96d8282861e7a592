package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

func TestRetrySerializableRetriesOnce(t *testing.T) {
	calls := 0
	err := RetrySerializable(context.Background(), func() error {
		calls++
		if calls == 1 {
			return fmt.Errorf("platform/db: commit tx: %w", &pgconn.PgError{Code: "40001"})
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestRetrySerializableReturnsDomainErrorOfRetry(t *testing.T) {
	calls := 0
	err := RetrySerializable(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &pgconn.PgError{Code: "40P01"}
		}
		return shared.ErrInvalidState
	})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Equal(t, 2, calls)
}

func TestRetrySerializableGivesUp(t *testing.T) {
	calls := 0
	err := RetrySerializable(context.Background(), func() error {
		calls++
		return &pgconn.PgError{Code: "40001"}
	})
	require.ErrorIs(t, err, ErrTxConflict)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, lockingTxAttempts, calls)
}

func TestRetrySerializableLeavesOtherErrors(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := RetrySerializable(context.Background(), func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)

	calls = 0
	err = RetrySerializable(context.Background(), func() error {
		calls++
		return &pgconn.PgError{Code: "23505"}
	})
	require.False(t, IsSerializationFailure(err))
	require.Equal(t, 1, calls)
}

func TestRetrySerializableStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := RetrySerializable(ctx, func() error {
		calls++
		return &pgconn.PgError{Code: "40001"}
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}
