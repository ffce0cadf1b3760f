package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deadlockErr() error {
	return &pgconn.PgError{Code: "40P01"}
}

func TestWithRetryRecoversFromDeadlock(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return deadlockErr()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("column does not exist")
	calls := 0
	err := withRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls, "permanent errors must not be retried")
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return deadlockErr()
	})
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
}

func TestWithRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := withRetry(ctx, 5, 10*time.Millisecond, func() error {
		return deadlockErr()
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(&pgconn.PgError{Code: "40001"}))
	assert.True(t, isTransient(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, isTransient(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isTransient(errors.New("not a pg error")))
	assert.False(t, isTransient(ErrStaleCursor))
}
