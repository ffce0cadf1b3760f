package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Transient Postgres failures worth retrying. Everything else, including
// ErrStaleCursor, surfaces immediately.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// serialization_failure, deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// withRetry runs fn, re-running it on serialization or deadlock errors up
// to maxRetries extra attempts. The delay between attempts doubles each
// time, with jitter so competing transactions do not collide again in
// lockstep.
func withRetry(ctx context.Context, maxRetries int, delay time.Duration, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) || attempt == maxRetries {
			return err
		}
		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // backoff jitter, not a secret
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
}
