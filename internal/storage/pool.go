// Package storage is the PostgreSQL execution ledger for Giron.
//
// It manages connection pooling via pgxpool, a dedicated connection for
// LISTEN/NOTIFY, and the query methods for rooms, messages, agents,
// discussions, and turns. The ledger is the single source of truth for
// discussion lifecycle state; "append turn + advance cursor" is exposed
// as one atomic unit so no reader ever observes one without the other.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"go.opentelemetry.io/otel/metric"

	"github.com/giron-ai/giron/internal/telemetry"
)

// DB wraps a pgxpool.Pool for normal queries and a dedicated pgx.Conn
// for LISTEN/NOTIFY (which needs a direct, non-pooled connection).
type DB struct {
	pool       *pgxpool.Pool
	notifyConn *pgx.Conn
	logger     *slog.Logger
}

// New creates a new DB with a connection pool.
// notifyDSN may be empty when LISTEN support is not needed.
func New(ctx context.Context, poolDSN, notifyDSN string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(poolDSN)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}

	// Register pgvector types on each new connection so message
	// embeddings can be encoded. Best-effort: if the vector extension
	// does not exist yet (pool startup before migrations), later
	// connections succeed once it does.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
			logger.Debug("storage: pgvector types not registered (extension may not exist yet)", "error", err)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	var notifyConn *pgx.Conn
	if notifyDSN != "" {
		notifyConn, err = pgx.Connect(ctx, notifyDSN)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("storage: connect notify: %w", err)
		}
	}

	return &DB{
		pool:       pool,
		notifyConn: notifyConn,
		logger:     logger,
	}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// HasNotifyConn reports whether a dedicated LISTEN/NOTIFY connection was
// configured. The SSE broker is disabled without one.
func (db *DB) HasNotifyConn() bool {
	return db.notifyConn != nil
}

// RegisterPoolMetrics exports pgxpool statistics as OTEL gauges.
func (db *DB) RegisterPoolMetrics() {
	meter := telemetry.Meter("giron/storage")

	totalConns, _ := meter.Int64ObservableGauge("giron.db.pool.total_conns",
		metric.WithDescription("Total connections in the pool"))
	idleConns, _ := meter.Int64ObservableGauge("giron.db.pool.idle_conns",
		metric.WithDescription("Idle connections in the pool"))
	acquiredConns, _ := meter.Int64ObservableGauge("giron.db.pool.acquired_conns",
		metric.WithDescription("Connections currently checked out"))

	_, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stat := db.pool.Stat()
		o.ObserveInt64(totalConns, int64(stat.TotalConns()))
		o.ObserveInt64(idleConns, int64(stat.IdleConns()))
		o.ObserveInt64(acquiredConns, int64(stat.AcquiredConns()))
		return nil
	}, totalConns, idleConns, acquiredConns)
	if err != nil {
		db.logger.Warn("storage: pool metrics registration failed", "error", err)
	}
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool and notify connection.
func (db *DB) Close(ctx context.Context) {
	db.pool.Close()
	if db.notifyConn != nil {
		if err := db.notifyConn.Close(ctx); err != nil {
			db.logger.Warn("storage: close notify connection", "error", err)
		}
	}
}
