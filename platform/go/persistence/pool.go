package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig describes the pgxpool shared by the dapp store and the lapsed-user ledger.
type PoolConfig struct {
	ConnString string
	// ApplicationName shows up in pg_stat_activity so worker and CLI sessions can be told apart.
	ApplicationName string
	// MaxConns bounds the pool. Reconciliation fans out per owner, so size it from that concurrency.
	MaxConns int32
	// ConnectAttempts is how many times the initial ping is tried; values below 1 mean once.
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

// NewPool opens the pool and waits for Postgres to answer a ping. A database that
// is still starting (compose, testcontainers, a cold Cloud SQL proxy) gets
// ConnectAttempts tries before the error is returned.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("conn string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("parse pgx pool config: %w", err)
	}
	if cfg.ApplicationName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	if err := waitForPing(ctx, pool, cfg.ConnectAttempts, cfg.ConnectBackoff); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func waitForPing(ctx context.Context, pool *pgxpool.Pool, attempts int, wait time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	if wait <= 0 {
		wait = time.Second
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(wait), uint64(attempts-1)), ctx)
	return backoff.Retry(func() error { return pool.Ping(ctx) }, b)
}

// ClosePool shuts down the pool; safe to call with nil.
func ClosePool(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}
