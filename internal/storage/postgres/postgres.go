// Package postgres provides Postgres-backed persistence: run checkpoints and
// the run progress repository.
//
// Expected schema:
//
//	CREATE TABLE crawl_run_state (
//	    run_id   UUID PRIMARY KEY,
//	    state    JSONB NOT NULL,
//	    saved_at TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE crawl_runs (
//	    id          UUID PRIMARY KEY,
//	    started_at  TIMESTAMPTZ NOT NULL,
//	    finished_at TIMESTAMPTZ,
//	    status      TEXT NOT NULL,
//	    note        TEXT,
//	    succeeded   BIGINT NOT NULL DEFAULT 0,
//	    failed      BIGINT NOT NULL DEFAULT 0,
//	    retried     BIGINT NOT NULL DEFAULT 0,
//	    last_update TIMESTAMPTZ NOT NULL
//	);
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool the stores need; pgxmock satisfies it in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connect opens a pgx connection pool against dsn.
func Connect(ctx context.Context, dsn string, maxConns int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
