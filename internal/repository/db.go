// Package repository persists resolution history and card definitions to
// Postgres. The server runs fine without it; callers hold nil repositories
// when no database is configured.
package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/openskirmish/skirmish-server-go/internal/config"
)

// DB wraps the pgx connection pool shared by all repositories.
type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewDB connects to Postgres using the given configuration and verifies the
// connection with a ping.
func NewDB(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if logger != nil {
		logger.Info("database connected",
			zap.String("database", poolCfg.ConnConfig.Database),
			zap.Int32("max_conns", poolCfg.MaxConns),
		)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Stats returns connection pool statistics.
func (db *DB) Stats() *pgxpool.Stat {
	return db.pool.Stat()
}

const schema = `
CREATE TABLE IF NOT EXISTS resolution_runs (
    run_id      TEXT PRIMARY KEY,
    match_id    TEXT NOT NULL,
    seed        BIGINT NOT NULL,
    drained     INT NOT NULL,
    executed    INT NOT NULL,
    skipped     INT NOT NULL,
    run_order   TEXT[] NOT NULL DEFAULT '{}',
    started_at  TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS resolution_runs_match_idx
    ON resolution_runs (match_id, started_at DESC);

CREATE TABLE IF NOT EXISTS cards (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    initiative  INT NOT NULL,
    cost        INT NOT NULL,
    effect_kind TEXT NOT NULL,
    magnitude   INT NOT NULL DEFAULT 0,
    status      TEXT NOT NULL DEFAULT '',
    stacks      INT NOT NULL DEFAULT 0,
    target_rule TEXT NOT NULL,
    max_targets INT NOT NULL DEFAULT 0,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the tables this package needs if they do not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}
