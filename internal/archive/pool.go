package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/livesub/internal/config"
)

// DB is the subset of *pgxpool.Pool the archive uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

const createFramesTable = `
	CREATE TABLE IF NOT EXISTS livesub_frames (
		id          BIGSERIAL PRIMARY KEY,
		logical_id  TEXT NOT NULL,
		frame_id    TEXT NOT NULL,
		type        TEXT NOT NULL,
		payload     JSONB,
		received_at TIMESTAMPTZ NOT NULL
	)`

const createFramesIndex = `
	CREATE INDEX IF NOT EXISTS livesub_frames_logical_id_received_at_idx
		ON livesub_frames (logical_id, received_at)`

// EnsureSchema creates the frames table and its index if missing.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, createFramesTable); err != nil {
		return fmt.Errorf("create livesub_frames: %w", err)
	}
	if _, err := db.Exec(ctx, createFramesIndex); err != nil {
		return fmt.Errorf("create livesub_frames index: %w", err)
	}
	return nil
}
