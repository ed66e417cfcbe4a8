package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/vanguard/internal/model"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the item_type and found_items tables if needed.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS item_type (
	id UUID PRIMARY KEY,
	title TEXT NOT NULL UNIQUE,
	explosion_radius DOUBLE PRECISION NOT NULL
);
CREATE TABLE IF NOT EXISTS found_items (
	id UUID PRIMARY KEY,
	lat DOUBLE PRECISION NOT NULL,
	lon DOUBLE PRECISION NOT NULL,
	type_id UUID NOT NULL REFERENCES item_type(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_found_items_type ON found_items(type_id);
CREATE INDEX IF NOT EXISTS idx_found_items_created ON found_items(created_at);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Seed inserts the item type vocabulary, leaving existing titles untouched.
func Seed(ctx context.Context, pool *pgxpool.Pool, types []model.ItemType) error {
	for _, t := range types {
		_, err := pool.Exec(ctx, `
			INSERT INTO item_type (id, title, explosion_radius)
			VALUES ($1::uuid, $2, $3)
			ON CONFLICT (title) DO NOTHING
		`, uuid.NewString(), t.Title, t.ExplosionRadius)
		if err != nil {
			return fmt.Errorf("seed item type %s: %w", t.Title, err)
		}
	}
	return nil
}
