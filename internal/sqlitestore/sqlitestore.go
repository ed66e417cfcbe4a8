// Package sqlitestore implements store.Store on a single SQLite file through
// the pure-Go modernc.org/sqlite driver.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dharsanguruparan/vanguard/internal/model"
	"github.com/dharsanguruparan/vanguard/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS item_type (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL UNIQUE,
	explosion_radius REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS found_items (
	id TEXT PRIMARY KEY,
	lat REAL NOT NULL,
	lon REAL NOT NULL,
	type_id TEXT NOT NULL REFERENCES item_type(id),
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_found_items_created ON found_items(created_at);`

// DB is a SQLite-backed store.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path, ensures the schema and
// seeds the vocabulary.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	d := &DB{db: sqlDB, now: func() time.Time { return time.Now().UTC() }}
	if err := d.EnsureSchema(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := d.Seed(ctx, model.Vocabulary); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return d, nil
}

// EnsureSchema creates the tables if they do not exist.
func (d *DB) EnsureSchema(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Seed inserts item types whose titles are not yet present.
func (d *DB) Seed(ctx context.Context, types []model.ItemType) error {
	for _, t := range types {
		_, err := d.db.ExecContext(ctx,
			`INSERT INTO item_type (id, title, explosion_radius) VALUES (?, ?, ?) ON CONFLICT(title) DO NOTHING`,
			uuid.NewString(), t.Title, t.ExplosionRadius)
		if err != nil {
			return fmt.Errorf("seed item type %s: %w", t.Title, err)
		}
	}
	return nil
}

// ItemTypes returns every item type ordered by title.
func (d *DB) ItemTypes(ctx context.Context) ([]model.ItemType, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, title, explosion_radius FROM item_type ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("select item types: %w", err)
	}
	defer rows.Close()
	out := []model.ItemType{}
	for rows.Next() {
		var t model.ItemType
		if err := rows.Scan(&t.ID, &t.Title, &t.ExplosionRadius); err != nil {
			return nil, fmt.Errorf("scan item type: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ItemTypeByTitle returns the type with an exactly matching title.
func (d *DB) ItemTypeByTitle(ctx context.Context, title string) (*model.ItemType, error) {
	var t model.ItemType
	err := d.db.QueryRowContext(ctx,
		`SELECT id, title, explosion_radius FROM item_type WHERE title = ? LIMIT 1`, title).
		Scan(&t.ID, &t.Title, &t.ExplosionRadius)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item type %q: %w", title, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select item type: %w", err)
	}
	return &t, nil
}

// CreateFoundItem inserts a found item, filling ID and CreatedAt when unset.
func (d *DB) CreateFoundItem(ctx context.Context, item *model.FoundItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = d.now()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO found_items (id, lat, lon, type_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		item.ID, item.Lat, item.Lon, item.TypeID, item.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert found item: %w", err)
	}
	return nil
}

// FoundItems returns every found item, oldest first.
func (d *DB) FoundItems(ctx context.Context) ([]model.FoundItem, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, lat, lon, type_id, created_at FROM found_items ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("select found items: %w", err)
	}
	defer rows.Close()
	out := []model.FoundItem{}
	for rows.Next() {
		f, err := scanFoundItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// FoundItem returns a found item by id.
func (d *DB) FoundItem(ctx context.Context, id string) (*model.FoundItem, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, lat, lon, type_id, created_at FROM found_items WHERE id = ?`, id)
	f, err := scanFoundItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("found item %s: %w", id, store.ErrNotFound)
	}
	return f, err
}

// Ping checks the database handle.
func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanFoundItem(s scanner) (*model.FoundItem, error) {
	var (
		f       model.FoundItem
		created string
	)
	if err := s.Scan(&f.ID, &f.Lat, &f.Lon, &f.TypeID, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan found item: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	f.CreatedAt = ts.UTC()
	return &f, nil
}

var _ store.Store = (*DB)(nil)
