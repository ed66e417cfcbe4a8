package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/vanguard/internal/model"
	"github.com/dharsanguruparan/vanguard/internal/store"
)

// ItemRepository wraps all SQL for item types and found items on Postgres.
type ItemRepository struct {
	pool *pgxpool.Pool
}

// NewItemRepository constructs a repository.
func NewItemRepository(pool *pgxpool.Pool) *ItemRepository {
	return &ItemRepository{pool: pool}
}

// ItemTypes returns every item type ordered by title.
func (r *ItemRepository) ItemTypes(ctx context.Context) ([]model.ItemType, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, title, explosion_radius FROM item_type ORDER BY title
	`)
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
func (r *ItemRepository) ItemTypeByTitle(ctx context.Context, title string) (*model.ItemType, error) {
	var t model.ItemType
	row := r.pool.QueryRow(ctx, `
		SELECT id::text, title, explosion_radius FROM item_type WHERE title=$1 LIMIT 1
	`, title)
	if err := row.Scan(&t.ID, &t.Title, &t.ExplosionRadius); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("item type %q: %w", title, store.ErrNotFound)
		}
		return nil, fmt.Errorf("select item type: %w", err)
	}
	return &t, nil
}

// CreateFoundItem inserts a found item. created_at comes from the database
// default and is written back into item.
func (r *ItemRepository) CreateFoundItem(ctx context.Context, item *model.FoundItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO found_items (id, lat, lon, type_id)
		VALUES ($1::uuid, $2, $3, $4::uuid)
		RETURNING created_at
	`, item.ID, item.Lat, item.Lon, item.TypeID)
	if err := row.Scan(&item.CreatedAt); err != nil {
		return fmt.Errorf("insert found item: %w", err)
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return nil
}

// FoundItems returns every found item, oldest first.
func (r *ItemRepository) FoundItems(ctx context.Context) ([]model.FoundItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, lat, lon, type_id::text, created_at
		FROM found_items ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("select found items: %w", err)
	}
	defer rows.Close()
	out := []model.FoundItem{}
	for rows.Next() {
		var f model.FoundItem
		if err := rows.Scan(&f.ID, &f.Lat, &f.Lon, &f.TypeID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan found item: %w", err)
		}
		f.CreatedAt = f.CreatedAt.UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

// FoundItem returns a found item by id.
func (r *ItemRepository) FoundItem(ctx context.Context, id string) (*model.FoundItem, error) {
	var f model.FoundItem
	row := r.pool.QueryRow(ctx, `
		SELECT id::text, lat, lon, type_id::text, created_at
		FROM found_items WHERE id=$1::uuid
	`, id)
	if err := row.Scan(&f.ID, &f.Lat, &f.Lon, &f.TypeID, &f.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("found item %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("select found item: %w", err)
	}
	f.CreatedAt = f.CreatedAt.UTC()
	return &f, nil
}

// Ping checks database connectivity.
func (r *ItemRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the pool.
func (r *ItemRepository) Close() error {
	r.pool.Close()
	return nil
}

var _ store.Store = (*ItemRepository)(nil)
