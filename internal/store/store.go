// Package store defines the persistence contract for item types and found
// items. Implementations live in repository (Postgres), sqlitestore and
// storage (in-memory).
package store

import (
	"context"
	"errors"

	"github.com/dharsanguruparan/vanguard/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the storage collaborator consumed by the intake pipeline and the
// read API.
type Store interface {
	ItemTypes(ctx context.Context) ([]model.ItemType, error)
	ItemTypeByTitle(ctx context.Context, title string) (*model.ItemType, error)
	CreateFoundItem(ctx context.Context, item *model.FoundItem) error
	FoundItems(ctx context.Context) ([]model.FoundItem, error)
	FoundItem(ctx context.Context, id string) (*model.FoundItem, error)
	Ping(ctx context.Context) error
	Close() error
}
