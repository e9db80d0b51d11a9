package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/localstore"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Favorites() FavoriteRepository
	Products() ProductRepository
	Profiles() ProfileRepository
	GuestStorage() GuestStorage
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartRepository stores signed-in cart rows keyed by (profile, product, size, color).
type CartRepository interface {
	// ListItems returns the user's rows canonicalised so that legacy empty/NULL variants share a
	// single key with their quantities summed.
	ListItems(ctx context.Context, userID string) ([]domain.CartLineItem, error)
	// UpsertItems inserts rows or replaces the quantity of rows with the same composite key.
	UpsertItems(ctx context.Context, userID string, items []domain.CartLineItem) error
	// DeleteItem removes one row. Missing rows report IsNotFound.
	DeleteItem(ctx context.Context, userID string, key domain.CartKey) error
	DeleteAll(ctx context.Context, userID string) error
}

// FavoriteRepository tracks favorite products per user. Membership is binary.
type FavoriteRepository interface {
	List(ctx context.Context, userID string) ([]int64, error)
	// Upsert adds the products, ignoring ones that are already favorites.
	Upsert(ctx context.Context, userID string, productIDs []int64) error
	Delete(ctx context.Context, userID string, productID int64) error
}

// ProductRepository serves the read-only catalog.
type ProductRepository interface {
	List(ctx context.Context, query domain.ProductQuery) (domain.ProductPage, error)
	// GetMany returns the products that exist among ids keyed by id; unknown ids are omitted.
	GetMany(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	Get(ctx context.Context, productID int64) (domain.Product, error)
	GetBySlug(ctx context.Context, slug string) (domain.Product, error)
}

// ProfileRepository persists account profiles keyed by auth uid.
type ProfileRepository interface {
	// Upsert creates or replaces the profile row for profile.ID.
	Upsert(ctx context.Context, profile domain.Profile) (domain.Profile, error)
	Get(ctx context.Context, userID string) (domain.Profile, error)
	Update(ctx context.Context, userID string, patch domain.ProfilePatch) (domain.Profile, error)
}

// GuestStorage hands out key/value storage scoped to a guest session. An empty session id yields a
// nil Storage.
type GuestStorage interface {
	ForSession(sessionID string) localstore.Storage
}

// GuestStorageSweeper drops guest sessions whose state was last written or touched before
// idleBefore. limit bounds one pass; a non-positive limit uses the backend default. Touch marks an
// existing session as active without changing its values.
type GuestStorageSweeper interface {
	PurgeIdle(ctx context.Context, idleBefore time.Time, limit int) (int, error)
	Touch(ctx context.Context, sessionID string) error
}

// HealthRepository aggregates dependency probes for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
