// Package postgres implements the repositories over a Postgres database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	ppostgres "github.com/hanko-field/storefront/internal/platform/postgres"
	"github.com/hanko-field/storefront/internal/repositories"
)

// Registry bundles the Postgres repositories over one connection pool.
type Registry struct {
	db        *sql.DB
	carts     *CartRepository
	favorites *FavoriteRepository
	products  *ProductRepository
	profiles  *ProfileRepository
	guests    *GuestStorage
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires every repository over db. extraChecks are added to the readiness probe set.
func NewRegistry(db *sql.DB, extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	if db == nil {
		return nil, errors.New("postgres registry requires database")
	}
	reg := &Registry{db: db}
	reg.carts, _ = NewCartRepository(db)
	reg.favorites, _ = NewFavoriteRepository(db)
	reg.products, _ = NewProductRepository(db)
	reg.profiles, _ = NewProfileRepository(db)
	reg.guests, _ = NewGuestStorage(db)

	checks := append([]repositories.DependencyCheck{{
		Name:    "postgres",
		Timeout: 2 * time.Second,
		Check: func(ctx context.Context) error {
			return ppostgres.WrapError("ping", db.PingContext(ctx))
		},
	}}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	reg.health = health
	return reg, nil
}

func (r *Registry) Close(context.Context) error { return r.db.Close() }

func (r *Registry) Carts() repositories.CartRepository         { return r.carts }
func (r *Registry) Favorites() repositories.FavoriteRepository { return r.favorites }
func (r *Registry) Products() repositories.ProductRepository   { return r.products }
func (r *Registry) Profiles() repositories.ProfileRepository   { return r.profiles }
func (r *Registry) GuestStorage() repositories.GuestStorage    { return r.guests }
func (r *Registry) Health() repositories.HealthRepository      { return r.health }
