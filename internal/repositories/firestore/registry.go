// Package firestore implements the repositories on Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

// Registry bundles the Firestore repositories over one shared client provider.
type Registry struct {
	provider  *pfirestore.Provider
	carts     *CartRepository
	favorites *FavoriteRepository
	products  *ProductRepository
	profiles  *ProfileRepository
	guests    *GuestStorage
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires every repository over provider. extraChecks are added to the readiness probes.
func NewRegistry(provider *pfirestore.Provider, extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reg := &Registry{provider: provider}
	reg.carts, _ = NewCartRepository(provider)
	reg.favorites, _ = NewFavoriteRepository(provider)
	reg.products, _ = NewProductRepository(provider)
	reg.profiles, _ = NewProfileRepository(provider)
	reg.guests, _ = NewGuestStorage(provider)

	checks := append([]repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: 2 * time.Second,
		Check:   provider.Ping,
	}}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	reg.health = health
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Carts() repositories.CartRepository         { return r.carts }
func (r *Registry) Favorites() repositories.FavoriteRepository { return r.favorites }
func (r *Registry) Products() repositories.ProductRepository   { return r.products }
func (r *Registry) Profiles() repositories.ProfileRepository   { return r.profiles }
func (r *Registry) GuestStorage() repositories.GuestStorage    { return r.guests }
func (r *Registry) Health() repositories.HealthRepository      { return r.health }

// Client exposes the shared Firestore client for stores living outside the repositories.
func (r *Registry) Client(ctx context.Context) (*firestore.Client, error) {
	return r.provider.Client(ctx)
}
