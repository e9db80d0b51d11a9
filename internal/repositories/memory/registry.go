// Package memory implements the repositories in process memory for local development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/localstore"
	"github.com/hanko-field/storefront/internal/repositories"
)

// Registry keeps every repository's state behind one mutex.
type Registry struct {
	mu        sync.RWMutex
	carts     map[string][]domain.CartLineItem
	favorites map[string][]int64
	products  map[int64]domain.Product
	profiles  map[string]domain.Profile
	sessions  *localstore.MemorySessions
	health    repositories.HealthRepository
	now       func() time.Time
}

var _ repositories.Registry = (*Registry)(nil)

// Option customises the registry.
type Option func(*Registry)

// WithProducts seeds the catalog.
func WithProducts(products ...domain.Product) Option {
	return func(r *Registry) {
		for _, p := range products {
			r.products[p.ID] = p
		}
	}
}

// WithClock overrides the clock used for profile timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		carts:     make(map[string][]domain.CartLineItem),
		favorites: make(map[string][]int64),
		products:  make(map[int64]domain.Product),
		profiles:  make(map[string]domain.Profile),
		sessions:  localstore.NewMemorySessions(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.health, _ = repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
		Name:  "memory",
		Check: func(context.Context) error { return nil },
	}})
	return r
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Carts() repositories.CartRepository         { return cartRepository{r} }
func (r *Registry) Favorites() repositories.FavoriteRepository { return favoriteRepository{r} }
func (r *Registry) Products() repositories.ProductRepository   { return productRepository{r} }
func (r *Registry) Profiles() repositories.ProfileRepository   { return profileRepository{r} }
func (r *Registry) GuestStorage() repositories.GuestStorage    { return r.sessions }
func (r *Registry) Health() repositories.HealthRepository      { return r.health }

type cartRepository struct{ r *Registry }

func (c cartRepository) ListItems(ctx context.Context, userID string) ([]domain.CartLineItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.r.mu.RLock()
	defer c.r.mu.RUnlock()
	return domain.CollapseLineItems(domain.SanitizeLineItems(c.r.carts[userID])), nil
}

func (c cartRepository) UpsertItems(ctx context.Context, userID string, items []domain.CartLineItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	rows := c.r.carts[userID]
	for _, item := range domain.SanitizeLineItems(items) {
		if pos := domain.FindLineItem(rows, item.Key()); pos >= 0 {
			rows[pos].Quantity = item.Quantity
			continue
		}
		rows = append(rows, item)
	}
	c.r.carts[userID] = rows
	return nil
}

func (c cartRepository) DeleteItem(ctx context.Context, userID string, key domain.CartKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	rows := c.r.carts[userID]
	pos := domain.FindLineItem(rows, key)
	if pos < 0 {
		return notFound("cart item %s not found", key)
	}
	c.r.carts[userID] = append(rows[:pos:pos], rows[pos+1:]...)
	return nil
}

func (c cartRepository) DeleteAll(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	delete(c.r.carts, userID)
	return nil
}

type favoriteRepository struct{ r *Registry }

// List returns the most recent addition first.
func (f favoriteRepository) List(ctx context.Context, userID string) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.r.mu.RLock()
	defer f.r.mu.RUnlock()
	stored := f.r.favorites[userID]
	out := make([]int64, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		out = append(out, stored[i])
	}
	return out, nil
}

func (f favoriteRepository) Upsert(ctx context.Context, userID string, productIDs []int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	stored := f.r.favorites[userID]
	for _, id := range productIDs {
		if !containsID(stored, id) {
			stored = append(stored, id)
		}
	}
	f.r.favorites[userID] = stored
	return nil
}

func (f favoriteRepository) Delete(ctx context.Context, userID string, productID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	stored := f.r.favorites[userID]
	out := stored[:0:0]
	for _, id := range stored {
		if id != productID {
			out = append(out, id)
		}
	}
	f.r.favorites[userID] = out
	return nil
}

type productRepository struct{ r *Registry }

func (p productRepository) List(ctx context.Context, query domain.ProductQuery) (domain.ProductPage, error) {
	if err := ctx.Err(); err != nil {
		return domain.ProductPage{}, err
	}
	p.r.mu.RLock()
	defer p.r.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(query.Search))
	var matched []domain.Product
	for _, product := range p.r.products {
		if !query.Matches(product) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(product.Name), search) {
			continue
		}
		matched = append(matched, product)
	}
	sort.Slice(matched, func(i, j int) bool { return lessProduct(matched[i], matched[j], query.Sort) })

	total := len(matched)
	start := min(max(query.Offset, 0), total)
	end := total
	if query.PageSize > 0 {
		end = min(start+query.PageSize, total)
	}
	page := domain.ProductPage{Items: append([]domain.Product{}, matched[start:end]...), Total: total}
	if end < total {
		page.NextOffset = end
	}
	return page, nil
}

func (p productRepository) GetMany(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.r.mu.RLock()
	defer p.r.mu.RUnlock()
	out := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := p.r.products[id]; ok {
			out[id] = product
		}
	}
	return out, nil
}

func (p productRepository) Get(ctx context.Context, productID int64) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}
	p.r.mu.RLock()
	defer p.r.mu.RUnlock()
	product, ok := p.r.products[productID]
	if !ok {
		return domain.Product{}, notFound("product %d not found", productID)
	}
	return product, nil
}

func (p productRepository) GetBySlug(ctx context.Context, slug string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}
	p.r.mu.RLock()
	defer p.r.mu.RUnlock()
	for _, product := range p.r.products {
		if product.Slug == slug {
			return product, nil
		}
	}
	return domain.Product{}, notFound("product %q not found", slug)
}

type profileRepository struct{ r *Registry }

func (p profileRepository) Upsert(ctx context.Context, profile domain.Profile) (domain.Profile, error) {
	if err := ctx.Err(); err != nil {
		return domain.Profile{}, err
	}
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	now := p.r.now().UTC()
	profile.CreatedAt = now
	if prev, ok := p.r.profiles[profile.ID]; ok {
		profile.CreatedAt = prev.CreatedAt
	}
	profile.UpdatedAt = now
	p.r.profiles[profile.ID] = profile
	return profile, nil
}

func (p profileRepository) Get(ctx context.Context, userID string) (domain.Profile, error) {
	if err := ctx.Err(); err != nil {
		return domain.Profile{}, err
	}
	p.r.mu.RLock()
	defer p.r.mu.RUnlock()
	profile, ok := p.r.profiles[userID]
	if !ok {
		return domain.Profile{}, notFound("profile %s not found", userID)
	}
	return profile, nil
}

func (p profileRepository) Update(ctx context.Context, userID string, patch domain.ProfilePatch) (domain.Profile, error) {
	if err := ctx.Err(); err != nil {
		return domain.Profile{}, err
	}
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	profile, ok := p.r.profiles[userID]
	if !ok {
		return domain.Profile{}, notFound("profile %s not found", userID)
	}
	profile = patch.Apply(profile)
	profile.UpdatedAt = p.r.now().UTC()
	p.r.profiles[userID] = profile
	return profile, nil
}

func lessProduct(a, b domain.Product, option domain.SortOption) bool {
	switch option {
	case domain.SortNewest:
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
	case domain.SortPriceAsc:
		if a.PriceCurrent != b.PriceCurrent {
			return a.PriceCurrent < b.PriceCurrent
		}
	case domain.SortPriceDesc:
		if a.PriceCurrent != b.PriceCurrent {
			return a.PriceCurrent > b.PriceCurrent
		}
	}
	return a.ID < b.ID
}

func containsID(ids []int64, id int64) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
