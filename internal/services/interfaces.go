package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	CartLineItem       = domain.CartLineItem
	CartKey            = domain.CartKey
	CartSummary        = domain.CartSummary
	Product            = domain.Product
	ProductPage        = domain.ProductPage
	Profile            = domain.Profile
	ProfilePatch       = domain.ProfilePatch
	SystemHealthReport = domain.SystemHealthReport
	TransitionEvent    = domain.TransitionEvent
)

// Principal identifies who an operation acts for. An empty UserID means a guest, whose state lives
// in the storage of GuestSessionID.
type Principal struct {
	UserID         string
	GuestSessionID string
}

// Guest reports whether the principal is unauthenticated.
func (p Principal) Guest() bool {
	return p.UserID == ""
}

// CartManager is the single entry point for cart and favorites traffic. It routes guests to their
// session storage and signed-in users to the remote repositories, and serialises sign-in and
// sign-out reconciliation against that traffic.
type CartManager interface {
	Cart(ctx context.Context, p Principal) (CartSummary, error)
	AddItem(ctx context.Context, p Principal, item CartLineItem) (CartSummary, error)
	UpdateQuantity(ctx context.Context, p Principal, key CartKey, quantity int) (CartSummary, error)
	RemoveItem(ctx context.Context, p Principal, key CartKey) (CartSummary, error)
	Clear(ctx context.Context, p Principal) error

	Favorites(ctx context.Context, p Principal) ([]int64, error)
	AddFavorite(ctx context.Context, p Principal, productID int64) error
	RemoveFavorite(ctx context.Context, p Principal, productID int64) error
	ToggleFavorite(ctx context.Context, p Principal, productID int64) (bool, error)
	IsFavorite(ctx context.Context, p Principal, productID int64) (bool, error)

	// SignIn merges the guest session's cart and favorites into the user's remote state. Sync
	// failures are reported in the result and never prevent the sign-in.
	SignIn(ctx context.Context, userID, guestSessionID string) TransitionReport
	// SignOut snapshots the user's remote cart into the guest session.
	SignOut(ctx context.Context, userID, guestSessionID string) TransitionReport
}

// CatalogService serves product listings and detail pages.
type CatalogService interface {
	ListProducts(ctx context.Context, filter ProductFilter) (ProductListing, error)
	GetProduct(ctx context.Context, ref string, lang string) (ProductDetail, error)
	Options(ctx context.Context, lang string) (CatalogOptions, error)
}

// AccountService manages sign-up and the caller's profile.
type AccountService interface {
	SignUp(ctx context.Context, cmd SignUpCommand) (SignUpResult, error)
	Profile(ctx context.Context, userID string) (Profile, error)
	UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) (Profile, error)
	SignOut(ctx context.Context, userID, guestSessionID string) (TransitionReport, error)
}

// SystemService exposes health and build metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// TransitionPublisher emits session transition events.
type TransitionPublisher interface {
	PublishTransition(ctx context.Context, event TransitionEvent) error
}

// IdentityProvider manages accounts in the authentication backend.
type IdentityProvider interface {
	CreateUser(ctx context.Context, email, password, displayName string) (string, error)
	DeleteUser(ctx context.Context, uid string) error
	RevokeRefreshTokens(ctx context.Context, uid string) error
}

// ImageURLSigner produces time-limited URLs for product image object paths.
type ImageURLSigner interface {
	SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error)
}
