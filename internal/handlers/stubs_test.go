package handlers

import (
	"context"
	"net/http"

	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/session"
	"github.com/hanko-field/storefront/internal/services"
)

type stubCartManager struct {
	cartFunc     func(ctx context.Context, p services.Principal) (services.CartSummary, error)
	addFunc      func(ctx context.Context, p services.Principal, item services.CartLineItem) (services.CartSummary, error)
	updateFunc   func(ctx context.Context, p services.Principal, key services.CartKey, quantity int) (services.CartSummary, error)
	removeFunc   func(ctx context.Context, p services.Principal, key services.CartKey) (services.CartSummary, error)
	clearFunc    func(ctx context.Context, p services.Principal) error
	favsFunc     func(ctx context.Context, p services.Principal) ([]int64, error)
	addFavFunc   func(ctx context.Context, p services.Principal, productID int64) error
	delFavFunc   func(ctx context.Context, p services.Principal, productID int64) error
	toggleFunc   func(ctx context.Context, p services.Principal, productID int64) (bool, error)
	isFavFunc    func(ctx context.Context, p services.Principal, productID int64) (bool, error)
	signInFunc   func(ctx context.Context, userID, guestSessionID string) services.TransitionReport
	signOutFunc  func(ctx context.Context, userID, guestSessionID string) services.TransitionReport
	lastPrincipal services.Principal
}

var _ services.CartManager = (*stubCartManager)(nil)

func (s *stubCartManager) Cart(ctx context.Context, p services.Principal) (services.CartSummary, error) {
	s.lastPrincipal = p
	if s.cartFunc != nil {
		return s.cartFunc(ctx, p)
	}
	return services.CartSummary{}, nil
}

func (s *stubCartManager) AddItem(ctx context.Context, p services.Principal, item services.CartLineItem) (services.CartSummary, error) {
	s.lastPrincipal = p
	if s.addFunc != nil {
		return s.addFunc(ctx, p, item)
	}
	return services.CartSummary{}, nil
}

func (s *stubCartManager) UpdateQuantity(ctx context.Context, p services.Principal, key services.CartKey, quantity int) (services.CartSummary, error) {
	s.lastPrincipal = p
	if s.updateFunc != nil {
		return s.updateFunc(ctx, p, key, quantity)
	}
	return services.CartSummary{}, nil
}

func (s *stubCartManager) RemoveItem(ctx context.Context, p services.Principal, key services.CartKey) (services.CartSummary, error) {
	s.lastPrincipal = p
	if s.removeFunc != nil {
		return s.removeFunc(ctx, p, key)
	}
	return services.CartSummary{}, nil
}

func (s *stubCartManager) Clear(ctx context.Context, p services.Principal) error {
	s.lastPrincipal = p
	if s.clearFunc != nil {
		return s.clearFunc(ctx, p)
	}
	return nil
}

func (s *stubCartManager) Favorites(ctx context.Context, p services.Principal) ([]int64, error) {
	s.lastPrincipal = p
	if s.favsFunc != nil {
		return s.favsFunc(ctx, p)
	}
	return nil, nil
}

func (s *stubCartManager) AddFavorite(ctx context.Context, p services.Principal, productID int64) error {
	s.lastPrincipal = p
	if s.addFavFunc != nil {
		return s.addFavFunc(ctx, p, productID)
	}
	return nil
}

func (s *stubCartManager) RemoveFavorite(ctx context.Context, p services.Principal, productID int64) error {
	s.lastPrincipal = p
	if s.delFavFunc != nil {
		return s.delFavFunc(ctx, p, productID)
	}
	return nil
}

func (s *stubCartManager) ToggleFavorite(ctx context.Context, p services.Principal, productID int64) (bool, error) {
	s.lastPrincipal = p
	if s.toggleFunc != nil {
		return s.toggleFunc(ctx, p, productID)
	}
	return true, nil
}

func (s *stubCartManager) IsFavorite(ctx context.Context, p services.Principal, productID int64) (bool, error) {
	s.lastPrincipal = p
	if s.isFavFunc != nil {
		return s.isFavFunc(ctx, p, productID)
	}
	return false, nil
}

func (s *stubCartManager) SignIn(ctx context.Context, userID, guestSessionID string) services.TransitionReport {
	if s.signInFunc != nil {
		return s.signInFunc(ctx, userID, guestSessionID)
	}
	return services.TransitionReport{Kind: services.TransitionSignIn, UserID: userID, GuestSessionID: guestSessionID}
}

func (s *stubCartManager) SignOut(ctx context.Context, userID, guestSessionID string) services.TransitionReport {
	if s.signOutFunc != nil {
		return s.signOutFunc(ctx, userID, guestSessionID)
	}
	return services.TransitionReport{Kind: services.TransitionSignOut, UserID: userID, GuestSessionID: guestSessionID}
}

type stubAccountService struct {
	signUpFunc  func(ctx context.Context, cmd services.SignUpCommand) (services.SignUpResult, error)
	profileFunc func(ctx context.Context, userID string) (services.Profile, error)
	updateFunc  func(ctx context.Context, userID string, patch services.ProfilePatch) (services.Profile, error)
	signOutFunc func(ctx context.Context, userID, guestSessionID string) (services.TransitionReport, error)
}

var _ services.AccountService = (*stubAccountService)(nil)

func (s *stubAccountService) SignUp(ctx context.Context, cmd services.SignUpCommand) (services.SignUpResult, error) {
	if s.signUpFunc != nil {
		return s.signUpFunc(ctx, cmd)
	}
	return services.SignUpResult{}, nil
}

func (s *stubAccountService) Profile(ctx context.Context, userID string) (services.Profile, error) {
	if s.profileFunc != nil {
		return s.profileFunc(ctx, userID)
	}
	return services.Profile{ID: userID}, nil
}

func (s *stubAccountService) UpdateProfile(ctx context.Context, userID string, patch services.ProfilePatch) (services.Profile, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, userID, patch)
	}
	return patch.Apply(services.Profile{ID: userID}), nil
}

func (s *stubAccountService) SignOut(ctx context.Context, userID, guestSessionID string) (services.TransitionReport, error) {
	if s.signOutFunc != nil {
		return s.signOutFunc(ctx, userID, guestSessionID)
	}
	return services.TransitionReport{Kind: services.TransitionSignOut, UserID: userID}, nil
}

type stubCatalogService struct {
	listFunc    func(ctx context.Context, filter services.ProductFilter) (services.ProductListing, error)
	getFunc     func(ctx context.Context, ref, lang string) (services.ProductDetail, error)
	optionsFunc func(ctx context.Context, lang string) (services.CatalogOptions, error)
}

var _ services.CatalogService = (*stubCatalogService)(nil)

func (s *stubCatalogService) ListProducts(ctx context.Context, filter services.ProductFilter) (services.ProductListing, error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return services.ProductListing{}, nil
}

func (s *stubCatalogService) GetProduct(ctx context.Context, ref, lang string) (services.ProductDetail, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, ref, lang)
	}
	return services.ProductDetail{}, nil
}

func (s *stubCatalogService) Options(ctx context.Context, lang string) (services.CatalogOptions, error) {
	if s.optionsFunc != nil {
		return s.optionsFunc(ctx, lang)
	}
	return services.CatalogOptions{}, nil
}

// asGuest and asUser attach the caller the API middleware would have resolved.
func asGuest(r *http.Request, sessionID string) *http.Request {
	return r.WithContext(session.WithID(r.Context(), sessionID))
}

func asUser(r *http.Request, uid, sessionID string) *http.Request {
	ctx := session.WithID(r.Context(), sessionID)
	return r.WithContext(auth.WithIdentity(ctx, &auth.Identity{UID: uid, Email: uid + "@example.com", EmailVerified: true}))
}
