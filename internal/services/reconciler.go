package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/localstore"
	"github.com/hanko-field/storefront/internal/repositories"
)

// SyncStatus is the outcome of one reconciliation step.
type SyncStatus string

const (
	SyncOK      SyncStatus = "ok"
	SyncSkipped SyncStatus = "skipped"
	SyncFailed  SyncStatus = "failed"
)

// MergeResult reports a guest-to-user merge. LocalItems counts the guest entries considered and
// MergedItems the rows written remotely.
type MergeResult struct {
	Status      SyncStatus
	LocalItems  int
	MergedItems int
	Err         error
}

// SnapshotResult reports a user-to-guest cart snapshot.
type SnapshotResult struct {
	Status SyncStatus
	Items  int
	Err    error
}

// SessionReconcilerDeps wires the remote repositories used during identity transitions.
type SessionReconcilerDeps struct {
	Carts     repositories.CartRepository
	Favorites repositories.FavoriteRepository
	Logger    func(context.Context, string, map[string]any)
}

// SessionReconciler moves cart and favorites state between guest storage and the user's remote
// store. It never deletes remote rows and leaves guest storage untouched when a step fails.
type SessionReconciler struct {
	carts     repositories.CartRepository
	favorites repositories.FavoriteRepository
	logger    func(context.Context, string, map[string]any)
}

// NewSessionReconciler validates dependencies.
func NewSessionReconciler(deps SessionReconcilerDeps) (*SessionReconciler, error) {
	if deps.Carts == nil {
		return nil, errors.New("session reconciler: cart repository is required")
	}
	if deps.Favorites == nil {
		return nil, errors.New("session reconciler: favorite repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &SessionReconciler{carts: deps.Carts, favorites: deps.Favorites, logger: logger}, nil
}

// MergeCartOnLogin adds every guest line to the user's remote cart, summing quantities per key,
// then clears the guest cart. An empty guest cart is skipped without touching the backend.
func (r *SessionReconciler) MergeCartOnLogin(ctx context.Context, local *localstore.Store, userID string) MergeResult {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return MergeResult{Status: SyncFailed, Err: errors.New("session reconciler: user id is required")}
	}
	localItems, err := local.LoadCart(ctx)
	if err != nil {
		return r.mergeFailed(ctx, MergeResult{}, "cart.merge_read_failed", uid, fmt.Errorf("read guest cart: %w", err))
	}
	if len(localItems) == 0 {
		return MergeResult{Status: SyncSkipped}
	}
	result := MergeResult{LocalItems: len(localItems)}

	remote, err := r.carts.ListItems(ctx, uid)
	if err != nil {
		return r.mergeFailed(ctx, result, "cart.merge_fetch_failed", uid, fmt.Errorf("fetch remote cart: %w", err))
	}
	quantities := make(map[domain.CartKey]int, len(remote))
	for _, item := range remote {
		key := item.Key()
		quantities[key] = domain.AddQuantities(quantities[key], item.Quantity)
	}

	// LoadCart collapses keys, so each local line maps to exactly one row.
	merged := make([]domain.CartLineItem, 0, len(localItems))
	for _, item := range localItems {
		key := item.Key()
		quantities[key] = domain.AddQuantities(item.Quantity, quantities[key])
		row := item
		row.Quantity = quantities[key]
		merged = append(merged, row)
	}

	if err := r.carts.UpsertItems(ctx, uid, merged); err != nil {
		return r.mergeFailed(ctx, result, "cart.merge_upsert_failed", uid, fmt.Errorf("upsert merged cart: %w", err))
	}
	result.MergedItems = len(merged)

	if err := local.ClearCart(ctx); err != nil {
		// The remote cart already holds the sum, so a second login would add the guest lines again.
		return r.mergeFailed(ctx, result, "cart.merge_clear_failed", uid, fmt.Errorf("clear guest cart: %w", err))
	}
	result.Status = SyncOK
	return result
}

// MergeFavoritesOnLogin adds guest favorites to the user's remote set, ignoring ones already
// present, then removes the guest favorites.
func (r *SessionReconciler) MergeFavoritesOnLogin(ctx context.Context, local *localstore.Store, userID string) MergeResult {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return MergeResult{Status: SyncFailed, Err: errors.New("session reconciler: user id is required")}
	}
	ids, err := local.LoadFavorites(ctx)
	if err != nil {
		return r.mergeFailed(ctx, MergeResult{}, "favorites.merge_read_failed", uid, fmt.Errorf("read guest favorites: %w", err))
	}
	if len(ids) == 0 {
		return MergeResult{Status: SyncSkipped}
	}
	result := MergeResult{LocalItems: len(ids)}
	if err := r.favorites.Upsert(ctx, uid, ids); err != nil {
		return r.mergeFailed(ctx, result, "favorites.merge_upsert_failed", uid, fmt.Errorf("upsert favorites: %w", err))
	}
	result.MergedItems = len(ids)
	if err := local.ClearFavorites(ctx); err != nil {
		return r.mergeFailed(ctx, result, "favorites.merge_clear_failed", uid, fmt.Errorf("clear guest favorites: %w", err))
	}
	result.Status = SyncOK
	return result
}

// SnapshotCartOnLogout replaces the guest cart with the user's remote cart, or clears it when the
// remote cart is empty. A failed fetch leaves the guest cart as it was.
func (r *SessionReconciler) SnapshotCartOnLogout(ctx context.Context, local *localstore.Store, userID string) SnapshotResult {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return SnapshotResult{Status: SyncFailed, Err: errors.New("session reconciler: user id is required")}
	}
	remote, err := r.carts.ListItems(ctx, uid)
	if err != nil {
		err = fmt.Errorf("fetch remote cart: %w", err)
		r.logger(ctx, "cart.snapshot_fetch_failed", map[string]any{"userId": uid, "error": err.Error()})
		return SnapshotResult{Status: SyncFailed, Err: err}
	}
	if len(remote) == 0 {
		if err := local.ClearCart(ctx); err != nil {
			err = fmt.Errorf("clear guest cart: %w", err)
			r.logger(ctx, "cart.snapshot_write_failed", map[string]any{"userId": uid, "error": err.Error()})
			return SnapshotResult{Status: SyncFailed, Err: err}
		}
		return SnapshotResult{Status: SyncOK}
	}
	if err := local.WriteCart(ctx, remote); err != nil {
		err = fmt.Errorf("write guest cart: %w", err)
		r.logger(ctx, "cart.snapshot_write_failed", map[string]any{"userId": uid, "error": err.Error()})
		return SnapshotResult{Status: SyncFailed, Err: err}
	}
	return SnapshotResult{Status: SyncOK, Items: len(remote)}
}

func (r *SessionReconciler) mergeFailed(ctx context.Context, result MergeResult, event, uid string, err error) MergeResult {
	r.logger(ctx, event, map[string]any{"userId": uid, "error": err.Error()})
	result.Status = SyncFailed
	result.Err = err
	return result
}
