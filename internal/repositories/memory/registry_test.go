package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

func TestCartUpsertReplacesQuantityByKey(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	carts := reg.Carts()

	item := domain.CartLineItem{ProductID: 1, Size: domain.StringPtr("M"), Quantity: 2}
	if err := carts.UpsertItems(ctx, "u1", []domain.CartLineItem{item}); err != nil {
		t.Fatalf("UpsertItems: %v", err)
	}
	item.Quantity = 5
	if err := carts.UpsertItems(ctx, "u1", []domain.CartLineItem{item}); err != nil {
		t.Fatalf("UpsertItems: %v", err)
	}
	items, err := carts.ListItems(ctx, "u1")
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 1 || items[0].Quantity != 5 {
		t.Fatalf("expected single row with quantity 5, got %+v", items)
	}
}

func TestCartDeleteMissingItemIsNotFound(t *testing.T) {
	err := NewRegistry().Carts().DeleteItem(context.Background(), "u1", "9____")
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFavoritesIgnoreDuplicates(t *testing.T) {
	ctx := context.Background()
	favs := NewRegistry().Favorites()
	if err := favs.Upsert(ctx, "u1", []int64{1, 2}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := favs.Upsert(ctx, "u1", []int64{2, 3}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	ids, err := favs.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 3 || ids[0] != 3 {
		t.Fatalf("expected [3 2 1], got %v", ids)
	}
	if err := favs.Delete(ctx, "u1", 2); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ids, _ = favs.List(ctx, "u1"); len(ids) != 2 {
		t.Fatalf("expected two favorites, got %v", ids)
	}
}

func TestProductListFiltersAndPages(t *testing.T) {
	category := int64(2)
	reg := NewRegistry(WithProducts(
		domain.Product{ID: 1, Name: "Robe longue", CategoryID: &category, PriceCurrent: 30},
		domain.Product{ID: 2, Name: "Robe courte", SubcategoryID: &category, PriceCurrent: 70},
		domain.Product{ID: 3, Name: "Jupe", CategoryID: &category, PriceCurrent: 10},
	))
	page, err := reg.Products().List(context.Background(), domain.ProductQuery{
		CategoryID: &category,
		Search:     "ROBE",
		Sort:       domain.SortPriceDesc,
		PageSize:   1,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 1 || page.Items[0].ID != 2 || page.NextOffset != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestProfileUpdateRequiresExistingProfile(t *testing.T) {
	ctx := context.Background()
	profiles := NewRegistry().Profiles()
	name := "Ada"
	if _, err := profiles.Update(ctx, "u1", domain.ProfilePatch{FirstName: &name}); err == nil {
		t.Fatal("expected error for missing profile")
	}
	if _, err := profiles.Upsert(ctx, domain.Profile{ID: "u1", Email: "a@b.co"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	updated, err := profiles.Update(ctx, "u1", domain.ProfilePatch{FirstName: &name})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.FirstName != "Ada" || updated.Email != "a@b.co" {
		t.Fatalf("unexpected profile %+v", updated)
	}
}

func TestGuestStorageScopedBySession(t *testing.T) {
	reg := NewRegistry()
	if reg.GuestStorage().ForSession("") != nil {
		t.Fatal("expected nil storage for empty session")
	}
	ctx := context.Background()
	if err := reg.GuestStorage().ForSession("a").SetItem(ctx, "cart", "[]"); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	if _, ok, _ := reg.GuestStorage().ForSession("b").GetItem(ctx, "cart"); ok {
		t.Fatal("expected sessions to be isolated")
	}
}

func TestGuestStoragePurgesIdleSessions(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	if err := reg.GuestStorage().ForSession("stale").SetItem(ctx, "cart", `[{"productId":1,"quantity":1}]`); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	cutoff := time.Now().Add(time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if err := reg.GuestStorage().ForSession("fresh").SetItem(ctx, "cart", "[]"); err != nil {
		t.Fatalf("SetItem: %v", err)
	}

	sweeper, ok := reg.GuestStorage().(repositories.GuestStorageSweeper)
	if !ok {
		t.Fatal("expected memory guest storage to support purging")
	}
	removed, err := sweeper.PurgeIdle(ctx, cutoff, 0)
	if err != nil {
		t.Fatalf("PurgeIdle: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one idle session purged, got %d", removed)
	}
	if _, ok, _ := reg.GuestStorage().ForSession("stale").GetItem(ctx, "cart"); ok {
		t.Fatal("expected stale session state to be gone")
	}
	if _, ok, _ := reg.GuestStorage().ForSession("fresh").GetItem(ctx, "cart"); !ok {
		t.Fatal("expected fresh session to survive")
	}
}

func TestGuestStorageTouchKeepsSessionAlive(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	if err := reg.GuestStorage().ForSession("reader").SetItem(ctx, "favorites", "[3]"); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	cutoff := time.Now().Add(time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	sweeper := reg.GuestStorage().(repositories.GuestStorageSweeper)
	if err := sweeper.Touch(ctx, "reader"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := sweeper.Touch(ctx, "unknown"); err != nil {
		t.Fatalf("Touch unknown session: %v", err)
	}
	if removed, err := sweeper.PurgeIdle(ctx, cutoff, 0); err != nil || removed != 0 {
		t.Fatalf("expected touched session to survive, removed=%d err=%v", removed, err)
	}
	if raw, ok, _ := reg.GuestStorage().ForSession("reader").GetItem(ctx, "favorites"); !ok || raw != "[3]" {
		t.Fatalf("expected favorites kept, got %q", raw)
	}
}
