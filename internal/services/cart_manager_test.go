package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories/memory"
)

func testCatalog() []domain.Product {
	return []domain.Product{
		{ID: 1, Name: "Robe", PriceCurrent: 19.99, Sizes: []string{"S", "M"}, Colors: []domain.ProductColor{{ID: 4, Name: "Noir"}}},
		{ID: 2, Name: "Jupe", PriceCurrent: 30},
	}
}

func newTestManager(t *testing.T, reg *memory.Registry, mutate func(*CartManagerDeps)) *cartManager {
	t.Helper()
	deps := CartManagerDeps{
		Carts:       reg.Carts(),
		Favorites:   reg.Favorites(),
		Products:    reg.Products(),
		Guests:      reg.GuestStorage(),
		Clock:       func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { return "evt" },
	}
	if mutate != nil {
		mutate(&deps)
	}
	m, err := newCartManager(deps)
	if err != nil {
		t.Fatalf("newCartManager: %v", err)
	}
	return m
}

func TestCartManagerGuestAddIncrementsExistingLine(t *testing.T) {
	ctx := context.Background()
	reg := memory.NewRegistry(memory.WithProducts(testCatalog()...))
	m := newTestManager(t, reg, nil)
	guest := Principal{GuestSessionID: "guest-1"}

	item := domain.CartLineItem{ProductID: 1, Size: domain.StringPtr(" M "), Quantity: 1}
	if _, err := m.AddItem(ctx, guest, item); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	item.Quantity = 0
	summary, err := m.AddItem(ctx, guest, item)
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if len(summary.Items) != 1 || summary.Items[0].Quantity != 2 {
		t.Fatalf("expected one line with quantity 2, got %+v", summary.Items)
	}
	if summary.Count != 2 || summary.Subtotal != 39.98 {
		t.Fatalf("unexpected totals count=%d subtotal=%v", summary.Count, summary.Subtotal)
	}
	if summary.Items[0].Key != "1__M__" {
		t.Fatalf("unexpected key %s", summary.Items[0].Key)
	}
}

func TestCartManagerRejectsInvalidRequests(t *testing.T) {
	ctx := context.Background()
	reg := memory.NewRegistry(memory.WithProducts(testCatalog()...))
	m := newTestManager(t, reg, nil)

	if _, err := m.Cart(ctx, Principal{}); !errors.Is(err, ErrCartSessionRequired) {
		t.Fatalf("expected session required, got %v", err)
	}
	guest := Principal{GuestSessionID: "g"}
	if _, err := m.AddItem(ctx, guest, domain.CartLineItem{ProductID: 99}); !errors.Is(err, ErrCartUnknownProduct) {
		t.Fatalf("expected unknown product, got %v", err)
	}
	if _, err := m.AddItem(ctx, guest, domain.CartLineItem{ProductID: 1, Size: domain.StringPtr("XL")}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid size, got %v", err)
	}
	if _, err := m.AddItem(ctx, guest, domain.CartLineItem{ProductID: 1, ColorID: domain.Int64Ptr(8)}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid color, got %v", err)
	}
	if _, err := m.UpdateQuantity(ctx, guest, "garbage", 2); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid key, got %v", err)
	}
	if _, err := m.UpdateQuantity(ctx, guest, "2____", 2); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCartManagerSignedInOperationsUseRemoteStore(t *testing.T) {
	ctx := context.Background()
	reg := memory.NewRegistry(memory.WithProducts(testCatalog()...))
	m := newTestManager(t, reg, nil)
	user := Principal{UserID: "user-1", GuestSessionID: "guest-1"}

	if _, err := m.AddItem(ctx, user, domain.CartLineItem{ProductID: 2, Quantity: 3}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	summary, err := m.UpdateQuantity(ctx, user, "2____", -4)
	if err != nil {
		t.Fatalf("UpdateQuantity: %v", err)
	}
	if summary.Items[0].Quantity != 1 {
		t.Fatalf("expected invalid quantity to normalise to 1, got %d", summary.Items[0].Quantity)
	}
	remote, _ := reg.Carts().ListItems(ctx, "user-1")
	if len(remote) != 1 || remote[0].Quantity != 1 {
		t.Fatalf("expected remote row updated, got %+v", remote)
	}
	guestCart, _ := m.Cart(ctx, Principal{GuestSessionID: "guest-1"})
	if len(guestCart.Items) != 0 {
		t.Fatalf("expected guest cart untouched, got %+v", guestCart.Items)
	}

	if _, err := m.RemoveItem(ctx, user, "2____"); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if _, err := m.RemoveItem(ctx, user, "2____"); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected not found on second remove, got %v", err)
	}
}

func TestCartManagerClearGuestCart(t *testing.T) {
	ctx := context.Background()
	reg := memory.NewRegistry(memory.WithProducts(testCatalog()...))
	m := newTestManager(t, reg, nil)
	guest := Principal{GuestSessionID: "guest-1"}
	if _, err := m.AddItem(ctx, guest, domain.CartLineItem{ProductID: 2}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if err := m.Clear(ctx, guest); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	summary, err := m.Cart(ctx, guest)
	if err != nil {
		t.Fatalf("Cart: %v", err)
	}
	if summary.Count != 0 {
		t.Fatalf("expected empty cart, got %+v", summary)
	}
}

func TestCartManagerFavoritesToggle(t *testing.T) {
	ctx := context.Background()
	reg := memory.NewRegistry(memory.WithProducts(testCatalog()...))
	m := newTestManager(t, reg, nil)

	for _, p := range []Principal{{GuestSessionID: "guest-1"}, {UserID: "user-1"}} {
		on, err := m.ToggleFavorite(ctx, p, 2)
		if err != nil || !on {
			t.Fatalf("%+v: expected toggle on, got %v %v", p, on, err)
		}
		if ok, _ := m.IsFavorite(ctx, p, 2); !ok {
			t.Fatalf("%+v: expected favorite", p)
		}
		on, err = m.ToggleFavorite(ctx, p, 2)
		if err != nil || on {
			t.Fatalf("%+v: expected toggle off, got %v %v", p, on, err)
		}
		if err := m.RemoveFavorite(ctx, p, 2); err != nil {
			t.Fatalf("%+v: removing a missing favorite should succeed, got %v", p, err)
		}
	}
	if err := m.AddFavorite(ctx, Principal{GuestSessionID: "g"}, 404); !errors.Is(err, ErrCartUnknownProduct) {
		t.Fatalf("expected unknown product, got %v", err)
	}
}

func TestCartManagerSignInMergesGuestState(t *testing.T) {
	ctx := context.Background()
	reg := memory.NewRegistry(memory.WithProducts(testCatalog()...))
	publisher := &stubPublisher{}
	m := newTestManager(t, reg, func(d *CartManagerDeps) { d.Publisher = publisher })

	guest := Principal{GuestSessionID: "guest-1"}
	user := Principal{UserID: "user-1", GuestSessionID: "guest-1"}
	if _, err := m.AddItem(ctx, user, domain.CartLineItem{ProductID: 1, Size: domain.StringPtr("M"), Quantity: 1}); err != nil {
		t.Fatalf("seed remote: %v", err)
	}
	if _, err := m.AddItem(ctx, guest, domain.CartLineItem{ProductID: 1, Size: domain.StringPtr("M"), Quantity: 2}); err != nil {
		t.Fatalf("seed guest: %v", err)
	}
	if err := m.AddFavorite(ctx, guest, 2); err != nil {
		t.Fatalf("seed favorite: %v", err)
	}

	report := m.SignIn(ctx, "user-1", "guest-1")
	if !report.Synced() || report.Cart.Status != SyncOK || report.Favorites.Status != SyncOK {
		t.Fatalf("unexpected report %+v", report)
	}

	summary, _ := m.Cart(ctx, user)
	if len(summary.Items) != 1 || summary.Items[0].Quantity != 3 {
		t.Fatalf("expected merged quantity 3, got %+v", summary.Items)
	}
	if favs, _ := m.Favorites(ctx, user); len(favs) != 1 || favs[0] != 2 {
		t.Fatalf("expected merged favorites, got %v", favs)
	}
	if guestCart, _ := m.Cart(ctx, guest); len(guestCart.Items) != 0 {
		t.Fatalf("expected guest cart cleared, got %+v", guestCart.Items)
	}
	if events := publisher.published(); len(events) != 2 || events[0].Kind != domain.TransitionCartMerged {
		t.Fatalf("expected two events, got %+v", events)
	}

	// Signing in again must not double the quantities.
	again := m.SignIn(ctx, "user-1", "guest-1")
	if again.Cart.Status != SyncSkipped {
		t.Fatalf("expected second merge to be skipped, got %+v", again.Cart)
	}
}

func TestCartManagerSignInNeverFailsOnSyncErrors(t *testing.T) {
	ctx := context.Background()
	reg := memory.NewRegistry(memory.WithProducts(testCatalog()...))
	publisher := &stubPublisher{err: errors.New("pubsub down")}
	var logged []string
	failing := &stubCartRepository{listFunc: func(context.Context, string) ([]domain.CartLineItem, error) {
		return nil, stubRepoError{unavailable: true}
	}}
	m := newTestManager(t, reg, func(d *CartManagerDeps) {
		d.Carts = failing
		d.Publisher = publisher
		d.Logger = recordingLogger(&logged)
	})
	if err := reg.GuestStorage().ForSession("guest-1").SetItem(ctx, "cart", `[{"productId":1,"quantity":1}]`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	report := m.SignIn(ctx, "user-1", "guest-1")
	if report.Synced() || report.Cart.Status != SyncFailed || report.Err != nil {
		t.Fatalf("expected failed cart step without transition error, got %+v", report)
	}
	if report.Favorites.Status != SyncSkipped {
		t.Fatalf("expected favorites skipped, got %+v", report.Favorites)
	}
	if raw, _, _ := reg.GuestStorage().ForSession("guest-1").GetItem(ctx, "cart"); raw == "[]" {
		t.Fatal("expected guest cart to survive failed merge")
	}
	events := publisher.published()
	if len(events) != 1 || events[0].Outcome != string(SyncFailed) || events[0].Error == "" {
		t.Fatalf("expected failed event, got %+v", events)
	}
	if !contains(logged, "session.transition") || !contains(logged, "session.transition_publish_failed") {
		t.Fatalf("expected transition and publish failure logs, got %v", logged)
	}

	out := m.SignOut(ctx, "user-1", "guest-1")
	if out.Snapshot == nil || out.Snapshot.Status != SyncFailed {
		t.Fatalf("expected failed snapshot, got %+v", out)
	}
}

func TestCartManagerSignOutSnapshotsRemoteCart(t *testing.T) {
	ctx := context.Background()
	reg := memory.NewRegistry(memory.WithProducts(testCatalog()...))
	m := newTestManager(t, reg, nil)
	if _, err := m.AddItem(ctx, Principal{UserID: "user-1"}, domain.CartLineItem{ProductID: 2, Quantity: 2}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	report := m.SignOut(ctx, "user-1", "guest-2")
	if !report.Synced() || report.Snapshot.Items != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	summary, _ := m.Cart(ctx, Principal{GuestSessionID: "guest-2"})
	if summary.Count != 2 {
		t.Fatalf("expected snapshot in guest cart, got %+v", summary)
	}
}

func TestCartManagerTransitionReportsCancelledGate(t *testing.T) {
	reg := memory.NewRegistry()
	m := newTestManager(t, reg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	release, err := m.gate.Shared(context.Background(), userScope("user-1"))
	if err != nil {
		t.Fatalf("Shared: %v", err)
	}
	defer release()
	cancel()

	report := m.SignIn(ctx, "user-1", "guest-1")
	if !errors.Is(report.Err, context.Canceled) || report.Synced() {
		t.Fatalf("expected cancelled transition, got %+v", report)
	}
	if report := m.SignIn(context.Background(), " ", "guest-1"); !errors.Is(report.Err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input for empty user, got %+v", report)
	}
}

func TestScopeGateTransitionExcludesNormalTraffic(t *testing.T) {
	gate := newScopeGate()
	ctx := context.Background()

	shared, err := gate.Shared(ctx, "user:1")
	if err != nil {
		t.Fatalf("Shared: %v", err)
	}

	acquired := make(chan func())
	go func() {
		release, err := gate.Exclusive(ctx, "user:1", "guest:1")
		if err != nil {
			t.Errorf("Exclusive: %v", err)
			close(acquired)
			return
		}
		acquired <- release
	}()

	select {
	case <-acquired:
		t.Fatal("transition entered while normal traffic was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	shared()

	var releaseExclusive func()
	select {
	case releaseExclusive = <-acquired:
	case <-time.After(time.Second):
		t.Fatal("transition did not start after normal traffic finished")
	}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := gate.Shared(waitCtx, "guest:1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected normal traffic to wait for the transition, got %v", err)
	}

	releaseExclusive()
	releaseExclusive()
	if n := gate.size(); n != 0 {
		t.Fatalf("expected all scopes released, got %d", n)
	}
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
