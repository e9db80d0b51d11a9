package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/localstore"
	"github.com/hanko-field/storefront/internal/repositories"
)

const cartMeterName = "github.com/hanko-field/storefront/internal/services"

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart service: invalid input")
	// ErrCartSessionRequired indicates a guest request arrived without a guest session.
	ErrCartSessionRequired = errors.New("cart service: guest session required")
	// ErrCartUnknownProduct indicates the referenced product is not in the catalog.
	ErrCartUnknownProduct = errors.New("cart service: unknown product")
	// ErrCartNotFound indicates the cart line does not exist.
	ErrCartNotFound = errors.New("cart service: not found")
	// ErrCartConflict indicates a concurrent modification rejected the write.
	ErrCartConflict = errors.New("cart service: conflict")
	// ErrCartUnavailable indicates a backend failure.
	ErrCartUnavailable = errors.New("cart service: unavailable")
)

// TransitionKind distinguishes sign-in from sign-out reports.
type TransitionKind string

const (
	TransitionSignIn  TransitionKind = "sign_in"
	TransitionSignOut TransitionKind = "sign_out"
)

// TransitionReport describes what a sign-in or sign-out did to the user's cart and favorites. Err is
// set only when the transition could not start, for example because ctx was cancelled while
// waiting for in-flight requests.
type TransitionReport struct {
	Kind           TransitionKind
	UserID         string
	GuestSessionID string
	Cart           *MergeResult
	Favorites      *MergeResult
	Snapshot       *SnapshotResult
	StartedAt      time.Time
	Duration       time.Duration
	Err            error
}

// Synced reports whether every step succeeded or had nothing to do.
func (r TransitionReport) Synced() bool {
	if r.Err != nil {
		return false
	}
	if r.Cart != nil && r.Cart.Status == SyncFailed {
		return false
	}
	if r.Favorites != nil && r.Favorites.Status == SyncFailed {
		return false
	}
	if r.Snapshot != nil && r.Snapshot.Status == SyncFailed {
		return false
	}
	return true
}

// CartManagerDeps wires the repositories and collaborators of the cart facade.
type CartManagerDeps struct {
	Carts       repositories.CartRepository
	Favorites   repositories.FavoriteRepository
	Products    repositories.ProductRepository
	Guests      repositories.GuestStorage
	Publisher   TransitionPublisher
	Meter       metric.Meter
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type cartManager struct {
	carts      repositories.CartRepository
	favorites  repositories.FavoriteRepository
	products   repositories.ProductRepository
	guests     repositories.GuestStorage
	reconciler *SessionReconciler
	publisher  TransitionPublisher
	gate       *scopeGate
	now        func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)

	transitions metric.Int64Counter
}

var _ CartManager = (*cartManager)(nil)

// NewCartManager constructs the cart facade.
func NewCartManager(deps CartManagerDeps) (CartManager, error) {
	return newCartManager(deps)
}

func newCartManager(deps CartManagerDeps) (*cartManager, error) {
	if deps.Carts == nil || deps.Favorites == nil || deps.Products == nil {
		return nil, errors.New("cart manager: cart, favorite and product repositories are required")
	}
	if deps.Guests == nil {
		return nil, errors.New("cart manager: guest storage is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(cartMeterName)
	}
	transitions, err := meter.Int64Counter("storefront.session.transitions",
		metric.WithDescription("Session transition steps by kind, step and outcome"),
	)
	if err != nil {
		return nil, err
	}
	reconciler, err := NewSessionReconciler(SessionReconcilerDeps{
		Carts:     deps.Carts,
		Favorites: deps.Favorites,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return &cartManager{
		carts:       deps.Carts,
		favorites:   deps.Favorites,
		products:    deps.Products,
		guests:      deps.Guests,
		reconciler:  reconciler,
		publisher:   deps.Publisher,
		gate:        newScopeGate(),
		now:         func() time.Time { return clock().UTC() },
		newID:       idGen,
		logger:      logger,
		transitions: transitions,
	}, nil
}

func (m *cartManager) Cart(ctx context.Context, p Principal) (CartSummary, error) {
	release, err := m.enter(ctx, p)
	if err != nil {
		return CartSummary{}, err
	}
	defer release()

	items, err := m.loadCart(ctx, p)
	if err != nil {
		return CartSummary{}, err
	}
	return m.summarize(ctx, items)
}

// AddItem inserts the line or, when its key is already in the cart, increases the quantity by the
// normalised amount.
func (m *cartManager) AddItem(ctx context.Context, p Principal, item CartLineItem) (CartSummary, error) {
	if item.ProductID <= 0 {
		return CartSummary{}, ErrCartInvalidInput
	}
	item = domain.SanitizeLineItem(item)
	release, err := m.enter(ctx, p)
	if err != nil {
		return CartSummary{}, err
	}
	defer release()

	if err := m.checkVariant(ctx, item); err != nil {
		return CartSummary{}, err
	}
	items, err := m.loadCart(ctx, p)
	if err != nil {
		return CartSummary{}, err
	}
	row := item
	if pos := domain.FindLineItem(items, item.Key()); pos >= 0 {
		items[pos].Quantity = domain.AddQuantities(items[pos].Quantity, item.Quantity)
		row = items[pos]
	} else {
		items = append(items, item)
	}
	if err := m.saveRow(ctx, p, items, row); err != nil {
		return CartSummary{}, err
	}
	return m.summarize(ctx, items)
}

// UpdateQuantity replaces the quantity of an existing line. Invalid quantities become 1.
func (m *cartManager) UpdateQuantity(ctx context.Context, p Principal, key CartKey, quantity int) (CartSummary, error) {
	canonical, ok := canonicalKey(key)
	if !ok {
		return CartSummary{}, ErrCartInvalidInput
	}
	release, err := m.enter(ctx, p)
	if err != nil {
		return CartSummary{}, err
	}
	defer release()

	items, err := m.loadCart(ctx, p)
	if err != nil {
		return CartSummary{}, err
	}
	pos := domain.FindLineItem(items, canonical)
	if pos < 0 {
		return CartSummary{}, ErrCartNotFound
	}
	items[pos].Quantity = domain.NormalizeQuantity(quantity)
	if err := m.saveRow(ctx, p, items, items[pos]); err != nil {
		return CartSummary{}, err
	}
	return m.summarize(ctx, items)
}

func (m *cartManager) RemoveItem(ctx context.Context, p Principal, key CartKey) (CartSummary, error) {
	canonical, ok := canonicalKey(key)
	if !ok {
		return CartSummary{}, ErrCartInvalidInput
	}
	release, err := m.enter(ctx, p)
	if err != nil {
		return CartSummary{}, err
	}
	defer release()

	if !p.Guest() {
		if err := m.carts.DeleteItem(ctx, p.UserID, canonical); err != nil {
			return CartSummary{}, translateCartError(err)
		}
		items, err := m.loadCart(ctx, p)
		if err != nil {
			return CartSummary{}, err
		}
		return m.summarize(ctx, items)
	}

	local := m.localStore(p.GuestSessionID)
	items, err := local.LoadCart(ctx)
	if err != nil {
		return CartSummary{}, errors.Join(ErrCartUnavailable, err)
	}
	pos := domain.FindLineItem(items, canonical)
	if pos < 0 {
		return CartSummary{}, ErrCartNotFound
	}
	items = slices.Delete(items, pos, pos+1)
	if err := local.WriteCart(ctx, items); err != nil {
		return CartSummary{}, errors.Join(ErrCartUnavailable, err)
	}
	return m.summarize(ctx, items)
}

// Clear empties the cart. This is the only path that deletes remote cart rows.
func (m *cartManager) Clear(ctx context.Context, p Principal) error {
	release, err := m.enter(ctx, p)
	if err != nil {
		return err
	}
	defer release()

	if !p.Guest() {
		return translateCartError(m.carts.DeleteAll(ctx, p.UserID))
	}
	if err := m.localStore(p.GuestSessionID).ClearCart(ctx); err != nil {
		return errors.Join(ErrCartUnavailable, err)
	}
	return nil
}

func (m *cartManager) Favorites(ctx context.Context, p Principal) ([]int64, error) {
	release, err := m.enter(ctx, p)
	if err != nil {
		return nil, err
	}
	defer release()
	return m.loadFavorites(ctx, p)
}

func (m *cartManager) AddFavorite(ctx context.Context, p Principal, productID int64) error {
	if productID <= 0 {
		return ErrCartInvalidInput
	}
	release, err := m.enter(ctx, p)
	if err != nil {
		return err
	}
	defer release()
	return m.addFavorite(ctx, p, productID)
}

func (m *cartManager) RemoveFavorite(ctx context.Context, p Principal, productID int64) error {
	if productID <= 0 {
		return ErrCartInvalidInput
	}
	release, err := m.enter(ctx, p)
	if err != nil {
		return err
	}
	defer release()
	return m.removeFavorite(ctx, p, productID)
}

// ToggleFavorite flips membership and returns the new state.
func (m *cartManager) ToggleFavorite(ctx context.Context, p Principal, productID int64) (bool, error) {
	if productID <= 0 {
		return false, ErrCartInvalidInput
	}
	release, err := m.enter(ctx, p)
	if err != nil {
		return false, err
	}
	defer release()

	ids, err := m.loadFavorites(ctx, p)
	if err != nil {
		return false, err
	}
	if slices.Contains(ids, productID) {
		return false, m.removeFavorite(ctx, p, productID)
	}
	return true, m.addFavorite(ctx, p, productID)
}

func (m *cartManager) IsFavorite(ctx context.Context, p Principal, productID int64) (bool, error) {
	release, err := m.enter(ctx, p)
	if err != nil {
		return false, err
	}
	defer release()

	ids, err := m.loadFavorites(ctx, p)
	if err != nil {
		return false, err
	}
	return slices.Contains(ids, productID), nil
}

func (m *cartManager) SignIn(ctx context.Context, userID, guestSessionID string) TransitionReport {
	report := m.startReport(TransitionSignIn, userID, guestSessionID)
	if report.Err == nil {
		release, err := m.gate.Exclusive(ctx, userScope(report.UserID), guestScope(report.GuestSessionID))
		if err != nil {
			report.Err = err
		} else {
			local := m.localStore(report.GuestSessionID)
			cart := m.reconciler.MergeCartOnLogin(ctx, local, report.UserID)
			favorites := m.reconciler.MergeFavoritesOnLogin(ctx, local, report.UserID)
			release()
			report.Cart = &cart
			report.Favorites = &favorites
		}
	}
	return m.finishReport(ctx, report)
}

func (m *cartManager) SignOut(ctx context.Context, userID, guestSessionID string) TransitionReport {
	report := m.startReport(TransitionSignOut, userID, guestSessionID)
	if report.Err == nil {
		release, err := m.gate.Exclusive(ctx, userScope(report.UserID), guestScope(report.GuestSessionID))
		if err != nil {
			report.Err = err
		} else {
			snapshot := m.reconciler.SnapshotCartOnLogout(ctx, m.localStore(report.GuestSessionID), report.UserID)
			release()
			report.Snapshot = &snapshot
		}
	}
	return m.finishReport(ctx, report)
}

func (m *cartManager) startReport(kind TransitionKind, userID, guestSessionID string) TransitionReport {
	report := TransitionReport{
		Kind:           kind,
		UserID:         strings.TrimSpace(userID),
		GuestSessionID: strings.TrimSpace(guestSessionID),
		StartedAt:      m.now(),
	}
	if report.UserID == "" {
		report.Err = ErrCartInvalidInput
	}
	return report
}

// finishReport logs, counts and publishes the transition. None of it can fail the transition.
func (m *cartManager) finishReport(ctx context.Context, report TransitionReport) TransitionReport {
	report.Duration = m.now().Sub(report.StartedAt)

	fields := map[string]any{
		"kind":           string(report.Kind),
		"userId":         report.UserID,
		"guestSessionId": report.GuestSessionID,
		"synced":         report.Synced(),
		"durationMs":     report.Duration.Milliseconds(),
	}
	if report.Err != nil {
		fields["error"] = report.Err.Error()
	}

	var events []TransitionEvent
	if report.Cart != nil {
		fields["cart"] = string(report.Cart.Status)
		events = append(events, m.event(report, domain.TransitionCartMerged, report.Cart.Status, report.Cart.MergedItems, report.Cart.Err))
	}
	if report.Favorites != nil {
		fields["favorites"] = string(report.Favorites.Status)
		events = append(events, m.event(report, domain.TransitionFavoritesMerged, report.Favorites.Status, report.Favorites.MergedItems, report.Favorites.Err))
	}
	if report.Snapshot != nil {
		fields["snapshot"] = string(report.Snapshot.Status)
		events = append(events, m.event(report, domain.TransitionCartSnapshot, report.Snapshot.Status, report.Snapshot.Items, report.Snapshot.Err))
	}
	m.logger(ctx, "session.transition", fields)

	if report.Err != nil {
		m.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(report.Kind)),
			attribute.String("step", "gate"),
			attribute.String("outcome", string(SyncFailed)),
		))
	}
	for _, event := range events {
		m.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(report.Kind)),
			attribute.String("step", string(event.Kind)),
			attribute.String("outcome", event.Outcome),
		))
		if event.Outcome == string(SyncSkipped) || m.publisher == nil {
			continue
		}
		if err := m.publisher.PublishTransition(ctx, event); err != nil {
			m.logger(ctx, "session.transition_publish_failed", map[string]any{
				"eventId": event.ID,
				"kind":    string(event.Kind),
				"error":   err.Error(),
			})
		}
	}
	return report
}

func (m *cartManager) event(report TransitionReport, kind domain.TransitionKind, status SyncStatus, items int, err error) TransitionEvent {
	event := TransitionEvent{
		ID:             m.newID(),
		Kind:           kind,
		UserID:         report.UserID,
		GuestSessionID: report.GuestSessionID,
		Outcome:        string(status),
		Items:          items,
		OccurredAt:     report.StartedAt.Add(report.Duration),
	}
	if err != nil {
		event.Error = err.Error()
	}
	return event
}

// enter joins the normal phase of the principal's scope.
func (m *cartManager) enter(ctx context.Context, p Principal) (func(), error) {
	if p.Guest() {
		if strings.TrimSpace(p.GuestSessionID) == "" {
			return nil, ErrCartSessionRequired
		}
		return m.gate.Shared(ctx, guestScope(p.GuestSessionID))
	}
	return m.gate.Shared(ctx, userScope(p.UserID))
}

func (m *cartManager) localStore(sessionID string) *localstore.Store {
	return localstore.New(m.guests.ForSession(sessionID), localstore.WithLogger(m.logger))
}

func (m *cartManager) loadCart(ctx context.Context, p Principal) ([]CartLineItem, error) {
	if p.Guest() {
		items, err := m.localStore(p.GuestSessionID).LoadCart(ctx)
		if err != nil {
			return nil, errors.Join(ErrCartUnavailable, err)
		}
		return items, nil
	}
	items, err := m.carts.ListItems(ctx, p.UserID)
	if err != nil {
		return nil, translateCartError(err)
	}
	return items, nil
}

// saveRow persists a changed line: guests rewrite their whole cart, users upsert the one row.
func (m *cartManager) saveRow(ctx context.Context, p Principal, items []CartLineItem, row CartLineItem) error {
	if p.Guest() {
		if err := m.localStore(p.GuestSessionID).WriteCart(ctx, items); err != nil {
			return errors.Join(ErrCartUnavailable, err)
		}
		return nil
	}
	return translateCartError(m.carts.UpsertItems(ctx, p.UserID, []CartLineItem{row}))
}

func (m *cartManager) summarize(ctx context.Context, items []CartLineItem) (CartSummary, error) {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if !slices.Contains(ids, item.ProductID) {
			ids = append(ids, item.ProductID)
		}
	}
	products := map[int64]Product{}
	if len(ids) > 0 {
		var err error
		if products, err = m.products.GetMany(ctx, ids); err != nil {
			return CartSummary{}, translateCartError(err)
		}
	}
	return domain.SummarizeCart(items, products), nil
}

// checkVariant rejects unknown products and sizes or colors the product does not offer.
func (m *cartManager) checkVariant(ctx context.Context, item CartLineItem) error {
	product, err := m.products.Get(ctx, item.ProductID)
	if err != nil {
		if isRepoNotFound(err) {
			return ErrCartUnknownProduct
		}
		return translateCartError(err)
	}
	if item.Size != nil && len(product.Sizes) > 0 && !slices.Contains(product.Sizes, *item.Size) {
		return ErrCartInvalidInput
	}
	if item.ColorID != nil && len(product.Colors) > 0 && product.Color(*item.ColorID) == nil {
		return ErrCartInvalidInput
	}
	return nil
}

func (m *cartManager) loadFavorites(ctx context.Context, p Principal) ([]int64, error) {
	if p.Guest() {
		ids, err := m.localStore(p.GuestSessionID).LoadFavorites(ctx)
		if err != nil {
			return nil, errors.Join(ErrCartUnavailable, err)
		}
		return ids, nil
	}
	ids, err := m.favorites.List(ctx, p.UserID)
	if err != nil {
		return nil, translateCartError(err)
	}
	return ids, nil
}

func (m *cartManager) addFavorite(ctx context.Context, p Principal, productID int64) error {
	if _, err := m.products.Get(ctx, productID); err != nil {
		if isRepoNotFound(err) {
			return ErrCartUnknownProduct
		}
		return translateCartError(err)
	}
	if !p.Guest() {
		return translateCartError(m.favorites.Upsert(ctx, p.UserID, []int64{productID}))
	}
	local := m.localStore(p.GuestSessionID)
	ids, err := local.LoadFavorites(ctx)
	if err != nil {
		return errors.Join(ErrCartUnavailable, err)
	}
	if slices.Contains(ids, productID) {
		return nil
	}
	if err := local.WriteFavorites(ctx, append(ids, productID)); err != nil {
		return errors.Join(ErrCartUnavailable, err)
	}
	return nil
}

func (m *cartManager) removeFavorite(ctx context.Context, p Principal, productID int64) error {
	if !p.Guest() {
		return translateCartError(m.favorites.Delete(ctx, p.UserID, productID))
	}
	local := m.localStore(p.GuestSessionID)
	ids, err := local.LoadFavorites(ctx)
	if err != nil {
		return errors.Join(ErrCartUnavailable, err)
	}
	pos := slices.Index(ids, productID)
	if pos < 0 {
		return nil
	}
	if err := local.WriteFavorites(ctx, slices.Delete(ids, pos, pos+1)); err != nil {
		return errors.Join(ErrCartUnavailable, err)
	}
	return nil
}

func canonicalKey(key CartKey) (CartKey, bool) {
	item, ok := domain.ParseCartKey(CartKey(strings.TrimSpace(string(key))))
	if !ok {
		return "", false
	}
	return item.Key(), true
}

func translateCartError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		}
	}
	return errors.Join(ErrCartUnavailable, err)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}
