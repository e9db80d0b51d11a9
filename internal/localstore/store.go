// Package localstore persists a guest's cart and favorites in guest-scoped key/value storage.
package localstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hanko-field/storefront/internal/domain"
)

const (
	// CartKey is the storage key holding the serialised cart.
	CartKey = "cart"
	// FavoritesKey is the storage key holding the serialised favorites list.
	FavoritesKey = "favorites"
)

// ErrStorageUnavailable is returned by Storage implementations that cannot reach their backend.
var ErrStorageUnavailable = errors.New("localstore: storage unavailable")

// Storage is a string key/value store scoped to one guest session.
type Storage interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

// Store reads and writes cart and favorites state over a Storage. A Store without storage
// behaves as an always-empty, write-ignoring store.
type Store struct {
	storage Storage
	logger  func(context.Context, string, map[string]any)
}

// Option customises a Store.
type Option func(*Store)

// WithLogger sets the structured logger used for recovered read failures.
func WithLogger(logger func(context.Context, string, map[string]any)) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a Store over storage. storage may be nil.
func New(storage Storage, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		logger:  func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Available reports whether the store is backed by storage.
func (s *Store) Available() bool {
	return s != nil && s.storage != nil
}

// ReadCart returns the sanitised stored cart. Missing, corrupt or unreadable data yields an
// empty cart. Entries sharing a key are collapsed with their quantities summed.
func (s *Store) ReadCart(ctx context.Context) []domain.CartLineItem {
	items, err := s.LoadCart(ctx)
	if err != nil {
		s.logger(ctx, "localstore.read_failed", map[string]any{"key": CartKey, "error": err.Error()})
		return []domain.CartLineItem{}
	}
	return items
}

// LoadCart is ReadCart for read-modify-write callers: a storage read failure is returned instead of
// being reported as an empty cart. Corrupt data is still recovered as empty.
func (s *Store) LoadCart(ctx context.Context) ([]domain.CartLineItem, error) {
	entries, err := s.readArray(ctx, CartKey)
	if err != nil {
		return nil, err
	}
	items := make([]domain.CartLineItem, 0, len(entries))
	for _, raw := range entries {
		var entry map[string]any
		if err := decodeNumbers(raw, &entry); err != nil {
			continue
		}
		item, ok := domain.SanitizeCartEntry(entry)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return domain.CollapseLineItems(items), nil
}

// WriteCart sanitises items and overwrites the stored cart.
func (s *Store) WriteCart(ctx context.Context, items []domain.CartLineItem) error {
	if !s.Available() {
		return nil
	}
	sanitized := domain.SanitizeLineItems(items)
	payload, err := json.Marshal(sanitized)
	if err != nil {
		return fmt.Errorf("localstore: encode cart: %w", err)
	}
	if err := s.storage.SetItem(ctx, CartKey, string(payload)); err != nil {
		return fmt.Errorf("localstore: write cart: %w", err)
	}
	return nil
}

// ClearCart stores an empty cart.
func (s *Store) ClearCart(ctx context.Context) error {
	return s.WriteCart(ctx, nil)
}

// Favorites returns the stored favorite product ids in stored order without duplicates. Any
// failure yields an empty list.
func (s *Store) Favorites(ctx context.Context) []int64 {
	ids, err := s.LoadFavorites(ctx)
	if err != nil {
		s.logger(ctx, "localstore.read_failed", map[string]any{"key": FavoritesKey, "error": err.Error()})
		return []int64{}
	}
	return ids
}

// LoadFavorites is Favorites with storage read failures returned.
func (s *Store) LoadFavorites(ctx context.Context) ([]int64, error) {
	entries, err := s.readArray(ctx, FavoritesKey)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(entries))
	seen := make(map[int64]struct{}, len(entries))
	for _, raw := range entries {
		var value any
		if err := decodeNumbers(raw, &value); err != nil {
			continue
		}
		id, ok := domain.NormalizeID(value)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// WriteFavorites overwrites the stored favorites list.
func (s *Store) WriteFavorites(ctx context.Context, productIDs []int64) error {
	if !s.Available() {
		return nil
	}
	ids := make([]int64, 0, len(productIDs))
	seen := make(map[int64]struct{}, len(productIDs))
	for _, id := range productIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	payload, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("localstore: encode favorites: %w", err)
	}
	if err := s.storage.SetItem(ctx, FavoritesKey, string(payload)); err != nil {
		return fmt.Errorf("localstore: write favorites: %w", err)
	}
	return nil
}

// ClearFavorites removes the favorites key.
func (s *Store) ClearFavorites(ctx context.Context) error {
	if !s.Available() {
		return nil
	}
	if err := s.storage.RemoveItem(ctx, FavoritesKey); err != nil {
		return fmt.Errorf("localstore: clear favorites: %w", err)
	}
	return nil
}

// readArray returns the JSON array stored under key. Only storage failures are errors; absent or
// corrupt values read as empty.
func (s *Store) readArray(ctx context.Context, key string) ([]json.RawMessage, error) {
	if !s.Available() {
		return nil, nil
	}
	raw, found, err := s.storage.GetItem(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("localstore: read %s: %w", key, err)
	}
	if !found || raw == "" {
		return nil, nil
	}
	var entries []json.RawMessage
	if err := decodeNumbers(json.RawMessage(raw), &entries); err != nil {
		s.logger(ctx, "localstore.corrupt_value", map[string]any{"key": key, "error": err.Error()})
		return nil, nil
	}
	return entries, nil
}

func decodeNumbers(raw json.RawMessage, dst any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	return decoder.Decode(dst)
}
