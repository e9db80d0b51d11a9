package services

import (
	"context"
	"sync"

	domain "github.com/hanko-field/storefront/internal/domain"
)

type stubCartRepository struct {
	listFunc      func(ctx context.Context, userID string) ([]domain.CartLineItem, error)
	upsertFunc    func(ctx context.Context, userID string, items []domain.CartLineItem) error
	deleteFunc    func(ctx context.Context, userID string, key domain.CartKey) error
	deleteAllFunc func(ctx context.Context, userID string) error
	listCalls     int
}

func (s *stubCartRepository) ListItems(ctx context.Context, userID string) ([]domain.CartLineItem, error) {
	s.listCalls++
	if s.listFunc != nil {
		return s.listFunc(ctx, userID)
	}
	return nil, nil
}

func (s *stubCartRepository) UpsertItems(ctx context.Context, userID string, items []domain.CartLineItem) error {
	if s.upsertFunc != nil {
		return s.upsertFunc(ctx, userID, items)
	}
	return nil
}

func (s *stubCartRepository) DeleteItem(ctx context.Context, userID string, key domain.CartKey) error {
	if s.deleteFunc != nil {
		return s.deleteFunc(ctx, userID, key)
	}
	return nil
}

func (s *stubCartRepository) DeleteAll(ctx context.Context, userID string) error {
	if s.deleteAllFunc != nil {
		return s.deleteAllFunc(ctx, userID)
	}
	return nil
}

type stubFavoriteRepository struct {
	listFunc   func(ctx context.Context, userID string) ([]int64, error)
	upsertFunc func(ctx context.Context, userID string, ids []int64) error
	deleteFunc func(ctx context.Context, userID string, productID int64) error
}

func (s *stubFavoriteRepository) List(ctx context.Context, userID string) ([]int64, error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, userID)
	}
	return nil, nil
}

func (s *stubFavoriteRepository) Upsert(ctx context.Context, userID string, ids []int64) error {
	if s.upsertFunc != nil {
		return s.upsertFunc(ctx, userID, ids)
	}
	return nil
}

func (s *stubFavoriteRepository) Delete(ctx context.Context, userID string, productID int64) error {
	if s.deleteFunc != nil {
		return s.deleteFunc(ctx, userID, productID)
	}
	return nil
}

type stubProductRepository struct {
	listFunc    func(ctx context.Context, query domain.ProductQuery) (domain.ProductPage, error)
	getFunc     func(ctx context.Context, id int64) (domain.Product, error)
	getManyFunc func(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	slugFunc    func(ctx context.Context, slug string) (domain.Product, error)
}

func (s *stubProductRepository) List(ctx context.Context, query domain.ProductQuery) (domain.ProductPage, error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, query)
	}
	return domain.ProductPage{}, nil
}

func (s *stubProductRepository) GetMany(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	if s.getManyFunc != nil {
		return s.getManyFunc(ctx, ids)
	}
	return map[int64]domain.Product{}, nil
}

func (s *stubProductRepository) Get(ctx context.Context, id int64) (domain.Product, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, id)
	}
	return domain.Product{ID: id}, nil
}

func (s *stubProductRepository) GetBySlug(ctx context.Context, slug string) (domain.Product, error) {
	if s.slugFunc != nil {
		return s.slugFunc(ctx, slug)
	}
	return domain.Product{}, stubRepoError{notFound: true}
}

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return "repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

type stubPublisher struct {
	mu     sync.Mutex
	events []domain.TransitionEvent
	err    error
}

func (s *stubPublisher) PublishTransition(_ context.Context, event domain.TransitionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *stubPublisher) published() []domain.TransitionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TransitionEvent(nil), s.events...)
}

func recordingLogger(events *[]string) func(context.Context, string, map[string]any) {
	var mu sync.Mutex
	return func(_ context.Context, event string, _ map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		*events = append(*events, event)
	}
}
