package localstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStorage is an in-process Storage used for local development and tests.
type MemoryStorage struct {
	mu        sync.RWMutex
	values    map[string]string
	updatedAt time.Time
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage constructs an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string), updatedAt: time.Now()}
}

func (m *MemoryStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	return value, ok, nil
}

func (m *MemoryStorage) SetItem(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.updatedAt = time.Now()
	return nil
}

func (m *MemoryStorage) RemoveItem(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	m.updatedAt = time.Now()
	return nil
}

// MemorySessions hands out one MemoryStorage per guest session id.
type MemorySessions struct {
	mu       sync.Mutex
	sessions map[string]*MemoryStorage
}

// NewMemorySessions constructs an empty session map.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: make(map[string]*MemoryStorage)}
}

// ForSession returns the storage for sessionID, creating it on first use. An empty id yields nil.
func (m *MemorySessions) ForSession(sessionID string) Storage {
	if sessionID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	storage, ok := m.sessions[sessionID]
	if !ok {
		storage = NewMemoryStorage()
		m.sessions[sessionID] = storage
	}
	return storage
}

// PurgeIdle drops up to limit sessions not written since idleBefore. A non-positive limit purges
// every idle session.
func (m *MemorySessions) PurgeIdle(ctx context.Context, idleBefore time.Time, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, storage := range m.sessions {
		if limit > 0 && removed >= limit {
			break
		}
		storage.mu.RLock()
		idle := storage.updatedAt.Before(idleBefore)
		storage.mu.RUnlock()
		if idle {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Touch marks an existing session as written now.
func (m *MemorySessions) Touch(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	storage, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	storage.mu.Lock()
	storage.updatedAt = time.Now()
	storage.mu.Unlock()
	return nil
}
