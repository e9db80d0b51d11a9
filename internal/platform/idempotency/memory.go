package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process. Used by the memory and postgres datastore drivers.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[Key]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Key]Entry)}
}

func (s *MemoryStore) Claim(_ context.Context, key Key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claim, write, err := decide(s.lookup(key), key, fingerprint, now.UTC(), ttl)
	if err != nil {
		return Claim{}, err
	}
	if write {
		s.entries[key] = claim.Entry
	}
	return claim, nil
}

func (s *MemoryStore) Complete(_ context.Context, key Key, fingerprint string, reply Reply, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := settle(s.lookup(key), key, fingerprint, reply, now.UTC(), ttl)
	if err != nil {
		return err
	}
	s.entries[key] = entry
	return nil
}

func (s *MemoryStore) Abandon(_ context.Context, key Key) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Sweep drops up to limit expired entries; a non-positive limit sweeps everything.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if entry.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) lookup(key Key) *Entry {
	entry, ok := s.entries[key]
	if !ok {
		return nil
	}
	return &entry
}
