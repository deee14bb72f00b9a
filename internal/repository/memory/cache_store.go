package memory

import (
	"context"
	"sync"
	"time"
)

// CacheStore is a process-local TTL byte store for the config cache.
type CacheStore struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewCacheStore() *CacheStore {
	return &CacheStore{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (s *CacheStore) WithClock(now func() time.Time) *CacheStore {
	s.now = now
	return s
}

func (s *CacheStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || !s.now().Before(entry.expiresAt) {
		return nil, false, nil
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

func (s *CacheStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	s.entries[key] = cacheEntry{value: stored, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *CacheStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// DeleteExpired drops lapsed entries and returns how many were removed.
func (s *CacheStore) DeleteExpired() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
