package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rkohli77/chatbot/internal/ratelimit"
)

// CounterStore keeps rate-limit counters in process memory. It is suitable
// for a single node; use the Redis store when requests fan out across nodes.
type CounterStore struct {
	mu       sync.RWMutex
	counters map[string]counterEntry
	now      func() time.Time
}

type counterEntry struct {
	counter   ratelimit.Counter
	expiresAt time.Time
}

func NewCounterStore() *CounterStore {
	return &CounterStore{
		counters: make(map[string]counterEntry),
		now:      time.Now,
	}
}

// WithClock overrides the expiry clock.
func (s *CounterStore) WithClock(now func() time.Time) *CounterStore {
	s.now = now
	return s
}

func (s *CounterStore) Get(_ context.Context, key string) (ratelimit.Counter, bool, error) {
	s.mu.RLock()
	entry, ok := s.counters[key]
	s.mu.RUnlock()

	if !ok || !s.now().Before(entry.expiresAt) {
		return ratelimit.Counter{}, false, nil
	}
	return entry.counter, true, nil
}

func (s *CounterStore) Put(_ context.Context, key string, counter ratelimit.Counter, ttl time.Duration) error {
	s.mu.Lock()
	s.counters[key] = counterEntry{counter: counter, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

// DeleteExpired drops lapsed counters and returns how many were removed.
func (s *CounterStore) DeleteExpired() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.counters {
		if !now.Before(entry.expiresAt) {
			delete(s.counters, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored counters, expired ones included.
func (s *CounterStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.counters)
}

var _ ratelimit.CounterStore = (*CounterStore)(nil)
