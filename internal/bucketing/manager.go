package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/rkohli77/chatbot/internal/models"
)

// Manager spreads wide Scylla partitions over a fixed number of buckets.
// Changing the bucket count orphans existing rows, so it is set once per cluster.
type Manager struct {
	entryBuckets int
	hasherPool   sync.Pool
}

func NewManager(entryBuckets int) *Manager {
	if entryBuckets <= 0 {
		entryBuckets = 1
	}
	return &Manager{
		entryBuckets: entryBuckets,
		hasherPool: sync.Pool{
			New: func() any {
				return murmur3.New64()
			},
		},
	}
}

// EntryBucket returns a stable bucket in [0, EntryBuckets()) for an id.
func (m *Manager) EntryBucket(id string) int {
	return int(m.hash(id) % uint64(m.entryBuckets))
}

func (m *Manager) EntryBuckets() int {
	return m.entryBuckets
}

// DayBucket is the UTC calendar day partition for t.
func (m *Manager) DayBucket(t time.Time) string {
	return t.UTC().Format(models.DateLayout)
}

// DayBuckets lists the day partitions touched by [from, to).
func (m *Manager) DayBuckets(from, to time.Time) []string {
	from = from.UTC()
	to = to.UTC()
	if !to.After(from) {
		return nil
	}
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	var days []string
	for d := start; d.Before(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(models.DateLayout))
	}
	return days
}

func (m *Manager) hash(key string) uint64 {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	_, _ = hasher.Write([]byte(key))
	return hasher.Sum64()
}
