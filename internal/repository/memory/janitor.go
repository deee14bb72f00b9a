package memory

import (
	"context"
	"time"

	"github.com/rkohli77/chatbot/internal/util"
)

// Expirer is a store with lazily expiring entries.
type Expirer interface {
	DeleteExpired() int
}

// RunJanitor periodically removes expired entries from the given stores until ctx is done.
func RunJanitor(ctx context.Context, interval time.Duration, stores ...Expirer) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := 0
			for _, s := range stores {
				removed += s.DeleteExpired()
			}
			if removed > 0 {
				util.Debug("Expired in-memory entries removed", util.Int("count", removed))
			}
		}
	}
}
