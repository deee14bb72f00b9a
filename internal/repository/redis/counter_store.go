package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rkohli77/chatbot/internal/client"
	"github.com/rkohli77/chatbot/internal/ratelimit"
	"github.com/rkohli77/chatbot/internal/util"
)

const (
	rateLimitPrefix = "rate_limit:"

	fieldCount   = "count"
	fieldResetAt = "reset_at"
)

// CounterStore keeps fixed-window counters as Redis hashes shared by every node.
type CounterStore struct {
	client  *client.RedisClient
	timeout time.Duration
}

func NewCounterStore(client *client.RedisClient) *CounterStore {
	return &CounterStore{client: client, timeout: 500 * time.Millisecond}
}

func (s *CounterStore) Get(ctx context.Context, key string) (ratelimit.Counter, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, rateLimitPrefix+key)
	if err != nil {
		return ratelimit.Counter{}, false, fmt.Errorf("failed to get rate limit counter: %w", err)
	}
	if len(fields) == 0 {
		return ratelimit.Counter{}, false, nil
	}

	count, err := strconv.ParseInt(fields[fieldCount], 10, 64)
	if err != nil {
		util.Warn("Invalid rate limit counter format",
			zap.String("key", key),
			zap.String("count", fields[fieldCount]))
		return ratelimit.Counter{}, false, nil
	}
	resetMs, err := strconv.ParseInt(fields[fieldResetAt], 10, 64)
	if err != nil {
		return ratelimit.Counter{}, false, nil
	}

	return ratelimit.Counter{Count: count, ResetAt: time.UnixMilli(resetMs)}, true, nil
}

func (s *CounterStore) Put(ctx context.Context, key string, counter ratelimit.Counter, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	redisKey := rateLimitPrefix + key
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, redisKey,
		fieldCount, counter.Count,
		fieldResetAt, counter.ResetAt.UnixMilli())
	pipe.PExpire(ctx, redisKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store rate limit counter: %w", err)
	}

	util.Debug("Rate limit counter stored",
		zap.String("key", key),
		zap.Int64("count", counter.Count),
		zap.Duration("ttl", ttl))
	return nil
}

var _ ratelimit.CounterStore = (*CounterStore)(nil)
