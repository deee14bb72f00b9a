package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rkohli77/chatbot/internal/client"
)

const publicConfigPrefix = "public_config:"

// CacheStore backs the public config cache with Redis string keys.
type CacheStore struct {
	client  *client.RedisClient
	timeout time.Duration
}

func NewCacheStore(client *client.RedisClient) *CacheStore {
	return &CacheStore{client: client, timeout: 500 * time.Millisecond}
}

func (s *CacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	value, err := s.client.GetBytes(ctx, publicConfigPrefix+key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return value, true, nil
}

func (s *CacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, publicConfigPrefix+key, value, ttl); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (s *CacheStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, publicConfigPrefix+key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}
