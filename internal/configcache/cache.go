package configcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rkohli77/chatbot/internal/metrics"
	"github.com/rkohli77/chatbot/internal/models"
	"github.com/rkohli77/chatbot/internal/util"
)

// ErrNotFound is returned when the chatbot does not exist or is not deployed.
var ErrNotFound = errors.New("chatbot not found")

// Store is the TTL-capable key/bytes store the cache is layered on.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ChatbotSource is the source of truth for chatbot display fields.
// It returns (nil, nil) when the chatbot does not exist.
type ChatbotSource interface {
	GetPublicConfig(ctx context.Context, chatbotID string) (*models.Chatbot, error)
}

// Profile is what the chat flow needs about a deployed chatbot. Only Config
// is ever served to widgets.
type Profile struct {
	Config       models.PublicConfig
	SystemPrompt string
}

type entry struct {
	Config       models.PublicConfig `json:"config"`
	SystemPrompt string              `json:"system_prompt,omitempty"`
	ExpiresAt    time.Time           `json:"expires_at"`
}

// Cache is a read-through cache of public chatbot configuration.
//
// Readers may see a stale value for up to ttl when an invalidation races with
// a concurrent miss that already fetched the old row.
type Cache struct {
	store  Store
	source ChatbotSource
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func New(store Store, source ChatbotSource, ttl time.Duration) *Cache {
	return &Cache{
		store:  store,
		source: source,
		ttl:    ttl,
		now:    time.Now,
		logger: util.Named("configcache"),
	}
}

// WithClock overrides the time source used for entry expiry.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

func (c *Cache) WithLogger(logger *zap.Logger) *Cache {
	c.logger = logger
	return c
}

// Get returns the public config for chatbotID, populating the cache on a miss.
func (c *Cache) Get(ctx context.Context, chatbotID string) (models.PublicConfig, error) {
	p, err := c.Profile(ctx, chatbotID)
	if err != nil {
		return models.PublicConfig{}, err
	}
	return p.Config, nil
}

// Profile is Get plus the fields kept private to the server.
func (c *Cache) Profile(ctx context.Context, chatbotID string) (Profile, error) {
	cacheUsable := true

	raw, found, err := c.store.Get(ctx, chatbotID)
	switch {
	case err != nil:
		cacheUsable = false
		metrics.StoreErrors.WithLabelValues("cache", "get").Inc()
		metrics.ConfigCacheLookups.WithLabelValues("error").Inc()
		c.logger.Warn("Config cache read failed, querying source directly",
			zap.String("chatbot_id", chatbotID),
			zap.Error(err))
	case found:
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			c.logger.Warn("Discarding undecodable config cache entry",
				zap.String("chatbot_id", chatbotID),
				zap.Error(err))
		} else if c.now().Before(e.ExpiresAt) {
			metrics.ConfigCacheLookups.WithLabelValues("hit").Inc()
			return Profile{Config: e.Config, SystemPrompt: e.SystemPrompt}, nil
		}
		metrics.ConfigCacheLookups.WithLabelValues("expired").Inc()
	default:
		metrics.ConfigCacheLookups.WithLabelValues("miss").Inc()
	}

	chatbot, err := c.source.GetPublicConfig(ctx, chatbotID)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to load chatbot %s: %w", chatbotID, err)
	}
	if chatbot == nil || !chatbot.Deployed {
		return Profile{}, ErrNotFound
	}

	p := Profile{Config: chatbot.PublicConfig(), SystemPrompt: chatbot.SystemPrompt}
	if cacheUsable {
		c.put(ctx, chatbotID, p)
	}
	return p, nil
}

// Invalidate drops the cached entry. Call it after the source-of-truth write commits.
func (c *Cache) Invalidate(ctx context.Context, chatbotID string) error {
	if err := c.store.Delete(ctx, chatbotID); err != nil {
		metrics.StoreErrors.WithLabelValues("cache", "delete").Inc()
		c.logger.Warn("Config cache invalidation failed",
			zap.String("chatbot_id", chatbotID),
			zap.Error(err))
		return fmt.Errorf("failed to invalidate config for %s: %w", chatbotID, err)
	}
	c.logger.Debug("Config cache entry invalidated", zap.String("chatbot_id", chatbotID))
	return nil
}

func (c *Cache) put(ctx context.Context, chatbotID string, p Profile) {
	raw, err := json.Marshal(entry{Config: p.Config, SystemPrompt: p.SystemPrompt, ExpiresAt: c.now().Add(c.ttl)})
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, chatbotID, raw, c.ttl); err != nil {
		metrics.StoreErrors.WithLabelValues("cache", "set").Inc()
		c.logger.Warn("Config cache write skipped",
			zap.String("chatbot_id", chatbotID),
			zap.Error(err))
	}
}
