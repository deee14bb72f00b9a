package ratelimit

import (
	"context"
	"time"

	"github.com/rkohli77/chatbot/internal/metrics"
	"github.com/rkohli77/chatbot/internal/util"

	"go.uber.org/zap"
)

// Limiter is a fixed-window admission controller.
//
// The read-then-write against the store is not atomic: concurrent requests
// for the same key at the window boundary can each observe count < limit and
// all be admitted. The overshoot is bounded by the number of requests in
// flight for that key.
type Limiter struct {
	store  CounterStore
	rules  map[RouteClass]Rule
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithRule sets the budget used by AdmitClass for a route class.
func WithRule(class RouteClass, rule Rule) Option {
	return func(l *Limiter) { l.rules[class] = rule }
}

func NewLimiter(store CounterStore, opts ...Option) *Limiter {
	l := &Limiter{
		store: store,
		rules: make(map[RouteClass]Rule),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = util.Named("ratelimit")
	}
	return l
}

// Rule returns the configured budget for class.
func (l *Limiter) Rule(class RouteClass) (Rule, bool) {
	rule, ok := l.rules[class]
	return rule, ok
}

// AdmitClass admits against the configured rule for class. Classes without a
// rule are always admitted.
func (l *Limiter) AdmitClass(ctx context.Context, identity string, class RouteClass) Decision {
	rule, ok := l.rules[class]
	if !ok {
		return Decision{Allowed: true}
	}
	return l.Admit(ctx, identity, class, rule.Limit, rule.Window)
}

// Admit records one request for identity under class and reports whether it
// fits within limit requests per window. A non-positive limit disables the check.
func (l *Limiter) Admit(ctx context.Context, identity string, class RouteClass, limit int, window time.Duration) Decision {
	if limit <= 0 || window <= 0 {
		return Decision{Allowed: true, Limit: limit}
	}

	now := l.now()
	key := Key(identity, class)

	counter, found, err := l.store.Get(ctx, key)
	if err != nil {
		return l.failOpen(class, key, "get", limit, err)
	}
	if !found || !now.Before(counter.ResetAt) {
		counter = Counter{Count: 0, ResetAt: now.Add(window)}
	}

	if counter.Count >= int64(limit) {
		metrics.RateLimitDecisions.WithLabelValues(string(class), "rejected").Inc()
		l.logger.Debug("Rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", counter.Count),
			zap.Int("limit", limit),
			zap.Time("reset_at", counter.ResetAt))
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Count:      counter.Count,
			ResetAt:    counter.ResetAt,
			RetryAfter: counter.ResetAt.Sub(now),
		}
	}

	counter.Count++
	if err := l.store.Put(ctx, key, counter, counter.ResetAt.Sub(now)); err != nil {
		return l.failOpen(class, key, "put", limit, err)
	}

	metrics.RateLimitDecisions.WithLabelValues(string(class), "allowed").Inc()
	return Decision{
		Allowed: true,
		Limit:   limit,
		Count:   counter.Count,
		ResetAt: counter.ResetAt,
	}
}

func (l *Limiter) failOpen(class RouteClass, key, op string, limit int, err error) Decision {
	metrics.StoreErrors.WithLabelValues("counter", op).Inc()
	metrics.RateLimitDecisions.WithLabelValues(string(class), "degraded").Inc()
	l.logger.Warn("Counter store unavailable, admitting request",
		zap.String("key", key),
		zap.String("operation", op),
		zap.Error(err))
	return Decision{Allowed: true, Limit: limit, Degraded: true}
}
