package ratelimit

import (
	"math"
	"time"
)

// RouteClass namespaces counters so each kind of public request has its own budget.
type RouteClass string

const (
	RouteChat         RouteClass = "chat"
	RoutePublicConfig RouteClass = "config"
	RouteStatic       RouteClass = "static"
	RouteFeedback     RouteClass = "feedback"
)

// Rule is the admission budget for one route class.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Counter is the stored state of one fixed window.
type Counter struct {
	Count   int64
	ResetAt time.Time
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Count      int64
	ResetAt    time.Time
	RetryAfter time.Duration
	// Degraded is set when the counter store failed and the request was admitted anyway.
	Degraded bool
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below 1.
func (d Decision) RetryAfterSeconds() int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Remaining is the number of requests still admissible in the current window.
func (d Decision) Remaining() int {
	remaining := int64(d.Limit) - d.Count
	if remaining < 0 {
		return 0
	}
	return int(remaining)
}

// Key builds the counter key for an identity and route class.
func Key(identity string, class RouteClass) string {
	return identity + ":" + string(class)
}
