package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatbot_gateway"

var (
	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Admission decisions by route class and outcome.",
	}, []string{"route_class", "outcome"})

	// StoreErrors counts degraded-path events on shared stores.
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_errors_total",
		Help:      "Counter/cache store failures that were degraded around.",
	}, []string{"store", "operation"})

	ConfigCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "config_cache",
		Name:      "lookups_total",
		Help:      "Public config cache lookups by result.",
	}, []string{"result"})

	GeneratorFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "generator",
		Name:      "failures_total",
		Help:      "Response generator calls mapped to the apology message.",
	})

	GeneratorLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "generator",
		Name:      "latency_seconds",
		Help:      "Response generator call latency.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
	})

	BestEffortFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "best_effort_failures_total",
		Help:      "Session and conversation writes that failed without affecting the response.",
	}, []string{"operation"})

	RollupRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analytics",
		Name:      "rollup_rows_total",
		Help:      "Daily rollup rows written per sink.",
	}, []string{"sink"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
