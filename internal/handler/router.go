package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/rkohli77/chatbot/internal/metrics"
	"github.com/rkohli77/chatbot/internal/ratelimit"
	"github.com/rkohli77/chatbot/internal/util"
)

// HealthFunc reports per-dependency failures; an empty map is healthy.
type HealthFunc func(ctx context.Context) map[string]error

type RouterOptions struct {
	Widgets  *WidgetHandler
	Chatbots *ChatbotHandler
	// Limiter is nil when rate limiting is disabled.
	Limiter        *ratelimit.Limiter
	Identity       ratelimit.IdentityFunc
	Health         HealthFunc
	AllowedOrigins []string
	WidgetAssetDir string
	InternalToken  string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(opts RouterOptions) chi.Router {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(opts.Logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(opts.RequestTimeout))

	// The widget is embedded on arbitrary customer sites and never sends cookies.
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", internalTokenHeader},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	limit := func(class ratelimit.RouteClass) func(http.Handler) http.Handler {
		if opts.Limiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return opts.Limiter.Middleware(class, opts.Identity)
	}

	router.Get("/health", healthHandler(opts.Health, opts.Logger))
	router.Handle("/metrics", metrics.Handler())

	if opts.WidgetAssetDir != "" {
		static := http.StripPrefix("/widget/", http.FileServer(http.Dir(opts.WidgetAssetDir)))
		router.With(limit(ratelimit.RouteStatic)).Get("/widget/*", static.ServeHTTP)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.With(limit(ratelimit.RouteChat)).Post("/chat", opts.Widgets.Chat)
		r.With(limit(ratelimit.RouteFeedback)).Post("/feedback", opts.Widgets.Feedback)
		r.With(limit(ratelimit.RoutePublicConfig)).Get("/chatbots/{chatbotID}/config", opts.Widgets.PublicConfig)

		if opts.Chatbots != nil {
			r.Group(func(r chi.Router) {
				r.Use(requireInternalToken(opts.InternalToken))
				r.Get("/chatbots/{chatbotID}/stats/today", opts.Chatbots.LiveStats)
				r.Get("/chatbots/{chatbotID}/stats/history", opts.Chatbots.StatsHistory)
			})
		}
	})

	if opts.Chatbots != nil {
		router.Route("/internal", func(r chi.Router) {
			r.Use(requireInternalToken(opts.InternalToken))
			r.Post("/chatbots/{chatbotID}/invalidate", opts.Chatbots.Invalidate)
		})
	}

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"error":"endpoint not found"}`))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = w.Write([]byte(`{"success":false,"error":"method not allowed"}`))
	})

	return router
}

type healthBody struct {
	Status   string            `json:"status"`
	Service  string            `json:"service"`
	Failures map[string]string `json:"failures,omitempty"`
}

func healthHandler(check HealthFunc, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := healthBody{Status: "healthy", Service: "chatbot-gateway"}
		status := http.StatusOK

		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			if failures := check(ctx); len(failures) > 0 {
				body.Status = "degraded"
				body.Failures = make(map[string]string, len(failures))
				for name, err := range failures {
					body.Failures[name] = err.Error()
				}
				status = http.StatusServiceUnavailable
				logger.Warn("Health check degraded", zap.Any("failures", body.Failures))
			}
		}
		respondWithJSON(w, logger, status, body)
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("request_id", middleware.GetReqID(r.Context())),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
