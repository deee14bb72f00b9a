package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
)

// IdentityFunc extracts the client identity a request is counted against.
type IdentityFunc func(r *http.Request) string

// ClientIP returns the request's remote host. Run it behind chi's RealIP
// middleware so proxy headers are honoured.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware enforces the configured rule for class on every request.
func (l *Limiter) Middleware(class RouteClass, identity IdentityFunc) func(http.Handler) http.Handler {
	if identity == nil {
		identity = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := identity(r)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}

			decision := l.AdmitClass(r.Context(), id, class)
			if !decision.Allowed {
				WriteLimited(w, decision)
				return
			}
			if decision.Limit > 0 && !decision.Degraded {
				setHeaders(w, decision)
			}
			next.ServeHTTP(w, r)
		})
	}
}

type limitedBody struct {
	Success           bool   `json:"success"`
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// WriteLimited writes the 429 response with a Retry-After hint.
func WriteLimited(w http.ResponseWriter, decision Decision) {
	retryAfter := decision.RetryAfterSeconds()
	setHeaders(w, decision)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(limitedBody{
		Success:           false,
		Error:             "rate limit exceeded",
		Message:           "Too many requests. Please try again later.",
		RetryAfterSeconds: retryAfter,
	})
}

func setHeaders(w http.ResponseWriter, decision Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining()))
	if !decision.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	}
}
