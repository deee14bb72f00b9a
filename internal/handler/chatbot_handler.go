package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rkohli77/chatbot/internal/service"
)

const internalTokenHeader = "X-Internal-Token"

// ChatbotHandler serves the internal endpoints the admin side calls.
type ChatbotHandler struct {
	chatbots *service.ChatbotService
	logger   *zap.Logger
}

func NewChatbotHandler(chatbots *service.ChatbotService, logger *zap.Logger) *ChatbotHandler {
	return &ChatbotHandler{chatbots: chatbots, logger: logger}
}

// requireInternalToken rejects requests without the shared internal token.
// An empty token closes the routes entirely.
func requireInternalToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(internalTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"success":false,"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Invalidate handles POST /internal/chatbots/{chatbotID}/invalidate.
func (h *ChatbotHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	if err := h.chatbots.Invalidate(r.Context(), chi.URLParam(r, "chatbotID")); err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to invalidate chatbot config")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LiveStats handles GET .../stats/today.
func (h *ChatbotHandler) LiveStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.chatbots.LiveStats(r.Context(), chi.URLParam(r, "chatbotID"))
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to compute stats")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(stats, ""))
}

// StatsHistory handles GET .../stats/history?from=YYYY-MM-DD&to=YYYY-MM-DD.
func (h *ChatbotHandler) StatsHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := h.chatbots.StatsHistory(r.Context(), chi.URLParam(r, "chatbotID"), q.Get("from"), q.Get("to"))
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to load stats history")
		return
	}
	resp := successResponse(rows, "")
	resp.Meta = &Meta{Total: len(rows)}
	respondWithJSON(w, h.logger, http.StatusOK, resp)
}
