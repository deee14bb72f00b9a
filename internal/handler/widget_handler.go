package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rkohli77/chatbot/internal/service"
	"github.com/rkohli77/chatbot/internal/util"
)

// WidgetHandler serves the public, unauthenticated widget endpoints.
type WidgetHandler struct {
	widgets *service.WidgetService
	logger  *zap.Logger
}

func NewWidgetHandler(widgets *service.WidgetService, logger *zap.Logger) *WidgetHandler {
	return &WidgetHandler{widgets: widgets, logger: logger}
}

// Chat handles POST /api/v1/chat. The success body is {response, sessionId}.
func (h *WidgetHandler) Chat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req service.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, fmt.Errorf("%w: %v", service.ErrInvalidInput, err), "Invalid request body")
		return
	}

	resp, err := h.widgets.Chat(r.Context(), req)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to process message")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, resp)
	h.logger.Debug("Chat message answered",
		util.String("chatbot_id", req.ChatbotID),
		util.String("session_id", resp.SessionID),
		util.Duration("duration", time.Since(start)))
}

// Feedback handles POST /api/v1/feedback.
func (h *WidgetHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	var req service.FeedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, fmt.Errorf("%w: %v", service.ErrInvalidInput, err), "Invalid request body")
		return
	}

	if err := h.widgets.Feedback(r.Context(), req); err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to record feedback")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, Response{Success: true})
}

// PublicConfig handles GET /api/v1/chatbots/{chatbotID}/config.
func (h *WidgetHandler) PublicConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.widgets.PublicConfig(r.Context(), chi.URLParam(r, "chatbotID"))
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Chatbot unavailable")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, cfg)
}
