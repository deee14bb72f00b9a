package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rkohli77/chatbot/internal/configcache"
	"github.com/rkohli77/chatbot/internal/generator"
	"github.com/rkohli77/chatbot/internal/metrics"
	"github.com/rkohli77/chatbot/internal/models"
	"github.com/rkohli77/chatbot/internal/session"
	"github.com/rkohli77/chatbot/internal/util"
)

// ConfigCache is the read-through public config cache.
type ConfigCache interface {
	Get(ctx context.Context, chatbotID string) (models.PublicConfig, error)
	Profile(ctx context.Context, chatbotID string) (configcache.Profile, error)
	Invalidate(ctx context.Context, chatbotID string) error
}

// Sessions is the server-side session lifecycle.
type Sessions interface {
	ResumeOrStart(ctx context.Context, chatbotID, candidate string) (string, error)
	AppendMessage(ctx context.Context, sessionID, chatbotID string, role models.Role, text string, responseTimeMs *int64) error
	EndSession(ctx context.Context, sessionID string, rating int) error
	History(ctx context.Context, sessionID string, limit int) ([]models.ConversationEntry, error)
}

// DocumentSource supplies tenant context for generation. Backends may
// ignore query and return documents in upload order.
type DocumentSource interface {
	GetDocuments(ctx context.Context, chatbotID, query string, limit int) ([]string, error)
}

type ChatRequest struct {
	ChatbotID string `json:"chatbotId"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

type FeedbackRequest struct {
	SessionID string `json:"sessionId"`
	Rating    *int   `json:"rating"`
}

type WidgetOptions struct {
	MaxMessageLength  int
	HistoryLimit      int
	DocumentLimit     int
	GenerationTimeout time.Duration
}

// WidgetService implements the public endpoints the embeddable widget calls.
type WidgetService struct {
	configs   ConfigCache
	sessions  Sessions
	documents DocumentSource
	generator generator.Generator
	opts      WidgetOptions
	now       func() time.Time
	logger    *zap.Logger
}

func NewWidgetService(
	configs ConfigCache,
	sessions Sessions,
	documents DocumentSource,
	gen generator.Generator,
	opts WidgetOptions,
	logger *zap.Logger,
) *WidgetService {
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = 2000
	}
	if opts.DocumentLimit <= 0 {
		opts.DocumentLimit = 5
	}
	return &WidgetService{
		configs:   configs,
		sessions:  sessions,
		documents: documents,
		generator: gen,
		opts:      opts,
		now:       time.Now,
		logger:    logger.With(zap.String("component", "widget_service")),
	}
}

func (s *WidgetService) validateChat(req *ChatRequest) error {
	req.ChatbotID = strings.TrimSpace(req.ChatbotID)
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.Message = util.SanitizeInput(req.Message)

	switch {
	case req.ChatbotID == "":
		return fmt.Errorf("%w: chatbotId is required", ErrInvalidInput)
	case !models.ValidChatbotID(req.ChatbotID):
		return fmt.Errorf("%w: malformed chatbotId", ErrInvalidInput)
	case req.Message == "":
		return fmt.Errorf("%w: message is required", ErrInvalidInput)
	case util.RuneLength(req.Message) > s.opts.MaxMessageLength:
		return fmt.Errorf("%w: message exceeds %d characters", ErrInvalidInput, s.opts.MaxMessageLength)
	case req.SessionID != "" && !models.ValidSessionID(req.SessionID):
		return fmt.Errorf("%w: malformed sessionId", ErrInvalidInput)
	}
	return nil
}

// Chat answers one widget message. Only validation and chatbot lookup can
// fail it; logging and generation problems degrade to a fixed reply.
func (s *WidgetService) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := s.validateChat(&req); err != nil {
		return nil, err
	}
	start := s.now()

	profile, err := s.configs.Profile(ctx, req.ChatbotID)
	if err != nil {
		if errors.Is(err, configcache.ErrNotFound) {
			return nil, ErrChatbotNotFound
		}
		return nil, fmt.Errorf("failed to load chatbot: %w", err)
	}

	sessionID := s.resumeOrStart(ctx, req.ChatbotID, req.SessionID)
	history := s.history(ctx, sessionID)
	s.appendBestEffort(ctx, sessionID, req.ChatbotID, models.RoleUser, req.Message, nil)

	reply := s.reply(ctx, req, profile.SystemPrompt, history)

	elapsed := s.now().Sub(start).Milliseconds()
	s.appendBestEffort(ctx, sessionID, req.ChatbotID, models.RoleBot, reply, &elapsed)

	return &ChatResponse{Response: reply, SessionID: sessionID}, nil
}

// resumeOrStart keeps the conversation going when the ledger is down: the
// client's id is echoed back, or a fresh one is minted.
func (s *WidgetService) resumeOrStart(ctx context.Context, chatbotID, candidate string) string {
	sessionID, err := s.sessions.ResumeOrStart(ctx, chatbotID, candidate)
	if err == nil {
		return sessionID
	}

	metrics.BestEffortFailures.WithLabelValues("resume_or_start").Inc()
	s.logger.Error("Session ledger unavailable, continuing without persistence",
		zap.String("chatbot_id", chatbotID),
		zap.Error(err))
	if candidate != "" {
		return candidate
	}
	return uuid.NewString()
}

func (s *WidgetService) history(ctx context.Context, sessionID string) []models.ConversationEntry {
	if s.opts.HistoryLimit <= 0 {
		return nil
	}
	entries, err := s.sessions.History(ctx, sessionID, s.opts.HistoryLimit)
	if err != nil {
		metrics.BestEffortFailures.WithLabelValues("history").Inc()
		s.logger.Warn("Conversation history unavailable",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return nil
	}
	return entries
}

func (s *WidgetService) appendBestEffort(ctx context.Context, sessionID, chatbotID string, role models.Role, text string, responseTimeMs *int64) {
	if err := s.sessions.AppendMessage(ctx, sessionID, chatbotID, role, text, responseTimeMs); err != nil {
		metrics.BestEffortFailures.WithLabelValues("append_message").Inc()
		s.logger.Error("Failed to log conversation entry",
			zap.String("session_id", sessionID),
			zap.String("role", string(role)),
			zap.Error(err))
	}
}

func (s *WidgetService) reply(ctx context.Context, req ChatRequest, systemPrompt string, history []models.ConversationEntry) string {
	docs, err := s.documents.GetDocuments(ctx, req.ChatbotID, req.Message, s.opts.DocumentLimit)
	if err != nil {
		metrics.GeneratorFailures.Inc()
		s.logger.Error("Document retrieval failed",
			zap.String("chatbot_id", req.ChatbotID),
			zap.Error(err))
		return GenerationErrorReply
	}
	if len(docs) == 0 {
		return NoDocumentsReply
	}

	genCtx := ctx
	if s.opts.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.opts.GenerationTimeout)
		defer cancel()
	}

	answer, err := s.generator.Generate(genCtx, generator.Request{
		SystemPrompt: systemPrompt,
		Documents:    docs,
		History:      history,
		Message:      req.Message,
	})
	if err != nil {
		metrics.GeneratorFailures.Inc()
		s.logger.Warn("Response generation failed",
			zap.String("chatbot_id", req.ChatbotID),
			zap.Error(err))
		return GenerationErrorReply
	}
	return answer
}

// Feedback ends the session. Rating 0 ends it without storing a score.
func (s *WidgetService) Feedback(ctx context.Context, req FeedbackRequest) error {
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" || !models.ValidSessionID(req.SessionID) {
		return fmt.Errorf("%w: sessionId is required", ErrInvalidInput)
	}
	if req.Rating == nil {
		return fmt.Errorf("%w: rating is required", ErrInvalidInput)
	}

	err := s.sessions.EndSession(ctx, req.SessionID, *req.Rating)
	switch {
	case err == nil:
		s.logger.Debug("Session ended",
			zap.String("session_id", req.SessionID),
			zap.Int("rating", *req.Rating))
		return nil
	case errors.Is(err, session.ErrInvalidRating):
		return ErrInvalidRating
	case errors.Is(err, session.ErrSessionNotFound):
		return ErrSessionNotFound
	default:
		return fmt.Errorf("failed to end session: %w", err)
	}
}

func (s *WidgetService) PublicConfig(ctx context.Context, chatbotID string) (models.PublicConfig, error) {
	if !models.ValidChatbotID(chatbotID) {
		return models.PublicConfig{}, fmt.Errorf("%w: malformed chatbotId", ErrInvalidInput)
	}
	cfg, err := s.configs.Get(ctx, chatbotID)
	if err != nil {
		if errors.Is(err, configcache.ErrNotFound) {
			return models.PublicConfig{}, ErrChatbotNotFound
		}
		return models.PublicConfig{}, fmt.Errorf("failed to load public config: %w", err)
	}
	return cfg, nil
}
