package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rkohli77/chatbot/internal/analytics"
	"github.com/rkohli77/chatbot/internal/models"
)

type UpdatePublisher interface {
	PublishChatbotUpdated(ctx context.Context, chatbotID string) error
}

type Stats interface {
	LiveStats(ctx context.Context, chatbotID string) (*models.LiveStats, error)
	History(ctx context.Context, chatbotID, from, to string) ([]models.DailyStats, error)
}

// ChatbotService serves the internal operations the admin side calls.
type ChatbotService struct {
	configs   ConfigCache
	publisher UpdatePublisher
	stats     Stats
	logger    *zap.Logger
}

// NewChatbotService accepts a nil publisher when Kafka is disabled.
func NewChatbotService(configs ConfigCache, publisher UpdatePublisher, stats Stats, logger *zap.Logger) *ChatbotService {
	return &ChatbotService{
		configs:   configs,
		publisher: publisher,
		stats:     stats,
		logger:    logger.With(zap.String("component", "chatbot_service")),
	}
}

// Invalidate drops the local cache entry, then tells the other replicas.
func (s *ChatbotService) Invalidate(ctx context.Context, chatbotID string) error {
	if !models.ValidChatbotID(chatbotID) {
		return fmt.Errorf("%w: malformed chatbotId", ErrInvalidInput)
	}
	if err := s.configs.Invalidate(ctx, chatbotID); err != nil {
		return err
	}
	if s.publisher == nil {
		return nil
	}
	if err := s.publisher.PublishChatbotUpdated(ctx, chatbotID); err != nil {
		// The shared cache is already clean; only per-node caches wait for TTL.
		s.logger.Warn("Failed to broadcast chatbot update",
			zap.String("chatbot_id", chatbotID),
			zap.Error(err))
	}
	return nil
}

func (s *ChatbotService) LiveStats(ctx context.Context, chatbotID string) (*models.LiveStats, error) {
	if !models.ValidChatbotID(chatbotID) {
		return nil, fmt.Errorf("%w: malformed chatbotId", ErrInvalidInput)
	}
	return s.stats.LiveStats(ctx, chatbotID)
}

func (s *ChatbotService) StatsHistory(ctx context.Context, chatbotID, from, to string) ([]models.DailyStats, error) {
	if !models.ValidChatbotID(chatbotID) {
		return nil, fmt.Errorf("%w: malformed chatbotId", ErrInvalidInput)
	}
	rows, err := s.stats.History(ctx, chatbotID, from, to)
	if errors.Is(err, analytics.ErrInvalidDateRange) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return rows, err
}
