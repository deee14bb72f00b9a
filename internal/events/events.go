package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rkohli77/chatbot/internal/models"
	"github.com/rkohli77/chatbot/internal/util"
)

// ErrInvalidEvent marks messages that can never be processed; they are skipped.
var ErrInvalidEvent = errors.New("invalid chatbot update event")

// ChatbotUpdated is published on the updates topic after an admin-side
// write to a chatbot commits.
type ChatbotUpdated struct {
	ChatbotID string    `json:"chatbot_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MessageWriter interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

type MessageReader interface {
	ConsumeMessage(ctx context.Context) (*kafka.Message, error)
}

// Invalidator drops cached state for one chatbot.
type Invalidator interface {
	Invalidate(ctx context.Context, chatbotID string) error
}

type Publisher struct {
	writer MessageWriter
	topic  string
	now    func() time.Time
}

func NewPublisher(writer MessageWriter, topic string) *Publisher {
	return &Publisher{writer: writer, topic: topic, now: time.Now}
}

// PublishChatbotUpdated fans an invalidation out to every replica. Keyed by
// chatbot id so updates for one chatbot stay ordered.
func (p *Publisher) PublishChatbotUpdated(ctx context.Context, chatbotID string) error {
	value, err := json.Marshal(ChatbotUpdated{ChatbotID: chatbotID, UpdatedAt: p.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal chatbot update: %w", err)
	}
	headers := map[string]string{"event_type": "chatbot.updated"}
	if err := p.writer.ProduceMessage(ctx, p.topic, []byte(chatbotID), value, headers); err != nil {
		return fmt.Errorf("failed to publish chatbot update: %w", err)
	}
	return nil
}

// Subscriber consumes chatbot updates and invalidates the config cache.
type Subscriber struct {
	reader      MessageReader
	invalidator Invalidator
	logger      *zap.Logger
	backoff     time.Duration
}

func NewSubscriber(reader MessageReader, invalidator Invalidator) *Subscriber {
	return &Subscriber{
		reader:      reader,
		invalidator: invalidator,
		logger:      util.Named("events"),
		backoff:     time.Second,
	}
}

// Run consumes until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	s.logger.Info("Chatbot update subscriber started")
	for {
		msg, err := s.reader.ConsumeMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("Chatbot update subscriber stopped")
				return nil
			}
			s.logger.Warn("Failed to read chatbot update", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.backoff):
			}
			continue
		}

		if err := s.HandleMessage(ctx, msg); err != nil {
			s.logger.Warn("Failed to handle chatbot update",
				zap.ByteString("key", msg.Key),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}

func (s *Subscriber) HandleMessage(ctx context.Context, msg *kafka.Message) error {
	var event ChatbotUpdated
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if !models.ValidChatbotID(event.ChatbotID) {
		return fmt.Errorf("%w: chatbot id %q", ErrInvalidEvent, event.ChatbotID)
	}

	if err := s.invalidator.Invalidate(ctx, event.ChatbotID); err != nil {
		return fmt.Errorf("failed to invalidate chatbot %s: %w", event.ChatbotID, err)
	}
	s.logger.Debug("Config invalidated from update event",
		zap.String("chatbot_id", event.ChatbotID),
		zap.Time("updated_at", event.UpdatedAt))
	return nil
}
