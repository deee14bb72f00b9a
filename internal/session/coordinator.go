package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rkohli77/chatbot/internal/models"
	"github.com/rkohli77/chatbot/internal/util"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidRating   = errors.New("rating must be between 0 and 5")
	ErrInvalidRole     = errors.New("invalid message role")
)

// Coordinator owns the server-side session lifecycle.
type Coordinator struct {
	ledger      Ledger
	now         func() time.Time
	newID       func() string
	idleTimeout time.Duration
	logger      *zap.Logger
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithIDGenerator overrides how fresh session ids are minted.
func WithIDGenerator(newID func() string) Option {
	return func(c *Coordinator) { c.newID = newID }
}

// WithIdleTimeout makes ResumeOrStart refuse sessions whose last activity is
// older than d. Zero disables the server-side check.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.idleTimeout = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

func NewCoordinator(ledger Ledger, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger: ledger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = util.Named("session")
	}
	return c
}

// ResumeOrStart returns candidate when it names a live session of chatbotID,
// creating it if it does not exist yet. Otherwise a new session is started.
func (c *Coordinator) ResumeOrStart(ctx context.Context, chatbotID, candidate string) (string, error) {
	if candidate != "" && models.ValidSessionID(candidate) {
		id, ok, err := c.resume(ctx, chatbotID, candidate)
		if err != nil {
			return "", err
		}
		if ok {
			return id, nil
		}
	}

	for attempt := 0; attempt < 3; attempt++ {
		id := c.newID()
		created, err := c.create(ctx, chatbotID, id)
		if err != nil {
			return "", err
		}
		if created {
			c.logger.Debug("Session started",
				zap.String("session_id", id),
				zap.String("chatbot_id", chatbotID))
			return id, nil
		}
	}
	return "", fmt.Errorf("failed to allocate a unique session id for chatbot %s", chatbotID)
}

func (c *Coordinator) resume(ctx context.Context, chatbotID, candidate string) (string, bool, error) {
	existing, err := c.ledger.GetSession(ctx, candidate)
	if err != nil {
		return "", false, fmt.Errorf("failed to load session %s: %w", candidate, err)
	}

	if existing == nil {
		if _, err := c.create(ctx, chatbotID, candidate); err != nil {
			return "", false, err
		}
		// Re-read: a concurrent start may have won the insert.
		existing, err = c.ledger.GetSession(ctx, candidate)
		if err != nil {
			return "", false, fmt.Errorf("failed to load session %s: %w", candidate, err)
		}
		if existing == nil {
			return "", false, nil
		}
	}

	if !c.resumable(existing, chatbotID) {
		c.logger.Debug("Candidate session not resumable",
			zap.String("session_id", candidate),
			zap.String("chatbot_id", chatbotID),
			zap.Bool("ended", existing.Ended()))
		return "", false, nil
	}
	return existing.SessionID, true, nil
}

func (c *Coordinator) resumable(s *models.Session, chatbotID string) bool {
	if s.ChatbotID != chatbotID || s.Ended() {
		return false
	}
	if c.idleTimeout > 0 && c.now().Sub(s.LastActivityAt) >= c.idleTimeout {
		return false
	}
	return true
}

func (c *Coordinator) create(ctx context.Context, chatbotID, id string) (bool, error) {
	now := c.now()
	created, err := c.ledger.CreateSession(ctx, &models.Session{
		SessionID:      id,
		ChatbotID:      chatbotID,
		StartedAt:      now,
		LastActivityAt: now,
	})
	if err != nil {
		return false, fmt.Errorf("failed to create session: %w", err)
	}
	return created, nil
}

// AppendMessage logs one message. A bot message completes a round trip and
// increments the session's message count. Callers treat errors as best-effort.
func (c *Coordinator) AppendMessage(ctx context.Context, sessionID, chatbotID string, role models.Role, text string, responseTimeMs *int64) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	now := c.now()
	entry := &models.ConversationEntry{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		ChatbotID: chatbotID,
		Role:      role,
		Text:      text,
		CreatedAt: now,
	}
	if role == models.RoleBot {
		entry.ResponseTimeMs = responseTimeMs
	}

	if err := c.ledger.AppendEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to append %s message: %w", role, err)
	}
	if role == models.RoleBot {
		if err := c.ledger.RecordBotReply(ctx, sessionID, now); err != nil {
			return fmt.Errorf("failed to update message count: %w", err)
		}
	}
	return nil
}

// EndSession closes a session. Ratings 1..5 are stored; 0 ends the session
// without feedback. Ending an already ended session is a no-op.
func (c *Coordinator) EndSession(ctx context.Context, sessionID string, rating int) error {
	if rating < 0 || rating > 5 {
		return ErrInvalidRating
	}

	existing, err := c.ledger.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if existing == nil {
		return ErrSessionNotFound
	}
	if existing.Ended() {
		c.logger.Debug("Session already ended", zap.String("session_id", sessionID))
		return nil
	}

	var stored *int
	if rating >= 1 {
		stored = &rating
	}
	if err := c.ledger.EndSession(ctx, sessionID, c.now(), stored); err != nil {
		return fmt.Errorf("failed to end session %s: %w", sessionID, err)
	}
	return nil
}

// Get returns the session or ErrSessionNotFound.
func (c *Coordinator) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	s, err := c.ledger.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// History returns the most recent limit entries of a session, oldest first.
func (c *Coordinator) History(ctx context.Context, sessionID string, limit int) ([]models.ConversationEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	entries, err := c.ledger.ListEntries(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history for %s: %w", sessionID, err)
	}
	return entries, nil
}
