package widget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rkohli77/chatbot/internal/util"
)

var (
	ErrRatingPending = errors.New("rating pending, rate or dismiss first")
	ErrNotRating     = errors.New("no rating requested")
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
)

// ExpiryNotice is shown once when an idle session is dropped.
const ExpiryNotice = "Your session expired due to inactivity. Send a message to start a new conversation."

// Machine is the client-side session state for one chatbot widget.
//
// Sends are serialised; the expiry check and Close may run concurrently with
// a send. A machine built over a still-valid persisted record resumes that
// episode: it starts Active, with the welcome already shown and the persisted
// message count.
type Machine struct {
	chatbotID string
	transport Transport
	storage   Storage
	timeout   time.Duration
	now       func() time.Time
	logger    *zap.Logger

	sendMu sync.Mutex

	mu           sync.Mutex
	state        State
	welcomeShown bool
	// messages exchanged (user plus bot) in the current episode
	messages int
	welcome  string
	loaded   bool
}

type MachineOption func(*Machine)

func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) { m.now = now }
}

func WithLogger(logger *zap.Logger) MachineOption {
	return func(m *Machine) { m.logger = logger }
}

func NewMachine(chatbotID string, transport Transport, storage Storage, timeout time.Duration, opts ...MachineOption) *Machine {
	m := &Machine{
		chatbotID: chatbotID,
		transport: transport,
		storage:   storage,
		timeout:   timeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = util.Named("widget")
	}

	if rec, ok, err := loadRecord(storage, chatbotID); err == nil && ok && IsValid(rec.LastActivityAt, m.now(), timeout) {
		m.state = Active
		m.welcomeShown = true
		m.messages = rec.Messages
	}
	return m
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID returns the persisted session id, if any.
func (m *Machine) SessionID() string {
	rec, ok, err := loadRecord(m.storage, m.chatbotID)
	if err != nil || !ok {
		return ""
	}
	return rec.SessionID
}

// Open returns the welcome message the first time the widget opens in an
// episode, and "" afterwards.
func (m *Machine) Open(ctx context.Context) (string, error) {
	m.mu.Lock()
	loaded := m.loaded
	m.mu.Unlock()

	if !loaded {
		cfg, err := m.transport.PublicConfig(ctx, m.chatbotID)
		if err != nil {
			return "", fmt.Errorf("failed to load widget config: %w", err)
		}
		m.mu.Lock()
		m.welcome, m.loaded = cfg.WelcomeMessage, true
		m.mu.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.welcomeShown || m.state == RatingPending {
		return "", nil
	}
	m.welcomeShown = true
	return m.welcome, nil
}

// Send delivers one user message. A persisted session is attached only
// while it is still valid; the returned id and now are persisted on success.
// A widget closed while the send was in flight keeps its rating prompt.
func (m *Machine) Send(ctx context.Context, text string) (string, error) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.mu.Lock()
	if m.state == RatingPending {
		m.mu.Unlock()
		return "", ErrRatingPending
	}
	candidate := ""
	rec, ok, err := loadRecord(m.storage, m.chatbotID)
	if err != nil {
		m.logger.Warn("Widget storage unreadable, starting fresh", zap.Error(err))
	} else if ok {
		if IsValid(rec.LastActivityAt, m.now(), m.timeout) {
			candidate = rec.SessionID
		} else {
			m.resetLocked()
		}
	}
	m.mu.Unlock()

	reply, sessionID, err := m.transport.Chat(ctx, m.chatbotID, text, candidate)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sessionID != candidate {
		m.messages = 0
	}
	m.messages += 2
	rec = record{SessionID: sessionID, LastActivityAt: m.now(), Messages: m.messages}
	if err := saveRecord(m.storage, m.chatbotID, rec); err != nil {
		m.logger.Warn("Failed to persist widget session", zap.Error(err))
	}
	if m.state != RatingPending {
		m.state = Active
	}
	return reply, nil
}

// CheckExpiry drops an idle Active session. It returns true exactly once per
// expiry, when the notice should be shown.
func (m *Machine) CheckExpiry() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Active {
		return false
	}
	rec, ok, err := loadRecord(m.storage, m.chatbotID)
	if err != nil {
		return false
	}
	if ok && IsValid(rec.LastActivityAt, m.now(), m.timeout) {
		return false
	}
	m.resetLocked()
	m.state = Expired
	return true
}

// Close is called when the user closes the widget. It asks for a rating
// only when more than one message was exchanged.
func (m *Machine) Close() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.state == RatingPending:
	case m.state == Active && m.messages > 1:
		m.state = RatingPending
	default:
		m.resetLocked()
	}
	return m.state
}

// Rate ends the session with a 1..5 rating. The local session is discarded
// even when the gateway call fails.
func (m *Machine) Rate(ctx context.Context, rating int) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	return m.endSession(ctx, rating)
}

// DismissRating ends the session without a score.
func (m *Machine) DismissRating(ctx context.Context) error {
	return m.endSession(ctx, 0)
}

func (m *Machine) endSession(ctx context.Context, rating int) error {
	m.mu.Lock()
	if m.state != RatingPending {
		m.mu.Unlock()
		return ErrNotRating
	}
	rec, ok, err := loadRecord(m.storage, m.chatbotID)
	m.resetLocked()
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to read widget session, feedback not sent: %w", err)
	}
	if !ok {
		return nil
	}
	if err := m.transport.Feedback(ctx, rec.SessionID, rating); err != nil {
		return fmt.Errorf("failed to send feedback: %w", err)
	}
	return nil
}

// resetLocked clears the persisted record and starts a new episode.
func (m *Machine) resetLocked() {
	if err := clearRecord(m.storage, m.chatbotID); err != nil {
		m.logger.Warn("Failed to clear widget session", zap.Error(err))
	}
	m.state = NoSession
	m.welcomeShown = false
	m.messages = 0
}
