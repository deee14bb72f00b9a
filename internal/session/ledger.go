package session

import (
	"context"
	"time"

	"github.com/rkohli77/chatbot/internal/models"
)

// Ledger is the server-side store of sessions and their conversation log.
// Session ids are unique in the store; CreateSession must be an
// insert-if-absent so concurrent starts for the same id yield one row.
type Ledger interface {
	// CreateSession inserts s unless a session with the same id exists.
	// created reports whether this call inserted the row.
	CreateSession(ctx context.Context, s *models.Session) (created bool, err error)

	// GetSession returns (nil, nil) when the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)

	AppendEntry(ctx context.Context, entry *models.ConversationEntry) error

	// RecordBotReply bumps message_count and last_activity_at for one round trip.
	RecordBotReply(ctx context.Context, sessionID string, at time.Time) error

	// EndSession sets ended_at (and the rating when non-nil) on a session that has not ended yet.
	EndSession(ctx context.Context, sessionID string, endedAt time.Time, rating *int) error

	// ListEntries returns up to limit of the most recent entries, oldest first.
	ListEntries(ctx context.Context, sessionID string, limit int) ([]models.ConversationEntry, error)
}
