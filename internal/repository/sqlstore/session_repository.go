package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rkohli77/chatbot/internal/models"
	"github.com/rkohli77/chatbot/internal/session"
)

var _ session.Ledger = (*SessionRepository)(nil)

// SessionRepository stores chat_sessions and conversations.
type SessionRepository struct {
	db *DB
}

func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) CreateSession(ctx context.Context, s *models.Session) (bool, error) {
	query := `INSERT INTO chat_sessions
        (session_id, chatbot_id, started_at, ended_at, message_count, satisfaction_rating, last_activity_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (session_id) DO NOTHING`
	if r.db.dialect == DialectMySQL {
		query = `INSERT IGNORE INTO chat_sessions
        (session_id, chatbot_id, started_at, ended_at, message_count, satisfaction_rating, last_activity_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`
	}

	res, err := r.db.exec(ctx, query,
		s.SessionID, s.ChatbotID, s.StartedAt.UTC(), nullTime(s.EndedAt),
		s.MessageCount, nullInt(s.SatisfactionRating), s.LastActivityAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to insert session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var (
		s       models.Session
		endedAt sql.NullTime
		rating  sql.NullInt64
	)
	err := r.db.queryRow(ctx, `SELECT session_id, chatbot_id, started_at, ended_at, message_count, satisfaction_rating, last_activity_at
        FROM chat_sessions WHERE session_id = ?`, sessionID).
		Scan(&s.SessionID, &s.ChatbotID, &s.StartedAt, &endedAt, &s.MessageCount, &rating, &s.LastActivityAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	s.StartedAt = s.StartedAt.UTC()
	s.LastActivityAt = s.LastActivityAt.UTC()
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		s.EndedAt = &t
	}
	if rating.Valid {
		v := int(rating.Int64)
		s.SatisfactionRating = &v
	}
	return &s, nil
}

func (r *SessionRepository) AppendEntry(ctx context.Context, e *models.ConversationEntry) error {
	_, err := r.db.exec(ctx, `INSERT INTO conversations
        (id, session_id, chatbot_id, role, message, response_time_ms, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.ChatbotID, string(e.Role), e.Text, nullInt64(e.ResponseTimeMs), e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert conversation entry: %w", err)
	}
	return nil
}

func (r *SessionRepository) RecordBotReply(ctx context.Context, sessionID string, at time.Time) error {
	res, err := r.db.exec(ctx, `UPDATE chat_sessions
        SET message_count = message_count + 1, last_activity_at = ?
        WHERE session_id = ?`, at.UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to record bot reply: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) EndSession(ctx context.Context, sessionID string, endedAt time.Time, rating *int) error {
	_, err := r.db.exec(ctx, `UPDATE chat_sessions
        SET ended_at = ?, satisfaction_rating = ?
        WHERE session_id = ? AND ended_at IS NULL`,
		endedAt.UTC(), nullInt(rating), sessionID)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

func (r *SessionRepository) ListEntries(ctx context.Context, sessionID string, limit int) ([]models.ConversationEntry, error) {
	rows, err := r.db.query(ctx, `SELECT id, session_id, chatbot_id, role, message, response_time_ms, created_at
        FROM conversations WHERE session_id = ?
        ORDER BY created_at DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation entries: %w", err)
	}
	defer rows.Close()

	var entries []models.ConversationEntry
	for rows.Next() {
		var (
			e    models.ConversationEntry
			role string
			rt   sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ChatbotID, &role, &e.Text, &rt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation entry: %w", err)
		}
		e.Role = models.Role(role)
		e.CreatedAt = e.CreatedAt.UTC()
		if rt.Valid {
			v := rt.Int64
			e.ResponseTimeMs = &v
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation entries: %w", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
