package models

import "time"

type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleBot
}

// Session is one continuous widget conversation. It is terminal once EndedAt is set.
type Session struct {
	SessionID          string     `db:"session_id" json:"session_id"`
	ChatbotID          string     `db:"chatbot_id" json:"chatbot_id"`
	StartedAt          time.Time  `db:"started_at" json:"started_at"`
	EndedAt            *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	MessageCount       int        `db:"message_count" json:"message_count"`
	SatisfactionRating *int       `db:"satisfaction_rating" json:"satisfaction_rating,omitempty"`
	LastActivityAt     time.Time  `db:"last_activity_at" json:"last_activity_at"`
}

func (s *Session) Ended() bool {
	return s.EndedAt != nil
}

// ConversationEntry is an append-only log row for one user or bot message.
type ConversationEntry struct {
	ID             string    `db:"id" json:"id"`
	SessionID      string    `db:"session_id" json:"session_id"`
	ChatbotID      string    `db:"chatbot_id" json:"chatbot_id"`
	Role           Role      `db:"role" json:"role"`
	Text           string    `db:"message" json:"message"`
	ResponseTimeMs *int64    `db:"response_time_ms" json:"response_time_ms,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
