package models

import "time"

// DateLayout is the calendar-day key used for rollups (UTC).
const DateLayout = "2006-01-02"

// DailyStats is one rollup row per (chatbot, date).
type DailyStats struct {
	ChatbotID         string    `db:"chatbot_id" json:"chatbot_id"`
	Date              string    `db:"stat_date" json:"date"`
	SessionCount      int64     `db:"session_count" json:"session_count"`
	MessageCount      int64     `db:"message_count" json:"message_count"`
	AvgResponseTimeMs float64   `db:"avg_response_time_ms" json:"avg_response_time_ms"`
	RatedSessions     int64     `db:"rated_sessions" json:"rated_sessions"`
	AvgSatisfaction   float64   `db:"avg_satisfaction" json:"avg_satisfaction"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// LiveStats is the on-demand "today" view, computed from raw rows.
type LiveStats struct {
	DailyStats
	ComputedAt time.Time `json:"computed_at"`
}
