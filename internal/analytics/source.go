package analytics

import (
	"context"
	"time"

	"github.com/rkohli77/chatbot/internal/models"
)

// SessionAggregate summarises sessions started inside a time range.
type SessionAggregate struct {
	Sessions  int64
	Rated     int64
	RatingSum int64
}

// MessageAggregate summarises conversation entries inside a time range.
// Timed counts bot entries that carry a response time.
type MessageAggregate struct {
	Messages          int64
	Timed             int64
	ResponseTimeSumMs int64
}

// Source reads raw session and conversation rows. Ranges are [from, to).
type Source interface {
	SessionAggregate(ctx context.Context, chatbotID string, from, to time.Time) (SessionAggregate, error)
	MessageAggregate(ctx context.Context, chatbotID string, from, to time.Time) (MessageAggregate, error)
	ActiveChatbots(ctx context.Context, from, to time.Time) ([]string, error)
}

// Sink receives rollup rows. Writes must upsert on (chatbot_id, date).
type Sink interface {
	Name() string
	UpsertDailyStats(ctx context.Context, stats []models.DailyStats) error
}

// HistoryReader serves stored rollup rows, dates inclusive.
type HistoryReader interface {
	DailyStatsBetween(ctx context.Context, chatbotID, fromDate, toDate string) ([]models.DailyStats, error)
}

// Aggregate folds raw aggregates into a stats row. Means are zero when
// nothing contributed to them.
func Aggregate(chatbotID, date string, s SessionAggregate, m MessageAggregate) models.DailyStats {
	stats := models.DailyStats{
		ChatbotID:     chatbotID,
		Date:          date,
		SessionCount:  s.Sessions,
		MessageCount:  m.Messages,
		RatedSessions: s.Rated,
	}
	if m.Timed > 0 {
		stats.AvgResponseTimeMs = float64(m.ResponseTimeSumMs) / float64(m.Timed)
	}
	if s.Rated > 0 {
		stats.AvgSatisfaction = float64(s.RatingSum) / float64(s.Rated)
	}
	return stats
}

// DayRange returns the UTC [start, end) bounds of the calendar day containing t.
func DayRange(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}
