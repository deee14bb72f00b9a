package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/rkohli77/chatbot/internal/analytics"
	"github.com/rkohli77/chatbot/internal/models"
)

var _ analytics.Sink = (*DailyStatsSink)(nil)

// Conn is the subset of client.ClickHouseClient the sink uses.
type Conn interface {
	Exec(ctx context.Context, query string, args ...any) error
	BatchInsert(ctx context.Context, query string, data [][]any) error
}

// ReplacingMergeTree keeps the row with the newest updated_at per key, so
// re-running a rollup replaces rather than duplicates.
const createDailyStatsTable = `CREATE TABLE IF NOT EXISTS chatbot_daily_stats (
    chatbot_id String,
    stat_date Date,
    session_count UInt64,
    message_count UInt64,
    avg_response_time_ms Float64,
    rated_sessions UInt64,
    avg_satisfaction Float64,
    updated_at DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(updated_at)
ORDER BY (chatbot_id, stat_date)`

const insertDailyStats = `INSERT INTO chatbot_daily_stats
    (chatbot_id, stat_date, session_count, message_count, avg_response_time_ms, rated_sessions, avg_satisfaction, updated_at)`

type DailyStatsSink struct {
	conn Conn
}

func NewDailyStatsSink(conn Conn) *DailyStatsSink {
	return &DailyStatsSink{conn: conn}
}

func (s *DailyStatsSink) Name() string {
	return "clickhouse"
}

func (s *DailyStatsSink) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, createDailyStatsTable); err != nil {
		return fmt.Errorf("failed to create chatbot_daily_stats: %w", err)
	}
	return nil
}

func (s *DailyStatsSink) UpsertDailyStats(ctx context.Context, stats []models.DailyStats) error {
	if len(stats) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(stats))
	for _, st := range stats {
		date, err := time.Parse(models.DateLayout, st.Date)
		if err != nil {
			return fmt.Errorf("invalid stat date %q: %w", st.Date, err)
		}
		rows = append(rows, []any{
			st.ChatbotID,
			date,
			uint64(st.SessionCount),
			uint64(st.MessageCount),
			st.AvgResponseTimeMs,
			uint64(st.RatedSessions),
			st.AvgSatisfaction,
			st.UpdatedAt.UTC(),
		})
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.conn.BatchInsert(ctx, insertDailyStats, rows); err != nil {
		return fmt.Errorf("failed to insert daily stats: %w", err)
	}
	return nil
}
