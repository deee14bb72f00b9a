package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/rkohli77/chatbot/internal/analytics"
	"github.com/rkohli77/chatbot/internal/models"
)

var (
	_ analytics.Source        = (*AnalyticsRepository)(nil)
	_ analytics.Sink          = (*AnalyticsRepository)(nil)
	_ analytics.HistoryReader = (*AnalyticsRepository)(nil)
)

// AnalyticsRepository aggregates raw session rows and stores daily_stats.
type AnalyticsRepository struct {
	db *DB
}

func NewAnalyticsRepository(db *DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

func (r *AnalyticsRepository) Name() string {
	return "sql"
}

func (r *AnalyticsRepository) SessionAggregate(ctx context.Context, chatbotID string, from, to time.Time) (analytics.SessionAggregate, error) {
	var agg analytics.SessionAggregate
	err := r.db.queryRow(ctx, `SELECT COUNT(*), COUNT(satisfaction_rating), COALESCE(SUM(satisfaction_rating), 0)
        FROM chat_sessions
        WHERE chatbot_id = ? AND started_at >= ? AND started_at < ?`,
		chatbotID, from.UTC(), to.UTC()).
		Scan(&agg.Sessions, &agg.Rated, &agg.RatingSum)
	if err != nil {
		return agg, fmt.Errorf("failed to aggregate sessions: %w", err)
	}
	return agg, nil
}

func (r *AnalyticsRepository) MessageAggregate(ctx context.Context, chatbotID string, from, to time.Time) (analytics.MessageAggregate, error) {
	var agg analytics.MessageAggregate
	err := r.db.queryRow(ctx, `SELECT COUNT(*), COUNT(response_time_ms), COALESCE(SUM(response_time_ms), 0)
        FROM conversations
        WHERE chatbot_id = ? AND created_at >= ? AND created_at < ?`,
		chatbotID, from.UTC(), to.UTC()).
		Scan(&agg.Messages, &agg.Timed, &agg.ResponseTimeSumMs)
	if err != nil {
		return agg, fmt.Errorf("failed to aggregate messages: %w", err)
	}
	return agg, nil
}

func (r *AnalyticsRepository) ActiveChatbots(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := r.db.query(ctx, `SELECT chatbot_id FROM chat_sessions WHERE started_at >= ? AND started_at < ?
        UNION
        SELECT chatbot_id FROM conversations WHERE created_at >= ? AND created_at < ?`,
		from.UTC(), to.UTC(), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list active chatbots: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan chatbot id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *AnalyticsRepository) UpsertDailyStats(ctx context.Context, stats []models.DailyStats) error {
	query := `INSERT INTO daily_stats
        (chatbot_id, stat_date, session_count, message_count, avg_response_time_ms, rated_sessions, avg_satisfaction, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (chatbot_id, stat_date) DO UPDATE SET
            session_count = excluded.session_count,
            message_count = excluded.message_count,
            avg_response_time_ms = excluded.avg_response_time_ms,
            rated_sessions = excluded.rated_sessions,
            avg_satisfaction = excluded.avg_satisfaction,
            updated_at = excluded.updated_at`
	if r.db.dialect == DialectMySQL {
		query = `INSERT INTO daily_stats
        (chatbot_id, stat_date, session_count, message_count, avg_response_time_ms, rated_sessions, avg_satisfaction, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
            session_count = VALUES(session_count),
            message_count = VALUES(message_count),
            avg_response_time_ms = VALUES(avg_response_time_ms),
            rated_sessions = VALUES(rated_sessions),
            avg_satisfaction = VALUES(avg_satisfaction),
            updated_at = VALUES(updated_at)`
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, r.db.rebind(query))
	if err != nil {
		return fmt.Errorf("failed to prepare daily stats upsert: %w", err)
	}
	defer stmt.Close()

	for _, s := range stats {
		if _, err := stmt.ExecContext(ctx, s.ChatbotID, s.Date, s.SessionCount, s.MessageCount,
			s.AvgResponseTimeMs, s.RatedSessions, s.AvgSatisfaction, s.UpdatedAt.UTC()); err != nil {
			return fmt.Errorf("failed to upsert daily stats for %s/%s: %w", s.ChatbotID, s.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit daily stats: %w", err)
	}
	return nil
}

func (r *AnalyticsRepository) DailyStatsBetween(ctx context.Context, chatbotID, fromDate, toDate string) ([]models.DailyStats, error) {
	rows, err := r.db.query(ctx, `SELECT chatbot_id, stat_date, session_count, message_count,
            avg_response_time_ms, rated_sessions, avg_satisfaction, updated_at
        FROM daily_stats
        WHERE chatbot_id = ? AND stat_date >= ? AND stat_date <= ?
        ORDER BY stat_date ASC`, chatbotID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	var out []models.DailyStats
	for rows.Next() {
		var s models.DailyStats
		if err := rows.Scan(&s.ChatbotID, &s.Date, &s.SessionCount, &s.MessageCount,
			&s.AvgResponseTimeMs, &s.RatedSessions, &s.AvgSatisfaction, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan daily stats: %w", err)
		}
		s.UpdatedAt = s.UpdatedAt.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}
