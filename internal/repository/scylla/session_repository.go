package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/rkohli77/chatbot/internal/analytics"
	"github.com/rkohli77/chatbot/internal/bucketing"
	"github.com/rkohli77/chatbot/internal/models"
	"github.com/rkohli77/chatbot/internal/session"
	"github.com/rkohli77/chatbot/internal/util"
)

var (
	_ session.Ledger   = (*SessionRepository)(nil)
	_ analytics.Source = (*SessionRepository)(nil)
)

// SessionRepository keeps sessions in Scylla. Session creation and ending
// use lightweight transactions; analytics read from day-partitioned tables.
type SessionRepository struct {
	client  *ScyllaClient
	buckets *bucketing.Manager
}

func NewSessionRepository(client *ScyllaClient, buckets *bucketing.Manager) *SessionRepository {
	return &SessionRepository{client: client, buckets: buckets}
}

func (r *SessionRepository) CreateSession(ctx context.Context, s *models.Session) (bool, error) {
	applied, err := r.client.Query(ctx, Statements.InsertSession,
		s.SessionID, s.ChatbotID, s.StartedAt.UTC(), s.LastActivityAt.UTC()).
		MapScanCAS(map[string]any{})
	if err != nil {
		return false, fmt.Errorf("failed to insert session: %w", err)
	}
	if !applied {
		return false, nil
	}

	day := r.buckets.DayBucket(s.StartedAt)
	batch := r.client.Batch(ctx, gocql.LoggedBatch)
	batch.Query(Statements.IndexSessionByDay, s.ChatbotID, day, s.SessionID)
	batch.Query(Statements.IndexActiveChatbot, day, s.ChatbotID)
	if err := r.client.ExecuteBatch(batch); err != nil {
		// The session row exists; only the day index is missing.
		util.Error("Failed to index session by day",
			zap.String("session_id", s.SessionID),
			zap.String("chatbot_id", s.ChatbotID),
			zap.Error(err))
	}
	return true, nil
}

func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var (
		s       models.Session
		endedAt time.Time
		rating  *int
	)
	err := r.client.Query(ctx, Statements.GetSession, sessionID).
		Scan(&s.SessionID, &s.ChatbotID, &s.StartedAt, &endedAt, &rating, &s.LastActivityAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	s.StartedAt = s.StartedAt.UTC()
	s.LastActivityAt = s.LastActivityAt.UTC()
	if !endedAt.IsZero() {
		t := endedAt.UTC()
		s.EndedAt = &t
	}
	s.SatisfactionRating = rating

	var count int64
	err = r.client.Query(ctx, Statements.GetMessageCount, sessionID).Scan(&count)
	if err != nil && !errors.Is(err, gocql.ErrNotFound) {
		return nil, fmt.Errorf("failed to get message count: %w", err)
	}
	s.MessageCount = int(count)
	return &s, nil
}

func (r *SessionRepository) AppendEntry(ctx context.Context, e *models.ConversationEntry) error {
	day := r.buckets.DayBucket(e.CreatedAt)
	createdAt := e.CreatedAt.UTC()

	batch := r.client.Batch(ctx, gocql.LoggedBatch)
	batch.Query(Statements.InsertEntry,
		e.SessionID, createdAt, e.ID, e.ChatbotID, string(e.Role), e.Text, e.ResponseTimeMs)
	batch.Query(Statements.InsertEntryByDay,
		e.ChatbotID, day, r.buckets.EntryBucket(e.ID), createdAt, e.ID, string(e.Role), e.ResponseTimeMs)
	batch.Query(Statements.IndexActiveChatbot, day, e.ChatbotID)

	if err := r.client.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to insert conversation entry: %w", err)
	}
	return nil
}

func (r *SessionRepository) RecordBotReply(ctx context.Context, sessionID string, at time.Time) error {
	applied, err := r.client.Query(ctx, Statements.TouchSession, at.UTC(), sessionID).
		MapScanCAS(map[string]any{})
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if !applied {
		return session.ErrSessionNotFound
	}

	if err := r.client.Query(ctx, Statements.IncrementMessages, sessionID).Exec(); err != nil {
		return fmt.Errorf("failed to increment message count: %w", err)
	}
	return nil
}

func (r *SessionRepository) EndSession(ctx context.Context, sessionID string, endedAt time.Time, rating *int) error {
	existing, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if existing == nil {
		return session.ErrSessionNotFound
	}

	applied, err := r.client.Query(ctx, Statements.EndSession, endedAt.UTC(), rating, sessionID).
		MapScanCAS(map[string]any{})
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if !applied || rating == nil {
		return nil
	}

	day := r.buckets.DayBucket(existing.StartedAt)
	if err := r.client.Query(ctx, Statements.RateSessionByDay, *rating, existing.ChatbotID, day, sessionID).Exec(); err != nil {
		return fmt.Errorf("failed to index session rating: %w", err)
	}
	return nil
}

func (r *SessionRepository) ListEntries(ctx context.Context, sessionID string, limit int) ([]models.ConversationEntry, error) {
	iter := r.client.Query(ctx, Statements.ListEntries, sessionID, limit).Iter()

	var (
		entries []models.ConversationEntry
		e       models.ConversationEntry
		role    string
		rt      *int64
	)
	for iter.Scan(&e.ID, &e.SessionID, &e.ChatbotID, &role, &e.Text, &rt, &e.CreatedAt) {
		e.Role = models.Role(role)
		e.CreatedAt = e.CreatedAt.UTC()
		e.ResponseTimeMs = rt
		entries = append(entries, e)
		e = models.ConversationEntry{}
		rt = nil
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list conversation entries: %w", err)
	}

	// Clustering order is newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// SessionAggregate counts sessions by their start day partition, so from and
// to are expected on UTC day boundaries.
func (r *SessionRepository) SessionAggregate(ctx context.Context, chatbotID string, from, to time.Time) (analytics.SessionAggregate, error) {
	var agg analytics.SessionAggregate
	for _, day := range r.buckets.DayBuckets(from, to) {
		iter := r.client.Query(ctx, Statements.SessionsByDay, chatbotID, day).Iter()
		var rating *int
		for iter.Scan(&rating) {
			agg.Sessions++
			if rating != nil {
				agg.Rated++
				agg.RatingSum += int64(*rating)
			}
			rating = nil
		}
		if err := iter.Close(); err != nil {
			return agg, fmt.Errorf("failed to scan sessions for %s: %w", day, err)
		}
	}
	return agg, nil
}

func (r *SessionRepository) MessageAggregate(ctx context.Context, chatbotID string, from, to time.Time) (analytics.MessageAggregate, error) {
	var agg analytics.MessageAggregate
	for _, day := range r.buckets.DayBuckets(from, to) {
		for bucket := 0; bucket < r.buckets.EntryBuckets(); bucket++ {
			iter := r.client.Query(ctx, Statements.EntriesByDayBucket, chatbotID, day, bucket, from.UTC(), to.UTC()).Iter()
			var rt *int64
			for iter.Scan(&rt) {
				agg.Messages++
				if rt != nil {
					agg.Timed++
					agg.ResponseTimeSumMs += *rt
				}
				rt = nil
			}
			if err := iter.Close(); err != nil {
				return agg, fmt.Errorf("failed to scan entries for %s/%d: %w", day, bucket, err)
			}
		}
	}
	return agg, nil
}

func (r *SessionRepository) ActiveChatbots(ctx context.Context, from, to time.Time) ([]string, error) {
	seen := map[string]struct{}{}
	var ids []string
	for _, day := range r.buckets.DayBuckets(from, to) {
		iter := r.client.Query(ctx, Statements.ActiveChatbotsForDay, day).Iter()
		var id string
		for iter.Scan(&id) {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
		if err := iter.Close(); err != nil {
			return nil, fmt.Errorf("failed to list active chatbots for %s: %w", day, err)
		}
	}
	return ids, nil
}
