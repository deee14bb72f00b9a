package analytics_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rkohli77/chatbot/internal/analytics"
	"github.com/rkohli77/chatbot/internal/config"
	"github.com/rkohli77/chatbot/internal/models"
	"github.com/rkohli77/chatbot/internal/repository/sqlstore"
	"github.com/rkohli77/chatbot/internal/session"
)

var day = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type recordingSink struct {
	name string
	err  error
	mu   sync.Mutex
	rows []models.DailyStats
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) UpsertDailyStats(_ context.Context, rows []models.DailyStats) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
	return nil
}

type fixture struct {
	repo        *sqlstore.AnalyticsRepository
	coordinator *session.Coordinator
	now         time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlstore.Open(config.DatabaseConfig{Driver: sqlstore.DialectSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	f := &fixture{repo: sqlstore.NewAnalyticsRepository(db), now: day.Add(9 * time.Hour)}
	f.coordinator = session.NewCoordinator(sqlstore.NewSessionRepository(db),
		session.WithClock(func() time.Time { return f.now }),
		session.WithLogger(zap.NewNop()))
	return f
}

// exchange runs one user/bot round trip in a fresh session.
func (f *fixture) exchange(t *testing.T, chatbotID string, responseMs int64, rating int) {
	t.Helper()
	ctx := context.Background()
	id, err := f.coordinator.ResumeOrStart(ctx, chatbotID, "")
	require.NoError(t, err)
	require.NoError(t, f.coordinator.AppendMessage(ctx, id, chatbotID, models.RoleUser, "q", nil))
	f.now = f.now.Add(time.Second)
	require.NoError(t, f.coordinator.AppendMessage(ctx, id, chatbotID, models.RoleBot, "a", &responseMs))
	if rating >= 0 {
		require.NoError(t, f.coordinator.EndSession(ctx, id, rating))
	}
	f.now = f.now.Add(time.Minute)
}

func TestAggregate(t *testing.T) {
	stats := analytics.Aggregate("cb_a", "2026-03-01",
		analytics.SessionAggregate{Sessions: 3, Rated: 2, RatingSum: 9},
		analytics.MessageAggregate{Messages: 6, Timed: 3, ResponseTimeSumMs: 3000})
	assert.Equal(t, int64(3), stats.SessionCount)
	assert.Equal(t, int64(6), stats.MessageCount)
	assert.Equal(t, 1000.0, stats.AvgResponseTimeMs)
	assert.Equal(t, 4.5, stats.AvgSatisfaction)

	empty := analytics.Aggregate("cb_a", "2026-03-01", analytics.SessionAggregate{}, analytics.MessageAggregate{})
	assert.Zero(t, empty.AvgResponseTimeMs)
	assert.Zero(t, empty.AvgSatisfaction)
}

func TestDayRange(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	start, end := analytics.DayRange(time.Date(2026, 3, 2, 2, 0, 0, 0, loc))
	assert.Equal(t, day, start)
	assert.Equal(t, day.AddDate(0, 0, 1), end)
}

func TestLiveStats(t *testing.T) {
	f := newFixture(t)
	f.exchange(t, "cb_a", 1000, 5)
	f.exchange(t, "cb_a", 3000, 0)
	f.exchange(t, "cb_a", 2000, -1)
	f.exchange(t, "cb_b", 500, 2)

	svc := analytics.NewService(f.repo, f.repo,
		analytics.WithClock(func() time.Time { return f.now }),
		analytics.WithLogger(zap.NewNop()))

	live, err := svc.LiveStats(context.Background(), "cb_a")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", live.Date)
	assert.Equal(t, int64(3), live.SessionCount)
	assert.Equal(t, int64(6), live.MessageCount)
	assert.Equal(t, 2000.0, live.AvgResponseTimeMs)
	assert.Equal(t, int64(1), live.RatedSessions)
	assert.Equal(t, 5.0, live.AvgSatisfaction)
	assert.True(t, live.ComputedAt.Equal(f.now))
}

func TestRollup_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.exchange(t, "cb_a", 1000, 4)
	f.exchange(t, "cb_b", 500, 2)

	extra := &recordingSink{name: "recording"}
	rollupAt := day.AddDate(0, 0, 1).Add(time.Hour)
	svc := analytics.NewService(f.repo, f.repo,
		analytics.WithClock(func() time.Time { return rollupAt }),
		analytics.WithSinks(f.repo, extra),
		analytics.WithConcurrency(2),
		analytics.WithLogger(zap.NewNop()))

	ctx := context.Background()
	n, err := svc.Rollup(ctx, day.Add(15*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.Rollup(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := svc.History(ctx, "cb_a", "2026-03-01", "2026-03-01")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].SessionCount)
	assert.Equal(t, int64(2), rows[0].MessageCount)
	assert.Equal(t, 4.0, rows[0].AvgSatisfaction)
	assert.Len(t, extra.rows, 4)

	n, err = svc.Rollup(ctx, day.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRollup_SinkFailure(t *testing.T) {
	f := newFixture(t)
	f.exchange(t, "cb_a", 1000, 4)

	good := &recordingSink{name: "good"}
	bad := &recordingSink{name: "bad", err: errors.New("clickhouse down")}
	svc := analytics.NewService(f.repo, f.repo,
		analytics.WithSinks(good, bad),
		analytics.WithLogger(zap.NewNop()))

	_, err := svc.Rollup(context.Background(), day)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink bad")
	assert.Len(t, good.rows, 1)
}

func TestHistory_ValidatesRange(t *testing.T) {
	f := newFixture(t)
	svc := analytics.NewService(f.repo, f.repo, analytics.WithLogger(zap.NewNop()))
	ctx := context.Background()

	_, err := svc.History(ctx, "cb_a", "yesterday", "2026-03-01")
	assert.ErrorIs(t, err, analytics.ErrInvalidDateRange)

	_, err = svc.History(ctx, "cb_a", "2026-03-05", "2026-03-01")
	assert.ErrorIs(t, err, analytics.ErrInvalidDateRange)

	_, err = svc.History(ctx, "cb_a", "2024-01-01", "2026-03-01")
	assert.ErrorIs(t, err, analytics.ErrInvalidDateRange)

	rows, err := svc.History(ctx, "cb_a", "2026-03-01", "2026-03-02")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestScheduler_RunsYesterdayAndStops(t *testing.T) {
	f := newFixture(t)
	f.exchange(t, "cb_a", 1000, 4)

	sink := &recordingSink{name: "recording"}
	svc := analytics.NewService(f.repo, f.repo,
		analytics.WithClock(func() time.Time { return day.AddDate(0, 0, 1).Add(time.Hour) }),
		analytics.WithSinks(sink),
		analytics.WithLogger(zap.NewNop()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		analytics.NewScheduler(svc, time.Hour).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.rows) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, "2026-03-01", sink.rows[0].Date)
}
