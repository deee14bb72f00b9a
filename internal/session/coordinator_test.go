package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rkohli77/chatbot/internal/config"
	"github.com/rkohli77/chatbot/internal/models"
	"github.com/rkohli77/chatbot/internal/repository/sqlstore"
	"github.com/rkohli77/chatbot/internal/session"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newLedger(t *testing.T) *sqlstore.SessionRepository {
	t.Helper()
	db, err := sqlstore.Open(config.DatabaseConfig{Driver: sqlstore.DialectSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return sqlstore.NewSessionRepository(db)
}

func newCoordinator(t *testing.T, opts ...session.Option) (*session.Coordinator, *sqlstore.SessionRepository, *fakeClock) {
	t.Helper()
	ledger := newLedger(t)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	var mu sync.Mutex
	seq := 0
	base := []session.Option{
		session.WithClock(clock.Now),
		session.WithLogger(zap.NewNop()),
		session.WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("gen-%d", seq)
		}),
	}
	return session.NewCoordinator(ledger, append(base, opts...)...), ledger, clock
}

func TestResumeOrStart_NoCandidateStartsNew(t *testing.T) {
	c, ledger, _ := newCoordinator(t)
	ctx := context.Background()

	id, err := c.ResumeOrStart(ctx, "cb_demo01", "")
	require.NoError(t, err)
	assert.Equal(t, "gen-1", id)

	s, err := ledger.GetSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "cb_demo01", s.ChatbotID)
	assert.False(t, s.Ended())
}

func TestResumeOrStart_ResumesLiveSession(t *testing.T) {
	c, _, clock := newCoordinator(t)
	ctx := context.Background()

	id, err := c.ResumeOrStart(ctx, "cb_demo01", "")
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	again, err := c.ResumeOrStart(ctx, "cb_demo01", id)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestResumeOrStart_UnknownCandidateIsCreated(t *testing.T) {
	c, ledger, _ := newCoordinator(t)
	ctx := context.Background()

	id, err := c.ResumeOrStart(ctx, "cb_demo01", "client-minted-1")
	require.NoError(t, err)
	assert.Equal(t, "client-minted-1", id)

	s, err := ledger.GetSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestResumeOrStart_ConcurrentStartsCreateOneRow(t *testing.T) {
	c, ledger, _ := newCoordinator(t)
	ctx := context.Background()

	const workers = 10
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := c.ResumeOrStart(ctx, "cb_demo01", "shared-sid")
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, "shared-sid", id)
	}
	s, err := ledger.GetSession(ctx, "shared-sid")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 0, s.MessageCount)
}

func TestResumeOrStart_RejectsUnusableCandidates(t *testing.T) {
	c, _, clock := newCoordinator(t, session.WithIdleTimeout(30*time.Minute))
	ctx := context.Background()

	ended, err := c.ResumeOrStart(ctx, "cb_demo01", "")
	require.NoError(t, err)
	require.NoError(t, c.EndSession(ctx, ended, 0))

	tests := []struct {
		name      string
		chatbotID string
		candidate string
		before    func()
	}{
		{name: "ended session", chatbotID: "cb_demo01", candidate: ended},
		{name: "malformed id", chatbotID: "cb_demo01", candidate: "bad id with spaces"},
		{name: "other chatbot", chatbotID: "cb_other", candidate: "owned-by-demo", before: func() {
			_, err := c.ResumeOrStart(ctx, "cb_demo01", "owned-by-demo")
			require.NoError(t, err)
		}},
		{name: "idle too long", chatbotID: "cb_demo01", candidate: "idle-one", before: func() {
			_, err := c.ResumeOrStart(ctx, "cb_demo01", "idle-one")
			require.NoError(t, err)
			clock.Advance(31 * time.Minute)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.before != nil {
				tt.before()
			}
			id, err := c.ResumeOrStart(ctx, tt.chatbotID, tt.candidate)
			require.NoError(t, err)
			assert.NotEqual(t, tt.candidate, id)
			assert.Contains(t, id, "gen-")
		})
	}
}

func TestAppendMessage_CountsBotReplies(t *testing.T) {
	c, ledger, clock := newCoordinator(t)
	ctx := context.Background()

	id, err := c.ResumeOrStart(ctx, "cb_demo01", "")
	require.NoError(t, err)

	rt := int64(420)
	require.NoError(t, c.AppendMessage(ctx, id, "cb_demo01", models.RoleUser, "hello", &rt))
	s, err := ledger.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, s.MessageCount)

	clock.Advance(time.Second)
	require.NoError(t, c.AppendMessage(ctx, id, "cb_demo01", models.RoleBot, "hi!", &rt))
	s, err = ledger.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, s.MessageCount)
	assert.True(t, s.LastActivityAt.Equal(clock.Now()))

	history, err := c.History(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Nil(t, history[0].ResponseTimeMs, "user messages carry no response time")
	require.NotNil(t, history[1].ResponseTimeMs)
	assert.Equal(t, int64(420), *history[1].ResponseTimeMs)

	err = c.AppendMessage(ctx, id, "cb_demo01", models.Role("system"), "x", nil)
	assert.ErrorIs(t, err, session.ErrInvalidRole)
}

func TestEndSession(t *testing.T) {
	c, _, _ := newCoordinator(t)
	ctx := context.Background()

	t.Run("rating zero ends without feedback", func(t *testing.T) {
		id, err := c.ResumeOrStart(ctx, "cb_demo01", "")
		require.NoError(t, err)
		require.NoError(t, c.EndSession(ctx, id, 0))

		s, err := c.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, s.Ended())
		assert.Nil(t, s.SatisfactionRating)
	})

	t.Run("rating stored", func(t *testing.T) {
		id, err := c.ResumeOrStart(ctx, "cb_demo01", "")
		require.NoError(t, err)
		require.NoError(t, c.EndSession(ctx, id, 4))

		s, err := c.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, s.SatisfactionRating)
		assert.Equal(t, 4, *s.SatisfactionRating)

		// Already ended: no-op, the first rating stays.
		require.NoError(t, c.EndSession(ctx, id, 1))
		s, err = c.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 4, *s.SatisfactionRating)
	})

	t.Run("out of range", func(t *testing.T) {
		assert.ErrorIs(t, c.EndSession(ctx, "whatever", 6), session.ErrInvalidRating)
		assert.ErrorIs(t, c.EndSession(ctx, "whatever", -1), session.ErrInvalidRating)
	})

	t.Run("unknown session", func(t *testing.T) {
		assert.ErrorIs(t, c.EndSession(ctx, "missing", 3), session.ErrSessionNotFound)
		_, err := c.Get(ctx, "missing")
		assert.ErrorIs(t, err, session.ErrSessionNotFound)
	})
}
