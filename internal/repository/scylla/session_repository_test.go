package scylla

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkohli77/chatbot/internal/bucketing"
	"github.com/rkohli77/chatbot/internal/config"
	"github.com/rkohli77/chatbot/internal/models"
)

// Runs against a live cluster: SCYLLA_TEST_NODES=127.0.0.1 SCYLLA_TEST_KEYSPACE=chatbot_test.
func newTestRepository(t *testing.T) *SessionRepository {
	t.Helper()
	nodes := os.Getenv("SCYLLA_TEST_NODES")
	if nodes == "" {
		t.Skip("SCYLLA_TEST_NODES not set")
	}
	keyspace := os.Getenv("SCYLLA_TEST_KEYSPACE")
	if keyspace == "" {
		keyspace = "chatbot_test"
	}

	cfg := &config.Config{
		Environment: "development",
		Scylla:      config.ScyllaConfig{Nodes: strings.Split(nodes, ","), Keyspace: keyspace},
	}
	client, err := NewScyllaClient(cfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	require.NoError(t, client.EnsureSchema(context.Background()))

	return NewSessionRepository(client, bucketing.NewManager(4))
}

func TestSessionRepository_Lifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	id := uuid.NewString()
	chatbotID := "cb_" + uuid.NewString()[:8]

	created, err := repo.CreateSession(ctx, &models.Session{SessionID: id, ChatbotID: chatbotID, StartedAt: now, LastActivityAt: now})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreateSession(ctx, &models.Session{SessionID: id, ChatbotID: "cb_other", StartedAt: now, LastActivityAt: now})
	require.NoError(t, err)
	assert.False(t, created)

	rt := int64(700)
	require.NoError(t, repo.AppendEntry(ctx, &models.ConversationEntry{ID: uuid.NewString(), SessionID: id, ChatbotID: chatbotID, Role: models.RoleUser, Text: "hi", CreatedAt: now}))
	require.NoError(t, repo.AppendEntry(ctx, &models.ConversationEntry{ID: uuid.NewString(), SessionID: id, ChatbotID: chatbotID, Role: models.RoleBot, Text: "hello", ResponseTimeMs: &rt, CreatedAt: now.Add(time.Second)}))
	require.NoError(t, repo.RecordBotReply(ctx, id, now.Add(time.Second)))

	rating := 5
	require.NoError(t, repo.EndSession(ctx, id, now.Add(time.Minute), &rating))

	got, err := repo.GetSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, chatbotID, got.ChatbotID)
	assert.Equal(t, 1, got.MessageCount)
	require.NotNil(t, got.SatisfactionRating)
	assert.Equal(t, 5, *got.SatisfactionRating)

	entries, err := repo.ListEntries(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "hi", entries[0].Text)

	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	sessions, err := repo.SessionAggregate(ctx, chatbotID, from, from.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), sessions.Sessions)
	assert.Equal(t, int64(5), sessions.RatingSum)

	messages, err := repo.MessageAggregate(ctx, chatbotID, from, from.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), messages.Messages)
	assert.Equal(t, int64(700), messages.ResponseTimeSumMs)
}
