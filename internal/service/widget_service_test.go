package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rkohli77/chatbot/internal/config"
	"github.com/rkohli77/chatbot/internal/configcache"
	"github.com/rkohli77/chatbot/internal/generator"
	"github.com/rkohli77/chatbot/internal/models"
	"github.com/rkohli77/chatbot/internal/repository/memory"
	"github.com/rkohli77/chatbot/internal/repository/sqlstore"
	"github.com/rkohli77/chatbot/internal/service"
	"github.com/rkohli77/chatbot/internal/session"
)

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, req generator.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type fakeDocuments struct {
	docs map[string][]string
	err  error
}

func (f *fakeDocuments) GetDocuments(_ context.Context, chatbotID, _ string, limit int) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	docs := f.docs[chatbotID]
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

type fixture struct {
	svc      *service.WidgetService
	sessions *session.Coordinator
	ledger   *sqlstore.SessionRepository
	docs     *fakeDocuments
	gen      *mockGenerator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := sqlstore.Open(config.DatabaseConfig{Driver: sqlstore.DialectSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	chatbots := sqlstore.NewChatbotRepository(db)
	require.NoError(t, chatbots.UpsertChatbot(ctx, &models.Chatbot{
		ID: "cb_demo01", Name: "Demo", Color: "#3366ff", WelcomeMessage: "Hi!", SystemPrompt: "Be brief.", Deployed: true,
	}))
	require.NoError(t, chatbots.UpsertChatbot(ctx, &models.Chatbot{ID: "cb_draft", Name: "Draft", Deployed: false}))

	ledger := sqlstore.NewSessionRepository(db)
	coordinator := session.NewCoordinator(ledger, session.WithLogger(zap.NewNop()))
	cache := configcache.New(memory.NewCacheStore(), chatbots, time.Minute).WithLogger(zap.NewNop())
	docs := &fakeDocuments{docs: map[string][]string{}}
	gen := &mockGenerator{}

	svc := service.NewWidgetService(cache, coordinator, docs, gen, service.WidgetOptions{
		MaxMessageLength: 20,
		HistoryLimit:     10,
		DocumentLimit:    3,
	}, zap.NewNop())

	return &fixture{svc: svc, sessions: coordinator, ledger: ledger, docs: docs, gen: gen}
}

func TestChatWithoutDocumentsReturnsApologyAndLogsReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Chat(ctx, service.ChatRequest{ChatbotID: "cb_demo01", Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, service.NoDocumentsReply, resp.Response)
	require.NotEmpty(t, resp.SessionID)

	s, err := f.ledger.GetSession(ctx, resp.SessionID)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 1, s.MessageCount)

	entries, err := f.ledger.ListEntries(ctx, resp.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.RoleUser, entries[0].Role)
	assert.Equal(t, models.RoleBot, entries[1].Role)
	assert.NotNil(t, entries[1].ResponseTimeMs)
	f.gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestChatGeneratesWithContextAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.docs.docs["cb_demo01"] = []string{"Refunds take 5 days.", "Shipping is free."}

	f.gen.On("Generate", mock.Anything, mock.MatchedBy(func(r generator.Request) bool {
		return r.Message == "refunds?" && r.SystemPrompt == "Be brief." && len(r.Documents) == 2 && len(r.History) == 0
	})).Return("About 5 days.", nil).Once()

	first, err := f.svc.Chat(ctx, service.ChatRequest{ChatbotID: "cb_demo01", Message: "  refunds?  "})
	require.NoError(t, err)
	assert.Equal(t, "About 5 days.", first.Response)

	f.gen.On("Generate", mock.Anything, mock.MatchedBy(func(r generator.Request) bool {
		return r.Message == "and shipping?" && len(r.History) == 2 && r.History[1].Text == "About 5 days."
	})).Return("Free.", nil).Once()

	second, err := f.svc.Chat(ctx, service.ChatRequest{ChatbotID: "cb_demo01", Message: "and shipping?", SessionID: first.SessionID})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	s, err := f.ledger.GetSession(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, s.MessageCount)
	f.gen.AssertExpectations(t)
}

func TestChatGeneratorFailureReturnsApology(t *testing.T) {
	f := newFixture(t)
	f.docs.docs["cb_demo01"] = []string{"doc"}
	f.gen.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("429 insufficient_quota")).Once()

	resp, err := f.svc.Chat(context.Background(), service.ChatRequest{ChatbotID: "cb_demo01", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, service.GenerationErrorReply, resp.Response)
	assert.NotContains(t, resp.Response, "quota")
}

func TestChatDocumentFailureReturnsApology(t *testing.T) {
	f := newFixture(t)
	f.docs.err = errors.New("elasticsearch unavailable")

	resp, err := f.svc.Chat(context.Background(), service.ChatRequest{ChatbotID: "cb_demo01", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, service.GenerationErrorReply, resp.Response)
}

func TestChatValidation(t *testing.T) {
	f := newFixture(t)

	cases := map[string]service.ChatRequest{
		"missing chatbot":   {Message: "hi"},
		"malformed chatbot": {ChatbotID: "cb demo", Message: "hi"},
		"short chatbot":     {ChatbotID: "cb", Message: "hi"},
		"missing message":   {ChatbotID: "cb_demo01"},
		"blank message":     {ChatbotID: "cb_demo01", Message: "   \n"},
		"control only":      {ChatbotID: "cb_demo01", Message: "\x00\x1b"},
		"too long":          {ChatbotID: "cb_demo01", Message: strings.Repeat("é", 21)},
		"bad session":       {ChatbotID: "cb_demo01", Message: "hi", SessionID: "../etc"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Chat(context.Background(), req)
			assert.ErrorIs(t, err, service.ErrInvalidInput)
		})
	}

	_, err := f.svc.Chat(context.Background(), service.ChatRequest{ChatbotID: "cb_demo01", Message: strings.Repeat("é", 20)})
	assert.NoError(t, err)
}

func TestChatUnknownOrUndeployedChatbot(t *testing.T) {
	f := newFixture(t)

	for _, id := range []string{"cb_missing", "cb_draft"} {
		_, err := f.svc.Chat(context.Background(), service.ChatRequest{ChatbotID: id, Message: "hi"})
		assert.ErrorIs(t, err, service.ErrChatbotNotFound, id)
	}
}

func TestFeedback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rating := func(n int) *int { return &n }

	a, err := f.svc.Chat(ctx, service.ChatRequest{ChatbotID: "cb_demo01", Message: "hi"})
	require.NoError(t, err)
	b, err := f.svc.Chat(ctx, service.ChatRequest{ChatbotID: "cb_demo01", Message: "hi"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Feedback(ctx, service.FeedbackRequest{SessionID: a.SessionID, Rating: rating(0)}))
	require.NoError(t, f.svc.Feedback(ctx, service.FeedbackRequest{SessionID: b.SessionID, Rating: rating(4)}))

	sa, err := f.ledger.GetSession(ctx, a.SessionID)
	require.NoError(t, err)
	assert.True(t, sa.Ended())
	assert.Nil(t, sa.SatisfactionRating)

	sb, err := f.ledger.GetSession(ctx, b.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sb.SatisfactionRating)
	assert.Equal(t, 4, *sb.SatisfactionRating)

	assert.ErrorIs(t, f.svc.Feedback(ctx, service.FeedbackRequest{SessionID: "nope", Rating: rating(3)}), service.ErrSessionNotFound)
	assert.ErrorIs(t, f.svc.Feedback(ctx, service.FeedbackRequest{SessionID: b.SessionID, Rating: rating(6)}), service.ErrInvalidRating)
	assert.ErrorIs(t, f.svc.Feedback(ctx, service.FeedbackRequest{SessionID: b.SessionID}), service.ErrInvalidInput)
	assert.ErrorIs(t, f.svc.Feedback(ctx, service.FeedbackRequest{Rating: rating(3)}), service.ErrInvalidInput)
}

func TestEndedSessionIsNotResumed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	zero := 0

	first, err := f.svc.Chat(ctx, service.ChatRequest{ChatbotID: "cb_demo01", Message: "hi"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Feedback(ctx, service.FeedbackRequest{SessionID: first.SessionID, Rating: &zero}))

	next, err := f.svc.Chat(ctx, service.ChatRequest{ChatbotID: "cb_demo01", Message: "hi again", SessionID: first.SessionID})
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, next.SessionID)
}

func TestPublicConfig(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg, err := f.svc.PublicConfig(ctx, "cb_demo01")
	require.NoError(t, err)
	assert.Equal(t, models.PublicConfig{Name: "Demo", Color: "#3366ff", WelcomeMessage: "Hi!"}, cfg)

	_, err = f.svc.PublicConfig(ctx, "cb_draft")
	assert.ErrorIs(t, err, service.ErrChatbotNotFound)

	_, err = f.svc.PublicConfig(ctx, "x")
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}
