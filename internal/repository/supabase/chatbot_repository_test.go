package supabase

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkohli77/chatbot/internal/config"
)

func newTestRepository(t *testing.T, handler http.HandlerFunc) *ChatbotRepository {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	repo, err := NewChatbotRepository(config.SupabaseConfig{URL: srv.URL, APIKey: "service-key"})
	require.NoError(t, err)
	return repo
}

func TestGetPublicConfig(t *testing.T) {
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/chatbots", r.URL.Path)
		assert.Equal(t, "eq.cb_demo01", r.URL.Query().Get("id"))
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"id":"cb_demo01","name":"Demo","color":"#3366ff","welcome_message":"Hi!","system_prompt":"Be kind.","is_deployed":true,"updated_at":"2026-03-01T10:00:00.123456+00:00"}]`)
	})

	cb, err := repo.GetPublicConfig(context.Background(), "cb_demo01")
	require.NoError(t, err)
	require.NotNil(t, cb)
	assert.Equal(t, "Demo", cb.Name)
	assert.Equal(t, "Be kind.", cb.SystemPrompt)
	assert.True(t, cb.Deployed)
	assert.True(t, cb.UpdatedAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 123456000, time.UTC)))
}

func TestGetPublicConfig_Missing(t *testing.T) {
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})

	cb, err := repo.GetPublicConfig(context.Background(), "cb_missing")
	require.NoError(t, err)
	assert.Nil(t, cb)
}

func TestGetPublicConfig_Error(t *testing.T) {
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"code":"PGRST301","message":"JWT expired"}`)
	})

	_, err := repo.GetPublicConfig(context.Background(), "cb_demo01")
	assert.ErrorContains(t, err, "JWT expired")
}

func TestGetDocuments(t *testing.T) {
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/documents", r.URL.Path)
		assert.Equal(t, "eq.cb_demo01", r.URL.Query().Get("chatbot_id"))
		assert.Equal(t, "created_at.asc.nullslast", r.URL.Query().Get("order"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `[{"content":"first"},{"content":""},{"content":"second"}]`)
	})

	docs, err := repo.GetDocuments(context.Background(), "cb_demo01", "ignored", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, docs)
}

func TestNewChatbotRepository_RequiresCredentials(t *testing.T) {
	_, err := NewChatbotRepository(config.SupabaseConfig{URL: "https://x.supabase.co"})
	assert.Error(t, err)
}

func TestParseTimestamp(t *testing.T) {
	assert.True(t, parseTimestamp("2026-03-01T10:00:00").Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))
	assert.True(t, parseTimestamp("garbage").IsZero())
}
