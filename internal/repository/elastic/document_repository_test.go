package elastic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkohli77/chatbot/internal/client"
	"github.com/rkohli77/chatbot/internal/models"
)

func newTestRepository(t *testing.T, handler http.HandlerFunc) *DocumentRepository {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewDocumentRepository(client.NewESClientFromClient(es), "chatbot-documents")
}

func TestGetDocuments_FiltersByChatbot(t *testing.T) {
	var captured map[string]any
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/chatbot-documents/_search"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &captured))
		_, _ = io.WriteString(w, `{"hits":{"hits":[
			{"_source":{"content":"Opening hours are 9 to 5."}},
			{"_source":{"content":""}},
			{"_source":{"content":"We ship worldwide."}}
		]}}`)
	})

	docs, err := repo.GetDocuments(context.Background(), "cb_demo01", "when are you open", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"Opening hours are 9 to 5.", "We ship worldwide."}, docs)

	assert.EqualValues(t, 3, captured["size"])
	boolQuery := captured["query"].(map[string]any)["bool"].(map[string]any)
	filter := boolQuery["filter"].([]any)[0].(map[string]any)
	assert.Equal(t, map[string]any{"chatbot_id": "cb_demo01"}, filter["term"])
	assert.Contains(t, boolQuery, "should")
}

func TestGetDocuments_EmptyQueryHasNoShould(t *testing.T) {
	var captured map[string]any
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &captured))
		_, _ = io.WriteString(w, `{"hits":{"hits":[]}}`)
	})

	docs, err := repo.GetDocuments(context.Background(), "cb_demo01", "", 5)
	require.NoError(t, err)
	assert.Empty(t, docs)
	boolQuery := captured["query"].(map[string]any)["bool"].(map[string]any)
	assert.NotContains(t, boolQuery, "should")
}

func TestGetDocuments_ErrorResponse(t *testing.T) {
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"reason":"no such index [chatbot-documents]"},"status":404}`)
	})

	_, err := repo.GetDocuments(context.Background(), "cb_demo01", "x", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such index")
}

func TestIndexDocument(t *testing.T) {
	var path string
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"result":"created"}`)
	})

	err := repo.IndexDocument(context.Background(), &models.Document{
		ID: "doc-1", ChatbotID: "cb_demo01", Content: "hello", CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, "/chatbot-documents/_doc/doc-1", path)
}
