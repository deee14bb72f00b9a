package elastic

import (
	"context"
	"fmt"
	"time"

	"github.com/rkohli77/chatbot/internal/client"
	"github.com/rkohli77/chatbot/internal/models"
)

// DocumentRepository retrieves tenant documents from an Elasticsearch index
// holding one hit per document with chatbot_id, title and content fields.
type DocumentRepository struct {
	es    *client.ESClient
	index string
}

func NewDocumentRepository(es *client.ESClient, index string) *DocumentRepository {
	return &DocumentRepository{es: es, index: index}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source struct {
				Content string `json:"content"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// GetDocuments returns the chatbot's documents ranked by relevance to query.
// An empty query returns documents in index order.
func (r *DocumentRepository) GetDocuments(ctx context.Context, chatbotID, query string, limit int) ([]string, error) {
	boolQuery := map[string]any{
		"filter": []any{
			map[string]any{"term": map[string]any{"chatbot_id": chatbotID}},
		},
	}
	if query != "" {
		boolQuery["should"] = []any{
			map[string]any{"match": map[string]any{"content": query}},
		}
	}
	body := map[string]any{
		"size":    limit,
		"_source": []string{"content"},
		"query":   map[string]any{"bool": boolQuery},
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.es.Search(ctx, r.index, body)
	if err != nil {
		return nil, err
	}

	var parsed searchResponse
	if err := r.es.ParseResponse(res, &parsed); err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}

	docs := make([]string, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		if hit.Source.Content != "" {
			docs = append(docs, hit.Source.Content)
		}
	}
	return docs, nil
}

// IndexDocument stores d under its id. Used by seeding tools.
func (r *DocumentRepository) IndexDocument(ctx context.Context, d *models.Document) error {
	return r.es.IndexDocument(ctx, r.index, d.ID, map[string]any{
		"chatbot_id": d.ChatbotID,
		"title":      d.Title,
		"content":    d.Content,
		"created_at": d.CreatedAt.UTC(),
	})
}
