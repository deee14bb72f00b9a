package qdrant

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/rkohli77/chatbot/internal/config"
	"github.com/rkohli77/chatbot/internal/util"
)

// Scroller is the part of *qdrant.Client the repository needs.
type Scroller interface {
	Scroll(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error)
}

// DocumentRepository reads pre-chunked document text stored as point
// payloads ({"chatbot_id": ..., "content": ...}) in a Qdrant collection.
type DocumentRepository struct {
	points     Scroller
	collection string
}

func NewDocumentRepository(points Scroller, collection string) *DocumentRepository {
	return &DocumentRepository{points: points, collection: collection}
}

// NewClient dials Qdrant over gRPC. The port defaults to 6334 and https URLs enable TLS.
func NewClient(cfg config.QdrantConfig) (*qdrant.Client, error) {
	raw := cfg.URL
	if raw == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse qdrant url: %w", err)
	}

	port := 6334
	if u.Port() != "" {
		if port, err = strconv.Atoi(u.Port()); err != nil {
			return nil, fmt.Errorf("invalid qdrant port: %w", err)
		}
	}

	c, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	util.Info("Qdrant client initialized",
		zap.String("host", u.Hostname()),
		zap.Int("port", port),
		zap.String("collection", cfg.Collection))
	return c, nil
}

// GetDocuments scrolls the chatbot's chunks. Qdrant ranks by vector, and no
// embedding is computed here, so query is not used.
func (r *DocumentRepository) GetDocuments(ctx context.Context, chatbotID, _ string, limit int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	points, err := r.points.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: r.collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchKeyword("chatbot_id", chatbotID)},
		},
		Limit:       qdrant.PtrOf(uint32(limit)),
		WithPayload: qdrant.NewWithPayloadInclude("content"),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant scroll failed: %w", err)
	}

	docs := make([]string, 0, len(points))
	for _, p := range points {
		if v, ok := p.GetPayload()["content"]; ok {
			if content := v.GetStringValue(); content != "" {
				docs = append(docs, content)
			}
		}
	}
	return docs, nil
}
