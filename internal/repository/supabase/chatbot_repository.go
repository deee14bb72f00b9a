package supabase

import (
	"context"
	"fmt"
	"time"

	postgrest "github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/rkohli77/chatbot/internal/config"
	"github.com/rkohli77/chatbot/internal/models"
)

// ChatbotRepository reads chatbots and documents through Supabase's REST
// API, for tenants whose admin data lives in a hosted Supabase project.
type ChatbotRepository struct {
	client *supabase.Client
}

func NewChatbotRepository(cfg config.SupabaseConfig) (*ChatbotRepository, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &ChatbotRepository{client: client}, nil
}

type chatbotRow struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Color          string `json:"color"`
	WelcomeMessage string `json:"welcome_message"`
	SystemPrompt   string `json:"system_prompt"`
	IsDeployed     bool   `json:"is_deployed"`
	UpdatedAt      string `json:"updated_at"`
}

// PostgREST renders timestamptz with an offset and timestamp without one.
var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"}

func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// GetPublicConfig returns (nil, nil) for an unknown chatbot. The REST client
// carries no context, so ctx only bounds callers.
func (r *ChatbotRepository) GetPublicConfig(_ context.Context, chatbotID string) (*models.Chatbot, error) {
	var rows []chatbotRow
	_, err := r.client.From("chatbots").
		Select("id,name,color,welcome_message,system_prompt,is_deployed,updated_at", "", false).
		Eq("id", chatbotID).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get chatbot from supabase: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	row := rows[0]
	return &models.Chatbot{
		ID:             row.ID,
		Name:           row.Name,
		Color:          row.Color,
		WelcomeMessage: row.WelcomeMessage,
		SystemPrompt:   row.SystemPrompt,
		Deployed:       row.IsDeployed,
		UpdatedAt:      parseTimestamp(row.UpdatedAt),
	}, nil
}

// GetDocuments returns document texts in upload order. query is not used.
func (r *ChatbotRepository) GetDocuments(_ context.Context, chatbotID, _ string, limit int) ([]string, error) {
	var rows []struct {
		Content string `json:"content"`
	}
	_, err := r.client.From("documents").
		Select("content", "", false).
		Eq("chatbot_id", chatbotID).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		Limit(limit, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get documents from supabase: %w", err)
	}

	docs := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.Content != "" {
			docs = append(docs, row.Content)
		}
	}
	return docs, nil
}
