package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rkohli77/chatbot/internal/models"
)

// ChatbotRepository reads the admin-owned chatbots and documents tables.
type ChatbotRepository struct {
	db *DB
}

func NewChatbotRepository(db *DB) *ChatbotRepository {
	return &ChatbotRepository{db: db}
}

// GetPublicConfig returns (nil, nil) for an unknown chatbot.
func (r *ChatbotRepository) GetPublicConfig(ctx context.Context, chatbotID string) (*models.Chatbot, error) {
	var c models.Chatbot
	err := r.db.queryRow(ctx, `SELECT id, name, color, welcome_message, system_prompt, is_deployed, updated_at
        FROM chatbots WHERE id = ?`, chatbotID).
		Scan(&c.ID, &c.Name, &c.Color, &c.WelcomeMessage, &c.SystemPrompt, &c.Deployed, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chatbot: %w", err)
	}
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

// UpsertChatbot is used by seeding and tests; the admin product owns writes in production.
func (r *ChatbotRepository) UpsertChatbot(ctx context.Context, c *models.Chatbot) error {
	query := `INSERT INTO chatbots (id, name, color, welcome_message, system_prompt, is_deployed, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            name = excluded.name,
            color = excluded.color,
            welcome_message = excluded.welcome_message,
            system_prompt = excluded.system_prompt,
            is_deployed = excluded.is_deployed,
            updated_at = excluded.updated_at`
	if r.db.dialect == DialectMySQL {
		query = `INSERT INTO chatbots (id, name, color, welcome_message, system_prompt, is_deployed, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
            name = VALUES(name),
            color = VALUES(color),
            welcome_message = VALUES(welcome_message),
            system_prompt = VALUES(system_prompt),
            is_deployed = VALUES(is_deployed),
            updated_at = VALUES(updated_at)`
	}
	if _, err := r.db.exec(ctx, query, c.ID, c.Name, c.Color, c.WelcomeMessage, c.SystemPrompt, c.Deployed, c.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to upsert chatbot: %w", err)
	}
	return nil
}

func (r *ChatbotRepository) AddDocument(ctx context.Context, d *models.Document) error {
	_, err := r.db.exec(ctx, `INSERT INTO documents (id, chatbot_id, title, content, created_at)
        VALUES (?, ?, ?, ?, ?)`, d.ID, d.ChatbotID, d.Title, d.Content, d.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// GetDocuments returns the chatbot's document texts in upload order. The SQL
// backend does no relevance ranking, so query is ignored.
func (r *ChatbotRepository) GetDocuments(ctx context.Context, chatbotID, _ string, limit int) ([]string, error) {
	rows, err := r.db.query(ctx, `SELECT content FROM documents
        WHERE chatbot_id = ? ORDER BY created_at ASC LIMIT ?`, chatbotID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, content)
	}
	return docs, rows.Err()
}
