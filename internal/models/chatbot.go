package models

import "time"

// Chatbot is the read-only source-of-truth row owned by the admin side.
type Chatbot struct {
	ID             string    `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Color          string    `db:"color" json:"color"`
	WelcomeMessage string    `db:"welcome_message" json:"welcome_message"`
	SystemPrompt   string    `db:"system_prompt" json:"system_prompt"`
	Deployed       bool      `db:"is_deployed" json:"is_deployed"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// PublicConfig is the cacheable display view served to anonymous widgets.
type PublicConfig struct {
	Name           string `json:"name"`
	Color          string `json:"color"`
	WelcomeMessage string `json:"welcomeMessage"`
}

func (c *Chatbot) PublicConfig() PublicConfig {
	return PublicConfig{
		Name:           c.Name,
		Color:          c.Color,
		WelcomeMessage: c.WelcomeMessage,
	}
}

// Document is one piece of tenant context fed to the response generator.
type Document struct {
	ID        string    `db:"id" json:"id"`
	ChatbotID string    `db:"chatbot_id" json:"chatbot_id"`
	Title     string    `db:"title" json:"title"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
