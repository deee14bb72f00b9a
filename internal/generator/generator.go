package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/rkohli77/chatbot/internal/config"
	"github.com/rkohli77/chatbot/internal/metrics"
	"github.com/rkohli77/chatbot/internal/models"
	"github.com/rkohli77/chatbot/internal/util"
)

// ErrEmptyResponse is returned when the model answers with no content.
var ErrEmptyResponse = errors.New("generator returned an empty response")

const defaultSystemPrompt = "You are a helpful customer support assistant. " +
	"Answer only from the provided context. If the context does not contain the answer, say you don't know."

// Request is everything a generator needs for one reply.
type Request struct {
	SystemPrompt string
	Documents    []string
	History      []models.ConversationEntry
	Message      string
}

// Generator produces the bot reply for one widget message.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// OpenAIGenerator calls an OpenAI-compatible chat completions endpoint.
type OpenAIGenerator struct {
	client    *openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
	logger    *zap.Logger
}

func NewOpenAIGenerator(cfg config.OpenAIConfig) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIGenerator{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
		logger:    util.Named("generator"),
	}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     g.model,
		Messages:  BuildMessages(req),
		MaxTokens: g.maxTokens,
	})
	metrics.GeneratorLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			g.logger.Warn("Chat completion rejected",
				zap.Int("status", apiErr.HTTPStatusCode),
				zap.String("type", apiErr.Type),
				zap.String("message", util.Truncate(apiErr.Message, 200)))
		}
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}

	g.logger.Debug("Chat completion finished",
		zap.String("model", resp.Model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))
	return content, nil
}

// BuildMessages lays out the system prompt with document context, then the
// prior conversation oldest first, then the new user message.
func BuildMessages(req Request) []openai.ChatCompletionMessage {
	prompt := req.SystemPrompt
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultSystemPrompt
	}

	var system strings.Builder
	system.WriteString(prompt)
	if len(req.Documents) > 0 {
		system.WriteString("\n\nContext:\n")
		for i, doc := range req.Documents {
			if i > 0 {
				system.WriteString("\n---\n")
			}
			system.WriteString(doc)
		}
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: system.String(),
	})
	for _, entry := range req.History {
		role := openai.ChatMessageRoleUser
		if entry.Role == models.RoleBot {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: entry.Text})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Message,
	})
	return messages
}
