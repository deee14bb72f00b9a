package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rkohli77/chatbot/internal/models"
)

var ErrChatbotUnavailable = errors.New("chatbot unavailable")

// RateLimitedError is returned when the gateway answers 429.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Transport is the widget's view of the public gateway API.
type Transport interface {
	Chat(ctx context.Context, chatbotID, message, sessionID string) (reply, newSessionID string, err error)
	Feedback(ctx context.Context, sessionID string, rating int) error
	PublicConfig(ctx context.Context, chatbotID string) (models.PublicConfig, error)
}

// HTTPTransport calls the gateway's /api/v1 endpoints.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPTransport{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type chatPayload struct {
	ChatbotID string `json:"chatbotId"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

type chatReply struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

type feedbackPayload struct {
	SessionID string `json:"sessionId"`
	Rating    int    `json:"rating"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (t *HTTPTransport) Chat(ctx context.Context, chatbotID, message, sessionID string) (string, string, error) {
	var out chatReply
	if err := t.do(ctx, http.MethodPost, "/api/v1/chat", chatPayload{ChatbotID: chatbotID, Message: message, SessionID: sessionID}, &out); err != nil {
		return "", "", err
	}
	if out.SessionID == "" {
		return "", "", errors.New("gateway returned no session id")
	}
	return out.Response, out.SessionID, nil
}

func (t *HTTPTransport) Feedback(ctx context.Context, sessionID string, rating int) error {
	return t.do(ctx, http.MethodPost, "/api/v1/feedback", feedbackPayload{SessionID: sessionID, Rating: rating}, nil)
}

func (t *HTTPTransport) PublicConfig(ctx context.Context, chatbotID string) (models.PublicConfig, error) {
	var cfg models.PublicConfig
	err := t.do(ctx, http.MethodGet, "/api/v1/chatbots/"+url.PathEscape(chatbotID)+"/config", nil, &cfg)
	return cfg, err
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("request to gateway failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &RateLimitedError{RetryAfter: time.Duration(max(secs, 1)) * time.Second}
	case resp.StatusCode == http.StatusNotFound && strings.Contains(path, "/chatbots/"):
		return ErrChatbotUnavailable
	case resp.StatusCode >= 400:
		var e errorBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, e.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}
