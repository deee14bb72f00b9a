package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	args := m.Called(ctx, topic, key, value, headers)
	return args.Error(0)
}

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return r.err
}

func (r *recordingInvalidator) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

// chanReader replays queued messages, then blocks until ctx ends.
type chanReader struct {
	msgs chan *kafka.Message
}

func (c *chanReader) ConsumeMessage(ctx context.Context) (*kafka.Message, error) {
	select {
	case msg := <-c.msgs:
		if msg == nil {
			return nil, errors.New("broker unavailable")
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestPublishChatbotUpdated(t *testing.T) {
	w := &mockWriter{}
	p := NewPublisher(w, "chatbot-updates")
	p.now = func() time.Time { return time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC) }

	w.On("ProduceMessage", mock.Anything, "chatbot-updates", []byte("cb_demo01"),
		mock.MatchedBy(func(v []byte) bool {
			var e ChatbotUpdated
			return json.Unmarshal(v, &e) == nil && e.ChatbotID == "cb_demo01" && e.UpdatedAt.Equal(p.now())
		}),
		map[string]string{"event_type": "chatbot.updated"},
	).Return(nil).Once()

	require.NoError(t, p.PublishChatbotUpdated(context.Background(), "cb_demo01"))
	w.AssertExpectations(t)
}

func TestPublishChatbotUpdated_Error(t *testing.T) {
	w := &mockWriter{}
	w.On("ProduceMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("leader not available"))

	err := NewPublisher(w, "chatbot-updates").PublishChatbotUpdated(context.Background(), "cb_demo01")
	assert.ErrorContains(t, err, "leader not available")
}

func TestHandleMessage(t *testing.T) {
	inv := &recordingInvalidator{}
	s := NewSubscriber(nil, inv)
	s.logger = zap.NewNop()
	ctx := context.Background()

	require.NoError(t, s.HandleMessage(ctx, &kafka.Message{Value: []byte(`{"chatbot_id":"cb_demo01","updated_at":"2025-05-01T12:00:00Z"}`)}))
	assert.Equal(t, []string{"cb_demo01"}, inv.seen())

	assert.ErrorIs(t, s.HandleMessage(ctx, &kafka.Message{Value: []byte(`not json`)}), ErrInvalidEvent)
	assert.ErrorIs(t, s.HandleMessage(ctx, &kafka.Message{Value: []byte(`{"chatbot_id":"a b"}`)}), ErrInvalidEvent)

	inv.err = errors.New("redis down")
	err := s.HandleMessage(ctx, &kafka.Message{Value: []byte(`{"chatbot_id":"cb_demo01"}`)})
	assert.ErrorContains(t, err, "redis down")
}

func TestRunSurvivesBadMessagesAndReadErrors(t *testing.T) {
	reader := &chanReader{msgs: make(chan *kafka.Message, 4)}
	reader.msgs <- &kafka.Message{Value: []byte(`garbage`)}
	reader.msgs <- nil
	reader.msgs <- &kafka.Message{Value: []byte(`{"chatbot_id":"cb_demo01"}`)}
	reader.msgs <- &kafka.Message{Value: []byte(`{"chatbot_id":"cb_other"}`)}

	inv := &recordingInvalidator{}
	s := NewSubscriber(reader, inv)
	s.logger = zap.NewNop()
	s.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(inv.seen()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not stop")
	}
	assert.Equal(t, []string{"cb_demo01", "cb_other"}, inv.seen())
}
