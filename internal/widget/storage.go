package widget

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Storage is the widget-local key/value store, scoped per chatbot by key.
type Storage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

func sessionKey(chatbotID string) string     { return "session:" + chatbotID }
func sessionTimeKey(chatbotID string) string { return "sessionTime:" + chatbotID }
func messagesKey(chatbotID string) string    { return "sessionMessages:" + chatbotID }

// record is the persisted session for one chatbot.
type record struct {
	SessionID      string
	LastActivityAt time.Time
	// Messages exchanged in the episode, user plus bot.
	Messages int
}

func loadRecord(s Storage, chatbotID string) (record, bool, error) {
	id, ok, err := s.Get(sessionKey(chatbotID))
	if err != nil || !ok || id == "" {
		return record{}, false, err
	}
	raw, ok, err := s.Get(sessionTimeKey(chatbotID))
	if err != nil {
		return record{}, false, err
	}
	rec := record{SessionID: id}
	if ok {
		if ms, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			rec.LastActivityAt = time.UnixMilli(ms)
		}
	}
	raw, ok, err = s.Get(messagesKey(chatbotID))
	if err != nil {
		return record{}, false, err
	}
	if ok {
		rec.Messages, _ = strconv.Atoi(raw)
	}
	return rec, true, nil
}

func saveRecord(s Storage, chatbotID string, rec record) error {
	if err := s.Set(sessionKey(chatbotID), rec.SessionID); err != nil {
		return err
	}
	if err := s.Set(sessionTimeKey(chatbotID), strconv.FormatInt(rec.LastActivityAt.UnixMilli(), 10)); err != nil {
		return err
	}
	return s.Set(messagesKey(chatbotID), strconv.Itoa(rec.Messages))
}

func clearRecord(s Storage, chatbotID string) error {
	return errors.Join(
		s.Delete(sessionKey(chatbotID)),
		s.Delete(sessionTimeKey(chatbotID)),
		s.Delete(messagesKey(chatbotID)),
	)
}

type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (m *MemoryStorage) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStorage) Set(key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Delete(key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

// FileStorage persists the key/value map as one JSON file so a terminal
// widget can resume its session across runs.
type FileStorage struct {
	mu   sync.Mutex
	path string
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (f *FileStorage) load() (map[string]string, error) {
	values := make(map[string]string)
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read widget storage: %w", err)
	}
	if len(raw) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("failed to decode widget storage: %w", err)
	}
	return values, nil
}

func (f *FileStorage) store(values map[string]string) error {
	raw, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create widget storage dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write widget storage: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStorage) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (f *FileStorage) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return err
	}
	values[key] = value
	return f.store(values)
}

func (f *FileStorage) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return f.store(values)
}
