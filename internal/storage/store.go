// Package storage persists opaque per-user records (webhook settings and chat
// history) behind a small key-value interface.
package storage

import (
	"context"
	"fmt"
	"sync"
)

// Record names stored for each owner.
const (
	RecordWebhookConfig = "webhook_config"
	RecordChatHistory   = "chat_history"
)

// Store is a key-value cache for workspace state. Values are opaque bytes.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// Key joins an owner and a record name.
func Key(owner, record string) string {
	return owner + "/" + record
}

// Open builds the store for driver: "memory", "file" or "sqlite".
func Open(driver, dataDir, sqlitePath string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(dataDir)
	case "sqlite":
		return NewSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// MemoryStore keeps values in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
