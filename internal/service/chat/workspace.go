package chat

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/zhouzirui/flowbot/backend/internal/model/chat"
	"github.com/zhouzirui/flowbot/backend/internal/model/webhook"
	"github.com/zhouzirui/flowbot/backend/internal/storage"
)

// workspace is the chat state of one signed-in user.
type workspace struct {
	mu       sync.Mutex
	sessions []chat.Session
	activeID string
	config   webhook.Config
	busy     bool
}

// workspaceEntry loads its workspace at most once.
type workspaceEntry struct {
	once sync.Once
	ws   *workspace
}

// loadWorkspace reads both persisted records. Missing or malformed records are
// discarded and replaced by defaults.
func (s *Service) loadWorkspace(ctx context.Context, owner string) *workspace {
	ws := &workspace{
		sessions: []chat.Session{},
		config:   webhook.Config{WebhookURL: s.defaultWebhookURL},
	}

	if raw, ok := s.readRecord(ctx, owner, storage.RecordWebhookConfig); ok {
		var cfg webhook.Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			log.Printf("[chat] discarding malformed webhook config owner=%s: %v", owner, err)
		} else {
			ws.config = cfg
		}
	}

	if raw, ok := s.readRecord(ctx, owner, storage.RecordChatHistory); ok {
		var sessions []chat.Session
		if err := json.Unmarshal(raw, &sessions); err != nil {
			log.Printf("[chat] discarding malformed chat history owner=%s: %v", owner, err)
		} else if !validHistory(sessions) {
			log.Printf("[chat] discarding inconsistent chat history owner=%s", owner)
		} else {
			ws.sessions = normalizeHistory(sessions)
		}
	}

	if len(ws.sessions) > 0 {
		ws.activeID = ws.sessions[0].ID
	}
	return ws
}

func (s *Service) readRecord(ctx context.Context, owner, record string) ([]byte, bool) {
	raw, ok, err := s.store.Get(ctx, storage.Key(owner, record))
	if err != nil {
		log.Printf("[chat] failed to read %s owner=%s: %v", record, owner, err)
		return nil, false
	}
	return raw, ok
}

func validHistory(sessions []chat.Session) bool {
	seen := make(map[string]struct{}, len(sessions))
	for _, session := range sessions {
		if session.ID == "" {
			return false
		}
		if _, dup := seen[session.ID]; dup {
			return false
		}
		seen[session.ID] = struct{}{}
	}
	return true
}

func normalizeHistory(sessions []chat.Session) []chat.Session {
	for i := range sessions {
		if sessions[i].Messages == nil {
			sessions[i].Messages = []chat.Message{}
		}
		if sessions[i].Name == "" {
			sessions[i].Name = chat.DefaultSessionName
		}
	}
	return sessions
}

// persistLocked rewrites both records. Callers hold ws.mu so writes land in order.
// Failures are logged only; the store is a cache.
func (s *Service) persistLocked(ctx context.Context, owner string, ws *workspace) {
	ctx = context.WithoutCancel(ctx)

	if raw, err := json.Marshal(ws.config); err == nil {
		if err := s.store.Put(ctx, storage.Key(owner, storage.RecordWebhookConfig), raw); err != nil {
			log.Printf("[chat] failed to persist webhook config owner=%s: %v", owner, err)
		}
	}

	if raw, err := json.Marshal(ws.sessions); err == nil {
		if err := s.store.Put(ctx, storage.Key(owner, storage.RecordChatHistory), raw); err != nil {
			log.Printf("[chat] failed to persist chat history owner=%s: %v", owner, err)
		}
	}
}
