package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/flowbot/backend/internal/metrics"
	"github.com/zhouzirui/flowbot/backend/internal/model/chat"
	"github.com/zhouzirui/flowbot/backend/internal/model/webhook"
	"github.com/zhouzirui/flowbot/backend/internal/service/events"
	"github.com/zhouzirui/flowbot/backend/internal/storage"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrEmptyMessage      = errors.New("message text is empty")
	ErrSendInFlight      = errors.New("a message is already being sent")
	ErrNoActiveSession   = errors.New("no active session")
	ErrTitlesUnavailable = errors.New("title suggestions unavailable")
)

const defaultGreetingTimeout = 30 * time.Second

// WebhookSender relays one user message and returns the display text.
type WebhookSender interface {
	Send(ctx context.Context, url, message, sessionID string) (string, error)
}

// Greeter produces the welcome message of a new session.
type Greeter interface {
	Greet(ctx context.Context) (string, error)
}

// Titler suggests a title for a transcript.
type Titler interface {
	SuggestTitle(ctx context.Context, messages []chat.Message) (string, error)
}

// Options configures the Service. Only Webhook is required.
type Options struct {
	Webhook           WebhookSender
	Greeter           Greeter
	Titler            Titler
	Store             storage.Store
	Events            *events.Hub
	Metrics           *metrics.Metrics
	DefaultWebhookURL string
	GreetingTimeout   time.Duration
}

// Snapshot is a consistent view of a workspace's session list.
type Snapshot struct {
	Sessions        []chat.Session `json:"sessions"`
	ActiveSessionID string         `json:"activeSessionId"`
}

// SendResult carries the message appended for a reply or failure.
type SendResult struct {
	Session chat.Session `json:"session"`
	Message chat.Message `json:"message"`
}

// Service keeps one workspace per owner and orchestrates sends.
type Service struct {
	mu         sync.Mutex
	workspaces map[string]*workspaceEntry

	webhook           WebhookSender
	greeter           Greeter
	titler            Titler
	store             storage.Store
	events            *events.Hub
	metrics           *metrics.Metrics
	defaultWebhookURL string
	greetingTimeout   time.Duration

	greetings sync.WaitGroup
	newID     func() string
}

// NewService builds the orchestrator.
func NewService(opts Options) *Service {
	store := opts.Store
	if store == nil {
		store = storage.NewMemoryStore()
	}
	timeout := opts.GreetingTimeout
	if timeout <= 0 {
		timeout = defaultGreetingTimeout
	}

	return &Service{
		workspaces:        make(map[string]*workspaceEntry),
		webhook:           opts.Webhook,
		greeter:           opts.Greeter,
		titler:            opts.Titler,
		store:             store,
		events:            opts.Events,
		metrics:           opts.Metrics,
		defaultWebhookURL: strings.TrimSpace(opts.DefaultWebhookURL),
		greetingTimeout:   timeout,
		newID:             uuid.NewString,
	}
}

// Wait blocks until pending greeting generations have finished.
func (s *Service) Wait() {
	s.greetings.Wait()
}

// workspace returns the owner's workspace, loading it on first use. A workspace
// without sessions is bootstrapped with a fresh one. s.mu only guards the map;
// the store is read under the owner's entry so other owners are not held up.
func (s *Service) workspace(ctx context.Context, owner string) *workspace {
	s.mu.Lock()
	entry, ok := s.workspaces[owner]
	if !ok {
		entry = &workspaceEntry{}
		s.workspaces[owner] = entry
	}
	s.mu.Unlock()

	var bootstrapped *chat.Session
	entry.once.Do(func() {
		// not shared until Do returns, so no ws.mu needed while bootstrapping
		ws := s.loadWorkspace(ctx, owner)
		if len(ws.sessions) == 0 {
			session := s.newSessionLocked(ctx, owner, ws)
			bootstrapped = &session
		}
		entry.ws = ws
	})

	if bootstrapped != nil {
		s.afterCreate(owner, entry.ws, *bootstrapped)
	}
	return entry.ws
}

// Sessions returns the owner's sessions, newest first, and the active id.
func (s *Service) Sessions(ctx context.Context, owner string) Snapshot {
	ws := s.workspace(ctx, owner)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return Snapshot{Sessions: ws.sessions, ActiveSessionID: ws.activeID}
}

// Session returns one session by id.
func (s *Service) Session(ctx context.Context, owner, id string) (chat.Session, error) {
	ws := s.workspace(ctx, owner)
	ws.mu.Lock()
	defer ws.mu.Unlock()

	session, ok := findSession(ws.sessions, id)
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// CreateSession prepends an empty session, activates it and requests a greeting
// in the background.
func (s *Service) CreateSession(ctx context.Context, owner string) chat.Session {
	ws := s.workspace(ctx, owner)

	ws.mu.Lock()
	session := s.newSessionLocked(ctx, owner, ws)
	ws.mu.Unlock()

	s.afterCreate(owner, ws, session)
	return session
}

func (s *Service) newSessionLocked(ctx context.Context, owner string, ws *workspace) chat.Session {
	session := chat.Session{
		ID:        s.newID(),
		Name:      chat.DefaultSessionName,
		Messages:  []chat.Message{},
		CreatedAt: time.Now().UnixMilli(),
	}

	ws.sessions = prependSession(ws.sessions, session)
	ws.activeID = session.ID
	s.persistLocked(ctx, owner, ws)
	return session
}

func (s *Service) afterCreate(owner string, ws *workspace, session chat.Session) {
	s.events.Publish(owner, events.Event{
		Type:            events.SessionCreated,
		SessionID:       session.ID,
		ActiveSessionID: session.ID,
		Payload:         session,
	})
	s.requestGreeting(owner, ws, session.ID)
}

// requestGreeting appends a generated welcome to a still-empty session.
// Failures are logged and otherwise ignored.
func (s *Service) requestGreeting(owner string, ws *workspace, sessionID string) {
	if s.greeter == nil {
		return
	}

	s.greetings.Add(1)
	go func() {
		defer s.greetings.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.greetingTimeout)
		defer cancel()

		text, err := s.greeter.Greet(ctx)
		if err != nil {
			log.Printf("[chat] greeting failed session=%s: %v", sessionID, err)
			return
		}

		greeting := chat.NewMessage(s.newID(), text, chat.SenderAgent)

		ws.mu.Lock()
		current, ok := findSession(ws.sessions, sessionID)
		if !ok || len(current.Messages) > 0 {
			ws.mu.Unlock()
			log.Printf("[chat] dropping late greeting session=%s", sessionID)
			s.metrics.Greeting("dropped")
			return
		}
		var updated chat.Session
		ws.sessions, updated, _ = updateSession(ws.sessions, sessionID, func(sess chat.Session) chat.Session {
			return appendMessage(sess, greeting)
		})
		s.persistLocked(ctx, owner, ws)
		ws.mu.Unlock()

		s.metrics.ChatMessage(string(chat.SenderAgent))
		s.events.Publish(owner, events.Event{Type: events.SessionUpdated, SessionID: sessionID, Payload: updated})
	}()
}

// DeleteSession removes a session. When it was active, the first remaining
// session becomes active, or none when the list is empty.
func (s *Service) DeleteSession(ctx context.Context, owner, id string) (string, error) {
	ws := s.workspace(ctx, owner)

	ws.mu.Lock()
	remaining, ok := removeSession(ws.sessions, id)
	if !ok {
		ws.mu.Unlock()
		return "", ErrSessionNotFound
	}
	ws.sessions = remaining
	if ws.activeID == id {
		ws.activeID = ""
		if len(remaining) > 0 {
			ws.activeID = remaining[0].ID
		}
	}
	active := ws.activeID
	s.persistLocked(ctx, owner, ws)
	ws.mu.Unlock()

	s.events.Publish(owner, events.Event{Type: events.SessionDeleted, SessionID: id, ActiveSessionID: active})
	return active, nil
}

// ActivateSession selects an existing session for subsequent sends.
func (s *Service) ActivateSession(ctx context.Context, owner, id string) error {
	ws := s.workspace(ctx, owner)

	ws.mu.Lock()
	if _, ok := findSession(ws.sessions, id); !ok {
		ws.mu.Unlock()
		return ErrSessionNotFound
	}
	ws.activeID = id
	ws.mu.Unlock()

	s.events.Publish(owner, events.Event{Type: events.SessionActivated, SessionID: id, ActiveSessionID: id})
	return nil
}

// SendMessage appends text to the active session, relays it to the webhook and
// appends the reply, or a SYSTEM error message when the relay fails.
//
// It does nothing and returns ErrEmptyMessage, ErrSendInFlight or
// ErrNoActiveSession when the send cannot start. Only one send per workspace
// runs at a time.
func (s *Service) SendMessage(ctx context.Context, owner, text string) (SendResult, error) {
	if strings.TrimSpace(text) == "" {
		return SendResult{}, ErrEmptyMessage
	}

	ws := s.workspace(ctx, owner)

	ws.mu.Lock()
	if ws.busy {
		ws.mu.Unlock()
		return SendResult{}, ErrSendInFlight
	}
	if ws.activeID == "" {
		ws.mu.Unlock()
		return SendResult{}, ErrNoActiveSession
	}

	sessionID := ws.activeID
	userMsg := chat.NewMessage(s.newID(), text, chat.SenderUser)
	var pending chat.Session
	ws.sessions, pending, _ = updateSession(ws.sessions, sessionID, func(sess chat.Session) chat.Session {
		return appendMessage(sess, userMsg)
	})
	ws.busy = true
	url := ws.config.WebhookURL
	s.persistLocked(ctx, owner, ws)
	ws.mu.Unlock()

	s.metrics.ChatMessage(string(chat.SenderUser))
	s.events.Publish(owner, events.Event{Type: events.SessionUpdated, SessionID: sessionID, Payload: pending})

	// the relay outlives a disconnecting caller; there is no user abort
	reply, sendErr := s.webhook.Send(context.WithoutCancel(ctx), url, text, sessionID)

	var msg chat.Message
	if sendErr != nil {
		log.Printf("[chat] webhook relay failed session=%s: %v", sessionID, sendErr)
		msg = chat.NewMessage(s.newID(), sendErr.Error(), chat.SenderSystem)
		msg.Metadata = &chat.Metadata{IsError: true}
	} else {
		msg = chat.NewMessage(s.newID(), reply, chat.SenderAgent)
	}

	ws.mu.Lock()
	var (
		updated chat.Session
		ok      bool
	)
	ws.sessions, updated, ok = updateSession(ws.sessions, sessionID, func(sess chat.Session) chat.Session {
		sess = appendMessage(sess, msg)
		if sendErr == nil && sess.Name == chat.DefaultSessionName {
			sess.Name = chat.TitleFromText(text)
		}
		return sess
	})
	ws.busy = false
	if ok {
		s.persistLocked(ctx, owner, ws)
	}
	ws.mu.Unlock()

	if !ok {
		return SendResult{Message: msg}, fmt.Errorf("%w: deleted while waiting for the webhook", ErrSessionNotFound)
	}

	s.metrics.ChatMessage(string(msg.Sender))
	s.events.Publish(owner, events.Event{Type: events.SessionUpdated, SessionID: sessionID, Payload: updated})
	return SendResult{Session: updated, Message: msg}, nil
}

// WebhookConfig returns the owner's webhook settings.
func (s *Service) WebhookConfig(ctx context.Context, owner string) webhook.Config {
	ws := s.workspace(ctx, owner)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.config
}

// UpdateWebhookConfig replaces the owner's webhook settings. An empty URL is
// accepted; sends then fail with a configuration error.
func (s *Service) UpdateWebhookConfig(ctx context.Context, owner string, cfg webhook.Config) webhook.Config {
	cfg.WebhookURL = strings.TrimSpace(cfg.WebhookURL)
	ws := s.workspace(ctx, owner)

	ws.mu.Lock()
	ws.config = cfg
	s.persistLocked(ctx, owner, ws)
	ws.mu.Unlock()

	s.events.Publish(owner, events.Event{Type: events.ConfigUpdated, Payload: cfg})
	return cfg
}

// SuggestTitle asks the title generator for a name for the session.
func (s *Service) SuggestTitle(ctx context.Context, owner, id string) (string, error) {
	if s.titler == nil {
		return "", ErrTitlesUnavailable
	}

	session, err := s.Session(ctx, owner, id)
	if err != nil {
		return "", err
	}
	return s.titler.SuggestTitle(ctx, session.Messages)
}
