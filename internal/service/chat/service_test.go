package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/flowbot/backend/internal/model/chat"
	"github.com/zhouzirui/flowbot/backend/internal/model/webhook"
	"github.com/zhouzirui/flowbot/backend/internal/service/events"
	webhookService "github.com/zhouzirui/flowbot/backend/internal/service/webhook"
	"github.com/zhouzirui/flowbot/backend/internal/storage"
)

const owner = "ada@example.com"

type sentMessage struct {
	url       string
	message   string
	sessionID string
}

type fakeSender struct {
	mu    sync.Mutex
	reply string
	err   error
	calls []sentMessage

	// when set, Send signals started and waits for release
	started chan struct{}
	release chan struct{}
}

func (f *fakeSender) Send(_ context.Context, url, message, sessionID string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sentMessage{url: url, message: message, sessionID: sessionID})
	reply, err := f.reply, f.err
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	return reply, err
}

func (f *fakeSender) Calls() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.calls...)
}

type fakeGreeter struct {
	text    string
	err     error
	release chan struct{}
}

func (f *fakeGreeter) Greet(ctx context.Context) (string, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

type fakeTitler struct {
	got []chat.Message
}

func (f *fakeTitler) SuggestTitle(_ context.Context, messages []chat.Message) (string, error) {
	f.got = messages
	return "Meeting Reminders", nil
}

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.Webhook == nil {
		opts.Webhook = &fakeSender{reply: "ok"}
	}
	svc := NewService(opts)
	t.Cleanup(svc.Wait)
	return svc
}

func activeSession(t *testing.T, svc *Service, owner string) chat.Session {
	t.Helper()
	snap := svc.Sessions(context.Background(), owner)
	require.NotEmpty(t, snap.ActiveSessionID)
	session, err := svc.Session(context.Background(), owner, snap.ActiveSessionID)
	require.NoError(t, err)
	return session
}

func TestFirstUseBootstrapsOneSession(t *testing.T) {
	svc := newTestService(t, Options{})

	snap := svc.Sessions(context.Background(), owner)
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, snap.Sessions[0].ID, snap.ActiveSessionID)
	assert.Equal(t, chat.DefaultSessionName, snap.Sessions[0].Name)
	assert.Empty(t, snap.Sessions[0].Messages)

	again := svc.Sessions(context.Background(), owner)
	assert.Equal(t, snap.ActiveSessionID, again.ActiveSessionID)
}

func TestSendMessageAppendsReplyAndRenamesOnce(t *testing.T) {
	sender := &fakeSender{reply: "Done, I'll remind you."}
	svc := newTestService(t, Options{Webhook: sender, DefaultWebhookURL: "https://n8n.example.com/webhook/abc"})
	ctx := context.Background()

	res, err := svc.SendMessage(ctx, owner, "Please reschedule my 3pm meeting to tomorrow")
	require.NoError(t, err)

	assert.Equal(t, chat.SenderAgent, res.Message.Sender)
	assert.Equal(t, "Done, I'll remind you.", res.Message.Text)
	assert.Equal(t, "Please reschedule my 3pm meeti...", res.Session.Name)
	require.Len(t, res.Session.Messages, 2)
	assert.Equal(t, chat.SenderUser, res.Session.Messages[0].Sender)

	calls := sender.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "https://n8n.example.com/webhook/abc", calls[0].url)
	assert.Equal(t, res.Session.ID, calls[0].sessionID)

	res, err = svc.SendMessage(ctx, owner, "And cancel the 5pm one")
	require.NoError(t, err)
	assert.Equal(t, "Please reschedule my 3pm meeti...", res.Session.Name)
	assert.Len(t, res.Session.Messages, 4)
}

func TestSendMessageFailureAppendsSystemError(t *testing.T) {
	sender := &fakeSender{err: webhookService.ErrMissingURL}
	svc := newTestService(t, Options{Webhook: sender})

	res, err := svc.SendMessage(context.Background(), owner, "hello")
	require.NoError(t, err)

	assert.Equal(t, chat.SenderSystem, res.Message.Sender)
	require.NotNil(t, res.Message.Metadata)
	assert.True(t, res.Message.Metadata.IsError)
	assert.Equal(t, webhookService.ErrMissingURL.Error(), res.Message.Text)
	assert.Equal(t, chat.DefaultSessionName, res.Session.Name)
	assert.Len(t, res.Session.Messages, 2)
}

func TestSendMessageNoOps(t *testing.T) {
	t.Run("blank text", func(t *testing.T) {
		sender := &fakeSender{reply: "ok"}
		svc := newTestService(t, Options{Webhook: sender})

		_, err := svc.SendMessage(context.Background(), owner, "  \n\t")
		assert.ErrorIs(t, err, ErrEmptyMessage)
		assert.Empty(t, sender.Calls())
		assert.Empty(t, activeSession(t, svc, owner).Messages)
	})

	t.Run("no active session", func(t *testing.T) {
		sender := &fakeSender{reply: "ok"}
		svc := newTestService(t, Options{Webhook: sender})
		ctx := context.Background()

		snap := svc.Sessions(ctx, owner)
		active, err := svc.DeleteSession(ctx, owner, snap.ActiveSessionID)
		require.NoError(t, err)
		require.Empty(t, active)

		_, err = svc.SendMessage(ctx, owner, "hello")
		assert.ErrorIs(t, err, ErrNoActiveSession)
		assert.Empty(t, sender.Calls())
	})

	t.Run("send in flight", func(t *testing.T) {
		sender := &fakeSender{reply: "ok", started: make(chan struct{}), release: make(chan struct{})}
		svc := newTestService(t, Options{Webhook: sender})
		ctx := context.Background()

		done := make(chan error, 1)
		go func() {
			_, err := svc.SendMessage(ctx, owner, "first")
			done <- err
		}()
		<-sender.started

		_, err := svc.SendMessage(ctx, owner, "second")
		assert.ErrorIs(t, err, ErrSendInFlight)

		close(sender.release)
		require.NoError(t, <-done)

		session := activeSession(t, svc, owner)
		require.Len(t, session.Messages, 2)
		assert.Equal(t, "first", session.Messages[0].Text)
		assert.Len(t, sender.Calls(), 1)
	})
}

func TestSessionDeletedWhileSending(t *testing.T) {
	sender := &fakeSender{reply: "late", started: make(chan struct{}), release: make(chan struct{})}
	svc := newTestService(t, Options{Webhook: sender})
	ctx := context.Background()
	sessionID := svc.Sessions(ctx, owner).ActiveSessionID

	done := make(chan error, 1)
	go func() {
		_, err := svc.SendMessage(ctx, owner, "hello")
		done <- err
	}()
	<-sender.started

	_, err := svc.DeleteSession(ctx, owner, sessionID)
	require.NoError(t, err)
	close(sender.release)

	assert.ErrorIs(t, <-done, ErrSessionNotFound)
	assert.Empty(t, svc.Sessions(ctx, owner).Sessions)

	// the busy flag is released even though the session is gone
	svc.CreateSession(ctx, owner)
	sender.started = nil
	_, err = svc.SendMessage(ctx, owner, "again")
	assert.NoError(t, err)
}

func TestMessageCountFollowsSends(t *testing.T) {
	tests := []struct {
		name     string
		greeter  Greeter
		sends    int
		expected int
	}{
		{name: "no greeter", sends: 3, expected: 6},
		{name: "greeting leads", greeter: &fakeGreeter{text: "Hi, I'm FlowBot."}, sends: 3, expected: 7},
		{name: "greeting failed", greeter: &fakeGreeter{err: errors.New("model offline")}, sends: 2, expected: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, Options{Greeter: tt.greeter})
			ctx := context.Background()

			svc.Sessions(ctx, owner)
			svc.Wait()

			for i := 0; i < tt.sends; i++ {
				_, err := svc.SendMessage(ctx, owner, "ping")
				require.NoError(t, err)
			}

			session := activeSession(t, svc, owner)
			require.Len(t, session.Messages, tt.expected)
			if tt.expected%2 == 1 {
				assert.Equal(t, chat.SenderAgent, session.Messages[0].Sender)
				assert.Equal(t, "Hi, I'm FlowBot.", session.Messages[0].Text)
			}
		})
	}
}

func TestLateGreetingIsDropped(t *testing.T) {
	greeter := &fakeGreeter{text: "Hello!", release: make(chan struct{})}
	svc := newTestService(t, Options{Greeter: greeter})
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, owner, "are you there?")
	require.NoError(t, err)

	close(greeter.release)
	svc.Wait()

	session := activeSession(t, svc, owner)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, chat.SenderUser, session.Messages[0].Sender)
}

func TestCreateSessionActivatesAndGreets(t *testing.T) {
	svc := newTestService(t, Options{Greeter: &fakeGreeter{text: "Welcome back."}})
	ctx := context.Background()

	first := svc.Sessions(ctx, owner).ActiveSessionID
	created := svc.CreateSession(ctx, owner)
	svc.Wait()

	snap := svc.Sessions(ctx, owner)
	require.Len(t, snap.Sessions, 2)
	assert.Equal(t, created.ID, snap.ActiveSessionID)
	assert.Equal(t, created.ID, snap.Sessions[0].ID)
	assert.Equal(t, first, snap.Sessions[1].ID)

	session, err := svc.Session(ctx, owner, created.ID)
	require.NoError(t, err)
	require.Len(t, session.Messages, 1)
	assert.Equal(t, "Welcome back.", session.Messages[0].Text)
}

func TestDeleteSessionActivation(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()

	a := svc.Sessions(ctx, owner).ActiveSessionID
	b := svc.CreateSession(ctx, owner).ID
	c := svc.CreateSession(ctx, owner).ID

	active, err := svc.DeleteSession(ctx, owner, c)
	require.NoError(t, err)
	assert.Equal(t, b, active)

	active, err = svc.DeleteSession(ctx, owner, a)
	require.NoError(t, err)
	assert.Equal(t, b, active, "deleting an inactive session keeps the selection")

	_, err = svc.DeleteSession(ctx, owner, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	active, err = svc.DeleteSession(ctx, owner, b)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Empty(t, svc.Sessions(ctx, owner).Sessions)
}

func TestActivateSession(t *testing.T) {
	sender := &fakeSender{reply: "ok"}
	svc := newTestService(t, Options{Webhook: sender})
	ctx := context.Background()

	older := svc.Sessions(ctx, owner).ActiveSessionID
	svc.CreateSession(ctx, owner)

	require.NoError(t, svc.ActivateSession(ctx, owner, older))
	assert.ErrorIs(t, svc.ActivateSession(ctx, owner, "missing"), ErrSessionNotFound)

	_, err := svc.SendMessage(ctx, owner, "hi")
	require.NoError(t, err)
	assert.Equal(t, older, sender.Calls()[0].sessionID)
}

func TestWebhookConfig(t *testing.T) {
	sender := &fakeSender{reply: "ok"}
	svc := newTestService(t, Options{Webhook: sender, DefaultWebhookURL: " https://default.example.com/hook "})
	ctx := context.Background()

	assert.Equal(t, "https://default.example.com/hook", svc.WebhookConfig(ctx, owner).WebhookURL)

	got := svc.UpdateWebhookConfig(ctx, owner, webhook.Config{WebhookURL: "  https://n8n.example.com/webhook/x  "})
	assert.Equal(t, "https://n8n.example.com/webhook/x", got.WebhookURL)

	_, err := svc.SendMessage(ctx, owner, "hi")
	require.NoError(t, err)
	assert.Equal(t, "https://n8n.example.com/webhook/x", sender.Calls()[0].url)

	assert.Equal(t, "https://default.example.com/hook", svc.WebhookConfig(ctx, "other@example.com").WebhookURL)
}

func TestWorkspacesAreIsolated(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, owner, "mine")
	require.NoError(t, err)

	other := activeSession(t, svc, "grace@example.com")
	assert.Empty(t, other.Messages)
}

// gatedStore blocks reads of one owner's records until release is closed.
type gatedStore struct {
	storage.Store
	owner   string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if strings.HasPrefix(key, g.owner+"/") {
		g.once.Do(func() { close(g.entered) })
		<-g.release
	}
	return g.Store.Get(ctx, key)
}

func TestSlowLoadDoesNotBlockOtherOwners(t *testing.T) {
	store := &gatedStore{
		Store:   storage.NewMemoryStore(),
		owner:   "slow@example.com",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc := newTestService(t, Options{Store: store})
	ctx := context.Background()

	slow := make(chan Snapshot, 1)
	go func() { slow <- svc.Sessions(ctx, "slow@example.com") }()
	<-store.entered

	fast := make(chan Snapshot, 1)
	go func() { fast <- svc.Sessions(ctx, owner) }()

	select {
	case snap := <-fast:
		assert.Len(t, snap.Sessions, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("other owner waited on a slow load")
	}

	close(store.release)
	assert.Len(t, (<-slow).Sessions, 1)
}

func TestConcurrentFirstUseBootstrapsOnce(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()

	const callers = 16
	snaps := make([]Snapshot, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snaps[i] = svc.Sessions(ctx, owner)
		}()
	}
	wg.Wait()

	for _, snap := range snaps {
		require.Len(t, snap.Sessions, 1)
		assert.Equal(t, snaps[0].ActiveSessionID, snap.ActiveSessionID)
	}
}

func TestWorkspacePersistsAcrossRestarts(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	first := newTestService(t, Options{Store: store})
	first.UpdateWebhookConfig(ctx, owner, webhook.Config{WebhookURL: "https://n8n.example.com/webhook/p"})
	res, err := first.SendMessage(ctx, owner, "remember me")
	require.NoError(t, err)
	first.CreateSession(ctx, owner)

	second := newTestService(t, Options{Store: store})
	snap := second.Sessions(ctx, owner)
	require.Len(t, snap.Sessions, 2)
	assert.Equal(t, snap.Sessions[0].ID, snap.ActiveSessionID)
	assert.Equal(t, res.Session.ID, snap.Sessions[1].ID)
	assert.Len(t, snap.Sessions[1].Messages, 2)
	assert.Equal(t, "https://n8n.example.com/webhook/p", second.WebhookConfig(ctx, owner).WebhookURL)
}

func TestMalformedRecordsAreDiscarded(t *testing.T) {
	tests := []struct {
		name    string
		history string
		config  string
	}{
		{name: "not json", history: "{{{", config: "nope"},
		{name: "wrong shape", history: `{"sessions":1}`, config: `[1,2]`},
		{name: "duplicate ids", history: `[{"id":"a","name":"x","messages":[]},{"id":"a","name":"y","messages":[]}]`},
		{name: "missing id", history: `[{"name":"x","messages":[]}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			ctx := context.Background()
			require.NoError(t, store.Put(ctx, storage.Key(owner, storage.RecordChatHistory), []byte(tt.history)))
			if tt.config != "" {
				require.NoError(t, store.Put(ctx, storage.Key(owner, storage.RecordWebhookConfig), []byte(tt.config)))
			}

			svc := newTestService(t, Options{Store: store, DefaultWebhookURL: "https://fallback.example.com"})
			snap := svc.Sessions(ctx, owner)
			require.Len(t, snap.Sessions, 1)
			assert.Equal(t, chat.DefaultSessionName, snap.Sessions[0].Name)
			assert.Empty(t, snap.Sessions[0].Messages)
			assert.Equal(t, "https://fallback.example.com", svc.WebhookConfig(ctx, owner).WebhookURL)
		})
	}
}

func TestPartialHistoryIsNormalized(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, storage.Key(owner, storage.RecordChatHistory), []byte(`[{"id":"a"},{"id":"b","name":"Kept"}]`)))

	svc := newTestService(t, Options{Store: store})
	snap := svc.Sessions(ctx, owner)
	require.Len(t, snap.Sessions, 2)
	assert.Equal(t, "a", snap.ActiveSessionID)
	assert.Equal(t, chat.DefaultSessionName, snap.Sessions[0].Name)
	assert.NotNil(t, snap.Sessions[0].Messages)
	assert.Equal(t, "Kept", snap.Sessions[1].Name)
}

func TestEventsArePublished(t *testing.T) {
	hub := events.NewHub()
	svc := newTestService(t, Options{Events: hub})
	ctx := context.Background()
	svc.Sessions(ctx, owner)

	sub := hub.Subscribe(owner)
	defer sub.Close()

	created := svc.CreateSession(ctx, owner)
	_, err := svc.SendMessage(ctx, owner, "hi")
	require.NoError(t, err)
	svc.UpdateWebhookConfig(ctx, owner, webhook.Config{WebhookURL: "https://x.example.com"})

	want := []events.Type{events.SessionCreated, events.SessionUpdated, events.SessionUpdated, events.ConfigUpdated}
	for i, typ := range want {
		select {
		case evt := <-sub.Events():
			assert.Equal(t, typ, evt.Type, "event %d", i)
			if typ != events.ConfigUpdated {
				assert.Equal(t, created.ID, evt.SessionID)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d (%s)", i, typ)
		}
	}
}

func TestSuggestTitle(t *testing.T) {
	ctx := context.Background()

	t.Run("unavailable", func(t *testing.T) {
		svc := newTestService(t, Options{})
		id := svc.Sessions(ctx, owner).ActiveSessionID
		_, err := svc.SuggestTitle(ctx, owner, id)
		assert.ErrorIs(t, err, ErrTitlesUnavailable)
	})

	t.Run("uses transcript", func(t *testing.T) {
		titler := &fakeTitler{}
		svc := newTestService(t, Options{Titler: titler})
		res, err := svc.SendMessage(ctx, owner, "remind me at 3pm")
		require.NoError(t, err)

		title, err := svc.SuggestTitle(ctx, owner, res.Session.ID)
		require.NoError(t, err)
		assert.Equal(t, "Meeting Reminders", title)
		assert.Len(t, titler.got, 2)

		_, err = svc.SuggestTitle(ctx, owner, "missing")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}
