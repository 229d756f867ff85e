package events

import (
	"log"
	"sync"
	"time"
)

// Type names a workspace change.
type Type string

const (
	SessionCreated   Type = "session.created"
	SessionUpdated   Type = "session.updated"
	SessionDeleted   Type = "session.deleted"
	SessionActivated Type = "session.activated"
	ConfigUpdated    Type = "config.updated"
)

// Event is pushed to every subscriber of the owning workspace.
type Event struct {
	Type            Type   `json:"type"`
	SessionID       string `json:"sessionId,omitempty"`
	ActiveSessionID string `json:"activeSessionId,omitempty"`
	Payload         any    `json:"payload,omitempty"`
	Timestamp       int64  `json:"timestamp"`
}

const subscriberBuffer = 32

// Hub fans out workspace events to subscribers keyed by owner.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscription receives events for one owner until Close is called.
type Subscription struct {
	owner  string
	events chan Event
	hub    *Hub
	once   sync.Once
}

// Events returns the receive channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Subscribe registers a listener for owner.
func (h *Hub) Subscribe(owner string) *Subscription {
	sub := &Subscription{
		owner:  owner,
		events: make(chan Event, subscriberBuffer),
		hub:    h,
	}

	h.mu.Lock()
	if h.subs[owner] == nil {
		h.subs[owner] = make(map[*Subscription]struct{})
	}
	h.subs[owner][sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

// Publish delivers evt to every subscriber of owner without blocking.
func (h *Hub) Publish(owner string, evt Event) {
	if h == nil {
		return
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[owner] {
		select {
		case sub.events <- evt:
		default:
			log.Printf("[events] dropping %s for slow subscriber owner=%s", evt.Type, owner)
		}
	}
}

// Subscribers reports how many listeners owner has.
func (h *Hub) Subscribers(owner string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[owner])
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.subs[sub.owner]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.owner)
		}
	}
	close(sub.events)
}
