package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"relaydesk/internal/metrics"
	"relaydesk/internal/models"

	"github.com/google/uuid"
)

// Subscriber is one consumer registered on a connection.
type Subscriber struct {
	ID       string
	handlers *Handlers
	left     atomic.Bool
}

// Hub tracks the live subscribers of one connection and fans events out to
// them.
type Hub struct {
	// Map of subscriberID -> Subscriber
	subscribers map[string]*Subscriber

	metrics *metrics.Metrics

	mu sync.RWMutex
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		metrics:     m,
	}
}

// Join registers a subscriber whose handlers are read through the given cell.
func (h *Hub) Join(handlers *Handlers) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscriber{
		ID:       uuid.NewString(),
		handlers: handlers,
	}
	h.subscribers[sub.ID] = sub
	h.metrics.SetSubscribers(len(h.subscribers))

	return sub
}

// Leave removes a subscriber and returns how many are left. ok is false when
// the subscriber was not registered.
func (h *Hub) Leave(subscriberID string) (remaining int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var sub *Subscriber
	if sub, ok = h.subscribers[subscriberID]; ok {
		sub.left.Store(true)
		delete(h.subscribers, subscriberID)
		h.metrics.SetSubscribers(len(h.subscribers))
	}
	return len(h.subscribers), ok
}

// Clear drops every subscriber and returns how many there were.
func (h *Hub) Clear() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.subscribers)
	for _, s := range h.subscribers {
		s.left.Store(true)
	}
	h.subscribers = make(map[string]*Subscriber)
	h.metrics.SetSubscribers(0)
	return n
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Dispatch calls the current handler for name on every subscriber. The order
// across subscribers is unspecified. A panicking handler is logged and does
// not stop delivery to the others.
func (h *Hub) Dispatch(name models.EventName, data json.RawMessage) {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	h.metrics.EventDispatched(string(name))

	for _, s := range subs {
		if s.left.Load() {
			continue
		}
		fn := s.handlers.Get(name)
		if fn == nil {
			continue
		}
		h.deliver(s, name, fn, data)
	}
}

func (h *Hub) deliver(s *Subscriber, name models.EventName, fn HandlerFunc, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			h.metrics.HandlerPanicked(string(name))
			slog.Error("subscriber handler panicked", "subscriber_id", s.ID, "event", name, "panic", r)
		}
	}()
	fn(data)
}
