package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"relaydesk/internal/models"
)

// HandlerFunc handles the raw payload of one event.
type HandlerFunc func(data json.RawMessage)

// Handlers is the replaceable handler cell of one subscriber. The consumer
// keeps the pointer and swaps handlers with Set at any time; the router reads
// the cell on every dispatch, so the latest handler always wins.
type Handlers struct {
	mu  sync.RWMutex
	fns map[models.EventName]HandlerFunc
}

func NewHandlers() *Handlers {
	return &Handlers{fns: make(map[models.EventName]HandlerFunc)}
}

// Set replaces the handler for name. A nil fn clears it.
func (h *Handlers) Set(name models.EventName, fn HandlerFunc) *Handlers {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fn == nil {
		delete(h.fns, name)
		return h
	}
	h.fns[name] = fn
	return h
}

func (h *Handlers) Clear(name models.EventName) {
	h.Set(name, nil)
}

// Get returns the current handler for name, or nil.
func (h *Handlers) Get(name models.EventName) HandlerFunc {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.fns[name]
}

// Decode adapts a typed handler. Payloads that do not decode into T are
// logged and dropped.
func Decode[T any](fn func(T)) HandlerFunc {
	return func(data json.RawMessage) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			slog.Warn("failed to decode event payload", "type", fmt.Sprintf("%T", v), "error", err)
			return
		}
		fn(v)
	}
}
