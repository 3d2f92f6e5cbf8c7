package reconcile

import (
	"context"
	"time"

	"github.com/c-pro/geche"
)

const DefaultHighlightWindow = 3 * time.Second

// Highlighter flags records as new for a fixed window after they arrive.
// Flags expire on their own; later state changes do not extend them.
type Highlighter struct {
	window time.Duration
	marks  geche.Geche[string, time.Time]
	cancel context.CancelFunc
	now    func() time.Time
}

func NewHighlighter(window time.Duration) *Highlighter {
	if window <= 0 {
		window = DefaultHighlightWindow
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Highlighter{
		window: window,
		marks:  geche.NewMapTTLCache[string, time.Time](ctx, window, window),
		cancel: cancel,
		now:    time.Now,
	}
}

// Mark flags id as new. Marking an id that is still flagged keeps the
// original expiry.
func (h *Highlighter) Mark(id string) {
	if id == "" || h.IsNew(id) {
		return
	}
	h.marks.Set(id, h.now())
}

// IsNew reports whether id was marked within the window.
func (h *Highlighter) IsNew(id string) bool {
	at, err := h.marks.Get(id)
	if err != nil {
		return false
	}
	if h.now().Sub(at) >= h.window {
		_ = h.marks.Del(id)
		return false
	}
	return true
}

// Close stops the background cleanup.
func (h *Highlighter) Close() {
	h.cancel()
}
