package reconcile

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"relaydesk/internal/models"
)

// Dedup drops items whose id is already in seen or repeats earlier in items.
// Items with an empty id are dropped too. seen is updated in place.
func Dedup[T any](items []T, id func(T) string, seen map[string]struct{}) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		k := id(it)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	return out
}

// SortByTime sorts items ascending by ts. Items with equal times keep their
// relative order.
func SortByTime[T any](items []T, ts func(T) time.Time) {
	slices.SortStableFunc(items, func(a, b T) int {
		return ts(a).Compare(ts(b))
	})
}

// Entry is one message in a Timeline.
type Entry struct {
	Key     Key
	Message models.Message
}

func entryTime(e Entry) time.Time {
	return e.Message.Timestamp
}

// Timeline is the reconciled message list of one conversation. Confirmed
// ids are unique and entries stay sorted ascending by timestamp.
type Timeline struct {
	mu      sync.RWMutex
	entries []Entry
	ids     map[string]struct{}
}

func NewTimeline() *Timeline {
	return &Timeline{ids: make(map[string]struct{})}
}

// Merge adds server messages that are not present yet and returns the ones
// that were added, in timeline order.
func (t *Timeline) Merge(msgs []models.Message) []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	fresh := Dedup(msgs, func(m models.Message) string { return m.ID }, t.ids)
	if len(fresh) == 0 {
		return nil
	}
	for _, m := range fresh {
		t.entries = append(t.entries, Entry{Key: Confirmed(m.ID), Message: m})
	}
	SortByTime(t.entries, entryTime)
	SortByTime(fresh, func(m models.Message) time.Time { return m.Timestamp })
	return fresh
}

// AddPending inserts an optimistic placeholder and returns its key.
func (t *Timeline) AddPending(msg models.Message) Key {
	key := NewPending()
	msg.ID = ""

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, Entry{Key: key, Message: msg})
	SortByTime(t.entries, entryTime)
	return key
}

// Confirm replaces the placeholder for key with the server record. When the
// server record already arrived through the stream only the placeholder is
// removed. It reports whether the placeholder was still present.
func (t *Timeline) Confirm(key Key, confirmed models.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, found := t.removeLocked(key)
	if confirmed.ID != "" {
		if _, dup := t.ids[confirmed.ID]; !dup {
			t.ids[confirmed.ID] = struct{}{}
			t.entries = append(t.entries, Entry{Key: Confirmed(confirmed.ID), Message: confirmed})
		}
	}
	SortByTime(t.entries, entryTime)
	return found
}

// Reject removes the placeholder for key and returns it.
func (t *Timeline) Reject(key Key) (models.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(key)
}

func (t *Timeline) removeLocked(key Key) (models.Message, bool) {
	if !key.IsPending() {
		return models.Message{}, false
	}
	i := slices.IndexFunc(t.entries, func(e Entry) bool { return e.Key == key })
	if i < 0 {
		return models.Message{}, false
	}
	msg := t.entries[i].Message
	t.entries = slices.Delete(t.entries, i, i+1)
	return msg, true
}

// Entries returns a copy of the timeline.
func (t *Timeline) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.entries)
}

// Keys returns the key of every entry in order.
func (t *Timeline) Keys() []Key {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]Key, len(t.entries))
	for i, e := range t.entries {
		keys[i] = e.Key
	}
	return keys
}

func (t *Timeline) Contains(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.ids[id]
	return ok
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Last returns the newest entry.
func (t *Timeline) Last() (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.entries) == 0 {
		return Entry{}, false
	}
	return t.entries[len(t.entries)-1], true
}

// Sorted reports whether entries are in ascending timestamp order.
func (t *Timeline) Sorted() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.IsSortedFunc(t.entries, func(a, b Entry) int {
		return cmp.Compare(a.Message.Timestamp.UnixNano(), b.Message.Timestamp.UnixNano())
	})
}
