package reconcile

import (
	"errors"
	"slices"
	"strings"
	"sync"

	"relaydesk/internal/models"
)

var (
	ErrUnknownContact = errors.New("unknown contact")
)

// Move records an optimistic column change so it can be rolled back.
type Move struct {
	ContactID string
	From      string
	To        string
	seq       uint64
}

// Board is the reconciled set of kanban cards of one scope.
type Board struct {
	mu       sync.RWMutex
	contacts map[string]models.Contact
	// Map of contactID -> seq of the latest optimistic move
	moves map[string]uint64
	// Map of contactID -> message ids already folded into the card
	seen map[string]map[string]struct{}
	seq  uint64
}

func NewBoard() *Board {
	return &Board{
		contacts: make(map[string]models.Contact),
		moves:    make(map[string]uint64),
		seen:     make(map[string]map[string]struct{}),
	}
}

// Load replaces every card.
func (b *Board) Load(contacts []models.Contact) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.contacts = make(map[string]models.Contact, len(contacts))
	b.moves = make(map[string]uint64)
	b.seen = make(map[string]map[string]struct{})
	for _, c := range contacts {
		if c.ID == "" {
			continue
		}
		b.contacts[c.ID] = cloneContact(c)
	}
}

// Apply inserts or replaces a card with the server version. The server
// counts replace whatever was folded in locally.
func (b *Board) Apply(c models.Contact) {
	if c.ID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contacts[c.ID] = cloneContact(c)
	delete(b.seen, c.ID)
}

func (b *Board) Remove(contactID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.contacts[contactID]
	delete(b.contacts, contactID)
	delete(b.moves, contactID)
	delete(b.seen, contactID)
	return ok
}

// Move puts the card into column right away and returns the token needed to
// commit or roll back the change.
func (b *Board) Move(contactID, column string) (Move, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.contacts[contactID]
	if !ok {
		return Move{}, ErrUnknownContact
	}
	b.seq++
	mv := Move{
		ContactID: contactID,
		From:      c.ColumnID,
		To:        column,
		seq:       b.seq,
	}
	c.ColumnID = column
	b.contacts[contactID] = c
	b.moves[contactID] = mv.seq
	return mv, nil
}

// Rollback puts the card back into its pre-move column. A move that was
// superseded by a later move, or a card the server already moved elsewhere,
// is left alone. It reports whether the card was restored.
func (b *Board) Rollback(mv Move) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.moves[mv.ContactID] != mv.seq {
		return false
	}
	delete(b.moves, mv.ContactID)

	c, ok := b.contacts[mv.ContactID]
	if !ok || c.ColumnID != mv.To {
		return false
	}
	c.ColumnID = mv.From
	b.contacts[mv.ContactID] = c
	return true
}

// Commit adopts the server-confirmed card for a move.
func (b *Board) Commit(mv Move, confirmed models.Contact) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.moves[mv.ContactID] != mv.seq {
		return
	}
	delete(b.moves, mv.ContactID)
	if confirmed.ID == "" {
		return
	}
	b.contacts[confirmed.ID] = cloneContact(confirmed)
}

// BumpMessage folds new messages into the card preview. Incoming messages
// raise the unread count. Messages already folded in since the card was last
// loaded are skipped. It reports whether the card changed.
func (b *Board) BumpMessage(contactID string, msgs []models.Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.contacts[contactID]
	if !ok {
		return false
	}
	seen, ok := b.seen[contactID]
	if !ok {
		seen = make(map[string]struct{})
		b.seen[contactID] = seen
	}
	fresh := Dedup(msgs, func(m models.Message) string { return m.ID }, seen)
	if len(fresh) == 0 {
		return false
	}
	for _, m := range fresh {
		if !m.FromMe && !m.Read {
			c.UnreadCount++
		}
		if !m.Timestamp.Before(c.LastMessageAt) {
			c.LastMessageAt = m.Timestamp
			c.LastMessage = m.Content
		}
	}
	b.contacts[contactID] = c
	return true
}

func (b *Board) Get(contactID string) (models.Contact, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.contacts[contactID]
	return cloneContact(c), ok
}

// Column returns the cards of a column, most recent conversation first.
func (b *Board) Column(columnID string) []models.Contact {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []models.Contact
	for _, c := range b.contacts {
		if c.ColumnID == columnID {
			out = append(out, cloneContact(c))
		}
	}
	slices.SortFunc(out, func(a, b models.Contact) int {
		if n := b.LastMessageAt.Compare(a.LastMessageAt); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.contacts)
}

func cloneContact(c models.Contact) models.Contact {
	c.Labels = slices.Clone(c.Labels)
	return c
}
