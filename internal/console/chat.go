package console

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"relaydesk/internal/models"
	"relaydesk/internal/park"
	"relaydesk/internal/reconcile"
	"relaydesk/internal/ws"
)

// ChatView is the conversation screen of one contact.
type ChatView struct {
	*view
	api       API
	parker    park.Parker
	highlight *reconcile.Highlighter

	mu         sync.Mutex
	instanceID string
	contactID  string
	timeline   *reconcile.Timeline
	input      string
}

func NewChatView(cfg *Config) (*ChatView, error) {
	v := &ChatView{
		view:      newView(cfg, "chat"),
		api:       cfg.API,
		parker:    cfg.Parker,
		highlight: reconcile.NewHighlighter(cfg.HighlightWindow),
		timeline:  reconcile.NewTimeline(),
	}
	handlers := ws.NewHandlers().
		Set(models.EventNewMessage, ws.Decode(v.onNewMessage))

	if err := v.attach(cfg.Token, handlers); err != nil {
		v.highlight.Close()
		return nil, err
	}
	return v, nil
}

// Open switches the view to a conversation: local state is reset, history
// is loaded and anything parked for the conversation is merged in. If the
// history cannot be loaded the previous conversation stays open.
func (v *ChatView) Open(ctx context.Context, instanceID, contactID string) error {
	tl := reconcile.NewTimeline()
	v.mu.Lock()
	prevInstance, prevContact, prevTimeline, prevInput := v.instanceID, v.contactID, v.timeline, v.input
	v.instanceID = instanceID
	v.contactID = contactID
	v.timeline = tl
	v.input = ""
	v.mu.Unlock()

	history, err := v.api.ListMessages(ctx, instanceID, contactID)
	if err != nil {
		v.mu.Lock()
		// Another Open may have switched the view meanwhile.
		if v.timeline == tl {
			v.instanceID, v.contactID, v.timeline, v.input = prevInstance, prevContact, prevTimeline, prevInput
		}
		v.mu.Unlock()
		return fmt.Errorf("failed to load history: %w", err)
	}
	tl.Merge(history)

	if v.parker != nil {
		parked, err := v.parker.Drain(park.Scope(instanceID, contactID))
		if err != nil {
			v.log.Warn("failed to drain parked messages", "error", err)
		}
		v.merge(tl, parked)
	}
	v.changed()
	return nil
}

func (v *ChatView) onNewMessage(ev models.NewMessage) {
	v.mu.Lock()
	inScope := ev.InstanceID == v.instanceID && ev.ContactID == v.contactID && v.contactID != ""
	tl := v.timeline
	v.mu.Unlock()

	if !inScope {
		v.parkOutOfScope(ev)
		return
	}
	if v.merge(tl, ev.Messages) {
		v.changed()
	}
}

func (v *ChatView) parkOutOfScope(ev models.NewMessage) {
	if v.parker == nil || ev.ContactID == "" || len(ev.Messages) == 0 {
		return
	}
	if err := v.parker.Park(park.Scope(ev.InstanceID, ev.ContactID), ev.Messages); err != nil {
		v.log.Warn("failed to park messages", "contact_id", ev.ContactID, "error", err)
	}
}

func (v *ChatView) merge(tl *reconcile.Timeline, msgs []models.Message) bool {
	added := tl.Merge(msgs)
	for _, m := range added {
		if !m.FromMe {
			v.highlight.Mark(m.ID)
		}
	}
	return len(added) > 0
}

// Send shows text in the conversation right away and sends it. When the
// server rejects it the message disappears again, the compose input gets
// the text back and the error is returned.
func (v *ChatView) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("message is empty")
	}

	v.mu.Lock()
	instanceID, contactID, tl := v.instanceID, v.contactID, v.timeline
	if contactID == "" {
		v.mu.Unlock()
		return ErrNoScope
	}
	v.input = ""
	v.mu.Unlock()

	key := tl.AddPending(models.Message{
		FromMe:      true,
		MessageType: models.MessageTypeText,
		Content:     text,
		Timestamp:   time.Now(),
	})
	v.changed()

	confirmed, err := v.api.SendMessage(ctx, instanceID, contactID, models.OutgoingMessage{
		MessageType: models.MessageTypeText,
		Content:     text,
	})
	if err != nil {
		tl.Reject(key)
		v.mu.Lock()
		// The user may have moved on to another conversation meanwhile.
		if v.timeline == tl {
			v.input = text
		}
		v.mu.Unlock()
		v.changed()
		return fmt.Errorf("failed to send message: %w", err)
	}

	tl.Confirm(key, confirmed)
	v.changed()
	return nil
}

// Scope returns the open conversation.
func (v *ChatView) Scope() (instanceID, contactID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.instanceID, v.contactID
}

func (v *ChatView) Input() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.input
}

func (v *ChatView) SetInput(s string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.input = s
}

// Messages returns the conversation, oldest first.
func (v *ChatView) Messages() []reconcile.Entry {
	v.mu.Lock()
	tl := v.timeline
	v.mu.Unlock()
	return tl.Entries()
}

// IsNew reports whether the message arrived within the highlight window.
func (v *ChatView) IsNew(messageID string) bool {
	return v.highlight.IsNew(messageID)
}

func (v *ChatView) Close() {
	v.release()
	v.highlight.Close()
}
