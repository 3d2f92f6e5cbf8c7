package console

import (
	"context"
	"fmt"
	"sync"

	"relaydesk/internal/models"
	"relaydesk/internal/reconcile"
	"relaydesk/internal/sched"
	"relaydesk/internal/ws"
)

// BoardScope selects the cards shown by a BoardView: the contacts of an
// instance or the contacts of a workflow.
type BoardScope struct {
	InstanceID string
	WorkflowID string
}

func (s BoardScope) key() string {
	if s.WorkflowID != "" {
		return "workflow:" + s.WorkflowID
	}
	if s.InstanceID != "" {
		return "instance:" + s.InstanceID
	}
	return ""
}

// BoardView is the kanban screen. Change events that carry the card are
// applied directly; bare change signals schedule a debounced re-fetch of the
// whole board.
type BoardView struct {
	*view
	api     API
	refresh *sched.Debouncer

	mu    sync.Mutex
	scope BoardScope
	board *reconcile.Board
}

func NewBoardView(cfg *Config) (*BoardView, error) {
	v := &BoardView{
		view:  newView(cfg, "board"),
		api:   cfg.API,
		board: reconcile.NewBoard(),
	}
	v.refresh = sched.NewDebouncer("contacts", orDefault(cfg.ContactRefreshDelay, DefaultContactRefreshDelay), v.fetch)
	v.refresh.OnFetch = refreshHook(cfg.Metrics, "contacts")

	handlers := ws.NewHandlers().
		Set(models.EventContactChanged, ws.Decode(v.onContactChanged)).
		Set(models.EventWorkflowContactChanged, ws.Decode(v.onWorkflowContactChanged)).
		Set(models.EventNewMessage, ws.Decode(v.onNewMessage))

	if err := v.attach(cfg.Token, handlers); err != nil {
		v.refresh.Close()
		return nil, err
	}
	return v, nil
}

// Open switches the board to scope and loads its cards.
func (v *BoardView) Open(ctx context.Context, scope BoardScope) error {
	if scope.key() == "" {
		return ErrNoScope
	}
	b := reconcile.NewBoard()
	v.mu.Lock()
	v.scope = scope
	v.board = b
	v.mu.Unlock()

	contacts, err := v.list(ctx, scope)
	if err != nil {
		return fmt.Errorf("failed to load board: %w", err)
	}
	b.Load(contacts)
	v.changed()
	return nil
}

func (v *BoardView) list(ctx context.Context, scope BoardScope) ([]models.Contact, error) {
	if scope.WorkflowID != "" {
		return v.api.ListWorkflowContacts(ctx, scope.WorkflowID)
	}
	return v.api.ListContacts(ctx, scope.InstanceID)
}

// fetch reloads the board for key unless the view moved to another scope.
func (v *BoardView) fetch(ctx context.Context, key string) error {
	scope, b := v.current()
	if scope.key() != key {
		return nil
	}
	contacts, err := v.list(ctx, scope)
	if err != nil {
		return err
	}

	v.mu.Lock()
	stale := v.board != b
	v.mu.Unlock()
	if stale {
		return nil
	}
	b.Load(contacts)
	v.changed()
	return nil
}

func (v *BoardView) current() (BoardScope, *reconcile.Board) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scope, v.board
}

func (v *BoardView) onContactChanged(ev models.ContactChanged) {
	scope, b := v.current()
	if scope.WorkflowID != "" || scope.InstanceID == "" || ev.InstanceID != scope.InstanceID {
		return
	}
	v.apply(scope, b, ev.Contact)
}

func (v *BoardView) onWorkflowContactChanged(ev models.WorkflowContactChanged) {
	scope, b := v.current()
	if scope.WorkflowID == "" || ev.WorkflowID != scope.WorkflowID {
		return
	}
	v.apply(scope, b, ev.Contact)
}

func (v *BoardView) apply(scope BoardScope, b *reconcile.Board, c *models.Contact) {
	if c == nil {
		v.refresh.Trigger(scope.key())
		return
	}
	b.Apply(*c)
	v.changed()
}

func (v *BoardView) onNewMessage(ev models.NewMessage) {
	scope, b := v.current()
	if scope.key() == "" {
		return
	}
	if scope.InstanceID != "" && ev.InstanceID != scope.InstanceID {
		return
	}
	if b.BumpMessage(ev.ContactID, ev.Messages) {
		v.changed()
	}
}

// Move puts a card into another column at once and asks the server to do
// the same. When the server refuses the card goes back to its column and the
// error is returned.
func (v *BoardView) Move(ctx context.Context, contactID, columnID string) error {
	_, b := v.current()
	mv, err := b.Move(contactID, columnID)
	if err != nil {
		return err
	}
	v.changed()

	confirmed, err := v.api.MoveContact(ctx, contactID, columnID)
	if err != nil {
		b.Rollback(mv)
		v.changed()
		return fmt.Errorf("failed to move contact: %w", err)
	}
	b.Commit(mv, confirmed)
	v.changed()
	return nil
}

func (v *BoardView) Scope() BoardScope {
	scope, _ := v.current()
	return scope
}

// Column returns the cards of a column, most recent conversation first.
func (v *BoardView) Column(columnID string) []models.Contact {
	_, b := v.current()
	return b.Column(columnID)
}

func (v *BoardView) Contact(contactID string) (models.Contact, bool) {
	_, b := v.current()
	return b.Get(contactID)
}

// RefreshPending reports whether a re-fetch is scheduled or running.
func (v *BoardView) RefreshPending() bool {
	scope, _ := v.current()
	return v.refresh.Pending(scope.key())
}

func (v *BoardView) Close() {
	v.release()
	v.refresh.Close()
}
