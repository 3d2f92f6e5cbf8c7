// Package console holds the screen-level consumers of the realtime stream.
// Every view owns one subscription on the shared connection and reconciles
// the events it receives into its own local state.
package console

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"relaydesk/internal/metrics"
	"relaydesk/internal/models"
	"relaydesk/internal/park"
	"relaydesk/internal/ws"
)

const (
	DefaultContactRefreshDelay = 500 * time.Millisecond
	DefaultGroupsRefreshDelay  = 2 * time.Second
)

var (
	ErrNoScope = errors.New("view has no open scope")
)

// API is the REST side a view needs. *api.Client implements it.
type API interface {
	SendMessage(ctx context.Context, instanceID, contactID string, msg models.OutgoingMessage) (models.Message, error)
	MoveContact(ctx context.Context, contactID, columnID string) (models.Contact, error)
	ListMessages(ctx context.Context, instanceID, contactID string) ([]models.Message, error)
	ListContacts(ctx context.Context, instanceID string) ([]models.Contact, error)
	ListWorkflowContacts(ctx context.Context, workflowID string) ([]models.Contact, error)
	ListGroups(ctx context.Context, instanceID string) ([]models.Group, error)
}

type Config struct {
	Manager *ws.Manager
	API     API
	Token   string
	Metrics *metrics.Metrics

	// Parker, when set, keeps new messages for conversations that are not
	// open. Without it they are dropped.
	Parker park.Parker

	HighlightWindow     time.Duration
	ContactRefreshDelay time.Duration
	GroupsRefreshDelay  time.Duration

	// OnChange is called after the local state of a view changed.
	OnChange func()
}

// view is the subscription plumbing shared by every view.
type view struct {
	manager  *ws.Manager
	sub      *ws.Subscription
	onChange func()
	log      *slog.Logger
}

func newView(cfg *Config, name string) *view {
	return &view{
		manager:  cfg.Manager,
		onChange: cfg.OnChange,
		log:      slog.With("view", name),
	}
}

// attach subscribes handlers on the session connection. Handlers may run
// before attach returns.
func (v *view) attach(token string, handlers *ws.Handlers) error {
	sub, err := v.manager.Acquire(token, handlers)
	if err != nil {
		return err
	}
	v.sub = sub
	v.log.Debug("view subscribed", "subscriber_id", sub.ID)
	return nil
}

func (v *view) changed() {
	if v.onChange != nil {
		v.onChange()
	}
}

func (v *view) release() {
	v.manager.Release(v.sub)
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func refreshHook(m *metrics.Metrics, name string) func(string, error) {
	return func(_ string, err error) {
		m.Refreshed(name, err)
	}
}
