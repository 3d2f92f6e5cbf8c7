package console

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"relaydesk/internal/models"
	"relaydesk/internal/sched"
	"relaydesk/internal/ws"
)

// GroupsView lists the groups of an instance. groups-changed carries no
// delta, so every signal ends in a debounced re-fetch.
type GroupsView struct {
	*view
	api     API
	refresh *sched.Debouncer

	mu         sync.Mutex
	instanceID string
	groups     []models.Group
}

func NewGroupsView(cfg *Config) (*GroupsView, error) {
	v := &GroupsView{
		view: newView(cfg, "groups"),
		api:  cfg.API,
	}
	v.refresh = sched.NewDebouncer("groups", orDefault(cfg.GroupsRefreshDelay, DefaultGroupsRefreshDelay), v.fetch)
	v.refresh.OnFetch = refreshHook(cfg.Metrics, "groups")

	handlers := ws.NewHandlers().
		Set(models.EventGroupsChanged, ws.Decode(v.onGroupsChanged))

	if err := v.attach(cfg.Token, handlers); err != nil {
		v.refresh.Close()
		return nil, err
	}
	return v, nil
}

func (v *GroupsView) Open(ctx context.Context, instanceID string) error {
	if instanceID == "" {
		return ErrNoScope
	}
	v.mu.Lock()
	v.instanceID = instanceID
	v.groups = nil
	v.mu.Unlock()

	if err := v.fetch(ctx, instanceID); err != nil {
		return fmt.Errorf("failed to load groups: %w", err)
	}
	return nil
}

func (v *GroupsView) fetch(ctx context.Context, instanceID string) error {
	if v.current() != instanceID {
		return nil
	}
	groups, err := v.api.ListGroups(ctx, instanceID)
	if err != nil {
		return err
	}

	v.mu.Lock()
	if v.instanceID != instanceID {
		v.mu.Unlock()
		return nil
	}
	v.groups = groups
	v.mu.Unlock()
	v.changed()
	return nil
}

func (v *GroupsView) current() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.instanceID
}

func (v *GroupsView) onGroupsChanged(ev models.GroupsChanged) {
	if id := v.current(); id != "" && ev.InstanceID == id {
		v.refresh.Trigger(id)
	}
}

func (v *GroupsView) Groups() []models.Group {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.groups)
}

func (v *GroupsView) RefreshPending() bool {
	return v.refresh.Pending(v.current())
}

func (v *GroupsView) Close() {
	v.release()
	v.refresh.Close()
}
