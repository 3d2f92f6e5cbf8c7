package console

import (
	"cmp"
	"slices"
	"sync"

	"relaydesk/internal/models"
	"relaydesk/internal/ws"
)

// InstancesView tracks instance connection status, broadcast progress and
// errors reported by the stream. It has no scope: every event is kept.
type InstancesView struct {
	*view

	mu         sync.RWMutex
	statuses   map[string]models.StatusChanged
	dispatches map[string]models.DispatchChanged
	lastError  *models.StreamError
}

func NewInstancesView(cfg *Config) (*InstancesView, error) {
	v := &InstancesView{
		view:       newView(cfg, "instances"),
		statuses:   make(map[string]models.StatusChanged),
		dispatches: make(map[string]models.DispatchChanged),
	}
	handlers := ws.NewHandlers().
		Set(models.EventStatusChanged, ws.Decode(v.onStatusChanged)).
		Set(models.EventDispatchChanged, ws.Decode(v.onDispatchChanged)).
		Set(models.EventError, ws.Decode(v.onError))

	if err := v.attach(cfg.Token, handlers); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *InstancesView) onStatusChanged(ev models.StatusChanged) {
	if ev.InstanceID == "" {
		return
	}
	v.mu.Lock()
	prev, seen := v.statuses[ev.InstanceID]
	v.statuses[ev.InstanceID] = ev
	v.mu.Unlock()

	if !seen || prev.Status != ev.Status {
		v.log.Info("instance status changed", "instance_id", ev.InstanceID, "status", ev.Status)
	}
	v.changed()
}

func (v *InstancesView) onDispatchChanged(ev models.DispatchChanged) {
	if ev.DispatchID == "" {
		return
	}
	v.mu.Lock()
	v.dispatches[ev.DispatchID] = ev
	v.mu.Unlock()
	v.changed()
}

func (v *InstancesView) onError(ev models.StreamError) {
	v.mu.Lock()
	v.lastError = &ev
	v.mu.Unlock()
	v.changed()
}

func (v *InstancesView) Status(instanceID string) (models.StatusChanged, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.statuses[instanceID]
	return s, ok
}

// Dispatches returns the known broadcasts of an instance ordered by id.
func (v *InstancesView) Dispatches(instanceID string) []models.DispatchChanged {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var out []models.DispatchChanged
	for _, d := range v.dispatches {
		if d.InstanceID == instanceID {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b models.DispatchChanged) int {
		return cmp.Compare(a.DispatchID, b.DispatchID)
	})
	return out
}

// LastError returns the most recent error reported by the stream.
func (v *InstancesView) LastError() (models.StreamError, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.lastError == nil {
		return models.StreamError{}, false
	}
	return *v.lastError, true
}

func (v *InstancesView) Close() {
	v.release()
}
