package sched

import (
	"sync"
	"time"
)

// Task is a single cancellable delayed action. At most one run is pending at
// any time; a timer that fires after it was cancelled or replaced does nothing.
type Task struct {
	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	stopped bool
}

// Schedule arranges for fn to run after d, replacing any pending run.
func (t *Task) Schedule(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scheduleLocked(d, fn)
}

// ScheduleIfIdle is like Schedule but leaves an already pending run alone.
// It reports whether a new run was scheduled.
func (t *Task) ScheduleIfIdle(d time.Duration, fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		return false
	}
	return t.scheduleLocked(d, fn)
}

func (t *Task) scheduleLocked(d time.Duration, fn func()) bool {
	if t.stopped {
		return false
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.gen != gen || t.stopped {
			t.mu.Unlock()
			return
		}
		t.timer = nil
		t.mu.Unlock()
		fn()
	})
	return true
}

// Cancel drops the pending run, if any, and reports whether there was one.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer == nil {
		return false
	}
	t.timer.Stop()
	t.timer = nil
	t.gen++
	return true
}

// Pending reports whether a run is scheduled and has not fired yet.
func (t *Task) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

// Stop cancels the pending run and refuses further scheduling.
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	t.stopped = true
}
