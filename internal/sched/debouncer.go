package sched

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// FetchFunc re-fetches the state identified by key.
type FetchFunc func(ctx context.Context, key string) error

type debounceEntry struct {
	timer    *time.Timer
	gen      uint64
	inFlight bool
	again    bool
}

// Debouncer collapses bursts of Trigger calls per key into a single delayed
// fetch. A trigger that lands while the fetch for its key is running is
// coalesced into one more fetch after the running one completes.
type Debouncer struct {
	delay time.Duration
	fetch FetchFunc
	name  string

	// OnFetch, when set, is called after every completed fetch.
	OnFetch func(key string, err error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*debounceEntry
	closed  bool
}

func NewDebouncer(name string, delay time.Duration, fetch FetchFunc) *Debouncer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Debouncer{
		delay:   delay,
		fetch:   fetch,
		name:    name,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*debounceEntry),
	}
}

// Trigger (re)starts the delay for key.
func (d *Debouncer) Trigger(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	e, ok := d.entries[key]
	if !ok {
		e = &debounceEntry{}
		d.entries[key] = e
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(d.delay, func() { d.fire(key, gen) })
}

// Pending reports whether key has a scheduled or running fetch.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[key]
	return ok && (e.timer != nil || e.inFlight)
}

func (d *Debouncer) fire(key string, gen uint64) {
	d.mu.Lock()
	e, ok := d.entries[key]
	if !ok || e.gen != gen || d.closed {
		d.mu.Unlock()
		return
	}
	e.timer = nil
	if e.inFlight {
		e.again = true
		d.mu.Unlock()
		return
	}
	e.inFlight = true
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(key, e)
}

func (d *Debouncer) run(key string, e *debounceEntry) {
	defer d.wg.Done()
	for {
		err := d.fetch(d.ctx, key)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("refresh failed", "debouncer", d.name, "key", key, "error", err)
		}
		if d.OnFetch != nil {
			d.OnFetch(key, err)
		}

		d.mu.Lock()
		if e.again && !d.closed {
			e.again = false
			d.mu.Unlock()
			continue
		}
		e.inFlight = false
		e.again = false
		if e.timer == nil && d.entries[key] == e {
			delete(d.entries, key)
		}
		d.mu.Unlock()
		return
	}
}

// Close stops every pending timer, cancels running fetches and waits for
// them to return. Triggers after Close are ignored.
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, e := range d.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}
