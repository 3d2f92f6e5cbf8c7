package park

import (
	"sync"

	"relaydesk/internal/models"
)

// ring is a fixed size buffer that overwrites its oldest record.
type ring struct {
	records   []models.Message
	lastIndex int
	size      int
	// Value of Ring.clock when the scope was last parked into
	touched uint64
}

func newRing(size int) *ring {
	return &ring{lastIndex: -1, size: size}
}

func (r *ring) add(m models.Message) {
	switch {
	case len(r.records) < r.size:
		r.records = append(r.records, m)
		r.lastIndex++
	default:
		i := (r.lastIndex + 1) % r.size
		r.records[i] = m
		r.lastIndex = i
	}
}

// all returns the records oldest first.
func (r *ring) all() []models.Message {
	out := make([]models.Message, len(r.records))
	head := 0
	if len(r.records) == r.size {
		head = (r.lastIndex + 1) % r.size
	}
	n := copy(out, r.records[head:])
	copy(out[n:], r.records[:head])
	return out
}

// DefaultMaxScopes bounds how many conversations a Ring keeps records for.
const DefaultMaxScopes = 256

// Ring parks records in memory. When a new scope would exceed the scope
// limit, the scope parked into least recently is dropped.
type Ring struct {
	limit     int
	maxScopes int
	clock     uint64
	// Map of scope -> parked records
	scopes map[string]*ring

	mux sync.Mutex
}

func NewRing(limit int) *Ring {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Ring{
		limit:     limit,
		maxScopes: DefaultMaxScopes,
		scopes:    make(map[string]*ring),
	}
}

func (p *Ring) Park(scope string, msgs []models.Message) error {
	p.mux.Lock()
	defer p.mux.Unlock()

	r, ok := p.scopes[scope]
	if !ok {
		if len(p.scopes) >= p.maxScopes {
			p.evictOldest()
		}
		r = newRing(p.limit)
		p.scopes[scope] = r
	}
	p.clock++
	r.touched = p.clock
	for _, m := range msgs {
		r.add(m)
	}
	return nil
}

func (p *Ring) evictOldest() {
	var (
		oldest  string
		touched uint64
		found   bool
	)
	for scope, r := range p.scopes {
		if !found || r.touched < touched {
			oldest, touched, found = scope, r.touched, true
		}
	}
	if found {
		delete(p.scopes, oldest)
	}
}

func (p *Ring) Drain(scope string) ([]models.Message, error) {
	p.mux.Lock()
	defer p.mux.Unlock()

	r, ok := p.scopes[scope]
	if !ok {
		return nil, nil
	}
	delete(p.scopes, scope)
	return r.all(), nil
}
