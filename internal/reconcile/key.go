package reconcile

import (
	"github.com/google/uuid"
)

// Key identifies a record in local state. A record is either confirmed by
// the server, keyed by its server id, or a pending optimistic placeholder
// keyed by a local id. The two spaces never collide.
type Key struct {
	id      string
	pending bool
}

func Confirmed(id string) Key {
	return Key{id: id}
}

func Pending(localID string) Key {
	return Key{id: localID, pending: true}
}

// NewPending returns a pending key with a fresh local id.
func NewPending() Key {
	return Pending(uuid.NewString())
}

func (k Key) IsPending() bool {
	return k.pending
}

func (k Key) IsZero() bool {
	return k.id == ""
}

// ID returns the server id or the local id, depending on the kind.
func (k Key) ID() string {
	return k.id
}

func (k Key) String() string {
	if k.pending {
		return "pending:" + k.id
	}
	return k.id
}
