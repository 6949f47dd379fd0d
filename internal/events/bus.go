// Package events is a small typed publish/subscribe bus replacing
// broadcast notifications between components.
package events

import (
	"sync"

	"github.com/gofrs/uuid/v5"
)

// Kind identifies an event type.
type Kind string

const (
	SignedIn      Kind = "signed_in"
	SignedOut     Kind = "signed_out"
	UserSwitched  Kind = "user_switched"
	SyncCompleted Kind = "sync_completed"
	CartChanged   Kind = "cart_changed"
	OrderUpdated  Kind = "order_updated"
)

// Event is the payload delivered to subscribers. Only the fields relevant
// to Kind are set.
type Event struct {
	Kind   Kind
	UserID uuid.UUID
	// PreviousUserID is set on UserSwitched.
	PreviousUserID uuid.UUID
	// OrderID and Status are set on OrderUpdated.
	OrderID uuid.UUID
	Status  string
	// Failed lists entity kinds skipped by a SyncCompleted pass.
	Failed []string
}

// Handler receives events synchronously on the publisher's goroutine and must not block.
type Handler func(Event)

// Bus delivers events to handlers registered per kind.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Kind]map[int]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Kind]map[int]Handler)}
}

// Subscribe registers h for the given kinds and returns a function removing it.
func (b *Bus) Subscribe(h Handler, kinds ...Kind) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	for _, k := range kinds {
		if b.subs[k] == nil {
			b.subs[k] = make(map[int]Handler)
		}
		b.subs[k][id] = h
	}
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, k := range kinds {
			delete(b.subs[k], id)
		}
	}
}

// Publish delivers e to every handler subscribed to e.Kind. A nil bus drops events.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.subs[e.Kind]))
	for _, h := range b.subs[e.Kind] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(e)
	}
}
