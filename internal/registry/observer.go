package registry

import (
	"github.com/google/uuid"
)

// EventKind says what happened to the registry.
type EventKind int

const (
	ClientAdded EventKind = iota
	ClientRemoved
	ClientChanged
	// InfoChanged is sent by ClientInfoChanged without naming a client.
	InfoChanged
)

func (k EventKind) String() string {
	switch k {
	case ClientAdded:
		return "client-added"
	case ClientRemoved:
		return "client-removed"
	case ClientChanged:
		return "client-changed"
	default:
		return "info-changed"
	}
}

// Event is delivered to observers.
type Event struct {
	Kind    EventKind
	Client  Handle
	Version uint64
}

// Subscription identifies an observer for Unsubscribe.
type Subscription struct {
	id uuid.UUID
}

func (s Subscription) String() string { return s.id.String() }

type observer struct {
	id uuid.UUID
	fn func(Event)
}

// Subscribe registers fn to be called on every change. fn runs with the
// observer list locked: it may read the registry but must not subscribe,
// unsubscribe or mutate clients.
func (r *Registry) Subscribe(fn func(Event)) Subscription {
	id := uuid.New()
	r.obsMu.Lock()
	r.observers = append(r.observers, observer{id: id, fn: fn})
	r.obsMu.Unlock()
	return Subscription{id: id}
}

// Unsubscribe removes a registration. It reports whether sub was registered.
func (r *Registry) Unsubscribe(sub Subscription) bool {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	for i, o := range r.observers {
		if o.id == sub.id {
			r.observers = append(r.observers[:i], r.observers[i+1:]...)
			return true
		}
	}
	return false
}

// ClientInfoChanged tells every observer that client or controller data
// changed.
func (r *Registry) ClientInfoChanged() {
	r.notify(Event{Kind: InfoChanged})
}

func (r *Registry) notify(ev Event) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	ev.Version = r.version.Add(1)
	for _, o := range r.observers {
		o.fn(ev)
	}
}
