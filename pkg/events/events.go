package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/noriteio/norite/pkg/types"
)

// Type says what happened to a resource.
type Type string

const (
	Created Type = "created"
	Deleted Type = "deleted"
	Faulted Type = "faulted"

	// Node liveness transitions.
	Registered Type = "registered"
	Offline    Type = "offline"
)

// Event is one resource-lifecycle notification, identified by the
// resource's kind and id plus what happened to it. ID and OccurredAt
// are stamped by the broker on publish.
type Event struct {
	ID         string             `json:"id"`
	Type       Type               `json:"type"`
	Kind       types.ResourceKind `json:"kind"`
	ResourceID string             `json:"resource_id"`
	Message    string             `json:"message,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// DefaultBuffer sizes a subscription's channel. A reconcile sweep can
// emit up to one event per resource, so the buffer absorbs a full
// sweep over a few hundred resources without the publisher dropping.
const DefaultBuffer = 256

// Subscription is one observer's event feed. Receive from C; Cancel
// when done.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	dropped atomic.Uint64
}

// Dropped reports how many events this subscriber missed because its
// buffer was full. Publishing never blocks on a slow observer.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Broker fans resource-lifecycle events out to subscribers. Delivery
// is best-effort: observers are tooling (CLI watch, operator feeds),
// never part of the reconciliation control flow, so a publisher never
// waits and a slow subscriber loses events rather than applying
// backpressure.
type Broker struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewBroker returns an empty broker. It has no background loop;
// Publish fans out synchronously.
func NewBroker() *Broker {
	return &Broker{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new observer. A non-positive buffer uses
// DefaultBuffer.
func (b *Broker) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &Subscription{ch: make(chan Event, buffer)}
	sub.C = sub.ch

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub] = struct{}{}
	return sub
}

// Cancel removes a subscription and closes its channel.
func (b *Broker) Cancel(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// Publish stamps and delivers an event to every subscriber without
// blocking.
func (b *Broker) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
