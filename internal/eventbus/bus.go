// Package eventbus is the engine's in-process signal fanout. Components
// publish lifecycle events (queued, sent, failed, skipped, behavior
// recomputed) without knowing who listens; the app wires a debug logger
// onto it and embedders can subscribe for their own bookkeeping.
package eventbus

import (
	"sync"
	"time"
)

// Type names a notification lifecycle event.
type Type string

const (
	EventQueued    Type = "notification.queued"
	EventSkipped   Type = "notification.skipped"
	EventSent      Type = "notification.sent"
	EventFailed    Type = "notification.failed"
	EventCancelled Type = "notification.cancelled"
	EventBehavior  Type = "behavior.recomputed"
)

// Event carries one signal. Data is small and JSON-serializable; for the
// engine's own events it is a map of ids (notification, user).
type Event struct {
	Type Type
	Time time.Time
	Data any
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event. Delivery is a hint, not a queue;
// the store stays the point of truth for anything that matters.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &bus{subs: map[int]chan Event{}}
}

type bus struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func (b *bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		targets = append(targets, ch)
	}
	b.mu.Unlock()

	for _, ch := range targets {
		// The snapshot can race an unsubscribe that already closed the
		// channel; the recover turns that send into a silent drop.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
