// Package eventbus fans raw tag-change notifications out to the
// tag-change publisher's status/node/cycle triggers, decoupling the
// engines that observe live values from the coalescers that build and
// publish snapshots (§4.7).
package eventbus

import (
	"sync"
	"time"
)

// TagEvent is one observed change to a live tag, routed by StationID
// and GroupType so the right coalescer picks it up.
type TagEvent struct {
	GroupType string // "status", "node", "cycle"
	StationID string
	SeqNo     uint64
	Timestamp time.Time
	Data      interface{}
}

// Bus is an in-process event bus that routes tag events to subscribers
// based on group type. It uses Go channels for delivery and is safe
// for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan<- TagEvent
	closed      bool
}

// New creates a new Bus ready for use.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan<- TagEvent),
	}
}

// Subscribe registers a channel to receive events of the given group
// type. The caller is responsible for creating the channel with
// sufficient buffer capacity; slow subscribers will have events dropped.
func (b *Bus) Subscribe(groupType string, ch chan<- TagEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[groupType] = append(b.subscribers[groupType], ch)
}

// Publish sends an event to all subscribers registered for that group
// type. If a subscriber's channel is full, the event is dropped for
// that subscriber. Publish is a no-op after Close has been called.
func (b *Bus) Publish(evt TagEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers[evt.GroupType] {
		select {
		case ch <- evt:
		default:
			// drop if subscriber is slow
		}
	}
}

// Close marks the bus as closed. After Close, Publish is a no-op.
// Close does not close subscriber channels; that is the caller's
// responsibility.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
