// Package changebus is an in-process, non-blocking publish/subscribe bus
// for collection write and index-creation notifications. It implements
// collection.Publisher so any Collection can be wired to broadcast its
// observable writes without depending on changebus directly.
package changebus

import (
	"sync"

	"github.com/arkiliandb/docstore/internal/collection"
	"github.com/arkiliandb/docstore/internal/idgen"
)

// Subscription is a live registration returned by Subscribe. Events
// matching the subscription's filter arrive on Ch until Unsubscribe is
// called.
type Subscription struct {
	ID      string
	Filters []string
	Ch      chan collection.Event
}

// Bus fans out Events to every matching Subscription. A full subscriber
// channel drops the event rather than blocking the publisher.
type Bus struct {
	subscribers sync.Map
	bufferSize  int
}

// New creates a Bus whose per-subscriber channel buffers bufferSize events.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Bus{bufferSize: bufferSize}
}

// Publish sends e to every subscriber whose filter matches e.Collection.
// It satisfies collection.Publisher.
func (b *Bus) Publish(e collection.Event) {
	b.subscribers.Range(func(_, value any) bool {
		sub := value.(*Subscription)
		if matchesFilter(sub.Filters, e.Collection) {
			select {
			case sub.Ch <- e:
			default:
			}
		}
		return true
	})
}

// Subscribe registers a new subscription under id, replacing any prior
// subscription with the same id. filters is a collection-name prefix
// match; no filters means every collection's events are delivered.
func (b *Bus) Subscribe(id string, filters ...string) *Subscription {
	sub := &Subscription{
		ID:      id,
		Filters: filters,
		Ch:      make(chan collection.Event, b.bufferSize),
	}
	b.subscribers.Store(sub.ID, sub)
	return sub
}

// SubscribeAutoID is Subscribe with a generated id, for callers that do
// not need to reference the subscription by name later.
func (b *Bus) SubscribeAutoID(filters ...string) *Subscription {
	return b.Subscribe("sub_"+idgen.New(), filters...)
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	if value, ok := b.subscribers.LoadAndDelete(id); ok {
		close(value.(*Subscription).Ch)
	}
}

func matchesFilter(filters []string, collectionName string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, filter := range filters {
		if filter == "" || (len(collectionName) >= len(filter) && collectionName[:len(filter)] == filter) {
			return true
		}
	}
	return false
}
