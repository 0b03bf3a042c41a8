// Package bus fans system events out to any number of named taps. The
// orchestrator and registry publish; the status server's event bridge and
// tests subscribe.
package bus

import (
	"sync"

	"github.com/sipeed/execclient/pkg/events"
)

// Subscriber is a named tap on the event stream. Multiple subscribers
// independently consume the same published events (fan-out).
type Subscriber struct {
	Name string
	ch   chan events.Event
}

type MessageBus struct {
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	systemSubs []*Subscriber
}

func NewMessageBus() *MessageBus {
	return &MessageBus{}
}

// SubscribeSystem creates a named subscriber for system events. The returned
// channel is buffered; slow consumers drop events.
func (mb *MessageBus) SubscribeSystem(name string) <-chan events.Event {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan events.Event, 64)}
	if mb.closed {
		close(sub.ch)
		return sub.ch
	}
	mb.systemSubs = append(mb.systemSubs, sub)
	return sub.ch
}

// Unsubscribe removes every tap registered under name and closes its channel.
func (mb *MessageBus) Unsubscribe(name string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	kept := mb.systemSubs[:0]
	for _, sub := range mb.systemSubs {
		if sub.Name == name {
			close(sub.ch)
			continue
		}
		kept = append(kept, sub)
	}
	mb.systemSubs = kept
}

// PublishSystem publishes a system event to all system subscribers. A nil
// bus is a valid no-op publisher.
func (mb *MessageBus) PublishSystem(event events.Event) {
	if mb == nil {
		return
	}
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	for _, sub := range mb.systemSubs {
		select {
		case sub.ch <- event:
		default: // drop if slow
		}
	}
}

// Publish is shorthand for PublishSystem(events.New(...)).
func (mb *MessageBus) Publish(eventType, source string, data interface{}) {
	mb.PublishSystem(events.New(eventType, source, data))
}

// SubscriberCount returns the number of live taps.
func (mb *MessageBus) SubscriberCount() int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return len(mb.systemSubs)
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		mb.mu.Lock()
		mb.closed = true
		for _, sub := range mb.systemSubs {
			close(sub.ch)
		}
		mb.systemSubs = nil
		mb.mu.Unlock()
	})
}
