package events

import (
	"context"
	"sync"
)

// Bus is an in-process fan-out publisher. Subscribers receive events on
// buffered channels; a subscriber that falls behind drops events rather
// than blocking the engine.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan *Event
	nextID int
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan *Event)}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe or bus
// close.
func (b *Bus) Subscribe(buffer int) (<-chan *Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan *Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Publish fans the event out to every subscriber.
func (b *Bus) Publish(_ context.Context, event *Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Close closes every subscriber channel and rejects further publishes.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}
