// internal/progress/bus.go
package progress

import (
	"sync"
)

// DefaultBuffer is the channel capacity of a bus
const DefaultBuffer = 256

// Bus carries one job's events to its consumer. Exactly one goroutine
// publishes; the consumer must drain Events until it is closed, otherwise
// publishing blocks once the buffer is full.
type Bus struct {
	ch      chan Event
	history []Event
	closed  bool
	mu      sync.RWMutex
}

// NewBus creates a bus with the given buffer, DefaultBuffer when <= 0
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{ch: make(chan Event, buffer)}
}

// Publish delivers ev, blocking while the buffer is full. Events published
// after Close are dropped.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.history = append(b.history, ev)
	b.mu.Unlock()

	b.ch <- ev
}

// Events returns the receive side of the bus
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Close ends the stream. Only the publisher may call it.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}

// History returns every event published so far, for readers that attach
// after the stream was consumed
func (b *Bus) History() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Event(nil), b.history...)
}

// Collect drains ch until it is closed
func Collect(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}
