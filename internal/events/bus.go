package events

import (
	"sync"
	"time"

	"steward/internal/logger"

	"github.com/google/uuid"
)

const defaultBuffer = 64

// Bus fans events out to independent subscribers. Publish never blocks the
// emitting loop: a subscriber that falls behind loses events (and the loss is
// logged) rather than stalling the verifier.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	buffer int
	closed bool
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{buffer: buffer}
}

// Subscribe returns a channel receiving every event published after the call.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish stamps the event with an id and timestamp if missing and delivers
// it to all subscribers.
func (b *Bus) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			logger.Warnf("event bus: subscriber full, dropping %s for %s", evt.Kind, evt.Symbol)
		}
	}
}

// Close stops delivery and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
