package comms

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemoryBus is a thread-safe in-process event bus with a bounded history.
type InMemoryBus struct {
	mu      sync.RWMutex
	subs    map[int]Subscriber
	nextID  int
	history []*Event
	maxHist int
}

// NewInMemoryBus creates an InMemoryBus with a 1000-event history cap.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		subs:    make(map[int]Subscriber),
		maxHist: 1000,
	}
}

// Publish delivers ev to all subscribers and appends it to history.
func (b *InMemoryBus) Publish(ctx context.Context, ev *Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	b.history = append(b.history, ev)
	if len(b.history) > b.maxHist {
		b.history = b.history[len(b.history)-b.maxHist:]
	}
	// Collect subscribers to invoke outside the lock
	targets := make([]Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	var errs []error
	for _, s := range targets {
		if err := s(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish: %d subscriber error(s): %v", len(errs), errs[0])
	}
	return nil
}

// Subscribe registers a subscriber for every published event.
func (b *InMemoryBus) Subscribe(sub Subscriber) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[id] = sub

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Recent returns up to limit events of the given type, most recent first.
func (b *InMemoryBus) Recent(et EventType, limit int) []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []*Event
	for i := len(b.history) - 1; i >= 0; i-- {
		ev := b.history[i]
		if et != "" && ev.Type != et {
			continue
		}
		result = append(result, ev)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result
}
