package comms

import (
	"context"
	"fmt"
	"sync"
)

// Everyone subscribes a handler to every published message.
const Everyone = "*"

// Bus delivers freshly sent messages to live subscribers. It is not the system of
// record: Service persists first and publishes after commit.
type Bus interface {
	// Publish delivers msg to subscribers of msg.ToAgent and of Everyone.
	Publish(ctx context.Context, msg *Message) error

	// Subscribe registers a handler for messages addressed to agentID.
	// Returns an unsubscribe function.
	Subscribe(agentID string, handler Handler) (unsubscribe func())

	// History returns recent messages sent or received by agentID.
	History(agentID string, limit int) ([]*Message, error)
}

// InMemoryBus is a thread-safe in-process message bus.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry // agentID -> handlers
	nextID   int
	history  []*Message
	maxHist  int
}

type handlerEntry struct {
	id      int
	handler Handler
}

// NewInMemoryBus creates an InMemoryBus with a 1000-message history cap.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[string][]handlerEntry),
		maxHist:  1000,
	}
}

// Publish invokes every matching handler outside the lock. Handler errors are joined
// into one error; all handlers run regardless.
func (b *InMemoryBus) Publish(ctx context.Context, msg *Message) error {
	b.mu.Lock()
	b.history = append(b.history, msg)
	if len(b.history) > b.maxHist {
		b.history = b.history[len(b.history)-b.maxHist:]
	}

	var targets []Handler
	for _, e := range b.handlers[msg.ToAgent] {
		targets = append(targets, e.handler)
	}
	if msg.ToAgent != Everyone {
		for _, e := range b.handlers[Everyone] {
			targets = append(targets, e.handler)
		}
	}
	b.mu.Unlock()

	var errs []error
	for _, h := range targets {
		if err := h(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish %s: %d handler error(s): %w", msg.ID, len(errs), errs[0])
	}
	return nil
}

// Subscribe registers a handler for messages addressed to agentID.
func (b *InMemoryBus) Subscribe(agentID string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[agentID] = append(b.handlers[agentID], handlerEntry{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.handlers[agentID]
		filtered := entries[:0]
		for _, e := range entries {
			if e.id != id {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			delete(b.handlers, agentID)
		} else {
			b.handlers[agentID] = filtered
		}
	}
}

// History returns the most recent limit messages sent or received by agentID, in
// chronological order. A limit of zero returns all retained messages.
func (b *InMemoryBus) History(agentID string, limit int) ([]*Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []*Message
	for i := len(b.history) - 1; i >= 0; i-- {
		m := b.history[i]
		if m.ToAgent == agentID || m.FromAgent == agentID {
			result = append(result, m)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	for l, r := 0, len(result)-1; l < r; l, r = l+1, r-1 {
		result[l], result[r] = result[r], result[l]
	}
	return result, nil
}
