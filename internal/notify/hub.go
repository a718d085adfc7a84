// Package notify delivers best-effort events after ledger transactions
// commit. Publishing never blocks the caller and is never awaited inside
// a money-moving transaction.
package notify

import (
	"context"
	"sync"
	"time"
)

type Event struct {
	Type        string    `json:"type"`
	UserID      string    `json:"user_id"`
	ReferenceID string    `json:"reference_id,omitempty"`
	Message     string    `json:"message,omitempty"`
	At          time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Hub is the in-process publisher: per-user buffered channels for
// long-polling or websocket fan-out.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string][]chan Event),
	}
}

func (h *Hub) Subscribe(userID string) <-chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 10)
	h.subscribers[userID] = append(h.subscribers[userID], ch)
	return ch
}

func (h *Hub) Publish(_ context.Context, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers[event.UserID] {
		select {
		case ch <- event:
		default:
			// Channel full, skip (don't block)
		}
	}
}
