// Package hub fans structured events out to every subscribed viewer. It is
// transport-agnostic: the websocket layer registers adapters implementing
// Subscriber, so the hub never touches a connection directly.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Subscriber is one viewer endpoint. Send must not block indefinitely; a
// FIFO guarantee per subscriber is the adapter's responsibility (the ws
// adapter uses a buffered channel drained by a single writer). A Send error
// drops the subscriber from the hub.
type Subscriber interface {
	Send(msg []byte) error
	Close()
}

type Hub struct {
	mu   sync.RWMutex
	subs map[Subscriber]struct{}
}

func New() *Hub {
	return &Hub{subs: make(map[Subscriber]struct{})}
}

func (h *Hub) Subscribe(s Subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) Unsubscribe(s Subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish delivers event to every subscriber, best-effort. A failing
// subscriber is removed and closed; it never blocks the others. Delivery
// order across subscribers is unspecified.
func (h *Hub) Publish(event any) {
	msg, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal broadcast event", "error", err)
		return
	}

	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	var dead []Subscriber
	for _, s := range subs {
		if err := s.Send(msg); err != nil {
			dead = append(dead, s)
		}
	}

	for _, s := range dead {
		h.Unsubscribe(s)
		s.Close()
		slog.Info("Dropped slow or dead viewer", "viewers", h.Count())
	}
}
