// Package notify carries automation notifications to connected clients.
// The hub is in-process pub/sub keyed by user id; delivery is
// best-effort and never blocks the publisher.
package notify

import (
	"sync"

	"taskflare/internal/domain"
)

const subscriberBuffer = 16

type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.Notification]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan domain.Notification]struct{})}
}

// Subscribe registers a live channel for the user. The returned cancel
// func must be called when the client disconnects.
func (h *Hub) Subscribe(userID string) (<-chan domain.Notification, func()) {
	ch := make(chan domain.Notification, subscriberBuffer)
	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan domain.Notification]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[userID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, userID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish fans the notification out to the user's live sessions. A slow
// subscriber with a full buffer is skipped; the durable record is the
// notifications table, not this channel.
func (h *Hub) Publish(userID string, n domain.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[userID] {
		select {
		case ch <- n:
		default:
		}
	}
}
