// Package events fans gallery events out to connected websocket clients.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/alexjbarnes/gallery-sync/internal/metrics"
	"github.com/alexjbarnes/gallery-sync/internal/models"
)

// subscriberBuffer is how many events a subscriber may lag behind before
// further events are dropped for it.
const subscriberBuffer = 64

// Hub manages subscribers and publishes events to them.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan models.Event]*subscriber
}

type subscriber struct {
	// lagged is set when an event was dropped for this subscriber. Its
	// incremental state can no longer be trusted.
	lagged atomic.Bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[chan models.Event]*subscriber),
	}
}

// Subscribe adds a subscriber and returns its event channel. The caller
// must call Unsubscribe when done.
func (h *Hub) Subscribe() chan models.Event {
	ch := make(chan models.Event, subscriberBuffer)

	h.mu.Lock()
	h.subscribers[ch] = &subscriber{}
	n := len(h.subscribers)
	h.mu.Unlock()

	metrics.SetSubscribersActive(n)

	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(ch chan models.Event) {
	h.mu.Lock()
	if _, ok := h.subscribers[ch]; ok {
		delete(h.subscribers, ch)
		close(ch)
	}
	n := len(h.subscribers)
	h.mu.Unlock()

	metrics.SetSubscribersActive(n)
}

// Publish sends an event to every subscriber without blocking. A
// subscriber whose buffer is full misses the event.
func (h *Hub) Publish(ev models.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch, sub := range h.subscribers {
		select {
		case ch <- ev:
		default:
			sub.lagged.Store(true)
			metrics.RecordEventDropped()
		}
	}

	metrics.RecordEventPublished(ev.Type)
}

// PublishData marshals data and publishes it under typ.
func (h *Hub) PublishData(typ string, data any) error {
	ev, err := models.NewEvent(typ, data)
	if err != nil {
		return err
	}

	h.Publish(ev)

	return nil
}

// TakeLagged reports whether events were dropped for ch since the last
// call, and clears the flag.
func (h *Hub) TakeLagged(ch chan models.Event) bool {
	h.mu.RLock()
	sub, ok := h.subscribers[ch]
	h.mu.RUnlock()

	if !ok {
		return false
	}

	return sub.lagged.Swap(false)
}

// Count returns the current number of subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subscribers)
}
