// Package hub implements the Notification Hub: a single-owner actor that
// fans out lifecycle events to subscribers keyed by investigation id. The
// register/unregister/publish channel loop is grounded on MetricsHub
// (ws_hub.go), retargeted from a periodic per-tenant metrics broadcast to
// event-driven per-investigation delivery.
package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dossie-intel/core/internal/observability"
)

// maxSubscribers caps total connected clients, mirroring the
// maxWSConnections overload guard.
const maxSubscribers = 500

// Subscriber receives events for the investigation ids it is registered
// against. Delivery is best-effort: a Subscriber whose Send returns an error
// is evicted. Each Send runs on its own goroutine, so a slow Subscriber does
// not stall the hub; one that blocks without erroring is not evicted.
type Subscriber interface {
	Send(Event) error
	Close() error
}

type subscription struct {
	id              string
	investigationID string
	subscriber      Subscriber
}

type registration struct {
	sub subscription
}

type publication struct {
	investigationID string
	event           Event
}

// Hub owns every active subscription and serializes register/unregister/
// publish through a single goroutine, avoiding the lock-striping a naive
// concurrent map would need.
type Hub struct {
	register   chan registration
	unregister chan string
	publish    chan publication

	mu   sync.RWMutex
	byID map[string]subscription // subscription id -> subscription
}

// New creates a hub. Call Run in its own goroutine to start the actor loop.
func New() *Hub {
	return &Hub{
		register:   make(chan registration),
		unregister: make(chan string),
		publish:    make(chan publication, 64),
		byID:       make(map[string]subscription),
	}
}

// Run drives the hub's event loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case reg := <-h.register:
			h.mu.Lock()
			if len(h.byID) >= maxSubscribers {
				h.mu.Unlock()
				reg.sub.subscriber.Close()
				log.Printf("hub: subscriber rejected, max subscribers (%d) reached", maxSubscribers)
				continue
			}
			h.byID[reg.sub.id] = reg.sub
			n := len(h.byID)
			h.mu.Unlock()
			observability.HubSubscribers.Set(float64(n))

		case id := <-h.unregister:
			h.mu.Lock()
			if sub, ok := h.byID[id]; ok {
				delete(h.byID, id)
				sub.subscriber.Close()
			}
			n := len(h.byID)
			h.mu.Unlock()
			observability.HubSubscribers.Set(float64(n))

		case pub := <-h.publish:
			h.deliver(pub)
		}
	}
}

// deliver fans pub out to its targets, one goroutine per subscriber, so a
// single slow Send (a WebSocketSubscriber blocks up to its own 5s write
// deadline) cannot stall delivery to every other subscriber or delay the
// actor loop's next publish/register/unregister.
func (h *Hub) deliver(pub publication) {
	h.mu.RLock()
	targets := make([]subscription, 0, len(h.byID))
	for _, sub := range h.byID {
		if pub.investigationID == "" || sub.investigationID == pub.investigationID {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		sub := sub
		go func() {
			if err := sub.subscriber.Send(pub.event); err != nil {
				log.Printf("hub: evicting subscriber %s after send error: %v", sub.id, err)
				observability.EventPublishFailures.WithLabelValues(string(pub.event.Type)).Inc()
				h.Unsubscribe(sub.id)
			}
		}()
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	log.Printf("hub: shutting down with %d subscribers", len(h.byID))
	for _, sub := range h.byID {
		sub.subscriber.Close()
	}
	h.byID = make(map[string]subscription)
	observability.HubSubscribers.Set(0)
}

// Subscribe registers subscriber for events on investigationID (empty
// string subscribes to every investigation, used by admin dashboards).
func (h *Hub) Subscribe(id, investigationID string, subscriber Subscriber) {
	h.register <- registration{sub: subscription{id: id, investigationID: investigationID, subscriber: subscriber}}
}

// Unsubscribe removes a previously registered subscriber by id.
func (h *Hub) Unsubscribe(id string) {
	h.unregister <- id
}

// Publish fans event out to every subscriber registered against
// investigationID, or to all subscribers if investigationID is empty.
// Publish never blocks the caller on slow subscribers -- the hub's loop
// hands each send to its own goroutine.
func (h *Hub) Publish(investigationID string, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	h.publish <- publication{investigationID: investigationID, event: event}
}

// SubscriberCount returns the number of currently registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byID)
}

// WebSocketSubscriber adapts a gorilla/websocket connection to the
// Subscriber interface, matching the write-deadline-guarded WriteJSON
// pattern in broadcastAll.
type WebSocketSubscriber struct {
	conn *websocket.Conn
}

// NewWebSocketSubscriber wraps conn for hub delivery.
func NewWebSocketSubscriber(conn *websocket.Conn) *WebSocketSubscriber {
	return &WebSocketSubscriber{conn: conn}
}

func (w *WebSocketSubscriber) Send(event Event) error {
	w.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return w.conn.WriteJSON(event)
}

func (w *WebSocketSubscriber) Close() error {
	return w.conn.Close()
}
