// Package notify bridges Postgres LISTEN/NOTIFY to in-process subscribers
// and the SSE endpoint. Delivery is fire-and-forget: a subscriber that
// connects after an event, or whose buffer is full, simply misses it and
// must re-fetch current state.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/kirokuhq/kiroku/internal/storage"
)

// Broker fans out decision-update notifications to subscribers keyed by
// decision id. It runs a background goroutine that calls
// db.WaitForNotification in a loop and routes each event to the
// subscribers watching that decision.
type Broker struct {
	db     *storage.DB
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[uuid.UUID]map[chan []byte]struct{}
	listeners   []func(uuid.UUID)
}

// NewBroker creates a broker. Call Start to begin listening.
func NewBroker(db *storage.DB, logger *slog.Logger) *Broker {
	return &Broker{
		db:          db,
		logger:      logger,
		subscribers: make(map[uuid.UUID]map[chan []byte]struct{}),
	}
}

// Start begins listening on the decisions channel. It blocks, so call it
// in a goroutine. Returns when ctx is cancelled.
func (b *Broker) Start(ctx context.Context) {
	if err := b.db.Listen(ctx, storage.ChannelDecisions); err != nil {
		b.logger.Error("notify: listen decisions", "error", err)
		return
	}

	b.logger.Info("notify: listening for notifications", "channel", storage.ChannelDecisions)

	for {
		_, payload, err := b.db.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // Shutting down.
			}
			b.logger.Warn("notify: notification error, retrying", "error", err)
			continue
		}

		b.dispatch(payload)
	}
}

// dispatch routes one raw notification payload to subscribers and listeners.
func (b *Broker) dispatch(payload string) {
	var event storage.DecisionEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		b.logger.Warn("notify: bad notification payload", "payload", payload, "error", err)
		return
	}

	b.broadcast(event.DecisionID, formatSSE("updated", payload))

	b.mu.RLock()
	listeners := b.listeners
	b.mu.RUnlock()
	for _, fn := range listeners {
		fn(event.DecisionID)
	}
}

// AddListener registers a callback invoked for every decision-update event,
// regardless of subscribers. Callbacks run on the broker loop and must not
// block; spawn a goroutine for slow work. Register before Start.
func (b *Broker) AddListener(fn func(decisionID uuid.UUID)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// Subscribe returns a channel that receives SSE-formatted events for one
// decision. The caller must call Unsubscribe when done.
func (b *Broker) Subscribe(decisionID uuid.UUID) chan []byte {
	ch := make(chan []byte, 64) // Buffer to avoid blocking the broadcast loop.
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subscribers[decisionID]
	if !ok {
		subs = make(map[chan []byte]struct{})
		b.subscribers[decisionID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber channel and closes it. The per-decision
// map is dropped once its last subscriber leaves.
func (b *Broker) Unsubscribe(decisionID uuid.UUID, ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subscribers[decisionID]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	if len(subs) == 0 {
		delete(b.subscribers, decisionID)
	}
	close(ch)
}

// broadcast sends an event to every subscriber of one decision. Slow
// subscribers with a full buffer are skipped so one slow client cannot
// block the others.
func (b *Broker) broadcast(decisionID uuid.UUID, event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[decisionID] {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full, drop this event for them.
		}
	}
}

// formatSSE formats a notification as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	// SSE format: "event: <type>\ndata: <payload>\n\n"
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
