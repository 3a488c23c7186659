// Package relay fans transcript payloads out to WebSocket subscribers
// grouped by room.
package relay

import (
	"sync"

	"github.com/rs/zerolog"

	"dialogue-transcription-service/internal/observability/logging"
	"dialogue-transcription-service/internal/observability/metrics"
)

// DeliveryError reports a failed hand-off to one subscriber. The hub
// removes the subscriber and keeps delivering to the rest.
type DeliveryError struct {
	Room       string
	Subscriber string
	Reason     string
}

func (e *DeliveryError) Error() string {
	return "relay: delivery to " + e.Subscriber + " in " + e.Room + " failed: " + e.Reason
}

// Hub tracks subscriber sets per room and broadcasts payloads to them.
// Delivery is per-subscriber best effort. A subscriber whose send
// buffer is full is dropped rather than allowed to stall the room, and
// a room's entry is removed once its last subscriber leaves.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Subscriber]struct{}
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Subscriber]struct{}),
		logger:  logging.WithComponent("relay"),
		metrics: metrics.DefaultMetrics,
	}
}

// Join registers a subscriber under a room name. The room set is
// created on first join.
func (h *Hub) Join(room string, sub *Subscriber) {
	h.mu.Lock()
	set, ok := h.rooms[room]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.rooms[room] = set
	}
	set[sub] = struct{}{}
	size := len(set)
	h.mu.Unlock()

	h.metrics.SubscribersActive.Inc()
	h.logger.Info().
		Str("room", room).
		Str("subscriber", sub.ID).
		Int("room_size", size).
		Msg("Subscriber joined")
}

// Leave removes a subscriber and closes its send channel. The room
// entry is deleted when the last subscriber leaves. Safe to call more
// than once for the same subscriber.
func (h *Hub) Leave(room string, sub *Subscriber) {
	h.mu.Lock()
	set, ok := h.rooms[room]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, member := set[sub]; !member {
		h.mu.Unlock()
		return
	}
	delete(set, sub)
	size := len(set)
	if size == 0 {
		delete(h.rooms, room)
	}
	h.mu.Unlock()

	sub.closeSend()
	h.metrics.SubscribersActive.Dec()
	h.logger.Info().
		Str("room", room).
		Str("subscriber", sub.ID).
		Int("room_size", size).
		Msg("Subscriber left")
}

// Broadcast delivers a payload to every subscriber in a room except
// the excluded one (pass nil to include everyone). Subscribers that
// cannot accept the payload are removed; their failures are returned
// after the remaining deliveries complete.
func (h *Hub) Broadcast(room string, payload []byte, exclude *Subscriber) []*DeliveryError {
	h.mu.RLock()
	set := h.rooms[room]
	targets := make([]*Subscriber, 0, len(set))
	for sub := range set {
		if sub == exclude {
			continue
		}
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	var failed []*DeliveryError
	delivered, slow, closed := 0, 0, 0
	for _, sub := range targets {
		res := sub.trySend(payload)
		if res == sendOK {
			delivered++
			continue
		}
		reason := "send buffer full"
		if res == sendClosed {
			reason = "subscriber disconnected"
			closed++
		} else {
			slow++
		}
		failed = append(failed, &DeliveryError{
			Room:       room,
			Subscriber: sub.ID,
			Reason:     reason,
		})
		h.logger.Warn().
			Str("room", room).
			Str("subscriber", sub.ID).
			Str("reason", reason).
			Msg("Dropping unreachable subscriber")
		h.Leave(room, sub)
	}
	h.metrics.RecordBroadcast(delivered, slow, "slow_subscriber")
	h.metrics.RecordBroadcast(0, closed, "disconnected")
	return failed
}

// CloseRoom removes every subscriber of a room and closes their send
// channels, ending their write pumps. Used at session teardown.
func (h *Hub) CloseRoom(room string) {
	h.mu.Lock()
	set := h.rooms[room]
	subs := make([]*Subscriber, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	delete(h.rooms, room)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.closeSend()
		h.metrics.SubscribersActive.Dec()
	}
	if len(subs) > 0 {
		h.logger.Info().
			Str("room", room).
			Int("subscribers", len(subs)).
			Msg("Room closed")
	}
}

// RoomSize returns the current subscriber count for a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// HasRoom reports whether the room has any subscribers.
func (h *Hub) HasRoom(room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room]
	return ok
}
