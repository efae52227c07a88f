package pipeline

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/minio/highwayhash"
)

// DispatchEvent is a structured record enqueued during a tick and
// forwarded to the named external handlers at the tick's end.
type DispatchEvent struct {
	// ID is a stable idempotency key: redelivery of the same logical
	// event hashes to the same ID, letting downstream consumers dedupe.
	ID        string         `json:"id"`
	Handlers  []string       `json:"handlers"`
	Data      map[string]any `json:"data"`
	Origin    string         `json:"origin"`
	CreatedAt time.Time      `json:"created_at"`
}

// eventIDKey is a fixed 32 bytes (as required by HighwayHash) read from
// /dev/random. DO NOT MODIFY this value: event IDs must stay stable
// across versions for downstream deduplication.
var eventIDKey, _ = hex.DecodeString("9c1463a05f3b8122e14db5bd027c69b38a74f1dd0c2e4b66985a3df07c51e84a")

// NewDispatchEvent assembles an event with its idempotency ID. The ID
// covers the fields which distinguish one logical event from another:
// origin, name, the source's own ID, the camera, and the creation time.
func NewDispatchEvent(origin string, handlers []string, data map[string]any, at time.Time) DispatchEvent {
	var name, _ = data["name"].(string)
	var id, _ = data["id"].(string)
	var camera, _ = data["camera_id"].(string)
	var sum = highwayhash.Sum64(
		[]byte(origin+"\x00"+name+"\x00"+id+"\x00"+camera+"\x00"+at.UTC().Format(time.RFC3339Nano)),
		eventIDKey,
	)
	return DispatchEvent{
		ID:        fmt.Sprintf("%016x", sum),
		Handlers:  handlers,
		Data:      data,
		Origin:    origin,
		CreatedAt: at,
	}
}

// EventQueue buffers dispatch events within the workflow goroutine.
// Tasks append during the tick; the event-dispatch task drains it at the
// tick's end. It is deliberately not safe for cross-goroutine use: all
// appends happen on the loop goroutine, and keeping it lock-free keeps
// that discipline visible.
type EventQueue struct {
	events []DispatchEvent
}

// Push appends one event.
func (q *EventQueue) Push(event DispatchEvent) {
	q.events = append(q.events, event)
	eventsEnqueued.WithLabelValues(event.Origin).Inc()
}

// Drain atomically takes the buffered events, leaving the queue empty.
func (q *EventQueue) Drain() []DispatchEvent {
	var out = q.events
	q.events = nil
	return out
}

// Len is the number of buffered events.
func (q *EventQueue) Len() int { return len(q.events) }
