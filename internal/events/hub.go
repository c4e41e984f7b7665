// Package events distributes router activity (request lifecycle, engine
// health, queue releases) to in-process subscribers and to the SSE endpoint.
package events

import (
	"sync"
	"time"
)

// Type classifies a hub event.
type Type string

const (
	TypeRequestReceived  Type = "request.received"
	TypeRequestOutcome   Type = "request.outcome"
	TypeHealthTransition Type = "engine.health"
	TypeEngineStart      Type = "engine.start"
	TypeEngineStop       Type = "engine.stop"
	TypeQueueRelease     Type = "queue.release"
)

// Event is one observable step of a request or of the engine lifecycle. The
// envelope (ID, Type, At) is stamped by the hub; the remaining fields are
// populated per type and omitted from JSON otherwise.
type Event struct {
	ID   int64     `json:"id"`
	Type Type      `json:"type"`
	At   time.Time `json:"at"`

	// Request lifecycle.
	RequestID string `json:"request_id,omitempty"`
	Caller    string `json:"caller,omitempty"`
	Operation string `json:"operation,omitempty"`
	Priority  string `json:"priority,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`

	// Health transitions.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// Queue releases.
	Count int `json:"count,omitempty"`
}

// Hub fans events out to live subscribers and keeps a bounded replay buffer
// so a late SSE client can catch up from its Last-Event-ID.
type Hub struct {
	mu      sync.Mutex
	lastID  int64
	buf     []Event // oldest first, at most max entries
	max     int
	subs    map[int]chan Event
	nextSub int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		max:  capacity,
		subs: make(map[int]chan Event),
	}
}

// Publish stamps the envelope and delivers ev to the replay buffer and every
// subscriber. Slow subscribers lose events rather than block producers.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev.ID = h.lastID
	ev.At = time.Now().UTC()

	if len(h.buf) == h.max {
		copy(h.buf, h.buf[1:])
		h.buf = h.buf[:h.max-1]
	}
	h.buf = append(h.buf, ev)

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a live event channel and a cancel func that closes it.
// Cancelling twice is safe.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSub
	h.nextSub++
	ch := make(chan Event, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest first. A
// lastID of 0 returns the whole buffer.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := 0
	for i < len(h.buf) && h.buf[i].ID <= lastID {
		i++
	}
	out := make([]Event, len(h.buf)-i)
	copy(out, h.buf[i:])
	return out
}
