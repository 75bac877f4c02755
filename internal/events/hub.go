// Package events is the in-process notification channel jobs publish their
// lifecycle and progress on. Late subscribers can replay a small ring buffer.
package events

import (
	"encoding/json"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one published notification. Type is the topic it was published on.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
	// jobID is parsed once at publish time.
	jobID string
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// JobID returns the payload's job_id, or "" when it has none.
func (e Event) JobID() string {
	if e.jobID != "" {
		return e.jobID
	}
	return payloadJobID(e.Data)
}

func payloadJobID(data []byte) string {
	var p struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return ""
	}
	return p.JobID
}

// Filter selects events. Zero values match everything.
type Filter struct {
	JobID  string
	Topics []string
}

// Match reports whether ev passes the filter.
func (f Filter) Match(ev Event) bool {
	if f.JobID != "" && ev.JobID() != f.JobID {
		return false
	}
	return len(f.Topics) == 0 || slices.Contains(f.Topics, ev.Type)
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Hub fans events out to subscribers and keeps the newest in a ring buffer.
// A subscriber that falls behind misses events rather than blocking
// publishers; Dropped counts them.
type Hub struct {
	nextID  atomic.Int64
	dropped atomic.Uint64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]subscriber
	nextSubID int
}

// NewHub creates a hub replaying up to capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]subscriber),
	}
}

// Publish records an event and fans it out. Its signature matches
// job.Notifier so a hub can be handed to job execution directly.
func (h *Hub) Publish(topic string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	ev := Event{
		ID:    h.nextID.Add(1),
		Type:  topic,
		At:    time.Now().UTC(),
		Data:  payload,
		jobID: payloadJobID(payload),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.pushLocked(ev)
	for _, sub := range h.subs {
		if !sub.filter.Match(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe delivers future events matching f until cancel is called.
// cancel closes the channel and may be called more than once.
func (h *Hub) Subscribe(f Filter) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 128)
	h.subs[id] = subscriber{ch: ch, filter: f}

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub.ch)
		}
	}
	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID that match f,
// oldest first.
func (h *Hub) SnapshotSince(lastID int64, f Filter) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID && f.Match(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
