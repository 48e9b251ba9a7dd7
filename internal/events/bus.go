// Package events implements the in-process event bus that fans out registry
// and proxy deltas to external consumers: the dashboard WebSocket and,
// indirectly, the Prometheus collector.
package events

import (
	"sync"
	"time"
)

// Kind distinguishes the event payloads this bus carries.
type Kind string

const (
	KindBackendStatus Kind = "backend_status"
	KindBackendAdded  Kind = "backend_added"
	KindBackendRemoved Kind = "backend_removed"
	KindRequestComplete Kind = "request_complete"
)

// Event is one delta broadcast on the bus. Only the fields relevant to Kind
// are populated; consumers switch on Kind before reading the rest.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	AgentID string `json:"agent_id,omitempty"`
	Healthy bool   `json:"healthy,omitempty"`
	Reason  string `json:"reason,omitempty"`

	RequestID  string `json:"request_id,omitempty"`
	Model      string `json:"model,omitempty"`
	Backend    string `json:"backend,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Status     string `json:"status,omitempty"`
}

// subscriberBuffer bounds how many events a slow subscriber can lag behind
// before its oldest unread events are dropped; the bus never blocks Publish
// on a stalled consumer.
const subscriberBuffer = 64

// Bus is a simple fan-out broadcaster: every Publish call is copied,
// non-blockingly, to every currently subscribed channel.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[int]chan Event)}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function the caller must invoke when done.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subscribers[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}
}

// Publish broadcasts ev to every subscriber. A subscriber whose buffer is
// full has its oldest event dropped to make room, rather than blocking the
// publisher (publishers are health-check and proxy hot paths).
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
