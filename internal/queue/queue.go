// Package queue implements the bounded, priority-aware request queue used
// when every capable backend is saturated: two fixed-capacity FIFO lanes
// (high, normal) plus an atomically maintained depth counter.
package queue

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nexushq/nexus/internal/nexuserrors"
	"github.com/nexushq/nexus/internal/routing"
)

var (
	// ErrFull is returned by Enqueue when depth has reached max_size.
	ErrFull = errors.New("queue full")
	// ErrDisabled is returned by Enqueue when queuing is turned off.
	ErrDisabled = errors.New("queue disabled")
	// ErrShutdown is delivered to every request still parked when the
	// server shuts down.
	ErrShutdown = nexuserrors.New(nexuserrors.ErrQueueTimeout, "server shutting down").
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithContext("retry_after", 5)
)

// errQueueTimeout is delivered when a queued request exceeds max_wait_seconds.
func errQueueTimeout(maxWait time.Duration) error {
	return nexuserrors.New(nexuserrors.ErrQueueTimeout, "queue wait exceeded max_wait_seconds").
		WithHTTPStatus(http.StatusServiceUnavailable).
		WithContext("retry_after", int(maxWait.Seconds()))
}

// Queue is a two-lane bounded FIFO holding area. Enqueue and TryDequeue are
// both non-blocking: Enqueue never blocks the caller's goroutine, and
// TryDequeue returns immediately with ok=false when both lanes are empty.
type Queue struct {
	enabled bool
	high    chan *routing.QueuedRequest
	normal  chan *routing.QueuedRequest
	depth   atomic.Int64
}

// New builds a Queue with the given per-lane capacity. Each lane gets its
// own buffer of maxSize so a burst of all-high or all-normal traffic isn't
// starved by lane imbalance; the shared depth counter is what enforces the
// overall bound.
func New(enabled bool, maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Queue{
		enabled: enabled,
		high:    make(chan *routing.QueuedRequest, maxSize),
		normal:  make(chan *routing.QueuedRequest, maxSize),
	}
}

// MaxSize is the configured bound on total queued requests across both lanes.
func (q *Queue) MaxSize() int {
	return cap(q.high)
}

// Enqueue parks req on its priority lane. It is O(1) and never blocks: a
// full lane or a disabled queue returns an error immediately.
func (q *Queue) Enqueue(req *routing.QueuedRequest) error {
	if !q.enabled {
		return ErrDisabled
	}
	if int(q.depth.Load()) >= q.MaxSize() {
		return ErrFull
	}

	lane := q.normal
	if req.Priority == routing.PriorityHigh {
		lane = q.high
	}

	select {
	case lane <- req:
		q.depth.Add(1)
		return nil
	default:
		return ErrFull
	}
}

// TryDequeue drains the high lane before the normal lane, preserving FIFO
// order within each lane and never interleaving between them.
func (q *Queue) TryDequeue() (*routing.QueuedRequest, bool) {
	select {
	case req := <-q.high:
		q.depth.Add(-1)
		return req, true
	default:
	}

	select {
	case req := <-q.normal:
		q.depth.Add(-1)
		return req, true
	default:
		return nil, false
	}
}

// Depth returns the current (possibly transiently stale-by-one-under-
// contention, eventually correct) combined depth of both lanes.
func (q *Queue) Depth() int {
	d := q.depth.Load()
	if d < 0 {
		return 0
	}
	return int(d)
}

// Enabled reports whether enqueueing is permitted.
func (q *Queue) Enabled() bool { return q.enabled }

// Drain empties both lanes, invoking fn on every parked request. Used at
// shutdown to deliver final 503s to every still-waiting client.
func (q *Queue) Drain(fn func(*routing.QueuedRequest)) {
	for {
		req, ok := q.TryDequeue()
		if !ok {
			return
		}
		fn(req)
	}
}
