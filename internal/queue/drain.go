package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nexushq/nexus/internal/routing"
)

// pollInterval is how often the drain loop wakes to check for dequeueable
// work when no enqueue signal has arrived.
const pollInterval = 50 * time.Millisecond

// Scheduler re-runs the terminal pipeline stage only (not the full
// pipeline), since a queued request has already passed privacy/budget/tier
// and re-filtering by those would be wasted work and could re-reject on
// state the request already cleared.
type Scheduler interface {
	Reschedule(ctx context.Context, intent *routing.Intent) routing.Decision
}

// Dispatcher executes a Route decision against the chosen backend and
// delivers the result on req.Respond.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *routing.QueuedRequest, decision routing.Decision)
}

// DrainLoop is the background task that empties the Queue as capacity frees,
// a structured task owned by the server lifecycle object per the gateway's
// background-loop convention (health, discovery, drain all share this shape).
type DrainLoop struct {
	q              *Queue
	scheduler      Scheduler
	dispatcher     Dispatcher
	maxWait        time.Duration
	logger         *zap.Logger
	wake           chan struct{}
}

func NewDrainLoop(q *Queue, scheduler Scheduler, dispatcher Dispatcher, maxWait time.Duration, logger *zap.Logger) *DrainLoop {
	return &DrainLoop{
		q:          q,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		maxWait:    maxWait,
		logger:     logger.With(zap.String("component", "queue_drain")),
		wake:       make(chan struct{}, 1),
	}
}

// Wake nudges the loop to check the queue immediately instead of waiting for
// the next poll tick, called by Enqueue callers that want low-latency drain.
func (d *DrainLoop) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled, processing queued requests as capacity
// frees. On cancellation it drains every remaining item with a 503 before
// returning, per the gateway's shutdown contract.
func (d *DrainLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.shutdownDrain()
			return
		case <-ticker.C:
			d.drainOnce(ctx)
		case <-d.wake:
			d.drainOnce(ctx)
		}
	}
}

// drainOnce visits at most one pass's worth of parked requests: the depth
// snapshot taken at the start bounds the loop so a request process
// re-enqueues (still saturated) is not immediately re-dequeued within the
// same pass. Without this bound a saturated queue would spin the loop at
// full CPU until max_wait elapsed instead of waiting for the next poll tick
// or Wake.
func (d *DrainLoop) drainOnce(ctx context.Context) {
	n := d.q.Depth()
	for i := 0; i < n; i++ {
		req, ok := d.q.TryDequeue()
		if !ok {
			return
		}
		d.process(ctx, req)
	}
}

func (d *DrainLoop) process(ctx context.Context, req *routing.QueuedRequest) {
	waited := time.Since(req.EnqueuedAt)
	if waited > d.maxWait {
		d.respond(req, routing.Decision{Kind: routing.DecisionReject}, errQueueTimeout(d.maxWait))
		return
	}

	decision := d.scheduler.Reschedule(ctx, req.Intent)
	switch decision.Kind {
	case routing.DecisionRoute:
		d.dispatcher.Dispatch(ctx, req, decision)
	case routing.DecisionQueue, routing.DecisionReject:
		remaining := d.maxWait - waited
		if remaining <= 0 {
			d.respond(req, decision, errQueueTimeout(d.maxWait))
			return
		}
		if err := d.q.Enqueue(req); err != nil {
			d.respond(req, decision, err)
		}
	}
}

func (d *DrainLoop) shutdownDrain() {
	d.q.Drain(func(req *routing.QueuedRequest) {
		d.respond(req, routing.Decision{Kind: routing.DecisionReject}, ErrShutdown)
	})
}

// respond delivers exactly once on req.Respond, logging and dropping a send
// that can't land because the client already disconnected.
func (d *DrainLoop) respond(req *routing.QueuedRequest, decision routing.Decision, err error) {
	select {
	case req.Respond <- routing.QueuedResponse{Decision: decision, Err: err}:
	default:
		d.logger.Debug("queued response dropped, client disconnected", zap.String("request_id", req.Intent.RequestID))
	}
}
