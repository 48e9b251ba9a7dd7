package queue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexushq/nexus/internal/routing"
)

func newReq(priority routing.Priority) *routing.QueuedRequest {
	return &routing.QueuedRequest{
		Intent:   routing.NewIntent("req", "m", nil),
		Respond:  make(chan routing.QueuedResponse, 1),
		Priority: priority,
	}
}

func TestEnqueueDisabledReturnsErrDisabled(t *testing.T) {
	q := New(false, 10)
	err := q.Enqueue(newReq(routing.PriorityNormal))
	require.ErrorIs(t, err, ErrDisabled)
}

func TestEnqueueFullReturnsErrFull(t *testing.T) {
	q := New(true, 1)
	require.NoError(t, q.Enqueue(newReq(routing.PriorityNormal)))
	err := q.Enqueue(newReq(routing.PriorityNormal))
	require.ErrorIs(t, err, ErrFull)
}

func TestTryDequeueEmptyReturnsFalse(t *testing.T) {
	q := New(true, 10)
	_, ok := q.TryDequeue()
	require.False(t, ok)
}

func TestTryDequeueDrainsHighBeforeNormal(t *testing.T) {
	q := New(true, 10)
	normalReq := newReq(routing.PriorityNormal)
	highReq := newReq(routing.PriorityHigh)

	require.NoError(t, q.Enqueue(normalReq))
	require.NoError(t, q.Enqueue(highReq))

	first, ok := q.TryDequeue()
	require.True(t, ok)
	require.Same(t, highReq, first)

	second, ok := q.TryDequeue()
	require.True(t, ok)
	require.Same(t, normalReq, second)
}

func TestTryDequeueFIFOWithinLane(t *testing.T) {
	q := New(true, 10)
	r1 := newReq(routing.PriorityNormal)
	r2 := newReq(routing.PriorityNormal)
	r3 := newReq(routing.PriorityNormal)

	require.NoError(t, q.Enqueue(r1))
	require.NoError(t, q.Enqueue(r2))
	require.NoError(t, q.Enqueue(r3))

	got1, _ := q.TryDequeue()
	got2, _ := q.TryDequeue()
	got3, _ := q.TryDequeue()

	require.Same(t, r1, got1)
	require.Same(t, r2, got2)
	require.Same(t, r3, got3)
}

func TestDepthTracksEnqueueDequeue(t *testing.T) {
	q := New(true, 10)
	require.Equal(t, 0, q.Depth())

	require.NoError(t, q.Enqueue(newReq(routing.PriorityNormal)))
	require.Equal(t, 1, q.Depth())

	require.NoError(t, q.Enqueue(newReq(routing.PriorityHigh)))
	require.Equal(t, 2, q.Depth())

	_, ok := q.TryDequeue()
	require.True(t, ok)
	require.Equal(t, 1, q.Depth())
}

func TestDrainInvokesFnForEveryParkedRequest(t *testing.T) {
	q := New(true, 10)
	require.NoError(t, q.Enqueue(newReq(routing.PriorityNormal)))
	require.NoError(t, q.Enqueue(newReq(routing.PriorityHigh)))
	require.NoError(t, q.Enqueue(newReq(routing.PriorityNormal)))

	count := 0
	q.Drain(func(*routing.QueuedRequest) { count++ })

	require.Equal(t, 3, count)
	require.Equal(t, 0, q.Depth())
	_, ok := q.TryDequeue()
	require.False(t, ok)
}

func TestMaxSizeReflectsConfiguredCapacityWithFloor(t *testing.T) {
	require.Equal(t, 1, New(true, 0).MaxSize())
	require.Equal(t, 1, New(true, -5).MaxSize())
	require.Equal(t, 50, New(true, 50).MaxSize())
}

func TestEnabled(t *testing.T) {
	require.True(t, New(true, 1).Enabled())
	require.False(t, New(false, 1).Enabled())
}
