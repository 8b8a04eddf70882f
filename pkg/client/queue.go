package client

import (
	"sync"

	"github.com/viewsync-dev/viewsync/pkg/protocol"
)

// PendingInputQueue holds events captured while the channel is down, in
// capture order. Replay drains the whole queue in one swap, so an event is
// never transmitted twice: events that fail to send are put back at the
// front and picked up by the next replay.
type PendingInputQueue struct {
	mu     sync.Mutex
	events []*protocol.Event
	max    int
}

func newPendingInputQueue(max int) *PendingInputQueue {
	return &PendingInputQueue{max: max}
}

// Push appends an event. Returns ErrInputQueueFull at capacity.
func (q *PendingInputQueue) Push(event *protocol.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.max > 0 && len(q.events) >= q.max {
		return ErrInputQueueFull
	}
	q.events = append(q.events, event)
	return nil
}

// Drain removes and returns all queued events in FIFO order.
func (q *PendingInputQueue) Drain() []*protocol.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.events
	q.events = nil
	return events
}

// Requeue puts events back at the front, ahead of anything captured since
// the drain. Capacity is not enforced here: losing an already-captured
// event would be worse than briefly exceeding the limit.
func (q *PendingInputQueue) Requeue(events []*protocol.Event) {
	if len(events) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(append([]*protocol.Event{}, events...), q.events...)
}

// Len returns the number of queued events.
func (q *PendingInputQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
