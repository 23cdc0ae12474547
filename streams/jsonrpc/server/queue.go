package server

import (
	"sync"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/solvency"
)

// eventQueue sits between a pool feed and a subscriber that may be slower
// than the pool. relay never blocks on the subscriber, so the feed never
// waits on a client. When the queue is full the oldest event is dropped.
// Every event carries a full PoolView, so the newest one resyncs the client.
type eventQueue struct {
	mu     sync.Mutex
	events []solvency.StateEvent
	limit  int
	lost   int
	ready  chan struct{}
}

func newEventQueue(limit int) *eventQueue {
	if limit < 1 {
		limit = 1
	}
	return &eventQueue{limit: limit, ready: make(chan struct{}, 1)}
}

// relay moves events from in into the queue until done is closed.
func (q *eventQueue) relay(in <-chan solvency.StateEvent, done <-chan struct{}) {
	for {
		select {
		case ev := <-in:
			q.push(ev)
		case <-done:
			return
		}
	}
}

func (q *eventQueue) push(ev solvency.StateEvent) {
	q.mu.Lock()
	if len(q.events) == q.limit {
		q.events = q.events[1:]
		q.lost++
	}
	q.events = append(q.events, ev)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// drain returns the queued events in order and how many were dropped since
// the last drain.
func (q *eventQueue) drain() ([]solvency.StateEvent, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	events, lost := q.events, q.lost
	q.events, q.lost = nil, 0
	return events, lost
}
