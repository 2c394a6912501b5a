// Package eventqueue implements the bounded, strictly ordered priority
// queue each session drains its replay loop from: a min-heap over
// domain.MarketEvent's (Ts, precedence, ArrivalSeq) ordering, with a
// configurable overflow policy for producers that outrun the consumer.
package eventqueue

import (
	"container/heap"
	"sync"

	"github.com/marketsim/engine/internal/domain"
)

// innerHeap is the container/heap backing store, kept unexported so the
// public EventQueue can guard every access with its own mutex.
type innerHeap []domain.MarketEvent

func (h innerHeap) Len() int            { return len(h) }
func (h innerHeap) Less(i, j int) bool   { return h[i].Less(h[j]) }
func (h innerHeap) Swap(i, j int)        { h[i], h[j] = h[j], h[i] }
func (h *innerHeap) Push(x any)          { *h = append(*h, x.(domain.MarketEvent)) }
func (h *innerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// EventQueue is a bounded, ordered, thread-safe queue of domain.MarketEvent.
// Producers call Push, the session's replay loop calls Pop; Close makes a
// subsequent or in-flight Pop return ok == false once the queue drains.
type EventQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	h        innerHeap
	capacity int
	policy   domain.OverflowPolicy
	seq      uint64
	closed   bool
	dropped  uint64
}

// New creates an EventQueue bounded at capacity, using policy when a Push
// arrives while the queue is full. capacity <= 0 means unbounded.
func New(capacity int, policy domain.OverflowPolicy) *EventQueue {
	q := &EventQueue{
		capacity: capacity,
		policy:   policy,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	heap.Init(&q.h)
	return q
}

// full reports whether the queue is at capacity. Caller must hold mu.
func (q *EventQueue) full() bool {
	return q.capacity > 0 && len(q.h) >= q.capacity
}

// Push inserts ev, stamping it with the next arrival sequence number to
// make its place in the (Ts, precedence, ArrivalSeq) order deterministic.
// When the queue is full, behavior is governed by the configured
// OverflowPolicy:
//
//	block:       blocks until a Pop frees capacity (or the queue closes)
//	drop_oldest: evicts the currently-lowest-ordered event, then inserts ev
//	drop_newest: discards ev without inserting it
//
// Push on a closed queue is a no-op. Returns whether ev was accepted.
func (q *EventQueue) Push(ev domain.MarketEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}

	for q.full() {
		switch q.policy {
		case domain.OverflowDropNewest:
			q.dropped++
			return false
		case domain.OverflowDropOldest:
			heap.Pop(&q.h)
			q.dropped++
		default: // block
			q.notFull.Wait()
			if q.closed {
				return false
			}
			continue
		}
		break
	}

	ev.ArrivalSeq = q.seq
	q.seq++
	heap.Push(&q.h, ev)
	q.notEmpty.Signal()
	return true
}

// Pop blocks until an event is available or the queue is Close'd and
// drained, in which case ok is false; events still buffered when Close is
// called are returned first. Returned events come out in the queue's total
// order.
func (q *EventQueue) Pop() (ev domain.MarketEvent, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.h) == 0 {
		if q.closed {
			return domain.MarketEvent{}, false
		}
		q.notEmpty.Wait()
	}
	item := heap.Pop(&q.h).(domain.MarketEvent)
	q.notFull.Signal()
	return item, true
}

// Len returns the current number of queued events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// Dropped returns the cumulative count of events discarded by the overflow
// policy (drop_oldest and drop_newest both count).
func (q *EventQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close marks the queue closed and wakes every blocked Push/Pop. Idempotent.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Closed reports whether Close has been called.
func (q *EventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
