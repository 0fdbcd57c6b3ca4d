package xfer

import (
	"sync"
	"time"
)

// DefaultMaxDepth bounds the number of queued items. When the queue is
// full, Write rejects with ErrResourceExhausted instead of blocking the
// producer.
const DefaultMaxDepth = 128

// Queue is the ordered store of pending transfer items. Strict FIFO: the
// head is always the oldest unconsumed item, mutation happens only inside
// a short critical section, and memory pin/copy never runs under it.
type Queue struct {
	mu       sync.Mutex
	items    []*Item
	maxDepth int

	// notify carries the readiness condition. Capacity 1: a pending
	// signal is enough, extra enqueues collapse into it. Waiters must
	// re-check Len after waking; spurious wakeups are permitted.
	notify chan struct{}
}

// NewQueue creates a queue holding at most maxDepth items; 0 means
// unbounded.
func NewQueue(maxDepth int) *Queue {
	return &Queue{
		maxDepth: maxDepth,
		notify:   make(chan struct{}, 1),
	}
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// push appends an item at the tail and signals readiness. Order among
// concurrent producers is the order their critical sections commit.
func (q *Queue) push(it *Item) error {
	q.mu.Lock()
	if q.maxDepth > 0 && len(q.items) >= q.maxDepth {
		q.mu.Unlock()
		return ErrResourceExhausted
	}
	q.items = append(q.items, it)
	q.mu.Unlock()

	q.signal()
	return nil
}

// head returns the oldest item without removing it, nil when empty.
func (q *Queue) head() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// popHead removes and returns the oldest item, nil when empty.
func (q *Queue) popHead() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	it := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return it
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Wait blocks until an enqueue signals readiness or the timeout elapses.
// Returns true on a signal. A non-positive timeout polls without
// blocking. Callers must treat a true return as a hint and re-check Len.
func (q *Queue) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-q.notify:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-q.notify:
		return true
	case <-timer.C:
		return false
	}
}
