/*
The queue package provides the ordered, unbounded FIFO used for both the
connection's correlated-reply queue and its pushed-message queue. Pushes
never block; pops can wait with a timeout. Multiple readers may pop
concurrently.
*/
package queue

import (
	"sync"
	"time"
)

type Queue[T any] struct {
	mu    sync.Mutex
	items []T

	// Single-token wakeup; a successful pop re-arms it while items remain
	// so that concurrent poppers are not left sleeping on a non-empty
	// queue.
	wake chan struct{}
}

func New[T any]() *Queue[T] {
	return &Queue[T]{
		wake: make(chan struct{}, 1),
	}
}

func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.signal()
}

// TryPop removes and returns the oldest entry without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]

	if len(q.items) > 0 {
		q.signal()
	}

	return item, true
}

// Pop removes and returns the oldest entry, waiting up to timeout for one
// to arrive. Returns false when the timeout elapses with the queue empty.
func (q *Queue[T]) Pop(timeout time.Duration) (T, bool) {
	deadline := time.Now().Add(timeout)

	for {
		if item, ok := q.TryPop(); ok {
			return item, true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			var zero T
			return zero, false
		}

		timer := time.NewTimer(remaining)
		select {
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
			// one last check in case a push raced the timer
			return q.TryPop()
		}
	}
}

// Drain removes and returns everything currently queued.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := q.items
	q.items = nil
	return drained
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

func (q *Queue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
