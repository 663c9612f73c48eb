// Package queue provides a goroutine-safe FIFO.
package queue

import "sync"

// FIFO is a generic, thread-safe first-in first-out queue. The lock is held
// for a single operation only.
type FIFO[T any] struct {
	mu    sync.Mutex
	items []T
}

// New creates an empty FIFO.
func New[T any]() *FIFO[T] {
	return &FIFO[T]{}
}

// Push appends items in order.
func (q *FIFO[T]) Push(items ...T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
}

// Pop removes and returns the oldest item. Returns false if the queue is
// empty.
func (q *FIFO[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Drain removes and returns every queued item, oldest first.
func (q *FIFO[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Len returns the number of queued items.
func (q *FIFO[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
