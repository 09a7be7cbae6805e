// Package queue provides the bounded queues that couple the collector, the
// engine and the presentation layer. Senders block when a queue is full so
// backpressure propagates toward the portal polling rate instead of
// dropping data.
package queue

import (
	"context"
	"sync"
)

// Bounded is a bounded multi-producer/multi-consumer queue of events.
type Bounded[T any] struct {
	ch chan T

	mu     sync.Mutex
	closed bool

	// Stats
	totalSent     int64
	totalReceived int64
}

// NewBounded creates a queue with the given capacity (minimum 1).
func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[T]{ch: make(chan T, capacity)}
}

// Send enqueues an item, blocking while the queue is full. Returns the
// context error on cancellation and false (nil error) if the queue was
// closed before the send.
func (q *Bounded[T]) Send(ctx context.Context, item T) (bool, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, nil
	}
	q.mu.Unlock()

	select {
	case q.ch <- item:
		q.mu.Lock()
		q.totalSent++
		q.mu.Unlock()
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Receive dequeues one item, blocking while the queue is empty. The bool is
// false when the queue is closed and drained, or when ctx expires.
func (q *Bounded[T]) Receive(ctx context.Context) (T, bool) {
	var zero T
	select {
	case item, ok := <-q.ch:
		if !ok {
			return zero, false
		}
		q.mu.Lock()
		q.totalReceived++
		q.mu.Unlock()
		return item, true
	case <-ctx.Done():
		return zero, false
	}
}

// TryReceive dequeues without blocking.
func (q *Bounded[T]) TryReceive() (T, bool) {
	var zero T
	select {
	case item, ok := <-q.ch:
		if !ok {
			return zero, false
		}
		q.mu.Lock()
		q.totalReceived++
		q.mu.Unlock()
		return item, true
	default:
		return zero, false
	}
}

// Close closes the queue. Pending items remain receivable; subsequent sends
// report closed.
func (q *Bounded[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Len returns the number of buffered items.
func (q *Bounded[T]) Len() int { return len(q.ch) }

// Stats describes queue traffic.
type Stats struct {
	Buffered      int
	TotalSent     int64
	TotalReceived int64
}

// Stats returns current traffic counters.
func (q *Bounded[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Buffered:      len(q.ch),
		TotalSent:     q.totalSent,
		TotalReceived: q.totalReceived,
	}
}
