// SPDX-License-Identifier: GPL-3.0-or-later

// Package fifo implements a goroutine safe, unbounded FIFO queue
// with non-blocking push and pop and a bounded blocking wait.
//
// The queue is the building block for the instruction queue, which
// the test goroutine fills while the executor drains it, and for the
// received-messages and errors sinks, which flow the other way.
package fifo

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eapache/queue"
)

// ErrEmpty is returned by [*Queue.Wait] when the wait window
// elapses and the queue is still empty.
var ErrEmpty = errors.New("fifo: queue is empty")

// Queue is a goroutine safe FIFO queue.
//
// Construct using [New].
type Queue[T any] struct {
	// items is the ring buffer holding the queued items.
	items *queue.Queue

	// mu provides mutual exclusion.
	mu sync.Mutex

	// notify has a single slot and wakes up a waiter.
	notify chan struct{}
}

// New constructs a new empty [*Queue].
func New[T any]() *Queue[T] {
	return &Queue[T]{
		items:  queue.New(),
		mu:     sync.Mutex{},
		notify: make(chan struct{}, 1),
	}
}

// Push appends the given values to the back of the queue preserving
// their order. This method never blocks waiting for a consumer.
func (q *Queue[T]) Push(values ...T) {
	if len(values) <= 0 {
		return
	}
	q.mu.Lock()
	for _, v := range values {
		q.items.Add(v)
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest value. The boolean is false
// when the queue is empty. This method never blocks.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// popLocked is like Pop but assumes the caller holds the mutex.
func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if q.items.Length() <= 0 {
		return zero, false
	}
	v := q.items.Peek().(T)
	q.items.Remove()
	return v, true
}

// Wait is like [*Queue.Pop] but, when the queue is empty, blocks until
// a value is pushed, the timeout expires, or the context is done.
//
// The following errors are possible:
//
// 1. nil when a value has been dequeued;
//
// 2. [ErrEmpty] when the timeout expired first;
//
// 3. the context error when the context is done.
//
// A zero or negative timeout makes Wait equivalent to Pop except
// that it returns [ErrEmpty] rather than false.
func (q *Queue[T]) Wait(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	if v, ok := q.Pop(); ok {
		return v, nil
	}
	if timeout <= 0 {
		return zero, ErrEmpty
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.notify:
			if v, ok := q.Pop(); ok {
				q.rearm()
				return v, nil
			}

		case <-timer.C:
			// A push may have raced with the timer.
			if v, ok := q.Pop(); ok {
				return v, nil
			}
			return zero, ErrEmpty

		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// rearm refills the notification slot when values are still queued
// so that a concurrent waiter does not miss them.
func (q *Queue[T]) rearm() {
	if q.Len() <= 0 {
		return
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of queued values.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Clear drops all the queued values and returns how many were dropped.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	count := q.items.Length()
	q.items = queue.New()
	return count
}
