// Package gqueue provides an unbounded FIFO queue drained through a channel.
//
// Producers never block on Push,
// which lets in-process relays forward in both directions without deadlock.
package gqueue

import (
	"context"
	"sync"
)

type Queue[T any] struct {
	mu    sync.Mutex
	items []T

	notify chan struct{}
	out    chan T

	done chan struct{}
}

// New returns a queue whose background goroutine runs until ctx is canceled.
func New[T any](ctx context.Context) *Queue[T] {
	q := &Queue[T]{
		notify: make(chan struct{}, 1),
		out:    make(chan T),
		done:   make(chan struct{}),
	}
	go q.pump(ctx)
	return q
}

// Push appends v to the queue. It never blocks.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Out returns the channel that yields pushed values in order.
func (q *Queue[T]) Out() <-chan T {
	return q.out
}

// Len reports the number of values not yet received from Out.
// The value currently offered on Out is not counted.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wait blocks until the background goroutine has stopped.
func (q *Queue[T]) Wait() {
	<-q.done
}

func (q *Queue[T]) pump(ctx context.Context) {
	defer close(q.done)

	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-q.notify:
				continue
			}
		}
		next := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case q.out <- next:
		}
	}
}
