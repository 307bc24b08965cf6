// Package queue holds the FIFO of pending units and the single worker that
// processes them.
package queue

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Unit is one queued batch: a project and the clips to run.
type Unit struct {
	ID         string
	ProjectID  string
	ClipIDs    []string
	EnqueuedAt time.Time

	// epoch is the stop generation the unit was enqueued in.
	epoch uint64
}

// Queue is an unbounded multi-producer FIFO with a single blocking consumer.
type Queue struct {
	mu    sync.Mutex
	items []Unit
	wake  chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Push appends a unit. It never blocks.
func (q *Queue) Push(u Unit) {
	u.ClipIDs = slices.Clone(u.ClipIDs)
	q.mu.Lock()
	q.items = append(q.items, u)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pop removes the oldest unit, blocking while the queue is empty.
func (q *Queue) Pop(ctx context.Context) (Unit, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			u := q.items[0]
			q.items[0] = Unit{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return u, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Unit{}, ctx.Err()
		case <-q.wake:
		}
	}
}

// Drain removes and returns every queued unit.
func (q *Queue) Drain() []Unit {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.items
	q.items = nil
	return drained
}

// Len returns the number of queued units.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
