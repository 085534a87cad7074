// Package queue provides the bounded blocking FIFO that hands segment content
// from a fetch loop to the goroutine delivering it to a player.
package queue

import (
	"context"
	"errors"
	"sync"

	"dashabr/internal/models"
)

// ErrClosed is returned by Put after Close, and by Take once a closed queue is drained.
var ErrClosed = errors.New("queue: closed")

// Queue is a bounded FIFO for one producer and one consumer. A full queue
// blocks Put, which is what throttles the producer to the consumer's pace.
type Queue struct {
	items     chan models.SegmentContent
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a queue holding at most capacity items. Capacity below 1 is raised to 1.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		items: make(chan models.SegmentContent, capacity),
		done:  make(chan struct{}),
	}
}

// Put appends item, blocking while the queue is full. It returns ctx.Err()
// if ctx ends first, in which case nothing was enqueued.
func (q *Queue) Put(ctx context.Context, item models.SegmentContent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	}
}

// Take removes the oldest item, blocking while the queue is empty. After
// Close it keeps returning buffered items and then ErrClosed.
func (q *Queue) Take(ctx context.Context) (models.SegmentContent, error) {
	select {
	case item := <-q.items:
		return item, nil
	default:
	}

	select {
	case item := <-q.items:
		return item, nil
	case <-ctx.Done():
		return models.SegmentContent{}, ctx.Err()
	case <-q.done:
		// a Put racing with Close may still have landed
		select {
		case item := <-q.items:
			return item, nil
		default:
			return models.SegmentContent{}, ErrClosed
		}
	}
}

// Close stops further Puts and wakes a blocked producer or consumer. It is
// safe to call more than once and from either side.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Done is closed once Close has been called.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Len returns the number of buffered items.
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.items)
}
