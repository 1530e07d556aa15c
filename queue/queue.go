package queue

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrFull is returned by TryPut when the queue is at capacity.
var ErrFull = errors.New("queue: full")

// ErrClosed is returned once the queue has been closed and drained.
var ErrClosed = errors.New("queue: closed")

// Queue is a bounded generic FIFO used to hand items between concurrency
// domains. Producers never block beyond capacity (TryPut fails fast) and
// consumers can always be unblocked through their context.
type Queue[T any] struct {
	ch        chan T
	closeOnce sync.Once
	closed    chan struct{}
}

// New creates and returns a queue with the given capacity.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		ch:     make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

// TryPut adds an element to the end of the queue without blocking.
// It returns ErrFull when the queue is at capacity and ErrClosed after Close.
func (q *Queue[T]) TryPut(item T) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrFull
	}
}

// Put adds an element, blocking until there is room, the queue is closed,
// or the context is cancelled.
func (q *Queue[T]) Put(ctx context.Context, item T) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- item:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get removes and returns the front element. It blocks until an element is
// available, the context is cancelled, or the queue is closed and empty.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	var zero T
	select {
	case item := <-q.ch:
		return item, nil
	default:
	}
	select {
	case item := <-q.ch:
		return item, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-q.closed:
		// Elements enqueued before Close stay readable.
		select {
		case item := <-q.ch:
			return item, nil
		default:
			return zero, ErrClosed
		}
	}
}

// Len returns the number of buffered elements.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Close marks the queue closed. It is idempotent. Buffered elements remain
// readable; blocked consumers are released once the buffer is empty.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
}
