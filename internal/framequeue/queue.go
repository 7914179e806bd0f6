// Package framequeue orders frames from any number of producers for a single
// consumer.
//
// The queue is unbounded. A consumer that cannot keep up makes memory grow;
// producers are never slowed down or refused.
package framequeue

import (
	"context"
	"errors"
	"sync"

	"github.com/eapache/queue"

	"github.com/gaspardpetit/motionstream/internal/frame"
)

// ErrClosed is returned by DrainAll once the queue has been closed and emptied.
var ErrClosed = errors.New("framequeue: closed")

// Queue is a multi-producer, single-consumer FIFO of frames.
type Queue struct {
	mu     sync.Mutex
	buf    *queue.Queue
	closed bool
	ready  chan struct{}
	done   chan struct{}
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{
		buf:   queue.New(),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Enqueue appends f and wakes the waiting consumer. Frames enqueued after
// Close are dropped and Enqueue reports false.
func (q *Queue) Enqueue(f frame.Frame) bool {
	if f.Payload == nil {
		panic("framequeue: enqueue of frame without payload")
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.buf.Add(f)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// DrainAll removes and returns every queued frame in enqueue order. When the
// queue is empty it blocks until a frame arrives, ctx is done or the queue is
// closed. Frames still queued at Close are returned before ErrClosed.
func (q *Queue) DrainAll(ctx context.Context) ([]frame.Frame, error) {
	for {
		q.mu.Lock()
		if n := q.buf.Length(); n > 0 {
			out := make([]frame.Frame, n)
			for i := range out {
				out[i] = q.buf.Remove().(frame.Frame)
			}
			q.mu.Unlock()
			return out, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.Length()
}

// Close stops accepting frames and releases a blocked consumer. It is safe to
// call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
