package stream

import (
	"errors"
	"io"
	"sync"

	"github.com/gammazero/deque"
)

var ErrQueueClosed = errors.New("queue closed")

var _ Stream[any] = (*Queue[any])(nil)

// Queue is an unbounded FIFO that implements Stream[T].
//
// Stream callbacks must return quickly, as the stream cannot read the
// next chunk while one is running. Pushing onto a Queue never blocks, so
// the slow part of processing can happen on a separate goroutine calling
// Next.
type Queue[T any] struct {
	lock   sync.Mutex
	cond   *sync.Cond
	items  *deque.Deque[T]
	closed bool
}

func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		items: deque.New[T](),
	}
	q.cond = sync.NewCond(&q.lock)
	return q
}

// Push adds item to the back of the queue.
func (q *Queue[T]) Push(item T) error {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.items.PushBack(item)
	q.cond.Signal()
	return nil
}

// Next blocks until an item is available. Once the queue has been closed
// and drained it returns io.EOF.
func (q *Queue[T]) Next() (T, error) {
	q.lock.Lock()
	defer q.lock.Unlock()

	for q.items.Len() == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.items.Len() == 0 {
		var t T
		return t, io.EOF
	}

	return q.items.PopFront(), nil
}

func (q *Queue[T]) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.items.Len()
}

// Close stops the queue accepting new items. Items already queued are
// still returned by Next.
func (q *Queue[T]) Close() {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}
