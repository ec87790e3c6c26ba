// Package queue provides a blocking FIFO on top of list.List for
// producer/consumer use.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pmkol/sharedlist/pkg/list"
	"github.com/pmkol/sharedlist/pkg/pool"
)

var (
	ErrClosed  = errors.New("queue closed")
	ErrFull    = errors.New("queue full")
	ErrTimeout = errors.New("queue pop timeout")
)

type Queue[V any] struct {
	maxLen int

	m       sync.Mutex
	l       *list.List[V]
	waiters int
	wakeup  chan struct{} // closed and replaced when an item arrives and someone waits
	closed  bool
	closedC chan struct{}
}

// New returns an empty queue. maxLen <= 0 means unbounded.
func New[V any](maxLen int) *Queue[V] {
	return &Queue[V]{
		maxLen:  maxLen,
		l:       list.New[V](),
		wakeup:  make(chan struct{}),
		closedC: make(chan struct{}),
	}
}

// Push appends v to the back.
func (q *Queue[V]) Push(v V) error {
	return q.push(v, false)
}

// PushFront puts v at the front, ahead of everything already queued.
func (q *Queue[V]) PushFront(v V) error {
	return q.push(v, true)
}

func (q *Queue[V]) push(v V, front bool) error {
	q.m.Lock()
	defer q.m.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.maxLen > 0 && q.l.Len() >= q.maxLen {
		return ErrFull
	}

	if front {
		q.l.PushFront(v)
	} else {
		q.l.PushBack(v)
	}

	if q.waiters > 0 {
		close(q.wakeup)
		q.wakeup = make(chan struct{})
	}
	return nil
}

// TryPop removes the front value without blocking.
func (q *Queue[V]) TryPop() (v V, ok bool) {
	q.m.Lock()
	e := q.l.FrontElem()
	if e != nil {
		q.l.Detach(e)
	}
	q.m.Unlock()

	if e == nil {
		return v, false
	}
	return e.Load(), true
}

// TryPopBack removes the back value without blocking.
func (q *Queue[V]) TryPopBack() (v V, ok bool) {
	q.m.Lock()
	e := q.l.BackElem()
	if e != nil {
		q.l.Detach(e)
	}
	q.m.Unlock()

	if e == nil {
		return v, false
	}
	return e.Load(), true
}

// Pop blocks until a value is available, ctx is done, or the queue is
// closed and empty. Values queued before Close are still delivered.
func (q *Queue[V]) Pop(ctx context.Context) (V, error) {
	return popWait(q, ctx.Done(), func() error { return ctx.Err() })
}

// PopTimeout is like Pop with a deadline of d. It returns ErrTimeout
// when d elapses first.
func (q *Queue[V]) PopTimeout(d time.Duration) (V, error) {
	if d <= 0 {
		if v, ok := q.TryPop(); ok {
			return v, nil
		}
		var zero V
		if q.Closed() {
			return zero, ErrClosed
		}
		return zero, ErrTimeout
	}

	t := pool.GetTimer(d)
	defer pool.ReleaseTimer(t)
	return popWait(q, t.C, func() error { return ErrTimeout })
}

// popWait blocks on done, which is either a context's Done channel or a
// timer channel.
func popWait[V, D any](q *Queue[V], done <-chan D, doneErr func() error) (v V, err error) {
	for {
		q.m.Lock()
		e := q.l.FrontElem()
		if e != nil {
			q.l.Detach(e)
			q.m.Unlock()
			return e.Load(), nil
		}
		if q.closed {
			q.m.Unlock()
			return v, ErrClosed
		}
		q.waiters++
		wakeup := q.wakeup
		q.m.Unlock()

		select {
		case <-wakeup:
		case <-q.closedC:
		case <-done:
			q.m.Lock()
			q.waiters--
			q.m.Unlock()
			return v, doneErr()
		}

		q.m.Lock()
		q.waiters--
		q.m.Unlock()
	}
}

// Peek returns a copy of the front value without removing it.
func (q *Queue[V]) Peek() (v V, ok bool) {
	q.m.Lock()
	e := q.l.FrontElem()
	q.m.Unlock()
	if e == nil {
		return v, false
	}
	return e.Load(), true
}

// PeekBack returns a copy of the back value without removing it.
func (q *Queue[V]) PeekBack() (v V, ok bool) {
	q.m.Lock()
	e := q.l.BackElem()
	q.m.Unlock()
	if e == nil {
		return v, false
	}
	return e.Load(), true
}

func (q *Queue[V]) Len() int {
	q.m.Lock()
	defer q.m.Unlock()
	return q.l.Len()
}

// Snapshot returns the queued values from front to back.
func (q *Queue[V]) Snapshot() []V {
	q.m.Lock()
	defer q.m.Unlock()
	return q.l.Slice()
}

func (q *Queue[V]) RemoveFunc(f func(v V) bool) int {
	q.m.Lock()
	defer q.m.Unlock()
	return q.l.RemoveFunc(f)
}

// Close rejects further pushes and wakes every blocked Pop.
// It is safe to call more than once.
func (q *Queue[V]) Close() error {
	q.m.Lock()
	defer q.m.Unlock()
	if !q.closed {
		q.closed = true
		close(q.closedC)
	}
	return nil
}

func (q *Queue[V]) Closed() bool {
	q.m.Lock()
	defer q.m.Unlock()
	return q.closed
}
