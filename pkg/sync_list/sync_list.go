package sync_list

import (
	"sync"

	"github.com/pmkol/sharedlist/pkg/list"
)

// SyncList is a list.List whose structural operations are serialized by a
// single mutex. Element locks are never taken while that mutex is held, so
// a held guard only delays operations that read its own element.
type SyncList[V any] struct {
	sync.Mutex
	l *list.List[V]
}

func New[V any]() *SyncList[V] {
	return &SyncList[V]{l: list.New[V]()}
}

func From[V any](vs ...V) *SyncList[V] {
	return &SyncList[V]{l: list.From(vs...)}
}

func (c *SyncList[V]) PushFront(v V) {
	c.Lock()
	c.l.PushFront(v)
	c.Unlock()
}

func (c *SyncList[V]) PushBack(v V) {
	c.Lock()
	c.l.PushBack(v)
	c.Unlock()
}

func (c *SyncList[V]) PopFront() (v V, ok bool) {
	c.Lock()
	e := c.l.FrontElem()
	if e != nil {
		c.l.Detach(e)
	}
	c.Unlock()
	if e == nil {
		return v, false
	}
	// Read outside the list lock: a guard holder on e only delays us.
	return e.Load(), true
}

func (c *SyncList[V]) PopBack() (v V, ok bool) {
	c.Lock()
	e := c.l.BackElem()
	if e != nil {
		c.l.Detach(e)
	}
	c.Unlock()
	if e == nil {
		return v, false
	}
	return e.Load(), true
}

// Front locks the first element and returns a guard over its value.
// The element is locked after the list lock is released, so a concurrent
// pop may remove it first. The guard then holds a detached element and
// a Set through it is not visible in the list.
func (c *SyncList[V]) Front() (*list.Guard[V], bool) {
	c.Lock()
	e := c.l.FrontElem()
	c.Unlock()
	if e == nil {
		return nil, false
	}
	return e.Lock(), true
}

// Back is like Front for the last element, with the same caveat about
// concurrent pops.
func (c *SyncList[V]) Back() (*list.Guard[V], bool) {
	c.Lock()
	e := c.l.BackElem()
	c.Unlock()
	if e == nil {
		return nil, false
	}
	return e.Lock(), true
}

func (c *SyncList[V]) Len() int {
	c.Lock()
	n := c.l.Len()
	c.Unlock()
	return n
}

func (c *SyncList[V]) IsEmpty() bool {
	return c.Len() == 0
}

// RemoveFunc removes every element whose value satisfies f and returns the
// number removed. Values are tested outside the list lock. Elements popped
// or removed concurrently are skipped.
func (c *SyncList[V]) RemoveFunc(f func(v V) bool) (removed int) {
	c.Lock()
	es := c.l.Elems()
	c.Unlock()

	matched := es[:0]
	for _, e := range es {
		if f(e.Load()) {
			matched = append(matched, e)
		}
	}
	if len(matched) == 0 {
		return 0
	}

	c.Lock()
	for _, e := range matched {
		if c.l.Contains(e) {
			c.l.Detach(e)
			removed++
		}
	}
	c.Unlock()
	return removed
}

// Slice returns the values from front to back as of the call. Values are
// read after the list lock is released.
func (c *SyncList[V]) Slice() []V {
	c.Lock()
	es := c.l.Elems()
	c.Unlock()

	s := make([]V, 0, len(es))
	for _, e := range es {
		s = append(s, e.Load())
	}
	return s
}

// Drain removes every value and returns them from front to back.
func (c *SyncList[V]) Drain() []V {
	s := make([]V, 0, c.Len())
	for v := range c.swap().Values() {
		s = append(s, v)
	}
	return s
}

// Clear removes every value. The old elements are released outside the
// list lock.
func (c *SyncList[V]) Clear() {
	c.swap().Clear()
}

func (c *SyncList[V]) swap() *list.List[V] {
	c.Lock()
	l := c.l
	c.l = list.New[V]()
	c.Unlock()
	return l
}
