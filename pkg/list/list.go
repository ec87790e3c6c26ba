// Package list implements a doubly linked list whose elements each carry
// their own mutex. Structural operations (push, pop, remove, move) are not
// synchronized: callers serialize them, or use sync_list. Access to an
// element's value goes through that element's lock, so values of different
// elements can be read and written concurrently.
package list

import (
	"iter"
)

type List[V any] struct {
	front, back *Elem[V]
	length      int
}

func New[V any]() *List[V] {
	return &List[V]{}
}

// From returns a list holding vs in order.
func From[V any](vs ...V) *List[V] {
	l := New[V]()
	for _, v := range vs {
		l.PushBack(v)
	}
	return l
}

// FromSeq returns a list holding the values of seq in order.
func FromSeq[V any](seq iter.Seq[V]) *List[V] {
	l := New[V]()
	for v := range seq {
		l.PushBack(v)
	}
	return l
}

func (l *List[V]) Len() int {
	return l.length
}

func (l *List[V]) IsEmpty() bool {
	return l.length == 0
}

// FrontElem returns the first element without locking it, or nil.
func (l *List[V]) FrontElem() *Elem[V] {
	return l.front
}

// BackElem returns the last element without locking it, or nil.
func (l *List[V]) BackElem() *Elem[V] {
	return l.back
}

// Front locks the first element and returns a guard over its value.
// It blocks while another guard on the same element is held.
func (l *List[V]) Front() (*Guard[V], bool) {
	e := l.front
	if e == nil {
		return nil, false
	}
	return e.Lock(), true
}

// Back locks the last element and returns a guard over its value.
func (l *List[V]) Back() (*Guard[V], bool) {
	e := l.back
	if e == nil {
		return nil, false
	}
	return e.Lock(), true
}

func (l *List[V]) PushFront(v V) *Elem[V] {
	return l.pushFrontElem(NewElem(v))
}

func (l *List[V]) PushBack(v V) *Elem[V] {
	return l.pushBackElem(NewElem(v))
}

func (l *List[V]) pushFrontElem(e *Elem[V]) *Elem[V] {
	mustBeFreeElem(e)
	l.length++
	e.list = l

	if l.front == nil {
		l.front = e
		l.back = e
		return e
	}

	e.next = l.front
	l.front.prev = e
	l.front = e
	return e
}

func (l *List[V]) pushBackElem(e *Elem[V]) *Elem[V] {
	mustBeFreeElem(e)
	l.length++
	e.list = l

	if l.back == nil {
		l.front = e
		l.back = e
		return e
	}

	e.prev = l.back
	l.back.next = e
	l.back = e
	return e
}

// PopFront removes the first element and returns its value.
// ok is false if the list is empty.
// PopFront waits for any guard held on that element to be released, so the
// caller must not hold one itself.
func (l *List[V]) PopFront() (v V, ok bool) {
	e := l.front
	if e == nil {
		return v, false
	}
	return l.extract(e), true
}

// PopBack removes the last element and returns its value.
func (l *List[V]) PopBack() (v V, ok bool) {
	e := l.back
	if e == nil {
		return v, false
	}
	return l.extract(e), true
}

// Remove unlinks e in O(1) and returns its value.
// It panics if e does not belong to l.
func (l *List[V]) Remove(e *Elem[V]) V {
	return l.extract(e)
}

// MoveToFront moves an existing element to the front in O(1).
// Does not change length.
func (l *List[V]) MoveToFront(e *Elem[V]) {
	if e.list != l {
		panic("elem does not belong to this list")
	}

	if l.front == e {
		return
	}

	// e is not the front, so e.prev is non-nil.
	p, n := e.prev, e.next
	p.next = n
	if n != nil {
		n.prev = p
	} else {
		l.back = p
	}

	e.prev = nil
	e.next = l.front
	l.front.prev = e
	l.front = e
}

// MoveToBack moves an existing element to the back in O(1).
// Does not change length.
func (l *List[V]) MoveToBack(e *Elem[V]) {
	if e.list != l {
		panic("elem does not belong to this list")
	}

	if l.back == e {
		return
	}

	p, n := e.prev, e.next

	// detach
	if p != nil {
		p.next = n
	} else {
		l.front = n
	}

	// e is not the back, so e.next is non-nil.
	n.prev = p

	// attach at back
	e.prev = l.back
	e.next = nil

	l.back.next = e
	l.back = e
}

// RemoveFunc removes every element whose value satisfies f and returns the
// number removed.
func (l *List[V]) RemoveFunc(f func(v V) bool) (removed int) {
	e := l.front
	for e != nil {
		next := e.next
		if f(e.Load()) {
			l.extract(e)
			removed++
		}
		e = next
	}
	return
}

// Clear pops every element from the front. It runs in a loop rather than
// relying on a chain of nested releases, so arbitrarily long lists are fine.
func (l *List[V]) Clear() {
	for l.front != nil {
		l.extract(l.front)
	}
}

// Slice returns the values from front to back.
func (l *List[V]) Slice() []V {
	s := make([]V, 0, l.length)
	for e := l.front; e != nil; e = e.next {
		s = append(s, e.Load())
	}
	return s
}

// Contains reports whether e is linked into l.
func (l *List[V]) Contains(e *Elem[V]) bool {
	return e != nil && e.list == l
}

// Elems returns the elements from front to back without locking them.
func (l *List[V]) Elems() []*Elem[V] {
	s := make([]*Elem[V], 0, l.length)
	for e := l.front; e != nil; e = e.next {
		s = append(s, e)
	}
	return s
}

// Detach unlinks e without reading its value, so it never waits on e's
// lock. The caller may read the value later through e.
func (l *List[V]) Detach(e *Elem[V]) {
	if e.list != l {
		panic("elem does not belong to this list")
	}

	l.length--

	p, n := e.prev, e.next

	if p != nil {
		p.next = n
	} else {
		l.front = n
	}

	if n != nil {
		n.prev = p
	} else {
		l.back = p
	}

	e.prev = nil
	e.next = nil
	e.list = nil

	mustBeUnreferenced(l, e, p, n)
}

func (l *List[V]) extract(e *Elem[V]) V {
	l.Detach(e)
	e.mu.Lock()
	v := e.value
	e.mu.Unlock()
	return v
}

func mustBeFreeElem[V any](e *Elem[V]) {
	if e.prev != nil || e.next != nil || e.list != nil {
		panic("element is in use")
	}
}

// mustBeUnreferenced panics if anything still in l points at the removed e.
func mustBeUnreferenced[V any](l *List[V], e, p, n *Elem[V]) {
	if l.front == e || l.back == e || (p != nil && p.next == e) || (n != nil && n.prev == e) {
		panic("removed element is still linked")
	}
	if (l.front == nil) != (l.back == nil) || (l.front == nil) != (l.length == 0) {
		panic("list ends out of sync with length")
	}
}
