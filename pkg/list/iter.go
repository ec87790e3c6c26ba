package list

import "iter"

// Drain consumes a list from either end. Because every step pops, mixing
// Next and NextBack never yields an element twice.
type Drain[V any] struct {
	l *List[V]
}

func (l *List[V]) Drain() *Drain[V] {
	return &Drain[V]{l: l}
}

func (d *Drain[V]) Next() (V, bool) {
	return d.l.PopFront()
}

func (d *Drain[V]) NextBack() (V, bool) {
	return d.l.PopBack()
}

// Len returns the number of values not yet consumed.
func (d *Drain[V]) Len() int {
	return d.l.Len()
}

// Values drains the list from front to back.
func (l *List[V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		for {
			v, ok := l.PopFront()
			if !ok || !yield(v) {
				return
			}
		}
	}
}

// Backward drains the list from back to front.
func (l *List[V]) Backward() iter.Seq[V] {
	return func(yield func(V) bool) {
		for {
			v, ok := l.PopBack()
			if !ok || !yield(v) {
				return
			}
		}
	}
}

// All reads values from front to back without removing them. The element
// being yielded may be removed by the loop body; other structural changes
// during iteration are not allowed.
func (l *List[V]) All() iter.Seq[V] {
	return func(yield func(V) bool) {
		e := l.front
		for e != nil {
			next := e.next
			if !yield(e.Load()) {
				return
			}
			e = next
		}
	}
}

// Reversed reads values from back to front without removing them.
func (l *List[V]) Reversed() iter.Seq[V] {
	return func(yield func(V) bool) {
		e := l.back
		for e != nil {
			prev := e.prev
			if !yield(e.Load()) {
				return
			}
			e = prev
		}
	}
}

// Walk calls f on each value from front to back with that element locked.
// f may modify the value in place. Returning false stops the walk.
func (l *List[V]) Walk(f func(v *V) bool) {
	for e := l.front; e != nil; e = e.next {
		if !e.apply(f) {
			return
		}
	}
}

func (e *Elem[V]) apply(f func(v *V) bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return f(&e.value)
}
