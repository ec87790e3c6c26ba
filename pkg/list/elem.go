package list

import "sync"

// Elem is a list node. Its value is guarded by the node's own mutex; the
// links are owned by the list.
type Elem[V any] struct {
	mu         sync.Mutex
	value      V
	prev, next *Elem[V]
	list       *List[V]
}

func NewElem[V any](v V) *Elem[V] {
	return &Elem[V]{value: v}
}

// Next returns the next element or nil.
func (e *Elem[V]) Next() *Elem[V] {
	return e.next
}

// Prev returns the previous element or nil.
func (e *Elem[V]) Prev() *Elem[V] {
	return e.prev
}

// Lock blocks until e's value is available and returns a guard holding it.
func (e *Elem[V]) Lock() *Guard[V] {
	e.mu.Lock()
	return &Guard[V]{e: e}
}

func (e *Elem[V]) Load() V {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

func (e *Elem[V]) Store(v V) {
	e.mu.Lock()
	e.value = v
	e.mu.Unlock()
}

// Update calls f with a pointer to the value while holding e's lock.
func (e *Elem[V]) Update(f func(v *V)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f(&e.value)
}

// Guard grants exclusive access to one element's value until Unlock.
// It refers to the element, not the list, so it stays usable after the
// element is removed.
type Guard[V any] struct {
	e        *Elem[V]
	unlocked bool
}

func (g *Guard[V]) Get() V {
	g.mustHold()
	return g.e.value
}

func (g *Guard[V]) Set(v V) {
	g.mustHold()
	g.e.value = v
}

// Ptr returns a pointer to the guarded value. It must not be used after
// Unlock.
func (g *Guard[V]) Ptr() *V {
	g.mustHold()
	return &g.e.value
}

// Unlock releases the element. Calling it more than once is a no-op.
func (g *Guard[V]) Unlock() {
	if g.unlocked {
		return
	}
	g.unlocked = true
	g.e.mu.Unlock()
}

func (g *Guard[V]) mustHold() {
	if g.unlocked {
		panic("guard used after unlock")
	}
}
