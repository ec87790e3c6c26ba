package lru

import (
	"fmt"

	"github.com/pmkol/sharedlist/pkg/list"
)

// LRU is not safe for concurrent use. See concurrent_lru.
type LRU[K comparable, V any] struct {
	maxSize int
	onEvict func(key K, v V)

	l *list.List[KV[K, V]]
	m map[K]*list.Elem[KV[K, V]]
}

type KV[K comparable, V any] struct {
	key K
	v   V
}

func NewLRU[K comparable, V any](maxSize int, onEvict func(key K, v V)) *LRU[K, V] {
	if maxSize <= 0 {
		panic(fmt.Sprintf("LRU: invalid max size: %d", maxSize))
	}

	return &LRU[K, V]{
		maxSize: maxSize,
		onEvict: onEvict,
		l:       list.New[KV[K, V]](),
		m:       make(map[K]*list.Elem[KV[K, V]], maxSize),
	}
}

func (q *LRU[K, V]) Add(key K, v V) {
	if e, ok := q.m[key]; ok {
		e.Update(func(kv *KV[K, V]) { kv.v = v })
		q.l.MoveToBack(e)
		return
	}

	// Full: reuse the oldest node in place instead of allocating.
	if q.l.Len() >= q.maxSize {
		e := q.l.FrontElem()
		g := e.Lock()
		old := g.Ptr()
		oldKey, oldV := old.key, old.v
		old.key, old.v = key, v
		g.Unlock()

		delete(q.m, oldKey)
		if q.onEvict != nil {
			q.onEvict(oldKey, oldV)
		}

		q.m[key] = e
		q.l.MoveToBack(e)
		return
	}

	q.m[key] = q.l.PushBack(KV[K, V]{key: key, v: v})
}

func (q *LRU[K, V]) Get(key K) (v V, ok bool) {
	e, ok := q.m[key]
	if !ok {
		return
	}
	q.l.MoveToBack(e)
	return e.Load().v, true
}

func (q *LRU[K, V]) Del(key K) {
	e := q.m[key]
	if e == nil {
		return
	}
	q.delElem(e)
}

func (q *LRU[K, V]) PopOldest() (key K, v V, ok bool) {
	e := q.l.FrontElem()
	if e == nil {
		return
	}

	kv := q.l.Remove(e)
	delete(q.m, kv.key)
	return kv.key, kv.v, true
}

// Clean removes every entry for which f returns true.
func (q *LRU[K, V]) Clean(f func(key K, v V) bool) (removed int) {
	e := q.l.FrontElem()
	for e != nil {
		next := e.Next()
		kv := e.Load()

		if f(kv.key, kv.v) {
			q.delElem(e)
			removed++
		}

		e = next
	}
	return
}

func (q *LRU[K, V]) Len() int {
	return q.l.Len()
}

func (q *LRU[K, V]) delElem(e *list.Elem[KV[K, V]]) {
	kv := q.l.Remove(e)
	delete(q.m, kv.key)

	if q.onEvict != nil {
		q.onEvict(kv.key, kv.v)
	}
}
