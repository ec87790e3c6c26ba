package list

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkLinks walks the chain in both directions and verifies it agrees
// with the recorded ends and length.
func checkLinks[V any](t *testing.T, l *List[V]) {
	t.Helper()

	if l.length == 0 {
		require.Nil(t, l.front)
		require.Nil(t, l.back)
		return
	}
	require.NotNil(t, l.front)
	require.NotNil(t, l.back)
	require.Nil(t, l.front.prev)
	require.Nil(t, l.back.next)

	n := 0
	var last *Elem[V]
	for e := l.front; e != nil; e = e.next {
		require.Same(t, l, e.list)
		if e.next != nil {
			require.Same(t, e, e.next.prev)
		}
		last = e
		n++
	}
	require.Equal(t, l.length, n)
	require.Same(t, l.back, last)

	n = 0
	for e := l.back; e != nil; e = e.prev {
		n++
	}
	require.Equal(t, l.length, n)
}

func TestList_Empty(t *testing.T) {
	l := New[int]()
	assert.Equal(t, 0, l.Len())
	assert.True(t, l.IsEmpty())

	_, ok := l.PopFront()
	assert.False(t, ok)
	_, ok = l.PopBack()
	assert.False(t, ok)

	g, ok := l.Front()
	assert.False(t, ok)
	assert.Nil(t, g)
	g, ok = l.Back()
	assert.False(t, ok)
	assert.Nil(t, g)

	var zero List[int]
	zero.PushBack(1)
	assert.Equal(t, 1, zero.Len())
	checkLinks(t, &zero)
}

func TestList_PushBackPopFront(t *testing.T) {
	l := New[string]()
	l.PushBack("a")
	l.PushBack("b")
	l.PushBack("c")
	checkLinks(t, l)

	for _, want := range []string{"a", "b", "c"} {
		v, ok := l.PopFront()
		require.True(t, ok)
		require.Equal(t, want, v)
		checkLinks(t, l)
	}
	_, ok := l.PopFront()
	require.False(t, ok)
}

func TestList_PushFrontPopFront(t *testing.T) {
	l := New[string]()
	l.PushFront("a")
	l.PushFront("b")
	l.PushFront("c")
	checkLinks(t, l)

	assert.Equal(t, []string{"c", "b", "a"}, slices.Collect(l.Values()))
	assert.True(t, l.IsEmpty())
}

func TestList_Len(t *testing.T) {
	l := New[int]()
	pushed, popped := 0, 0
	for i := 0; i < 100; i++ {
		switch i % 5 {
		case 0, 1:
			l.PushBack(i)
			pushed++
		case 2:
			l.PushFront(i)
			pushed++
		case 3:
			if _, ok := l.PopFront(); ok {
				popped++
			}
		case 4:
			if _, ok := l.PopBack(); ok {
				popped++
			}
		}
		require.Equal(t, pushed-popped, l.Len())
		checkLinks(t, l)
	}
}

func TestList_From(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3, 4}, slices.Collect(From(1, 2, 3, 4).Values()))
	assert.Equal(t, []int{4, 3, 2, 1}, slices.Collect(From(1, 2, 3, 4).Backward()))
	assert.Equal(t, []int{1, 2, 3}, FromSeq(slices.Values([]int{1, 2, 3})).Slice())
}

func TestList_DrainBothEnds(t *testing.T) {
	l := New[int]()
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			l.PushBack(i)
		} else {
			l.PushFront(i)
		}
	}

	seen := make(map[int]struct{})
	d := l.Drain()
	for i := 0; ; i++ {
		var (
			v  int
			ok bool
		)
		if i%3 == 0 {
			v, ok = d.NextBack()
		} else {
			v, ok = d.Next()
		}
		if !ok {
			break
		}
		_, dup := seen[v]
		require.False(t, dup, "value %d yielded twice", v)
		seen[v] = struct{}{}
	}
	assert.Len(t, seen, 50)
	assert.Equal(t, 0, d.Len())
}

func TestList_DrainMeetsInMiddle(t *testing.T) {
	d := From(1, 2, 3, 4, 5).Drain()

	v, _ := d.Next()
	assert.Equal(t, 1, v)
	v, _ = d.NextBack()
	assert.Equal(t, 5, v)
	v, _ = d.Next()
	assert.Equal(t, 2, v)
	v, _ = d.NextBack()
	assert.Equal(t, 4, v)
	v, _ = d.NextBack()
	assert.Equal(t, 3, v)
	_, ok := d.Next()
	assert.False(t, ok)
	_, ok = d.NextBack()
	assert.False(t, ok)
}

func TestList_GuardMutationVisible(t *testing.T) {
	l := From(1, 2, 3)

	g, ok := l.Front()
	require.True(t, ok)
	g.Set(10)
	g.Unlock()

	g, ok = l.Back()
	require.True(t, ok)
	*g.Ptr() += 30
	g.Unlock()
	g.Unlock()

	v, _ := l.PopFront()
	assert.Equal(t, 10, v)
	v, _ = l.PopBack()
	assert.Equal(t, 33, v)
}

func TestList_GuardUsedAfterUnlock(t *testing.T) {
	l := From(1)
	g, _ := l.Front()
	g.Unlock()
	assert.Panics(t, func() { g.Get() })
}

func TestList_GuardOutlivesRemoval(t *testing.T) {
	l := From("x")
	e := l.FrontElem()
	v := l.Remove(e)
	assert.Equal(t, "x", v)

	g := e.Lock()
	assert.Equal(t, "x", g.Get())
	g.Unlock()
	checkLinks(t, l)
}

func TestList_FrontBlocksWhileHeld(t *testing.T) {
	l := From(1, 2)
	g, _ := l.Front()

	got := make(chan int)
	go func() {
		g2, _ := l.Front()
		v := g2.Get()
		g2.Unlock()
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("second guard acquired while first is held")
	case <-time.After(50 * time.Millisecond):
	}

	g.Set(7)
	g.Unlock()
	assert.Equal(t, 7, <-got)
}

func TestList_IndependentNodeLocks(t *testing.T) {
	l := From(0, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				g, _ := l.Front()
				*g.Ptr()++
				g.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				l.BackElem().Update(func(v *int) { *v++ })
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, []int{8000, 8000}, l.Slice())
}

func TestList_RemoveAndMove(t *testing.T) {
	l := New[int]()
	elems := make([]*Elem[int], 5)
	for i := range elems {
		elems[i] = l.PushBack(i)
	}

	assert.Equal(t, 2, l.Remove(elems[2]))
	checkLinks(t, l)
	assert.Equal(t, []int{0, 1, 3, 4}, l.Slice())

	l.MoveToBack(elems[0])
	checkLinks(t, l)
	assert.Equal(t, []int{1, 3, 4, 0}, l.Slice())

	l.MoveToFront(elems[4])
	checkLinks(t, l)
	assert.Equal(t, []int{4, 1, 3, 0}, l.Slice())

	l.MoveToFront(elems[0])
	l.MoveToBack(elems[1])
	l.MoveToBack(elems[1])
	checkLinks(t, l)
	assert.Equal(t, []int{0, 4, 3, 1}, l.Slice())
	assert.Equal(t, 4, l.Len())
}

func TestList_ForeignElemPanics(t *testing.T) {
	a, b := From(1), From(2)
	e := b.FrontElem()

	assert.PanicsWithValue(t, "elem does not belong to this list", func() { a.Remove(e) })
	assert.Panics(t, func() { a.MoveToBack(e) })
	assert.Panics(t, func() { a.MoveToFront(e) })

	b.Remove(e)
	assert.Panics(t, func() { b.Remove(e) })

	linked := a.FrontElem()
	assert.PanicsWithValue(t, "element is in use", func() { b.pushBackElem(linked) })
	checkLinks(t, a)
	checkLinks(t, b)
}

func TestList_RemoveFunc(t *testing.T) {
	l := From(1, 2, 3, 4, 5, 6)
	n := l.RemoveFunc(func(v int) bool { return v%2 == 0 })
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{1, 3, 5}, l.Slice())
	checkLinks(t, l)
}

func TestList_AllAndWalk(t *testing.T) {
	l := From(1, 2, 3)
	assert.Equal(t, []int{1, 2, 3}, slices.Collect(l.All()))
	assert.Equal(t, []int{3, 2, 1}, slices.Collect(l.Reversed()))
	assert.Equal(t, 3, l.Len())

	l.Walk(func(v *int) bool {
		*v *= 10
		return *v < 20
	})
	assert.Equal(t, []int{10, 20, 3}, l.Slice())

	for v := range l.All() {
		if v == 20 {
			break
		}
	}
}

func TestList_WalkPanicReleasesElem(t *testing.T) {
	l := From(1, 2)
	assert.PanicsWithValue(t, "boom", func() {
		l.Walk(func(v *int) bool { panic("boom") })
	})

	e := l.FrontElem()
	require.True(t, e.mu.TryLock())
	e.mu.Unlock()

	v, ok := l.PopFront()
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestList_ContainsAndElems(t *testing.T) {
	l := From(1, 2, 3)
	other := From(4)

	es := l.Elems()
	require.Len(t, es, 3)
	assert.Equal(t, 2, es[1].Load())
	assert.True(t, l.Contains(es[1]))
	assert.False(t, l.Contains(other.FrontElem()))
	assert.False(t, l.Contains(nil))

	l.Remove(es[1])
	assert.False(t, l.Contains(es[1]))
	assert.Empty(t, New[int]().Elems())
}

func TestList_ClearLarge(t *testing.T) {
	const n = 1 << 20
	l := New[int]()
	for i := 0; i < n; i++ {
		l.PushBack(i)
	}
	require.Equal(t, n, l.Len())

	l.Clear()
	assert.Equal(t, 0, l.Len())
	checkLinks(t, l)
}

func BenchmarkList_PushPop(b *testing.B) {
	l := New[int]()
	for i := 0; i < b.N; i++ {
		l.PushBack(i)
		l.PopFront()
	}
}
