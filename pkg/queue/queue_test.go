package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestQueue_FIFO(t *testing.T) {
	q := New[int](0)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(i))
	}
	require.NoError(t, q.PushFront(-1))
	assert.Equal(t, []int{-1, 0, 1, 2, 3, 4}, q.Snapshot())

	v, ok := q.Peek()
	assert.True(t, ok)
	assert.Equal(t, -1, v)
	v, ok = q.PeekBack()
	assert.True(t, ok)
	assert.Equal(t, 4, v)

	v, ok = q.TryPopBack()
	assert.True(t, ok)
	assert.Equal(t, 4, v)

	for _, want := range []int{-1, 0, 1, 2, 3} {
		v, ok := q.TryPop()
		require.True(t, ok)
		require.Equal(t, want, v)
	}
	_, ok = q.TryPop()
	assert.False(t, ok)
	_, ok = q.Peek()
	assert.False(t, ok)
}

func TestQueue_MaxLen(t *testing.T) {
	q := New[int](2)
	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))
	assert.ErrorIs(t, q.Push(3), ErrFull)
	assert.ErrorIs(t, q.PushFront(3), ErrFull)
	assert.Equal(t, 2, q.Len())
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := New[string](0)

	got := make(chan string, 1)
	go func() {
		v, err := q.Pop(context.Background())
		assert.NoError(t, err)
		got <- v
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push("hello"))
	assert.Equal(t, "hello", <-got)
}

func TestQueue_PopContextCancel(t *testing.T) {
	q := New[int](0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	q.m.Lock()
	assert.Equal(t, 0, q.waiters)
	q.m.Unlock()
}

func TestQueue_PopTimeout(t *testing.T) {
	q := New[int](0)

	_, err := q.PopTimeout(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	_, err = q.PopTimeout(0)
	assert.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, q.Push(7))
	v, err := q.PopTimeout(0)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = q.Push(8)
	}()
	v, err = q.PopTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 8, v)
}

func TestQueue_Close(t *testing.T) {
	q := New[int](0)
	require.NoError(t, q.Push(1))

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// One of them gets 1, the other is woken by Close.
			_, err := q.Pop(context.Background())
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	wg.Wait()
	close(errs)

	var nilErrs, closedErrs int
	for err := range errs {
		switch err {
		case nil:
			nilErrs++
		case ErrClosed:
			closedErrs++
		}
	}
	assert.Equal(t, 1, nilErrs)
	assert.Equal(t, 1, closedErrs)

	assert.ErrorIs(t, q.Push(2), ErrClosed)
	_, err := q.PopTimeout(0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, q.Closed())
}

func TestQueue_ProducersConsumers(t *testing.T) {
	const (
		producers = 4
		consumers = 4
		perP      = 1000
	)
	q := New[int](0)

	var pwg sync.WaitGroup
	for p := 0; p < producers; p++ {
		pwg.Add(1)
		go func(p int) {
			defer pwg.Done()
			for i := 0; i < perP; i++ {
				assert.NoError(t, q.Push(p*perP+i))
			}
		}(p)
	}

	var (
		cwg  sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int]struct{}, producers*perP)
	)
	for c := 0; c < consumers; c++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				v, err := q.Pop(context.Background())
				if err != nil {
					return
				}
				mu.Lock()
				_, dup := seen[v]
				seen[v] = struct{}{}
				mu.Unlock()
				assert.False(t, dup)
			}
		}()
	}

	pwg.Wait()
	for q.Len() > 0 {
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, q.Close())
	cwg.Wait()

	assert.Len(t, seen, producers*perP)
}

func TestQueue_RemoveFunc(t *testing.T) {
	q := New[int](0)
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Push(i))
	}
	assert.Equal(t, 5, q.RemoveFunc(func(v int) bool { return v%2 == 1 }))
	assert.Equal(t, []int{0, 2, 4, 6, 8}, q.Snapshot())
}
