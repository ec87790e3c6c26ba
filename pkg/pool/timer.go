package pool

import (
	"sync"
	"time"
)

var timerPool = sync.Pool{}

// GetTimer returns a stopped-and-drained timer from the pool, armed for d.
// Callers must return it with ReleaseTimer.
func GetTimer(d time.Duration) *time.Timer {
	t, ok := timerPool.Get().(*time.Timer)
	if !ok {
		return time.NewTimer(d)
	}
	stopAndDrain(t)
	t.Reset(d)
	return t
}

// ReleaseTimer stops t and puts it back into the pool. A nil t is ignored.
func ReleaseTimer(t *time.Timer) {
	if t == nil {
		return
	}
	stopAndDrain(t)
	timerPool.Put(t)
}

func stopAndDrain(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// ResetTimer stops t, drains a pending tick and arms it for d.
func ResetTimer(t *time.Timer, d time.Duration) {
	stopAndDrain(t)
	t.Reset(d)
}

// StopTimer stops t and drains a pending tick without pooling it.
func StopTimer(t *time.Timer) {
	stopAndDrain(t)
}
