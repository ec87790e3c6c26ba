package safe_close

import (
	"context"
	"io"
	"sync"
)

// SafeClose coordinates the shutdown of a service and its goroutines.
// CloseWait returns only after Done was called and every attached
// goroutine has exited.
//
//  1. The main service goroutine waits on ReceiveCloseSignal and calls Done before it returns.
//  2. Sub goroutines are started by Attach or Go and must exit on the close signal.
//  3. Any goroutine may call SendCloseSignal with a fatal error. CloseWait must not
//     be called from inside the service, it would deadlock.
//  4. Any third party caller may call CloseWait to close the service.
type SafeClose struct {
	m        sync.Mutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
	closeErr error
}

func NewSafeClose() *SafeClose {
	ctx, cancel := context.WithCancel(context.Background())
	return &SafeClose{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// CloseWait sends a close signal and waits until the service is closed.
// It is concurrent safe and can be called multiple times.
func (s *SafeClose) CloseWait() {
	s.SendCloseSignal(nil)
	s.wg.Wait()
	<-s.done
}

// SendCloseSignal sends a close signal. Only the first non-nil err sent
// before the signal is kept.
func (s *SafeClose) SendCloseSignal(err error) {
	s.m.Lock()
	defer s.m.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	s.closeErr = err
	s.cancel()
}

// Err returns the error that triggered the close signal, if any.
func (s *SafeClose) Err() error {
	s.m.Lock()
	defer s.m.Unlock()
	return s.closeErr
}

func (s *SafeClose) ReceiveCloseSignal() <-chan struct{} {
	return s.ctx.Done()
}

// Context returns a context that is canceled by the close signal.
func (s *SafeClose) Context() context.Context {
	return s.ctx
}

// Attach runs f in a new goroutine tracked by CloseWait.
// f must return after closeSignal and call done when it is done.
// If s was closed, f will not run.
func (s *SafeClose) Attach(f func(done func(), closeSignal <-chan struct{})) {
	if !s.add() {
		return
	}
	go f(s.wg.Done, s.ctx.Done())
}

// Go runs f in a new goroutine tracked by CloseWait. A non-nil error
// returned by f closes s. If s was closed, f will not run.
func (s *SafeClose) Go(f func(ctx context.Context) error) {
	if !s.add() {
		return
	}
	go func() {
		defer s.wg.Done()
		if err := f(s.ctx); err != nil {
			s.SendCloseSignal(err)
		}
	}()
}

// AttachCloser closes c once s receives the close signal.
func (s *SafeClose) AttachCloser(c io.Closer) {
	s.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		<-closeSignal
		_ = c.Close()
	})
}

func (s *SafeClose) add() bool {
	s.m.Lock()
	defer s.m.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	return true
}

// Done notifies CloseWait that the main service goroutine is done.
// It is concurrent safe and can be called multiple times.
func (s *SafeClose) Done() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}
