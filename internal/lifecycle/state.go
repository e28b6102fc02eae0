package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// joinLogInterval is how often Join reports a worker that has not exited yet
const joinLogInterval = 10 * time.Second

// State is the cooperative cancellation gate shared by an account worker and its owner.
//
// The worker checks Running at every loop boundary and idles in Wait. The owner
// wakes it with Release, stops it with Stop, or interrupts blocking network I/O
// with Error, which then waits for the worker to acknowledge cleanup.
type State struct {
	name    string
	logger  *logrus.Logger
	running atomic.Bool

	wake chan struct{}
	done chan struct{}

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	ack    chan struct{}
}

// New creates a running state whose I/O context derives from parent
func New(parent context.Context, name string, logger *logrus.Logger) *State {
	s := &State{
		name:   name,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	s.running.Store(true)
	s.ctx, s.cancel = context.WithCancel(parent)
	return s
}

// Running reports whether the worker should keep going
func (s *State) Running() bool {
	return s.running.Load()
}

// Context returns the context network calls of the current session must observe.
// It is cancelled by Stop and by Error.
func (s *State) Context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Reset replaces an interrupted context with a fresh one so the worker can reconnect.
// It is a no-op once the state has been stopped.
func (s *State) Reset(parent context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() || s.ctx.Err() == nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(parent)
	s.ack = nil
}

// Release signals that new work is available
func (s *State) Release() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until released, stopped, interrupted or the timeout elapses.
// A zero timeout waits without limit. It reports whether the worker was woken.
func (s *State) Wait(timeout time.Duration) bool {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-s.wake:
		return true
	case <-s.Context().Done():
		return true
	case <-expired:
		return false
	}
}

// Stop clears the running flag, cancels in-flight I/O and wakes any waiter
func (s *State) Stop() {
	s.running.Store(false)
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.Release()
}

// Error interrupts a worker blocked in network I/O and waits up to timeout
// for it to call Acknowledge. It reports whether cleanup was acknowledged.
func (s *State) Error(timeout time.Duration) bool {
	s.mu.Lock()
	if s.ack == nil {
		s.ack = make(chan struct{})
	}
	ack := s.ack
	s.cancel()
	s.mu.Unlock()

	s.logger.WithField("worker", s.name).Debug("Interrupting worker")

	select {
	case <-ack:
		return true
	case <-s.done:
		return true
	case <-time.After(timeout):
		s.logger.WithField("worker", s.name).Warn("Worker did not acknowledge interrupt")
		return false
	}
}

// Acknowledge is called by the worker once it has cleaned up after an interrupt
func (s *State) Acknowledge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ack != nil {
		close(s.ack)
		s.ack = nil
	}
}

// Interrupted reports whether the current I/O context has been cancelled
func (s *State) Interrupted() bool {
	return s.Context().Err() != nil
}

// Go runs fn on its own goroutine; Join waits for it to return
func (s *State) Go(fn func(s *State)) {
	go func() {
		defer close(s.done)
		fn(s)
	}()
}

// Join blocks until the goroutine started by Go has returned
func (s *State) Join() {
	for {
		select {
		case <-s.done:
			s.logger.WithField("worker", s.name).Debug("Joined worker")
			return
		case <-time.After(joinLogInterval):
			s.logger.WithField("worker", s.name).Info("Still joining worker")
		}
	}
}

// Done is closed when the worker goroutine has returned
func (s *State) Done() <-chan struct{} {
	return s.done
}

// String implements fmt.Stringer
func (s *State) String() string {
	return fmt.Sprintf("[running=%t]", s.Running())
}
