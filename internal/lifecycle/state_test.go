package lifecycle

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(context.Background(), "test", logger)
}

func TestWaitTimesOut(t *testing.T) {
	s := newTestState(t)

	start := time.Now()
	woken := s.Wait(20 * time.Millisecond)

	assert.False(t, woken)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.True(t, s.Running())
}

func TestReleaseWakesWaiter(t *testing.T) {
	s := newTestState(t)

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Release()
	}()

	assert.True(t, s.Wait(time.Second))
}

func TestStopWakesWaiterAndCancelsContext(t *testing.T) {
	s := newTestState(t)
	ctx := s.Context()

	go s.Stop()

	assert.True(t, s.Wait(time.Second))
	assert.False(t, s.Running())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Equal(t, "[running=false]", s.String())
}

func TestErrorWaitsForAcknowledge(t *testing.T) {
	s := newTestState(t)
	cleaned := make(chan struct{})

	s.Go(func(s *State) {
		<-s.Context().Done()
		close(cleaned)
		s.Acknowledge()
		s.Wait(0)
	})

	require.True(t, s.Error(time.Second))
	select {
	case <-cleaned:
	default:
		t.Fatal("worker acknowledged before cleaning up")
	}
	assert.True(t, s.Running())
	assert.True(t, s.Interrupted())

	s.Stop()
	s.Join()
}

func TestErrorWakesIdleWorker(t *testing.T) {
	s := newTestState(t)
	idle := make(chan struct{})

	s.Go(func(s *State) {
		for s.Running() {
			if s.Interrupted() {
				s.Acknowledge()
				s.Reset(context.Background())
			}
			select {
			case <-idle:
			default:
				close(idle)
			}
			s.Wait(time.Minute)
		}
	})
	<-idle

	start := time.Now()
	require.True(t, s.Error(time.Second))
	assert.Less(t, time.Since(start), time.Second)

	s.Stop()
	s.Join()
}

func TestErrorTimesOutWithoutAcknowledge(t *testing.T) {
	s := newTestState(t)
	release := make(chan struct{})

	s.Go(func(s *State) {
		<-release
	})

	assert.False(t, s.Error(20*time.Millisecond))
	close(release)
	s.Join()
}

func TestResetAfterInterrupt(t *testing.T) {
	s := newTestState(t)
	s.Go(func(s *State) {
		<-s.Context().Done()
		s.Acknowledge()
	})
	require.True(t, s.Error(time.Second))
	s.Join()

	s.Reset(context.Background())
	assert.False(t, s.Interrupted())

	s.Stop()
	s.Reset(context.Background())
	assert.True(t, s.Interrupted())
}
