package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) (*Scheduler, *clock.Mock, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	clk := clock.NewMock()
	s := NewScheduler(clk, logger)
	t.Cleanup(s.Stop)
	return s, clk, hook
}

func TestSchedulerRunsAfterDelay(t *testing.T) {
	s, clk, _ := newTestScheduler(t)

	var calls atomic.Int32
	s.Schedule("regenerate", time.Second, func(ctx context.Context) {
		calls.Add(1)
	})
	assert.Equal(t, 1, s.Pending())

	clk.Add(999 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	clk.Add(time.Millisecond)
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, s.Pending())

	clk.Add(time.Hour)
	assert.Never(t, func() bool { return calls.Load() > 1 }, 20*time.Millisecond, time.Millisecond)
}

func TestSchedulerCancel(t *testing.T) {
	s, clk, _ := newTestScheduler(t)

	var calls atomic.Int32
	cancel := s.Schedule("regenerate", time.Second, func(ctx context.Context) {
		calls.Add(1)
	})
	assert.True(t, cancel())
	assert.False(t, cancel())
	assert.Equal(t, 0, s.Pending())

	clk.Add(2 * time.Second)
	assert.Never(t, func() bool { return calls.Load() > 0 }, 20*time.Millisecond, time.Millisecond)
}

func TestSchedulerStop(t *testing.T) {
	s, clk, hook := newTestScheduler(t)

	var calls atomic.Int32
	s.Schedule("a", time.Second, func(ctx context.Context) { calls.Add(1) })
	s.Schedule("b", 2*time.Second, func(ctx context.Context) { calls.Add(1) })
	require.Equal(t, 2, s.Pending())

	s.Stop()
	s.Stop()
	assert.Equal(t, 0, s.Pending())

	clk.Add(time.Minute)
	assert.Never(t, func() bool { return calls.Load() > 0 }, 20*time.Millisecond, time.Millisecond)

	cancel := s.Schedule("late", time.Second, func(ctx context.Context) { calls.Add(1) })
	assert.False(t, cancel())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestSchedulerStopWaitsForRunningTask(t *testing.T) {
	s, clk, _ := newTestScheduler(t)

	started := make(chan struct{})
	var sawCancel atomic.Bool
	s.Schedule("slow", time.Second, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
	})
	clk.Add(time.Second)
	<-started

	s.Stop()
	assert.True(t, sawCancel.Load())
}

func TestSchedulerRecoversPanic(t *testing.T) {
	s, clk, hook := newTestScheduler(t)

	s.Schedule("boom", time.Second, func(ctx context.Context) { panic("boom") })
	clk.Add(time.Second)

	assert.Eventually(t, func() bool {
		e := hook.LastEntry()
		return e != nil && e.Level == logrus.ErrorLevel
	}, time.Second, time.Millisecond)
	s.Stop()
}
