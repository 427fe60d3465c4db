package core

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

type scheduledTask struct {
	name  string
	timer *clock.Timer
}

// Scheduler runs deferred tasks on an injected clock. Stop cancels every
// pending timer and waits for tasks already running.
type Scheduler struct {
	clk     clock.Clock
	logger  logrus.FieldLogger
	ctx     context.Context
	cancel  context.CancelFunc
	tasks   map[uint64]*scheduledTask
	nextID  uint64
	stopped bool
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// Schedule runs task after delay. The returned func cancels it and reports
// whether the task was still pending. After Stop, Schedule is a no-op.
func (s *Scheduler) Schedule(name string, delay time.Duration, task func(ctx context.Context)) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.logger.WithField("task", name).Warn("scheduler stopped, task dropped")
		return func() bool { return false }
	}

	id := s.nextID
	s.nextID++
	st := &scheduledTask{name: name}
	s.tasks[id] = st
	// Stopがタイマー発火と競合しても必ず待てるように、登録時点でAddしておく
	s.wg.Add(1)
	st.timer = s.clk.AfterFunc(delay, func() {
		s.mu.Lock()
		_, pending := s.tasks[id]
		delete(s.tasks, id)
		s.mu.Unlock()
		if !pending {
			return
		}
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.WithFields(logrus.Fields{"task": name, "panic": r}).Error("scheduled task panicked")
			}
		}()
		task(s.ctx)
	})

	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, pending := s.tasks[id]; !pending {
			return false
		}
		delete(s.tasks, id)
		st.timer.Stop()
		s.wg.Done()
		return true
	}
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.stopped = true
	for id, st := range s.tasks {
		st.timer.Stop()
		delete(s.tasks, id)
		s.wg.Done()
	}
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

func NewScheduler(clk clock.Clock, logger logrus.FieldLogger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clk:    clk,
		logger: logger.WithField("component", "scheduler"),
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[uint64]*scheduledTask),
	}
}
