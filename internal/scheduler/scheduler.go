// Package scheduler drives the periodic loops: the retry pass on a wall-clock
// aligned interval and the end-of-day run at a fixed local time.
package scheduler

import (
	"context"
	"time"

	"steward/internal/logger"
)

// IntervalScheduler runs a task every Interval, aligned to wall-clock
// boundaries so restarts do not drift the cadence.
type IntervalScheduler struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewIntervalScheduler(ctx context.Context, name string, interval time.Duration) *IntervalScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &IntervalScheduler{
		Name:     name,
		Interval: interval,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start blocks, running task on each tick until the context is cancelled.
func (s *IntervalScheduler) Start(task func()) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("scheduler[%s]: task is nil, exit", s.Name)
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("scheduler[%s]: invalid interval=%s, exit", s.Name, s.Interval)
		return
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("scheduler[%s]: started interval=%s run_immediately=%v at=%s",
		s.Name, s.Interval, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		task()
	}

	for {
		now := s.nowFn().UTC()
		wakeAt := now.Truncate(s.Interval).Add(s.Interval)
		wait := wakeAt.Sub(now)
		uptime := now.Sub(startAt)

		logger.Infof("scheduler[%s]: next run at=%s (in %s) | uptime=%s",
			s.Name, wakeAt.Format(time.RFC3339), wait.Truncate(time.Second), uptime.Truncate(time.Second))

		if wait <= 0 {
			task()
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			logger.Infof("scheduler[%s]: ctx done, exit", s.Name)
			return
		case <-timer.C:
		}
		task()
	}
}
