package scheduler

import (
	"context"
	"time"

	"steward/internal/logger"
)

// DailyScheduler runs a task once per day at a fixed local time. ShouldRun,
// when set, can veto a day (holidays, weekends); the next day is tried as
// usual.
type DailyScheduler struct {
	Name      string
	Hour      int
	Minute    int
	Location  *time.Location
	ShouldRun func(day time.Time) bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewDailyScheduler(ctx context.Context, name string, hour, minute int, loc *time.Location) *DailyScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	if loc == nil {
		loc = time.Local
	}
	return &DailyScheduler{
		Name:     name,
		Hour:     hour,
		Minute:   minute,
		Location: loc,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start blocks, firing task at each scheduled time until the context is
// cancelled.
func (s *DailyScheduler) Start(task func()) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("scheduler[%s]: task is nil, exit", s.Name)
		return
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	logger.Infof("scheduler[%s]: started, daily at %02d:%02d %s",
		s.Name, s.Hour, s.Minute, s.Location.String())

	for {
		now := s.nowFn().In(s.Location)
		wakeAt := s.nextRun(now)
		wait := wakeAt.Sub(now)
		logger.Infof("scheduler[%s]: next run at=%s (in %s)",
			s.Name, wakeAt.Format(time.RFC3339), wait.Truncate(time.Second))

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

func (s *DailyScheduler) nextRun(now time.Time) time.Time {
	at := time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, 0, 0, s.Location)
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	for s.ShouldRun != nil && !s.ShouldRun(at) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}
