package jobs

import (
	"context"
	"log/slog"
	"time"
)

// Schedule tells when a periodic task runs next.
type Schedule interface {
	// Next returns the first run strictly after t.
	Next(t time.Time) time.Time
}

// Every runs at every multiple of the duration since the zero time, 15m runs at :00, :15, :30 and :45 UTC.
type Every time.Duration

func (e Every) Next(t time.Time) time.Time {
	d := time.Duration(e)
	return t.Truncate(d).Add(d)
}

// Daily runs once a day at Hour:Minute in the location of the times it is given.
type Daily struct {
	Hour   int
	Minute int
}

func (d Daily) Next(t time.Time) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), d.Hour, d.Minute, 0, 0, t.Location())
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

type Entry struct {
	Task     string
	Schedule Schedule
}

// DefaultEntries is the periodic schedule of the maintenance tasks.
func DefaultEntries() []Entry {
	return []Entry{
		{Task: TaskScheduledReminders, Schedule: Every(15 * time.Minute)},
		{Task: TaskMonthlyReports, Schedule: Daily{Hour: 9}},
		{Task: TaskDailyMaintenance, Schedule: Daily{Hour: 2}},
		{Task: TaskUpdateStatistics, Schedule: Every(time.Hour)},
		{Task: TaskCleanupIncomplete, Schedule: Every(6 * time.Hour)},
	}
}

type SchedulerConfig struct {
	Enqueuer Enqueuer
	Entries  []Entry
	// Now defaults to time.Now.
	Now func() time.Time
}

// Scheduler enqueues tasks on their schedules.
type Scheduler struct {
	enqueuer Enqueuer
	entries  []Entry
	now      func() time.Time
}

func NewScheduler(c SchedulerConfig) *Scheduler {
	s := &Scheduler{enqueuer: c.Enqueuer, entries: c.Entries, now: c.Now}
	if s.entries == nil {
		s.entries = DefaultEntries()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.entries) == 0 {
		<-ctx.Done()
		return nil
	}

	next := make([]time.Time, len(s.entries))
	now := s.now()
	for i, e := range s.entries {
		next[i] = e.Schedule.Next(now)
	}

	for {
		soonest := next[0]
		for _, t := range next[1:] {
			if t.Before(soonest) {
				soonest = t
			}
		}

		timer := time.NewTimer(soonest.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		now := s.now()
		for i, e := range s.entries {
			if next[i].After(now) {
				continue
			}

			id, err := s.enqueuer.Enqueue(ctx, e.Task, nil)
			if err != nil {
				slog.ErrorContext(ctx, "scheduler: enqueue failed", "task", e.Task, "error", err)
			} else {
				slog.DebugContext(ctx, "scheduler: enqueued", "task", e.Task, "id", id)
			}
			next[i] = e.Schedule.Next(now)
		}
	}
}
