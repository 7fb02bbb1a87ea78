// Package jobs implements the background tasks: notification fan-out, monthly reports,
// exports and housekeeping.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/victornm/quizmaster/internal/cache"
	"github.com/victornm/quizmaster/internal/domain"
	"github.com/victornm/quizmaster/internal/notify"
	"github.com/victornm/quizmaster/internal/store"
	"github.com/victornm/quizmaster/internal/task"
	"github.com/victornm/quizmaster/internal/telemetry"
)

const (
	TaskQuizNotification   = "send_quiz_notification"
	TaskQuizReminder       = "send_quiz_reminder"
	TaskMonthlyReport      = "send_monthly_report"
	TaskPerformanceReport  = "generate_performance_report"
	TaskCleanupIncomplete  = "cleanup_incomplete_attempts"
	TaskUpdateStatistics   = "update_quiz_statistics"
	TaskScheduledReminders = "send_scheduled_reminders"
	TaskMonthlyReports     = "send_monthly_reports"
	TaskDailyMaintenance   = "daily_maintenance"
)

const (
	DefaultStaleAfter     = 24 * time.Hour
	DefaultReminderWindow = time.Hour
	reminderMarkerTTL     = 2 * time.Hour
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusNoData  Status = "no_data"
	StatusSkipped Status = "skipped"
)

// Result is what every task returns. Failures are reported in it, never as an error.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	// Count is the number of items handled: attempts removed, quizzes refreshed or tasks enqueued.
	Count    int             `json:"count"`
	Delivery *notify.Outcome `json:"delivery,omitempty"`
	Export   *Export         `json:"export,omitempty"`
	Monthly  *MonthlyOutcome `json:"monthly,omitempty"`
}

type MonthlyOutcome struct {
	UserEmail     string  `json:"user_email"`
	AttemptsCount int     `json:"attempts_count"`
	AverageScore  float64 `json:"avg_score"`
}

func failed(err error) Result {
	return Result{Status: StatusError, Message: err.Error()}
}

type QuizNotificationArgs struct {
	QuizID int64 `json:"quiz_id"`
	// UserIDs selects the recipients, every user when empty. Admins are always skipped.
	UserIDs []int64 `json:"user_ids,omitempty"`
}

type MonthlyReportArgs struct {
	UserID int64 `json:"user_id"`
}

// MonthlyReportsArgs is sent by the manual trigger. Scheduled runs carry no arguments.
type MonthlyReportsArgs struct {
	// Force sends the reports on any day of the month.
	Force bool `json:"force"`
}

type PerformanceReportArgs struct {
	// UserIDs selects the users, every non-admin when empty.
	UserIDs []int64 `json:"user_ids,omitempty"`
	// Format is csv or json.
	Format string `json:"format"`
}

// Enqueuer submits a task for asynchronous execution. Both task.Queue and task.Broker satisfy it.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, args any) (string, error)
}

type Store interface {
	GetQuiz(ctx context.Context, id int64, withQuestions bool) (*domain.Quiz, error)
	ListQuizzes(ctx context.Context, f store.QuizFilter) ([]domain.Quiz, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	ListUsers(ctx context.Context, f store.UserFilter) ([]domain.User, error)
	ListAttempts(ctx context.Context, f store.AttemptFilter) ([]domain.AttemptSummary, error)
	DeleteStaleAttempts(ctx context.Context, cutoff time.Time) (int64, error)
}

type Config struct {
	Store      Store
	Cache      *cache.Cache
	Dispatcher *notify.Dispatcher
	Enqueuer   Enqueuer
	// StaleAfter is the age of incomplete attempts removed by the cleanup, defaults to DefaultStaleAfter.
	StaleAfter time.Duration
	// ReminderWindow is how far ahead the reminder job looks, defaults to DefaultReminderWindow.
	ReminderWindow time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type Jobs struct {
	store          Store
	cache          *cache.Cache
	dispatcher     *notify.Dispatcher
	enqueuer       Enqueuer
	staleAfter     time.Duration
	reminderWindow time.Duration
	now            func() time.Time
}

func New(c Config) *Jobs {
	j := &Jobs{
		store:          c.Store,
		cache:          c.Cache,
		dispatcher:     c.Dispatcher,
		enqueuer:       c.Enqueuer,
		staleAfter:     c.StaleAfter,
		reminderWindow: c.ReminderWindow,
		now:            c.Now,
	}

	if j.staleAfter <= 0 {
		j.staleAfter = DefaultStaleAfter
	}
	if j.reminderWindow <= 0 {
		j.reminderWindow = DefaultReminderWindow
	}
	if j.now == nil {
		j.now = time.Now
	}

	return j
}

// Register installs a handler for every task on q.
func (j *Jobs) Register(q *task.Queue) {
	q.Register(TaskQuizNotification, handler(TaskQuizNotification, func(ctx context.Context, t task.Task, r task.Reporter) Result {
		var args QuizNotificationArgs
		if err := t.Decode(&args); err != nil {
			return failed(err)
		}
		return j.SendQuizNotification(ctx, args, r)
	}))

	q.Register(TaskQuizReminder, handler(TaskQuizReminder, func(ctx context.Context, t task.Task, r task.Reporter) Result {
		var args QuizNotificationArgs
		if err := t.Decode(&args); err != nil {
			return failed(err)
		}
		return j.SendQuizReminder(ctx, args, r)
	}))

	q.Register(TaskMonthlyReport, handler(TaskMonthlyReport, func(ctx context.Context, t task.Task, _ task.Reporter) Result {
		var args MonthlyReportArgs
		if err := t.Decode(&args); err != nil {
			return failed(err)
		}
		return j.SendMonthlyReport(ctx, args)
	}))

	q.Register(TaskPerformanceReport, handler(TaskPerformanceReport, func(ctx context.Context, t task.Task, _ task.Reporter) Result {
		var args PerformanceReportArgs
		if err := t.Decode(&args); err != nil {
			return failed(err)
		}
		return j.GeneratePerformanceReport(ctx, args)
	}))

	q.Register(TaskCleanupIncomplete, handler(TaskCleanupIncomplete, func(ctx context.Context, _ task.Task, _ task.Reporter) Result {
		return j.CleanupIncompleteAttempts(ctx)
	}))

	q.Register(TaskUpdateStatistics, handler(TaskUpdateStatistics, func(ctx context.Context, _ task.Task, _ task.Reporter) Result {
		return j.UpdateQuizStatistics(ctx)
	}))

	q.Register(TaskScheduledReminders, handler(TaskScheduledReminders, func(ctx context.Context, _ task.Task, _ task.Reporter) Result {
		return j.SendScheduledReminders(ctx)
	}))

	q.Register(TaskMonthlyReports, handler(TaskMonthlyReports, func(ctx context.Context, t task.Task, _ task.Reporter) Result {
		var args MonthlyReportsArgs
		if err := t.Decode(&args); err != nil {
			return failed(err)
		}
		return j.SendMonthlyReports(ctx, args.Force)
	}))

	q.Register(TaskDailyMaintenance, handler(TaskDailyMaintenance, func(ctx context.Context, _ task.Task, _ task.Reporter) Result {
		return j.DailyMaintenance(ctx)
	}))
}

// handler adapts a job to a task handler. Panics become error results.
func handler(name string, fn func(ctx context.Context, t task.Task, r task.Reporter) Result) task.Handler {
	return func(ctx context.Context, t task.Task, r task.Reporter) (res any, err error) {
		defer func() {
			if p := recover(); p != nil {
				slog.ErrorContext(ctx, "jobs: job panicked", "task", name, "id", t.ID, "panic", p, "stack", string(debug.Stack()))
				res = Result{Status: StatusError, Message: fmt.Sprintf("panic: %v", p)}
				telemetry.CountJobResult(name, string(StatusError))
			}
		}()

		out := fn(ctx, t, r)
		if out.Status == StatusError {
			slog.ErrorContext(ctx, "jobs: job failed", "task", name, "id", t.ID, "error", out.Message)
		} else {
			slog.InfoContext(ctx, "jobs: job done", "task", name, "id", t.ID, "status", out.Status, "count", out.Count)
		}
		telemetry.CountJobResult(name, string(out.Status))

		return out, nil
	}
}

func (j *Jobs) nonAdminIDs(ctx context.Context) ([]int64, error) {
	users, err := j.store.ListUsers(ctx, store.UserFilter{NonAdminOnly: true})
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}

	return ids, nil
}
