package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/victornm/quizmaster/internal/cache"
	"github.com/victornm/quizmaster/internal/report"
	"github.com/victornm/quizmaster/internal/store"
)

// CleanupIncompleteAttempts removes incomplete attempts older than the stale age.
func (j *Jobs) CleanupIncompleteAttempts(ctx context.Context) Result {
	n, err := j.store.DeleteStaleAttempts(ctx, j.now().Add(-j.staleAfter))
	if err != nil {
		return failed(err)
	}

	return Result{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("Cleaned up %d incomplete attempts", n),
		Count:   int(n),
	}
}

// UpdateQuizStatistics recomputes the statistics of every quiz and caches them.
func (j *Jobs) UpdateQuizStatistics(ctx context.Context) Result {
	if j.cache == nil {
		return Result{Status: StatusError, Message: "cache is not configured"}
	}

	quizzes, err := j.store.ListQuizzes(ctx, store.QuizFilter{})
	if err != nil {
		return failed(err)
	}

	completed := true
	attempts, err := j.store.ListAttempts(ctx, store.AttemptFilter{Completed: &completed})
	if err != nil {
		return failed(err)
	}

	stats := report.Statistics(quizzes, attempts, j.now().UTC())
	if err := j.cache.Set(ctx, cache.KeyQuizStatistics, stats, cache.StatisticsTTL); err != nil {
		return failed(err)
	}

	return Result{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("Updated statistics for %d quizzes", len(quizzes)),
		Count:   len(quizzes),
	}
}

// SendScheduledReminders enqueues a reminder for every quiz starting within the reminder window.
// A quiz is reminded once per start time; when the cache is down reminders are sent anyway.
func (j *Jobs) SendScheduledReminders(ctx context.Context) Result {
	now := j.now()
	until := now.Add(j.reminderWindow)

	quizzes, err := j.store.ListQuizzes(ctx, store.QuizFilter{ScheduledFrom: &now, ScheduledTo: &until})
	if err != nil {
		return failed(err)
	}

	ids, err := j.nonAdminIDs(ctx)
	if err != nil {
		return failed(err)
	}

	enqueued := 0
	for _, q := range quizzes {
		if !j.markReminded(ctx, q.ID, q.StartDatetime.Unix()) {
			continue
		}

		if _, err := j.enqueuer.Enqueue(ctx, TaskQuizReminder, QuizNotificationArgs{QuizID: q.ID, UserIDs: ids}); err != nil {
			slog.ErrorContext(ctx, "jobs: enqueue reminder failed", "quiz_id", q.ID, "error", err)
			j.unmarkReminded(ctx, q.ID, q.StartDatetime.Unix())
			continue
		}
		enqueued++
	}

	return Result{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("Processed %d quizzes for reminders", len(quizzes)),
		Count:   enqueued,
	}
}

// markReminded reports whether the reminder for this quiz start still has to be sent.
func (j *Jobs) markReminded(ctx context.Context, quizID, start int64) bool {
	if j.cache == nil {
		return true
	}

	first, err := j.cache.SetNX(ctx, ReminderKey(quizID, start), true, reminderMarkerTTL)
	if err != nil {
		slog.WarnContext(ctx, "jobs: reminder marker unavailable, sending anyway", "quiz_id", quizID, "error", err)
		return true
	}

	return first
}

// unmarkReminded releases the marker so the next run retries the reminder.
func (j *Jobs) unmarkReminded(ctx context.Context, quizID, start int64) {
	if j.cache == nil {
		return
	}

	if err := j.cache.Delete(ctx, ReminderKey(quizID, start)); err != nil {
		slog.WarnContext(ctx, "jobs: release reminder marker failed", "quiz_id", quizID, "error", err)
	}
}

func ReminderKey(quizID, start int64) string {
	return fmt.Sprintf("reminder_sent_%d_%d", quizID, start)
}

// SendMonthlyReports enqueues a monthly report for every non-admin user. Unless forced it
// only acts on the first day of the month.
func (j *Jobs) SendMonthlyReports(ctx context.Context, force bool) Result {
	if !force && j.now().Day() != 1 {
		return Result{Status: StatusSkipped, Message: "Not the first day of the month"}
	}

	ids, err := j.nonAdminIDs(ctx)
	if err != nil {
		return failed(err)
	}

	enqueued := 0
	for _, id := range ids {
		if _, err := j.enqueuer.Enqueue(ctx, TaskMonthlyReport, MonthlyReportArgs{UserID: id}); err != nil {
			slog.ErrorContext(ctx, "jobs: enqueue monthly report failed", "user_id", id, "error", err)
			continue
		}
		enqueued++
	}

	return Result{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("Scheduled monthly reports for %d users", enqueued),
		Count:   enqueued,
	}
}

// DailyMaintenance enqueues the cleanup and the statistics refresh. A failed enqueue does not
// stop the other one, Count is the number actually scheduled.
func (j *Jobs) DailyMaintenance(ctx context.Context) Result {
	names := []string{TaskCleanupIncomplete, TaskUpdateStatistics}

	enqueued := 0
	var lastErr error
	for _, name := range names {
		if _, err := j.enqueuer.Enqueue(ctx, name, nil); err != nil {
			slog.ErrorContext(ctx, "jobs: enqueue maintenance task failed", "task", name, "error", err)
			lastErr = fmt.Errorf("enqueue %s: %w", name, err)
			continue
		}
		enqueued++
	}

	if enqueued == 0 {
		return failed(lastErr)
	}

	return Result{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("Scheduled %d of %d daily maintenance tasks", enqueued, len(names)),
		Count:   enqueued,
	}
}
