package jobs

import (
	"context"
	"fmt"

	"github.com/victornm/quizmaster/internal/domain"
	"github.com/victornm/quizmaster/internal/errors"
	"github.com/victornm/quizmaster/internal/notify"
	"github.com/victornm/quizmaster/internal/report"
	"github.com/victornm/quizmaster/internal/store"
	"github.com/victornm/quizmaster/internal/task"
)

const (
	kindScheduled = "quiz_scheduled"
	kindReminder  = "quiz_reminder"
	kindMonthly   = "monthly_report"
)

type progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Status  string `json:"status"`
}

// SendQuizNotification mails the "quiz scheduled" announcement.
func (j *Jobs) SendQuizNotification(ctx context.Context, args QuizNotificationArgs, r task.Reporter) Result {
	return j.fanOut(ctx, args, r, kindScheduled, "Sending emails...", notify.QuizScheduled)
}

// SendQuizReminder mails the "starts in 1 hour" reminder.
func (j *Jobs) SendQuizReminder(ctx context.Context, args QuizNotificationArgs, r task.Reporter) Result {
	return j.fanOut(ctx, args, r, kindReminder, "Sending reminders...", notify.QuizReminder)
}

func (j *Jobs) fanOut(ctx context.Context, args QuizNotificationArgs, r task.Reporter, kind, status string, compose func(*domain.Quiz) notify.Content) Result {
	q, err := j.store.GetQuiz(ctx, args.QuizID, false)
	if errors.Is(err, errors.CodeNotFound) {
		return Result{Status: StatusError, Message: "Quiz not found"}
	}
	if err != nil {
		return failed(err)
	}

	users, err := j.store.ListUsers(ctx, store.UserFilter{IDs: args.UserIDs})
	if err != nil {
		return failed(err)
	}

	out := j.dispatcher.SendEach(ctx, kind, users, compose(q), func(sent, total int) {
		if r != nil {
			r.Progress(progress{Current: sent, Total: total, Status: status})
		}
	})

	return Result{
		Status:   StatusSuccess,
		Message:  fmt.Sprintf("Sent %d of %d emails", out.Sent, out.Sent+out.Failed),
		Count:    out.Sent,
		Delivery: &out,
	}
}

// SendMonthlyReport mails a user the summary of their attempts in the current month.
// Users without attempts get nothing and a no_data result.
func (j *Jobs) SendMonthlyReport(ctx context.Context, args MonthlyReportArgs) Result {
	u, err := j.store.GetUser(ctx, args.UserID)
	if errors.Is(err, errors.CodeNotFound) {
		return Result{Status: StatusError, Message: "User not found"}
	}
	if err != nil {
		return failed(err)
	}

	from, to := report.MonthWindow(j.now())
	attempts, err := j.store.ListAttempts(ctx, store.AttemptFilter{UserID: u.ID, From: &from, To: &to})
	if err != nil {
		return failed(err)
	}

	m := report.MonthlySummary(from, attempts)
	if m == nil {
		return Result{Status: StatusNoData, Message: "No attempts this month"}
	}

	if err := j.dispatcher.Send(ctx, kindMonthly, u.Email, notify.MonthlyReport(*u, m)); err != nil {
		return failed(err)
	}

	return Result{
		Status: StatusSuccess,
		Count:  1,
		Monthly: &MonthlyOutcome{
			UserEmail:     u.Email,
			AttemptsCount: m.TotalAttempts,
			AverageScore:  m.AverageScore,
		},
	}
}
