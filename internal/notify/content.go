// Package notify composes the notification emails and fans them out to users.
package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/victornm/quizmaster/internal/domain"
	"github.com/victornm/quizmaster/internal/report"
)

const (
	timeLayout  = "January 02, 2006 at 03:04 PM"
	monthLayout = "January 2006"
	signature   = "Best regards,\nQuiz Master Team\n"
)

// Content is the subject and body of a notification, shared by all its recipients.
type Content struct {
	Subject string
	Body    string
}

// QuizScheduled announces a new or rescheduled quiz.
func QuizScheduled(q *domain.Quiz) Content {
	limit := "No time limit"
	if q.TimeLimit != nil {
		limit = fmt.Sprintf("%d minutes", *q.TimeLimit)
	}

	desc := q.Description
	if desc == "" {
		desc = "No description provided"
	}

	var b strings.Builder
	b.WriteString("Hello!\n\n")
	b.WriteString("A new quiz has been scheduled for you:\n\n")
	fmt.Fprintf(&b, "Quiz: %s\n", q.Title)
	fmt.Fprintf(&b, "Chapter: %s\n", q.ChapterName)
	fmt.Fprintf(&b, "Subject: %s\n", q.SubjectName)
	fmt.Fprintf(&b, "Start Time: %s\n", formatTime(q.StartDatetime))
	fmt.Fprintf(&b, "End Time: %s\n", formatTime(q.EndDatetime))
	fmt.Fprintf(&b, "Time Limit: %s\n", limit)
	fmt.Fprintf(&b, "Pass Percentage: %s%%\n\n", percent(q.PassPercentage))
	fmt.Fprintf(&b, "Description: %s\n\n", desc)
	b.WriteString("Please log in to your account to take the quiz during the scheduled time.\n\n")
	b.WriteString(signature)

	return Content{Subject: "Quiz Scheduled: " + q.Title, Body: b.String()}
}

// QuizReminder reminds users that a quiz starts within the hour.
func QuizReminder(q *domain.Quiz) Content {
	var b strings.Builder
	b.WriteString("Hello!\n\n")
	b.WriteString("This is a reminder that your quiz starts in 1 hour:\n\n")
	fmt.Fprintf(&b, "Quiz: %s\n", q.Title)
	fmt.Fprintf(&b, "Chapter: %s\n", q.ChapterName)
	fmt.Fprintf(&b, "Subject: %s\n", q.SubjectName)
	fmt.Fprintf(&b, "Start Time: %s\n", formatTime(q.StartDatetime))
	fmt.Fprintf(&b, "End Time: %s\n\n", formatTime(q.EndDatetime))
	b.WriteString("Please make sure you're ready to take the quiz!\n\n")
	b.WriteString(signature)

	return Content{Subject: fmt.Sprintf("Reminder: Quiz '%s' starts in 1 hour!", q.Title), Body: b.String()}
}

// MonthlyReport renders a user's monthly summary.
func MonthlyReport(u domain.User, m *report.Monthly) Content {
	month := m.Month.Format(monthLayout)

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s!\n\n", u.Name)
	fmt.Fprintf(&b, "Here's your monthly quiz performance report for %s:\n\n", month)
	b.WriteString("OVERALL PERFORMANCE\n")
	fmt.Fprintf(&b, "- Total Quizzes Taken: %d\n", m.TotalAttempts)
	fmt.Fprintf(&b, "- Passed: %d\n", m.Passed)
	fmt.Fprintf(&b, "- Failed: %d\n", m.Failed)
	fmt.Fprintf(&b, "- Pass Rate: %.1f%%\n", m.PassRate)
	fmt.Fprintf(&b, "- Average Score: %.1f%%\n", m.AverageScore)
	fmt.Fprintf(&b, "- Highest Score: %.1f%%\n\n", m.HighestScore)

	b.WriteString("SUBJECT BREAKDOWN\n")
	for _, s := range m.SubjectAverages {
		fmt.Fprintf(&b, "- %s: %.1f%%\n", s.Subject, s.Average)
	}

	b.WriteString("\nRECENT ACTIVITY\n")
	for _, a := range m.Recent {
		score := 0.0
		if a.Score != nil {
			score = *a.Score
		}
		status := "FAIL"
		if a.Passed() {
			status = "PASS"
		}
		fmt.Fprintf(&b, "- %s (%s): %.1f%% - %s\n", a.QuizTitle, a.SubjectName, score, status)
	}

	b.WriteString("\nKeep up the great work! Continue practicing to improve your scores.\n\n")
	b.WriteString(signature)

	return Content{Subject: "Your Monthly Quiz Report - " + month, Body: b.String()}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "TBD"
	}
	return t.Format(timeLayout)
}

// percent prints v with at least one decimal, 50 as "50.0" and 72.25 as "72.25".
func percent(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
