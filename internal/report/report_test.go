package report_test

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizmaster/internal/domain"
	"github.com/victornm/quizmaster/internal/report"
)

var may = time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)

func TestMonthWindow(t *testing.T) {
	tests := map[string]struct {
		at        time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		"middle of the month": {
			at:        time.Date(2025, time.May, 15, 13, 4, 5, 0, time.UTC),
			wantStart: may,
			wantEnd:   time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
		},
		"december should roll over the year": {
			at:        time.Date(2025, time.December, 31, 23, 59, 0, 0, time.UTC),
			wantStart: time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			start, end := report.MonthWindow(tt.at)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestMonthlySummary(t *testing.T) {
	attempts := []domain.AttemptSummary{
		summary(1, "Math", 80, true, may.Add(1*time.Hour)),
		summary(2, "Math", 40, true, may.Add(2*time.Hour)),
		summary(3, "Physics", 100, true, may.Add(3*time.Hour)),
		summary(4, "Physics", 0, true, may.Add(4*time.Hour)),
		summary(5, "Physics", 60, true, may.Add(5*time.Hour)),
		incomplete(6, "Chemistry", may.Add(6*time.Hour)),
	}

	m := report.MonthlySummary(may, attempts)
	require.NotNil(t, m)

	assert.Equal(t, 6, m.TotalAttempts)
	assert.Equal(t, 3, m.Passed, "80, 100 and 60 should pass at 50%")
	assert.Equal(t, 3, m.Failed)
	assert.Equal(t, 50.0, m.PassRate)
	assert.Equal(t, 46.67, m.AverageScore, "average should be over all attempts")
	assert.Equal(t, 100.0, m.HighestScore)
	assert.Equal(t, []report.SubjectAverage{
		{Subject: "Math", Average: 60},
		{Subject: "Physics", Average: 53.33},
	}, m.SubjectAverages, "subjects without scores should be left out")

	require.Len(t, m.Recent, report.RecentAttempts)
	assert.EqualValues(t, 6, m.Recent[0].ID, "recent attempts should be newest first")
	assert.EqualValues(t, 2, m.Recent[4].ID)
}

func TestMonthlySummary_NoAttempts(t *testing.T) {
	assert.Nil(t, report.MonthlySummary(may, nil))
}

func TestStatistics(t *testing.T) {
	now := may.Add(48 * time.Hour)
	quizzes := []domain.Quiz{{ID: 1}, {ID: 2}}
	attempts := []domain.AttemptSummary{
		summary(1, "Math", 100, true, may),
		summary(2, "Math", 50, true, may),
		summary(3, "Math", 20, true, may),
		incomplete(4, "Math", may),
	}
	for i := range attempts {
		attempts[i].QuizID = 1
	}

	got := report.Statistics(quizzes, attempts, now)

	assert.Equal(t, map[int64]report.QuizStatistics{
		1: {AvgScore: 56.67, PassRate: 66.67, TotalAttempts: 3, LastUpdated: now},
		2: {LastUpdated: now},
	}, got)
}

func TestAnalyze(t *testing.T) {
	limit := 30
	a1 := summary(1, "Math", 80, true, may)
	a1.TimeLimit = &limit
	a2 := summary(2, "Physics", 70, true, may.AddDate(0, 0, 2))
	a3 := summary(3, "Math", 50, true, may.AddDate(0, 0, 1))
	a3.TimeLimit = &limit

	got := report.Analyze([]domain.AttemptSummary{a1, a2, a3, incomplete(4, "Math", may)})

	assert.Equal(t, 3, got.TotalQuizzes)
	assert.Equal(t, 66.67, got.AverageScore)
	assert.Equal(t, 80.0, got.HighestScore)
	assert.Equal(t, 60, got.TotalTime)
	assert.Equal(t, []report.TimelinePoint{
		{Date: "2025-05-03", Score: 70},
		{Date: "2025-05-02", Score: 50},
		{Date: "2025-05-01", Score: 80},
	}, got.Timeline)
	assert.Equal(t, []report.SubjectPerformance{
		{Subject: "Math", Average: 65, TimeSpent: 60},
		{Subject: "Physics", Average: 70},
	}, got.Subjects)
}

func TestAnalyze_Empty(t *testing.T) {
	got := report.Analyze(nil)
	assert.Zero(t, got.TotalQuizzes)
	assert.Zero(t, got.AverageScore)
	assert.Empty(t, got.Timeline)
}

func TestWriteCSV(t *testing.T) {
	limit := 20
	pass := summary(1, "Math", 75, true, time.Date(2025, time.May, 2, 9, 5, 0, 0, time.UTC))
	pass.TimeLimit = &limit
	open := incomplete(2, "Physics", time.Date(2025, time.May, 3, 14, 30, 0, 0, time.UTC))

	tests := map[string]struct {
		withUser bool
		want     string
	}{
		"user export": {
			want: "Quiz Title,Subject,Chapter,Score (%),Status,Time Limit (min),Pass Percentage,Date/Time\n" +
				"Quiz 1,Math,Chapter,75.0,PASS,20,50%,02/05/2025 09:05\n" +
				"Quiz 2,Physics,Chapter,N/A,INCOMPLETE,No limit,50%,03/05/2025 14:30\n",
		},
		"admin export should prepend the user": {
			withUser: true,
			want: "User Name,User Email,Quiz Title,Subject,Chapter,Score (%),Status,Time Limit (min),Pass Percentage,Date/Time\n" +
				"Alice,alice@example.com,Quiz 1,Math,Chapter,75.0,PASS,20,50%,02/05/2025 09:05\n" +
				"Alice,alice@example.com,Quiz 2,Physics,Chapter,N/A,INCOMPLETE,No limit,50%,03/05/2025 14:30\n",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, report.WriteCSV(&buf, []domain.AttemptSummary{pass, open}, tt.withUser))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, report.WriteJSON(&buf, []domain.AttemptSummary{summary(1, "Math", 30, true, may)}))

	var got []report.ExportRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, domain.AttemptStatusFail, got[0].Status)
	assert.Equal(t, "alice@example.com", got[0].UserEmail)
}

func TestFilename(t *testing.T) {
	got := report.Filename("performance_report", "csv", time.Date(2025, time.May, 2, 9, 5, 7, 0, time.UTC))
	assert.Equal(t, "performance_report_20250502_090507.csv", got)
}

func summary(id int64, subject string, score float64, completed bool, at time.Time) domain.AttemptSummary {
	return domain.AttemptSummary{
		Attempt: domain.Attempt{
			ID:          id,
			UserID:      1,
			QuizID:      id,
			DateTaken:   at,
			Score:       &score,
			IsCompleted: completed,
		},
		QuizTitle:      "Quiz " + string(rune('0'+id)),
		ChapterName:    "Chapter",
		SubjectName:    subject,
		PassPercentage: domain.DefaultPassPercentage,
		UserName:       "Alice",
		UserEmail:      "alice@example.com",
	}
}

func incomplete(id int64, subject string, at time.Time) domain.AttemptSummary {
	a := summary(id, subject, 0, false, at)
	a.Score = nil
	return a
}
