// Package report aggregates attempts into monthly summaries, user analysis,
// per-quiz statistics and exports.
package report

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/quizmaster/internal/domain"
)

const RecentAttempts = 5

// MonthWindow returns the first instant of the month containing t and of the month after it.
func MonthWindow(t time.Time) (start, end time.Time) {
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 1, 0)
}

type SubjectAverage struct {
	Subject string  `json:"subject"`
	Average float64 `json:"average"`
}

type Monthly struct {
	Month           time.Time               `json:"month"`
	TotalAttempts   int                     `json:"total_attempts"`
	Passed          int                     `json:"passed"`
	Failed          int                     `json:"failed"`
	PassRate        float64                 `json:"pass_rate"`
	AverageScore    float64                 `json:"average_score"`
	HighestScore    float64                 `json:"highest_score"`
	SubjectAverages []SubjectAverage        `json:"subject_averages"`
	Recent          []domain.AttemptSummary `json:"recent"`
}

// MonthlySummary aggregates the attempts taken in one month. It returns nil when there are none.
// The average score is the sum of scores over all attempts, the subject averages only count
// attempts with a score.
func MonthlySummary(month time.Time, attempts []domain.AttemptSummary) *Monthly {
	if len(attempts) == 0 {
		return nil
	}

	sorted := make([]domain.AttemptSummary, len(attempts))
	copy(sorted, attempts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DateTaken.After(sorted[j].DateTaken)
	})

	m := &Monthly{Month: month, TotalAttempts: len(sorted)}

	var (
		sum      float64
		subjects = map[string][]float64{}
	)
	for _, a := range sorted {
		if a.Passed() {
			m.Passed++
		}
		if a.Score != nil {
			sum += *a.Score
			m.HighestScore = max(m.HighestScore, *a.Score)
			subjects[a.SubjectName] = append(subjects[a.SubjectName], *a.Score)
		}
	}

	m.Failed = m.TotalAttempts - m.Passed
	m.PassRate = Round(float64(m.Passed) / float64(m.TotalAttempts) * 100)
	m.AverageScore = Round(sum / float64(m.TotalAttempts))
	m.SubjectAverages = subjectAverages(subjects)
	m.Recent = sorted[:min(RecentAttempts, len(sorted))]

	return m
}

func subjectAverages(scores map[string][]float64) []SubjectAverage {
	out := make([]SubjectAverage, 0, len(scores))
	for name, s := range scores {
		out = append(out, SubjectAverage{Subject: name, Average: Round(mean(s))})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}

	var sum float64
	for _, x := range v {
		sum += x
	}

	return sum / float64(len(v))
}

// Round rounds v half away from zero to 2 decimal places.
func Round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
