package report

import (
	"sort"
	"time"

	"github.com/victornm/quizmaster/internal/domain"
)

type TimelinePoint struct {
	Date  string  `json:"date"`
	Score float64 `json:"score"`
}

type SubjectPerformance struct {
	Subject string  `json:"subject"`
	Average float64 `json:"average"`
	// TimeSpent sums the time limits of the attempted quizzes, in minutes.
	TimeSpent int `json:"time_spent"`
}

type Analysis struct {
	TotalQuizzes int                  `json:"total_quizzes"`
	AverageScore float64              `json:"average_score"`
	HighestScore float64              `json:"highest_score"`
	TotalTime    int                  `json:"total_time"`
	Timeline     []TimelinePoint      `json:"timeline"`
	Subjects     []SubjectPerformance `json:"subjects"`
}

// Analyze summarizes a user's completed attempts. Incomplete attempts are ignored.
func Analyze(attempts []domain.AttemptSummary) Analysis {
	var completed []domain.AttemptSummary
	for _, a := range attempts {
		if a.IsCompleted {
			completed = append(completed, a)
		}
	}
	sort.SliceStable(completed, func(i, j int) bool {
		return completed[i].DateTaken.After(completed[j].DateTaken)
	})

	an := Analysis{
		TotalQuizzes: len(completed),
		Timeline:     make([]TimelinePoint, 0, len(completed)),
		Subjects:     []SubjectPerformance{},
	}

	type subj struct {
		scores []float64
		time   int
	}
	subjects := map[string]*subj{}

	var sum float64
	for _, a := range completed {
		score := 0.0
		if a.Score != nil {
			score = *a.Score
		}
		sum += score
		an.HighestScore = max(an.HighestScore, score)
		an.Timeline = append(an.Timeline, TimelinePoint{Date: a.DateTaken.Format(time.DateOnly), Score: score})

		s, ok := subjects[a.SubjectName]
		if !ok {
			s = &subj{}
			subjects[a.SubjectName] = s
		}
		s.scores = append(s.scores, score)

		if a.TimeLimit != nil {
			an.TotalTime += *a.TimeLimit
			s.time += *a.TimeLimit
		}
	}

	if len(completed) > 0 {
		an.AverageScore = Round(sum / float64(len(completed)))
	}

	for name, s := range subjects {
		an.Subjects = append(an.Subjects, SubjectPerformance{Subject: name, Average: Round(mean(s.scores)), TimeSpent: s.time})
	}
	sort.Slice(an.Subjects, func(i, j int) bool { return an.Subjects[i].Subject < an.Subjects[j].Subject })

	return an
}
