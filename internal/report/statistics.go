package report

import (
	"time"

	"github.com/victornm/quizmaster/internal/domain"
)

type QuizStatistics struct {
	AvgScore      float64   `json:"avg_score"`
	PassRate      float64   `json:"pass_rate"`
	TotalAttempts int       `json:"total_attempts"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Statistics computes per-quiz statistics over completed attempts. Every quiz gets an entry,
// zero valued when it has no completed attempt.
func Statistics(quizzes []domain.Quiz, attempts []domain.AttemptSummary, now time.Time) map[int64]QuizStatistics {
	type acc struct {
		sum    float64
		passed int
		total  int
	}

	byQuiz := make(map[int64]*acc, len(quizzes))
	for _, q := range quizzes {
		byQuiz[q.ID] = &acc{}
	}

	for _, a := range attempts {
		if !a.IsCompleted {
			continue
		}

		s, ok := byQuiz[a.QuizID]
		if !ok {
			continue
		}

		s.total++
		if a.Score != nil {
			s.sum += *a.Score
		}
		if a.Passed() {
			s.passed++
		}
	}

	stats := make(map[int64]QuizStatistics, len(byQuiz))
	for id, s := range byQuiz {
		st := QuizStatistics{TotalAttempts: s.total, LastUpdated: now}
		if s.total > 0 {
			st.AvgScore = Round(s.sum / float64(s.total))
			st.PassRate = Round(float64(s.passed) / float64(s.total) * 100)
		}
		stats[id] = st
	}

	return stats
}
