package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizmaster/internal/domain"
)

var now = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func TestQuiz_Availability(t *testing.T) {
	tests := map[string]struct {
		quiz          domain.Quiz
		wantAvailable bool
		wantStart     *time.Duration
		wantEnd       *time.Duration
	}{
		"unscheduled quiz should be available regardless of bounds": {
			quiz:          domain.Quiz{StartDatetime: at(time.Hour), EndDatetime: at(-time.Hour)},
			wantAvailable: true,
		},
		"scheduled quiz inside the window should be available": {
			quiz:          domain.Quiz{IsScheduled: true, StartDatetime: at(-time.Hour), EndDatetime: at(time.Hour)},
			wantAvailable: true,
			wantEnd:       durationPtr(time.Hour),
		},
		"scheduled quiz before start should not be available": {
			quiz:          domain.Quiz{IsScheduled: true, StartDatetime: at(90 * time.Minute), EndDatetime: at(3 * time.Hour)},
			wantAvailable: false,
			wantStart:     durationPtr(90 * time.Minute),
			wantEnd:       durationPtr(3 * time.Hour),
		},
		"scheduled quiz after end should not be available": {
			quiz:          domain.Quiz{IsScheduled: true, StartDatetime: at(-3 * time.Hour), EndDatetime: at(-time.Second)},
			wantAvailable: false,
		},
		"boundaries are inclusive": {
			quiz:          domain.Quiz{IsScheduled: true, StartDatetime: at(0), EndDatetime: at(0)},
			wantAvailable: true,
		},
		"missing start should be open on that side": {
			quiz:          domain.Quiz{IsScheduled: true, EndDatetime: at(time.Minute)},
			wantAvailable: true,
			wantEnd:       durationPtr(time.Minute),
		},
		"missing end should be open on that side": {
			quiz:          domain.Quiz{IsScheduled: true, StartDatetime: at(-24 * 365 * time.Hour)},
			wantAvailable: true,
		},
		"scheduled quiz without bounds should be available": {
			quiz:          domain.Quiz{IsScheduled: true},
			wantAvailable: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			a := tt.quiz.Availability(now)

			assert.Equal(t, tt.wantAvailable, a.Available)
			assert.True(t, a.RegistrationOpen)
			assert.Equal(t, tt.wantStart, a.TimeUntilStart)
			assert.Equal(t, tt.wantEnd, a.TimeUntilEnd)
		})
	}
}

func TestQuiz_UnscheduledAlwaysAvailable(t *testing.T) {
	q := domain.Quiz{}
	for _, d := range []time.Duration{-1000 * time.Hour, -time.Second, 0, time.Second, 1000 * time.Hour} {
		assert.True(t, q.IsAvailable(now.Add(d)))
	}
}

func TestQuiz_UnavailableReason(t *testing.T) {
	upcoming := domain.Quiz{IsScheduled: true, StartDatetime: at(2*24*time.Hour + 3*time.Hour + 4*time.Minute)}
	assert.Equal(t, "This quiz is scheduled to start in 2 days, 3 hours, 4 minutes.", upcoming.UnavailableReason(now))

	ended := domain.Quiz{IsScheduled: true, EndDatetime: at(-time.Minute)}
	assert.Equal(t, "This quiz has ended.", ended.UnavailableReason(now))
}

func TestAttempt_Passed(t *testing.T) {
	tests := map[string]struct {
		score      *float64
		completed  bool
		threshold  float64
		wantPassed bool
		wantStatus domain.AttemptStatus
	}{
		"score above threshold passes": {
			score: floatPtr(80), completed: true, threshold: 50,
			wantPassed: true, wantStatus: domain.AttemptStatusPass,
		},
		"score equal to threshold passes": {
			score: floatPtr(75), completed: true, threshold: 75,
			wantPassed: true, wantStatus: domain.AttemptStatusPass,
		},
		"score below threshold fails": {
			score: floatPtr(74.99), completed: true, threshold: 75,
			wantPassed: false, wantStatus: domain.AttemptStatusFail,
		},
		"abandoned attempt fails": {
			score: floatPtr(0), completed: true, threshold: 50,
			wantPassed: false, wantStatus: domain.AttemptStatusFail,
		},
		"incomplete attempt has no score": {
			threshold:  0,
			wantPassed: false, wantStatus: domain.AttemptStatusIncomplete,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			a := domain.Attempt{Score: tt.score, IsCompleted: tt.completed}
			assert.Equal(t, tt.wantPassed, a.Passed(tt.threshold))
			assert.Equal(t, tt.wantStatus, a.Status(tt.threshold))
		})
	}
}

func TestGrade(t *testing.T) {
	questions := makeQuestions(4)

	tests := map[string]struct {
		questions     []domain.Question
		selected      map[int64]int64
		wantScore     float64
		wantResponses int
	}{
		"all correct should score 100": {
			questions:     questions,
			selected:      map[int64]int64{1: 11, 2: 21, 3: 31, 4: 41},
			wantScore:     100,
			wantResponses: 4,
		},
		"none correct should score 0": {
			questions:     questions,
			selected:      map[int64]int64{1: 12, 2: 22, 3: 32, 4: 42},
			wantScore:     0,
			wantResponses: 4,
		},
		"three correct and one blank should score 75": {
			questions:     questions,
			selected:      map[int64]int64{1: 11, 2: 21, 3: 31},
			wantScore:     75,
			wantResponses: 3,
		},
		"nothing answered should score 0 without responses": {
			questions: questions,
			selected:  map[int64]int64{},
			wantScore: 0,
		},
		"option of another question should be ignored": {
			questions:     questions,
			selected:      map[int64]int64{1: 21, 2: 21},
			wantScore:     25,
			wantResponses: 1,
		},
		"quiz without questions should score 0": {
			selected:  map[int64]int64{1: 11},
			wantScore: 0,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			score, responses := domain.Grade(tt.questions, tt.selected)
			assert.InDelta(t, tt.wantScore, score, 1e-9)
			require.Len(t, responses, tt.wantResponses)
			for _, r := range responses {
				assert.Equal(t, tt.selected[r.QuestionID], r.OptionID)
			}
		})
	}
}

// makeQuestions builds n questions with IDs 1..n, each with a correct option 10*id+1
// and a wrong option 10*id+2.
func makeQuestions(n int) []domain.Question {
	qs := make([]domain.Question, 0, n)
	for i := int64(1); i <= int64(n); i++ {
		qs = append(qs, domain.Question{
			ID: i,
			Options: []domain.Option{
				{ID: 10*i + 1, QuestionID: i, IsCorrect: true},
				{ID: 10*i + 2, QuestionID: i},
			},
		})
	}
	return qs
}

func durationPtr(d time.Duration) *time.Duration { return &d }

func floatPtr(f float64) *float64 { return &f }
