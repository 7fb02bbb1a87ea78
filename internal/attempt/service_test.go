package attempt_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizmaster/internal/attempt"
	"github.com/victornm/quizmaster/internal/cache"
	"github.com/victornm/quizmaster/internal/domain"
	"github.com/victornm/quizmaster/internal/errors"
	"github.com/victornm/quizmaster/internal/store"
)

var now = time.Date(2025, time.May, 15, 10, 0, 0, 0, time.UTC)

var (
	user  = domain.Principal{UserID: 1, SessionID: "s1"}
	admin = domain.Principal{UserID: 99, IsAdmin: true, SessionID: "s99"}
)

func TestService_Enter(t *testing.T) {
	future := now.Add(26*time.Hour + 5*time.Minute)
	past := now.Add(-time.Hour)

	tests := map[string]struct {
		arrange      func(fs *fakeStore)
		principal    domain.Principal
		wantWarning  string
		wantRedirect string
		wantCode     errors.Code
	}{
		"available quiz should be entered": {
			principal: user,
		},
		"admin should be barred": {
			principal:    admin,
			wantWarning:  "Admins cannot attempt quizzes.",
			wantRedirect: attempt.PathDashboard,
			wantCode:     errors.CodePermissionDenied,
		},
		"quiz not started yet should show the countdown": {
			arrange: func(fs *fakeStore) {
				fs.quizzes[1].IsScheduled = true
				fs.quizzes[1].StartDatetime = &future
			},
			principal:    user,
			wantWarning:  "This quiz is scheduled to start in 1 days, 2 hours, 5 minutes.",
			wantRedirect: attempt.PathQuizzes,
			wantCode:     errors.CodeFailedPrecondition,
		},
		"ended quiz should be rejected": {
			arrange: func(fs *fakeStore) {
				fs.quizzes[1].IsScheduled = true
				fs.quizzes[1].EndDatetime = &past
			},
			principal:    user,
			wantWarning:  "This quiz has ended.",
			wantRedirect: attempt.PathQuizzes,
			wantCode:     errors.CodeFailedPrecondition,
		},
		"completed quiz should redirect to its results": {
			arrange: func(fs *fakeStore) {
				fs.addAttempt(domain.Attempt{UserID: 1, QuizID: 1, IsCompleted: true, Score: ptr(50.0)})
			},
			principal:    user,
			wantWarning:  "You have already completed this quiz. You cannot retake it.",
			wantRedirect: attempt.PathResults(1),
			wantCode:     errors.CodeFailedPrecondition,
		},
		"quiz without questions should be rejected": {
			arrange: func(fs *fakeStore) {
				fs.quizzes[1].Questions = nil
			},
			principal:    user,
			wantWarning:  "This quiz has no questions yet.",
			wantRedirect: attempt.PathQuizzes,
			wantCode:     errors.CodeFailedPrecondition,
		},
		"incomplete attempt should be recorded with score 0": {
			arrange: func(fs *fakeStore) {
				fs.addAttempt(domain.Attempt{UserID: 1, QuizID: 1, DateTaken: now.Add(-time.Minute)})
			},
			principal:    user,
			wantWarning:  "You previously left an attempt incomplete. It has been recorded as a submission.",
			wantRedirect: attempt.PathResults(1),
			wantCode:     errors.CodeFailedPrecondition,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			fs := newFakeStore(4)
			if tt.arrange != nil {
				tt.arrange(fs)
			}
			s := makeService(t, fs)

			got, err := s.Enter(context.Background(), attempt.EnterRequest{Principal: tt.principal, QuizID: 1})

			if tt.wantWarning == "" {
				require.NoError(t, err)
				assert.True(t, got.Availability.Available)
				assert.Len(t, got.Quiz.Questions, 4)
				return
			}

			assertWarning(t, err, tt.wantCode, tt.wantWarning, tt.wantRedirect)
		})
	}
}

func TestService_Enter_AbandonedAttemptIsFinal(t *testing.T) {
	fs := newFakeStore(2)
	fs.addAttempt(domain.Attempt{UserID: 1, QuizID: 1, DateTaken: now.Add(-time.Minute)})
	s := makeService(t, fs)
	ctx := context.Background()

	_, err := s.Enter(ctx, attempt.EnterRequest{Principal: user, QuizID: 1})
	require.Error(t, err)

	a := fs.attempts[1]
	assert.True(t, a.IsCompleted)
	require.NotNil(t, a.Score)
	assert.Zero(t, *a.Score)

	_, err = s.Start(ctx, attempt.StartRequest{Principal: user, QuizID: 1})
	assertWarning(t, err, errors.CodeFailedPrecondition,
		"You have already completed this quiz. You cannot retake it.", attempt.PathResults(1))
}

func TestService_StartSubmit(t *testing.T) {
	tests := map[string]struct {
		answers    func(qs []domain.Question) map[int64]int64
		passPct    float64
		wantScore  float64
		wantPassed bool
		wantResps  int
	}{
		"all correct should score 100": {
			answers:    func(qs []domain.Question) map[int64]int64 { return answers(qs, len(qs), 0) },
			passPct:    domain.DefaultPassPercentage,
			wantScore:  100,
			wantPassed: true,
			wantResps:  4,
		},
		"none correct should score 0": {
			answers:   func(qs []domain.Question) map[int64]int64 { return answers(qs, 0, len(qs)) },
			passPct:   domain.DefaultPassPercentage,
			wantScore: 0,
			wantResps: 4,
		},
		"three correct and one blank should score 75 and pass at 75": {
			answers:    func(qs []domain.Question) map[int64]int64 { return answers(qs, 3, 0) },
			passPct:    75,
			wantScore:  75,
			wantPassed: true,
			wantResps:  3,
		},
		"75 should fail at 75.01": {
			answers:   func(qs []domain.Question) map[int64]int64 { return answers(qs, 3, 0) },
			passPct:   75.01,
			wantScore: 75,
			wantResps: 3,
		},
		"nothing answered should score 0 without responses": {
			answers:   func([]domain.Question) map[int64]int64 { return nil },
			passPct:   domain.DefaultPassPercentage,
			wantScore: 0,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fs := newFakeStore(4)
			fs.quizzes[1].PassPercentage = tt.passPct
			s := makeService(t, fs)

			started, err := s.Start(ctx, attempt.StartRequest{Principal: user, QuizID: 1})
			require.NoError(t, err)
			assert.False(t, started.Attempt.IsCompleted)

			got, err := s.Submit(ctx, attempt.SubmitRequest{
				Principal: user,
				QuizID:    1,
				Answers:   tt.answers(fs.quizzes[1].Questions),
			})
			require.NoError(t, err)

			require.NotNil(t, got.Attempt.Score)
			assert.Equal(t, tt.wantScore, *got.Attempt.Score)
			assert.Equal(t, tt.wantPassed, got.Passed)

			stored := fs.attempts[started.Attempt.ID]
			assert.True(t, stored.IsCompleted)
			assert.Equal(t, tt.wantScore, *stored.Score)
			assert.Len(t, stored.Responses, tt.wantResps)
		})
	}
}

func TestService_Start_TimeLimitAndSession(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore(1)
	fs.quizzes[1].TimeLimit = ptr(10)
	s, sessions := makeServiceWithSessions(t, fs)

	got, err := s.Start(ctx, attempt.StartRequest{Principal: user, QuizID: 1})
	require.NoError(t, err)
	require.NotNil(t, got.TimeRemaining)
	assert.Equal(t, 600, *got.TimeRemaining)

	sess, err := sessions.Get(ctx, user.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, got.Attempt.ID, sess.CurrentAttemptID)
	assert.EqualValues(t, 1, sess.CurrentQuizID)

	_, err = s.Submit(ctx, attempt.SubmitRequest{Principal: user, QuizID: 1})
	require.NoError(t, err)

	sess, err = sessions.Get(ctx, user.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Zero(t, sess.CurrentAttemptID, "current attempt should be cleared")
	assert.Nil(t, sess.TimeRemaining)
}

func TestService_Start_DiscardsIncomplete(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore(2)
	s := makeService(t, fs)

	first, err := s.Start(ctx, attempt.StartRequest{Principal: user, QuizID: 1})
	require.NoError(t, err)
	fs.responses[first.Attempt.ID] = []domain.Response{{AttemptID: first.Attempt.ID, QuestionID: 1, OptionID: 11}}

	second, err := s.Start(ctx, attempt.StartRequest{Principal: user, QuizID: 1})
	require.NoError(t, err)
	assert.NotEqual(t, first.Attempt.ID, second.Attempt.ID)

	_, ok := fs.attempts[first.Attempt.ID]
	assert.False(t, ok, "old attempt should be deleted")
	assert.Empty(t, fs.responses[first.Attempt.ID], "old responses should be deleted")
	assert.Equal(t, 1, fs.incomplete(1, 1), "there should be a single attempt in progress")
}

func TestService_Submit_Invalid(t *testing.T) {
	tests := map[string]struct {
		arrange   func(t *testing.T, s *attempt.Service, fs *fakeStore, sessions *cache.Sessions)
		principal domain.Principal
		quizID    int64
	}{
		"no current attempt": {
			principal: user,
			quizID:    1,
		},
		"attempt of another quiz": {
			arrange: func(t *testing.T, s *attempt.Service, fs *fakeStore, _ *cache.Sessions) {
				_, err := s.Start(context.Background(), attempt.StartRequest{Principal: user, QuizID: 1})
				require.NoError(t, err)
			},
			principal: user,
			quizID:    2,
		},
		"attempt of another user": {
			arrange: func(t *testing.T, _ *attempt.Service, fs *fakeStore, sessions *cache.Sessions) {
				id := fs.addAttempt(domain.Attempt{UserID: 7, QuizID: 1})
				require.NoError(t, sessions.Set(context.Background(), user.SessionID, cache.Session{UserID: 1, CurrentAttemptID: id}))
			},
			principal: user,
			quizID:    1,
		},
		"deleted attempt": {
			arrange: func(t *testing.T, _ *attempt.Service, _ *fakeStore, sessions *cache.Sessions) {
				require.NoError(t, sessions.Set(context.Background(), user.SessionID, cache.Session{UserID: 1, CurrentAttemptID: 42}))
			},
			principal: user,
			quizID:    1,
		},
		"submitted twice": {
			arrange: func(t *testing.T, s *attempt.Service, fs *fakeStore, sessions *cache.Sessions) {
				ctx := context.Background()
				started, err := s.Start(ctx, attempt.StartRequest{Principal: user, QuizID: 1})
				require.NoError(t, err)
				_, err = s.Submit(ctx, attempt.SubmitRequest{Principal: user, QuizID: 1})
				require.NoError(t, err)
				require.NoError(t, sessions.Set(ctx, user.SessionID, cache.Session{UserID: 1, CurrentAttemptID: started.Attempt.ID}))
			},
			principal: user,
			quizID:    1,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			fs := newFakeStore(2)
			fs.quizzes[2] = &domain.Quiz{ID: 2, Title: "Other", PassPercentage: 50, Questions: makeQuestions(1)}
			s, sessions := makeServiceWithSessions(t, fs)
			if tt.arrange != nil {
				tt.arrange(t, s, fs, sessions)
			}

			_, err := s.Submit(context.Background(), attempt.SubmitRequest{Principal: tt.principal, QuizID: tt.quizID})
			assertWarning(t, err, errors.CodeFailedPrecondition, "Invalid quiz attempt.", attempt.PathQuizzes)
		})
	}
}

func TestService_Submit_Admin(t *testing.T) {
	s := makeService(t, newFakeStore(1))
	_, err := s.Submit(context.Background(), attempt.SubmitRequest{Principal: admin, QuizID: 1})
	assertWarning(t, err, errors.CodePermissionDenied, "Admins cannot attempt quizzes.", attempt.PathDashboard)
}

func TestService_Results(t *testing.T) {
	fs := newFakeStore(2)
	id := fs.addAttempt(domain.Attempt{UserID: 1, QuizID: 1, IsCompleted: true, Score: ptr(50.0)})
	s := makeService(t, fs)
	ctx := context.Background()

	got, err := s.Results(ctx, user, id)
	require.NoError(t, err)
	assert.True(t, got.Passed, "score equal to the pass percentage should pass")
	assert.Equal(t, domain.AttemptStatusPass, got.Status)

	_, err = s.Results(ctx, admin, id)
	require.NoError(t, err, "admins should see every result")

	_, err = s.Results(ctx, domain.Principal{UserID: 2}, id)
	assertWarning(t, err, errors.CodePermissionDenied, "You do not have permission to view these results.", attempt.PathDashboard)

	_, err = s.Results(ctx, user, 404)
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestService_Dashboard(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore(1)
	future := now.Add(time.Hour)
	fs.quizzes[2] = &domain.Quiz{ID: 2, IsScheduled: true, StartDatetime: &future}
	for i := 0; i < 7; i++ {
		fs.addAttempt(domain.Attempt{UserID: 1, QuizID: 1, DateTaken: now.Add(time.Duration(i) * time.Minute)})
	}
	s := makeService(t, fs)

	got, err := s.Dashboard(ctx, user)
	require.NoError(t, err)
	assert.Len(t, got.RecentAttempts, 5)
	require.Len(t, got.AvailableQuizzes, 1)
	assert.EqualValues(t, 1, got.AvailableQuizzes[0].ID)

	fs.addAttempt(domain.Attempt{UserID: 1, QuizID: 1, DateTaken: now.Add(time.Hour)})
	got, err = s.Dashboard(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, now.Add(6*time.Minute), got.RecentAttempts[0].DateTaken.UTC(), "dashboard should be served from cache")
}

func TestService_Analysis(t *testing.T) {
	fs := newFakeStore(1)
	fs.addAttempt(domain.Attempt{UserID: 1, QuizID: 1, IsCompleted: true, Score: ptr(80.0), DateTaken: now})
	fs.addAttempt(domain.Attempt{UserID: 1, QuizID: 1, IsCompleted: true, Score: ptr(60.0), DateTaken: now})
	fs.addAttempt(domain.Attempt{UserID: 1, QuizID: 1, DateTaken: now})
	s := makeService(t, fs)

	got, err := s.Analysis(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalQuizzes)
	assert.Equal(t, 70.0, got.AverageScore)
	assert.Equal(t, 80.0, got.HighestScore)
}

func assertWarning(t *testing.T, err error, code errors.Code, msg, redirect string) {
	t.Helper()

	require.Error(t, err)
	e := errors.Convert(err)
	assert.Equal(t, code, e.Code)
	assert.Equal(t, msg, e.Message)
	assert.Equal(t, redirect, e.Redirect)
	assert.True(t, e.IsWarning())
}

func makeService(t *testing.T, fs *fakeStore) *attempt.Service {
	s, _ := makeServiceWithSessions(t, fs)
	return s
}

func makeServiceWithSessions(t *testing.T, fs *fakeStore) (*attempt.Service, *cache.Sessions) {
	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})
	t.Cleanup(func() { rc.Close() })

	sessions := cache.NewSessions(cache.SessionConfig{Redis: rc})
	s := attempt.NewService(attempt.Config{
		Store:    fs,
		Sessions: sessions,
		Cache:    cache.New(cache.Config{Redis: rc}),
		Now:      func() time.Time { return now },
	})

	return s, sessions
}

// makeQuestions returns n questions with IDs 1..n, option 10i+1 is correct and 10i+2 is wrong.
func makeQuestions(n int) []domain.Question {
	qs := make([]domain.Question, n)
	for i := range qs {
		id := int64(i + 1)
		qs[i] = domain.Question{
			ID:     id,
			QuizID: 1,
			Text:   "question",
			Points: domain.DefaultPoints,
			Options: []domain.Option{
				{ID: id*10 + 1, QuestionID: id, IsCorrect: true},
				{ID: id*10 + 2, QuestionID: id},
			},
		}
	}
	return qs
}

// answers answers the first correct questions right, the next wrong ones wrong, and leaves the rest blank.
func answers(qs []domain.Question, correct, wrong int) map[int64]int64 {
	m := map[int64]int64{}
	for i, q := range qs {
		switch {
		case i < correct:
			m[q.ID] = q.ID*10 + 1
		case i < correct+wrong:
			m[q.ID] = q.ID*10 + 2
		}
	}
	return m
}

func ptr[T any](v T) *T { return &v }

type fakeStore struct {
	mu        sync.Mutex
	nextID    int64
	quizzes   map[int64]*domain.Quiz
	attempts  map[int64]*domain.Attempt
	responses map[int64][]domain.Response
}

func newFakeStore(questions int) *fakeStore {
	return &fakeStore{
		quizzes: map[int64]*domain.Quiz{
			1: {ID: 1, Title: "Algebra", PassPercentage: domain.DefaultPassPercentage, Questions: makeQuestions(questions)},
		},
		attempts:  map[int64]*domain.Attempt{},
		responses: map[int64][]domain.Response{},
	}
}

func (fs *fakeStore) addAttempt(a domain.Attempt) int64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.nextID++
	a.ID = fs.nextID
	fs.attempts[a.ID] = &a
	return a.ID
}

func (fs *fakeStore) incomplete(userID, quizID int64) int {
	n := 0
	for _, a := range fs.attempts {
		if a.UserID == userID && a.QuizID == quizID && !a.IsCompleted {
			n++
		}
	}
	return n
}

func (fs *fakeStore) GetQuiz(_ context.Context, id int64, withQuestions bool) (*domain.Quiz, error) {
	q, ok := fs.quizzes[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound)
	}

	cp := *q
	cp.QuestionCount = len(q.Questions)
	if !withQuestions {
		cp.Questions = nil
	}
	return &cp, nil
}

func (fs *fakeStore) ListQuizzes(_ context.Context, _ store.QuizFilter) ([]domain.Quiz, error) {
	var out []domain.Quiz
	for id := int64(1); id <= int64(len(fs.quizzes)); id++ {
		if q, ok := fs.quizzes[id]; ok {
			out = append(out, *q)
		}
	}
	return out, nil
}

func (fs *fakeStore) CompletedAttempt(_ context.Context, userID, quizID int64) (*domain.Attempt, error) {
	for id := int64(1); id <= fs.nextID; id++ {
		a, ok := fs.attempts[id]
		if ok && a.UserID == userID && a.QuizID == quizID && a.IsCompleted {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (fs *fakeStore) ForceCompleteIncomplete(_ context.Context, userID, quizID int64) (*domain.Attempt, error) {
	var latest *domain.Attempt
	for _, a := range fs.attempts {
		if a.UserID == userID && a.QuizID == quizID && !a.IsCompleted {
			a.IsCompleted = true
			a.Score = ptr(0.0)
			if latest == nil || a.DateTaken.After(latest.DateTaken) {
				latest = a
			}
		}
	}
	return latest, nil
}

func (fs *fakeStore) StartAttempt(_ context.Context, userID, quizID int64, at time.Time) (*domain.Attempt, int64, error) {
	var discarded int64
	for id, a := range fs.attempts {
		if a.UserID == userID && a.QuizID == quizID && !a.IsCompleted {
			delete(fs.attempts, id)
			delete(fs.responses, id)
			discarded++
		}
	}

	id := fs.addAttempt(domain.Attempt{UserID: userID, QuizID: quizID, DateTaken: at})
	cp := *fs.attempts[id]
	return &cp, discarded, nil
}

func (fs *fakeStore) GetAttempt(_ context.Context, id int64) (*domain.Attempt, error) {
	a, ok := fs.attempts[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound)
	}
	cp := *a
	cp.Responses = fs.responses[id]
	return &cp, nil
}

func (fs *fakeStore) CompleteAttempt(_ context.Context, id int64, score float64, responses []domain.Response) error {
	a, ok := fs.attempts[id]
	if !ok || a.IsCompleted {
		return errors.New(errors.CodeFailedPrecondition)
	}
	a.IsCompleted = true
	a.Score = &score
	a.Responses = responses
	fs.responses[id] = responses
	return nil
}

func (fs *fakeStore) ListAttempts(_ context.Context, f store.AttemptFilter) ([]domain.AttemptSummary, error) {
	var out []domain.AttemptSummary
	for id := fs.nextID; id >= 1; id-- {
		a, ok := fs.attempts[id]
		if !ok || (f.UserID != 0 && a.UserID != f.UserID) {
			continue
		}
		if f.Completed != nil && a.IsCompleted != *f.Completed {
			continue
		}
		out = append(out, domain.AttemptSummary{Attempt: *a, PassPercentage: fs.quizzes[a.QuizID].PassPercentage})
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}
