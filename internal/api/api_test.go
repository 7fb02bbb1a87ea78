package api_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizmaster/internal/api"
	"github.com/victornm/quizmaster/internal/attempt"
	"github.com/victornm/quizmaster/internal/auth"
	"github.com/victornm/quizmaster/internal/catalog"
	"github.com/victornm/quizmaster/internal/domain"
	"github.com/victornm/quizmaster/internal/errors"
	"github.com/victornm/quizmaster/internal/jobs"
	"github.com/victornm/quizmaster/internal/report"
	"github.com/victornm/quizmaster/internal/task"
)

const (
	userToken  = "Bearer user"
	adminToken = "Bearer admin"
)

var now = time.Date(2025, time.May, 15, 10, 30, 0, 0, time.UTC)

func TestAPI_Authentication(t *testing.T) {
	tests := map[string]struct {
		method     string
		path       string
		token      string
		wantStatus int
		wantBody   map[string]any
	}{
		"no token": {
			method:     http.MethodGet,
			path:       "/api/user/dashboard",
			wantStatus: http.StatusUnauthorized,
			wantBody:   map[string]any{"error": "invalid token"},
		},
		"user on admin route": {
			method:     http.MethodGet,
			path:       "/api/admin/dashboard",
			token:      userToken,
			wantStatus: http.StatusForbidden,
			wantBody:   map[string]any{"warning": "You need admin privileges to access this page.", "redirect": "/api/user/dashboard"},
		},
		"admin on admin route": {
			method:     http.MethodGet,
			path:       "/api/admin/dashboard",
			token:      adminToken,
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"users_count": 3.0, "subjects_count": 2.0, "quizzes_count": 4.0, "attempts_count": 5.0},
		},
		"me": {
			method:     http.MethodGet,
			path:       "/api/auth/me",
			token:      userToken,
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"user_id": 2.0, "is_admin": false},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			env := makeEnv()

			w := env.do(tt.method, tt.path, tt.token, "")

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantBody, decode(t, w))
		})
	}
}

func TestAPI_Errors(t *testing.T) {
	tests := map[string]struct {
		err        error
		wantStatus int
		wantBody   map[string]any
	}{
		"warning": {
			err:        errors.Warning(errors.CodeFailedPrecondition, "/api/user/quizzes", "This quiz has ended."),
			wantStatus: http.StatusConflict,
			wantBody:   map[string]any{"warning": "This quiz has ended.", "redirect": "/api/user/quizzes"},
		},
		"not found": {
			err:        errors.New(errors.CodeNotFound, errors.WithMessagef("quiz not found")),
			wantStatus: http.StatusNotFound,
			wantBody:   map[string]any{"error": "quiz not found"},
		},
		"internal": {
			err:        stderrors.New("connection refused"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   map[string]any{"error": "internal server error"},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			env := makeEnv()
			env.attempts.err = tt.err

			w := env.do(http.MethodGet, "/api/user/quizzes/1", userToken, "")

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantBody, decode(t, w))
		})
	}
}

func TestAPI_InvalidID(t *testing.T) {
	env := makeEnv()

	w := env.do(http.MethodGet, "/api/user/results/abc", userToken, "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, map[string]any{"error": "invalid id"}, decode(t, w))
}

func TestAPI_StartQuiz_HidesAnswers(t *testing.T) {
	env := makeEnv()

	w := env.do(http.MethodPost, "/api/user/quizzes/1/start", userToken, "")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "is_correct")

	body := decode(t, w)
	assert.Equal(t, 600.0, body["time_remaining"])
	quiz := body["quiz"].(map[string]any)
	questions := quiz["questions"].([]any)
	require.Len(t, questions, 1)
	assert.Len(t, questions[0].(map[string]any)["options"], 2)
}

func TestAPI_SubmitQuiz(t *testing.T) {
	env := makeEnv()

	w := env.do(http.MethodPost, "/api/user/quizzes/1/submit", userToken, `{"answers": {"11": 101, "12": 103}}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, map[int64]int64{11: 101, 12: 103}, env.attempts.submitted.Answers)
	assert.EqualValues(t, 1, env.attempts.submitted.QuizID)
	assert.EqualValues(t, 2, env.attempts.submitted.Principal.UserID)

	body := decode(t, w)
	assert.Equal(t, "Quiz submitted! Your score: 75.0%", body["message"])
	assert.Equal(t, "/api/user/results/7", body["redirect"])
	assert.Equal(t, true, body["passed"])
}

func TestAPI_DownloadHistory(t *testing.T) {
	t.Run("user", func(t *testing.T) {
		env := makeEnv()

		w := env.do(http.MethodGet, "/api/user/history/download", userToken, "")

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename="quiz_history_2_20250515_103000.csv"`, w.Header().Get("Content-Disposition"))

		lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
		require.Len(t, lines, 2)
		assert.True(t, strings.HasPrefix(lines[0], "Quiz Title,Subject,Chapter"), lines[0])
		assert.Contains(t, lines[1], "Algebra,Math,Equations,75.0,PASS")
	})

	t.Run("admin", func(t *testing.T) {
		env := makeEnv()

		w := env.do(http.MethodGet, "/api/user/history/download", adminToken, "")

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "Admins cannot download user history.", decode(t, w)["warning"])
	})
}

func TestAPI_RateLimit(t *testing.T) {
	env := makeEnv()
	env.limiter.allow = false

	w := env.do(http.MethodPost, "/api/auth/login", "", `{"email": "alice@example.com", "password": "secret1"}`)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, []string{"login_192.0.2.1"}, env.limiter.keys)
}

func TestAPI_Login(t *testing.T) {
	tests := map[string]struct {
		body       string
		wantStatus int
	}{
		"valid":         {body: `{"email": "alice@example.com", "password": "secret1"}`, wantStatus: http.StatusOK},
		"wrong":         {body: `{"email": "alice@example.com", "password": "nope"}`, wantStatus: http.StatusUnauthorized},
		"missing field": {body: `{"email": "alice@example.com"}`, wantStatus: http.StatusBadRequest},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			env := makeEnv()

			w := env.do(http.MethodPost, "/api/auth/login", "", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "user", decode(t, w)["token"])
			}
		})
	}
}

func TestAPI_TaskStatus(t *testing.T) {
	env := makeEnv()
	env.tasks.records["t-1"] = task.Record{ID: "t-1", Name: jobs.TaskQuizNotification, Status: task.StatusProgress, Meta: map[string]any{"current": 1, "total": 3}}

	w := env.do(http.MethodGet, "/api/tasks/t-1", userToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "PROGRESS", body["status"])
	assert.Equal(t, map[string]any{"current": 1.0, "total": 3.0}, body["meta"])

	w = env.do(http.MethodGet, "/api/tasks/missing", userToken, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_AdminTasks(t *testing.T) {
	tests := map[string]struct {
		path       string
		body       string
		wantStatus int
		wantName   string
		wantArgs   any
	}{
		"monthly reports": {
			path:       "/api/admin/monthly-reports",
			wantStatus: http.StatusAccepted,
			wantName:   jobs.TaskMonthlyReports,
			wantArgs:   jobs.MonthlyReportsArgs{Force: true},
		},
		"performance report": {
			path:       "/api/admin/reports",
			body:       `{"user_ids": [2], "format": "json"}`,
			wantStatus: http.StatusAccepted,
			wantName:   jobs.TaskPerformanceReport,
			wantArgs:   jobs.PerformanceReportArgs{UserIDs: []int64{2}, Format: jobs.FormatJSON},
		},
		"performance report default format": {
			path:       "/api/admin/reports",
			body:       `{}`,
			wantStatus: http.StatusAccepted,
			wantName:   jobs.TaskPerformanceReport,
			wantArgs:   jobs.PerformanceReportArgs{Format: jobs.FormatCSV},
		},
		"performance report bad format": {
			path:       "/api/admin/reports",
			body:       `{"format": "xml"}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			env := makeEnv()

			w := env.do(http.MethodPost, tt.path, adminToken, tt.body)

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantName == "" {
				assert.Empty(t, env.enqueuer.names)
				return
			}
			assert.Equal(t, []string{tt.wantName}, env.enqueuer.names)
			assert.Equal(t, []any{tt.wantArgs}, env.enqueuer.args)
			assert.Equal(t, "task-1", decode(t, w)["task_id"])
		})
	}
}

func TestAPI_Search(t *testing.T) {
	tests := map[string]struct {
		token     string
		wantAdmin *bool
	}{
		"anonymous":     {},
		"admin":         {token: adminToken, wantAdmin: ptr(true)},
		"invalid token": {token: "Bearer bogus"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			env := makeEnv()

			w := env.do(http.MethodGet, "/api/search?q=alg", tt.token, "")

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "alg", env.catalog.query)
			if tt.wantAdmin == nil {
				assert.Nil(t, env.catalog.searcher)
				return
			}
			require.NotNil(t, env.catalog.searcher)
			assert.Equal(t, *tt.wantAdmin, env.catalog.searcher.IsAdmin)
		})
	}
}

func TestAPI_QuizList(t *testing.T) {
	env := makeEnv()

	w := env.do(http.MethodGet, "/api/user/quizzes", userToken, "")

	require.Equal(t, http.StatusOK, w.Code)
	subjects := decode(t, w)["subjects"].([]any)
	require.Len(t, subjects, 1)
	assert.Equal(t, "Math", subjects[0].(map[string]any)["name"])
}

type env struct {
	engine   *gin.Engine
	attempts *fakeAttempts
	catalog  *fakeCatalog
	tasks    *fakeTasks
	enqueuer *recordingEnqueuer
	limiter  *fakeLimiter
}

func makeEnv() *env {
	gin.SetMode(gin.TestMode)

	e := &env{
		engine:   gin.New(),
		attempts: &fakeAttempts{},
		catalog:  &fakeCatalog{},
		tasks:    &fakeTasks{records: map[string]task.Record{}},
		enqueuer: &recordingEnqueuer{},
		limiter:  &fakeLimiter{allow: true},
	}

	api.New(api.Config{
		Auth:     fakeAuth{},
		Attempts: e.attempts,
		Catalog:  e.catalog,
		Tasks:    e.tasks,
		Enqueuer: e.enqueuer,
		Limiter:  e.limiter,
		Now:      func() time.Time { return now },
	}).Register(e.engine)

	return e
}

func (e *env) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:1234"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

func ptr[T any](v T) *T { return &v }

type fakeAuth struct{}

func (fakeAuth) Register(_ context.Context, req auth.RegisterRequest) (*domain.User, error) {
	return &domain.User{ID: 9, Name: req.Name, Email: req.Email}, nil
}

func (fakeAuth) Login(_ context.Context, req auth.LoginRequest) (*auth.LoginResponse, error) {
	if req.Password != "secret1" {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("Invalid email or password"))
	}
	return &auth.LoginResponse{Token: "user", User: &domain.User{ID: 2}}, nil
}

func (fakeAuth) Verify(_ context.Context, token string) (*domain.Principal, error) {
	switch token {
	case userToken:
		return &domain.Principal{UserID: 2, SessionID: "s-user"}, nil
	case adminToken:
		return &domain.Principal{UserID: 1, IsAdmin: true, SessionID: "s-admin"}, nil
	}
	return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("invalid token"))
}

func (fakeAuth) Logout(context.Context, domain.Principal) error { return nil }

func sampleQuiz() *domain.Quiz {
	return &domain.Quiz{
		ID:             1,
		ChapterID:      10,
		Title:          "Algebra",
		ChapterName:    "Equations",
		SubjectName:    "Math",
		TimeLimit:      ptr(10),
		PassPercentage: 75,
		Questions: []domain.Question{{
			ID:     11,
			Text:   "2+2?",
			Points: 1,
			Options: []domain.Option{
				{ID: 101, QuestionID: 11, Text: "4", IsCorrect: true},
				{ID: 102, QuestionID: 11, Text: "5"},
			},
		}},
	}
}

func sampleAttempts() []domain.AttemptSummary {
	return []domain.AttemptSummary{{
		Attempt:        domain.Attempt{ID: 7, UserID: 2, QuizID: 1, DateTaken: now, Score: ptr(75.0), IsCompleted: true},
		QuizTitle:      "Algebra",
		SubjectName:    "Math",
		ChapterName:    "Equations",
		PassPercentage: 75,
	}}
}

type fakeAttempts struct {
	err       error
	submitted attempt.SubmitRequest
}

func (f *fakeAttempts) Enter(_ context.Context, _ attempt.EnterRequest) (*attempt.EnterResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &attempt.EnterResponse{Quiz: sampleQuiz()}, nil
}

func (f *fakeAttempts) Start(_ context.Context, _ attempt.StartRequest) (*attempt.StartResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &attempt.StartResponse{
		Attempt:       &domain.Attempt{ID: 7, UserID: 2, QuizID: 1, DateTaken: now},
		Quiz:          sampleQuiz(),
		TimeRemaining: ptr(600),
	}, nil
}

func (f *fakeAttempts) Submit(_ context.Context, req attempt.SubmitRequest) (*attempt.SubmitResponse, error) {
	f.submitted = req
	return &attempt.SubmitResponse{
		Attempt: &domain.Attempt{ID: 7, UserID: 2, QuizID: 1, Score: ptr(75.0), IsCompleted: true},
		Passed:  true,
	}, nil
}

func (f *fakeAttempts) Results(_ context.Context, _ domain.Principal, id int64) (*attempt.ResultsResponse, error) {
	return &attempt.ResultsResponse{Attempt: &domain.Attempt{ID: id}, Quiz: sampleQuiz()}, nil
}

func (f *fakeAttempts) Dashboard(context.Context, domain.Principal) (*attempt.Dashboard, error) {
	return &attempt.Dashboard{}, nil
}

func (f *fakeAttempts) AvailableQuizzes(context.Context) ([]domain.Quiz, error) {
	return []domain.Quiz{*sampleQuiz()}, nil
}

func (f *fakeAttempts) History(context.Context, int64) ([]domain.AttemptSummary, error) {
	return sampleAttempts(), nil
}

func (f *fakeAttempts) Analysis(context.Context, int64) (*report.Analysis, error) {
	return &report.Analysis{}, nil
}

// fakeCatalog implements the calls the tests make, the rest panic on the nil interface.
type fakeCatalog struct {
	api.Catalog

	query    string
	searcher *domain.Principal
}

func (f *fakeCatalog) Counts(context.Context) (*catalog.Counts, error) {
	return &catalog.Counts{Users: 3, Subjects: 2, Quizzes: 4, Attempts: 5}, nil
}

func (f *fakeCatalog) Search(_ context.Context, p *domain.Principal, query string) (*catalog.SearchResponse, error) {
	f.query = query
	f.searcher = p
	return &catalog.SearchResponse{Query: query}, nil
}

type fakeTasks struct {
	records map[string]task.Record
}

func (f *fakeTasks) Status(id string) (task.Record, bool) {
	r, ok := f.records[id]
	return r, ok
}

type recordingEnqueuer struct {
	names []string
	args  []any
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, name string, args any) (string, error) {
	e.names = append(e.names, name)
	e.args = append(e.args, args)
	return "task-1", nil
}

type fakeLimiter struct {
	allow bool
	keys  []string
}

func (l *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) bool {
	l.keys = append(l.keys, key)
	return l.allow
}
