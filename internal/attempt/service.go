// Package attempt drives a user through a quiz: entering it, starting an attempt,
// submitting answers and reading results.
package attempt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/victornm/quizmaster/internal/cache"
	"github.com/victornm/quizmaster/internal/domain"
	"github.com/victornm/quizmaster/internal/errors"
	"github.com/victornm/quizmaster/internal/report"
	"github.com/victornm/quizmaster/internal/store"
	"github.com/victornm/quizmaster/internal/telemetry"
)

const (
	PathQuizzes   = "/api/user/quizzes"
	PathDashboard = "/api/user/dashboard"
)

func PathResults(attemptID int64) string {
	return fmt.Sprintf("/api/user/results/%d", attemptID)
}

type Store interface {
	GetQuiz(ctx context.Context, id int64, withQuestions bool) (*domain.Quiz, error)
	ListQuizzes(ctx context.Context, f store.QuizFilter) ([]domain.Quiz, error)
	CompletedAttempt(ctx context.Context, userID, quizID int64) (*domain.Attempt, error)
	ForceCompleteIncomplete(ctx context.Context, userID, quizID int64) (*domain.Attempt, error)
	StartAttempt(ctx context.Context, userID, quizID int64, at time.Time) (*domain.Attempt, int64, error)
	GetAttempt(ctx context.Context, id int64) (*domain.Attempt, error)
	CompleteAttempt(ctx context.Context, id int64, score float64, responses []domain.Response) error
	ListAttempts(ctx context.Context, f store.AttemptFilter) ([]domain.AttemptSummary, error)
}

type Sessions interface {
	Get(ctx context.Context, id string) (*cache.Session, error)
	Set(ctx context.Context, id string, s cache.Session) error
}

type Config struct {
	Store    Store
	Sessions Sessions
	Cache    *cache.Cache
	// Now defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	store    Store
	sessions Sessions
	cache    *cache.Cache
	now      func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store:    c.Store,
		sessions: c.Sessions,
		cache:    c.Cache,
		now:      c.Now,
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

type EnterRequest struct {
	Principal domain.Principal
	QuizID    int64
}

type EnterResponse struct {
	Quiz         *domain.Quiz        `json:"quiz"`
	Availability domain.Availability `json:"availability"`
}

// Enter checks that the caller may take the quiz and returns its information page.
// An attempt the caller left incomplete is recorded as a submission scored 0 and reported
// as a warning pointing to its results.
func (s *Service) Enter(ctx context.Context, req EnterRequest) (*EnterResponse, error) {
	now := s.now()

	q, err := s.checkTakeable(ctx, req.Principal, req.QuizID, now)
	if err != nil {
		return nil, err
	}

	abandoned, err := s.store.ForceCompleteIncomplete(ctx, req.Principal.UserID, q.ID)
	if err != nil {
		return nil, err
	}
	if abandoned != nil {
		telemetry.CountAttempt("abandoned")
		s.invalidate(ctx, req.Principal.UserID, q.ID)
		slog.InfoContext(ctx, "attempt: incomplete attempt recorded as submission",
			"attempt_id", abandoned.ID, "user_id", req.Principal.UserID, "quiz_id", q.ID)

		return nil, errors.Warning(errors.CodeFailedPrecondition, PathResults(abandoned.ID),
			"You previously left an attempt incomplete. It has been recorded as a submission.")
	}

	return &EnterResponse{Quiz: q, Availability: q.Availability(now)}, nil
}

type StartRequest struct {
	Principal domain.Principal
	QuizID    int64
}

type StartResponse struct {
	Attempt *domain.Attempt `json:"attempt"`
	Quiz    *domain.Quiz    `json:"quiz"`
	// TimeRemaining is the time limit in seconds, nil when the quiz is not timed.
	TimeRemaining *int `json:"time_remaining"`
}

// Start discards the caller's incomplete attempts at the quiz and opens a new one,
// which becomes the current attempt of the caller's session.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResponse, error) {
	now := s.now()

	q, err := s.checkTakeable(ctx, req.Principal, req.QuizID, now)
	if err != nil {
		return nil, err
	}

	a, discarded, err := s.store.StartAttempt(ctx, req.Principal.UserID, q.ID, now)
	if err != nil {
		return nil, err
	}
	if discarded > 0 {
		slog.InfoContext(ctx, "attempt: discarded incomplete attempts",
			"count", discarded, "user_id", req.Principal.UserID, "quiz_id", q.ID)
	}

	var remaining *int
	if q.TimeLimit != nil {
		secs := *q.TimeLimit * 60
		remaining = &secs
	}

	err = s.sessions.Set(ctx, req.Principal.SessionID, cache.Session{
		UserID:           req.Principal.UserID,
		CurrentAttemptID: a.ID,
		CurrentQuizID:    q.ID,
		TimeRemaining:    remaining,
	})
	if err != nil {
		return nil, fmt.Errorf("store current attempt: %w", err)
	}

	telemetry.CountAttempt("started")

	return &StartResponse{Attempt: a, Quiz: q, TimeRemaining: remaining}, nil
}

// checkTakeable returns the quiz with its questions when the caller may attempt it at now.
func (s *Service) checkTakeable(ctx context.Context, p domain.Principal, quizID int64, now time.Time) (*domain.Quiz, error) {
	if p.IsAdmin {
		return nil, errAdmin()
	}

	q, err := s.store.GetQuiz(ctx, quizID, true)
	if err != nil {
		return nil, err
	}

	if !q.IsAvailable(now) {
		return nil, errors.Warning(errors.CodeFailedPrecondition, PathQuizzes, "%s", q.UnavailableReason(now))
	}

	if !q.RegistrationOpen() {
		return nil, errors.Warning(errors.CodeFailedPrecondition, PathQuizzes, "Registration for this quiz has closed.")
	}

	done, err := s.store.CompletedAttempt(ctx, p.UserID, q.ID)
	if err != nil {
		return nil, err
	}
	if done != nil {
		return nil, errors.Warning(errors.CodeFailedPrecondition, PathResults(done.ID),
			"You have already completed this quiz. You cannot retake it.")
	}

	if len(q.Questions) == 0 {
		return nil, errors.Warning(errors.CodeFailedPrecondition, PathQuizzes, "This quiz has no questions yet.")
	}

	return q, nil
}

type SubmitRequest struct {
	Principal domain.Principal
	QuizID    int64
	// Answers maps question IDs to the selected option ID.
	Answers map[int64]int64
}

type SubmitResponse struct {
	Attempt *domain.Attempt `json:"attempt"`
	Passed  bool            `json:"passed"`
}

// Submit scores the current attempt of the caller's session and completes it.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	if req.Principal.IsAdmin {
		return nil, errAdmin()
	}

	sess, err := s.sessions.Get(ctx, req.Principal.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load current attempt: %w", err)
	}
	if sess == nil || sess.CurrentAttemptID == 0 {
		return nil, errInvalidAttempt()
	}

	q, err := s.store.GetQuiz(ctx, req.QuizID, true)
	if err != nil {
		return nil, err
	}

	a, err := s.store.GetAttempt(ctx, sess.CurrentAttemptID)
	if errors.Is(err, errors.CodeNotFound) {
		return nil, errInvalidAttempt()
	}
	if err != nil {
		return nil, err
	}
	if a.UserID != req.Principal.UserID || a.QuizID != q.ID || a.IsCompleted {
		return nil, errInvalidAttempt()
	}

	score, responses := domain.Grade(q.Questions, req.Answers)

	err = s.store.CompleteAttempt(ctx, a.ID, score, responses)
	if errors.Is(err, errors.CodeFailedPrecondition) {
		return nil, errInvalidAttempt()
	}
	if err != nil {
		return nil, err
	}

	a.Score = &score
	a.IsCompleted = true
	a.Responses = responses

	err = s.sessions.Set(ctx, req.Principal.SessionID, cache.Session{UserID: req.Principal.UserID})
	if err != nil {
		slog.WarnContext(ctx, "attempt: clear current attempt failed", "attempt_id", a.ID, "error", err)
	}
	s.invalidate(ctx, req.Principal.UserID, q.ID)

	telemetry.CountAttempt("submitted")
	slog.InfoContext(ctx, "attempt: submitted", "attempt_id", a.ID, "user_id", a.UserID, "quiz_id", q.ID, "score", score)

	return &SubmitResponse{Attempt: a, Passed: a.Passed(q.PassPercentage)}, nil
}

func (s *Service) invalidate(ctx context.Context, userID, quizID int64) {
	if s.cache == nil {
		return
	}

	if err := s.cache.InvalidateQuiz(ctx, quizID); err != nil {
		slog.WarnContext(ctx, "attempt: invalidate quiz cache failed", "quiz_id", quizID, "error", err)
	}
	if err := s.cache.InvalidateUser(ctx, userID); err != nil {
		slog.WarnContext(ctx, "attempt: invalidate user cache failed", "user_id", userID, "error", err)
	}
}

type ResultsResponse struct {
	Attempt *domain.Attempt      `json:"attempt"`
	Quiz    *domain.Quiz         `json:"quiz"`
	Passed  bool                 `json:"passed"`
	Status  domain.AttemptStatus `json:"status"`
}

// Results returns an attempt with its responses. Only its owner and admins may see it.
func (s *Service) Results(ctx context.Context, p domain.Principal, attemptID int64) (*ResultsResponse, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	if a.UserID != p.UserID && !p.IsAdmin {
		return nil, errors.Warning(errors.CodePermissionDenied, PathDashboard,
			"You do not have permission to view these results.")
	}

	q, err := s.store.GetQuiz(ctx, a.QuizID, true)
	if err != nil {
		return nil, err
	}

	return &ResultsResponse{
		Attempt: a,
		Quiz:    q,
		Passed:  a.Passed(q.PassPercentage),
		Status:  a.Status(q.PassPercentage),
	}, nil
}

type Dashboard struct {
	RecentAttempts   []domain.AttemptSummary `json:"recent_attempts"`
	AvailableQuizzes []domain.Quiz           `json:"available_quizzes"`
}

// Dashboard returns the caller's latest attempts and the quizzes that can be taken now.
func (s *Service) Dashboard(ctx context.Context, p domain.Principal) (*Dashboard, error) {
	load := func(ctx context.Context) (Dashboard, error) {
		recent, err := s.store.ListAttempts(ctx, store.AttemptFilter{UserID: p.UserID, Limit: report.RecentAttempts})
		if err != nil {
			return Dashboard{}, err
		}

		available, err := s.AvailableQuizzes(ctx)
		if err != nil {
			return Dashboard{}, err
		}

		return Dashboard{RecentAttempts: recent, AvailableQuizzes: available}, nil
	}

	var (
		d   Dashboard
		err error
	)
	if s.cache != nil {
		d, err = cache.GetOrSet(ctx, s.cache, cache.DashboardKey(p.UserID), cache.DashboardTTL, load)
	} else {
		d, err = load(ctx)
	}
	if err != nil {
		return nil, err
	}

	return &d, nil
}

// AvailableQuizzes returns every quiz that can be taken now.
func (s *Service) AvailableQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	quizzes, err := s.store.ListQuizzes(ctx, store.QuizFilter{})
	if err != nil {
		return nil, err
	}

	now := s.now()
	available := make([]domain.Quiz, 0, len(quizzes))
	for _, q := range quizzes {
		if q.IsAvailable(now) && q.RegistrationOpen() {
			available = append(available, q)
		}
	}

	return available, nil
}

// History returns every attempt of the user, newest first.
func (s *Service) History(ctx context.Context, userID int64) ([]domain.AttemptSummary, error) {
	return s.store.ListAttempts(ctx, store.AttemptFilter{UserID: userID})
}

func (s *Service) Analysis(ctx context.Context, userID int64) (*report.Analysis, error) {
	completed := true
	attempts, err := s.store.ListAttempts(ctx, store.AttemptFilter{UserID: userID, Completed: &completed})
	if err != nil {
		return nil, err
	}

	an := report.Analyze(attempts)
	return &an, nil
}

func errAdmin() error {
	return errors.Warning(errors.CodePermissionDenied, PathDashboard, "Admins cannot attempt quizzes.")
}

func errInvalidAttempt() error {
	return errors.Warning(errors.CodeFailedPrecondition, PathQuizzes, "Invalid quiz attempt.")
}
