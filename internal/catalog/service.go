// Package catalog is the admin side of the application: subjects, chapters, quizzes,
// questions and users, plus the search shared by everyone.
package catalog

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/victornm/quizmaster/internal/cache"
	"github.com/victornm/quizmaster/internal/domain"
	"github.com/victornm/quizmaster/internal/errors"
	"github.com/victornm/quizmaster/internal/store"
)

const (
	PathAdminQuizzes = "/api/admin/quizzes"
	PathAdminUsers   = "/api/admin/users"
)

type Store interface {
	CreateSubject(ctx context.Context, sub *domain.Subject) error
	UpdateSubject(ctx context.Context, sub *domain.Subject) error
	DeleteSubject(ctx context.Context, id int64) error
	GetSubject(ctx context.Context, id int64) (*domain.Subject, error)
	ListSubjects(ctx context.Context, search string) ([]domain.Subject, error)

	CreateChapter(ctx context.Context, ch *domain.Chapter) error
	UpdateChapter(ctx context.Context, ch *domain.Chapter) error
	DeleteChapter(ctx context.Context, id int64) error
	GetChapter(ctx context.Context, id int64) (*domain.Chapter, error)
	ListChapters(ctx context.Context, f store.ChapterFilter) ([]domain.Chapter, error)

	CreateQuiz(ctx context.Context, q *domain.Quiz) error
	UpdateQuiz(ctx context.Context, q *domain.Quiz) error
	DeleteQuiz(ctx context.Context, id int64) error
	GetQuiz(ctx context.Context, id int64, withQuestions bool) (*domain.Quiz, error)
	ListQuizzes(ctx context.Context, f store.QuizFilter) ([]domain.Quiz, error)

	ListQuestions(ctx context.Context, quizID int64) ([]domain.Question, error)
	CreateQuestion(ctx context.Context, q *domain.Question) error
	UpdateQuestion(ctx context.Context, q *domain.Question) error
	DeleteQuestion(ctx context.Context, id int64) error

	GetUser(ctx context.Context, id int64) (*domain.User, error)
	ListUsers(ctx context.Context, f store.UserFilter) ([]domain.User, error)
	SetAdmin(ctx context.Context, id int64, admin bool) error
	DeleteUser(ctx context.Context, id int64) error

	ListAttempts(ctx context.Context, f store.AttemptFilter) ([]domain.AttemptSummary, error)
	Counts(ctx context.Context) (map[string]int64, error)
}

// Enqueuer submits a background task.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, args any) (string, error)
}

type Config struct {
	Store    Store
	Cache    *cache.Cache
	Enqueuer Enqueuer
	// NotifyOnSchedule enqueues the scheduled quiz announcement when a quiz gets a start time.
	NotifyOnSchedule bool
	// Now defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	store    Store
	cache    *cache.Cache
	enqueuer Enqueuer
	notify   bool
	now      func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store:    c.Store,
		cache:    c.Cache,
		enqueuer: c.Enqueuer,
		notify:   c.NotifyOnSchedule,
		now:      c.Now,
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

type SubjectRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (r SubjectRequest) validate() error {
	return validateName("subject name", r.Name)
}

func (s *Service) CreateSubject(ctx context.Context, req SubjectRequest) (*domain.Subject, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	sub := &domain.Subject{Name: strings.TrimSpace(req.Name), Description: req.Description}
	if err := s.store.CreateSubject(ctx, sub); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "catalog: subject created", "subject_id", sub.ID)
	return sub, nil
}

func (s *Service) UpdateSubject(ctx context.Context, id int64, req SubjectRequest) (*domain.Subject, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	sub := &domain.Subject{ID: id, Name: strings.TrimSpace(req.Name), Description: req.Description}
	if err := s.store.UpdateSubject(ctx, sub); err != nil {
		return nil, err
	}

	s.invalidateSubject(ctx, id)
	return sub, nil
}

// DeleteSubject removes a subject with its chapters, quizzes and their attempts.
func (s *Service) DeleteSubject(ctx context.Context, id int64) error {
	if err := s.store.DeleteSubject(ctx, id); err != nil {
		return err
	}

	s.invalidateSubject(ctx, id)
	s.clear(ctx, "quiz_*")
	slog.InfoContext(ctx, "catalog: subject deleted", "subject_id", id)
	return nil
}

// GetSubject returns a subject with its chapters. The result is cached.
func (s *Service) GetSubject(ctx context.Context, id int64) (*domain.Subject, error) {
	if s.cache == nil {
		return s.store.GetSubject(ctx, id)
	}

	sub, err := cache.GetOrSet(ctx, s.cache, cache.SubjectKey(id), cache.SubjectTTL, func(ctx context.Context) (domain.Subject, error) {
		sub, err := s.store.GetSubject(ctx, id)
		if err != nil {
			return domain.Subject{}, err
		}
		return *sub, nil
	})
	if err != nil {
		return nil, err
	}

	return &sub, nil
}

func (s *Service) ListSubjects(ctx context.Context) ([]domain.Subject, error) {
	return s.store.ListSubjects(ctx, "")
}

type ChapterRequest struct {
	SubjectID   int64  `json:"subject_id" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (r ChapterRequest) validate() error {
	if r.SubjectID <= 0 {
		return invalid("subject_id is required")
	}
	return validateName("chapter name", r.Name)
}

func (s *Service) CreateChapter(ctx context.Context, req ChapterRequest) (*domain.Chapter, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	ch := &domain.Chapter{SubjectID: req.SubjectID, Name: strings.TrimSpace(req.Name), Description: req.Description}
	if err := s.store.CreateChapter(ctx, ch); err != nil {
		return nil, err
	}

	s.invalidateSubject(ctx, ch.SubjectID)
	return ch, nil
}

func (s *Service) UpdateChapter(ctx context.Context, id int64, req ChapterRequest) (*domain.Chapter, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	old, err := s.store.GetChapter(ctx, id)
	if err != nil {
		return nil, err
	}

	ch := &domain.Chapter{ID: id, SubjectID: req.SubjectID, Name: strings.TrimSpace(req.Name), Description: req.Description}
	if err := s.store.UpdateChapter(ctx, ch); err != nil {
		return nil, err
	}

	s.invalidateSubject(ctx, old.SubjectID)
	if old.SubjectID != ch.SubjectID {
		s.invalidateSubject(ctx, ch.SubjectID)
	}
	s.clear(ctx, "quiz_*")
	return ch, nil
}

// DeleteChapter removes a chapter with its quizzes and their attempts.
func (s *Service) DeleteChapter(ctx context.Context, id int64) error {
	ch, err := s.store.GetChapter(ctx, id)
	if err != nil {
		return err
	}

	if err := s.store.DeleteChapter(ctx, id); err != nil {
		return err
	}

	s.invalidateSubject(ctx, ch.SubjectID)
	s.clear(ctx, "quiz_*")
	return nil
}

func (s *Service) GetChapter(ctx context.Context, id int64) (*domain.Chapter, error) {
	return s.store.GetChapter(ctx, id)
}

func (s *Service) ListChapters(ctx context.Context, subjectID int64) ([]domain.Chapter, error) {
	return s.store.ListChapters(ctx, store.ChapterFilter{SubjectID: subjectID})
}

func (s *Service) invalidateSubject(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}

	if err := s.cache.InvalidateSubject(ctx, id); err != nil {
		slog.WarnContext(ctx, "catalog: invalidate subject cache failed", "subject_id", id, "error", err)
	}
}

func (s *Service) invalidateQuiz(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}

	if err := s.cache.InvalidateQuiz(ctx, id); err != nil {
		slog.WarnContext(ctx, "catalog: invalidate quiz cache failed", "quiz_id", id, "error", err)
	}
}

func (s *Service) clear(ctx context.Context, pattern string) {
	if s.cache == nil {
		return
	}

	if _, err := s.cache.ClearPattern(ctx, pattern); err != nil {
		slog.WarnContext(ctx, "catalog: clear cache failed", "pattern", pattern, "error", err)
	}
}

func validateName(field, name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n < 2 || n > 100 {
		return invalid("%s must be between 2 and 100 characters", field)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.New(errors.CodeInvalidArgument, errors.WithMessagef(format, args...))
}
