package catalog

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/victornm/quizmaster/internal/cache"
	"github.com/victornm/quizmaster/internal/domain"
	"github.com/victornm/quizmaster/internal/errors"
	"github.com/victornm/quizmaster/internal/jobs"
	"github.com/victornm/quizmaster/internal/store"
)

type QuizRequest struct {
	ChapterID   int64  `json:"chapter_id" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	// TimeLimit is in minutes, nil for no limit.
	TimeLimit *int `json:"time_limit"`
	// PassPercentage defaults to domain.DefaultPassPercentage.
	PassPercentage *float64   `json:"pass_percentage"`
	IsScheduled    bool       `json:"is_scheduled"`
	StartDatetime  *time.Time `json:"start_datetime"`
	EndDatetime    *time.Time `json:"end_datetime"`
}

func (r QuizRequest) quiz(id int64) (*domain.Quiz, error) {
	if r.ChapterID <= 0 {
		return nil, invalid("chapter_id is required")
	}
	if strings.TrimSpace(r.Title) == "" {
		return nil, invalid("title is required")
	}
	if r.TimeLimit != nil && *r.TimeLimit <= 0 {
		return nil, invalid("time_limit must be a positive number of minutes")
	}

	q := &domain.Quiz{
		ID:             id,
		ChapterID:      r.ChapterID,
		Title:          strings.TrimSpace(r.Title),
		Description:    r.Description,
		TimeLimit:      r.TimeLimit,
		PassPercentage: domain.DefaultPassPercentage,
		IsScheduled:    r.IsScheduled,
	}

	if r.PassPercentage != nil {
		if *r.PassPercentage < 0 || *r.PassPercentage > 100 {
			return nil, invalid("pass_percentage must be between 0 and 100")
		}
		q.PassPercentage = *r.PassPercentage
	}

	// The window only applies to scheduled quizzes.
	if r.IsScheduled {
		q.StartDatetime = r.StartDatetime
		q.EndDatetime = r.EndDatetime
		if q.StartDatetime != nil && q.EndDatetime != nil && !q.EndDatetime.After(*q.StartDatetime) {
			return nil, invalid("end_datetime must be after start_datetime")
		}
	}

	return q, nil
}

type QuizResponse struct {
	Quiz *domain.Quiz `json:"quiz"`
	// Notified is set when a scheduled quiz announcement was due, false when it could not be queued.
	Notified *bool  `json:"notified,omitempty"`
	TaskID   string `json:"task_id,omitempty"`
}

// CreateQuiz adds a quiz. A scheduled quiz with a start time is announced to every user.
func (s *Service) CreateQuiz(ctx context.Context, req QuizRequest) (*QuizResponse, error) {
	q, err := req.quiz(0)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateQuiz(ctx, q); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "catalog: quiz created", "quiz_id", q.ID, "scheduled", q.IsScheduled)

	resp := &QuizResponse{Quiz: q}
	if q.IsScheduled && q.StartDatetime != nil {
		resp.TaskID, resp.Notified = s.announce(ctx, q.ID)
	}
	s.invalidateQuiz(ctx, q.ID)

	return resp, nil
}

// UpdateQuiz changes a quiz. The announcement is sent again when the quiz becomes scheduled
// or its start time moves.
func (s *Service) UpdateQuiz(ctx context.Context, id int64, req QuizRequest) (*QuizResponse, error) {
	q, err := req.quiz(id)
	if err != nil {
		return nil, err
	}

	old, err := s.store.GetQuiz(ctx, id, false)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateQuiz(ctx, q); err != nil {
		return nil, err
	}

	resp := &QuizResponse{Quiz: q}
	if q.IsScheduled && q.StartDatetime != nil && (!old.IsScheduled || !sameTime(old.StartDatetime, q.StartDatetime)) {
		resp.TaskID, resp.Notified = s.announce(ctx, q.ID)
	}
	s.invalidateQuiz(ctx, id)

	return resp, nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// announce enqueues the scheduled quiz notification, reporting false when it could not be queued.
func (s *Service) announce(ctx context.Context, quizID int64) (string, *bool) {
	if !s.notify || s.enqueuer == nil {
		return "", nil
	}

	ok := true
	id, err := s.enqueuer.Enqueue(ctx, jobs.TaskQuizNotification, jobs.QuizNotificationArgs{QuizID: quizID})
	if err != nil {
		slog.ErrorContext(ctx, "catalog: enqueue quiz notification failed", "quiz_id", quizID, "error", err)
		ok = false
	}

	return id, &ok
}

// DeleteQuiz removes a quiz with its questions, attempts and responses.
func (s *Service) DeleteQuiz(ctx context.Context, id int64) error {
	if err := s.store.DeleteQuiz(ctx, id); err != nil {
		return err
	}

	s.invalidateQuiz(ctx, id)
	slog.InfoContext(ctx, "catalog: quiz deleted", "quiz_id", id)
	return nil
}

// GetQuiz returns a quiz with its questions and options. The result is cached.
func (s *Service) GetQuiz(ctx context.Context, id int64) (*domain.Quiz, error) {
	if s.cache == nil {
		return s.store.GetQuiz(ctx, id, true)
	}

	q, err := cache.GetOrSet(ctx, s.cache, cache.QuizKey(id), cache.QuizTTL, func(ctx context.Context) (domain.Quiz, error) {
		q, err := s.store.GetQuiz(ctx, id, true)
		if err != nil {
			return domain.Quiz{}, err
		}
		return *q, nil
	})
	if err != nil {
		return nil, err
	}

	return &q, nil
}

func (s *Service) ListQuizzes(ctx context.Context, chapterID int64) ([]domain.Quiz, error) {
	return s.store.ListQuizzes(ctx, store.QuizFilter{ChapterID: chapterID})
}

type SendRemindersResponse struct {
	TaskID string `json:"task_id"`
}

// SendReminders enqueues the "starts in 1 hour" reminder of a scheduled quiz right away.
func (s *Service) SendReminders(ctx context.Context, quizID int64) (*SendRemindersResponse, error) {
	q, err := s.store.GetQuiz(ctx, quizID, false)
	if err != nil {
		return nil, err
	}

	if !q.IsScheduled || q.StartDatetime == nil {
		return nil, errors.Warning(errors.CodeFailedPrecondition, PathAdminQuizzes, "This quiz is not scheduled.")
	}

	id, err := s.enqueuer.Enqueue(ctx, jobs.TaskQuizReminder, jobs.QuizNotificationArgs{QuizID: q.ID})
	if err != nil {
		return nil, errors.Internal(err)
	}

	return &SendRemindersResponse{TaskID: id}, nil
}

// OptionRequest is one answer option of a question.
type OptionRequest struct {
	// ID edits an existing option of the question in place, 0 adds a new option.
	// It is ignored when creating a question.
	ID        int64  `json:"id"`
	Text      string `json:"text" binding:"required"`
	IsCorrect bool   `json:"is_correct"`
}

// QuestionRequest creates or edits a question together with its options. On edit, existing
// options left out of Options are removed.
type QuestionRequest struct {
	Text string `json:"text" binding:"required"`
	// Points defaults to domain.DefaultPoints.
	Points  int             `json:"points"`
	Options []OptionRequest `json:"options"`
}

func (r QuestionRequest) question(id, quizID int64) (*domain.Question, error) {
	if strings.TrimSpace(r.Text) == "" {
		return nil, invalid("question text is required")
	}
	if r.Points < 0 {
		return nil, invalid("points must be at least 1")
	}
	if len(r.Options) < 2 {
		return nil, invalid("a question needs at least 2 options")
	}

	q := &domain.Question{ID: id, QuizID: quizID, Text: strings.TrimSpace(r.Text), Points: r.Points}
	if q.Points == 0 {
		q.Points = domain.DefaultPoints
	}

	correct := 0
	for _, o := range r.Options {
		if strings.TrimSpace(o.Text) == "" {
			return nil, invalid("option text is required")
		}
		if o.IsCorrect {
			correct++
		}
		opt := domain.Option{Text: strings.TrimSpace(o.Text), IsCorrect: o.IsCorrect}
		if id != 0 {
			opt.ID = o.ID
		}
		q.Options = append(q.Options, opt)
	}
	if correct == 0 {
		return nil, invalid("a question needs a correct option")
	}

	return q, nil
}

func (s *Service) ListQuestions(ctx context.Context, quizID int64) ([]domain.Question, error) {
	return s.store.ListQuestions(ctx, quizID)
}

func (s *Service) CreateQuestion(ctx context.Context, quizID int64, req QuestionRequest) (*domain.Question, error) {
	q, err := req.question(0, quizID)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateQuestion(ctx, q); err != nil {
		return nil, err
	}

	s.invalidateQuiz(ctx, quizID)
	return q, nil
}

// UpdateQuestion edits the text, points and options of a question. Responses of completed
// attempts are kept, including those pointing at removed options.
func (s *Service) UpdateQuestion(ctx context.Context, quizID, id int64, req QuestionRequest) (*domain.Question, error) {
	q, err := req.question(id, quizID)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateQuestion(ctx, q); err != nil {
		return nil, err
	}

	s.invalidateQuiz(ctx, quizID)
	return q, nil
}

func (s *Service) DeleteQuestion(ctx context.Context, quizID, id int64) error {
	if err := s.store.DeleteQuestion(ctx, id); err != nil {
		return err
	}

	s.invalidateQuiz(ctx, quizID)
	return nil
}

// ChapterGroup and SubjectGroup arrange quizzes for the user quiz list.
type ChapterGroup struct {
	ID      int64         `json:"id"`
	Name    string        `json:"name"`
	Quizzes []domain.Quiz `json:"quizzes"`
}

type SubjectGroup struct {
	Name     string         `json:"name"`
	Chapters []ChapterGroup `json:"chapters"`
}

// GroupBySubject groups quizzes by subject then chapter, keeping the order in which each
// subject and chapter first appears.
func GroupBySubject(quizzes []domain.Quiz) []SubjectGroup {
	var (
		groups   []SubjectGroup
		subjects = map[string]int{}
		chapters = map[int64][2]int{}
	)

	for _, q := range quizzes {
		si, ok := subjects[q.SubjectName]
		if !ok {
			si = len(groups)
			subjects[q.SubjectName] = si
			groups = append(groups, SubjectGroup{Name: q.SubjectName})
		}

		pos, ok := chapters[q.ChapterID]
		if !ok {
			pos = [2]int{si, len(groups[si].Chapters)}
			chapters[q.ChapterID] = pos
			groups[si].Chapters = append(groups[si].Chapters, ChapterGroup{ID: q.ChapterID, Name: q.ChapterName})
		}

		ch := &groups[pos[0]].Chapters[pos[1]]
		ch.Quizzes = append(ch.Quizzes, q)
	}

	return groups
}
