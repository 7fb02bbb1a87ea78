package catalog

import (
	"context"
	"log/slog"
	"strings"

	"github.com/victornm/quizmaster/internal/domain"
	"github.com/victornm/quizmaster/internal/errors"
	"github.com/victornm/quizmaster/internal/store"
)

type Counts struct {
	Users    int64 `json:"users_count"`
	Subjects int64 `json:"subjects_count"`
	Quizzes  int64 `json:"quizzes_count"`
	Attempts int64 `json:"attempts_count"`
}

// Counts returns the totals shown on the admin dashboard.
func (s *Service) Counts(ctx context.Context) (*Counts, error) {
	m, err := s.store.Counts(ctx)
	if err != nil {
		return nil, err
	}

	return &Counts{
		Users:    m["users"],
		Subjects: m["subjects"],
		Quizzes:  m["quizzes"],
		Attempts: m["attempts"],
	}, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.store.ListUsers(ctx, store.UserFilter{})
}

// ToggleAdmin flips the admin flag of a user. Admins cannot change their own flag.
func (s *Service) ToggleAdmin(ctx context.Context, p domain.Principal, userID int64) (*domain.User, error) {
	if p.UserID == userID {
		return nil, errors.Warning(errors.CodeFailedPrecondition, PathAdminUsers, "You cannot change your own admin status.")
	}

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	u.IsAdmin = !u.IsAdmin
	if err := s.store.SetAdmin(ctx, u.ID, u.IsAdmin); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "catalog: admin status changed", "user_id", u.ID, "is_admin", u.IsAdmin, "by", p.UserID)
	return u, nil
}

// DeleteUser removes a user with their attempts. Admins cannot delete themselves.
func (s *Service) DeleteUser(ctx context.Context, p domain.Principal, userID int64) error {
	if p.UserID == userID {
		return errors.Warning(errors.CodeFailedPrecondition, PathAdminUsers, "You cannot delete your own account while logged in.")
	}

	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.InvalidateUser(ctx, userID); err != nil {
			slog.WarnContext(ctx, "catalog: invalidate user cache failed", "user_id", userID, "error", err)
		}
	}

	slog.InfoContext(ctx, "catalog: user deleted", "user_id", userID, "by", p.UserID)
	return nil
}

type AttemptsRequest struct {
	SubjectID int64  `form:"subject_id"`
	ChapterID int64  `form:"chapter_id"`
	QuizID    int64  `form:"quiz_id"`
	UserID    int64  `form:"user_id"`
	Status    string `form:"status"`
}

// ListAttempts returns every attempt matching the filters, newest first.
// Status is pass, fail or incomplete, any other value is ignored.
func (s *Service) ListAttempts(ctx context.Context, req AttemptsRequest) ([]domain.AttemptSummary, error) {
	f := store.AttemptFilter{
		SubjectID: req.SubjectID,
		ChapterID: req.ChapterID,
		QuizID:    req.QuizID,
		UserID:    req.UserID,
	}

	switch domain.AttemptStatus(strings.ToUpper(req.Status)) {
	case domain.AttemptStatusPass:
		f.Status = domain.AttemptStatusPass
	case domain.AttemptStatusFail:
		f.Status = domain.AttemptStatusFail
	case domain.AttemptStatusIncomplete:
		f.Status = domain.AttemptStatusIncomplete
	}

	return s.store.ListAttempts(ctx, f)
}

type SearchResponse struct {
	Query    string           `json:"query"`
	Quizzes  []domain.Quiz    `json:"quizzes"`
	Subjects []domain.Subject `json:"subjects"`
	Users    []domain.User    `json:"users"`
}

// Search matches quizzes by title or description and subjects by name or description.
// Users are matched by name or email for admins only.
func (s *Service) Search(ctx context.Context, p *domain.Principal, query string) (*SearchResponse, error) {
	query = strings.TrimSpace(query)
	resp := &SearchResponse{
		Query:    query,
		Quizzes:  []domain.Quiz{},
		Subjects: []domain.Subject{},
		Users:    []domain.User{},
	}
	if query == "" {
		return resp, nil
	}

	quizzes, err := s.store.ListQuizzes(ctx, store.QuizFilter{Search: query})
	if err != nil {
		return nil, err
	}
	resp.Quizzes = append(resp.Quizzes, quizzes...)

	subjects, err := s.store.ListSubjects(ctx, query)
	if err != nil {
		return nil, err
	}
	resp.Subjects = append(resp.Subjects, subjects...)

	if p != nil && p.IsAdmin {
		users, err := s.store.ListUsers(ctx, store.UserFilter{Search: query})
		if err != nil {
			return nil, err
		}
		resp.Users = append(resp.Users, users...)
	}

	return resp, nil
}
