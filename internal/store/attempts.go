package store

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/victornm/quizmaster/internal/domain"
	"github.com/victornm/quizmaster/internal/errors"
)

const attemptColumns = `id, user_id, quiz_id, date_taken, score, is_completed`

func scanAttempt(r pgx.CollectableRow) (domain.Attempt, error) {
	var a domain.Attempt
	err := r.Scan(&a.ID, &a.UserID, &a.QuizID, &a.DateTaken, &a.Score, &a.IsCompleted)
	return a, err
}

func firstAttempt(rows pgx.Rows) (*domain.Attempt, error) {
	attempts, err := pgx.CollectRows(rows, scanAttempt)
	if err != nil {
		return nil, convert(err, "attempt")
	}
	if len(attempts) == 0 {
		return nil, nil
	}
	return &attempts[0], nil
}

// CompletedAttempt returns the latest completed attempt of the user at the quiz, nil when there is none.
func (s *Store) CompletedAttempt(ctx context.Context, userID, quizID int64) (*domain.Attempt, error) {
	const stmt = `
SELECT ` + attemptColumns + `
FROM quiz_attempts
WHERE user_id = $1 AND quiz_id = $2 AND is_completed
ORDER BY date_taken DESC, id DESC
LIMIT 1;`

	rows, err := s.db.Query(ctx, stmt, userID, quizID)
	if err != nil {
		return nil, convert(err, "attempt")
	}

	return firstAttempt(rows)
}

// ForceCompleteIncomplete records every incomplete attempt of the user at the quiz as a
// submission scored 0 and returns the most recent of them, nil when there was none.
func (s *Store) ForceCompleteIncomplete(ctx context.Context, userID, quizID int64) (*domain.Attempt, error) {
	const stmt = `
UPDATE quiz_attempts
SET is_completed = TRUE, score = 0
WHERE user_id = $1 AND quiz_id = $2 AND NOT is_completed
RETURNING ` + attemptColumns + `;`

	rows, err := s.db.Query(ctx, stmt, userID, quizID)
	if err != nil {
		return nil, convert(err, "attempt")
	}

	attempts, err := pgx.CollectRows(rows, scanAttempt)
	if err != nil {
		return nil, convert(err, "attempt")
	}

	var latest *domain.Attempt
	for i := range attempts {
		if latest == nil || attempts[i].DateTaken.After(latest.DateTaken) {
			latest = &attempts[i]
		}
	}

	return latest, nil
}

// StartAttempt discards the user's incomplete attempts at the quiz, with their responses,
// and creates a fresh one. It returns the new attempt and the number discarded.
func (s *Store) StartAttempt(ctx context.Context, userID, quizID int64, at time.Time) (_ *domain.Attempt, discarded int64, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	tag, err := tx.Exec(ctx, `DELETE FROM quiz_attempts WHERE user_id = $1 AND quiz_id = $2 AND NOT is_completed;`, userID, quizID)
	if err != nil {
		return nil, 0, convert(err, "attempt")
	}

	a := domain.Attempt{UserID: userID, QuizID: quizID, DateTaken: at}
	err = tx.QueryRow(ctx,
		`INSERT INTO quiz_attempts (user_id, quiz_id, date_taken, is_completed) VALUES ($1, $2, $3, FALSE) RETURNING id;`,
		userID, quizID, at,
	).Scan(&a.ID)
	if err != nil {
		return nil, 0, convert(err, "attempt")
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, 0, err
	}

	return &a, tag.RowsAffected(), nil
}

// GetAttempt returns an attempt with its responses.
func (s *Store) GetAttempt(ctx context.Context, id int64) (*domain.Attempt, error) {
	rows, err := s.db.Query(ctx, `SELECT `+attemptColumns+` FROM quiz_attempts WHERE id = $1;`, id)
	if err != nil {
		return nil, convert(err, "attempt")
	}

	a, err := pgx.CollectExactlyOneRow(rows, scanAttempt)
	if err != nil {
		return nil, convert(err, "attempt")
	}

	rows, err = s.db.Query(ctx, `SELECT id, attempt_id, question_id, option_id FROM quiz_responses WHERE attempt_id = $1 ORDER BY id;`, id)
	if err != nil {
		return nil, convert(err, "responses")
	}

	a.Responses, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Response, error) {
		var resp domain.Response
		err := r.Scan(&resp.ID, &resp.AttemptID, &resp.QuestionID, &resp.OptionID)
		return resp, err
	})
	if err != nil {
		return nil, convert(err, "responses")
	}

	return &a, nil
}

// CompleteAttempt stores the responses and the score of an open attempt in one transaction.
// Completing an attempt twice fails with CodeFailedPrecondition.
func (s *Store) CompleteAttempt(ctx context.Context, id int64, score float64, responses []domain.Response) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	tag, err := tx.Exec(ctx, `UPDATE quiz_attempts SET score = $2, is_completed = TRUE WHERE id = $1 AND NOT is_completed;`, id, score)
	if err != nil {
		return convert(err, "attempt")
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("attempt %d is not open", id))
	}

	b := &pgx.Batch{}
	for _, r := range responses {
		b.Queue(`INSERT INTO quiz_responses (attempt_id, question_id, option_id) VALUES ($1, $2, $3);`, id, r.QuestionID, r.OptionID)
	}
	if err = tx.SendBatch(ctx, b).Close(); err != nil {
		return convert(err, "response")
	}

	return tx.Commit(ctx)
}

// DeleteStaleAttempts removes incomplete attempts started before cutoff.
func (s *Store) DeleteStaleAttempts(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM quiz_attempts WHERE NOT is_completed AND date_taken < $1;`, cutoff)
	if err != nil {
		return 0, convert(err, "attempts")
	}
	return tag.RowsAffected(), nil
}

type AttemptFilter struct {
	UserID    int64
	QuizID    int64
	SubjectID int64
	ChapterID int64
	Completed *bool
	// Status is one of domain.AttemptStatusPass, domain.AttemptStatusFail or domain.AttemptStatusIncomplete.
	Status domain.AttemptStatus
	From   *time.Time
	To     *time.Time
	// Limit caps the number of rows, 0 means no cap.
	Limit int
}

const summarySelect = `
SELECT a.id, a.user_id, a.quiz_id, a.date_taken, a.score, a.is_completed,
	q.title, c.name, s.name, q.pass_percentage, q.time_limit,
	(SELECT COUNT(*) FROM questions qq WHERE qq.quiz_id = q.id),
	u.name, u.email
FROM quiz_attempts a
JOIN quizzes q ON q.id = a.quiz_id
JOIN chapters c ON c.id = q.chapter_id
JOIN subjects s ON s.id = c.subject_id
JOIN users u ON u.id = a.user_id`

// ListAttempts returns attempts joined with their quiz and user, newest first.
func (s *Store) ListAttempts(ctx context.Context, f AttemptFilter) ([]domain.AttemptSummary, error) {
	var w where
	if f.UserID != 0 {
		w.add("a.user_id = ?", f.UserID)
	}
	if f.QuizID != 0 {
		w.add("a.quiz_id = ?", f.QuizID)
	}
	if f.SubjectID != 0 {
		w.add("c.subject_id = ?", f.SubjectID)
	}
	if f.ChapterID != 0 {
		w.add("q.chapter_id = ?", f.ChapterID)
	}
	if f.Completed != nil {
		w.add("a.is_completed = ?", *f.Completed)
	}
	switch f.Status {
	case domain.AttemptStatusPass:
		w.add("a.score IS NOT NULL AND a.score >= q.pass_percentage")
	case domain.AttemptStatusFail:
		w.add("a.is_completed AND (a.score IS NULL OR a.score < q.pass_percentage)")
	case domain.AttemptStatusIncomplete:
		w.add("NOT a.is_completed")
	}
	if f.From != nil {
		w.add("a.date_taken >= ?", *f.From)
	}
	if f.To != nil {
		w.add("a.date_taken < ?", *f.To)
	}

	stmt := summarySelect + w.String() + ` ORDER BY a.date_taken DESC, a.id DESC`
	if f.Limit > 0 {
		stmt += ` LIMIT ` + w.arg(f.Limit)
	}

	rows, err := s.db.Query(ctx, stmt+";", w.args...)
	if err != nil {
		return nil, convert(err, "attempts")
	}

	attempts, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.AttemptSummary, error) {
		var a domain.AttemptSummary
		err := r.Scan(&a.ID, &a.UserID, &a.QuizID, &a.DateTaken, &a.Score, &a.IsCompleted,
			&a.QuizTitle, &a.ChapterName, &a.SubjectName, &a.PassPercentage, &a.TimeLimit,
			&a.QuestionCount, &a.UserName, &a.UserEmail)
		return a, err
	})
	if err != nil {
		return nil, convert(err, "attempts")
	}

	return attempts, nil
}
