package store

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/victornm/quizmaster/internal/domain"
	"github.com/victornm/quizmaster/internal/errors"
)

// Subjects

func (s *Store) CreateSubject(ctx context.Context, sub *domain.Subject) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO subjects (name, description) VALUES ($1, $2) RETURNING id;`,
		sub.Name, sub.Description,
	).Scan(&sub.ID)
	return convert(err, "subject")
}

func (s *Store) UpdateSubject(ctx context.Context, sub *domain.Subject) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE subjects SET name = $2, description = $3 WHERE id = $1;`,
		sub.ID, sub.Name, sub.Description,
	)
	if err != nil {
		return convert(err, "subject")
	}
	return notFound(tag, "subject")
}

// DeleteSubject removes a subject and everything it owns.
func (s *Store) DeleteSubject(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM subjects WHERE id = $1;`, id)
	if err != nil {
		return convert(err, "subject")
	}
	return notFound(tag, "subject")
}

func (s *Store) GetSubject(ctx context.Context, id int64) (*domain.Subject, error) {
	var sub domain.Subject
	err := s.db.QueryRow(ctx, `SELECT id, name, description FROM subjects WHERE id = $1;`, id).
		Scan(&sub.ID, &sub.Name, &sub.Description)
	if err != nil {
		return nil, convert(err, "subject")
	}

	sub.Chapters, err = s.ListChapters(ctx, ChapterFilter{SubjectID: id})
	if err != nil {
		return nil, err
	}

	return &sub, nil
}

func (s *Store) ListSubjects(ctx context.Context, search string) ([]domain.Subject, error) {
	var w where
	if search != "" {
		p := w.arg(like(search))
		w.add("(name ILIKE " + p + " OR description ILIKE " + p + ")")
	}

	rows, err := s.db.Query(ctx, `SELECT id, name, description FROM subjects`+w.String()+` ORDER BY name, id;`, w.args...)
	if err != nil {
		return nil, convert(err, "subjects")
	}

	subjects, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Subject, error) {
		var sub domain.Subject
		err := r.Scan(&sub.ID, &sub.Name, &sub.Description)
		return sub, err
	})
	if err != nil {
		return nil, convert(err, "subjects")
	}

	return subjects, nil
}

// Chapters

func (s *Store) CreateChapter(ctx context.Context, ch *domain.Chapter) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO chapters (subject_id, name, description) VALUES ($1, $2, $3) RETURNING id;`,
		ch.SubjectID, ch.Name, ch.Description,
	).Scan(&ch.ID)
	return convert(err, "chapter")
}

func (s *Store) UpdateChapter(ctx context.Context, ch *domain.Chapter) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE chapters SET subject_id = $2, name = $3, description = $4 WHERE id = $1;`,
		ch.ID, ch.SubjectID, ch.Name, ch.Description,
	)
	if err != nil {
		return convert(err, "chapter")
	}
	return notFound(tag, "chapter")
}

func (s *Store) DeleteChapter(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM chapters WHERE id = $1;`, id)
	if err != nil {
		return convert(err, "chapter")
	}
	return notFound(tag, "chapter")
}

const chapterSelect = `
SELECT c.id, c.subject_id, c.name, c.description, s.name
FROM chapters c
JOIN subjects s ON s.id = c.subject_id`

func scanChapter(r pgx.CollectableRow) (domain.Chapter, error) {
	var ch domain.Chapter
	err := r.Scan(&ch.ID, &ch.SubjectID, &ch.Name, &ch.Description, &ch.SubjectName)
	return ch, err
}

func (s *Store) GetChapter(ctx context.Context, id int64) (*domain.Chapter, error) {
	rows, err := s.db.Query(ctx, chapterSelect+` WHERE c.id = $1;`, id)
	if err != nil {
		return nil, convert(err, "chapter")
	}

	ch, err := pgx.CollectExactlyOneRow(rows, scanChapter)
	if err != nil {
		return nil, convert(err, "chapter")
	}

	ch.Quizzes, err = s.ListQuizzes(ctx, QuizFilter{ChapterID: id})
	if err != nil {
		return nil, err
	}

	return &ch, nil
}

type ChapterFilter struct {
	SubjectID int64
	Search    string
}

func (s *Store) ListChapters(ctx context.Context, f ChapterFilter) ([]domain.Chapter, error) {
	var w where
	if f.SubjectID != 0 {
		w.add("c.subject_id = ?", f.SubjectID)
	}
	if f.Search != "" {
		p := w.arg(like(f.Search))
		w.add("(c.name ILIKE " + p + " OR c.description ILIKE " + p + ")")
	}

	rows, err := s.db.Query(ctx, chapterSelect+w.String()+` ORDER BY c.subject_id, c.id;`, w.args...)
	if err != nil {
		return nil, convert(err, "chapters")
	}

	chapters, err := pgx.CollectRows(rows, scanChapter)
	if err != nil {
		return nil, convert(err, "chapters")
	}

	return chapters, nil
}

// Quizzes

func (s *Store) CreateQuiz(ctx context.Context, q *domain.Quiz) error {
	const stmt = `
INSERT INTO quizzes (chapter_id, title, description, time_limit, pass_percentage, is_scheduled, start_datetime, end_datetime)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id;`

	err := s.db.QueryRow(ctx, stmt,
		q.ChapterID, q.Title, q.Description, q.TimeLimit, q.PassPercentage, q.IsScheduled, q.StartDatetime, q.EndDatetime,
	).Scan(&q.ID)
	return convert(err, "quiz")
}

func (s *Store) UpdateQuiz(ctx context.Context, q *domain.Quiz) error {
	const stmt = `
UPDATE quizzes
SET chapter_id = $2, title = $3, description = $4, time_limit = $5, pass_percentage = $6,
	is_scheduled = $7, start_datetime = $8, end_datetime = $9
WHERE id = $1;`

	tag, err := s.db.Exec(ctx, stmt,
		q.ID, q.ChapterID, q.Title, q.Description, q.TimeLimit, q.PassPercentage, q.IsScheduled, q.StartDatetime, q.EndDatetime,
	)
	if err != nil {
		return convert(err, "quiz")
	}
	return notFound(tag, "quiz")
}

// DeleteQuiz removes a quiz with its questions, options, attempts and responses.
func (s *Store) DeleteQuiz(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM quizzes WHERE id = $1;`, id)
	if err != nil {
		return convert(err, "quiz")
	}
	return notFound(tag, "quiz")
}

const quizSelect = `
SELECT q.id, q.chapter_id, q.title, q.description, q.time_limit, q.pass_percentage,
	q.is_scheduled, q.start_datetime, q.end_datetime, c.name, s.name,
	(SELECT COUNT(*) FROM questions qq WHERE qq.quiz_id = q.id)
FROM quizzes q
JOIN chapters c ON c.id = q.chapter_id
JOIN subjects s ON s.id = c.subject_id`

func scanQuiz(r pgx.CollectableRow) (domain.Quiz, error) {
	var q domain.Quiz
	err := r.Scan(&q.ID, &q.ChapterID, &q.Title, &q.Description, &q.TimeLimit, &q.PassPercentage,
		&q.IsScheduled, &q.StartDatetime, &q.EndDatetime, &q.ChapterName, &q.SubjectName, &q.QuestionCount)
	return q, err
}

// GetQuiz returns a quiz, with its questions and options when withQuestions is set.
func (s *Store) GetQuiz(ctx context.Context, id int64, withQuestions bool) (*domain.Quiz, error) {
	rows, err := s.db.Query(ctx, quizSelect+` WHERE q.id = $1;`, id)
	if err != nil {
		return nil, convert(err, "quiz")
	}

	q, err := pgx.CollectExactlyOneRow(rows, scanQuiz)
	if err != nil {
		return nil, convert(err, "quiz")
	}

	if withQuestions {
		q.Questions, err = s.ListQuestions(ctx, id)
		if err != nil {
			return nil, err
		}
	}

	return &q, nil
}

type QuizFilter struct {
	ChapterID int64
	// ScheduledFrom and ScheduledTo select scheduled quizzes starting in [From, To].
	ScheduledFrom *time.Time
	ScheduledTo   *time.Time
	Search        string
}

func (s *Store) ListQuizzes(ctx context.Context, f QuizFilter) ([]domain.Quiz, error) {
	var w where
	if f.ChapterID != 0 {
		w.add("q.chapter_id = ?", f.ChapterID)
	}
	if f.ScheduledFrom != nil || f.ScheduledTo != nil {
		w.add("q.is_scheduled AND q.start_datetime IS NOT NULL")
	}
	if f.ScheduledFrom != nil {
		w.add("q.start_datetime >= ?", *f.ScheduledFrom)
	}
	if f.ScheduledTo != nil {
		w.add("q.start_datetime <= ?", *f.ScheduledTo)
	}
	if f.Search != "" {
		p := w.arg(like(f.Search))
		w.add("(q.title ILIKE " + p + " OR q.description ILIKE " + p + ")")
	}

	rows, err := s.db.Query(ctx, quizSelect+w.String()+` ORDER BY q.id;`, w.args...)
	if err != nil {
		return nil, convert(err, "quizzes")
	}

	quizzes, err := pgx.CollectRows(rows, scanQuiz)
	if err != nil {
		return nil, convert(err, "quizzes")
	}

	return quizzes, nil
}

// Questions

// ListQuestions returns the questions of a quiz in creation order, each with its options.
func (s *Store) ListQuestions(ctx context.Context, quizID int64) ([]domain.Question, error) {
	rows, err := s.db.Query(ctx, `SELECT id, quiz_id, text, points FROM questions WHERE quiz_id = $1 ORDER BY id;`, quizID)
	if err != nil {
		return nil, convert(err, "questions")
	}

	questions, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var q domain.Question
		err := r.Scan(&q.ID, &q.QuizID, &q.Text, &q.Points)
		return q, err
	})
	if err != nil {
		return nil, convert(err, "questions")
	}
	if len(questions) == 0 {
		return questions, nil
	}

	ids := make([]int64, len(questions))
	index := make(map[int64]int, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
		index[q.ID] = i
	}

	rows, err = s.db.Query(ctx, `SELECT id, question_id, text, is_correct FROM options WHERE question_id = ANY($1) AND NOT archived ORDER BY id;`, ids)
	if err != nil {
		return nil, convert(err, "options")
	}

	options, err := pgx.CollectRows(rows, scanOption)
	if err != nil {
		return nil, convert(err, "options")
	}

	for _, o := range options {
		i := index[o.QuestionID]
		questions[i].Options = append(questions[i].Options, o)
	}

	return questions, nil
}

func scanOption(r pgx.CollectableRow) (domain.Option, error) {
	var o domain.Option
	err := r.Scan(&o.ID, &o.QuestionID, &o.Text, &o.IsCorrect)
	return o, err
}

// CreateQuestion inserts a question together with its options.
func (s *Store) CreateQuestion(ctx context.Context, q *domain.Question) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	err = tx.QueryRow(ctx,
		`INSERT INTO questions (quiz_id, text, points) VALUES ($1, $2, $3) RETURNING id;`,
		q.QuizID, q.Text, q.Points,
	).Scan(&q.ID)
	if err != nil {
		return convert(err, "question")
	}

	if err := insertOptions(ctx, tx, q); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// UpdateQuestion edits the text and points of a question and reconciles its options: options
// with an ID are edited in place, options without one are inserted and the remaining ones are
// removed. A removed option that was answered in an attempt is archived instead of deleted so
// the attempt keeps its responses.
func (s *Store) UpdateQuestion(ctx context.Context, q *domain.Question) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	err = tx.QueryRow(ctx,
		`UPDATE questions SET text = $2, points = $3 WHERE id = $1 RETURNING quiz_id;`,
		q.ID, q.Text, q.Points,
	).Scan(&q.QuizID)
	if err != nil {
		return convert(err, "question")
	}

	keep := make([]int64, 0, len(q.Options))
	for i := range q.Options {
		o := &q.Options[i]
		o.QuestionID = q.ID
		if o.ID == 0 {
			continue
		}

		tag, err := tx.Exec(ctx,
			`UPDATE options SET text = $3, is_correct = $4 WHERE id = $1 AND question_id = $2 AND NOT archived;`,
			o.ID, q.ID, o.Text, o.IsCorrect,
		)
		if err != nil {
			return convert(err, "option")
		}
		if tag.RowsAffected() == 0 {
			return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("option %d is not an option of question %d", o.ID, q.ID))
		}
		keep = append(keep, o.ID)
	}

	const archive = `
UPDATE options o SET archived = TRUE
WHERE o.question_id = $1 AND NOT o.archived AND NOT (o.id = ANY($2))
  AND EXISTS (SELECT 1 FROM quiz_responses r WHERE r.option_id = o.id);`
	if _, err = tx.Exec(ctx, archive, q.ID, keep); err != nil {
		return convert(err, "options")
	}

	if _, err = tx.Exec(ctx, `DELETE FROM options WHERE question_id = $1 AND NOT archived AND NOT (id = ANY($2));`, q.ID, keep); err != nil {
		return convert(err, "options")
	}

	if err = insertOptions(ctx, tx, q); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// insertOptions inserts the options of q that have no ID yet.
func insertOptions(ctx context.Context, tx pgx.Tx, q *domain.Question) error {
	b := &pgx.Batch{}
	for i := range q.Options {
		o := &q.Options[i]
		o.QuestionID = q.ID
		if o.ID != 0 {
			continue
		}

		b.Queue(`INSERT INTO options (question_id, text, is_correct) VALUES ($1, $2, $3) RETURNING id;`,
			o.QuestionID, o.Text, o.IsCorrect,
		).QueryRow(func(row pgx.Row) error {
			return row.Scan(&o.ID)
		})
	}
	if b.Len() == 0 {
		return nil
	}

	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return convert(err, "option")
	}

	return nil
}

func (s *Store) DeleteQuestion(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM questions WHERE id = $1;`, id)
	if err != nil {
		return convert(err, "question")
	}
	return notFound(tag, "question")
}
