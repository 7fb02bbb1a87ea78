package store

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/quizmaster/internal/errors"
)

//go:embed schema.sql
var schema string

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

type Config struct {
	DB *pgxpool.Pool
}

// Store persists the quiz catalog, users and attempts in Postgres.
// Ownership cascades (subject > chapter > quiz > question > option, user > attempt > response)
// are enforced by the schema with ON DELETE CASCADE.
type Store struct {
	db *pgxpool.Pool
}

func New(c Config) *Store {
	return &Store{db: c.DB}
}

// Migrate creates the tables if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Counts returns the number of users, subjects, quizzes and attempts.
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	const stmt = `
SELECT
	(SELECT COUNT(*) FROM users),
	(SELECT COUNT(*) FROM subjects),
	(SELECT COUNT(*) FROM quizzes),
	(SELECT COUNT(*) FROM quiz_attempts);`

	var users, subjects, quizzes, attempts int64
	if err := s.db.QueryRow(ctx, stmt).Scan(&users, &subjects, &quizzes, &attempts); err != nil {
		return nil, fmt.Errorf("store: counts: %w", err)
	}

	return map[string]int64{
		"users":    users,
		"subjects": subjects,
		"quizzes":  quizzes,
		"attempts": attempts,
	}, nil
}

// convert maps Postgres errors to service errors.
func convert(err error, what string) error {
	if err == nil {
		return nil
	}

	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("%s not found", what), errors.WithCause(err))
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("%s already exists", what), errors.WithCause(err))
		case codeForeignKeyViolation:
			return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("%s references a missing record", what), errors.WithCause(err))
		case codeCheckViolation:
			return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("%s is invalid", what), errors.WithCause(err))
		}
	}

	return fmt.Errorf("store: %s: %w", what, err)
}

func notFound(tag pgconn.CommandTag, what string) error {
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("%s not found", what))
	}
	return nil
}

// where accumulates SQL conditions with positional arguments.
type where struct {
	conds []string
	args  []any
}

// add appends a condition, every "?" in cond is replaced by the next positional argument.
func (w *where) add(cond string, args ...any) {
	for _, a := range args {
		w.args = append(w.args, a)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

func (w *where) arg(a any) string {
	w.args = append(w.args, a)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func like(s string) string {
	return "%" + strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s) + "%"
}
