package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/victornm/quizmaster/internal/domain"
)

const userColumns = `id, name, email, password_hash, is_admin, date_registered`

func scanUser(r pgx.CollectableRow) (domain.User, error) {
	var u domain.User
	err := r.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.DateRegistered)
	return u, err
}

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	const stmt = `
INSERT INTO users (name, email, password_hash, is_admin)
VALUES ($1, $2, $3, $4)
RETURNING id, date_registered;`

	err := s.db.QueryRow(ctx, stmt, u.Name, u.Email, u.PasswordHash, u.IsAdmin).Scan(&u.ID, &u.DateRegistered)
	return convert(err, "user")
}

func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1;`, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1);`, email)
}

func (s *Store) getUser(ctx context.Context, stmt string, arg any) (*domain.User, error) {
	rows, err := s.db.Query(ctx, stmt, arg)
	if err != nil {
		return nil, convert(err, "user")
	}

	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if err != nil {
		return nil, convert(err, "user")
	}

	return &u, nil
}

type UserFilter struct {
	IDs          []int64
	NonAdminOnly bool
	// Search matches name or email, case-insensitive.
	Search string
}

func (s *Store) ListUsers(ctx context.Context, f UserFilter) ([]domain.User, error) {
	var w where
	if len(f.IDs) > 0 {
		w.add("id = ANY(?)", f.IDs)
	}
	if f.NonAdminOnly {
		w.add("NOT is_admin")
	}
	if f.Search != "" {
		p := w.arg(like(f.Search))
		w.add("(name ILIKE " + p + " OR email ILIKE " + p + ")")
	}

	rows, err := s.db.Query(ctx, `SELECT `+userColumns+` FROM users`+w.String()+` ORDER BY id;`, w.args...)
	if err != nil {
		return nil, convert(err, "users")
	}

	users, err := pgx.CollectRows(rows, scanUser)
	if err != nil {
		return nil, convert(err, "users")
	}

	return users, nil
}

// SetAdmin changes the admin flag of a user.
func (s *Store) SetAdmin(ctx context.Context, id int64, admin bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET is_admin = $2 WHERE id = $1;`, id, admin)
	if err != nil {
		return convert(err, "user")
	}
	return notFound(tag, "user")
}

// DeleteUser removes a user together with their attempts and responses.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM users WHERE id = $1;`, id)
	if err != nil {
		return convert(err, "user")
	}
	return notFound(tag, "user")
}
