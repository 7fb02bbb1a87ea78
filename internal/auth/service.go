// Package auth registers users, logs them in and verifies their tokens.
//
// A login opens a server side session and returns an HS256 JWT naming it. A token is only
// accepted while its session exists, so logging out revokes it.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/victornm/quizmaster/internal/cache"
	"github.com/victornm/quizmaster/internal/domain"
	"github.com/victornm/quizmaster/internal/errors"
)

const (
	DefaultTokenTTL = 24 * time.Hour
	issuer          = "quizmaster"
	minPasswordLen  = 6
)

type Store interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
}

type Sessions interface {
	Get(ctx context.Context, id string) (*cache.Session, error)
	Set(ctx context.Context, id string, s cache.Session) error
	Delete(ctx context.Context, id string) error
}

type Config struct {
	Store    Store
	Sessions Sessions
	Secret   []byte
	// TokenTTL defaults to DefaultTokenTTL.
	TokenTTL time.Duration
	// HashCost defaults to bcrypt.DefaultCost.
	HashCost int
	// Now defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	store    Store
	sessions Sessions
	secret   []byte
	ttl      time.Duration
	cost     int
	now      func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store:    c.Store,
		sessions: c.Sessions,
		secret:   c.Secret,
		ttl:      c.TokenTTL,
		cost:     c.HashCost,
		now:      c.Now,
	}

	if s.ttl <= 0 {
		s.ttl = DefaultTokenTTL
	}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// Claims are the JWT claims of a login token. The subject is the user ID.
type Claims struct {
	jwt.RegisteredClaims
	Admin     bool   `json:"adm"`
	SessionID string `json:"sid"`
}

type RegisterRequest struct {
	Name            string `json:"name" binding:"required"`
	Email           string `json:"email" binding:"required,email"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

func (r RegisterRequest) validate() error {
	if n := utf8.RuneCountInString(strings.TrimSpace(r.Name)); n < 2 || n > 100 {
		return invalid("name must be between 2 and 100 characters")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return invalid("email is not valid")
	}
	if len(r.Password) < minPasswordLen {
		return invalid("password must be at least %d characters", minPasswordLen)
	}
	if r.Password != r.ConfirmPassword {
		return invalid("passwords do not match")
	}
	return nil
}

// Register creates a regular user.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*domain.User, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	u, err := s.createUser(ctx, req.Name, req.Email, req.Password, false)
	if errors.Is(err, errors.CodeAlreadyExists) {
		return nil, errors.New(errors.CodeAlreadyExists, errors.WithMessagef("Email already registered."))
	}
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "auth: user registered", "user_id", u.ID)
	return u, nil
}

func (s *Service) createUser(ctx context.Context, name, email, password string, admin bool) (*domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &domain.User{
		Name:         strings.TrimSpace(name),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: string(hash),
		IsAdmin:      admin,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	return u, nil
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *domain.User `json:"user"`
}

// Login checks the credentials, opens a session and issues its token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(req.Email))
	if errors.Is(err, errors.CodeNotFound) {
		return nil, errInvalidCredentials()
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		return nil, errInvalidCredentials()
	}

	sid := uuid.NewString()
	if err := s.sessions.Set(ctx, sid, cache.Session{UserID: u.ID}); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	now := s.now()
	exp := now.Add(s.ttl)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Admin:     u.IsAdmin,
		SessionID: sid,
	}).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	slog.InfoContext(ctx, "auth: logged in", "user_id", u.ID)
	return &LoginResponse{Token: token, ExpiresAt: exp, User: u}, nil
}

// Verify returns the principal of a token. The admin flag is read from the user so that
// granting or revoking it applies to existing sessions.
func (s *Service) Verify(ctx context.Context, token string) (*domain.Principal, error) {
	token = strings.TrimPrefix(token, "Bearer ")

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("invalid token"), errors.WithCause(err))
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("invalid token subject"))
	}

	sess, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.UserID != userID {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("session expired, please login again"))
	}

	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, errors.CodeNotFound) {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("user no longer exists"))
	}
	if err != nil {
		return nil, err
	}

	return &domain.Principal{UserID: u.ID, IsAdmin: u.IsAdmin, SessionID: claims.SessionID}, nil
}

// Logout closes the session of the principal, revoking its token.
func (s *Service) Logout(ctx context.Context, p domain.Principal) error {
	return s.sessions.Delete(ctx, p.SessionID)
}

type AdminSeed struct {
	Name     string
	Email    string
	Password string
}

// EnsureAdmin creates the seed admin account unless a user with its email exists.
func (s *Service) EnsureAdmin(ctx context.Context, seed AdminSeed) error {
	if seed.Email == "" || seed.Password == "" {
		return nil
	}

	_, err := s.store.GetUserByEmail(ctx, seed.Email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errors.CodeNotFound) {
		return err
	}

	u, err := s.createUser(ctx, seed.Name, seed.Email, seed.Password, true)
	if errors.Is(err, errors.CodeAlreadyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}

	slog.InfoContext(ctx, "auth: admin account created", "user_id", u.ID, "email", u.Email)
	return nil
}

func errInvalidCredentials() error {
	return errors.New(errors.CodeUnauthenticated, errors.WithMessagef("Invalid email or password"))
}

func invalid(format string, args ...any) error {
	return errors.New(errors.CodeInvalidArgument, errors.WithMessagef(format, args...))
}
