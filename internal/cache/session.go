package cache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultSessionPrefix = "session_"
	DefaultSessionTTL    = time.Hour
)

// Session is the server side state of a logged in user.
type Session struct {
	UserID           int64 `json:"user_id"`
	CurrentAttemptID int64 `json:"current_attempt_id,omitempty"`
	CurrentQuizID    int64 `json:"current_quiz_id,omitempty"`
	// TimeRemaining is the time limit of the current attempt in seconds, nil when unlimited.
	TimeRemaining *int `json:"time_remaining,omitempty"`
}

type SessionConfig struct {
	Redis  redis.UniversalClient
	Prefix string
	TTL    time.Duration
}

// Sessions stores Session values in Redis.
type Sessions struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewSessions(c SessionConfig) *Sessions {
	s := &Sessions{
		redis:  c.Redis,
		prefix: c.Prefix,
		ttl:    c.TTL,
	}

	if s.prefix == "" {
		s.prefix = DefaultSessionPrefix
	}
	if s.ttl <= 0 {
		s.ttl = DefaultSessionTTL
	}

	return s
}

func (s *Sessions) key(id string) string {
	return s.prefix + id
}

// Set stores the session and refreshes its expiry.
func (s *Sessions) Set(ctx context.Context, id string, data Session) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}

	if err := s.redis.Set(ctx, s.key(id), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("session: set: %w", err)
	}

	return nil
}

// Get returns the session, nil when it does not exist or expired.
func (s *Sessions) Get(ctx context.Context, id string) (*Session, error) {
	b, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}

	var data Session
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}

	return &data, nil
}

func (s *Sessions) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

func (s *Sessions) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("session: exists: %w", err)
	}
	return n > 0, nil
}
