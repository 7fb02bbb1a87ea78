package cache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix = "quizmaster_"
	DefaultTTL    = 5 * time.Minute

	QuizTTL       = 30 * time.Minute
	DashboardTTL  = 10 * time.Minute
	SubjectTTL    = 30 * time.Minute
	StatisticsTTL = time.Hour

	KeyQuizStatistics = "quiz_statistics"

	scanCount = 100
)

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
}

// Cache stores JSON encoded values in Redis under a common key prefix.
type Cache struct {
	redis  redis.UniversalClient
	prefix string
}

func New(c Config) *Cache {
	prefix := c.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Cache{
		redis:  c.Redis,
		prefix: prefix,
	}
}

func (c *Cache) key(k string) string {
	return c.prefix + k
}

// Set stores v under key for ttl, a non-positive ttl uses DefaultTTL.
func (c *Cache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if err := c.redis.Set(ctx, c.key(key), b, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}

	return nil
}

// SetNX stores v under key only if the key does not exist yet, and reports whether it did.
func (c *Cache) SetNX(ctx context.Context, key string, v any, ttl time.Duration) (bool, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("cache: encode %s: %w", key, err)
	}

	ok, err := c.redis.SetNX(ctx, c.key(key), b, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: setnx %s: %w", key, err)
	}

	return ok, nil
}

// Get decodes the value of key into dst and reports whether the key was found.
func (c *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	b, err := c.redis.Get(ctx, c.key(key)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: get %s: %w", key, err)
	}

	if err := json.Unmarshal(b, dst); err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", key, err)
	}

	return true, nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.redis.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("cache: exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Expire resets the time to live of key and reports whether the key exists.
func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.redis.Expire(ctx, c.key(key), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: expire %s: %w", key, err)
	}
	return ok, nil
}

// ClearPattern deletes every key matching the glob pattern and returns how many were deleted.
// Keys are collected over the whole SCAN before any is deleted, so the cursor never runs
// over a keyspace it is modifying.
func (c *Cache) ClearPattern(ctx context.Context, pattern string) (int64, error) {
	var (
		cursor uint64
		keys   []string
		seen   = make(map[string]struct{})
	)

	for {
		batch, next, err := c.redis.Scan(ctx, cursor, c.key(pattern), scanCount).Result()
		if err != nil {
			return 0, fmt.Errorf("cache: scan %s: %w", pattern, err)
		}

		for _, k := range batch {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	var deleted int64
	for start := 0; start < len(keys); start += scanCount {
		end := min(start+scanCount, len(keys))

		n, err := c.redis.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return deleted, fmt.Errorf("cache: delete %s: %w", pattern, err)
		}
		deleted += n
	}

	return deleted, nil
}

// GetOrSet returns the cached value of key, or computes it with fn and caches it for ttl.
// Cache failures are logged and fall back to fn.
func GetOrSet[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var v T

	found, err := c.Get(ctx, key, &v)
	if err != nil {
		slog.WarnContext(ctx, "cache: read failed, computing value", "key", key, "error", err)
	}
	if found {
		return v, nil
	}

	v, err = fn(ctx)
	if err != nil {
		return v, err
	}

	if err := c.Set(ctx, key, v, ttl); err != nil {
		slog.WarnContext(ctx, "cache: write failed", "key", key, "error", err)
	}

	return v, nil
}

func QuizKey(id int64) string { return fmt.Sprintf("quiz_%d", id) }

func DashboardKey(userID int64) string { return fmt.Sprintf("dashboard_%d", userID) }

func SubjectKey(id int64) string { return fmt.Sprintf("subject_%d", id) }

// InvalidateQuiz drops the quiz data, the statistics and every dashboard.
func (c *Cache) InvalidateQuiz(ctx context.Context, id int64) error {
	return c.clear(ctx, QuizKey(id), KeyQuizStatistics, "dashboard_*")
}

// InvalidateUser drops the dashboard and any other per-user entry of a user.
func (c *Cache) InvalidateUser(ctx context.Context, id int64) error {
	return c.clear(ctx, DashboardKey(id), fmt.Sprintf("user_%d_*", id))
}

// InvalidateSubject drops the subject data, the statistics and every dashboard.
func (c *Cache) InvalidateSubject(ctx context.Context, id int64) error {
	return c.clear(ctx, SubjectKey(id), KeyQuizStatistics, "dashboard_*")
}

func (c *Cache) clear(ctx context.Context, patterns ...string) error {
	var errs []error
	for _, p := range patterns {
		if _, err := c.ClearPattern(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
