package roster

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"clubattendance/internal/logging"
)

const defaultCacheKey = "attendance:roster"

// Cached keeps a JSON snapshot of the roster in Redis. Cache failures are
// logged and the underlying provider is used instead.
type Cached struct {
	next   Provider
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewCached wraps next with a Redis snapshot that lives for ttl.
func NewCached(next Provider, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = logging.Discard()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cached{next: next, client: client, key: defaultCacheKey, ttl: ttl, logger: logger}
}

func (c *Cached) Students(ctx context.Context) ([]Student, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	switch {
	case err == nil:
		var students []Student
		if jerr := json.Unmarshal(raw, &students); jerr == nil {
			return students, nil
		}
		c.logger.Warn("roster cache entry unreadable", "key", c.key)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("roster cache read failed", "error", err)
	}

	students, err := c.next.Students(ctx)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(students); err == nil {
		if err := c.client.Set(ctx, c.key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("roster cache write failed", "error", err)
		}
	}
	return students, nil
}
