package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter is a fixed-window request counter.
type Counter interface {
	// Hit increments key and returns the new count and the time left in the window.
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisCounter counts with INCR and starts the window with EXPIRE on the first hit.
type RedisCounter struct {
	client redis.Cmdable
}

func NewRedisCounter(client redis.Cmdable) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if err := c.client.Expire(ctx, key, window).Err(); err != nil {
			return count, window, err
		}
		return count, window, nil
	}
	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		return count, 0, err
	}
	if ttl < 0 {
		// key lost its expiry; restart the window
		_ = c.client.Expire(ctx, key, window).Err()
		ttl = window
	}
	return count, ttl, nil
}

type RateLimiterConfig struct {
	Counter   Counter
	Limit     int
	Window    time.Duration
	KeyPrefix string
	Logger    *slog.Logger
}

// RateLimit limits each authenticated user to Limit requests per Window.
// Counter failures let the request through.
func RateLimit(cfg RateLimiterConfig) func(http.Handler) http.Handler {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:"
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			id, ok := UserID(r.Context())
			if !ok {
				id = r.RemoteAddr
			}
			key := cfg.KeyPrefix + id

			count, ttl, err := cfg.Counter.Hit(r.Context(), key, cfg.Window)
			if err != nil {
				cfg.Logger.Warn("rate limit counter unavailable", slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}

			reset := max(int(ttl.Seconds()), 0)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(reset))

			if count > int64(cfg.Limit) {
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", strconv.Itoa(reset))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error":           fmt.Sprintf("rate limit exceeded (%d requests per %s)", cfg.Limit, cfg.Window),
					"retry_after_sec": reset,
				})
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(cfg.Limit-int(count)))
			next.ServeHTTP(w, r)
		})
	}
}
