package middleware

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/beacon/pipeline/internal/cache"
	"github.com/beacon/pipeline/pkg/response"
	"github.com/gofiber/fiber/v2"
)

// Counter is a windowed counter store.
type Counter interface {
	IncrWithExpiry(ctx context.Context, key string, window time.Duration) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
}

type RateLimiter struct {
	counter Counter
	log     *slog.Logger
}

func NewRateLimiter(counter Counter, log *slog.Logger) *RateLimiter {
	return &RateLimiter{counter: counter, log: log}
}

// Limit allows maxRequests per user per window. Anonymous requests and
// counter failures are let through.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := GetUserID(c)
		if userID == "" || maxRequests <= 0 {
			return c.Next()
		}

		key := cache.RateLimitKey(keyPrefix, userID)
		count, err := rl.counter.IncrWithExpiry(c.UserContext(), key, window)
		if err != nil {
			rl.log.Warn("rate limit counter unavailable", "key", key, "error", err)
			return c.Next()
		}

		if count > int64(maxRequests) {
			if ttl, err := rl.counter.TTL(c.UserContext(), key); err == nil && ttl > 0 {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Seconds())))
			}
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(int64(maxRequests)-count, 10))
		return c.Next()
	}
}

// ScanLimit limits scan submissions per hour.
func (rl *RateLimiter) ScanLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("scan", maxPerHour, time.Hour)
}
