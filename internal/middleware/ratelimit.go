package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vault-core/vault_core/internal/auth"
)

// ErrRateLimited is returned once a caller exceeds its per-minute budget.
var ErrRateLimited = errors.New("too many requests, try again later")

const rateLimitPrefix = "rl:mutation:"

var now = time.Now

// RateLimit caps mutating requests per caller (or per IP for anonymous
// requests) in fixed one-minute windows. Without Redis, or when Redis
// fails, requests pass through.
func RateLimit(cache redis.Cmdable, perMinute int, logger *slog.Logger) fiber.Handler {
	if perMinute <= 0 {
		perMinute = 60
	}
	return func(c *fiber.Ctx) error {
		if cache == nil || c.Method() == fiber.MethodGet || c.Method() == fiber.MethodHead {
			return c.Next()
		}
		subject := c.IP()
		if caller, err := auth.CallerFrom(c); err == nil {
			subject = caller.OwnerID
		}
		window := now().Unix() / 60
		key := rateLimitPrefix + subject + ":" + strconv.FormatInt(window, 10)

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		count, err := cache.Incr(ctx, key).Result()
		if err != nil {
			logger.Warn("rate limit unavailable", slog.String("subject", subject), slog.Any("error", err))
			return c.Next()
		}
		if count == 1 {
			cache.Expire(ctx, key, time.Minute)
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(perMinute))
		if remaining := int64(perMinute) - count; remaining > 0 {
			c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		} else {
			c.Set("X-RateLimit-Remaining", "0")
		}
		if count > int64(perMinute) {
			return ErrRateLimited
		}
		return c.Next()
	}
}
