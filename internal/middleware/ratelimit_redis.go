package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messenger-service/internal/apperr"
)

// Counter increments a fixed-window counter, starting the window on the
// first hit.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type RedisCounter struct {
	Redis *redis.Client
}

func (r RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := r.Redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := r.Redis.Expire(ctx, key, window).Err(); err != nil {
			return 0, err
		}
	}
	return count, nil
}

type RateLimiter struct {
	Counter Counter
	Prefix  string
	Limit   int
	Window  time.Duration
	log     *zap.Logger
}

func NewRateLimiter(c Counter, prefix string, limit int, window time.Duration, log *zap.Logger) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimiter{Counter: c, Prefix: prefix, Limit: limit, Window: window, log: log.Named("ratelimit")}
}

// ByCaller keys on the resolved user and falls back to the client IP.
func ByCaller(c *fiber.Ctx) string {
	if id := Identity(c); id != nil {
		return "user:" + id.UserID
	}
	return "ip:" + c.IP()
}

func (r *RateLimiter) MiddlewareByKey(keyFunc func(c *fiber.Ctx) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := fmt.Sprintf("%s:ratelimit:%s", r.Prefix, keyFunc(c))
		count, err := r.Counter.Incr(c.UserContext(), key, r.Window)
		if err != nil {
			r.log.Error("rate limiter", zap.String("key", key), zap.Error(err))
			return Fail(c, apperr.Wrap(apperr.Internal, err, "rate limiter error"))
		}
		if count > int64(r.Limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": ErrorBody{
				Kind:    "RATE_LIMITED",
				Message: "rate limit exceeded",
			}})
		}
		return c.Next()
	}
}
