package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"tripchat/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy decides what happens to a request when Redis cannot be reached.
type FailPolicy int

const (
	FailOpen   FailPolicy = iota // let it through
	FailClosed                   // answer 503
)

var errNoRedis = errors.New("rate limit store unavailable")

// limitsEnabled is false for test and development profiles so local work is never throttled.
func limitsEnabled() bool {
	switch os.Getenv("APP_ENV") {
	case "", "test", "development":
		return false
	}
	return true
}

// window counts one hit on key and returns the count and the time left in
// the current window. The counter and its expiry are set in one transaction.
func window(ctx context.Context, rdb *redis.Client, key string, span time.Duration) (int64, time.Duration, error) {
	if rdb == nil {
		return 0, 0, errNoRedis
	}
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	if _, err := rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		ttl = p.PTTL(ctx, key)
		return nil
	}); err != nil {
		return 0, 0, err
	}
	left := ttl.Val()
	if left < 0 {
		if err := rdb.PExpire(ctx, key, span).Err(); err != nil {
			return 0, 0, err
		}
		left = span
	}
	return incr.Val(), left, nil
}

// CheckRateLimit records one hit for id on resource and reports whether it is
// within limit for the current window.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, resource, id string, limit int, span time.Duration) (bool, error) {
	if !limitsEnabled() {
		return true, nil
	}
	n, _, err := window(ctx, rdb, "rl:"+resource+":"+id, span)
	if err != nil {
		return false, err
	}
	return n <= int64(limit), nil
}

// TypingLimit allows 10 typing frames per 10 seconds per user. Redis
// failures let the frame through.
func TypingLimit(rdb *redis.Client) func(ctx context.Context, userID uint) bool {
	return func(ctx context.Context, userID uint) bool {
		allowed, err := CheckRateLimit(ctx, rdb, "typing", fmt.Sprintf("user:%d", userID), 10, 10*time.Second)
		return err != nil || allowed
	}
}

// RateLimit limits a route per user (or per IP before authentication) and
// fails open.
func RateLimit(rdb *redis.Client, limit int, span time.Duration, name ...string) fiber.Handler {
	return RateLimitWithPolicy(rdb, limit, span, FailOpen, name...)
}

// RateLimitWithPolicy is RateLimit with an explicit Redis failure policy.
// name overrides the request path as the counter's resource.
func RateLimitWithPolicy(rdb *redis.Client, limit int, span time.Duration, policy FailPolicy, name ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !limitsEnabled() {
			return c.Next()
		}

		id := "ip:" + c.IP()
		if uid, ok := c.Locals("userID").(uint); ok {
			id = fmt.Sprintf("user:%d", uid)
		}
		resource := c.Path()
		if len(name) > 0 {
			resource = name[0]
		}

		n, left, err := window(c.UserContext(), rdb, "rl:"+resource+":"+id, span)
		switch {
		case err != nil && policy == FailClosed:
			Logger.WarnContext(c.UserContext(), "rate limit unavailable, rejecting",
				"resource", resource, "error", err)
			return models.RespondWithError(c, fiber.StatusServiceUnavailable, models.NewServiceUnavailableError(err))
		case err != nil:
			return c.Next()
		case n > int64(limit):
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(left.Seconds()))))
			return models.RespondWithError(c, fiber.StatusTooManyRequests, models.NewRateLimitedError("rate limit exceeded"))
		}
		return c.Next()
	}
}
