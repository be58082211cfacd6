package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tripchat/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestCheckRateLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("bypassed outside production", func(t *testing.T) {
		t.Setenv("APP_ENV", "test")
		allowed, err := CheckRateLimit(ctx, nil, "typing", "user:1", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("nil redis is an error", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		allowed, err := CheckRateLimit(ctx, nil, "typing", "user:1", 1, time.Minute)
		assert.Error(t, err)
		assert.False(t, allowed)
	})

	t.Run("counts within window", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		mr, rdb := newRedis(t)
		for i := 0; i < 3; i++ {
			allowed, err := CheckRateLimit(ctx, rdb, "send", "user:1", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, allowed)
		}
		allowed, err := CheckRateLimit(ctx, rdb, "send", "user:1", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, allowed)

		mr.FastForward(2 * time.Minute)
		allowed, err = CheckRateLimit(ctx, rdb, "send", "user:1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	})
}

func TestTypingLimit(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	_, rdb := newRedis(t)
	limit := TypingLimit(rdb)
	for i := 0; i < 10; i++ {
		assert.True(t, limit(context.Background(), 4))
	}
	assert.False(t, limit(context.Background(), 4))
	assert.True(t, limit(context.Background(), 5), "limits are per user")

	// Redis outage lets typing through.
	assert.True(t, TypingLimit(nil)(context.Background(), 4))
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	mr, rdb := newRedis(t)

	app := fiber.New()
	app.Post("/open", RateLimit(rdb, 1, time.Minute, "open"), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })
	app.Post("/closed", RateLimitWithPolicy(rdb, 1, time.Minute, FailClosed, "closed"), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	do := func(path string) int {
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, path, nil))
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusNoContent, do("/open"))
	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/open", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get(fiber.HeaderRetryAfter))
	assert.Greater(t, mr.TTL("rl:open:ip:0.0.0.0"), time.Duration(0))

	mr.Close()
	assert.Equal(t, http.StatusNoContent, do("/open"), "fail open")
	assert.Equal(t, http.StatusServiceUnavailable, do("/closed"), "fail closed")
}

func TestParseToken(t *testing.T) {
	cfg := TokenConfig{Secret: "a-very-long-test-secret-of-32-chars!", Issuer: "tripchat-api", Audience: "tripchat-client"}

	token, err := IssueToken(cfg, 42, time.Hour)
	require.NoError(t, err)
	userID, err := ParseToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), userID)

	tests := []struct {
		name  string
		token func() string
	}{
		{"wrong secret", func() string {
			s, _ := IssueToken(TokenConfig{Secret: "other", Issuer: cfg.Issuer, Audience: cfg.Audience}, 42, time.Hour)
			return s
		}},
		{"wrong issuer", func() string {
			s, _ := IssueToken(TokenConfig{Secret: cfg.Secret, Issuer: "someone-else", Audience: cfg.Audience}, 42, time.Hour)
			return s
		}},
		{"wrong audience", func() string {
			s, _ := IssueToken(TokenConfig{Secret: cfg.Secret, Issuer: cfg.Issuer, Audience: "admin"}, 42, time.Hour)
			return s
		}},
		{"expired", func() string {
			s, _ := IssueToken(cfg, 42, -time.Minute)
			return s
		}},
		{"no expiry", func() string {
			s, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
				Subject: "42", Issuer: cfg.Issuer, Audience: jwt.ClaimStrings{cfg.Audience},
			}).SignedString([]byte(cfg.Secret))
			return s
		}},
		{"non-numeric subject", func() string {
			s, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
				Subject: "ana", Issuer: cfg.Issuer, Audience: jwt.ClaimStrings{cfg.Audience},
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			}).SignedString([]byte(cfg.Secret))
			return s
		}},
		{"garbage", func() string { return "not.a.token" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(cfg, tt.token())
			assert.True(t, models.IsCode(err, models.CodeUnauthorized), "got %v", err)
		})
	}
}

func TestBearerToken(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(BearerToken(c)) })

	for header, want := range map[string]string{
		"Bearer abc": "abc",
		"Basic abc":  "",
		"Bearer":     "",
		"":           "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		body := make([]byte, 16)
		n, _ := resp.Body.Read(body)
		assert.Equal(t, want, string(body[:n]), header)
	}
}

func TestInitMetricsIsSingleton(t *testing.T) {
	assert.Same(t, InitMetrics("tripchat-api"), InitMetrics("tripchat-api"))
}
