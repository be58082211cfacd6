package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tripchat/internal/bus"
	"tripchat/internal/config"
	"tripchat/internal/middleware"
	"tripchat/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type testServer struct {
	*Server
	app *fiber.App
	db  *gorm.DB
	rdb *redis.Client
	bus *bus.MemoryBus
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:                 "test-secret",
		JWTIssuer:                 "tripchat-test",
		JWTAudience:               "tripchat",
		Env:                       "test",
		AllowedOrigins:            "*",
		FeatureFlags:              "dm_notifications=on,typing_indicators=on",
		BusBackend:                "memory",
		SubscriberBuffer:          64,
		NotificationWindow:        50,
		NotificationRetentionDays: 30,
		IdempotencyWindowHours:    24,
		CacheTTLSeconds:           30,
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := testutil.NewTestDB(t)
	_, rdb := testutil.NewTestRedis(t)
	b := bus.NewMemoryBus(64)
	t.Cleanup(func() { _ = b.Close() })

	s, err := NewServerWithDeps(testConfig(), db, rdb, b)
	require.NoError(t, err)
	return &testServer{Server: s, app: s.NewApp(), db: db, rdb: rdb, bus: b}
}

func (ts *testServer) token(t *testing.T, userID uint) string {
	t.Helper()
	tok, err := middleware.IssueToken(ts.tokens, userID, time.Hour)
	require.NoError(t, err)
	return tok
}

// do sends a JSON request as userID (0 for anonymous) and decodes the body into out.
func (ts *testServer) do(t *testing.T, method, path string, userID uint, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, userID))
	}

	resp, err := ts.app.Test(req, 5000)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	if out != nil {
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out), string(raw))
	}
	return resp.StatusCode
}

func TestLivenessCheck(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]any
	status := ts.do(t, http.MethodGet, "/health/live", 0, nil, &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "up", body["status"])
}

func TestReadinessCheck_Healthy(t *testing.T) {
	ts := newTestServer(t)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	status := ts.do(t, http.MethodGet, "/health/ready", 0, nil, &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "healthy", body.Checks["database"])
	assert.Equal(t, "healthy", body.Checks["redis"])
}

func TestReadinessCheck_DatabaseDown(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer func() { _ = sqlDB.Close() }()
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	s := &Server{config: &config.Config{BusBackend: "memory"}, db: gormDB}
	app := fiber.New()
	app.Get("/health/ready", s.ReadinessCheck)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unhealthy", body.Checks["database"])
	assert.Equal(t, "unavailable", body.Checks["redis"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadinessCheck_RedisRequiredByBus(t *testing.T) {
	db := testutil.NewTestDB(t)
	s := &Server{config: &config.Config{BusBackend: "redis"}, db: db}
	app := fiber.New()
	app.Get("/health/ready", s.ReadinessCheck)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestNewBus(t *testing.T) {
	t.Run("memory without redis", func(t *testing.T) {
		b, err := NewBus(&config.Config{BusBackend: "redis", SubscriberBuffer: 8}, nil)
		require.NoError(t, err)
		defer func() { _ = b.Close() }()
		assert.IsType(t, &bus.MemoryBus{}, b)
	})

	t.Run("redis when available", func(t *testing.T) {
		_, rdb := testutil.NewTestRedis(t)
		b, err := NewBus(&config.Config{BusBackend: "redis", SubscriberBuffer: 8}, rdb)
		require.NoError(t, err)
		defer func() { _ = b.Close() }()
		assert.IsType(t, &bus.RedisBus{}, b)
	})
}

func TestNewServerWithDeps_RejectsBadConfig(t *testing.T) {
	db := testutil.NewTestDB(t)
	b := bus.NewMemoryBus(8)
	defer func() { _ = b.Close() }()

	cfg := testConfig()
	cfg.FeatureFlags = "dm_notifications"
	_, err := NewServerWithDeps(cfg, db, nil, b)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.RetentionCron = "every hour"
	_, err = NewServerWithDeps(cfg, db, nil, b)
	assert.Error(t, err)
}
