// Package testutil provides shared test fixtures: an in-memory SQL store,
// an in-process Redis and user factories.
package testutil

import (
	"fmt"
	"testing"

	"tripchat/internal/config"
	"tripchat/internal/database"
	"tripchat/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewTestDB opens a private, migrated in-memory SQLite database. A single
// connection serialises writers the way the production row locks do.
func NewTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.Open(sqlite.Open(dsn), &config.Config{Env: "test", DBMaxOpenConns: 1})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// NewTestRedis starts an in-process Redis and returns a client for it.
func NewTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

// CreateUser inserts a user with a random unique username.
func CreateUser(t testing.TB, db *gorm.DB) *models.User {
	t.Helper()
	u := &models.User{
		Username:    fmt.Sprintf("%s_%s", gofakeit.Username(), uuid.NewString()[:8]),
		DisplayName: gofakeit.Name(),
		AvatarURL:   gofakeit.URL(),
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return u
}

// CreateAdmin inserts a global administrator.
func CreateAdmin(t testing.TB, db *gorm.DB) *models.User {
	t.Helper()
	u := CreateUser(t, db)
	if err := db.Model(u).Update("is_admin", true).Error; err != nil {
		t.Fatalf("failed to promote admin: %v", err)
	}
	u.IsAdmin = true
	return u
}
