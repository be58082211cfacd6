// Package bootstrap wires the runtime dependencies shared by the server and
// the maintenance commands.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"tripchat/internal/cache"
	"tripchat/internal/config"
	"tripchat/internal/database"
	"tripchat/internal/models"
	"tripchat/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// DefaultDevAdminUsername is used when DEV_ADMIN_USERNAME is empty.
const DefaultDevAdminUsername = "tripchat_admin"

// Options control runtime initialization behavior.
type Options struct {
	SeedDemo bool
}

// InitRuntime connects to the database and Redis and ensures the development
// admin. The Redis client is nil when Redis is unreachable.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	var rdb *redis.Client
	if client, err := cache.NewRedisClient(ctx, cfg.RedisURL); err != nil {
		log.Printf("Redis unavailable, continuing without it: %v", err)
	} else {
		rdb = client
	}

	if _, err := EnsureDevAdmin(ctx, cfg, db); err != nil {
		return nil, nil, fmt.Errorf("failed to bootstrap development admin: %w", err)
	}

	if opts.SeedDemo {
		if _, err := seed.Demo(ctx, db, seed.Options{Travelers: seed.DefaultOptions.Travelers, MessagesPerChat: seed.DefaultOptions.MessagesPerChat}); err != nil {
			return nil, nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	return db, rdb, nil
}

// EnsureDevAdmin creates or promotes the development admin account. It is a
// no-op outside development or when DEV_BOOTSTRAP_ADMIN is off.
func EnsureDevAdmin(ctx context.Context, cfg *config.Config, db *gorm.DB) (*models.User, error) {
	if cfg == nil || db == nil {
		return nil, nil
	}
	if !strings.EqualFold(cfg.Env, "development") || !cfg.DevBootstrapAdmin {
		return nil, nil
	}

	username := strings.TrimSpace(cfg.DevAdminUsername)
	if username == "" {
		username = DefaultDevAdminUsername
	}

	var admin models.User
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		findErr := tx.Where("username = ?", username).First(&admin).Error
		switch {
		case errors.Is(findErr, gorm.ErrRecordNotFound):
			admin = models.User{Username: username, DisplayName: "Admin", IsAdmin: true}
			return tx.Create(&admin).Error
		case findErr != nil:
			return findErr
		case !admin.IsAdmin:
			admin.IsAdmin = true
			return tx.Model(&admin).Update("is_admin", true).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("development admin ensured: user ID %d (%s)", admin.ID, admin.Username)
	return &admin, nil
}
