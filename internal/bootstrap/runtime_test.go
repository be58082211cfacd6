package bootstrap

import (
	"context"
	"testing"

	"tripchat/internal/config"
	"tripchat/internal/models"
	"tripchat/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDevAdmin(t *testing.T) {
	ctx := context.Background()

	t.Run("skipped outside development", func(t *testing.T) {
		db := testutil.NewTestDB(t)
		u, err := EnsureDevAdmin(ctx, &config.Config{Env: "production", DevBootstrapAdmin: true}, db)
		require.NoError(t, err)
		assert.Nil(t, u)
	})

	t.Run("skipped when disabled", func(t *testing.T) {
		db := testutil.NewTestDB(t)
		u, err := EnsureDevAdmin(ctx, &config.Config{Env: "development"}, db)
		require.NoError(t, err)
		assert.Nil(t, u)
	})

	t.Run("creates the admin once", func(t *testing.T) {
		db := testutil.NewTestDB(t)
		cfg := &config.Config{Env: "development", DevBootstrapAdmin: true}

		first, err := EnsureDevAdmin(ctx, cfg, db)
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, DefaultDevAdminUsername, first.Username)
		assert.True(t, first.IsAdmin)

		second, err := EnsureDevAdmin(ctx, cfg, db)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		var count int64
		require.NoError(t, db.Model(&models.User{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("promotes an existing user", func(t *testing.T) {
		db := testutil.NewTestDB(t)
		existing := testutil.CreateUser(t, db)
		cfg := &config.Config{Env: "development", DevBootstrapAdmin: true, DevAdminUsername: existing.Username}

		u, err := EnsureDevAdmin(ctx, cfg, db)
		require.NoError(t, err)
		assert.Equal(t, existing.ID, u.ID)

		var stored models.User
		require.NoError(t, db.First(&stored, existing.ID).Error)
		assert.True(t, stored.IsAdmin)
	})
}
