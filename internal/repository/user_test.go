package repository

import (
	"context"
	"regexp"
	"testing"

	"tripchat/internal/models"
	"tripchat/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)
	return db, mock
}

func TestUserRepository_IsAdminQuery(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "is_admin" FROM "users" WHERE id = $1`)).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"is_admin"}).AddRow(true))

	admin, err := repo.IsAdmin(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, admin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_SQLite(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	u := &models.User{Username: "guide", DisplayName: "Guide"}
	require.NoError(t, repo.Create(ctx, u))

	admin, err := repo.IsAdmin(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, admin)

	require.NoError(t, repo.SetAdmin(ctx, u.ID, true))
	admin, err = repo.IsAdmin(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, admin)

	byName, err := repo.GetByUsername(ctx, "guide")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)

	unknown, err := repo.IsAdmin(ctx, 999)
	require.NoError(t, err)
	assert.False(t, unknown)

	admins, err := repo.ListAdmins(ctx)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, "guide", admins[0].Username)
}
