package repository

import (
	"context"
	"testing"
	"time"

	"tripchat/internal/models"
	"tripchat/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestNotificationRepository(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()
	me, other := testutil.CreateUser(t, db), testutil.CreateUser(t, db)

	var ids []uint
	for i, typ := range []models.NotificationType{models.NotificationLove, models.NotificationFollow, models.NotificationComment} {
		n := &models.NotificationItem{
			RecipientID: me.ID, ActorID: other.ID, ActorName: other.Name(), Type: typ, Message: "ping",
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.Create(ctx, n))
		ids = append(ids, n.ID)
	}

	t.Run("list is newest first and limited", func(t *testing.T) {
		items, err := repo.ListRecent(ctx, me.ID, 2)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, ids[2], items[0].ID)
		assert.Equal(t, ids[1], items[1].ID)
	})

	t.Run("mark read is scoped to the recipient", func(t *testing.T) {
		_, err := repo.MarkRead(ctx, ids[0], other.ID)
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

		n, err := repo.MarkRead(ctx, ids[0], me.ID)
		require.NoError(t, err)
		assert.True(t, n.IsRead)
		assert.NotNil(t, n.ReadAt)
	})

	t.Run("mark all read", func(t *testing.T) {
		n, err := repo.MarkAllRead(ctx, me.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("purge removes only old read items", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, &models.NotificationItem{
			RecipientID: me.ID, Type: models.NotificationSystem, Message: "unread", CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
		}))
		n, err := repo.PurgeReadBefore(ctx, time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		items, err := repo.ListRecent(ctx, me.ID, 50)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "unread", items[0].Message)
	})
}
