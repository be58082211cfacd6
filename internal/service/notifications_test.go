package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"tripchat/internal/events"
	"tripchat/internal/models"
	"tripchat/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotify_PersistsAndPublishes(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	actor, recipient := testutil.CreateUser(t, f.db), testutil.CreateUser(t, f.db)
	trip := uint(12)

	item, err := f.notes.Notify(ctx, NotifyInput{
		RecipientID: recipient.ID,
		ActorID:     actor.ID,
		Type:        models.NotificationComment,
		Message:     " commented on your trip ",
		TripID:      &trip,
		Metadata:    json.RawMessage(`{"commentPreview":"wow"}`),
	})
	require.NoError(t, err)
	assert.NotZero(t, item.ID)
	assert.Equal(t, "commented on your trip", item.Message)
	assert.Equal(t, actor.Name(), item.ActorName)

	published := f.pub.on(events.NotificationsTopic(recipient.ID))
	require.Len(t, published, 1)
	n := published[0].(events.Notification)
	assert.Equal(t, item.ID, n.ID)
	assert.Equal(t, &trip, n.TripID)
	assert.False(t, n.IsRead)
}

func TestNotify_Validation(t *testing.T) {
	f := newFixture(t, "")
	tests := []struct {
		name string
		in   NotifyInput
	}{
		{"no recipient", NotifyInput{Type: models.NotificationLove, Message: "x"}},
		{"unknown type", NotifyInput{RecipientID: 1, Type: "poke", Message: "x"}},
		{"blank message", NotifyInput{RecipientID: 1, Type: models.NotificationSave, Message: "  "}},
		{"bad metadata", NotifyInput{RecipientID: 1, Type: models.NotificationSave, Message: "x", Metadata: json.RawMessage(`{`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.notes.Notify(context.Background(), tt.in)
			assert.True(t, models.IsCode(err, models.CodeValidation), "got %v", err)
		})
	}
	assert.Empty(t, f.pub.named(events.NameNotification))
}

func TestNotificationList_ClampsToWindow(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	recipient := testutil.CreateUser(t, f.db)
	for i := 0; i < MaxNotificationPage+5; i++ {
		_, err := f.notes.Notify(ctx, NotifyInput{RecipientID: recipient.ID, Type: models.NotificationFollow, Message: fmt.Sprintf("follow %d", i)})
		require.NoError(t, err)
	}

	items, err := f.notes.List(ctx, recipient.ID, 0)
	require.NoError(t, err)
	assert.Len(t, items, MaxNotificationPage)
	assert.Equal(t, fmt.Sprintf("follow %d", MaxNotificationPage+4), items[0].Message)

	items, err = f.notes.List(ctx, recipient.ID, 500)
	require.NoError(t, err)
	assert.Len(t, items, MaxNotificationPage)

	items, err = f.notes.List(ctx, recipient.ID, 3)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestNotificationMarkRead(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	a, b := testutil.CreateUser(t, f.db), testutil.CreateUser(t, f.db)
	item, err := f.notes.Notify(ctx, NotifyInput{RecipientID: a.ID, Type: models.NotificationSystem, Message: "welcome"})
	require.NoError(t, err)
	_, err = f.notes.Notify(ctx, NotifyInput{RecipientID: a.ID, Type: models.NotificationSystem, Message: "tips"})
	require.NoError(t, err)
	f.pub.reset()

	_, err = f.notes.MarkRead(ctx, b.ID, item.ID)
	assert.True(t, models.IsCode(err, models.CodeNotFound), "got %v", err)

	read, err := f.notes.MarkRead(ctx, a.ID, item.ID)
	require.NoError(t, err)
	assert.True(t, read.IsRead)

	republished := f.pub.on(events.NotificationsTopic(a.ID))
	require.Len(t, republished, 1)
	assert.True(t, republished[0].(events.Notification).IsRead)

	n, err := f.notes.MarkAllRead(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
