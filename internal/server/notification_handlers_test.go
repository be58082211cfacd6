package server

import (
	"fmt"
	"net/http"
	"testing"

	"tripchat/internal/events"
	"tripchat/internal/models"
	"tripchat/internal/testutil"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemNotifications(t *testing.T) {
	ts := newTestServer(t)
	admin := testutil.CreateAdmin(t, ts.db)
	alice := testutil.CreateUser(t, ts.db)
	bob := testutil.CreateUser(t, ts.db)

	aliceStream := ts.capture(t, events.NotificationsTopic(alice.ID))

	message := gofakeit.Sentence(8)
	var created []events.Notification
	status := ts.do(t, http.MethodPost, "/api/admin/notifications", admin.ID, map[string]any{
		"recipientIds": []uint{alice.ID, bob.ID},
		"message":      message,
		"tripId":       12,
		"metadata":     map[string]any{"severity": "info"},
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	require.Len(t, created, 2)
	assert.Equal(t, string(models.NotificationSystem), created[0].Type)
	assert.Equal(t, admin.ID, created[0].ActorID)

	env := aliceStream.waitFor(t, events.NameNotification)
	ev, err := env.Decode()
	require.NoError(t, err)
	assert.Equal(t, message, ev.(events.Notification).Message)

	t.Run("non admins are rejected", func(t *testing.T) {
		status := ts.do(t, http.MethodPost, "/api/admin/notifications", alice.ID, map[string]any{
			"recipientIds": []uint{bob.ID},
			"message":      "hi",
		}, nil)
		assert.Equal(t, http.StatusForbidden, status)
	})

	t.Run("validation", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/admin/notifications", admin.ID,
			map[string]any{"message": "nobody"}, nil))
		assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/admin/notifications", admin.ID,
			map[string]any{"recipientIds": []uint{alice.ID}, "message": "  "}, nil))
	})
}

func TestNotificationReads(t *testing.T) {
	ts := newTestServer(t)
	admin := testutil.CreateAdmin(t, ts.db)
	alice := testutil.CreateUser(t, ts.db)
	bob := testutil.CreateUser(t, ts.db)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/admin/notifications", admin.ID, map[string]any{
			"recipientIds": []uint{alice.ID},
			"message":      fmt.Sprintf("alert %d", i),
		}, nil))
	}

	var list []events.Notification
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/notifications", alice.ID, nil, &list))
	require.Len(t, list, 3)
	assert.Equal(t, "alert 2", list[0].Message)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/notifications?limit=2", alice.ID, nil, &list))
	assert.Len(t, list, 2)

	t.Run("mark one read", func(t *testing.T) {
		var item events.Notification
		path := fmt.Sprintf("/api/notifications/%d/read", list[0].ID)
		require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, path, alice.ID, nil, &item))
		assert.True(t, item.IsRead)

		assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, path, bob.ID, nil, nil))
	})

	t.Run("mark all read", func(t *testing.T) {
		var res struct {
			Updated int64 `json:"updated"`
		}
		require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/notifications/read-all", alice.ID, nil, &res))
		assert.Equal(t, int64(2), res.Updated)

		require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/notifications", alice.ID, nil, &list))
		for _, n := range list {
			assert.True(t, n.IsRead)
		}
	})

	t.Run("other users see nothing", func(t *testing.T) {
		var empty []events.Notification
		require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/notifications", bob.ID, nil, &empty))
		assert.Empty(t, empty)
	})
}
