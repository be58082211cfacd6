package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"tripchat/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(rdb),
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
			b, ok, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v", string(b))

			require.NoError(t, s.Delete(ctx, "k"))
			_, ok, err = s.Get(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Second))
	_, ok, _ := s.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok)
}

func TestConversationCache_WriteThrough(t *testing.T) {
	ctx := context.Background()
	loads := 0
	db := map[uint]*models.Conversation{
		5: {ID: 5, Kind: models.ConversationGroup, Participants: []models.ConversationParticipant{{ConversationID: 5, UserID: 1, Role: models.RoleAdmin}}},
	}
	cc := NewConversationCache(NewMemoryStore(), time.Minute, func(_ context.Context, id uint) (*models.Conversation, error) {
		loads++
		c, ok := db[id]
		if !ok {
			return nil, errors.New("not found")
		}
		cp := *c
		return &cp, nil
	})

	first, err := cc.Get(ctx, 5)
	require.NoError(t, err)
	assert.False(t, first.IsLocked)
	_, err = cc.Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, loads)

	locked := *first
	locked.IsLocked = true
	require.NoError(t, cc.Put(ctx, &locked))
	got, err := cc.Get(ctx, 5)
	require.NoError(t, err)
	assert.True(t, got.IsLocked)
	assert.Equal(t, models.RoleAdmin, got.Participants[0].Role)
	assert.Equal(t, 1, loads)

	require.NoError(t, cc.Invalidate(ctx, 5))
	_, err = cc.Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)

	_, err = cc.Get(ctx, 404)
	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	opts, err := Options("localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)

	opts, err = Options("redis://:secret@cache:6380/2")
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)

	_, err = Options("redis://%zz")
	assert.Error(t, err)
}
