package cache

import (
	"context"
	"fmt"
	"time"

	"tripchat/internal/models"
)

// DefaultConversationTTL bounds staleness if an invalidation is lost.
const DefaultConversationTTL = 5 * time.Minute

// ConversationKey is the cache key of a conversation record.
func ConversationKey(id uint) string {
	return fmt.Sprintf("conversation:%d", id)
}

// ConversationLoader loads a conversation, with participants, from the store of record.
type ConversationLoader func(ctx context.Context, id uint) (*models.Conversation, error)

// ConversationCache caches conversation membership and moderation state for
// authorization checks. Every mutation of those fields must go through Put or
// Invalidate. The denormalized summary and per-participant unread counters in
// cached entries are not maintained and must not be read from here.
type ConversationCache struct {
	store Store
	ttl   time.Duration
	load  ConversationLoader
}

// NewConversationCache builds a write-through cache in front of load.
func NewConversationCache(store Store, ttl time.Duration, load ConversationLoader) *ConversationCache {
	if ttl <= 0 {
		ttl = DefaultConversationTTL
	}
	return &ConversationCache{store: store, ttl: ttl, load: load}
}

// Get returns the conversation, loading it on a miss.
func (c *ConversationCache) Get(ctx context.Context, id uint) (*models.Conversation, error) {
	return Aside(ctx, c.store, ConversationKey(id), c.ttl, func(ctx context.Context) (*models.Conversation, error) {
		return c.load(ctx, id)
	})
}

// Put writes conv through to the cache after a successful mutation.
func (c *ConversationCache) Put(ctx context.Context, conv *models.Conversation) error {
	return SetJSON(ctx, c.store, ConversationKey(conv.ID), conv, c.ttl)
}

// Invalidate drops cached conversations.
func (c *ConversationCache) Invalidate(ctx context.Context, ids ...uint) error {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, ConversationKey(id))
	}
	return c.store.Delete(ctx, keys...)
}
