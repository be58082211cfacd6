package client

import (
	"testing"
	"time"

	"tripchat/internal/events"

	"github.com/stretchr/testify/assert"
)

func TestTypingTracker(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tr := NewTypingTracker()
	tr.now = func() time.Time { return now }

	tr.Apply(events.Typing{ConversationID: 5, UserID: 3, IsTyping: true, ExpiresInMs: 2000})
	tr.Apply(events.Typing{ConversationID: 5, UserID: 2, IsTyping: true})
	tr.Apply(events.Typing{ConversationID: 6, UserID: 4, IsTyping: true})
	assert.Equal(t, []uint{2, 3}, tr.Typing(5))

	now = now.Add(3 * time.Second)
	assert.Equal(t, []uint{2}, tr.Typing(5), "explicit ttl elapsed")

	tr.Apply(events.Typing{ConversationID: 5, UserID: 2, IsTyping: false})
	assert.Empty(t, tr.Typing(5))

	now = now.Add(10 * time.Second)
	assert.Empty(t, tr.Typing(6), "default ttl elapsed")

	tr.Apply(events.Typing{ConversationID: 7, UserID: 8, IsTyping: true})
	tr.Clear(7)
	assert.Empty(t, tr.Typing(7))
}
