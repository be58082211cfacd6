package client

import (
	"sort"
	"sync"
	"time"

	"tripchat/internal/events"
)

const defaultTypingTTL = 5 * time.Second

// TypingTracker holds who is typing in each conversation. Entries expire on
// their own; nothing here is ever persisted or merged into a timeline.
type TypingTracker struct {
	mu      sync.Mutex
	now     func() time.Time
	typists map[uint]map[uint]time.Time
}

// NewTypingTracker returns an empty tracker.
func NewTypingTracker() *TypingTracker {
	return &TypingTracker{now: time.Now, typists: make(map[uint]map[uint]time.Time)}
}

// Apply records a typing event.
func (t *TypingTracker) Apply(ev events.Typing) {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := t.typists[ev.ConversationID]
	if !ev.IsTyping {
		delete(users, ev.UserID)
		return
	}
	if users == nil {
		users = make(map[uint]time.Time)
		t.typists[ev.ConversationID] = users
	}
	ttl := time.Duration(ev.ExpiresInMs) * time.Millisecond
	if ttl <= 0 {
		ttl = defaultTypingTTL
	}
	users[ev.UserID] = t.now().Add(ttl)
}

// Typing lists users currently typing in a conversation.
func (t *TypingTracker) Typing(conversationID uint) []uint {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var out []uint
	for id, expires := range t.typists[conversationID] {
		if now.After(expires) {
			delete(t.typists[conversationID], id)
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clear forgets every typist of a conversation.
func (t *TypingTracker) Clear(conversationID uint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.typists, conversationID)
}
