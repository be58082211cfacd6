package reconcile

import (
	"sort"
	"sync"
	"time"

	"tripchat/internal/events"
)

// Summary is the client's denormalized view of one conversation.
type Summary struct {
	ConversationID uint
	Kind           string
	Name           string
	LastMessage    string
	LastMessageAt  *time.Time
	LastMessageID  uint
	UnreadCount    int
}

// Inbox derives conversation summaries and unread counts from snapshots and
// update-conversation events. Unread counts come from the server; the only
// local change is an optimistic bump that the next authoritative summary
// replaces.
type Inbox struct {
	mu    sync.RWMutex
	convs map[uint]*inboxEntry
}

type inboxEntry struct {
	Summary
	// readThrough is the last message ID the user has marked read locally.
	// Summaries that do not advance past it cannot carry unread messages.
	readThrough uint
	// bumpedFor tracks message IDs already counted optimistically.
	bumpedFor map[uint]struct{}
}

// NewInbox returns an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{convs: make(map[uint]*inboxEntry)}
}

// ApplySnapshot replaces the known summaries with a REST snapshot, keeping
// local read watermarks.
func (in *Inbox) ApplySnapshot(summaries []Summary) {
	in.mu.Lock()
	defer in.mu.Unlock()
	next := make(map[uint]*inboxEntry, len(summaries))
	for _, s := range summaries {
		e := &inboxEntry{Summary: s}
		if old, ok := in.convs[s.ConversationID]; ok {
			e.readThrough = old.readThrough
		}
		e.clampUnread()
		next[s.ConversationID] = e
	}
	in.convs = next
}

// ApplyUpdate merges an update-conversation event. A summary for an older
// message than the one held is ignored; an equal or newer one is
// authoritative for the unread count.
func (in *Inbox) ApplyUpdate(ev events.UpdateConversation) {
	in.mu.Lock()
	defer in.mu.Unlock()
	e, ok := in.convs[ev.ConversationID]
	if !ok {
		e = &inboxEntry{Summary: Summary{ConversationID: ev.ConversationID}}
		in.convs[ev.ConversationID] = e
	}
	if e.LastMessageID > ev.LastMessageID {
		return
	}
	e.Kind = ev.Kind
	e.LastMessage = ev.LastMessage
	e.LastMessageAt = ev.LastMessageAt
	e.LastMessageID = ev.LastMessageID
	e.UnreadCount = ev.UnreadCount
	e.bumpedFor = nil
	e.clampUnread()
}

// BumpUnread optimistically counts a new message from someone else while the
// conversation is not open. Each message is counted at most once.
func (in *Inbox) BumpUnread(msg events.Message) {
	in.mu.Lock()
	defer in.mu.Unlock()
	e, ok := in.convs[msg.ConversationID]
	if !ok {
		e = &inboxEntry{Summary: Summary{ConversationID: msg.ConversationID}}
		in.convs[msg.ConversationID] = e
	}
	if msg.ID <= e.readThrough || msg.ID <= e.LastMessageID {
		return
	}
	if e.bumpedFor == nil {
		e.bumpedFor = make(map[uint]struct{})
	}
	if _, seen := e.bumpedFor[msg.ID]; seen {
		return
	}
	e.bumpedFor[msg.ID] = struct{}{}
	e.UnreadCount++
}

// MarkRead zeroes the conversation locally and remembers the read point so a
// late summary for an older message cannot bring the count back.
func (in *Inbox) MarkRead(conversationID, lastMessageID uint) {
	in.mu.Lock()
	defer in.mu.Unlock()
	e, ok := in.convs[conversationID]
	if !ok {
		e = &inboxEntry{Summary: Summary{ConversationID: conversationID}}
		in.convs[conversationID] = e
	}
	if lastMessageID < e.LastMessageID {
		lastMessageID = e.LastMessageID
	}
	for id := range e.bumpedFor {
		if id > lastMessageID {
			lastMessageID = id
		}
	}
	if lastMessageID > e.readThrough {
		e.readThrough = lastMessageID
	}
	e.UnreadCount = 0
	e.bumpedFor = nil
}

// Get returns the summary of one conversation.
func (in *Inbox) Get(conversationID uint) (Summary, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	e, ok := in.convs[conversationID]
	if !ok {
		return Summary{}, false
	}
	return e.Summary, true
}

// TotalUnread sums unread counts across conversations.
func (in *Inbox) TotalUnread() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	total := 0
	for _, e := range in.convs {
		total += e.UnreadCount
	}
	return total
}

// Conversations lists summaries by most recent activity.
func (in *Inbox) Conversations() []Summary {
	in.mu.RLock()
	defer in.mu.RUnlock()
	out := make([]Summary, 0, len(in.convs))
	for _, e := range in.convs {
		out = append(out, e.Summary)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := activity(out[i]), activity(out[j])
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return out[i].ConversationID > out[j].ConversationID
	})
	return out
}

func activity(s Summary) time.Time {
	if s.LastMessageAt == nil {
		return time.Time{}
	}
	return *s.LastMessageAt
}

func (e *inboxEntry) clampUnread() {
	if e.LastMessageID != 0 && e.LastMessageID <= e.readThrough {
		e.UnreadCount = 0
	}
}
