// Package reconcile merges REST snapshots with live bus events into one
// consistent client-side view. Every merge is idempotent: a duplicate or
// reordered event leaves the view unchanged.
package reconcile

import (
	"slices"
	"sort"
	"sync"
	"time"

	"tripchat/internal/events"
)

// Timeline is the ordered message list of one conversation. Entries are
// sorted by (CreatedAt, ID) and unique by message ID. Optimistic entries
// that have not been persisted yet are tracked by client token and replaced
// in place when the server echo arrives.
type Timeline struct {
	mu             sync.RWMutex
	conversationID uint
	entries        []entry
	byID           map[uint]struct{}
	pending        map[string]struct{}
}

type entry struct {
	msg     events.Message
	pending bool
}

// NewTimeline returns an empty timeline for a conversation.
func NewTimeline(conversationID uint) *Timeline {
	return &Timeline{
		conversationID: conversationID,
		byID:           make(map[uint]struct{}),
		pending:        make(map[string]struct{}),
	}
}

// ConversationID returns the conversation the timeline belongs to.
func (t *Timeline) ConversationID() uint {
	return t.conversationID
}

// Insert merges a persisted message. It reports whether the message was not
// already present under its ID. A message whose client token matches a
// pending entry confirms that entry and is not reported as new.
func (t *Timeline) Insert(msg events.Message) bool {
	if msg.ConversationID != 0 && msg.ConversationID != t.conversationID {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insertLocked(msg)
}

func (t *Timeline) insertLocked(msg events.Message) bool {
	if msg.ID == 0 {
		return false
	}
	if _, ok := t.byID[msg.ID]; ok {
		return false
	}
	t.byID[msg.ID] = struct{}{}

	if msg.ClientToken != "" {
		if _, ok := t.pending[msg.ClientToken]; ok {
			delete(t.pending, msg.ClientToken)
			t.removePending(msg.ClientToken)
			t.place(entry{msg: msg})
			return false
		}
	}
	t.place(entry{msg: msg})
	return true
}

// AddPending appends an optimistic entry for a send that has not been
// acknowledged. It is a no-op if the token is already pending or confirmed.
func (t *Timeline) AddPending(msg events.Message) bool {
	if msg.ClientToken == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[msg.ClientToken]; ok {
		return false
	}
	for _, e := range t.entries {
		if e.msg.ClientToken == msg.ClientToken {
			return false
		}
	}
	msg.ID = 0
	msg.ConversationID = t.conversationID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	t.pending[msg.ClientToken] = struct{}{}
	t.place(entry{msg: msg, pending: true})
	return true
}

// DropPending removes an optimistic entry whose send failed permanently.
func (t *Timeline) DropPending(clientToken string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[clientToken]; !ok {
		return
	}
	delete(t.pending, clientToken)
	t.removePending(clientToken)
}

// IsPending reports whether an optimistic entry for the token is waiting for its echo.
func (t *Timeline) IsPending(clientToken string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.pending[clientToken]
	return ok
}

// ApplySnapshot merges a REST page. Messages already present are refreshed
// with the snapshot's reactions and readers; new ones are inserted in order.
// It returns the IDs of messages that were not present before.
func (t *Timeline) ApplySnapshot(msgs []events.Message) []uint {
	t.mu.Lock()
	defer t.mu.Unlock()

	var added []uint
	for _, m := range msgs {
		if _, ok := t.byID[m.ID]; ok {
			if i := t.indexOf(m.ID); i >= 0 {
				t.entries[i].msg.Reactions = slices.Clone(m.Reactions)
				t.entries[i].msg.ReadBy = slices.Clone(m.ReadBy)
			}
			continue
		}
		if t.insertLocked(m) {
			added = append(added, m.ID)
		}
	}
	return added
}

// ApplyReaction replaces the reaction list of a message wholesale.
func (t *Timeline) ApplyReaction(ev events.MessageReaction) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexOf(ev.MessageID)
	if i < 0 {
		return false
	}
	t.entries[i].msg.Reactions = slices.Clone(ev.Reactions)
	if t.entries[i].msg.Reactions == nil {
		t.entries[i].msg.Reactions = []events.Reaction{}
	}
	return true
}

// ApplyRead adds the reader to every message up to the read point that the
// reader did not author. Messages after LastReadMessageID are untouched.
func (t *Timeline) ApplyRead(ev events.MessagesRead) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		m := &t.entries[i].msg
		if t.entries[i].pending || m.SenderID == ev.ReaderID {
			continue
		}
		if ev.LastReadMessageID != 0 && m.ID > ev.LastReadMessageID {
			continue
		}
		if ev.LastReadMessageID == 0 && m.CreatedAt.After(ev.ReadAt) {
			continue
		}
		if !slices.Contains(m.ReadBy, ev.ReaderID) {
			m.ReadBy = append(m.ReadBy, ev.ReaderID)
		}
	}
}

// Messages returns a copy of the ordered view, pending entries included.
func (t *Timeline) Messages() []events.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]events.Message, 0, len(t.entries))
	for _, e := range t.entries {
		m := e.msg
		m.Reactions = slices.Clone(m.Reactions)
		m.ReadBy = slices.Clone(m.ReadBy)
		out = append(out, m)
	}
	return out
}

// Len returns the number of entries, pending included.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Last returns the newest persisted message.
func (t *Timeline) Last() (events.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.entries) - 1; i >= 0; i-- {
		if !t.entries[i].pending {
			return t.entries[i].msg, true
		}
	}
	return events.Message{}, false
}

func (t *Timeline) place(e entry) {
	i := sort.Search(len(t.entries), func(i int) bool {
		return less(e, t.entries[i])
	})
	t.entries = slices.Insert(t.entries, i, e)
}

// less orders by creation time; persisted entries break ties by ID and sort
// before pending ones at the same instant.
func less(a, b entry) bool {
	if !a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
		return a.msg.CreatedAt.Before(b.msg.CreatedAt)
	}
	if a.pending != b.pending {
		return !a.pending
	}
	return a.msg.ID < b.msg.ID
}

func (t *Timeline) indexOf(id uint) int {
	for i := range t.entries {
		if !t.entries[i].pending && t.entries[i].msg.ID == id {
			return i
		}
	}
	return -1
}

func (t *Timeline) removePending(token string) {
	t.entries = slices.DeleteFunc(t.entries, func(e entry) bool {
		return e.pending && e.msg.ClientToken == token
	})
}
