package reconcile

import (
	"sort"
	"sync"

	"tripchat/internal/events"
)

// DefaultWindow is the number of recent notifications kept client-side.
const DefaultWindow = 50

// NotificationWindow keeps the newest notifications, unique by ID.
type NotificationWindow struct {
	mu    sync.RWMutex
	limit int
	items []events.Notification
	seen  map[uint]struct{}
}

// NewNotificationWindow returns a window capped at limit items.
func NewNotificationWindow(limit int) *NotificationWindow {
	if limit <= 0 {
		limit = DefaultWindow
	}
	return &NotificationWindow{limit: limit, seen: make(map[uint]struct{})}
}

// Apply merges one notification and reports whether it is new to the
// window. A known ID is updated in place (a read-state change).
func (w *NotificationWindow) Apply(n events.Notification) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.applyLocked(n)
}

func (w *NotificationWindow) applyLocked(n events.Notification) bool {
	if _, ok := w.seen[n.ID]; ok {
		for i := range w.items {
			if w.items[i].ID == n.ID {
				w.items[i] = n
			}
		}
		return false
	}
	w.seen[n.ID] = struct{}{}
	w.items = append(w.items, n)
	w.sortAndTrim()
	return true
}

// ApplySnapshot merges a REST page and returns how many items were new.
func (w *NotificationWindow) ApplySnapshot(items []events.Notification) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	added := 0
	for _, n := range items {
		if w.applyLocked(n) {
			added++
		}
	}
	return added
}

// MarkRead flags one notification read locally.
func (w *NotificationWindow) MarkRead(id uint) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.items {
		if w.items[i].ID == id {
			w.items[i].IsRead = true
			return true
		}
	}
	return false
}

// MarkAllRead flags every notification in the window read.
func (w *NotificationWindow) MarkAllRead() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.items {
		w.items[i].IsRead = true
	}
}

// UnreadCount counts unread items in the window.
func (w *NotificationWindow) UnreadCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n := 0
	for _, it := range w.items {
		if !it.IsRead {
			n++
		}
	}
	return n
}

// Items returns the window newest first.
func (w *NotificationWindow) Items() []events.Notification {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]events.Notification, len(w.items))
	copy(out, w.items)
	return out
}

func (w *NotificationWindow) sortAndTrim() {
	sort.SliceStable(w.items, func(i, j int) bool {
		if !w.items[i].CreatedAt.Equal(w.items[j].CreatedAt) {
			return w.items[i].CreatedAt.After(w.items[j].CreatedAt)
		}
		return w.items[i].ID > w.items[j].ID
	})
	if len(w.items) > w.limit {
		// Evicted IDs stay in seen so a late redelivery is not reported as new.
		w.items = w.items[:w.limit]
	}
}
