package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tripchat/internal/events"
	"tripchat/internal/models"
	"tripchat/internal/observability"
	"tripchat/internal/reconcile"

	"github.com/google/uuid"
)

// State is the connection state of a Manager.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// EffectKind names a user-facing side effect.
type EffectKind string

const (
	EffectNewMessage   EffectKind = "new-message"
	EffectNotification EffectKind = "notification"
	EffectSendFailed   EffectKind = "send-failed"
)

// Effect is emitted at most once per logically new item.
type Effect struct {
	Kind           EffectKind
	ConversationID uint
	MessageID      uint
	NotificationID uint
	ClientToken    string
	Err            error
}

// BackoffConfig bounds the reconnect delay.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Moderation is the last known lock and pin state of a group.
type Moderation struct {
	IsLocked        bool
	PinnedMessageID *uint
}

// Options configures a Manager.
type Options struct {
	UserID    uint
	Transport Transport
	API       API
	// Outbox defaults to a MemoryOutbox.
	Outbox   Outbox
	Uploader Uploader
	Backoff  BackoffConfig

	NotificationWindow int
	MessagePage        int
	EffectBuffer       int
	// TypingThrottle is the minimum gap between outgoing typing=true frames.
	TypingThrottle time.Duration
	Logger         *slog.Logger
}

// Manager runs one user's realtime session.
type Manager struct {
	opts   Options
	log    *slog.Logger
	state  atomic.Int32
	outbox Outbox

	inbox   *reconcile.Inbox
	notes   *reconcile.NotificationWindow
	typing  *TypingTracker
	effects chan Effect

	mu          sync.Mutex
	active      uint
	activeTopic string
	kinds       map[uint]string
	timelines   map[uint]*reconcile.Timeline
	moderation  map[uint]Moderation
	announced   map[uint]struct{}
	conn        Conn
	subscribed  map[string]bool
	typingSent  map[uint]time.Time

	wake   chan struct{}
	resync chan struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager validates opts and returns a stopped Manager.
func NewManager(opts Options) (*Manager, error) {
	switch {
	case opts.UserID == 0:
		return nil, errors.New("client: UserID is required")
	case opts.Transport == nil:
		return nil, errors.New("client: Transport is required")
	case opts.API == nil:
		return nil, errors.New("client: API is required")
	}
	if opts.Outbox == nil {
		opts.Outbox = NewMemoryOutbox()
	}
	if opts.Backoff.Initial <= 0 {
		opts.Backoff.Initial = 500 * time.Millisecond
	}
	if opts.Backoff.Max <= 0 {
		opts.Backoff.Max = 30 * time.Second
	}
	if opts.Backoff.Multiplier <= 1 {
		opts.Backoff.Multiplier = 2
	}
	if opts.MessagePage <= 0 {
		opts.MessagePage = 50
	}
	if opts.EffectBuffer <= 0 {
		opts.EffectBuffer = 64
	}
	if opts.TypingThrottle <= 0 {
		opts.TypingThrottle = 3 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.GlobalLogger.Logger
	}

	return &Manager{
		opts:       opts,
		log:        logger.With("component", "session", "user_id", opts.UserID),
		outbox:     opts.Outbox,
		inbox:      reconcile.NewInbox(),
		notes:      reconcile.NewNotificationWindow(opts.NotificationWindow),
		typing:     NewTypingTracker(),
		effects:    make(chan Effect, opts.EffectBuffer),
		kinds:      make(map[uint]string),
		timelines:  make(map[uint]*reconcile.Timeline),
		moderation: make(map[uint]Moderation),
		announced:  make(map[uint]struct{}),
		subscribed: make(map[string]bool),
		typingSent: make(map[uint]time.Time),
		wake:       make(chan struct{}, 1),
		resync:     make(chan struct{}, 1),
	}, nil
}

// Start connects in the background and keeps reconnecting until Stop or ctx ends.
func (m *Manager) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return errors.New("client: manager already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx)
	return nil
}

// Stop closes the connection and waits for the session loop to exit.
func (m *Manager) Stop() {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Effects delivers user-facing side effects. Effects are dropped when the
// buffer is full.
func (m *Manager) Effects() <-chan Effect {
	return m.effects
}

func (m *Manager) Inbox() *reconcile.Inbox                     { return m.inbox }
func (m *Manager) Notifications() *reconcile.NotificationWindow { return m.notes }
func (m *Manager) Typing() *TypingTracker                       { return m.typing }

// Timeline returns the timeline of a conversation that has been opened.
func (m *Manager) Timeline(conversationID uint) (*reconcile.Timeline, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tl, ok := m.timelines[conversationID]
	return tl, ok
}

// Moderation returns the last known lock and pin state of a group.
func (m *Manager) Moderation(conversationID uint) (Moderation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mod, ok := m.moderation[conversationID]
	return mod, ok
}

// Active returns the open conversation, or 0.
func (m *Manager) Active() uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Topics returns the topic set the manager wants to be subscribed to.
func (m *Manager) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.topicSetLocked()
}

// Pending returns the queued sends in order.
func (m *Manager) Pending() ([]PendingSend, error) {
	return m.outbox.List()
}

// OpenConversation makes conversationID the open view. Its topic joins the
// subscription set and its messages are fetched once subscribed.
func (m *Manager) OpenConversation(conversationID uint) error {
	m.mu.Lock()
	kind, ok := m.kinds[conversationID]
	if !ok {
		m.mu.Unlock()
		return models.NewNotFoundError("Conversation", conversationID)
	}
	if m.active != 0 && m.active != conversationID {
		m.typing.Clear(m.active)
	}
	m.active = conversationID
	m.activeTopic = events.ConversationTopic(models.ConversationKind(kind), conversationID)
	if _, ok := m.timelines[conversationID]; !ok {
		m.timelines[conversationID] = reconcile.NewTimeline(conversationID)
	}
	m.mu.Unlock()
	m.poke()
	return nil
}

// CloseConversation leaves the open view and drops its topic.
func (m *Manager) CloseConversation() {
	m.mu.Lock()
	if m.active != 0 {
		m.typing.Clear(m.active)
	}
	m.active = 0
	m.activeTopic = ""
	m.mu.Unlock()
	m.poke()
}

// Send queues a text message and returns its client token. The send is
// delivered in order with every other queued send once connected.
func (m *Manager) Send(conversationID uint, content string) (string, error) {
	content = strings.TrimSpace(content)
	if conversationID == 0 {
		return "", models.NewValidationError("conversationId is required")
	}
	if content == "" {
		return "", models.NewValidationError("message content cannot be empty")
	}
	return m.enqueue(PendingSend{ConversationID: conversationID, Type: string(models.MessageText), Content: content})
}

// SendMedia uploads r and queues a media message carrying the resulting URL.
// If the upload fails nothing is queued.
func (m *Manager) SendMedia(ctx context.Context, conversationID uint, kind models.MessageType, filename string, r io.Reader, caption string) (string, error) {
	if conversationID == 0 {
		return "", models.NewValidationError("conversationId is required")
	}
	if !kind.IsMedia() {
		return "", models.NewValidationError(fmt.Sprintf("%q is not a media message type", kind))
	}
	if m.opts.Uploader == nil {
		return "", models.NewUploadFailureError(errors.New("no uploader configured"))
	}
	mediaURL, err := m.opts.Uploader.Upload(ctx, filename, r)
	if err != nil {
		return "", models.NewUploadFailureError(err)
	}
	return m.enqueue(PendingSend{
		ConversationID: conversationID,
		Type:           string(kind),
		Content:        strings.TrimSpace(caption),
		MediaURL:       mediaURL,
	})
}

func (m *Manager) enqueue(p PendingSend) (string, error) {
	p.ClientToken = uuid.NewString()
	p.QueuedAt = time.Now().UTC()
	if err := m.outbox.Append(p); err != nil {
		return "", fmt.Errorf("queue send: %w", err)
	}
	if tl, ok := m.Timeline(p.ConversationID); ok {
		tl.AddPending(events.Message{
			SenderID:    m.opts.UserID,
			Type:        p.Type,
			Content:     p.Content,
			MediaURL:    p.MediaURL,
			ClientToken: p.ClientToken,
			CreatedAt:   p.QueuedAt,
		})
	}
	m.poke()
	return p.ClientToken, nil
}

// SetTyping sends a typing indicator for the open conversation. Repeated
// typing=true calls inside the throttle window are coalesced.
func (m *Manager) SetTyping(ctx context.Context, isTyping bool) error {
	m.mu.Lock()
	conn, convID := m.conn, m.active
	now := time.Now()
	if convID == 0 {
		m.mu.Unlock()
		return models.NewValidationError("no conversation is open")
	}
	if isTyping {
		if last, ok := m.typingSent[convID]; ok && now.Sub(last) < m.opts.TypingThrottle {
			m.mu.Unlock()
			return nil
		}
		m.typingSent[convID] = now
	} else {
		delete(m.typingSent, convID)
	}
	m.mu.Unlock()

	if conn == nil {
		return models.NewConnectionLostError(errors.New("not connected"))
	}
	return conn.Send(ctx, events.ClientAction{Action: events.ActionTyping, ConversationID: convID, IsTyping: isTyping})
}
