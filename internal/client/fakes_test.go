package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"tripchat/internal/events"

	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
	me      = uint(1)
)

var errDial = errors.New("dial refused")

type fakeConn struct {
	mu        sync.Mutex
	sent      []events.ClientAction
	in        chan events.Frame
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan events.Frame, 32), closed: make(chan struct{})}
}

func (c *fakeConn) Send(_ context.Context, a events.ClientAction) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, a)
	return nil
}

func (c *fakeConn) Recv(_ context.Context) (events.Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.closed:
		return events.Frame{}, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(t *testing.T, topic string, ev events.Event) {
	t.Helper()
	env, err := events.Encode(topic, ev)
	require.NoError(t, err)
	c.in <- events.Frame{Event: &env}
}

func (c *fakeConn) actions(action string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var topics []string
	for _, a := range c.sent {
		if a.Action == action {
			topics = append(topics, a.Topic)
		}
	}
	return topics
}

func (c *fakeConn) typingFrames() []events.ClientAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.ClientAction
	for _, a := range c.sent {
		if a.Action == events.ActionTyping {
			out = append(out, a)
		}
	}
	return out
}

type fakeTransport struct {
	mu       sync.Mutex
	failures int
	dials    int
	conns    []*fakeConn
}

func (tr *fakeTransport) Dial(context.Context) (Conn, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.dials++
	if tr.failures > 0 {
		tr.failures--
		return nil, errDial
	}
	c := newFakeConn()
	tr.conns = append(tr.conns, c)
	return c, nil
}

func (tr *fakeTransport) dialCount() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.dials
}

func (tr *fakeTransport) conn(i int) *fakeConn {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if i >= len(tr.conns) {
		return nil
	}
	return tr.conns[i]
}

func (tr *fakeTransport) connCount() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.conns)
}

// fakeAPI stores sends by client token, like the server does.
type fakeAPI struct {
	mu            sync.Mutex
	convs         []events.Conversation
	msgs          map[uint][]events.Message
	notes         []events.Notification
	stored        map[string]events.Message
	nextID        uint
	sends         []SendRequest
	sendHook      func(call int, req SendRequest) (persist bool, err error)
	convCalls     int
	messageCalls  map[uint]int
	markReadCalls map[uint]int
}

func newFakeAPI(convs ...events.Conversation) *fakeAPI {
	return &fakeAPI{
		convs:         convs,
		msgs:          make(map[uint][]events.Message),
		stored:        make(map[string]events.Message),
		nextID:        1000,
		messageCalls:  make(map[uint]int),
		markReadCalls: make(map[uint]int),
	}
}

func (a *fakeAPI) Conversations(context.Context) ([]events.Conversation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.convCalls++
	return append([]events.Conversation(nil), a.convs...), nil
}

func (a *fakeAPI) Messages(_ context.Context, conversationID uint, _ int) ([]events.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messageCalls[conversationID]++
	return append([]events.Message(nil), a.msgs[conversationID]...), nil
}

func (a *fakeAPI) Notifications(context.Context, int) ([]events.Notification, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]events.Notification(nil), a.notes...), nil
}

func (a *fakeAPI) SendMessage(_ context.Context, conversationID uint, req SendRequest) (events.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	call := len(a.sends)
	a.sends = append(a.sends, req)

	persist, err := true, error(nil)
	if a.sendHook != nil {
		persist, err = a.sendHook(call, req)
	}
	var msg events.Message
	if persist {
		existing, ok := a.stored[req.ClientToken]
		if ok {
			msg = existing
		} else {
			a.nextID++
			msg = events.Message{
				ID: a.nextID, ConversationID: conversationID, SenderID: me, Type: req.Type,
				Content: req.Content, MediaURL: req.MediaURL, ClientToken: req.ClientToken,
				CreatedAt: time.Now().UTC(),
			}
			a.stored[req.ClientToken] = msg
		}
	}
	if err != nil {
		return events.Message{}, err
	}
	return msg, nil
}

func (a *fakeAPI) MarkRead(_ context.Context, conversationID uint) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markReadCalls[conversationID]++
	return nil
}

func (a *fakeAPI) sendContents() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.sends))
	for _, s := range a.sends {
		out = append(out, s.Content)
	}
	return out
}

func (a *fakeAPI) storedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.stored)
}

func (a *fakeAPI) calls(f func(a *fakeAPI) int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return f(a)
}

type uploaderFunc func(ctx context.Context, filename string, r io.Reader) (string, error)

func (f uploaderFunc) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	return f(ctx, filename, r)
}

func newTestManager(t *testing.T, tr *fakeTransport, api *fakeAPI, mutate ...func(*Options)) *Manager {
	t.Helper()
	opts := Options{
		UserID:    me,
		Transport: tr,
		API:       api,
		Backoff:   BackoffConfig{Initial: 2 * time.Millisecond, Max: 10 * time.Millisecond},
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	m, err := NewManager(opts)
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m
}

func start(t *testing.T, m *Manager) {
	t.Helper()
	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, func() bool { return m.State() == Connected }, waitFor, tick)
}

// drainEffects collects effects until a notification with the sentinel ID
// arrives. Frames are applied in order, so everything pushed before the
// sentinel has been handled by then.
func drainEffects(t *testing.T, m *Manager, sentinel uint) []Effect {
	t.Helper()
	var out []Effect
	deadline := time.After(waitFor)
	for {
		select {
		case e := <-m.Effects():
			if e.Kind == EffectNotification && e.NotificationID == sentinel {
				return out
			}
			out = append(out, e)
		case <-deadline:
			t.Fatalf("sentinel notification %d never arrived; got %v", sentinel, out)
			return out
		}
	}
}

func pushSentinel(t *testing.T, c *fakeConn, id uint) {
	t.Helper()
	c.push(t, events.NotificationsTopic(me), events.Notification{ID: id, RecipientID: me, Type: "system", Message: "sentinel", CreatedAt: time.Now().UTC()})
}

func countKind(effects []Effect, kind EffectKind) int {
	n := 0
	for _, e := range effects {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
