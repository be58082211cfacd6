package realtime

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"tripchat/internal/bus"
	"tripchat/internal/events"
	"tripchat/internal/models"
	"tripchat/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type fakeSocket struct {
	in     chan []byte
	out    chan []byte
	gate   chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{in: make(chan []byte, 16), out: make(chan []byte, 1024), closed: make(chan struct{})}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case b := <-s.in:
		return websocket.TextMessage, b, nil
	case <-s.closed:
		return 0, nil, io.EOF
	}
}

func (s *fakeSocket) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-s.closed:
			return io.ErrClosedPipe
		}
	}
	select {
	case <-s.closed:
		return io.ErrClosedPipe
	default:
	}
	s.out <- append([]byte(nil), data...)
	return nil
}

func (s *fakeSocket) SetReadLimit(int64)                {}
func (s *fakeSocket) SetReadDeadline(time.Time) error   { return nil }
func (s *fakeSocket) SetWriteDeadline(time.Time) error  { return nil }
func (s *fakeSocket) SetPongHandler(func(string) error) {}
func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) action(a events.ClientAction) {
	raw := []byte(`{"action":"` + a.Action + `","topic":"` + a.Topic + `"}`)
	if a.Action == events.ActionTyping {
		raw = []byte(`{"action":"typing","conversationId":5,"isTyping":true}`)
	}
	s.in <- raw
}

func (s *fakeSocket) next(t *testing.T) events.Frame {
	t.Helper()
	select {
	case raw := <-s.out:
		f, err := events.ParseFrame(raw)
		require.NoError(t, err)
		return f
	case <-time.After(waitFor):
		t.Fatal("no frame from gateway")
		return events.Frame{}
	}
}

type authorizerFunc func(ctx context.Context, userID uint, topic string) error

func (f authorizerFunc) AuthorizeTopic(ctx context.Context, userID uint, topic string) error {
	return f(ctx, userID, topic)
}

type typingRecorder struct {
	mu    sync.Mutex
	calls []uint
	err   error
}

func (r *typingRecorder) PublishTyping(_ context.Context, convID, _ uint, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, convID)
	return r.err
}

func (r *typingRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// onlyDM5 allows the user's own topics and dm:5.
var onlyDM5 = authorizerFunc(func(_ context.Context, userID uint, topic string) error {
	switch topic {
	case events.NotificationsTopic(userID), events.InboxTopic(userID), "dm:5":
		return nil
	}
	return models.NewForbiddenError("You are not a participant in this conversation")
})

func serve(t *testing.T, g *Gateway, userID uint) *fakeSocket {
	t.Helper()
	sock := newFakeSocket()
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Serve(sock, userID)
	}()
	t.Cleanup(func() {
		_ = sock.Close()
		<-done
	})
	require.Eventually(t, func() bool { return g.ConnectionCount(userID) > 0 }, waitFor, time.Millisecond)
	return sock
}

func newTestGateway(t *testing.T, opts Options) (*Gateway, *bus.MemoryBus) {
	t.Helper()
	b := bus.NewMemoryBus(64)
	t.Cleanup(func() { _ = b.Close() })
	opts.Bus = b
	if opts.Authorizer == nil {
		opts.Authorizer = onlyDM5
	}
	return NewGateway(opts), b
}

func TestGateway_SubscribeDeliversEnvelopes(t *testing.T) {
	g, b := newTestGateway(t, Options{})
	sock := serve(t, g, 1)

	sock.action(events.ClientAction{Action: events.ActionSubscribe, Topic: "dm:5"})
	f := sock.next(t)
	require.NotNil(t, f.Control)
	assert.Equal(t, events.ControlSubscribed, f.Control.Control)
	assert.Equal(t, "dm:5", f.Control.Topic)

	require.NoError(t, b.Publish(context.Background(), "dm:5", events.NewMessage{Message: events.Message{ID: 10, ConversationID: 5, Content: "hi"}}))
	f = sock.next(t)
	require.NotNil(t, f.Event)
	assert.Equal(t, "dm:5", f.Event.Topic)
	ev, err := f.Event.Decode()
	require.NoError(t, err)
	assert.Equal(t, "hi", ev.(events.NewMessage).Content)

	// A repeated subscribe is acknowledged without a second subscription.
	sock.action(events.ClientAction{Action: events.ActionSubscribe, Topic: "dm:5"})
	f = sock.next(t)
	require.NotNil(t, f.Control)
	assert.Equal(t, events.ControlSubscribed, f.Control.Control)
	assert.Equal(t, 1, b.SubscriberCount("dm:5"))
}

func TestGateway_UnauthorizedTopicIsRejected(t *testing.T) {
	g, b := newTestGateway(t, Options{})
	sock := serve(t, g, 1)

	sock.action(events.ClientAction{Action: events.ActionSubscribe, Topic: "group:9"})
	f := sock.next(t)
	require.NotNil(t, f.Control)
	assert.Equal(t, events.ControlError, f.Control.Control)
	assert.Equal(t, "group:9", f.Control.Topic)
	assert.Equal(t, "You are not a participant in this conversation", f.Control.Reason)
	assert.Zero(t, b.SubscriberCount("group:9"))

	sock.action(events.ClientAction{Action: events.ActionSubscribe, Topic: events.NotificationsTopic(2)})
	f = sock.next(t)
	require.NotNil(t, f.Control)
	assert.Equal(t, events.ControlError, f.Control.Control)
}

func TestGateway_UnsubscribeStopsDelivery(t *testing.T) {
	g, b := newTestGateway(t, Options{})
	sock := serve(t, g, 1)

	sock.action(events.ClientAction{Action: events.ActionSubscribe, Topic: "dm:5"})
	sock.next(t)
	sock.action(events.ClientAction{Action: events.ActionUnsubscribe, Topic: "dm:5"})
	f := sock.next(t)
	require.NotNil(t, f.Control)
	assert.Equal(t, events.ControlUnsubscribed, f.Control.Control)
	assert.Zero(t, b.SubscriberCount("dm:5"))

	require.NoError(t, b.Publish(context.Background(), "dm:5", events.LockUpdate{ConversationID: 5}))
	select {
	case raw := <-sock.out:
		t.Fatalf("unexpected frame after unsubscribe: %s", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGateway_InvalidAndUnknownFrames(t *testing.T) {
	g, _ := newTestGateway(t, Options{})
	sock := serve(t, g, 1)

	sock.in <- []byte("{not json")
	f := sock.next(t)
	require.NotNil(t, f.Control)
	assert.Equal(t, "invalid frame", f.Control.Reason)

	sock.in <- []byte(`{"action":"dance"}`)
	f = sock.next(t)
	require.NotNil(t, f.Control)
	assert.Equal(t, "unknown action", f.Control.Reason)
}

func TestGateway_BackpressureDropsAndNotifies(t *testing.T) {
	g, b := newTestGateway(t, Options{SendBuffer: 2})
	sock := newFakeSocket()
	sock.gate = make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Serve(sock, 1)
	}()
	defer func() {
		_ = sock.Close()
		<-done
	}()

	before := testutil.ToFloat64(observability.WebSocketBackpressureDrops.WithLabelValues(hubName, "full"))

	sock.action(events.ClientAction{Action: events.ActionSubscribe, Topic: "dm:5"})
	require.Eventually(t, func() bool { return b.SubscriberCount("dm:5") == 1 }, waitFor, time.Millisecond)
	for i := 1; i <= 10; i++ {
		require.NoError(t, b.Publish(context.Background(), "dm:5", events.LockUpdate{ConversationID: 5, IsLocked: i%2 == 0}))
	}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(observability.WebSocketBackpressureDrops.WithLabelValues(hubName, "full")) > before
	}, waitFor, time.Millisecond)

	close(sock.gate)
	var sawNotice bool
	envelopes := 0
	deadline := time.After(waitFor)
	for !sawNotice {
		select {
		case raw := <-sock.out:
			f, err := events.ParseFrame(raw)
			require.NoError(t, err)
			if f.Control != nil && f.Control.Control == events.ControlMessagesDropped {
				sawNotice = true
			}
			if f.Event != nil {
				envelopes++
			}
		case <-deadline:
			t.Fatal("no messages_dropped notice")
		}
	}
	assert.Less(t, envelopes, 10)
}

func TestGateway_TypingIsRateLimited(t *testing.T) {
	rec := &typingRecorder{}
	allow := true
	var mu sync.Mutex
	g, _ := newTestGateway(t, Options{
		Typing: rec,
		Limiter: func(context.Context, uint) bool {
			mu.Lock()
			defer mu.Unlock()
			return allow
		},
	})
	sock := serve(t, g, 1)

	sock.action(events.ClientAction{Action: events.ActionTyping})
	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, time.Millisecond)

	mu.Lock()
	allow = false
	mu.Unlock()
	sock.action(events.ClientAction{Action: events.ActionTyping})
	// A subscribe after the typing frame proves the frame was handled.
	sock.action(events.ClientAction{Action: events.ActionSubscribe, Topic: "dm:5"})
	sock.next(t)
	assert.Equal(t, 1, rec.count())
}

func TestGateway_TypingErrorIsReported(t *testing.T) {
	rec := &typingRecorder{err: models.NewForbiddenError("You are not a participant in this conversation")}
	g, _ := newTestGateway(t, Options{Typing: rec})
	sock := serve(t, g, 1)

	sock.action(events.ClientAction{Action: events.ActionTyping})
	f := sock.next(t)
	require.NotNil(t, f.Control)
	assert.Equal(t, events.ControlError, f.Control.Control)
	assert.Equal(t, "You are not a participant in this conversation", f.Control.Reason)
}

func TestGateway_ConnectionLimitPerUser(t *testing.T) {
	g, _ := newTestGateway(t, Options{})
	for i := 0; i < maxConnsPerUser; i++ {
		serve(t, g, 7)
	}
	require.Eventually(t, func() bool { return g.ConnectionCount(7) == maxConnsPerUser }, waitFor, time.Millisecond)

	extra := newFakeSocket()
	g.Serve(extra, 7)
	f := extra.next(t)
	require.NotNil(t, f.Control)
	assert.Equal(t, errUserConnLimit.Error(), f.Control.Reason)
	assert.Equal(t, maxConnsPerUser, g.ConnectionCount(7))
}

func TestGateway_ShutdownClosesConnections(t *testing.T) {
	g, b := newTestGateway(t, Options{})
	first := serve(t, g, 1)
	serve(t, g, 2)

	first.action(events.ClientAction{Action: events.ActionSubscribe, Topic: "dm:5"})
	first.next(t)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, g.Shutdown(ctx))
	assert.Zero(t, g.ConnectionCount(1))
	assert.Zero(t, g.ConnectionCount(2))
	assert.Zero(t, b.SubscriberCount("dm:5"))

	late := newFakeSocket()
	g.Serve(late, 3)
	f := late.next(t)
	require.NotNil(t, f.Control)
	assert.Equal(t, errGatewayClosed.Error(), f.Control.Reason)
}

func TestClientReason(t *testing.T) {
	assert.Equal(t, "internal error", clientReason(io.EOF))
	assert.Equal(t, "internal error", clientReason(models.NewInternalError(io.EOF)))
	assert.Equal(t, "Conversation with ID 3 not found", clientReason(models.NewNotFoundError("Conversation", 3)))
}
