// Package realtime is the server side of the WebSocket gateway. Each
// connection subscribes to bus topics on behalf of one authenticated user
// and receives every event on those topics as an Envelope frame.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"tripchat/internal/bus"
	"tripchat/internal/events"
	"tripchat/internal/middleware"
	"tripchat/internal/models"
	"tripchat/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	hubName = "gateway"

	// Max connections per user
	maxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000
)

var (
	errBufferFull     = errors.New("send buffer full, frame dropped")
	errUserConnLimit  = errors.New("user connection limit reached")
	errTotalConnLimit = errors.New("server connection limit reached")
	errGatewayClosed  = errors.New("gateway is shutting down")
)

// Authorizer decides whether a user may subscribe to a topic.
type Authorizer interface {
	AuthorizeTopic(ctx context.Context, userID uint, topic string) error
}

// TypingPublisher broadcasts typing indicators.
type TypingPublisher interface {
	PublishTyping(ctx context.Context, convID, userID uint, isTyping bool) error
}

// TypingLimiter reports whether a user may send another typing frame now.
type TypingLimiter func(ctx context.Context, userID uint) bool

// Options wires a Gateway.
type Options struct {
	Bus        bus.Bus
	Authorizer Authorizer
	Typing     TypingPublisher
	Limiter    TypingLimiter
	// SendBuffer defaults to SendBuffer.
	SendBuffer int
}

// Gateway tracks live connections and their subscriptions.
type Gateway struct {
	bus        bus.Bus
	auth       Authorizer
	typing     TypingPublisher
	limiter    TypingLimiter
	sendBuffer int
	log        *observability.WSLogger

	mu         sync.RWMutex
	conns      map[uint]map[*Client]struct{}
	totalConns int
	closed     bool
	wg         sync.WaitGroup
}

// NewGateway returns a Gateway with no connections.
func NewGateway(opts Options) *Gateway {
	buffer := opts.SendBuffer
	if buffer <= 0 {
		buffer = SendBuffer
	}
	return &Gateway{
		bus:        opts.Bus,
		auth:       opts.Authorizer,
		typing:     opts.Typing,
		limiter:    opts.Limiter,
		sendBuffer: buffer,
		log:        observability.NewWSLogger(hubName),
		conns:      make(map[uint]map[*Client]struct{}),
	}
}

// Name returns a human-readable identifier for this hub.
func (g *Gateway) Name() string { return hubName }

func (g *Gateway) register(conn Socket, userID uint) (*Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, errGatewayClosed
	}
	if g.totalConns >= maxTotalConns {
		return nil, errTotalConnLimit
	}
	m, ok := g.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		g.conns[userID] = m
	}
	if len(m) >= maxConnsPerUser {
		return nil, errUserConnLimit
	}

	ctx := context.WithValue(context.Background(), middleware.UserIDKey, userID)
	client := newClient(ctx, g, conn, userID)
	m[client] = struct{}{}
	g.totalConns++
	g.wg.Add(1)
	return client, nil
}

func (g *Gateway) unregister(client *Client) {
	g.mu.Lock()
	if m, ok := g.conns[client.UserID]; ok {
		if _, exists := m[client]; exists {
			delete(m, client)
			g.totalConns--
		}
		if len(m) == 0 {
			delete(g.conns, client.UserID)
		}
	}
	g.mu.Unlock()
	client.close()
}

// Serve runs one authenticated connection until it closes. It blocks, so it
// is meant to be called from the WebSocket handler goroutine.
func (g *Gateway) Serve(conn Socket, userID uint) {
	client, err := g.register(conn, userID)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, events.Control{Control: events.ControlError, Reason: err.Error()}.Marshal())
		_ = conn.Close()
		return
	}
	defer g.wg.Done()

	observability.WebSocketConnectionsTotal.Inc()
	defer observability.WebSocketConnectionsTotal.Dec()
	g.log.LogConnect(client.ctx, userID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		client.writePump()
	}()

	reason := client.readPump()
	g.unregister(client)
	<-done
	g.log.LogDisconnect(client.ctx, userID, reason)
}

// ConnectionCount returns the number of live connections for a user.
func (g *Gateway) ConnectionCount(userID uint) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns[userID])
}

// Shutdown closes every connection and waits for their handlers to return.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	var clients []*Client
	for _, m := range g.conns {
		for c := range m {
			clients = append(clients, c)
		}
	}
	g.mu.Unlock()

	for _, c := range clients {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) handleFrame(c *Client, raw []byte) {
	var action events.ClientAction
	if err := json.Unmarshal(raw, &action); err != nil {
		observability.WebSocketEventsTotal.WithLabelValues("invalid").Inc()
		c.sendControl(events.Control{Control: events.ControlError, Reason: "invalid frame"})
		return
	}
	observability.WebSocketEventsTotal.WithLabelValues(action.Action).Inc()

	switch action.Action {
	case events.ActionSubscribe:
		g.subscribe(c, action.Topic)
	case events.ActionUnsubscribe:
		g.unsubscribe(c, action.Topic)
	case events.ActionTyping:
		g.publishTyping(c, action)
	default:
		c.sendControl(events.Control{Control: events.ControlError, Reason: "unknown action"})
	}
}

func (g *Gateway) subscribe(c *Client, topic string) {
	c.mu.Lock()
	_, already := c.subs[topic]
	c.mu.Unlock()
	if already {
		c.sendControl(events.Control{Control: events.ControlSubscribed, Topic: topic})
		return
	}

	if err := g.auth.AuthorizeTopic(c.ctx, c.UserID, topic); err != nil {
		g.log.LogError(c.ctx, c.UserID, topic, err, events.ActionSubscribe)
		c.sendControl(events.Control{Control: events.ControlError, Topic: topic, Reason: clientReason(err)})
		return
	}

	sub, err := g.bus.Subscribe(c.ctx, topic, func(_ context.Context, env events.Envelope) {
		frame, err := env.Marshal()
		if err != nil {
			g.log.LogError(c.ctx, c.UserID, env.Topic, err, string(env.EventName))
			return
		}
		c.TrySend(frame)
	})
	if err != nil {
		g.log.LogError(c.ctx, c.UserID, topic, err, events.ActionSubscribe)
		c.sendControl(events.Control{Control: events.ControlError, Topic: topic, Reason: "subscription unavailable"})
		return
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		_ = sub.Close()
		return
	}
	c.subs[topic] = sub
	c.mu.Unlock()

	g.log.LogSubscription(c.ctx, c.UserID, topic, events.ActionSubscribe)
	c.sendControl(events.Control{Control: events.ControlSubscribed, Topic: topic})
}

func (g *Gateway) unsubscribe(c *Client, topic string) {
	c.mu.Lock()
	sub, ok := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()
	if ok {
		_ = sub.Close()
		g.log.LogSubscription(c.ctx, c.UserID, topic, events.ActionUnsubscribe)
	}
	c.sendControl(events.Control{Control: events.ControlUnsubscribed, Topic: topic})
}

func (g *Gateway) publishTyping(c *Client, action events.ClientAction) {
	if g.typing == nil {
		return
	}
	// Spammy typing frames are dropped silently.
	if g.limiter != nil && !g.limiter(c.ctx, c.UserID) {
		return
	}
	if err := g.typing.PublishTyping(c.ctx, action.ConversationID, c.UserID, action.IsTyping); err != nil {
		g.log.LogError(c.ctx, c.UserID, "", err, events.ActionTyping)
		c.sendControl(events.Control{Control: events.ControlError, Reason: clientReason(err)})
	}
}

// clientReason keeps internal failure detail off the wire.
func clientReason(err error) string {
	var appErr *models.AppError
	if errors.As(err, &appErr) && appErr.Code != models.CodeInternal {
		return appErr.Message
	}
	return "internal error"
}
