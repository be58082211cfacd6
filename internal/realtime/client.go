package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tripchat/internal/bus"
	"tripchat/internal/events"
	"tripchat/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16384

	// SendBuffer is the per-connection outbound queue depth.
	SendBuffer = 256
)

var droppedNotice = events.Control{Control: events.ControlMessagesDropped, Reason: "buffer_full"}.Marshal()

// Socket is the part of a WebSocket connection the gateway uses.
// *websocket.Conn from gofiber/websocket satisfies it.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client is one authenticated gateway connection and its topic subscriptions.
type Client struct {
	UserID uint

	gw   *Gateway
	conn Socket
	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[string]*bus.Subscription

	// dropped is set when a frame was discarded for a full buffer; the write
	// pump sends a messages_dropped notice before its next frame.
	dropped   atomic.Bool
	closeOnce sync.Once
}

func newClient(ctx context.Context, gw *Gateway, conn Socket, userID uint) *Client {
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		UserID: userID,
		gw:     gw,
		conn:   conn,
		send:   make(chan []byte, gw.sendBuffer),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]*bus.Subscription),
	}
}

// Topics lists the topics the client is subscribed to.
func (c *Client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for t := range c.subs {
		out = append(out, t)
	}
	return out
}

// readPump reads client actions until the connection fails.
func (c *Client) readPump() string {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { _ = c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.gw.log.LogError(c.ctx, c.UserID, "", err, "read")
				return "read_error"
			}
			if c.ctx.Err() != nil {
				return "server_closed"
			}
			return "client_closed"
		}
		c.gw.handleFrame(c, message)
	}
}

// writePump drains the send queue to the connection and keeps it alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if c.dropped.Swap(false) {
				if err := c.write(websocket.TextMessage, droppedNotice); err != nil {
					return
				}
			}
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// TrySend queues a frame without blocking. A frame that does not fit is
// dropped and the client is told to resync.
func (c *Client) TrySend(frame []byte) {
	if c.ctx.Err() != nil {
		observability.WebSocketBackpressureDrops.WithLabelValues(hubName, "closed").Inc()
		return
	}
	select {
	case c.send <- frame:
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues(hubName, "full").Inc()
		c.gw.log.LogError(c.ctx, c.UserID, "", errBufferFull, "backpressure")
		c.dropped.Store(true)
	}
}

func (c *Client) sendControl(ctl events.Control) {
	c.TrySend(ctl.Marshal())
}

// close cancels every subscription and stops the write pump.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		subs := c.subs
		c.subs = make(map[string]*bus.Subscription)
		c.mu.Unlock()
		for _, sub := range subs {
			_ = sub.Close()
		}
	})
}
