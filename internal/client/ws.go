package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"tripchat/internal/events"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	dialWait  = 10 * time.Second
)

// TicketIssuer returns a single-use gateway ticket.
type TicketIssuer interface {
	IssueTicket(ctx context.Context) (string, error)
}

// WSTransport dials the gateway over WebSocket. When Tickets is set a fresh
// ticket is requested for every dial; otherwise Token is sent as a bearer header.
type WSTransport struct {
	URL     string
	Token   string
	Tickets TicketIssuer
	Dialer  *websocket.Dialer
}

// Dial opens a new gateway connection.
func (t *WSTransport) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	header := http.Header{}
	if t.Tickets != nil {
		ticket, err := t.Tickets.IssueTicket(ctx)
		if err != nil {
			return nil, fmt.Errorf("issue ws ticket: %w", err)
		}
		q := u.Query()
		q.Set("ticket", ticket)
		u.RawQuery = q.Encode()
	} else if t.Token != "" {
		header.Set("Authorization", "Bearer "+t.Token)
	}

	dialer := t.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: dialWait, Proxy: http.ProxyFromEnvironment}
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial gateway: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) Send(_ context.Context, action events.ClientAction) error {
	b, err := json.Marshal(action)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func (c *wsConn) Recv(_ context.Context) (events.Frame, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return events.Frame{}, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		frame, err := events.ParseFrame(data)
		if err != nil {
			// Unparseable frames are skipped rather than tearing down the session.
			continue
		}
		return frame, nil
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
