// Package client implements the Client Session Manager: one connection to
// the realtime gateway, the topic set that follows the user's current view,
// reconnect with capped exponential backoff, an ordered outbox for sends and
// the merge of live events into the reconciliation views.
package client

import (
	"context"

	"tripchat/internal/events"
)

// Conn is one live gateway connection. Send must be safe for concurrent use.
// Recv blocks until a frame arrives or the connection fails; Close unblocks it.
type Conn interface {
	Send(ctx context.Context, action events.ClientAction) error
	Recv(ctx context.Context) (events.Frame, error)
	Close() error
}

// Transport opens gateway connections.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context) (Conn, error)

func (f TransportFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// SendRequest is the body of a message send.
type SendRequest struct {
	Type        string `json:"type"`
	Content     string `json:"content,omitempty"`
	MediaURL    string `json:"mediaUrl,omitempty"`
	ClientToken string `json:"clientToken"`
}

// API is the REST snapshot and write surface the manager consumes.
type API interface {
	Conversations(ctx context.Context) ([]events.Conversation, error)
	Messages(ctx context.Context, conversationID uint, limit int) ([]events.Message, error)
	Notifications(ctx context.Context, limit int) ([]events.Notification, error)
	SendMessage(ctx context.Context, conversationID uint, req SendRequest) (events.Message, error)
	MarkRead(ctx context.Context, conversationID uint) error
}
