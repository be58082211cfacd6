// Package events defines the Event Bus wire format: a closed set of event types,
// each with a fixed payload schema, carried in a {topic, eventName, payload} envelope.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Name identifies an event type on the wire.
type Name string

// The complete set of event names.
const (
	NameNotification       Name = "notification"
	NameUpdateConversation Name = "update-conversation"
	NameNewMessage         Name = "new-message"
	NameMessagesRead       Name = "messages-read"
	NameMessageReaction    Name = "message-reaction"
	NamePinnedUpdate       Name = "pinned-update"
	NameLockUpdate         Name = "lock-update"
	NameTyping             Name = "typing"
)

// Names lists every event name in the closed set.
var Names = []Name{
	NameNotification,
	NameUpdateConversation,
	NameNewMessage,
	NameMessagesRead,
	NameMessageReaction,
	NamePinnedUpdate,
	NameLockUpdate,
	NameTyping,
}

// ErrUnknownEvent is returned when an envelope carries an event name outside the closed set.
var ErrUnknownEvent = errors.New("unknown event name")

// Event is implemented only by the payload types in this package.
type Event interface {
	EventName() Name
	sealed()
}

// Reaction is one (user, emoji) pair.
type Reaction struct {
	UserID uint   `json:"userId"`
	Emoji  string `json:"emoji"`
}

// Message is the wire view of a persisted chat message.
type Message struct {
	ID             uint       `json:"id"`
	ConversationID uint       `json:"conversationId"`
	SenderID       uint       `json:"senderId"`
	SenderName     string     `json:"senderName,omitempty"`
	Type           string     `json:"type"`
	Content        string     `json:"content"`
	MediaURL       string     `json:"mediaUrl,omitempty"`
	ClientToken    string     `json:"clientToken,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ReadBy         []uint     `json:"readBy"`
	Reactions      []Reaction `json:"reactions"`
}

// NewMessage is published to the conversation topic after a message is persisted.
type NewMessage struct {
	Message
}

// UpdateConversation carries the denormalized summary of a conversation for one participant's inbox.
type UpdateConversation struct {
	ConversationID uint       `json:"conversationId"`
	Kind           string     `json:"kind"`
	LastMessage    string     `json:"lastMessage"`
	LastMessageAt  *time.Time `json:"lastMessageAt,omitempty"`
	LastMessageID  uint       `json:"lastMessageId,omitempty"`
	LastSenderID   uint       `json:"lastSenderId,omitempty"`
	UnreadCount    int        `json:"unreadCount"`
}

// MessagesRead announces that a participant has read the conversation up to a point.
type MessagesRead struct {
	ConversationID    uint      `json:"conversationId"`
	ReaderID          uint      `json:"readerId"`
	ReadAt            time.Time `json:"readAt"`
	LastReadMessageID uint      `json:"lastReadMessageId,omitempty"`
}

// MessageReaction carries the full recomputed reaction list of a message.
type MessageReaction struct {
	ConversationID uint       `json:"conversationId"`
	MessageID      uint       `json:"messageId"`
	Reactions      []Reaction `json:"reactions"`
}

// PinnedUpdate carries the current pin slot of a group. A nil PinnedMessageID means unpinned.
type PinnedUpdate struct {
	ConversationID  uint  `json:"conversationId"`
	PinnedMessageID *uint `json:"pinnedMessageId"`
	ChangedBy       uint  `json:"changedBy"`
}

// LockUpdate carries the current lock state of a group.
type LockUpdate struct {
	ConversationID uint `json:"conversationId"`
	IsLocked       bool `json:"isLocked"`
	ChangedBy      uint `json:"changedBy"`
}

// Typing is an ephemeral indicator; it is never persisted.
type Typing struct {
	ConversationID uint   `json:"conversationId"`
	UserID         uint   `json:"userId"`
	Username       string `json:"username,omitempty"`
	IsTyping       bool   `json:"isTyping"`
	ExpiresInMs    int    `json:"expiresInMs"`
}

// Notification is the wire view of a NotificationItem.
type Notification struct {
	ID          uint            `json:"id"`
	RecipientID uint            `json:"recipientId"`
	ActorID     uint            `json:"actorId"`
	ActorName   string          `json:"actorName"`
	ActorImage  string          `json:"actorImage,omitempty"`
	Type        string          `json:"type"`
	Message     string          `json:"message"`
	TripID      *uint           `json:"tripId,omitempty"`
	CommentID   *uint           `json:"commentId,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	IsRead      bool            `json:"isRead"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func (NewMessage) EventName() Name         { return NameNewMessage }
func (UpdateConversation) EventName() Name { return NameUpdateConversation }
func (MessagesRead) EventName() Name       { return NameMessagesRead }
func (MessageReaction) EventName() Name    { return NameMessageReaction }
func (PinnedUpdate) EventName() Name       { return NamePinnedUpdate }
func (LockUpdate) EventName() Name         { return NameLockUpdate }
func (Typing) EventName() Name             { return NameTyping }
func (Notification) EventName() Name       { return NameNotification }

func (NewMessage) sealed()         {}
func (UpdateConversation) sealed() {}
func (MessagesRead) sealed()       {}
func (MessageReaction) sealed()    {}
func (PinnedUpdate) sealed()       {}
func (LockUpdate) sealed()         {}
func (Typing) sealed()             {}
func (Notification) sealed()       {}

// Durable reports whether the event describes persisted state. Typing is the only ephemeral event.
func Durable(ev Event) bool {
	return ev.EventName() != NameTyping
}

// Envelope is the unit carried by the bus: {topic, eventName, payload}.
type Envelope struct {
	Topic     string          `json:"topic"`
	EventName Name            `json:"eventName"`
	Payload   json.RawMessage `json:"payload"`
}

// Encode wraps an event for delivery on topic.
func Encode(topic string, ev Event) (Envelope, error) {
	if ev == nil {
		return Envelope{}, errors.New("events: nil event")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", ev.EventName(), err)
	}
	return Envelope{Topic: topic, EventName: ev.EventName(), Payload: payload}, nil
}

// Marshal returns the JSON frame for the envelope.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Parse reads a JSON frame into an envelope without decoding the payload.
func Parse(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Topic == "" || env.EventName == "" {
		return Envelope{}, errors.New("parse envelope: topic and eventName are required")
	}
	return env, nil
}

// Decode returns the typed payload of the envelope.
func (e Envelope) Decode() (Event, error) {
	var ev Event
	var err error
	switch e.EventName {
	case NameNewMessage:
		var p NewMessage
		err = json.Unmarshal(e.Payload, &p)
		ev = p
	case NameUpdateConversation:
		var p UpdateConversation
		err = json.Unmarshal(e.Payload, &p)
		ev = p
	case NameMessagesRead:
		var p MessagesRead
		err = json.Unmarshal(e.Payload, &p)
		ev = p
	case NameMessageReaction:
		var p MessageReaction
		err = json.Unmarshal(e.Payload, &p)
		ev = p
	case NamePinnedUpdate:
		var p PinnedUpdate
		err = json.Unmarshal(e.Payload, &p)
		ev = p
	case NameLockUpdate:
		var p LockUpdate
		err = json.Unmarshal(e.Payload, &p)
		ev = p
	case NameTyping:
		var p Typing
		err = json.Unmarshal(e.Payload, &p)
		ev = p
	case NameNotification:
		var p Notification
		err = json.Unmarshal(e.Payload, &p)
		ev = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.EventName)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.EventName, err)
	}
	return ev, nil
}
