// Package models contains data structures for the application's domain models.
package models

import (
	"time"
)

// ConversationKind distinguishes 1:1 chats from trip-bound group chats.
type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

// MessageType is the content kind of a chat message.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageVideo  MessageType = "video"
	MessageVoice  MessageType = "voice"
	MessageSystem MessageType = "system"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageVoice, MessageSystem:
		return true
	}
	return false
}

// IsMedia reports whether the message type carries a media URL.
func (t MessageType) IsMedia() bool {
	return t == MessageImage || t == MessageVideo || t == MessageVoice
}

// Participant roles within a conversation.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// Conversation represents a chat conversation (1:1 or trip group)
type Conversation struct {
	ID              uint                      `gorm:"primaryKey" json:"id"`
	Kind            ConversationKind          `gorm:"size:16;not null;default:'direct';index" json:"kind"`
	Name            string                    `json:"name,omitempty"`
	TripID          *uint                     `gorm:"index" json:"trip_id,omitempty"`
	DirectKey       *string                   `gorm:"size:64;uniqueIndex" json:"-"` // "min:max" user pair for direct chats
	LastMessage     string                    `gorm:"type:text" json:"last_message"`
	LastMessageAt   *time.Time                `json:"last_message_at,omitempty"`
	LastMessageID   uint                      `json:"last_message_id,omitempty"`
	IsLocked        bool                      `gorm:"default:false" json:"is_locked"`
	PinnedMessageID *uint                     `json:"pinned_message_id,omitempty"`
	CompanyOwnerID  *uint                     `json:"company_owner_id,omitempty"`
	CreatedBy       uint                      `json:"created_by"`
	CreatedAt       time.Time                 `json:"created_at"`
	UpdatedAt       time.Time                 `json:"updated_at"`
	Participants    []ConversationParticipant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
	UnreadCount     int                       `gorm:"-" json:"unread_count"`
}

// IsGroup reports whether the conversation is a trip group.
func (c *Conversation) IsGroup() bool {
	return c.Kind == ConversationGroup
}

// Participant returns the participant row for userID, if loaded.
func (c *Conversation) Participant(userID uint) (*ConversationParticipant, bool) {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i], true
		}
	}
	return nil, false
}

// ParticipantIDs lists the user IDs of every loaded participant.
func (c *Conversation) ParticipantIDs() []uint {
	ids := make([]uint, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// IsCompanyOwner reports whether userID is the privileged company sender of a group.
func (c *Conversation) IsCompanyOwner(userID uint) bool {
	return c.CompanyOwnerID != nil && *c.CompanyOwnerID == userID
}

// ConversationParticipant tracks user participation, unread counters and read cursors.
type ConversationParticipant struct {
	ConversationID    uint       `gorm:"primaryKey" json:"conversation_id"`
	UserID            uint       `gorm:"primaryKey;index" json:"user_id"`
	User              *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Role              string     `gorm:"size:16;not null;default:'member'" json:"role"`
	JoinedAt          time.Time  `gorm:"autoCreateTime" json:"joined_at"`
	LastReadAt        *time.Time `json:"last_read_at,omitempty"`
	LastReadMessageID uint       `gorm:"default:0" json:"last_read_message_id"`
	UnreadCount       int        `gorm:"default:0" json:"unread_count"`
}

// Message represents a chat message
type Message struct {
	ID             uint              `gorm:"primaryKey" json:"id"`
	ConversationID uint              `gorm:"not null;index:idx_messages_conv_created,priority:1" json:"conversation_id"`
	SenderID       uint              `gorm:"not null;index;uniqueIndex:idx_messages_sender_token,priority:1" json:"sender_id"`
	Sender         *User             `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Type           MessageType       `gorm:"size:16;not null;default:'text'" json:"type"`
	Content        string            `gorm:"type:text" json:"content"`
	MediaURL       string            `json:"media_url,omitempty"`
	ClientToken    *string           `gorm:"size:64;uniqueIndex:idx_messages_sender_token,priority:2" json:"client_token,omitempty"`
	CreatedAt      time.Time         `gorm:"index:idx_messages_conv_created,priority:2" json:"created_at"`
	Reactions      []MessageReaction `gorm:"foreignKey:MessageID" json:"reactions"`
	Reads          []MessageRead     `gorm:"foreignKey:MessageID" json:"-"`
}

// ReadBy returns the set of users that have read the message, in read order.
func (m *Message) ReadBy() []uint {
	ids := make([]uint, 0, len(m.Reads))
	for _, r := range m.Reads {
		ids = append(ids, r.UserID)
	}
	return ids
}

// MessageReaction is one (user, emoji) pair on a message. The pair is unique; toggling removes it.
type MessageReaction struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	MessageID uint      `gorm:"not null;uniqueIndex:idx_reactions_unique,priority:1" json:"-"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_reactions_unique,priority:2" json:"user_id"`
	Emoji     string    `gorm:"size:64;not null;uniqueIndex:idx_reactions_unique,priority:3" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageRead records that a user has read a message.
type MessageRead struct {
	MessageID uint      `gorm:"primaryKey" json:"message_id"`
	UserID    uint      `gorm:"primaryKey;index" json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}
