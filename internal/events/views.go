package events

import (
	"time"

	"tripchat/internal/models"
)

// Conversation is the REST snapshot view of a conversation as seen by one
// participant. It is not an event; snapshots and events share field names so
// clients merge them without translation.
type Conversation struct {
	ID              uint       `json:"id"`
	Kind            string     `json:"kind"`
	Name            string     `json:"name,omitempty"`
	TripID          *uint      `json:"tripId,omitempty"`
	LastMessage     string     `json:"lastMessage"`
	LastMessageAt   *time.Time `json:"lastMessageAt,omitempty"`
	LastMessageID   uint       `json:"lastMessageId,omitempty"`
	UnreadCount     int        `json:"unreadCount"`
	IsLocked        bool       `json:"isLocked"`
	PinnedMessageID *uint      `json:"pinnedMessageId"`
	CompanyOwnerID  *uint      `json:"companyOwnerId,omitempty"`
	ParticipantIDs  []uint     `json:"participantIds"`
}

// Topic returns the bus topic of the conversation.
func (c Conversation) Topic() string {
	return ConversationTopic(models.ConversationKind(c.Kind), c.ID)
}

// FromConversation builds the snapshot view of conv. UnreadCount is the
// viewer's count as filled in by the store.
func FromConversation(conv *models.Conversation) Conversation {
	return Conversation{
		ID:              conv.ID,
		Kind:            string(conv.Kind),
		Name:            conv.Name,
		TripID:          conv.TripID,
		LastMessage:     conv.LastMessage,
		LastMessageAt:   conv.LastMessageAt,
		LastMessageID:   conv.LastMessageID,
		UnreadCount:     conv.UnreadCount,
		IsLocked:        conv.IsLocked,
		PinnedMessageID: conv.PinnedMessageID,
		CompanyOwnerID:  conv.CompanyOwnerID,
		ParticipantIDs:  conv.ParticipantIDs(),
	}
}

// FromMessages converts a page of stored messages.
func FromMessages(msgs []*models.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, FromMessage(m))
	}
	return out
}
