package events

import "tripchat/internal/models"

// FromMessage builds the wire view of a persisted message.
func FromMessage(m *models.Message) Message {
	out := Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Type:           string(m.Type),
		Content:        m.Content,
		MediaURL:       m.MediaURL,
		CreatedAt:      m.CreatedAt,
		ReadBy:         m.ReadBy(),
		Reactions:      FromReactions(m.Reactions),
	}
	if m.Sender != nil {
		out.SenderName = m.Sender.Name()
	}
	if m.ClientToken != nil {
		out.ClientToken = *m.ClientToken
	}
	return out
}

// FromReactions converts stored reactions, preserving their order.
func FromReactions(rs []models.MessageReaction) []Reaction {
	out := make([]Reaction, 0, len(rs))
	for _, r := range rs {
		out = append(out, Reaction{UserID: r.UserID, Emoji: r.Emoji})
	}
	return out
}

// FromNotification builds the wire view of a notification item.
func FromNotification(n *models.NotificationItem) Notification {
	return Notification{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		ActorID:     n.ActorID,
		ActorName:   n.ActorName,
		ActorImage:  n.ActorImage,
		Type:        string(n.Type),
		Message:     n.Message,
		TripID:      n.TripID,
		CommentID:   n.CommentID,
		Metadata:    n.Metadata,
		IsRead:      n.IsRead,
		CreatedAt:   n.CreatedAt,
	}
}

// SummaryFor builds the inbox summary of conv as seen by one participant.
func SummaryFor(conv *models.Conversation, unread int, lastSenderID uint) UpdateConversation {
	return UpdateConversation{
		ConversationID: conv.ID,
		Kind:           string(conv.Kind),
		LastMessage:    conv.LastMessage,
		LastMessageAt:  conv.LastMessageAt,
		LastMessageID:  conv.LastMessageID,
		LastSenderID:   lastSenderID,
		UnreadCount:    unread,
	}
}
