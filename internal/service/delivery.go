package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"tripchat/internal/events"
	"tripchat/internal/featureflags"
	"tripchat/internal/models"
	"tripchat/internal/moderation"
	"tripchat/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	maxMessageContentLen = 10000
	maxClientTokenLen    = 64
	maxEmojiLen          = 64

	// TypingTTLMillis is how long a typing indicator stays visible without a refresh.
	TypingTTLMillis = 5000
)

// SendMessageInput is the input for sending a message.
type SendMessageInput struct {
	ConversationID uint
	SenderID       uint
	Type           models.MessageType
	Content        string
	MediaURL       string
	// ClientToken is the idempotency token generated by the client at send time.
	ClientToken string
}

// SendResult is the persisted message and whether it was a replayed send.
type SendResult struct {
	Message   *models.Message
	Duplicate bool
}

func validateSend(in *SendMessageInput) error {
	in.Content = strings.TrimSpace(in.Content)
	in.MediaURL = strings.TrimSpace(in.MediaURL)
	if in.Type == "" {
		in.Type = models.MessageText
	}

	switch {
	case in.ConversationID == 0:
		return models.NewValidationError("conversationId is required")
	case !in.Type.Valid():
		return models.NewValidationError(fmt.Sprintf("unknown message type %q", in.Type))
	case in.Type == models.MessageSystem:
		return models.NewValidationError("system messages cannot be sent by users")
	case utf8.RuneCountInString(in.Content) > maxMessageContentLen:
		return models.NewValidationError(fmt.Sprintf("message content exceeds %d characters", maxMessageContentLen))
	case len(in.ClientToken) > maxClientTokenLen:
		return models.NewValidationError("clientToken is too long")
	}

	if in.Type.IsMedia() {
		if in.MediaURL == "" {
			return models.NewValidationError("mediaUrl is required for " + string(in.Type) + " messages")
		}
		u, err := url.Parse(in.MediaURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return models.NewValidationError("mediaUrl must be an absolute http(s) URL")
		}
		return nil
	}
	if in.Content == "" {
		return models.NewValidationError("message content cannot be empty")
	}
	if in.MediaURL != "" {
		return models.NewValidationError("mediaUrl is only allowed on media messages")
	}
	return nil
}

// SendMessage persists a message and fans it out: new-message to the
// conversation topic and update-conversation to every other participant's
// inbox. A replayed client token returns the stored message and publishes nothing.
func (s *DeliveryService) SendMessage(ctx context.Context, in SendMessageInput) (_ *SendResult, err error) {
	defer observability.TrackDelivery("send_message")(&err)
	span, ctx := observability.NewSpan(ctx, "delivery.SendMessage",
		attribute.Int64("conversation.id", int64(in.ConversationID)),
		attribute.Int64("sender.id", int64(in.SenderID)),
	)
	defer span.End()
	defer func() { span.SetError(err) }()

	if err := validateSend(&in); err != nil {
		return nil, err
	}

	admin, err := s.isAdmin(ctx, in.SenderID)
	if err != nil {
		return nil, err
	}
	actor := moderation.Actor{UserID: in.SenderID, IsGlobalAdmin: admin}

	msg := &models.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Type:           in.Type,
		Content:        in.Content,
		MediaURL:       in.MediaURL,
	}
	if in.ClientToken != "" {
		token := in.ClientToken
		msg.ClientToken = &token
	}

	res, err := s.chatRepo.AppendMessage(ctx, msg, func(conv *models.Conversation) error {
		return moderation.CanSend(conv, actor)
	})
	if err != nil {
		return nil, storeError(err, "Conversation", in.ConversationID)
	}
	if res.Duplicate {
		span.AddAttributes(attribute.Bool("message.duplicate", true))
		return &SendResult{Message: res.Message, Duplicate: true}, nil
	}

	conv := res.Conversation
	publish(ctx, s.publisher, events.ConversationTopic(conv.Kind, conv.ID), events.NewMessage{Message: events.FromMessage(res.Message)})
	for _, p := range conv.Participants {
		if p.UserID == in.SenderID {
			continue
		}
		publish(ctx, s.publisher, events.InboxTopic(p.UserID), events.SummaryFor(conv, p.UnreadCount, in.SenderID))
	}

	if !conv.IsGroup() && s.notifications != nil {
		s.notifyDirectMessage(ctx, conv, res.Message)
	}

	return &SendResult{Message: res.Message}, nil
}

func (s *DeliveryService) notifyDirectMessage(ctx context.Context, conv *models.Conversation, msg *models.Message) {
	for _, recipient := range conv.ParticipantIDs() {
		if recipient == msg.SenderID || !s.flags.Enabled(featureflags.DMNotifications, recipient) {
			continue
		}
		preview := msg.Content
		if preview == "" {
			preview = "sent you a " + string(msg.Type)
		}
		if _, err := s.notifications.Notify(ctx, NotifyInput{
			RecipientID: recipient,
			ActorID:     msg.SenderID,
			Type:        models.NotificationMessage,
			Message:     truncateRunes(preview, 140),
		}); err != nil {
			observability.LogAsyncOperationError(ctx, "dm_notification", err, map[string]any{"conversation_id": conv.ID})
		}
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}

// ToggleReaction flips (userID, emoji) on a message and publishes the full
// recomputed reaction list.
func (s *DeliveryService) ToggleReaction(ctx context.Context, messageID, userID uint, emoji string) (_ *events.MessageReaction, err error) {
	defer observability.TrackDelivery("toggle_reaction")(&err)
	span, ctx := observability.NewSpan(ctx, "delivery.ToggleReaction", attribute.Int64("message.id", int64(messageID)))
	defer span.End()

	emoji = strings.TrimSpace(emoji)
	if emoji == "" || len(emoji) > maxEmojiLen || !utf8.ValidString(emoji) {
		return nil, models.NewValidationError("emoji is required")
	}

	msg, err := s.chatRepo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, storeError(err, "Message", messageID)
	}
	conv, err := s.participantConversation(ctx, msg.ConversationID, userID)
	if err != nil {
		return nil, err
	}

	res, err := s.chatRepo.ToggleReaction(ctx, messageID, userID, emoji)
	if err != nil {
		span.SetError(err)
		return nil, storeError(err, "Message", messageID)
	}

	ev := events.MessageReaction{
		ConversationID: res.ConversationID,
		MessageID:      res.MessageID,
		Reactions:      events.FromReactions(res.Reactions),
	}
	publish(ctx, s.publisher, events.ConversationTopic(conv.Kind, conv.ID), ev)
	return &ev, nil
}

// MarkRead zeroes the reader's unread count, records reads and publishes
// messages-read to the conversation plus a zeroed summary to the reader's inbox.
func (s *DeliveryService) MarkRead(ctx context.Context, convID, userID uint) (_ *events.MessagesRead, err error) {
	defer observability.TrackDelivery("mark_read")(&err)
	span, ctx := observability.NewSpan(ctx, "delivery.MarkRead", attribute.Int64("conversation.id", int64(convID)))
	defer span.End()

	conv, err := s.participantConversation(ctx, convID, userID)
	if err != nil {
		return nil, err
	}

	res, err := s.chatRepo.MarkRead(ctx, convID, userID)
	if err != nil {
		span.SetError(err)
		return nil, storeError(err, "Conversation", convID)
	}

	ev := events.MessagesRead{
		ConversationID:    convID,
		ReaderID:          userID,
		ReadAt:            res.ReadAt,
		LastReadMessageID: res.LastReadMessageID,
	}
	publish(ctx, s.publisher, events.ConversationTopic(conv.Kind, conv.ID), ev)

	if fresh, err := s.chatRepo.GetConversation(ctx, convID); err == nil {
		publish(ctx, s.publisher, events.InboxTopic(userID), events.SummaryFor(fresh, 0, 0))
	}
	return &ev, nil
}

func (s *DeliveryService) moderate(ctx context.Context, groupID, requesterID uint) (*models.Conversation, error) {
	conv, err := s.conversation(ctx, groupID)
	if err != nil {
		return nil, err
	}
	admin, err := s.isAdmin(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if err := moderation.Authorize(conv, moderation.Actor{UserID: requesterID, IsGlobalAdmin: admin}); err != nil {
		return nil, err
	}
	return conv, nil
}

// ToggleLock flips the lock state of a group and returns the new state.
func (s *DeliveryService) ToggleLock(ctx context.Context, groupID, requesterID uint) (_ bool, err error) {
	defer observability.TrackDelivery("toggle_lock")(&err)

	conv, err := s.moderate(ctx, groupID, requesterID)
	if err != nil {
		return false, err
	}
	locked, err := s.chatRepo.ToggleLock(ctx, groupID)
	if err != nil {
		return false, storeError(err, "Conversation", groupID)
	}

	conv.IsLocked = locked
	_ = s.convCache.Put(ctx, conv)

	publish(ctx, s.publisher, events.GroupTopic(groupID), events.LockUpdate{
		ConversationID: groupID,
		IsLocked:       locked,
		ChangedBy:      requesterID,
	})
	return locked, nil
}

// PinMessage puts messageID in the group's single pin slot, replacing any previous pin.
func (s *DeliveryService) PinMessage(ctx context.Context, groupID, messageID, requesterID uint) (err error) {
	defer observability.TrackDelivery("pin_message")(&err)

	conv, err := s.moderate(ctx, groupID, requesterID)
	if err != nil {
		return err
	}
	msg, err := s.chatRepo.GetMessage(ctx, messageID)
	if err != nil {
		return storeError(err, "Message", messageID)
	}
	if err := moderation.CanPin(conv, msg); err != nil {
		return err
	}
	return s.setPin(ctx, conv, &messageID, requesterID)
}

// UnpinMessage clears the group's pin slot.
func (s *DeliveryService) UnpinMessage(ctx context.Context, groupID, requesterID uint) (err error) {
	defer observability.TrackDelivery("unpin_message")(&err)

	conv, err := s.moderate(ctx, groupID, requesterID)
	if err != nil {
		return err
	}
	return s.setPin(ctx, conv, nil, requesterID)
}

func (s *DeliveryService) setPin(ctx context.Context, conv *models.Conversation, messageID *uint, requesterID uint) error {
	if err := s.chatRepo.SetPinned(ctx, conv.ID, messageID); err != nil {
		return storeError(err, "Conversation", conv.ID)
	}

	conv.PinnedMessageID = messageID
	_ = s.convCache.Put(ctx, conv)

	publish(ctx, s.publisher, events.GroupTopic(conv.ID), events.PinnedUpdate{
		ConversationID:  conv.ID,
		PinnedMessageID: messageID,
		ChangedBy:       requesterID,
	})
	return nil
}

// PublishTyping broadcasts an ephemeral typing indicator. Nothing is stored;
// subscribers that are not connected never see it.
func (s *DeliveryService) PublishTyping(ctx context.Context, convID, userID uint, isTyping bool) error {
	if !s.flags.Enabled(featureflags.TypingIndicators, userID) {
		return nil
	}
	conv, err := s.participantConversation(ctx, convID, userID)
	if err != nil {
		return err
	}

	ev := events.Typing{
		ConversationID: convID,
		UserID:         userID,
		IsTyping:       isTyping,
		ExpiresInMs:    TypingTTLMillis,
	}
	if p, ok := conv.Participant(userID); ok && p.User != nil {
		ev.Username = p.User.Name()
	}
	publish(ctx, s.publisher, events.ConversationTopic(conv.Kind, conv.ID), ev)
	return nil
}
