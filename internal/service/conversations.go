package service

import (
	"context"
	"strings"

	"tripchat/internal/events"
	"tripchat/internal/models"
)

const (
	defaultMessagePageSize = 50
	maxMessagePageSize     = 100
)

// StartDirect returns the direct conversation between userID and otherID,
// creating it on first use. The pair is unique, so repeated calls return the
// same conversation.
func (s *DeliveryService) StartDirect(ctx context.Context, userID, otherID uint) (*models.Conversation, bool, error) {
	if otherID == 0 || otherID == userID {
		return nil, false, models.NewValidationError("a direct conversation needs another user")
	}
	if s.userRepo != nil {
		if _, err := s.userRepo.GetByID(ctx, otherID); err != nil {
			return nil, false, storeError(err, "User", otherID)
		}
	}

	conv, created, err := s.chatRepo.FindOrCreateDirect(ctx, userID, otherID)
	if err != nil {
		return nil, false, storeError(err, "Conversation", 0)
	}
	_ = s.convCache.Put(ctx, conv)
	return conv, created, nil
}

// CreateGroupInput is the input for creating a trip group.
type CreateGroupInput struct {
	CreatorID      uint
	Name           string
	TripID         uint
	CompanyOwnerID uint
	ParticipantIDs []uint
}

// CreateGroup creates a trip-bound group chat. The creator and the company
// owner join as admins; everyone else joins as a member.
func (s *DeliveryService) CreateGroup(ctx context.Context, in CreateGroupInput) (*models.Conversation, error) {
	in.Name = strings.TrimSpace(in.Name)
	switch {
	case in.Name == "":
		return nil, models.NewValidationError("Group conversations require a name")
	case in.TripID == 0:
		return nil, models.NewValidationError("Group conversations must be bound to a trip")
	}

	roles := map[uint]string{in.CreatorID: models.RoleAdmin}
	order := []uint{in.CreatorID}
	add := func(id uint, role string) {
		if id == 0 {
			return
		}
		if _, seen := roles[id]; !seen {
			order = append(order, id)
			roles[id] = role
		} else if role == models.RoleAdmin {
			roles[id] = role
		}
	}
	add(in.CompanyOwnerID, models.RoleAdmin)
	for _, id := range in.ParticipantIDs {
		add(id, models.RoleMember)
	}

	conv := &models.Conversation{
		Name:      in.Name,
		TripID:    &in.TripID,
		CreatedBy: in.CreatorID,
	}
	if in.CompanyOwnerID != 0 {
		owner := in.CompanyOwnerID
		conv.CompanyOwnerID = &owner
	}
	participants := make([]models.ConversationParticipant, 0, len(order))
	for _, id := range order {
		participants = append(participants, models.ConversationParticipant{UserID: id, Role: roles[id]})
	}

	if err := s.chatRepo.CreateGroup(ctx, conv, participants); err != nil {
		return nil, storeError(err, "Conversation", 0)
	}
	full, err := s.chatRepo.GetConversation(ctx, conv.ID)
	if err != nil {
		return nil, storeError(err, "Conversation", conv.ID)
	}
	_ = s.convCache.Put(ctx, full)
	return full, nil
}

// GetConversations returns the user's conversations, most recent activity first,
// each carrying that user's unread count.
func (s *DeliveryService) GetConversations(ctx context.Context, userID uint) ([]*models.Conversation, error) {
	convs, err := s.chatRepo.GetUserConversations(ctx, userID)
	if err != nil {
		return nil, storeError(err, "Conversation", 0)
	}
	return convs, nil
}

// GetMessages returns up to limit messages older than beforeID (0 for the
// latest), oldest first.
func (s *DeliveryService) GetMessages(ctx context.Context, convID, userID uint, limit int, beforeID uint) ([]*models.Message, error) {
	if _, err := s.participantConversation(ctx, convID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultMessagePageSize
	}
	if limit > maxMessagePageSize {
		limit = maxMessagePageSize
	}
	msgs, err := s.chatRepo.GetMessages(ctx, convID, limit, beforeID)
	if err != nil {
		return nil, storeError(err, "Conversation", convID)
	}
	return msgs, nil
}

// GetParticipants lists the participants of a conversation the user takes part in.
func (s *DeliveryService) GetParticipants(ctx context.Context, convID, userID uint) ([]models.ConversationParticipant, error) {
	if _, err := s.participantConversation(ctx, convID, userID); err != nil {
		return nil, err
	}
	ps, err := s.chatRepo.GetParticipants(ctx, convID)
	if err != nil {
		return nil, storeError(err, "Conversation", convID)
	}
	return ps, nil
}

// AuthorizeTopic decides whether userID may subscribe to topic: its own
// per-user topics, or the topic of a conversation it takes part in whose kind
// matches the topic prefix.
func (s *DeliveryService) AuthorizeTopic(ctx context.Context, userID uint, topic string) error {
	kind, id, err := events.ParseTopic(topic)
	if err != nil {
		return models.NewValidationError(err.Error())
	}
	if !kind.IsConversation() {
		if id != userID {
			return models.NewForbiddenError("cannot subscribe to another user's topic")
		}
		return nil
	}

	conv, err := s.participantConversation(ctx, id, userID)
	if err != nil {
		return err
	}
	if events.ConversationTopic(conv.Kind, conv.ID) != topic {
		return models.NewValidationError("topic kind does not match conversation kind")
	}
	return nil
}
