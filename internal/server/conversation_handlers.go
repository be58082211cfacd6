package server

import (
	"time"

	"tripchat/internal/events"
	"tripchat/internal/models"
	"tripchat/internal/service"

	"github.com/gofiber/fiber/v2"
)

// ParticipantResponse is the API shape of a conversation participant.
type ParticipantResponse struct {
	UserID            uint       `json:"userId"`
	Username          string     `json:"username,omitempty"`
	DisplayName       string     `json:"displayName,omitempty"`
	AvatarURL         string     `json:"avatarUrl,omitempty"`
	Role              string     `json:"role"`
	JoinedAt          time.Time  `json:"joinedAt"`
	LastReadAt        *time.Time `json:"lastReadAt,omitempty"`
	LastReadMessageID uint       `json:"lastReadMessageId"`
}

func conversationView(conv *models.Conversation, viewerID uint) events.Conversation {
	if p, ok := conv.Participant(viewerID); ok {
		conv.UnreadCount = p.UnreadCount
	}
	return events.FromConversation(conv)
}

// GetConversations handles GET /api/conversations
func (s *Server) GetConversations(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	convs, err := s.delivery.GetConversations(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}

	out := make([]events.Conversation, 0, len(convs))
	for _, conv := range convs {
		out = append(out, events.FromConversation(conv))
	}
	return c.JSON(out)
}

// StartDirect handles POST /api/conversations/direct. Starting a chat with
// the same user twice returns the existing conversation with 200.
func (s *Server) StartDirect(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var req struct {
		UserID uint `json:"userId"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	conv, created, err := s.delivery.StartDirect(c.UserContext(), userID, req.UserID)
	if err != nil {
		return respondError(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(conversationView(conv, userID))
}

// CreateGroup handles POST /api/conversations/group
func (s *Server) CreateGroup(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var req struct {
		Name           string `json:"name"`
		TripID         uint   `json:"tripId"`
		CompanyOwnerID uint   `json:"companyOwnerId"`
		ParticipantIDs []uint `json:"participantIds"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	conv, err := s.delivery.CreateGroup(c.UserContext(), service.CreateGroupInput{
		CreatorID:      userID,
		Name:           req.Name,
		TripID:         req.TripID,
		CompanyOwnerID: req.CompanyOwnerID,
		ParticipantIDs: req.ParticipantIDs,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(conversationView(conv, userID))
}

// GetMessages handles GET /api/conversations/:id/messages?limit=&before=
func (s *Server) GetMessages(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	convID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	before := c.QueryInt("before", 0)
	if before < 0 {
		before = 0
	}
	msgs, err := s.delivery.GetMessages(c.UserContext(), convID, userID, c.QueryInt("limit", 0), uint(before))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(events.FromMessages(msgs))
}

// SendMessage handles POST /api/conversations/:id/messages. A replayed
// clientToken returns the stored message with 200 instead of 201.
func (s *Server) SendMessage(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	convID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		Type        string `json:"type"`
		Content     string `json:"content"`
		MediaURL    string `json:"mediaUrl"`
		ClientToken string `json:"clientToken"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	res, err := s.delivery.SendMessage(c.UserContext(), service.SendMessageInput{
		ConversationID: convID,
		SenderID:       userID,
		Type:           models.MessageType(req.Type),
		Content:        req.Content,
		MediaURL:       req.MediaURL,
		ClientToken:    req.ClientToken,
	})
	if err != nil {
		return respondError(c, err)
	}

	status := fiber.StatusCreated
	if res.Duplicate {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(events.FromMessage(res.Message))
}

// MarkRead handles POST /api/conversations/:id/read
func (s *Server) MarkRead(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	convID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	ev, err := s.delivery.MarkRead(c.UserContext(), convID, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ev)
}

// PublishTyping handles POST /api/conversations/:id/typing
func (s *Server) PublishTyping(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	convID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		IsTyping bool `json:"isTyping"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	// Spammy typing indicators are dropped silently.
	if s.typingLimit != nil && !s.typingLimit(c.UserContext(), userID) {
		return c.SendStatus(fiber.StatusNoContent)
	}
	if err := s.delivery.PublishTyping(c.UserContext(), convID, userID, req.IsTyping); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetParticipants handles GET /api/conversations/:id/participants
func (s *Server) GetParticipants(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	convID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	ps, err := s.delivery.GetParticipants(c.UserContext(), convID, userID)
	if err != nil {
		return respondError(c, err)
	}

	out := make([]ParticipantResponse, 0, len(ps))
	for _, p := range ps {
		r := ParticipantResponse{
			UserID:            p.UserID,
			Role:              p.Role,
			JoinedAt:          p.JoinedAt,
			LastReadAt:        p.LastReadAt,
			LastReadMessageID: p.LastReadMessageID,
		}
		if p.User != nil {
			r.Username = p.User.Username
			r.DisplayName = p.User.DisplayName
			r.AvatarURL = p.User.AvatarURL
		}
		out = append(out, r)
	}
	return c.JSON(out)
}

// ToggleReaction handles POST /api/messages/:id/reactions
func (s *Server) ToggleReaction(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	msgID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	ev, err := s.delivery.ToggleReaction(c.UserContext(), msgID, userID, req.Emoji)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ev)
}
