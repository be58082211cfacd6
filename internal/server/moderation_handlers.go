package server

import (
	"github.com/gofiber/fiber/v2"
)

// ToggleLock handles POST /api/groups/:id/lock
func (s *Server) ToggleLock(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	groupID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	locked, err := s.delivery.ToggleLock(c.UserContext(), groupID, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"conversationId": groupID,
		"isLocked":       locked,
	})
}

// PinMessage handles PUT /api/groups/:id/pin. The new pin replaces any previous one.
func (s *Server) PinMessage(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	groupID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		MessageID uint `json:"messageId"`
	}
	if err := c.BodyParser(&req); err != nil || req.MessageID == 0 {
		return badBody(c)
	}

	if err := s.delivery.PinMessage(c.UserContext(), groupID, req.MessageID, userID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"conversationId":  groupID,
		"pinnedMessageId": req.MessageID,
	})
}

// UnpinMessage handles DELETE /api/groups/:id/pin
func (s *Server) UnpinMessage(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	groupID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.delivery.UnpinMessage(c.UserContext(), groupID, userID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"conversationId":  groupID,
		"pinnedMessageId": nil,
	})
}
