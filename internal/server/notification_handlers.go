package server

import (
	"encoding/json"

	"tripchat/internal/events"
	"tripchat/internal/models"
	"tripchat/internal/service"

	"github.com/gofiber/fiber/v2"
)

// GetNotifications handles GET /api/notifications?limit=
func (s *Server) GetNotifications(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	items, err := s.notifications.List(c.UserContext(), userID, c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, err)
	}

	out := make([]events.Notification, 0, len(items))
	for _, it := range items {
		out = append(out, events.FromNotification(it))
	}
	return c.JSON(out)
}

// MarkNotificationRead handles POST /api/notifications/:id/read
func (s *Server) MarkNotificationRead(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	item, err := s.notifications.MarkRead(c.UserContext(), userID, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(events.FromNotification(item))
}

// MarkAllNotificationsRead handles POST /api/notifications/read-all
func (s *Server) MarkAllNotificationsRead(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	n, err := s.notifications.MarkAllRead(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"updated": n})
}

// CreateSystemNotification handles POST /api/admin/notifications. It sends a
// system alert to each listed recipient.
func (s *Server) CreateSystemNotification(c *fiber.Ctx) error {
	adminID := c.Locals("userID").(uint)

	var req struct {
		RecipientIDs []uint          `json:"recipientIds"`
		Message      string          `json:"message"`
		TripID       *uint           `json:"tripId"`
		Metadata     json.RawMessage `json:"metadata"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if len(req.RecipientIDs) == 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("recipientIds cannot be empty"))
	}

	out := make([]events.Notification, 0, len(req.RecipientIDs))
	for _, recipient := range req.RecipientIDs {
		item, err := s.notifications.Notify(c.UserContext(), service.NotifyInput{
			RecipientID: recipient,
			ActorID:     adminID,
			Type:        models.NotificationSystem,
			Message:     req.Message,
			TripID:      req.TripID,
			Metadata:    req.Metadata,
		})
		if err != nil {
			return respondError(c, err)
		}
		out = append(out, events.FromNotification(item))
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

// GetFeatureFlags handles GET /api/admin/feature-flags
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	return c.JSON(fiber.Map{
		"flags":   s.featureFlags.Names(),
		"enabled": s.featureFlags.Snapshot(userID),
	})
}
