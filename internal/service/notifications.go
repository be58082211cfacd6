package service

import (
	"context"
	"encoding/json"
	"strings"

	"tripchat/internal/events"
	"tripchat/internal/models"
	"tripchat/internal/observability"
	"tripchat/internal/repository"
)

// MaxNotificationPage caps a single notification snapshot.
const MaxNotificationPage = 50

// NotificationService persists notification items and publishes them to the
// recipient's notification topic.
type NotificationService struct {
	repo        repository.NotificationRepository
	userRepo    repository.UserRepository
	publisher   Publisher
	defaultPage int
}

// NewNotificationService returns a new NotificationService. defaultPage is the
// snapshot size used when a caller does not ask for one.
func NewNotificationService(repo repository.NotificationRepository, userRepo repository.UserRepository, publisher Publisher, defaultPage int) *NotificationService {
	if defaultPage <= 0 || defaultPage > MaxNotificationPage {
		defaultPage = MaxNotificationPage
	}
	return &NotificationService{repo: repo, userRepo: userRepo, publisher: publisher, defaultPage: defaultPage}
}

// NotifyInput describes a notification to create.
type NotifyInput struct {
	RecipientID uint
	ActorID     uint
	Type        models.NotificationType
	Message     string
	TripID      *uint
	CommentID   *uint
	Metadata    json.RawMessage
}

// Notify persists a notification item and publishes it.
func (s *NotificationService) Notify(ctx context.Context, in NotifyInput) (_ *models.NotificationItem, err error) {
	defer observability.TrackDelivery("notify")(&err)

	in.Message = strings.TrimSpace(in.Message)
	switch {
	case in.RecipientID == 0:
		return nil, models.NewValidationError("recipientId is required")
	case !in.Type.Valid():
		return nil, models.NewValidationError("unknown notification type")
	case in.Message == "":
		return nil, models.NewValidationError("notification message cannot be empty")
	case len(in.Metadata) > 0 && !json.Valid(in.Metadata):
		return nil, models.NewValidationError("metadata must be valid JSON")
	}

	item := &models.NotificationItem{
		RecipientID: in.RecipientID,
		ActorID:     in.ActorID,
		Type:        in.Type,
		Message:     in.Message,
		TripID:      in.TripID,
		CommentID:   in.CommentID,
		Metadata:    in.Metadata,
	}
	if in.ActorID != 0 && s.userRepo != nil {
		if actor, err := s.userRepo.GetByID(ctx, in.ActorID); err == nil {
			item.ActorName = actor.Name()
			item.ActorImage = actor.AvatarURL
		}
	}

	if err := s.repo.Create(ctx, item); err != nil {
		return nil, models.NewInternalError(err)
	}
	publish(ctx, s.publisher, events.NotificationsTopic(item.RecipientID), events.FromNotification(item))
	return item, nil
}

// List returns the newest notifications, at most MaxNotificationPage.
func (s *NotificationService) List(ctx context.Context, userID uint, limit int) ([]*models.NotificationItem, error) {
	if limit <= 0 {
		limit = s.defaultPage
	}
	if limit > MaxNotificationPage {
		limit = MaxNotificationPage
	}
	items, err := s.repo.ListRecent(ctx, userID, limit)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return items, nil
}

// MarkRead marks one of the user's notifications read and republishes it so
// the user's other sessions update.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id uint) (*models.NotificationItem, error) {
	item, err := s.repo.MarkRead(ctx, id, userID)
	if err != nil {
		return nil, storeError(err, "Notification", id)
	}
	publish(ctx, s.publisher, events.NotificationsTopic(userID), events.FromNotification(item))
	return item, nil
}

// MarkAllRead marks every unread notification of the user read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, models.NewInternalError(err)
	}
	return n, nil
}
