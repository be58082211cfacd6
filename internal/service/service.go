// Package service implements the Delivery Service: every state-changing chat
// operation persists first and publishes second. A failed publish never
// undoes the write; clients recover from the REST snapshot.
package service

import (
	"context"
	"errors"

	"tripchat/internal/cache"
	"tripchat/internal/events"
	"tripchat/internal/featureflags"
	"tripchat/internal/models"
	"tripchat/internal/observability"
	"tripchat/internal/repository"

	"gorm.io/gorm"
)

// Publisher is the publish side of the event bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev events.Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, topic string, ev events.Event) error

func (f PublisherFunc) Publish(ctx context.Context, topic string, ev events.Event) error {
	return f(ctx, topic, ev)
}

// DeliveryDeps wires a DeliveryService.
type DeliveryDeps struct {
	Chat      repository.ChatRepository
	Users     repository.UserRepository
	Publisher Publisher
	// Conversations caches conversation metadata; it is built over Chat when nil.
	Conversations *cache.ConversationCache
	Flags         featureflags.Evaluator
	Notifications *NotificationService
}

// DeliveryService owns idempotency and topic fan-out for chat writes.
type DeliveryService struct {
	chatRepo      repository.ChatRepository
	userRepo      repository.UserRepository
	publisher     Publisher
	convCache     *cache.ConversationCache
	flags         featureflags.Evaluator
	notifications *NotificationService
}

// NewDeliveryService returns a new DeliveryService.
func NewDeliveryService(deps DeliveryDeps) *DeliveryService {
	conversations := deps.Conversations
	if conversations == nil {
		conversations = cache.NewConversationCache(cache.NewMemoryStore(), 0, deps.Chat.GetConversation)
	}
	flags := deps.Flags
	if flags == nil {
		flags = featureflags.NewManager("")
	}
	return &DeliveryService{
		chatRepo:      deps.Chat,
		userRepo:      deps.Users,
		publisher:     deps.Publisher,
		convCache:     conversations,
		flags:         flags,
		notifications: deps.Notifications,
	}
}

// publish is fire-and-forget. The write it follows is already durable, so a
// failure is logged as a TransientDeliveryFailure and otherwise dropped.
func publish(ctx context.Context, p Publisher, topic string, ev events.Event) {
	if p == nil {
		return
	}
	if err := p.Publish(context.WithoutCancel(ctx), topic, ev); err != nil {
		observability.LogDeliveryDropped(ctx, topic, string(ev.EventName()), models.NewTransientDeliveryError(topic, err))
	}
}

// storeError maps repository errors onto the AppError taxonomy.
func storeError(err error, resource string, id any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return models.NewInternalError(err)
}

func (s *DeliveryService) conversation(ctx context.Context, id uint) (*models.Conversation, error) {
	conv, err := s.convCache.Get(ctx, id)
	if err != nil {
		return nil, storeError(err, "Conversation", id)
	}
	return conv, nil
}

// participantConversation loads conv and checks that userID takes part in it.
func (s *DeliveryService) participantConversation(ctx context.Context, convID, userID uint) (*models.Conversation, error) {
	conv, err := s.conversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if _, ok := conv.Participant(userID); !ok {
		return nil, models.NewForbiddenError("You are not a participant in this conversation")
	}
	return conv, nil
}

func (s *DeliveryService) isAdmin(ctx context.Context, userID uint) (bool, error) {
	if s.userRepo == nil {
		return false, nil
	}
	admin, err := s.userRepo.IsAdmin(ctx, userID)
	if err != nil {
		return false, models.NewInternalError(err)
	}
	return admin, nil
}
