package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"tripchat/internal/events"
	"tripchat/internal/featureflags"
	"tripchat/internal/models"
	"tripchat/internal/repository"
	"tripchat/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type published struct {
	topic string
	ev    events.Event
}

type recordingPublisher struct {
	mu    sync.Mutex
	items []published
	fail  error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.items = append(p.items, published{topic: topic, ev: ev})
	return nil
}

func (p *recordingPublisher) on(topic string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, it := range p.items {
		if it.topic == topic {
			out = append(out, it.ev)
		}
	}
	return out
}

func (p *recordingPublisher) named(name events.Name) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, it := range p.items {
		if it.ev.EventName() == name {
			out = append(out, it)
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = nil
}

var errBusDown = errors.New("bus down")

type fixture struct {
	db    *gorm.DB
	chat  repository.ChatRepository
	svc   *DeliveryService
	notes *NotificationService
	pub   *recordingPublisher
}

func newFixture(t *testing.T, flags string) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	pub := &recordingPublisher{}
	chat := repository.NewChatRepository(db)
	users := repository.NewUserRepository(db)
	notes := NewNotificationService(repository.NewNotificationRepository(db), users, pub, 0)
	svc := NewDeliveryService(DeliveryDeps{
		Chat:          chat,
		Users:         users,
		Publisher:     pub,
		Flags:         featureflags.NewManager(flags),
		Notifications: notes,
	})
	return &fixture{db: db, chat: chat, svc: svc, notes: notes, pub: pub}
}

func (f *fixture) group(t *testing.T, owner *models.User, members ...*models.User) *models.Conversation {
	t.Helper()
	ids := make([]uint, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	conv, err := f.svc.CreateGroup(context.Background(), CreateGroupInput{
		CreatorID: owner.ID, Name: "Andes trek", TripID: 77, CompanyOwnerID: owner.ID, ParticipantIDs: ids,
	})
	require.NoError(t, err)
	return conv
}

func (f *fixture) direct(t *testing.T, a, b *models.User) *models.Conversation {
	t.Helper()
	conv, _, err := f.svc.StartDirect(context.Background(), a.ID, b.ID)
	require.NoError(t, err)
	return conv
}

func (f *fixture) messageCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Message{}).Count(&n).Error)
	return n
}
