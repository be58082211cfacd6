// Package seed creates demo data for local development: travelers, a trip
// group run by a company owner, direct conversations and message history.
// It is meant for development and tests only.
package seed

import (
	"context"
	"fmt"
	"log"
	"strings"

	"tripchat/internal/database"
	"tripchat/internal/models"
	"tripchat/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Options controls how much data Demo creates.
type Options struct {
	Travelers       int
	MessagesPerChat int
	ShouldClean     bool
	// Seed makes the generated content deterministic when non-zero.
	Seed int64
}

// DefaultOptions is used by the seed command when no flags are given.
var DefaultOptions = Options{Travelers: 8, MessagesPerChat: 12, ShouldClean: true}

// Result lists what Demo created.
type Result struct {
	Owner     *models.User
	Guide     *models.User
	Travelers []*models.User
	Group     *models.Conversation
	Directs   []*models.Conversation
	Messages  int
}

// Seeder writes demo data through the same repositories the server uses.
type Seeder struct {
	db    *gorm.DB
	users repository.UserRepository
	chat  repository.ChatRepository
	faker *gofakeit.Faker
}

// NewSeeder creates a Seeder bound to db.
func NewSeeder(db *gorm.DB, seed int64) *Seeder {
	return &Seeder{
		db:    db,
		users: repository.NewUserRepository(db),
		chat:  repository.NewChatRepository(db),
		faker: gofakeit.New(seed),
	}
}

// ClearAll deletes every row of every managed table, children first.
func (s *Seeder) ClearAll(ctx context.Context) error {
	log.Println("🗑️  Clearing existing data...")
	ms := database.PersistentModels()
	for i := len(ms) - 1; i >= 0; i-- {
		if err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(ms[i]).Error; err != nil {
			return fmt.Errorf("clear %T: %w", ms[i], err)
		}
	}
	return nil
}

// Demo populates the database with one trip group and a handful of direct chats.
func Demo(ctx context.Context, db *gorm.DB, opts Options) (*Result, error) {
	if opts.Travelers <= 0 {
		opts.Travelers = DefaultOptions.Travelers
	}
	if opts.MessagesPerChat < 0 {
		opts.MessagesPerChat = 0
	}

	s := NewSeeder(db, opts.Seed)
	if opts.ShouldClean {
		if err := s.ClearAll(ctx); err != nil {
			return nil, err
		}
	}

	res := &Result{}
	var err error
	if res.Owner, err = s.CreateUser(ctx, "owner"); err != nil {
		return nil, err
	}
	if res.Guide, err = s.CreateUser(ctx, "guide"); err != nil {
		return nil, err
	}
	for i := 0; i < opts.Travelers; i++ {
		u, err := s.CreateUser(ctx, "traveler")
		if err != nil {
			return nil, err
		}
		res.Travelers = append(res.Travelers, u)
	}
	log.Printf("✓ %d users created", len(res.Travelers)+2)

	if res.Group, err = s.CreateTripGroup(ctx, res.Guide, res.Owner, res.Travelers); err != nil {
		return nil, err
	}
	senders := append([]*models.User{res.Guide, res.Owner}, res.Travelers...)
	n, err := s.CreateMessages(ctx, res.Group, senders, opts.MessagesPerChat)
	if err != nil {
		return nil, err
	}
	res.Messages += n
	log.Printf("✓ trip group %q with %d messages", res.Group.Name, n)

	for _, t := range res.Travelers[:min(3, len(res.Travelers))] {
		dm, _, err := s.chat.FindOrCreateDirect(ctx, res.Guide.ID, t.ID)
		if err != nil {
			return nil, fmt.Errorf("create direct conversation: %w", err)
		}
		n, err := s.CreateMessages(ctx, dm, []*models.User{res.Guide, t}, opts.MessagesPerChat/2)
		if err != nil {
			return nil, err
		}
		res.Directs = append(res.Directs, dm)
		res.Messages += n
	}
	log.Printf("✓ %d direct conversations", len(res.Directs))

	log.Println("🎉 Demo data ready")
	return res, nil
}

// CreateUser inserts a user whose username starts with role.
func (s *Seeder) CreateUser(ctx context.Context, role string) (*models.User, error) {
	first, last := s.faker.FirstName(), s.faker.LastName()
	u := &models.User{
		Username:    strings.ToLower(fmt.Sprintf("%s_%s%s_%d", role, first, last, s.faker.Number(100, 999))),
		DisplayName: first + " " + last,
		AvatarURL:   fmt.Sprintf("https://i.pravatar.cc/150?u=%s", s.faker.UUID()),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("create %s: %w", role, err)
	}
	return u, nil
}

// CreateTripGroup creates a group bound to a fake trip. The guide and the
// company owner are admins; travelers are members.
func (s *Seeder) CreateTripGroup(ctx context.Context, guide, owner *models.User, travelers []*models.User) (*models.Conversation, error) {
	tripID := uint(s.faker.Number(1000, 9999))
	ownerID := owner.ID
	conv := &models.Conversation{
		Name:           fmt.Sprintf("%s, %s", s.faker.City(), s.faker.Country()),
		TripID:         &tripID,
		CompanyOwnerID: &ownerID,
		CreatedBy:      guide.ID,
	}

	participants := []models.ConversationParticipant{
		{UserID: guide.ID, Role: models.RoleAdmin},
		{UserID: owner.ID, Role: models.RoleAdmin},
	}
	for _, t := range travelers {
		participants = append(participants, models.ConversationParticipant{UserID: t.ID, Role: models.RoleMember})
	}
	if err := s.chat.CreateGroup(ctx, conv, participants); err != nil {
		return nil, fmt.Errorf("create trip group: %w", err)
	}
	return s.chat.GetConversation(ctx, conv.ID)
}

// CreateMessages appends count text messages to conv, rotating through senders.
func (s *Seeder) CreateMessages(ctx context.Context, conv *models.Conversation, senders []*models.User, count int) (int, error) {
	if len(senders) == 0 {
		return 0, nil
	}
	for i := 0; i < count; i++ {
		sender := senders[i%len(senders)]
		token := s.faker.UUID()
		msg := &models.Message{
			ConversationID: conv.ID,
			SenderID:       sender.ID,
			Type:           models.MessageText,
			Content:        s.message(),
			ClientToken:    &token,
		}
		if _, err := s.chat.AppendMessage(ctx, msg, nil); err != nil {
			return i, fmt.Errorf("append message: %w", err)
		}
	}
	return count, nil
}

func (s *Seeder) message() string {
	switch s.faker.Number(0, 3) {
	case 0:
		return fmt.Sprintf("Meeting at %s before we head to %s.", s.faker.Street(), s.faker.City())
	case 1:
		return s.faker.Question()
	case 2:
		return fmt.Sprintf("Don't forget your %s!", strings.ToLower(s.faker.Noun()))
	}
	return s.faker.Sentence(s.faker.Number(4, 12))
}
