// Package repository implements the Conversation Store on top of gorm.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tripchat/internal/database"
	"tripchat/internal/models"
	"tripchat/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errDuplicateToken = errors.New("duplicate client token")

// SendGuard is evaluated against the locked conversation, with participants
// loaded, before a message is written. A non-nil error aborts the send.
type SendGuard func(conv *models.Conversation) error

// AppendResult is the outcome of AppendMessage.
type AppendResult struct {
	Message      *models.Message
	Conversation *models.Conversation
	// Duplicate is set when the client token was already used by this sender;
	// Message is then the originally persisted row.
	Duplicate bool
}

// ReadResult is the outcome of MarkRead.
type ReadResult struct {
	ReadAt            time.Time
	LastReadMessageID uint
	MessageIDs        []uint
}

// ReactionResult carries the full reaction list of a message after a toggle.
type ReactionResult struct {
	MessageID      uint
	ConversationID uint
	Reactions      []models.MessageReaction
	Added          bool
}

// ChatRepository defines the interface for chat data operations
type ChatRepository interface {
	CreateGroup(ctx context.Context, conv *models.Conversation, participants []models.ConversationParticipant) error
	FindOrCreateDirect(ctx context.Context, userA, userB uint) (*models.Conversation, bool, error)
	GetConversation(ctx context.Context, id uint) (*models.Conversation, error)
	GetUserConversations(ctx context.Context, userID uint) ([]*models.Conversation, error)
	GetParticipants(ctx context.Context, convID uint) ([]models.ConversationParticipant, error)
	IsParticipant(ctx context.Context, convID, userID uint) (bool, error)

	AppendMessage(ctx context.Context, msg *models.Message, guard SendGuard) (*AppendResult, error)
	GetMessages(ctx context.Context, convID uint, limit int, beforeID uint) ([]*models.Message, error)
	GetMessage(ctx context.Context, id uint) (*models.Message, error)
	ToggleReaction(ctx context.Context, messageID, userID uint, emoji string) (*ReactionResult, error)
	MarkRead(ctx context.Context, convID, userID uint) (*ReadResult, error)

	ToggleLock(ctx context.Context, convID uint) (bool, error)
	SetPinned(ctx context.Context, convID uint, messageID *uint) error

	ClearTokensBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// chatRepository implements ChatRepository
type chatRepository struct {
	db     *gorm.DB
	logger *observability.RepoLogger
}

// NewChatRepository creates a new chat repository
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db, logger: observability.NewRepoLogger("messages")}
}

// DirectKey is the canonical "min:max" key of a direct conversation between two users.
func DirectKey(userA, userB uint) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("%d:%d", userA, userB)
}

// lastMessagePreview is the denormalized text shown in conversation lists.
func lastMessagePreview(m *models.Message) string {
	if m.Content == "" && m.Type.IsMedia() {
		return "[" + string(m.Type) + "]"
	}
	return m.Content
}

func (r *chatRepository) CreateGroup(ctx context.Context, conv *models.Conversation, participants []models.ConversationParticipant) error {
	ctx, span := observability.TraceStore(ctx, "CreateGroup", "conversations")
	defer span.End()

	conv.Kind = models.ConversationGroup
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(conv).Error; err != nil {
			return err
		}
		for i := range participants {
			participants[i].ConversationID = conv.ID
		}
		if len(participants) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&participants).Error; err != nil {
				return err
			}
		}
		conv.Participants = participants
		return nil
	})
	if err != nil {
		r.logger.LogError(ctx, err, "create_group")
		return err
	}
	r.logger.LogWrite(ctx, "create_group", map[string]any{"conversation_id": conv.ID, "participants": len(participants)})
	return nil
}

func (r *chatRepository) FindOrCreateDirect(ctx context.Context, userA, userB uint) (*models.Conversation, bool, error) {
	ctx, span := observability.TraceStore(ctx, "FindOrCreateDirect", "conversations")
	defer span.End()

	key := DirectKey(userA, userB)
	created := false
	var id uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv := models.Conversation{Kind: models.ConversationDirect, DirectKey: &key, CreatedBy: userA}
		res := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "direct_key"}}, DoNothing: true}).
			Create(&conv)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var existing models.Conversation
			if err := tx.Select("id").Where("direct_key = ?", key).First(&existing).Error; err != nil {
				return err
			}
			id = existing.ID
			return nil
		}
		created = true
		id = conv.ID
		participants := []models.ConversationParticipant{
			{ConversationID: conv.ID, UserID: userA, Role: models.RoleMember},
			{ConversationID: conv.ID, UserID: userB, Role: models.RoleMember},
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&participants).Error
	})
	if err != nil {
		r.logger.LogError(ctx, err, "find_or_create_direct")
		return nil, false, err
	}

	conv, err := r.GetConversation(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if created {
		r.logger.LogWrite(ctx, "create_direct", map[string]any{"conversation_id": id, "direct_key": key})
	}
	return conv, created, nil
}

func (r *chatRepository) GetConversation(ctx context.Context, id uint) (*models.Conversation, error) {
	ctx, span := observability.TraceStore(ctx, "GetConversation", "conversations")
	defer span.End()
	defer observability.TrackQuery("get_conversation", "conversations")()

	var conv models.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("joined_at ASC, user_id ASC")
		}).
		Preload("Participants.User").
		First(&conv, id).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *chatRepository) GetUserConversations(ctx context.Context, userID uint) ([]*models.Conversation, error) {
	ctx, span := observability.TraceStore(ctx, "GetUserConversations", "conversations")
	defer span.End()
	defer observability.TrackQuery("get_user_conversations", "conversations")()

	var conversations []*models.Conversation
	err := r.db.WithContext(ctx).
		Joins("JOIN conversation_participants cp ON conversations.id = cp.conversation_id").
		Where("cp.user_id = ?", userID).
		Select("conversations.*").
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("joined_at ASC, user_id ASC")
		}).
		Preload("Participants.User").
		Order("COALESCE(conversations.last_message_at, conversations.created_at) DESC").
		Order("conversations.id DESC").
		Find(&conversations).Error
	if err != nil {
		return nil, err
	}

	for _, c := range conversations {
		if p, ok := c.Participant(userID); ok {
			c.UnreadCount = p.UnreadCount
		}
	}
	return conversations, nil
}

func (r *chatRepository) GetParticipants(ctx context.Context, convID uint) ([]models.ConversationParticipant, error) {
	ctx, span := observability.TraceStore(ctx, "GetParticipants", "conversation_participants")
	defer span.End()

	var participants []models.ConversationParticipant
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("conversation_id = ?", convID).
		Order("joined_at ASC, user_id ASC").
		Find(&participants).Error
	return participants, err
}

func (r *chatRepository) IsParticipant(ctx context.Context, convID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Count(&count).Error
	return count > 0, err
}

// AppendMessage persists msg under a row lock on its conversation. The lock
// serialises sends per conversation, so createdAt is strictly increasing and
// unread counters never lose an increment. A repeated (sender, clientToken)
// returns the originally stored message and changes nothing.
func (r *chatRepository) AppendMessage(ctx context.Context, msg *models.Message, guard SendGuard) (*AppendResult, error) {
	ctx, span := observability.TraceStore(ctx, "AppendMessage", "messages")
	defer span.End()
	defer observability.TrackQuery("append_message", "messages")()

	if msg.ClientToken != nil {
		existing, err := r.findByToken(ctx, msg.SenderID, *msg.ClientToken)
		if err == nil {
			return r.duplicateResult(ctx, existing)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	var conv models.Conversation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&conv, msg.ConversationID).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", conv.ID).Find(&conv.Participants).Error; err != nil {
			return err
		}
		if guard != nil {
			if err := guard(&conv); err != nil {
				return err
			}
		}

		now := time.Now().UTC().Truncate(time.Microsecond)
		if conv.LastMessageAt != nil && !now.After(*conv.LastMessageAt) {
			now = conv.LastMessageAt.Add(time.Microsecond)
		}
		msg.CreatedAt = now

		if err := tx.Omit(clause.Associations).Create(msg).Error; err != nil {
			if database.IsDuplicateKey(err) {
				return errDuplicateToken
			}
			return err
		}

		preview := lastMessagePreview(msg)
		if err := tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).Updates(map[string]any{
			"last_message":    preview,
			"last_message_at": now,
			"last_message_id": msg.ID,
			"updated_at":      now,
		}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id <> ?", conv.ID, msg.SenderID).
			UpdateColumn("unread_count", gorm.Expr("unread_count + ?", 1)).Error; err != nil {
			return err
		}

		conv.Participants = nil
		if err := tx.Where("conversation_id = ?", conv.ID).Order("user_id ASC").Find(&conv.Participants).Error; err != nil {
			return err
		}
		conv.LastMessage = preview
		conv.LastMessageAt = &now
		conv.LastMessageID = msg.ID
		return nil
	})

	if errors.Is(err, errDuplicateToken) {
		existing, ferr := r.findByToken(ctx, msg.SenderID, *msg.ClientToken)
		if ferr != nil {
			return nil, ferr
		}
		return r.duplicateResult(ctx, existing)
	}
	if err != nil {
		r.logger.LogError(ctx, err, "append_message")
		return nil, err
	}

	msg.Reactions = []models.MessageReaction{}
	msg.Reads = []models.MessageRead{}
	var sender models.User
	if err := r.db.WithContext(ctx).First(&sender, msg.SenderID).Error; err == nil {
		msg.Sender = &sender
	}
	r.logger.LogWrite(ctx, "append_message", map[string]any{
		"conversation_id": msg.ConversationID,
		"message_id":      msg.ID,
		"sender_id":       msg.SenderID,
	})
	return &AppendResult{Message: msg, Conversation: &conv}, nil
}

func (r *chatRepository) findByToken(ctx context.Context, senderID uint, token string) (*models.Message, error) {
	var m models.Message
	err := r.withMessageAssociations(r.db.WithContext(ctx)).
		Where("sender_id = ? AND client_token = ?", senderID, token).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *chatRepository) duplicateResult(ctx context.Context, existing *models.Message) (*AppendResult, error) {
	conv, err := r.GetConversation(ctx, existing.ConversationID)
	if err != nil {
		return nil, err
	}
	return &AppendResult{Message: existing, Conversation: conv, Duplicate: true}, nil
}

func (r *chatRepository) withMessageAssociations(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Sender").
		Preload("Reactions", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		Preload("Reads", func(db *gorm.DB) *gorm.DB {
			return db.Order("read_at ASC, user_id ASC")
		})
}

func (r *chatRepository) GetMessages(ctx context.Context, convID uint, limit int, beforeID uint) ([]*models.Message, error) {
	ctx, span := observability.TraceStore(ctx, "GetMessages", "messages")
	defer span.End()
	defer observability.TrackQuery("get_messages", "messages")()

	q := r.withMessageAssociations(r.db.WithContext(ctx)).Where("conversation_id = ?", convID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var messages []*models.Message
	err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}

	// Fetched newest first to apply the limit; callers expect oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *chatRepository) GetMessage(ctx context.Context, id uint) (*models.Message, error) {
	var m models.Message
	if err := r.withMessageAssociations(r.db.WithContext(ctx)).First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ToggleReaction flips (userID, emoji) on a message as one read-modify-write
// under a row lock on the message, then returns the recomputed list.
func (r *chatRepository) ToggleReaction(ctx context.Context, messageID, userID uint, emoji string) (*ReactionResult, error) {
	ctx, span := observability.TraceStore(ctx, "ToggleReaction", "message_reactions")
	defer span.End()
	defer observability.TrackQuery("toggle_reaction", "message_reactions")()

	result := &ReactionResult{MessageID: messageID}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg models.Message
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id", "conversation_id").First(&msg, messageID).Error; err != nil {
			return err
		}
		result.ConversationID = msg.ConversationID

		var existing models.MessageReaction
		err := tx.Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).First(&existing).Error
		switch {
		case err == nil:
			if err := tx.Delete(&existing).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(&models.MessageReaction{MessageID: messageID, UserID: userID, Emoji: emoji}).Error; err != nil {
				return err
			}
			result.Added = true
		default:
			return err
		}

		result.Reactions = []models.MessageReaction{}
		return tx.Where("message_id = ?", messageID).Order("id ASC").Find(&result.Reactions).Error
	})
	if err != nil {
		r.logger.LogError(ctx, err, "toggle_reaction")
		return nil, err
	}
	r.logger.LogWrite(ctx, "toggle_reaction", map[string]any{"message_id": messageID, "user_id": userID, "added": result.Added})
	return result, nil
}

// MarkRead zeroes the participant's unread counter and records a read for
// every message in the conversation not authored by the reader.
func (r *chatRepository) MarkRead(ctx context.Context, convID, userID uint) (*ReadResult, error) {
	ctx, span := observability.TraceStore(ctx, "MarkRead", "message_reads")
	defer span.End()
	defer observability.TrackQuery("mark_read", "message_reads")()

	result := &ReadResult{ReadAt: time.Now().UTC().Truncate(time.Microsecond)}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.ConversationParticipant
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("conversation_id = ? AND user_id = ?", convID, userID).
			First(&p).Error; err != nil {
			return err
		}

		var conv models.Conversation
		if err := tx.Select("id", "last_message_id").First(&conv, convID).Error; err != nil {
			return err
		}
		result.LastReadMessageID = conv.LastMessageID

		alreadyRead := tx.Model(&models.MessageRead{}).Select("message_id").Where("user_id = ?", userID)
		if err := tx.Model(&models.Message{}).
			Where("conversation_id = ? AND sender_id <> ?", convID, userID).
			Where("id NOT IN (?)", alreadyRead).
			Order("id ASC").
			Pluck("id", &result.MessageIDs).Error; err != nil {
			return err
		}

		if len(result.MessageIDs) > 0 {
			reads := make([]models.MessageRead, 0, len(result.MessageIDs))
			for _, id := range result.MessageIDs {
				reads = append(reads, models.MessageRead{MessageID: id, UserID: userID, ReadAt: result.ReadAt})
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&reads).Error; err != nil {
				return err
			}
		}

		return tx.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ?", convID, userID).
			Updates(map[string]any{
				"unread_count":         0,
				"last_read_at":         result.ReadAt,
				"last_read_message_id": conv.LastMessageID,
			}).Error
	})
	if err != nil {
		r.logger.LogError(ctx, err, "mark_read")
		return nil, err
	}
	r.logger.LogWrite(ctx, "mark_read", map[string]any{"conversation_id": convID, "user_id": userID, "messages": len(result.MessageIDs)})
	return result, nil
}

// ToggleLock flips is_locked under a row lock and returns the new state.
func (r *chatRepository) ToggleLock(ctx context.Context, convID uint) (bool, error) {
	ctx, span := observability.TraceStore(ctx, "ToggleLock", "conversations")
	defer span.End()

	var locked bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id", "is_locked").First(&conv, convID).Error; err != nil {
			return err
		}
		locked = !conv.IsLocked
		return tx.Model(&models.Conversation{}).Where("id = ?", convID).Update("is_locked", locked).Error
	})
	if err != nil {
		r.logger.LogError(ctx, err, "toggle_lock")
		return false, err
	}
	r.logger.LogWrite(ctx, "toggle_lock", map[string]any{"conversation_id": convID, "is_locked": locked})
	return locked, nil
}

// SetPinned replaces the single pin slot; a nil messageID clears it.
func (r *chatRepository) SetPinned(ctx context.Context, convID uint, messageID *uint) error {
	ctx, span := observability.TraceStore(ctx, "SetPinned", "conversations")
	defer span.End()

	err := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", convID).
		Update("pinned_message_id", messageID).Error
	if err != nil {
		r.logger.LogError(ctx, err, "set_pinned")
		return err
	}
	r.logger.LogWrite(ctx, "set_pinned", map[string]any{"conversation_id": convID})
	return nil
}

// ClearTokensBefore forgets idempotency tokens of messages created before cutoff.
func (r *chatRepository) ClearTokensBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("client_token IS NOT NULL AND created_at < ?", cutoff).
		Update("client_token", nil)
	return res.RowsAffected, res.Error
}
