package repository

import (
	"context"
	"time"

	"tripchat/internal/models"
	"tripchat/internal/observability"

	"gorm.io/gorm"
)

// NotificationRepository stores per-recipient notification items.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.NotificationItem) error
	ListRecent(ctx context.Context, recipientID uint, limit int) ([]*models.NotificationItem, error)
	MarkRead(ctx context.Context, id, recipientID uint) (*models.NotificationItem, error)
	MarkAllRead(ctx context.Context, recipientID uint) (int64, error)
	PurgeReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type notificationRepository struct {
	db     *gorm.DB
	logger *observability.RepoLogger
}

// NewNotificationRepository creates a gorm-backed NotificationRepository.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db, logger: observability.NewRepoLogger("notification_items")}
}

func (r *notificationRepository) Create(ctx context.Context, n *models.NotificationItem) error {
	ctx, span := observability.TraceStore(ctx, "Create", "notification_items")
	defer span.End()

	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		r.logger.LogError(ctx, err, "create")
		return err
	}
	r.logger.LogWrite(ctx, "create", map[string]any{"id": n.ID, "recipient_id": n.RecipientID, "type": string(n.Type)})
	return nil
}

// ListRecent returns the newest items first.
func (r *notificationRepository) ListRecent(ctx context.Context, recipientID uint, limit int) ([]*models.NotificationItem, error) {
	defer observability.TrackQuery("list_recent", "notification_items")()

	var items []*models.NotificationItem
	err := r.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// MarkRead marks one item read. Items owned by another recipient are reported as not found.
func (r *notificationRepository) MarkRead(ctx context.Context, id, recipientID uint) (*models.NotificationItem, error) {
	var n models.NotificationItem
	err := r.db.WithContext(ctx).Where("id = ? AND recipient_id = ?", id, recipientID).First(&n).Error
	if err != nil {
		return nil, err
	}
	if n.IsRead {
		return &n, nil
	}

	now := time.Now().UTC()
	if err := r.db.WithContext(ctx).Model(&n).Updates(map[string]any{"is_read": true, "read_at": now}).Error; err != nil {
		r.logger.LogError(ctx, err, "mark_read")
		return nil, err
	}
	n.IsRead = true
	n.ReadAt = &now
	return &n, nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, recipientID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.NotificationItem{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Updates(map[string]any{"is_read": true, "read_at": time.Now().UTC()})
	if res.Error != nil {
		r.logger.LogError(ctx, res.Error, "mark_all_read")
	}
	return res.RowsAffected, res.Error
}

// PurgeReadBefore hard-deletes read items created before cutoff. Unread items are kept.
func (r *notificationRepository) PurgeReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("is_read = ? AND created_at < ?", true, cutoff).
		Delete(&models.NotificationItem{})
	return res.RowsAffected, res.Error
}
