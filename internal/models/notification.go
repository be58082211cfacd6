package models

import (
	"encoding/json"
	"time"
)

// NotificationType classifies a notification item.
type NotificationType string

const (
	NotificationLove    NotificationType = "love"
	NotificationSave    NotificationType = "save"
	NotificationComment NotificationType = "comment"
	NotificationFollow  NotificationType = "follow"
	NotificationMessage NotificationType = "message"
	NotificationSystem  NotificationType = "system"
)

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationLove, NotificationSave, NotificationComment, NotificationFollow, NotificationMessage, NotificationSystem:
		return true
	}
	return false
}

// NotificationItem is one entry in a user's notification stream.
type NotificationItem struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	RecipientID uint             `gorm:"not null;index:idx_notifications_recipient_created,priority:1" json:"recipient_id"`
	ActorID     uint             `json:"actor_id"`
	ActorName   string           `json:"actor_name"`
	ActorImage  string           `json:"actor_image,omitempty"`
	Type        NotificationType `gorm:"size:16;not null" json:"type"`
	Message     string           `gorm:"type:text;not null" json:"message"`
	TripID      *uint            `json:"trip_id,omitempty"`
	CommentID   *uint            `json:"comment_id,omitempty"`
	Metadata    json.RawMessage  `gorm:"type:json" json:"metadata,omitempty"`
	IsRead      bool             `gorm:"default:false;index" json:"is_read"`
	ReadAt      *time.Time       `json:"read_at,omitempty"`
	CreatedAt   time.Time        `gorm:"index:idx_notifications_recipient_created,priority:2" json:"created_at"`
}
