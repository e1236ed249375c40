package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType describes what triggered a notification.
type NotificationType string

const (
	NotificationTypeModeration NotificationType = "moderation"
)

// Notification represents a single notification for a user.
type Notification struct {
	ID          uuid.UUID        `json:"id" db:"id"`
	UserID      uuid.UUID        `json:"userId" db:"user_id"`
	Type        NotificationType `json:"type" db:"type"`
	Title       string           `json:"title" db:"title"`
	Body        *string          `json:"body,omitempty" db:"body"`
	CommunityID *uuid.UUID       `json:"communityId,omitempty" db:"community_id"`
	Metadata    map[string]any   `json:"metadata,omitempty" db:"metadata"`
	IsRead      bool             `json:"isRead" db:"is_read"`
	CreatedAt   time.Time        `json:"createdAt" db:"created_at"`
}
