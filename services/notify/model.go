package notify

import "time"

// Notification is the persisted record behind the in-app notification feed.
type Notification struct {
	NotificationID string     `gorm:"column:notification_id;primaryKey;type:char(26)" json:"notification_id"`
	RecipientID    string     `gorm:"column:recipient_id;index;not null" json:"recipient_id"`
	Kind           string     `gorm:"column:kind;type:varchar(50);not null" json:"kind"`
	EntityID       string     `gorm:"column:entity_id;index" json:"entity_id"`
	Body           string     `gorm:"column:body;type:text" json:"body"`
	ReadAt         *time.Time `gorm:"column:read_at" json:"read_at,omitempty"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}
