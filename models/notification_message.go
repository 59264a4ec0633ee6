package models

import "time"

// NotificationMessage overrides the built-in title/body template of a notification event.
// Placeholders use the {{name}} form.
type NotificationMessage struct {
	ID            uint      `gorm:"primaryKey;column:id" json:"id"`
	EventKey      string    `gorm:"column:event_key;size:64;uniqueIndex" json:"eventKey"`
	TitleTemplate string    `gorm:"column:title_template" json:"titleTemplate"`
	BodyTemplate  string    `gorm:"column:body_template;type:text" json:"bodyTemplate"`
	IsActive      bool      `gorm:"column:is_active" json:"isActive"`
	CreatedAt     time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt     time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (NotificationMessage) TableName() string { return "notification_message" }
