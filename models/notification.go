package models

import "time"

type Notification struct {
	NotificationID      uint       `gorm:"primaryKey;column:notification_id" json:"id"`
	UserID              uint       `gorm:"column:user_id;index" json:"userId"`
	Title               string     `gorm:"column:title" json:"title"`
	Message             string     `gorm:"column:message" json:"message"`
	Type                string     `gorm:"column:type" json:"type"` // info|success|warning|error
	RelatedSubmissionID *uint      `gorm:"column:related_submission_id" json:"relatedSubmissionId,omitempty"`
	IsRead              bool       `gorm:"column:is_read" json:"isRead"`
	CreateAt            time.Time  `gorm:"column:create_at" json:"createdAt"`
	UpdateAt            *time.Time `gorm:"column:update_at" json:"-"`
}

func (Notification) TableName() string { return "notifications" }
