package models

import "time"

// SubmissionStatusHistory tracks historical status changes for submissions.
type SubmissionStatusHistory struct {
	HistoryID    uint              `gorm:"primaryKey;column:history_id" json:"id"`
	SubmissionID uint              `gorm:"column:submission_id;index" json:"submissionId"`
	OldStatus    *SubmissionStatus `gorm:"column:old_status;size:16" json:"oldStatus"`
	NewStatus    SubmissionStatus  `gorm:"column:new_status;size:16" json:"newStatus"`
	ChangedBy    uint              `gorm:"column:changed_by" json:"changedBy"`
	Reason       *string           `gorm:"column:reason" json:"reason"`
	CreatedAt    time.Time         `gorm:"column:created_at" json:"createdAt"`
}

func (SubmissionStatusHistory) TableName() string {
	return "submission_status_history"
}
