package models

import (
	"time"

	"gorm.io/datatypes"
)

type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionApproved SubmissionStatus = "approved"
	SubmissionRejected SubmissionStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s SubmissionStatus) Valid() bool {
	switch s {
	case SubmissionPending, SubmissionApproved, SubmissionRejected:
		return true
	}
	return false
}

// Submission is a participant's single artifact for one round. (user_id, round_id) is unique.
type Submission struct {
	SubmissionID   uint                        `gorm:"primaryKey;column:submission_id" json:"id"`
	RoundID        uint                        `gorm:"column:round_id;uniqueIndex:idx_submissions_user_round;not null" json:"roundId"`
	CompetitionID  uint                        `gorm:"column:competition_id;index;not null" json:"competitionId"`
	UserID         uint                        `gorm:"column:user_id;uniqueIndex:idx_submissions_user_round;not null" json:"userId"`
	SubmittedAt    time.Time                   `gorm:"column:submitted_at;not null" json:"submittedAt"`
	Notes          string                      `gorm:"column:notes;type:text" json:"notes"`
	Links          datatypes.JSONSlice[string] `gorm:"column:links" json:"links"`
	Status         SubmissionStatus            `gorm:"column:status;size:16;not null;default:'pending'" json:"status"`
	Feedback       *string                     `gorm:"column:feedback;type:text" json:"feedback"`
	NextRoundID    *uint                       `gorm:"column:next_round_id" json:"nextRoundId"`
	AggregateScore *float64                    `gorm:"column:aggregate_score" json:"aggregateScore,omitempty"`
	Version        int                         `gorm:"column:version;not null;default:1" json:"version"`
	CreateAt       time.Time                   `gorm:"column:create_at;autoCreateTime" json:"createdAt"`
	UpdateAt       time.Time                   `gorm:"column:update_at;autoUpdateTime" json:"updatedAt"`

	Files []SubmissionFile `gorm:"foreignKey:SubmissionID" json:"files"`
}

func (Submission) TableName() string { return "submissions" }

// IsLate is derived against the owning round and never stored.
func (s Submission) IsLate(round Round) bool {
	return s.SubmittedAt.After(round.EndDate)
}

// SubmissionFile is one uploaded file attached to a submission, ordered by Position.
type SubmissionFile struct {
	FileID       uint   `gorm:"primaryKey;column:file_id" json:"-"`
	SubmissionID uint   `gorm:"column:submission_id;index;not null" json:"-"`
	Position     int    `gorm:"column:position" json:"-"`
	Name         string `gorm:"column:name;size:255" json:"name"`
	URL          string `gorm:"column:url;type:text" json:"url"`
	Type         string `gorm:"column:type;size:128" json:"type"`
	Size         int64  `gorm:"column:size" json:"size"`
	PublicID     string `gorm:"column:public_id;size:255;index" json:"publicId"`
}

func (SubmissionFile) TableName() string { return "submission_files" }
