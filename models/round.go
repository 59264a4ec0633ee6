package models

import (
	"time"

	"gorm.io/datatypes"
)

// SubmissionRules is the per-round submission policy, stored inline on the round row.
type SubmissionRules struct {
	AllowFileUpload       bool                        `gorm:"column:allow_file_upload" json:"allowFileUpload"`
	AllowExternalLinks    bool                        `gorm:"column:allow_external_links" json:"allowExternalLinks"`
	AcceptLateSubmissions bool                        `gorm:"column:accept_late_submissions" json:"acceptLateSubmissions"`
	ShowCountdown         bool                        `gorm:"column:show_countdown" json:"showCountdown"`
	MaxFileSizeMB         int                         `gorm:"column:max_file_size_mb;default:10" json:"maxFileSizeMB"`
	AllowedFileTypes      datatypes.JSONSlice[string] `gorm:"column:allowed_file_types" json:"allowedFileTypes"`
}

// DefaultMaxFileSizeMB applies when a round does not set its own limit.
const DefaultMaxFileSizeMB = 10

// MaxFileSizeBytes returns the effective per-file limit.
func (r SubmissionRules) MaxFileSizeBytes() int64 {
	mb := r.MaxFileSizeMB
	if mb <= 0 {
		mb = DefaultMaxFileSizeMB
	}
	return int64(mb) * 1024 * 1024
}

// Round is one time-boxed evaluation window of a competition.
type Round struct {
	RoundID          uint                                    `gorm:"primaryKey;column:round_id" json:"id"`
	CompetitionID    uint                                    `gorm:"column:competition_id;uniqueIndex:idx_rounds_competition_position;not null" json:"competitionId"`
	Position         int                                     `gorm:"column:position;uniqueIndex:idx_rounds_competition_position;not null" json:"position"`
	Name             string                                  `gorm:"column:name;size:255" json:"name"`
	StartDate        time.Time                               `gorm:"column:start_date;not null" json:"startDate"`
	EndDate          time.Time                               `gorm:"column:end_date;not null" json:"endDate"`
	JudgingMethod    string                                  `gorm:"column:judging_method;size:64" json:"judgingMethod"`
	Criteria         datatypes.JSONType[map[string]float64] `gorm:"column:criteria" json:"criteria"`
	Deliverables     string                                  `gorm:"column:deliverables;type:text" json:"deliverables"`
	EvaluationWeight float64                                 `gorm:"column:evaluation_weight" json:"evaluationWeight"`
	MinJudges        int                                     `gorm:"column:min_judges;default:1" json:"minJudges"`
	SubmissionRules  SubmissionRules                         `gorm:"embedded" json:"submissionRules"`
	Version          int                                     `gorm:"column:version;not null;default:1" json:"version"`
	CreateAt         time.Time                               `gorm:"column:create_at;autoCreateTime" json:"createdAt"`
	UpdateAt         time.Time                               `gorm:"column:update_at;autoUpdateTime" json:"updatedAt"`

	Resources []RoundResource `gorm:"foreignKey:RoundID" json:"resources,omitempty"`
}

func (Round) TableName() string { return "rounds" }

// CriteriaWeights returns the criterion -> weight map, never nil.
func (r Round) CriteriaWeights() map[string]float64 {
	if m := r.Criteria.Data(); m != nil {
		return m
	}
	return map[string]float64{}
}

// RoundResource is an organizer-provided attachment of a round.
type RoundResource struct {
	ResourceID uint      `gorm:"primaryKey;column:resource_id" json:"id"`
	RoundID    uint      `gorm:"column:round_id;index;not null" json:"roundId"`
	Position   int       `gorm:"column:position" json:"position"`
	Name       string    `gorm:"column:name;size:255" json:"name"`
	URL        string    `gorm:"column:url;type:text" json:"url"`
	Type       string    `gorm:"column:type;size:128" json:"type"`
	Size       int64     `gorm:"column:size" json:"size"`
	PublicID   string    `gorm:"column:public_id;size:255;index" json:"publicId"`
	CreateAt   time.Time `gorm:"column:create_at;autoCreateTime" json:"createdAt"`
}

func (RoundResource) TableName() string { return "round_resources" }
