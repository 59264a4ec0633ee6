package models

import (
	"time"

	"gorm.io/datatypes"
)

// EvaluationRecord holds one judge's rubric scores for a submission. A judge re-scoring
// supersedes the previous record; records are never deleted.
type EvaluationRecord struct {
	EvaluationID    uint                                    `gorm:"primaryKey;column:evaluation_id" json:"id"`
	SubmissionID    uint                                    `gorm:"column:submission_id;index;not null" json:"submissionId"`
	JudgeID         uint                                    `gorm:"column:judge_id;index;not null" json:"judgeId"`
	Scores          datatypes.JSONType[map[string]float64] `gorm:"column:scores" json:"scoresByCriterion"`
	Weight          float64                                 `gorm:"column:weight" json:"weight"`
	ResultingStatus SubmissionStatus                        `gorm:"column:resulting_status;size:16" json:"resultingStatus"`
	Feedback        *string                                 `gorm:"column:feedback;type:text" json:"feedback"`
	CreateAt        time.Time                               `gorm:"column:create_at" json:"createdAt"`
	SupersededAt    *time.Time                              `gorm:"column:superseded_at" json:"supersededAt,omitempty"`
}

func (EvaluationRecord) TableName() string { return "evaluation_records" }
