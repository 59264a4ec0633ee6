package models

import "time"

// Competition is the aggregate root owning rounds, prizes, the participant roster and winners.
type Competition struct {
	CompetitionID uint      `gorm:"primaryKey;column:competition_id" json:"id"`
	OrganizerID   uint      `gorm:"column:organizer_id;index;not null" json:"organizerId"`
	Title         string    `gorm:"column:title;size:255;not null" json:"title"`
	Description   string    `gorm:"column:description;type:text" json:"description"`
	CreateAt      time.Time `gorm:"column:create_at;autoCreateTime" json:"createdAt"`
	UpdateAt      time.Time `gorm:"column:update_at;autoUpdateTime" json:"updatedAt"`

	// Relations
	Rounds  []Round  `gorm:"foreignKey:CompetitionID" json:"rounds,omitempty"`
	Prizes  []Prize  `gorm:"foreignKey:CompetitionID" json:"prizes,omitempty"`
	Winners []Winner `gorm:"foreignKey:CompetitionID" json:"winners,omitempty"`
}

func (Competition) TableName() string { return "competitions" }

// Prize is awarded to at most one winner.
type Prize struct {
	PrizeID       uint   `gorm:"primaryKey;column:prize_id" json:"id"`
	CompetitionID uint   `gorm:"column:competition_id;index;not null" json:"competitionId"`
	Rank          int    `gorm:"column:rank" json:"rank"`
	Title         string `gorm:"column:title;size:255" json:"title"`
	Description   string `gorm:"column:description;type:text" json:"description"`
	Value         string `gorm:"column:value;size:128" json:"value"`
}

func (Prize) TableName() string { return "prizes" }

// Registration puts a user on a competition's participant roster.
type Registration struct {
	RegistrationID uint      `gorm:"primaryKey;column:registration_id" json:"id"`
	CompetitionID  uint      `gorm:"column:competition_id;uniqueIndex:idx_registrations_competition_user;not null" json:"competitionId"`
	UserID         uint      `gorm:"column:user_id;uniqueIndex:idx_registrations_competition_user;not null" json:"userId"`
	RegisteredAt   time.Time `gorm:"column:registered_at" json:"registeredAt"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (Registration) TableName() string { return "registrations" }

// Winner records a prize assignment.
type Winner struct {
	WinnerID      uint      `gorm:"primaryKey;column:winner_id" json:"id"`
	CompetitionID uint      `gorm:"column:competition_id;index;not null" json:"competitionId"`
	PrizeID       uint      `gorm:"column:prize_id;uniqueIndex;not null" json:"prizeId"`
	UserID        uint      `gorm:"column:user_id;not null" json:"userId"`
	SubmissionID  uint      `gorm:"column:submission_id;not null" json:"submissionId"`
	AwardedBy     uint      `gorm:"column:awarded_by" json:"awardedBy"`
	AwardedAt     time.Time `gorm:"column:awarded_at" json:"awardedAt"`
}

func (Winner) TableName() string { return "winners" }
