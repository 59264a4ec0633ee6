package models

import "time"

const (
	RoleParticipant = 1
	RoleJudge       = 2
	RoleOrganizer   = 3
	RoleAdmin       = 4
)

// User mirrors an identity-provider account; rows are upserted from token claims.
type User struct {
	UserID   uint      `gorm:"primaryKey;autoIncrement:false;column:user_id" json:"id"`
	Email    string    `gorm:"column:email;size:255" json:"email"`
	Name     string    `gorm:"column:name;size:255" json:"name"`
	RoleID   int       `gorm:"column:role_id" json:"roleId"`
	CreateAt time.Time `gorm:"column:create_at;autoCreateTime" json:"createdAt"`
	UpdateAt time.Time `gorm:"column:update_at;autoUpdateTime" json:"updatedAt"`
}

func (User) TableName() string { return "users" }
