package services

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nextcompete-api/config"
	"nextcompete-api/models"
)

var ErrUserNotFound = newError(KindNotFound, "user not found")

type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	if db == nil {
		db = config.DB
	}
	return &UserService{db: db}
}

// Sync mirrors the identity carried by a token into the users table so other rows can
// reference it and notifications can be emailed.
func (s *UserService) Sync(ctx context.Context, p Principal) error {
	if p.UserID == 0 {
		return ErrAuthRequired
	}
	u := models.User{UserID: p.UserID, Email: p.Email, Name: p.Name, RoleID: p.RoleID}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "role_id", "update_at"}),
	}).Create(&u).Error
	return errors.Wrap(err, "sync user")
}

// Get returns one user.
func (s *UserService) Get(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load user")
	}
	return &u, nil
}
