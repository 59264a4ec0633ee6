package services

import "nextcompete-api/models"

// Principal is the authenticated caller of a request. It is passed explicitly into every
// operation; nothing reads identity from package state.
type Principal struct {
	UserID uint
	Email  string
	Name   string
	RoleID int
}

func (p Principal) IsAdmin() bool { return p.RoleID == models.RoleAdmin }

// Organizes reports whether p may manage competition c.
func (p Principal) Organizes(c models.Competition) bool {
	return p.IsAdmin() || (p.UserID != 0 && c.OrganizerID == p.UserID)
}
