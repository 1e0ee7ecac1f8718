package models

import (
	"strings"
	"time"
)

// UserRecord is a researcher's profile as held by the directory.
// Other records embed copies of it as snapshots taken at write time.
type UserRecord struct {
	ID          string    `json:"id" validate:"required"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	Email       string    `json:"email" validate:"omitempty,email"`
	Institution string    `json:"institution,omitempty"`
	Department  string    `json:"department,omitempty"`
	Role        string    `json:"role,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// FullName joins the first and last name, falling back to the id.
func (u UserRecord) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.ID
	}
	return name
}
