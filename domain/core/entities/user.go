package entities

import (
	"time"

	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

// User belongs to exactly one institution. Users are deactivated, never deleted.
type User struct {
	ID            string    `json:"userId"`
	InstitutionID string    `json:"institutionId"`
	Role          Role      `json:"role"`
	DisplayName   string    `json:"displayName"`
	Active        bool      `json:"active"`
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// NewUser creates an active user.
func NewUser(id, institutionID string, role Role, displayName string, now time.Time) *User {
	return &User{
		ID:            id,
		InstitutionID: institutionID,
		Role:          role,
		DisplayName:   displayName,
		Active:        true,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ChangeRole assigns a new role to an active user.
func (u *User) ChangeRole(role Role, now time.Time) error {
	if !u.Active {
		return pkgerrors.NewPreconditionError(pkgerrors.CodeUserInactive, "user is deactivated")
	}
	u.Role = role
	u.Version++
	u.UpdatedAt = now
	return nil
}

// Deactivate disables the user.
func (u *User) Deactivate(now time.Time) error {
	if !u.Active {
		return pkgerrors.NewPreconditionError(pkgerrors.CodeUserInactive, "user is already deactivated")
	}
	u.Active = false
	u.Version++
	u.UpdatedAt = now
	return nil
}
