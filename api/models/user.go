// api/models/user.go
package models

import (
	"fmt"
	"time"
)

// User roles
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// DefaultAdminID is the ID of the administrator seeded into a new fleet
const DefaultAdminID = "admin-001"

// User is a dashboard operator account
type User struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Email   string    `json:"email"`
	Role    string    `json:"role"`
	Created time.Time `json:"created"`
}

// UserPatch carries the editable fields of a user
type UserPatch struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
	Role  *string `json:"role,omitempty"`
}

// DefaultAdmin returns the administrator every fleet starts with
func DefaultAdmin(created time.Time) *User {
	return &User{
		ID:      DefaultAdminID,
		Name:    "Administrator",
		Email:   "admin@fleet3d.local",
		Role:    RoleAdmin,
		Created: created,
	}
}

// Apply merges a patch into the user
func (p *UserPatch) Apply(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
}

// Validate checks the fields a user patch may change
func (p *UserPatch) Validate() error {
	if p.Name != nil && *p.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if p.Email != nil && *p.Email == "" {
		return fmt.Errorf("email must not be empty")
	}
	if p.Role != nil && !IsValidRole(*p.Role) {
		return fmt.Errorf("invalid role %q", *p.Role)
	}
	return nil
}

// UserID formats the sequential user identifier
func UserID(seq int) string {
	return fmt.Sprintf("user-%03d", seq)
}

// IsValidRole checks if a user role is valid
func IsValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	}
	return false
}
