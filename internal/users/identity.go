package users

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role enumerates the access levels recognised by the platform.
type Role string

const (
	RoleStudent    Role = "STUDENT"
	RoleInstructor Role = "INSTRUCTOR"
	RoleAdmin      Role = "ADMIN"
)

const maxIdentifierLength = 255

var (
	// ErrInvalidExternalID indicates that an external identifier is empty or exceeds storage bounds.
	ErrInvalidExternalID = errors.New("users: invalid external id")
	// ErrInvalidEmail indicates that an email address is empty or exceeds storage bounds.
	ErrInvalidEmail = errors.New("users: invalid email")
)

// AllRoles lists every role in ascending privilege order.
func AllRoles() []Role {
	return []Role{RoleStudent, RoleInstructor, RoleAdmin}
}

// String returns the stored representation of the role.
func (r Role) String() string {
	return string(r)
}

// Identity is the local record of a user issued by the external identity provider.
type Identity struct {
	ExternalID  string    `gorm:"column:external_id;primaryKey;size:255;not null"`
	Email       string    `gorm:"column:email;size:255;not null;uniqueIndex:idx_users_email"`
	DisplayName *string   `gorm:"column:display_name;size:255"`
	Role        Role      `gorm:"column:role;size:16;not null;default:STUDENT"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null"`
}

// TableName exposes the table backing identity records.
func (Identity) TableName() string {
	return "users"
}

// DisplayNameOrEmpty dereferences the nullable display name.
func (i Identity) DisplayNameOrEmpty() string {
	if i.DisplayName == nil {
		return ""
	}
	return *i.DisplayName
}

// IdentityUpdate carries the provider-owned fields that lifecycle updates may overwrite.
// Role is deliberately absent.
type IdentityUpdate struct {
	Email       string
	DisplayName *string
}

// NewExternalID validates a provider-issued user identifier.
func NewExternalID(rawInput string) (string, error) {
	trimmed := normalize(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidExternalID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidExternalID, maxIdentifierLength)
	}
	return trimmed, nil
}

// NewEmail validates an email address for storage.
func NewEmail(rawInput string) (string, error) {
	trimmed := normalize(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEmail)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidEmail, maxIdentifierLength)
	}
	return trimmed, nil
}

// ComposeDisplayName joins first and last names, returning nil when nothing remains.
func ComposeDisplayName(firstName, lastName string) *string {
	composed := normalize(normalize(firstName) + " " + normalize(lastName))
	if composed == "" {
		return nil
	}
	return &composed
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
