package domain

import (
	"errors"
	"strings"
	"time"
)

// User is the core identity: credentials, profile and the role/permission set read by authorization.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Phone        string // optional
	Role         string
	Permissions  []string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ErrEmailTaken is returned by the repository when the email is already registered.
var ErrEmailTaken = errors.New("email already registered")

// NormalizeEmail trims and lower-cases email. Stored emails are always normalized.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Name returns the display name assembled from first and last name.
func (u *User) Name() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// HasPermission reports whether the user's permission set contains p.
func (u *User) HasPermission(p string) bool {
	for _, have := range u.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if u.Role == "" {
		return errors.New("role is required")
	}
	if u.Permissions == nil {
		u.Permissions = []string{}
	}
	return nil
}
