package domain

import "time"

// ResetToken is a single-use password reset token. Only the hash of the raw value is stored.
type ResetToken struct {
	ID        string
	UserID    string
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time // nil until consumed or superseded
	SourceIP  string
}

// Usable reports whether the token is unused and unexpired at now.
func (t *ResetToken) Usable(now time.Time) bool {
	return !t.Used && t.ExpiresAt.After(now)
}
