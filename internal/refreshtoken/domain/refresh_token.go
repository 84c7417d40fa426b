package domain

import "time"

// RefreshToken is a persisted refresh token. Only the SHA-256 hash of the raw value is stored.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
	RevokedAt *time.Time // nil when not revoked
	SourceIP  string
	UserAgent string
}

// Active reports whether the token is neither revoked nor expired at now.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && t.ExpiresAt.After(now)
}
