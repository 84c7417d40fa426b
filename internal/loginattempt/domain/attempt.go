package domain

import "time"

// Status is the outcome of an authentication attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusBlocked Status = "blocked"
)

// Failure reasons recorded with StatusFailed.
const (
	ReasonUserNotFound        = "user_not_found"
	ReasonInvalidPassword     = "invalid_password"
	ReasonInactive            = "inactive"
	ReasonTimeout             = "timeout"
	ReasonInvalidRefreshToken = "invalid_refresh_token"
	ReasonRateLimited         = "rate_limited"
)

// Attempt is one row of the append-only login attempt ledger.
type Attempt struct {
	ID            string
	Email         string
	SourceIP      string
	UserAgent     string
	Status        Status
	UserID        string
	FailureReason string
	CreatedAt     time.Time
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusBlocked:
		return true
	}
	return false
}
