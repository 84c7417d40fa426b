package telemetry

import "time"

// Event types emitted by the auth service.
const (
	EventLoginAttempt    = "login_attempt"
	EventRegister        = "register"
	EventLogout          = "logout"
	EventSessionsRevoked = "sessions_revoked"
	EventResetRequested  = "password_reset_requested"
	EventPasswordReset   = "password_reset"
	EventRefreshRotated  = "refresh_rotated"
	EventProfileUpdated  = "profile_updated"
)

// Event is a security event shipped to the event pipeline (Kafka, OTel logs).
// It never carries passwords or raw tokens.
type Event struct {
	Type      string    `json:"eventType"`
	UserID    string    `json:"userId,omitempty"`
	Email     string    `json:"email,omitempty"`
	SourceIP  string    `json:"sourceIp,omitempty"`
	Status    string    `json:"status,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
