package domain

import "time"

// AuditLog is a security event outside the login ledger (registration, logout, resets, profile changes).
type AuditLog struct {
	ID        string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  string // JSON object, may be empty
	CreatedAt time.Time
}
