package repository

import (
	"context"
	"time"

	"registry-portal/backend/internal/loginattempt/domain"
)

// Repository defines persistence for login attempts. Rows are never updated.
type Repository interface {
	Create(ctx context.Context, a *domain.Attempt) error
	// CountFailures counts failed attempts from sourceIP since the given time. A non-empty email narrows the count.
	CountFailures(ctx context.Context, sourceIP, email string, since time.Time) (int, error)
	// ListRecent returns the newest attempts for email, newest first.
	ListRecent(ctx context.Context, email string, limit int) ([]*domain.Attempt, error)
	// DeleteBefore removes attempts created before cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
