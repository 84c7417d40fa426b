package repository

import (
	"context"
	"time"

	"registry-portal/backend/internal/passwordreset/domain"
)

// Repository defines persistence for password reset tokens.
type Repository interface {
	Create(ctx context.Context, t *domain.ResetToken) error
	// InvalidateUnused marks every unused token of the user as used and returns the count.
	InvalidateUnused(ctx context.Context, userID string, at time.Time) (int64, error)
	// ConsumeActive marks the token used only if it is unused and unexpired at now, returning its user id.
	ConsumeActive(ctx context.Context, hash string, now time.Time) (userID string, ok bool, err error)
	// DeleteStale removes tokens that expired, or were used, before cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}
