package repository

import (
	"context"
	"time"

	"registry-portal/backend/internal/refreshtoken/domain"
)

// Repository defines persistence for refresh tokens. All lookups are by token hash.
type Repository interface {
	Create(ctx context.Context, t *domain.RefreshToken) error
	// GetByHash returns the token with the given hash, or nil if not found.
	GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	// Revoke marks the token revoked if it is not already. Reports whether a row changed.
	Revoke(ctx context.Context, hash string, at time.Time) (bool, error)
	// RevokeAllByUser revokes every unrevoked token of the user and returns the count.
	RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int64, error)
	// ConsumeActive revokes the token only if it is unrevoked and unexpired at now, returning its user id.
	// ok is false when no row qualified.
	ConsumeActive(ctx context.Context, hash string, now time.Time) (userID string, ok bool, err error)
	// DeleteStale removes tokens that expired, or were revoked, before cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}
