// Package refreshtoken issues, validates, rotates and revokes opaque refresh tokens.
package refreshtoken

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"registry-portal/backend/internal/db"
	"registry-portal/backend/internal/refreshtoken/domain"
	"registry-portal/backend/internal/refreshtoken/repository"
	"registry-portal/backend/internal/security"
)

// ErrInvalidToken is returned when a refresh token is unknown, revoked or expired.
var ErrInvalidToken = errors.New("invalid refresh token")

// Client describes where a token was requested from. Both fields are optional.
type Client struct {
	SourceIP  string
	UserAgent string
}

// Store owns the refresh token rows. Callers never write them directly.
type Store struct {
	repo repository.Repository
	tx   db.Transactor
	ttl  time.Duration
	now  func() time.Time
}

// NewStore returns a Store issuing tokens valid for ttl.
func NewStore(repo repository.Repository, tx db.Transactor, ttl time.Duration) *Store {
	return &Store{repo: repo, tx: tx, ttl: ttl, now: time.Now}
}

// Issue creates a token for userID and returns the raw value. Only its hash is persisted.
func (s *Store) Issue(ctx context.Context, userID string, client Client) (string, *domain.RefreshToken, error) {
	raw, hash, err := security.NewOpaqueToken()
	if err != nil {
		return "", nil, fmt.Errorf("generate refresh token: %w", err)
	}
	now := s.now().UTC()
	t := &domain.RefreshToken{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: hash,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
		SourceIP:  client.SourceIP,
		UserAgent: client.UserAgent,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return "", nil, fmt.Errorf("store refresh token: %w", err)
	}
	return raw, t, nil
}

// Validate returns the token row if raw is known, unrevoked and unexpired; otherwise ErrInvalidToken.
func (s *Store) Validate(ctx context.Context, raw string) (*domain.RefreshToken, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}
	t, err := s.repo.GetByHash(ctx, security.HashToken(raw))
	if err != nil {
		return nil, err
	}
	if t == nil || !t.Active(s.now()) {
		return nil, ErrInvalidToken
	}
	return t, nil
}

// Revoke marks raw revoked. Unknown or already revoked tokens are not an error.
func (s *Store) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	_, err := s.repo.Revoke(ctx, security.HashToken(raw), s.now().UTC())
	return err
}

// RevokeAll revokes every live token of userID and returns how many were revoked.
func (s *Store) RevokeAll(ctx context.Context, userID string) (int64, error) {
	return s.repo.RevokeAllByUser(ctx, userID, s.now().UTC())
}

// Rotate revokes raw and issues its replacement in one transaction. Exactly one of several
// concurrent rotations of the same token succeeds; the others get ErrInvalidToken.
func (s *Store) Rotate(ctx context.Context, raw string, client Client) (string, *domain.RefreshToken, error) {
	if raw == "" {
		return "", nil, ErrInvalidToken
	}
	var (
		newRaw string
		issued *domain.RefreshToken
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		userID, ok, err := s.repo.ConsumeActive(ctx, security.HashToken(raw), s.now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidToken
		}
		newRaw, issued, err = s.Issue(ctx, userID, client)
		return err
	})
	if err != nil {
		return "", nil, err
	}
	return newRaw, issued, nil
}

// Sweep deletes tokens that expired or were revoked more than grace ago.
func (s *Store) Sweep(ctx context.Context, grace time.Duration) (int64, error) {
	return s.repo.DeleteStale(ctx, s.now().UTC().Add(-grace))
}
