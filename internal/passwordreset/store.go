// Package passwordreset manages single-use, time-limited password reset tokens.
package passwordreset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"registry-portal/backend/internal/db"
	"registry-portal/backend/internal/passwordreset/domain"
	"registry-portal/backend/internal/passwordreset/repository"
	"registry-portal/backend/internal/security"
	userdomain "registry-portal/backend/internal/user/domain"
)

var (
	// ErrUserNotFound is returned by Issue when no identity has the email.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidOrExpired is returned by Consume when the token is unknown, used, superseded or expired.
	ErrInvalidOrExpired = errors.New("invalid or expired reset token")
)

// Users is the part of the credential store the reset flow needs.
type Users interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
}

// Store owns the reset token rows and keeps at most one live token per user.
type Store struct {
	repo  repository.Repository
	users Users
	tx    db.Transactor
	ttl   time.Duration
	now   func() time.Time
}

// NewStore returns a Store issuing tokens valid for ttl.
func NewStore(repo repository.Repository, users Users, tx db.Transactor, ttl time.Duration) *Store {
	return &Store{repo: repo, users: users, tx: tx, ttl: ttl, now: time.Now}
}

// Issue supersedes the user's outstanding tokens and creates a new one, returning its raw value.
func (s *Store) Issue(ctx context.Context, email, sourceIP string) (string, *domain.ResetToken, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", nil, err
	}
	if u == nil {
		return "", nil, ErrUserNotFound
	}
	raw, hash, err := security.NewOpaqueToken()
	if err != nil {
		return "", nil, fmt.Errorf("generate reset token: %w", err)
	}
	now := s.now().UTC()
	t := &domain.ResetToken{
		ID:        uuid.New().String(),
		UserID:    u.ID,
		TokenHash: hash,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
		SourceIP:  sourceIP,
	}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.InvalidateUnused(ctx, u.ID, now); err != nil {
			return err
		}
		return s.repo.Create(ctx, t)
	})
	if err != nil {
		return "", nil, fmt.Errorf("issue reset token: %w", err)
	}
	return raw, t, nil
}

// Consume marks raw used and sets the user's password hash in one transaction.
// Either both happen or neither does. Returns the user id on success.
func (s *Store) Consume(ctx context.Context, raw, newPasswordHash string) (string, error) {
	if raw == "" {
		return "", ErrInvalidOrExpired
	}
	var userID string
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		id, ok, err := s.repo.ConsumeActive(ctx, security.HashToken(raw), s.now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidOrExpired
		}
		if err := s.users.UpdatePasswordHash(ctx, id, newPasswordHash); err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		userID = id
		return nil
	})
	if err != nil {
		return "", err
	}
	return userID, nil
}

// Sweep deletes tokens that expired or were used more than grace ago.
func (s *Store) Sweep(ctx context.Context, grace time.Duration) (int64, error) {
	return s.repo.DeleteStale(ctx, s.now().UTC().Add(-grace))
}
