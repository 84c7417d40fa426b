package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"registry-portal/backend/internal/db"
	"registry-portal/backend/internal/refreshtoken/domain"
)

// PostgresRepository stores refresh tokens in the refresh_tokens table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a refresh token repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the token.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, issued_at, expires_at, revoked, source_ip, user_agent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.UserID, t.TokenHash, t.IssuedAt, t.ExpiresAt, t.Revoked, nullString(t.SourceIP), nullString(t.UserAgent))
	return err
}

// GetByHash returns the token for hash, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	var (
		t                   domain.RefreshToken
		revokedAt           sql.NullTime
		sourceIP, userAgent sql.NullString
	)
	err := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, issued_at, expires_at, revoked, revoked_at, source_ip, user_agent
		 FROM refresh_tokens WHERE token_hash = $1`, hash,
	).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.IssuedAt, &t.ExpiresAt, &t.Revoked, &revokedAt, &sourceIP, &userAgent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if revokedAt.Valid {
		at := revokedAt.Time
		t.RevokedAt = &at
	}
	t.SourceIP = sourceIP.String
	t.UserAgent = userAgent.String
	return &t, nil
}

// Revoke sets revoked and revoked_at when the token is not already revoked.
func (r *PostgresRepository) Revoke(ctx context.Context, hash string, at time.Time) (bool, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE token_hash = $1 AND revoked = FALSE`,
		hash, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RevokeAllByUser revokes every unrevoked token of userID.
func (r *PostgresRepository) RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`,
		userID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ConsumeActive is the conditional revoke used by rotation. Concurrent callers racing on the
// same hash are serialized by the row lock; only the first sees a returned row.
func (r *PostgresRepository) ConsumeActive(ctx context.Context, hash string, now time.Time) (string, bool, error) {
	var userID string
	err := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2
		 WHERE token_hash = $1 AND revoked = FALSE AND expires_at > $2
		 RETURNING user_id`, hash, now,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return userID, true, nil
}

// DeleteStale deletes tokens expired before cutoff or revoked before cutoff.
func (r *PostgresRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < $1 OR (revoked AND revoked_at < $1)`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
