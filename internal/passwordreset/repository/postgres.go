package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"registry-portal/backend/internal/db"
	"registry-portal/backend/internal/passwordreset/domain"
)

// PostgresRepository stores reset tokens in the password_reset_tokens table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a reset token repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the token.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.ResetToken) error {
	sourceIP := sql.NullString{String: t.SourceIP, Valid: t.SourceIP != ""}
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO password_reset_tokens (id, user_id, token_hash, issued_at, expires_at, used, source_ip)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.UserID, t.TokenHash, t.IssuedAt, t.ExpiresAt, t.Used, sourceIP)
	return err
}

// InvalidateUnused supersedes every outstanding token of userID. It first locks the user row so
// concurrent issuers for the same user run one after another; the UPDATE then sees the token a
// previous issuer committed. Call it inside the transaction that inserts the replacement.
func (r *PostgresRepository) InvalidateUnused(ctx context.Context, userID string, at time.Time) (int64, error) {
	conn := db.Conn(ctx, r.db)
	var locked int
	if err := conn.QueryRowContext(ctx,
		`SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, userID,
	).Scan(&locked); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("lock user: %w", err)
	}
	res, err := conn.ExecContext(ctx,
		`UPDATE password_reset_tokens SET used = TRUE, used_at = $2 WHERE user_id = $1 AND used = FALSE`,
		userID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ConsumeActive is the conditional update that makes consumption single-use under concurrency.
func (r *PostgresRepository) ConsumeActive(ctx context.Context, hash string, now time.Time) (string, bool, error) {
	var userID string
	err := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`UPDATE password_reset_tokens SET used = TRUE, used_at = $2
		 WHERE token_hash = $1 AND used = FALSE AND expires_at > $2
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

// DeleteStale deletes tokens expired before cutoff or used before cutoff.
func (r *PostgresRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`DELETE FROM password_reset_tokens WHERE expires_at < $1 OR (used AND used_at < $1)`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
