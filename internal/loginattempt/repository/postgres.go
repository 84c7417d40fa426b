package repository

import (
	"context"
	"database/sql"
	"time"

	"registry-portal/backend/internal/db"
	"registry-portal/backend/internal/loginattempt/domain"
)

// PostgresRepository stores attempts in the login_attempts table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a login attempt repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create appends the attempt.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Attempt) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO login_attempts (id, email, source_ip, user_agent, status, user_id, failure_reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, nullString(a.Email), a.SourceIP, nullString(a.UserAgent), string(a.Status),
		nullString(a.UserID), nullString(a.FailureReason), a.CreatedAt)
	return err
}

// CountFailures counts failed attempts for sourceIP (and email, when set) created at or after since.
func (r *PostgresRepository) CountFailures(ctx context.Context, sourceIP, email string, since time.Time) (int, error) {
	var n int
	var err error
	if email == "" {
		err = db.Conn(ctx, r.db).QueryRowContext(ctx,
			`SELECT COUNT(*) FROM login_attempts
			 WHERE source_ip = $1 AND status = 'failed' AND created_at >= $2`,
			sourceIP, since).Scan(&n)
	} else {
		err = db.Conn(ctx, r.db).QueryRowContext(ctx,
			`SELECT COUNT(*) FROM login_attempts
			 WHERE source_ip = $1 AND email = $2 AND status = 'failed' AND created_at >= $3`,
			sourceIP, email, since).Scan(&n)
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ListRecent returns up to limit attempts for email ordered by created_at descending.
func (r *PostgresRepository) ListRecent(ctx context.Context, email string, limit int) ([]*domain.Attempt, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT id, email, source_ip, user_agent, status, user_id, failure_reason, created_at
		 FROM login_attempts WHERE email = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		email, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Attempt
	for rows.Next() {
		var (
			a      domain.Attempt
			status string
		)
		var emailCol, userAgent, userID, reason sql.NullString
		if err := rows.Scan(&a.ID, &emailCol, &a.SourceIP, &userAgent, &status, &userID, &reason, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Email = emailCol.String
		a.UserAgent = userAgent.String
		a.Status = domain.Status(status)
		a.UserID = userID.String
		a.FailureReason = reason.String
		out = append(out, &a)
	}
	return out, rows.Err()
}

// DeleteBefore deletes attempts created before cutoff.
func (r *PostgresRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`DELETE FROM login_attempts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
