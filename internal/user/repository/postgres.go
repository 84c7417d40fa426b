package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"registry-portal/backend/internal/db"
	"registry-portal/backend/internal/user/domain"
)

const userColumns = `id, email, password_hash, first_name, last_name, phone, role, permissions, is_active, created_at, updated_at`

// PostgresRepository stores users in the users table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user with the given email, or nil if not found.
// The lookup is case-insensitive.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = $1`, domain.NormalizeEmail(email))
	return scanUser(row)
}

// Create persists the user. The user must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	perms, err := json.Marshal(u.Permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	_, err = db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, domain.NormalizeEmail(u.Email), u.PasswordHash, u.FirstName, u.LastName, nullString(u.Phone),
		u.Role, perms, u.IsActive, u.CreatedAt, u.UpdatedAt,
	)
	if db.IsUniqueViolation(err) {
		return domain.ErrEmailTaken
	}
	return err
}

// UpdatePasswordHash replaces the user's password hash. Returns sql.ErrNoRows if the user does not exist.
func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		userID, hash, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

// UpdateProfile updates the profile fields of an existing user. Missing users are not an error.
func (r *PostgresRepository) UpdateProfile(ctx context.Context, u *domain.User) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE users SET first_name = $2, last_name = $3, phone = $4, updated_at = $5 WHERE id = $1`,
		u.ID, u.FirstName, u.LastName, nullString(u.Phone), u.UpdatedAt)
	return err
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var (
		u     domain.User
		phone sql.NullString
		perms []byte
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &phone,
		&u.Role, &perms, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Phone = phone.String
	u.Permissions = []string{}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &u.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions for user %s: %w", u.ID, err)
		}
	}
	return &u, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
