package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"registry-portal/backend/internal/refreshtoken/domain"
)

func newMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return NewPostgresRepository(sqlDB), mock
}

func TestCreateAndGetByHash(t *testing.T) {
	repo, mock := newMock(t)
	ctx := context.Background()
	now := time.Now().UTC()
	tok := &domain.RefreshToken{ID: "t1", UserID: "u1", TokenHash: "h1", IssuedAt: now, ExpiresAt: now.Add(time.Hour), SourceIP: "10.0.0.1"}

	mock.ExpectExec("INSERT INTO refresh_tokens").
		WithArgs("t1", "u1", "h1", now, now.Add(time.Hour), false, "10.0.0.1", nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := repo.Create(ctx, tok); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mock.ExpectQuery("SELECT .* FROM refresh_tokens WHERE token_hash = \\$1").
		WithArgs("h1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "token_hash", "issued_at", "expires_at", "revoked", "revoked_at", "source_ip", "user_agent"}).
			AddRow("t1", "u1", "h1", now, now.Add(time.Hour), true, now, "10.0.0.1", nil))
	got, err := repo.GetByHash(ctx, "h1")
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if got == nil || !got.Revoked || got.RevokedAt == nil || got.SourceIP != "10.0.0.1" || got.UserAgent != "" {
		t.Fatalf("GetByHash = %+v", got)
	}

	mock.ExpectQuery("SELECT .* FROM refresh_tokens").WithArgs("missing").WillReturnError(sql.ErrNoRows)
	if got, err := repo.GetByHash(ctx, "missing"); err != nil || got != nil {
		t.Fatalf("GetByHash missing = %+v, %v", got, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConsumeActive(t *testing.T) {
	repo, mock := newMock(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectQuery("UPDATE refresh_tokens SET revoked = TRUE.*AND revoked = FALSE AND expires_at > \\$2.*RETURNING user_id").
		WithArgs("h1", now).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1"))
	userID, ok, err := repo.ConsumeActive(ctx, "h1", now)
	if err != nil || !ok || userID != "u1" {
		t.Fatalf("ConsumeActive = %q, %v, %v", userID, ok, err)
	}

	mock.ExpectQuery("UPDATE refresh_tokens SET revoked = TRUE").
		WithArgs("h1", now).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
	_, ok, err = repo.ConsumeActive(ctx, "h1", now)
	if err != nil || ok {
		t.Fatalf("second ConsumeActive ok=%v err=%v, want not ok", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRevokeAndSweep(t *testing.T) {
	repo, mock := newMock(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = \\$2 WHERE token_hash = \\$1 AND revoked = FALSE").
		WithArgs("h1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	changed, err := repo.Revoke(ctx, "h1", now)
	if err != nil || changed {
		t.Fatalf("Revoke = %v, %v", changed, err)
	}

	mock.ExpectExec("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = \\$2 WHERE user_id = \\$1").
		WithArgs("u1", now).
		WillReturnResult(sqlmock.NewResult(0, 3))
	n, err := repo.RevokeAllByUser(ctx, "u1", now)
	if err != nil || n != 3 {
		t.Fatalf("RevokeAllByUser = %d, %v", n, err)
	}

	mock.ExpectExec("DELETE FROM refresh_tokens WHERE expires_at < \\$1 OR \\(revoked AND revoked_at < \\$1\\)").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 5))
	n, err = repo.DeleteStale(ctx, now)
	if err != nil || n != 5 {
		t.Fatalf("DeleteStale = %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
