package passwordreset

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"registry-portal/backend/internal/db"
	"registry-portal/backend/internal/passwordreset/repository"
	userrepo "registry-portal/backend/internal/user/repository"
)

func TestConsume_Postgres_SingleTransaction(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer sqlDB.Close()

	s := NewStore(repository.NewPostgresRepository(sqlDB), userrepo.NewPostgresRepository(sqlDB), db.SQLTransactor{DB: sqlDB}, time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE password_reset_tokens SET used = TRUE.*RETURNING user_id").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1"))
	mock.ExpectExec("UPDATE users SET password_hash").
		WithArgs("u1", "new-hash", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	userID, err := s.Consume(context.Background(), "raw-token", "new-hash")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if userID != "u1" {
		t.Errorf("userID = %q", userID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConsume_Postgres_RollbackWhenPasswordUpdateFails(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer sqlDB.Close()

	s := NewStore(repository.NewPostgresRepository(sqlDB), userrepo.NewPostgresRepository(sqlDB), db.SQLTransactor{DB: sqlDB}, time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE password_reset_tokens SET used = TRUE").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1"))
	mock.ExpectExec("UPDATE users SET password_hash").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	if _, err := s.Consume(context.Background(), "raw-token", "new-hash"); err == nil {
		t.Fatal("Consume should fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestIssue_Postgres_InvalidatesThenInserts(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer sqlDB.Close()

	s := NewStore(repository.NewPostgresRepository(sqlDB), userrepo.NewPostgresRepository(sqlDB), db.SQLTransactor{DB: sqlDB}, time.Hour)
	now := time.Now()

	mock.ExpectQuery("SELECT .* FROM users WHERE lower\\(email\\)").
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "first_name", "last_name", "phone", "role", "permissions", "is_active", "created_at", "updated_at"}).
			AddRow("u1", "alice@example.com", "h", "Alice", "", nil, "user", []byte(`[]`), true, now, now))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM users WHERE id = \\$1 FOR UPDATE").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("UPDATE password_reset_tokens SET used = TRUE, used_at = \\$2 WHERE user_id = \\$1 AND used = FALSE").
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO password_reset_tokens").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	raw, tok, err := s.Issue(context.Background(), "alice@example.com", "10.0.0.1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if raw == "" || tok.UserID != "u1" {
		t.Fatalf("Issue = %q, %+v", raw, tok)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestIssue_Postgres_LockFailureRollsBack(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer sqlDB.Close()

	repo := repository.NewPostgresRepository(sqlDB)
	s := NewStore(repo, userrepo.NewPostgresRepository(sqlDB), db.SQLTransactor{DB: sqlDB}, time.Hour)
	now := time.Now()

	mock.ExpectQuery("SELECT .* FROM users WHERE lower\\(email\\)").
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "first_name", "last_name", "phone", "role", "permissions", "is_active", "created_at", "updated_at"}).
			AddRow("u1", "alice@example.com", "h", "Alice", "", nil, "user", []byte(`[]`), true, now, now))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM users WHERE id = \\$1 FOR UPDATE").
		WithArgs("u1").
		WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	if _, _, err := s.Issue(context.Background(), "alice@example.com", "10.0.0.1"); err == nil {
		t.Fatal("Issue should fail when the user row cannot be locked")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
