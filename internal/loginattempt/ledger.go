// Package loginattempt is the append-only ledger of authentication attempts used for auditing and IP lockout.
package loginattempt

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"registry-portal/backend/internal/ids"
	"registry-portal/backend/internal/logging"
	"registry-portal/backend/internal/loginattempt/domain"
	"registry-portal/backend/internal/loginattempt/repository"
	"registry-portal/backend/internal/telemetry"
)

// Ledger records attempts and answers failure-count queries.
type Ledger struct {
	repo    repository.Repository
	emitter telemetry.EventEmitter
	logger  *zap.Logger
	now     func() time.Time
}

// NewLedger returns a Ledger. emitter may be nil to disable auth events.
func NewLedger(repo repository.Repository, emitter telemetry.EventEmitter, logger *zap.Logger) *Ledger {
	return &Ledger{repo: repo, emitter: emitter, logger: logging.OrNop(logger), now: time.Now}
}

// Record appends a. Storage failures are logged and never reach the caller.
func (l *Ledger) Record(ctx context.Context, a domain.Attempt) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = l.now().UTC()
	}
	if a.ID == "" {
		a.ID = ids.NewAt(a.CreatedAt)
	}
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	if a.Status != domain.StatusFailed {
		a.FailureReason = ""
	}
	if err := l.repo.Create(ctx, &a); err != nil {
		l.logger.Warn("login attempt not recorded",
			zap.String("status", string(a.Status)),
			zap.String("source_ip", a.SourceIP),
			zap.String("reason", a.FailureReason),
			zap.Error(err))
		return
	}
	telemetry.EmitAsync(l.emitter, ctx, &telemetry.Event{
		Type:      telemetry.EventLoginAttempt,
		UserID:    a.UserID,
		Email:     a.Email,
		SourceIP:  a.SourceIP,
		Status:    string(a.Status),
		Reason:    a.FailureReason,
		CreatedAt: a.CreatedAt,
	})
}

// CountFailures counts failed attempts from sourceIP within the trailing window. A non-empty email
// narrows the count to that email.
func (l *Ledger) CountFailures(ctx context.Context, sourceIP, email string, window time.Duration) (int, error) {
	since := l.now().UTC().Add(-window)
	return l.repo.CountFailures(ctx, sourceIP, strings.ToLower(strings.TrimSpace(email)), since)
}

// Recent returns the newest attempts for email.
func (l *Ledger) Recent(ctx context.Context, email string, limit int) ([]*domain.Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	return l.repo.ListRecent(ctx, strings.ToLower(strings.TrimSpace(email)), limit)
}

// Cleanup deletes attempts older than daysToKeep days and returns how many were removed.
func (l *Ledger) Cleanup(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep <= 0 {
		return 0, nil
	}
	cutoff := l.now().UTC().AddDate(0, 0, -daysToKeep)
	return l.repo.DeleteBefore(ctx, cutoff)
}
