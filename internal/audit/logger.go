// Package audit records security events that are not login attempts. Writes are best-effort.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"registry-portal/backend/internal/audit/domain"
	auditrepo "registry-portal/backend/internal/audit/repository"
	"registry-portal/backend/internal/ids"
	"registry-portal/backend/internal/logging"
)

// Actions recorded by the auth service.
const (
	ActionRegister        = "register"
	ActionLogout          = "logout"
	ActionSessionsRevoked = "sessions_revoked"
	ActionResetRequested  = "password_reset_requested"
	ActionPasswordReset   = "password_reset"
	ActionProfileUpdated  = "profile_updated"
)

// Resources the actions apply to.
const (
	ResourceUser    = "user"
	ResourceSession = "session"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event with explicit action/resource.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource string, metadata map[string]string)
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	logger      *zap.Logger
	now         func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, logger *zap.Logger) *Logger {
	return &Logger{repo: repo, ipExtractor: ipExtractor, logger: logging.OrNop(logger), now: time.Now}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, userID, action, resource string, metadata map[string]string) {
	if l == nil || l.repo == nil {
		return
	}
	ip := ""
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	if ip == "" {
		ip = "unknown"
	}
	var meta string
	if len(metadata) > 0 {
		if b, err := json.Marshal(metadata); err == nil {
			meta = string(b)
		}
	}
	now := l.now().UTC()
	entry := &domain.AuditLog{
		ID:        ids.NewAt(now),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  meta,
		CreatedAt: now,
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.logger.Warn("audit: failed to log event",
			zap.String("action", action),
			zap.String("resource", resource),
			zap.Error(err))
	}
}
