// Package notify delivers password reset tokens to their owners.
package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"registry-portal/backend/internal/logging"
)

// Notifier delivers a raw reset token to email. Implementations must not log the token.
type Notifier interface {
	SendPasswordReset(ctx context.Context, email, rawToken string, expiresAt time.Time) error
}

// LogNotifier records that a reset was requested without any outbound delivery. Used until a mail
// provider is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.OrNop(logger)}
}

// SendPasswordReset logs the request; the token is never written.
func (n *LogNotifier) SendPasswordReset(_ context.Context, email, rawToken string, expiresAt time.Time) error {
	if rawToken == "" {
		return errors.New("notify: empty reset token")
	}
	n.logger.Info("password reset token issued",
		zap.String("email", email),
		zap.Time("expires_at", expiresAt))
	return nil
}

// Multi sends to every notifier and joins the errors.
type Multi []Notifier

// SendPasswordReset implements Notifier.
func (m Multi) SendPasswordReset(ctx context.Context, email, rawToken string, expiresAt time.Time) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.SendPasswordReset(ctx, email, rawToken, expiresAt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
