// Package ratelimit gates login attempts per source IP using the attempt ledger plus an atomic
// reservation counter, so concurrent bursts cannot exceed the failure budget.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"registry-portal/backend/internal/logging"
)

// ErrBlocked is matched by every *BlockedError.
var ErrBlocked = errors.New("too many failed attempts")

// BlockedError is returned by Acquire when the IP is over its budget.
type BlockedError struct {
	RetryAfter time.Duration
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("too many failed attempts; retry after %s", e.RetryAfter.Round(time.Second))
}

// Is reports whether target is ErrBlocked.
func (e *BlockedError) Is(target error) bool { return target == ErrBlocked }

// FailureCounter counts recent failures. Implemented by the login attempt ledger.
type FailureCounter interface {
	CountFailures(ctx context.Context, sourceIP, email string, window time.Duration) (int, error)
}

// Config holds the lockout policy.
type Config struct {
	MaxFailures int
	Window      time.Duration
}

// Limiter decides whether an IP may attempt to authenticate.
type Limiter struct {
	failures FailureCounter
	counter  Counter
	config   Config
	logger   *zap.Logger
}

// New returns a Limiter. counter may be nil for ledger-only gating.
func New(failures FailureCounter, counter Counter, cfg Config, logger *zap.Logger) *Limiter {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	return &Limiter{failures: failures, counter: counter, config: cfg, logger: logging.OrNop(logger)}
}

// Window returns the configured lockout window.
func (l *Limiter) Window() time.Duration { return l.config.Window }

// IsBlocked reports whether sourceIP has reached the failure budget in the ledger. Ledger errors fail open.
func (l *Limiter) IsBlocked(ctx context.Context, sourceIP string) bool {
	n, err := l.failures.CountFailures(ctx, sourceIP, "", l.config.Window)
	if err != nil {
		l.logger.Warn("rate limit: failure count unavailable", zap.String("source_ip", sourceIP), zap.Error(err))
		return false
	}
	return n >= l.config.MaxFailures
}

// Acquire must be called before verifying credentials. It returns a *BlockedError when the IP is
// over budget; otherwise a Reservation that the caller settles with Release or Keep.
func (l *Limiter) Acquire(ctx context.Context, sourceIP string) (*Reservation, error) {
	if l.IsBlocked(ctx, sourceIP) {
		return nil, &BlockedError{RetryAfter: l.config.Window}
	}
	r := &Reservation{limiter: l, key: sourceIP}
	if l.counter == nil {
		return r, nil
	}
	g, err := l.counter.Reserve(ctx, sourceIP, l.config.MaxFailures, l.config.Window)
	if err != nil {
		l.logger.Warn("rate limit: reservation counter unavailable; ledger-only gating",
			zap.String("source_ip", sourceIP), zap.Error(err))
		return r, nil
	}
	if !g.OK {
		retryAfter := g.RetryAfter
		if retryAfter <= 0 {
			retryAfter = l.config.Window
		}
		return nil, &BlockedError{RetryAfter: retryAfter}
	}
	r.windowID = g.WindowID
	r.held = true
	return r, nil
}

// Reservation is one in-flight attempt's claim on the IP budget.
type Reservation struct {
	limiter  *Limiter
	key      string
	windowID string
	held     bool
}

// Release returns the reservation. Call it when the attempt succeeded or ended for a reason other
// than bad credentials. Safe to call on a nil or settled reservation. A release arriving after the
// reservation's window ended is dropped.
func (r *Reservation) Release(ctx context.Context) {
	if r == nil || !r.held {
		return
	}
	r.held = false
	if err := r.limiter.counter.Release(ctx, r.key, r.windowID); err != nil {
		r.limiter.logger.Warn("rate limit: release failed", zap.String("source_ip", r.key), zap.Error(err))
	}
}

// Keep settles a failed attempt: the reservation stays counted until the window ends.
func (r *Reservation) Keep() {
	if r != nil {
		r.held = false
	}
}
