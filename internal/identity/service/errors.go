package service

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the auth service; the HTTP handler maps them to status codes.
var (
	ErrEmailAlreadyRegistered     = errors.New("email already registered")
	ErrInvalidCredentials         = errors.New("invalid credentials")
	ErrInvalidRefreshToken        = errors.New("invalid or expired refresh token")
	ErrTooManyAttempts            = errors.New("too many attempts")
	ErrUserNotFound               = errors.New("user not found")
	ErrInvalidOrExpiredResetToken = errors.New("invalid or expired token")
	ErrInactive                   = errors.New("account is inactive")
	ErrInvalidInput               = errors.New("invalid input")
)

// RetryError is returned when the source IP is locked out. It matches ErrTooManyAttempts.
type RetryError struct {
	RetryAfter time.Duration
}

func (e *RetryError) Error() string { return ErrTooManyAttempts.Error() }

func (e *RetryError) Unwrap() error { return ErrTooManyAttempts }

func invalidInput(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
