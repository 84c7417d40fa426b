// Package service implements the auth orchestrator: register, login, refresh, logout and the
// password reset flow over the credential, token and ledger stores.
package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"registry-portal/backend/internal/audit"
	"registry-portal/backend/internal/logging"
	attemptdomain "registry-portal/backend/internal/loginattempt/domain"
	"registry-portal/backend/internal/metrics"
	"registry-portal/backend/internal/notify"
	"registry-portal/backend/internal/passwordreset"
	resetdomain "registry-portal/backend/internal/passwordreset/domain"
	"registry-portal/backend/internal/ratelimit"
	"registry-portal/backend/internal/refreshtoken"
	refreshdomain "registry-portal/backend/internal/refreshtoken/domain"
	"registry-portal/backend/internal/security"
	"registry-portal/backend/internal/telemetry"
	userdomain "registry-portal/backend/internal/user/domain"
)

const (
	// timeoutRecordBudget bounds the detached write of a timed-out login attempt.
	timeoutRecordBudget = 2 * time.Second
	maxHistoryLimit     = 100
)

// UserRepo is the credential store needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	UpdateProfile(ctx context.Context, u *userdomain.User) error
}

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password []byte) (string, error)
	Compare(hash string, password []byte) error
	CompareDummy(password []byte)
}

// AccessIssuer signs access tokens.
type AccessIssuer interface {
	IssueAccess(principal security.Principal) (string, time.Time, error)
}

// RefreshStore is the refresh token store.
type RefreshStore interface {
	Issue(ctx context.Context, userID string, client refreshtoken.Client) (string, *refreshdomain.RefreshToken, error)
	Validate(ctx context.Context, raw string) (*refreshdomain.RefreshToken, error)
	Revoke(ctx context.Context, raw string) error
	RevokeAll(ctx context.Context, userID string) (int64, error)
	Rotate(ctx context.Context, raw string, client refreshtoken.Client) (string, *refreshdomain.RefreshToken, error)
}

// ResetStore is the password reset token store.
type ResetStore interface {
	Issue(ctx context.Context, email, sourceIP string) (string, *resetdomain.ResetToken, error)
	Consume(ctx context.Context, raw, newPasswordHash string) (string, error)
}

// AttemptRecorder appends to the login attempt ledger. Record never fails the caller.
type AttemptRecorder interface {
	Record(ctx context.Context, a attemptdomain.Attempt)
}

// AttemptHistory reads back the login attempt ledger.
type AttemptHistory interface {
	Recent(ctx context.Context, email string, limit int) ([]*attemptdomain.Attempt, error)
}

// Gate admits login attempts per source IP.
type Gate interface {
	Acquire(ctx context.Context, sourceIP string) (*ratelimit.Reservation, error)
}

// Deps are the collaborators of AuthService. History, Audit, Events, Notifier, Metrics and Logger are
// optional.
type Deps struct {
	Users    UserRepo
	Hasher   PasswordHasher
	Tokens   AccessIssuer
	Refresh  RefreshStore
	Resets   ResetStore
	Attempts AttemptRecorder
	History  AttemptHistory
	Gate     Gate
	Audit    audit.AuditLogger
	Events   telemetry.EventEmitter
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Config holds the defaults applied to new accounts.
type Config struct {
	DefaultRole        string
	DefaultPermissions []string
}

// Meta describes the client of a request. Both fields are optional.
type Meta struct {
	SourceIP  string
	UserAgent string
}

func (m Meta) empty() bool { return m.SourceIP == "" && m.UserAgent == "" }

func (m Meta) client() refreshtoken.Client {
	return refreshtoken.Client{SourceIP: m.SourceIP, UserAgent: m.UserAgent}
}

// SessionUser is the identity summary returned with a session.
type SessionUser struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// Session is the result of register, login and refresh.
type Session struct {
	Token        string      `json:"token"`
	RefreshToken string      `json:"refreshToken"`
	ExpiresAt    time.Time   `json:"expiresAt"`
	User         SessionUser `json:"user"`
}

// RegisterInput is the payload of Register.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
}

// ProfileUpdate replaces the editable profile fields.
type ProfileUpdate struct {
	FirstName string
	LastName  string
	Phone     string
}

// AuthService coordinates the auth flows.
type AuthService struct {
	users    UserRepo
	hasher   PasswordHasher
	tokens   AccessIssuer
	refresh  RefreshStore
	resets   ResetStore
	attempts AttemptRecorder
	history  AttemptHistory
	gate     Gate
	audit    audit.AuditLogger
	events   telemetry.EventEmitter
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	config   Config
	now      func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(deps Deps, cfg Config) *AuthService {
	if cfg.DefaultRole == "" {
		cfg.DefaultRole = "user"
	}
	return &AuthService{
		users:    deps.Users,
		hasher:   deps.Hasher,
		tokens:   deps.Tokens,
		refresh:  deps.Refresh,
		resets:   deps.Resets,
		attempts: deps.Attempts,
		history:  deps.History,
		gate:     deps.Gate,
		audit:    deps.Audit,
		events:   deps.Events,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   logging.OrNop(deps.Logger),
		config:   cfg,
		now:      time.Now,
	}
}

// Register creates an identity with the default role and permissions and signs it in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, meta Meta) (*Session, error) {
	email := userdomain.NormalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	firstName := strings.TrimSpace(in.FirstName)
	lastName := strings.TrimSpace(in.LastName)
	phone := strings.TrimSpace(in.Phone)
	if err := validateProfile(firstName, lastName, phone); err != nil {
		return nil, err
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.metrics.AuthOutcome("register", "conflict")
		return nil, ErrEmailAlreadyRegistered
	}
	hashed, err := s.hasher.Hash([]byte(in.Password))
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &userdomain.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hashed,
		FirstName:    firstName,
		LastName:     lastName,
		Phone:        phone,
		Role:         s.config.DefaultRole,
		Permissions:  append([]string{}, s.config.DefaultPermissions...),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, userdomain.ErrEmailTaken) {
			s.metrics.AuthOutcome("register", "conflict")
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, err
	}
	session, err := s.issueSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}
	if !meta.empty() {
		s.record(ctx, attemptdomain.StatusSuccess, "", user.Email, user.ID, meta)
	}
	s.logAudit(ctx, user.ID, audit.ActionRegister, audit.ResourceUser, nil)
	s.emit(ctx, telemetry.EventRegister, user, meta)
	s.metrics.AuthOutcome("register", "success")
	return session, nil
}

// Authenticate is the full password login. Every path writes exactly one ledger entry. Callers only
// see ErrInvalidCredentials or a *RetryError for rejected attempts.
func (s *AuthService) Authenticate(ctx context.Context, email, password string, meta Meta) (*Session, error) {
	email = userdomain.NormalizeEmail(email)
	reservation, err := s.gate.Acquire(ctx, meta.SourceIP)
	if err != nil {
		var blocked *ratelimit.BlockedError
		if errors.As(err, &blocked) {
			s.record(ctx, attemptdomain.StatusBlocked, "", email, "", meta)
			s.metrics.AuthOutcome("login", "blocked")
			return nil, &RetryError{RetryAfter: blocked.RetryAfter}
		}
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		reservation.Release(ctx)
		return nil, s.loginError(ctx, err, email, "", meta)
	}
	if user == nil {
		s.hasher.CompareDummy([]byte(password))
		if ctx.Err() != nil {
			reservation.Release(ctx)
			return nil, s.loginError(ctx, ctx.Err(), email, "", meta)
		}
		reservation.Keep()
		s.record(ctx, attemptdomain.StatusFailed, attemptdomain.ReasonUserNotFound, email, "", meta)
		s.metrics.AuthOutcome("login", "failed")
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		if ctx.Err() != nil {
			reservation.Release(ctx)
			return nil, s.loginError(ctx, ctx.Err(), email, user.ID, meta)
		}
		reservation.Keep()
		s.record(ctx, attemptdomain.StatusFailed, attemptdomain.ReasonInvalidPassword, email, user.ID, meta)
		s.metrics.AuthOutcome("login", "failed")
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		reservation.Keep()
		s.record(ctx, attemptdomain.StatusFailed, attemptdomain.ReasonInactive, email, user.ID, meta)
		s.metrics.AuthOutcome("login", "failed")
		return nil, ErrInvalidCredentials
	}
	reservation.Release(ctx)
	session, err := s.Login(ctx, user, meta)
	if err != nil {
		return nil, s.loginError(ctx, err, email, user.ID, meta)
	}
	return session, nil
}

// loginError records a timeout on a detached context when ctx expired, and returns err unchanged.
// Other storage errors are not credential failures and leave no ledger entry.
func (s *AuthService) loginError(ctx context.Context, err error, email, userID string, meta Meta) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeoutRecordBudget)
		defer cancel()
		s.record(recordCtx, attemptdomain.StatusFailed, attemptdomain.ReasonTimeout, email, userID, meta)
		s.metrics.AuthOutcome("login", "timeout")
		return err
	}
	s.logger.Error("login failed", zap.String("email", email), zap.Error(err))
	s.metrics.AuthOutcome("login", "error")
	return err
}

// Login issues a session for a user whose credentials were already verified and records the success.
func (s *AuthService) Login(ctx context.Context, user *userdomain.User, meta Meta) (*Session, error) {
	session, err := s.issueSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}
	s.record(ctx, attemptdomain.StatusSuccess, "", user.Email, user.ID, meta)
	s.metrics.AuthOutcome("login", "success")
	return session, nil
}

// Refresh rotates a refresh token and issues a new access token. The presented token is revoked;
// replaying it fails with ErrInvalidRefreshToken.
func (s *AuthService) Refresh(ctx context.Context, rawRefresh string, meta Meta) (*Session, error) {
	rawRefresh = strings.TrimSpace(rawRefresh)
	current, err := s.refresh.Validate(ctx, rawRefresh)
	if err != nil {
		if errors.Is(err, refreshtoken.ErrInvalidToken) {
			return nil, s.refreshFailed(ctx, "", "", meta)
		}
		return nil, err
	}
	user, err := s.users.GetByID(ctx, current.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		return nil, s.refreshFailed(ctx, "", current.UserID, meta)
	}
	newRaw, _, err := s.refresh.Rotate(ctx, rawRefresh, meta.client())
	if err != nil {
		if errors.Is(err, refreshtoken.ErrInvalidToken) {
			return nil, s.refreshFailed(ctx, user.Email, user.ID, meta)
		}
		return nil, err
	}
	access, expiresAt, err := s.tokens.IssueAccess(principal(user))
	if err != nil {
		return nil, err
	}
	s.metrics.TokenIssued("access")
	s.metrics.TokenIssued("refresh")
	s.record(ctx, attemptdomain.StatusSuccess, "", user.Email, user.ID, meta)
	s.emit(ctx, telemetry.EventRefreshRotated, user, meta)
	s.metrics.AuthOutcome("refresh", "success")
	return newSession(user, access, newRaw, expiresAt), nil
}

func (s *AuthService) refreshFailed(ctx context.Context, email, userID string, meta Meta) error {
	s.record(ctx, attemptdomain.StatusFailed, attemptdomain.ReasonInvalidRefreshToken, email, userID, meta)
	s.metrics.AuthOutcome("refresh", "failed")
	return ErrInvalidRefreshToken
}

// Logout revokes the refresh token. Unknown or revoked tokens are not an error; storage errors are logged.
func (s *AuthService) Logout(ctx context.Context, rawRefresh string) error {
	rawRefresh = strings.TrimSpace(rawRefresh)
	if rawRefresh == "" {
		return nil
	}
	current, err := s.refresh.Validate(ctx, rawRefresh)
	if err != nil && !errors.Is(err, refreshtoken.ErrInvalidToken) {
		s.logger.Warn("logout: token lookup failed", zap.Error(err))
	}
	if err := s.refresh.Revoke(ctx, rawRefresh); err != nil {
		s.logger.Warn("logout: revoke failed", zap.Error(err))
		return nil
	}
	if current != nil {
		s.logAudit(ctx, current.UserID, audit.ActionLogout, audit.ResourceSession, nil)
		telemetry.EmitAsync(s.events, ctx, &telemetry.Event{Type: telemetry.EventLogout, UserID: current.UserID, Status: "success"})
	}
	s.metrics.AuthOutcome("logout", "success")
	return nil
}

// RevokeAllSessions revokes every refresh token of userID and returns how many were revoked.
func (s *AuthService) RevokeAllSessions(ctx context.Context, userID string) (int64, error) {
	n, err := s.refresh.RevokeAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.logAudit(ctx, userID, audit.ActionSessionsRevoked, audit.ResourceSession, map[string]string{"count": strconv.FormatInt(n, 10)})
	telemetry.EmitAsync(s.events, ctx, &telemetry.Event{Type: telemetry.EventSessionsRevoked, UserID: userID, Status: "success"})
	s.metrics.AuthOutcome("revoke_all", "success")
	return n, nil
}

// ForgotPassword issues a reset token for email and hands it to the notifier. It returns the raw
// token so development setups can echo it; ErrUserNotFound is returned for unknown emails.
func (s *AuthService) ForgotPassword(ctx context.Context, email, sourceIP string) (string, error) {
	email = userdomain.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return "", err
	}
	raw, token, err := s.resets.Issue(ctx, email, sourceIP)
	if err != nil {
		if errors.Is(err, passwordreset.ErrUserNotFound) {
			s.metrics.AuthOutcome("forgot_password", "unknown_email")
			return "", ErrUserNotFound
		}
		return "", err
	}
	s.metrics.TokenIssued("reset")
	if s.notifier != nil {
		if err := s.notifier.SendPasswordReset(ctx, email, raw, token.ExpiresAt); err != nil {
			s.logger.Warn("password reset notification failed", zap.String("email", email), zap.Error(err))
		}
	}
	s.logAudit(ctx, token.UserID, audit.ActionResetRequested, audit.ResourceUser, nil)
	telemetry.EmitAsync(s.events, ctx, &telemetry.Event{
		Type:     telemetry.EventResetRequested,
		UserID:   token.UserID,
		Email:    email,
		SourceIP: sourceIP,
		Status:   "success",
	})
	s.metrics.AuthOutcome("forgot_password", "success")
	return raw, nil
}

// ResetPassword sets a new password using a reset token and revokes every session of the user.
// The new password is hashed before the consuming transaction starts.
func (s *AuthService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return ErrInvalidOrExpiredResetToken
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	hashed, err := s.hasher.Hash([]byte(newPassword))
	if err != nil {
		return err
	}
	userID, err := s.resets.Consume(ctx, rawToken, hashed)
	if err != nil {
		if errors.Is(err, passwordreset.ErrInvalidOrExpired) {
			s.metrics.AuthOutcome("reset_password", "failed")
			return ErrInvalidOrExpiredResetToken
		}
		return err
	}
	if _, err := s.refresh.RevokeAll(ctx, userID); err != nil {
		s.logger.Warn("reset password: revoking sessions failed", zap.String("user_id", userID), zap.Error(err))
	}
	s.logAudit(ctx, userID, audit.ActionPasswordReset, audit.ResourceUser, nil)
	telemetry.EmitAsync(s.events, ctx, &telemetry.Event{Type: telemetry.EventPasswordReset, UserID: userID, Status: "success"})
	s.metrics.AuthOutcome("reset_password", "success")
	return nil
}

// Profile returns the identity for userID, or ErrUserNotFound.
func (s *AuthService) Profile(ctx context.Context, userID string) (*userdomain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// LoginHistory returns the newest ledger entries for the email of userID, newest first. A limit
// outside 1..100 means 100.
func (s *AuthService) LoginHistory(ctx context.Context, userID string, limit int) ([]*attemptdomain.Attempt, error) {
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.history == nil {
		return []*attemptdomain.Attempt{}, nil
	}
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	attempts, err := s.history.Recent(ctx, user.Email, limit)
	if err != nil {
		return nil, err
	}
	if attempts == nil {
		attempts = []*attemptdomain.Attempt{}
	}
	return attempts, nil
}

// UpdateProfile replaces the profile fields of userID and returns the updated identity.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, in ProfileUpdate) (*userdomain.User, error) {
	firstName := strings.TrimSpace(in.FirstName)
	lastName := strings.TrimSpace(in.LastName)
	phone := strings.TrimSpace(in.Phone)
	if err := validateProfile(firstName, lastName, phone); err != nil {
		return nil, err
	}
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	updated := *user
	updated.FirstName = firstName
	updated.LastName = lastName
	updated.Phone = phone
	updated.UpdatedAt = s.now().UTC()
	if err := s.users.UpdateProfile(ctx, &updated); err != nil {
		return nil, err
	}
	s.logAudit(ctx, userID, audit.ActionProfileUpdated, audit.ResourceUser, nil)
	telemetry.EmitAsync(s.events, ctx, &telemetry.Event{Type: telemetry.EventProfileUpdated, UserID: userID, Status: "success"})
	return &updated, nil
}

func (s *AuthService) issueSession(ctx context.Context, user *userdomain.User, meta Meta) (*Session, error) {
	access, expiresAt, err := s.tokens.IssueAccess(principal(user))
	if err != nil {
		return nil, err
	}
	refresh, _, err := s.refresh.Issue(ctx, user.ID, meta.client())
	if err != nil {
		return nil, err
	}
	s.metrics.TokenIssued("access")
	s.metrics.TokenIssued("refresh")
	return newSession(user, access, refresh, expiresAt), nil
}

func (s *AuthService) record(ctx context.Context, status attemptdomain.Status, reason, email, userID string, meta Meta) {
	if s.attempts == nil {
		return
	}
	s.attempts.Record(ctx, attemptdomain.Attempt{
		Email:         email,
		SourceIP:      meta.SourceIP,
		UserAgent:     meta.UserAgent,
		Status:        status,
		UserID:        userID,
		FailureReason: reason,
	})
}

func (s *AuthService) logAudit(ctx context.Context, userID, action, resource string, metadata map[string]string) {
	if s.audit != nil {
		s.audit.LogEvent(ctx, userID, action, resource, metadata)
	}
}

func (s *AuthService) emit(ctx context.Context, eventType string, user *userdomain.User, meta Meta) {
	telemetry.EmitAsync(s.events, ctx, &telemetry.Event{
		Type:     eventType,
		UserID:   user.ID,
		Email:    user.Email,
		SourceIP: meta.SourceIP,
		Status:   "success",
	})
}

func principal(u *userdomain.User) security.Principal {
	return security.Principal{UserID: u.ID, Email: u.Email, Role: u.Role}
}

func newSession(u *userdomain.User, access, refresh string, expiresAt time.Time) *Session {
	perms := u.Permissions
	if perms == nil {
		perms = []string{}
	}
	return &Session{
		Token:        access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
		User: SessionUser{
			ID:          u.ID,
			Email:       u.Email,
			Name:        u.Name(),
			Role:        u.Role,
			Permissions: perms,
		},
	}
}
