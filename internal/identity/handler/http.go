// Package handler exposes the auth service over HTTP (gin).
package handler

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"registry-portal/backend/internal/devmailbox"
	"registry-portal/backend/internal/identity/service"
	attemptdomain "registry-portal/backend/internal/loginattempt/domain"
	"registry-portal/backend/internal/logging"
	"registry-portal/backend/internal/server/middleware"
	userdomain "registry-portal/backend/internal/user/domain"
)

const resetAckMessage = "if the email is registered, a reset link has been sent"

// Auth is the part of service.AuthService the handler calls.
type Auth interface {
	Register(ctx context.Context, in service.RegisterInput, meta service.Meta) (*service.Session, error)
	Authenticate(ctx context.Context, email, password string, meta service.Meta) (*service.Session, error)
	Refresh(ctx context.Context, rawRefresh string, meta service.Meta) (*service.Session, error)
	Logout(ctx context.Context, rawRefresh string) error
	RevokeAllSessions(ctx context.Context, userID string) (int64, error)
	ForgotPassword(ctx context.Context, email, sourceIP string) (string, error)
	ResetPassword(ctx context.Context, rawToken, newPassword string) error
	UpdateProfile(ctx context.Context, userID string, in service.ProfileUpdate) (*userdomain.User, error)
	LoginHistory(ctx context.Context, userID string, limit int) ([]*attemptdomain.Attempt, error)
}

// AuthHandler serves the /auth routes.
type AuthHandler struct {
	auth    Auth
	devMode bool
	mailbox devmailbox.Store
	logger  *zap.Logger
}

// NewAuthHandler returns an AuthHandler. In devMode, forgot-password echoes the reset token and
// unknown emails answer 404; mailbox may be nil outside dev mode.
func NewAuthHandler(auth Auth, devMode bool, mailbox devmailbox.Store, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, devMode: devMode, mailbox: mailbox, logger: logging.OrNop(logger)}
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type profileRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
}

type profileResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	Phone       string    `json:"phone,omitempty"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toProfile(u *userdomain.User) profileResponse {
	perms := u.Permissions
	if perms == nil {
		perms = []string{}
	}
	return profileResponse{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Phone:       u.Phone,
		Name:        u.Name(),
		Role:        u.Role,
		Permissions: perms,
		CreatedAt:   u.CreatedAt,
	}
}

type attemptResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	SourceIP      string    `json:"sourceIp"`
	UserAgent     string    `json:"userAgent"`
	Status        string    `json:"status"`
	UserID        string    `json:"userId,omitempty"`
	FailureReason string    `json:"failureReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toAttempts(in []*attemptdomain.Attempt) []attemptResponse {
	out := make([]attemptResponse, 0, len(in))
	for _, a := range in {
		out = append(out, attemptResponse{
			ID:            a.ID,
			Email:         a.Email,
			SourceIP:      a.SourceIP,
			UserAgent:     a.UserAgent,
			Status:        string(a.Status),
			UserID:        a.UserID,
			FailureReason: a.FailureReason,
			CreatedAt:     a.CreatedAt,
		})
	}
	return out
}

func meta(c *gin.Context) service.Meta {
	info := middleware.ClientFromContext(c.Request.Context())
	if info.IP == "" {
		info.IP = c.ClientIP()
	}
	return service.Meta{SourceIP: info.IP, UserAgent: info.UserAgent}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	session, err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	}, meta(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	session, err := h.auth.Authenticate(c.Request.Context(), req.Email, req.Password, meta(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// Refresh handles POST /auth/refresh. An absent token is passed through so the service records
// the failure.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// A missing or malformed body is a failed refresh, recorded like any other.
		req.RefreshToken = ""
	}
	session, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken, meta(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// Logout handles POST /auth/logout. It succeeds regardless of the token's validity.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshRequest
	_ = c.ShouldBindJSON(&req)
	if err := h.auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		h.logger.Warn("logout failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ForgotPassword handles POST /auth/forgot-password. Outside dev mode the answer does not reveal
// whether the email is registered.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}
	raw, err := h.auth.ForgotPassword(c.Request.Context(), req.Email, meta(c).SourceIP)
	if errors.Is(err, service.ErrUserNotFound) && !h.devMode {
		err = nil
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	if h.devMode {
		c.JSON(http.StatusOK, gin.H{"success": true, "resetToken": raw})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": resetAckMessage})
}

// ResetPassword handles POST /auth/reset-password.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.auth.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Profile handles GET /auth/profile.
func (h *AuthHandler) Profile(c *gin.Context) {
	u, ok := middleware.UserFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
		return
	}
	c.JSON(http.StatusOK, toProfile(u))
}

// UpdateProfile handles PUT /auth/profile.
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	u, ok := middleware.UserFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
		return
	}
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	updated, err := h.auth.UpdateProfile(c.Request.Context(), u.ID, service.ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProfile(updated))
}

// RevokeMySessions handles POST /auth/sessions/revoke-all for the caller.
func (h *AuthHandler) RevokeMySessions(c *gin.Context) {
	u, ok := middleware.UserFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
		return
	}
	h.revokeAll(c, u.ID)
}

// RevokeUserSessions handles POST /admin/users/:id/sessions/revoke. Authorization is enforced by
// the route's policy middleware.
func (h *AuthHandler) RevokeUserSessions(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user id is required"})
		return
	}
	h.revokeAll(c, userID)
}

// UserLoginAttempts handles GET /admin/users/:id/login-attempts?limit=, newest first.
func (h *AuthHandler) UserLoginAttempts(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user id is required"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	attempts, err := h.auth.LoginHistory(c.Request.Context(), userID, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": toAttempts(attempts)})
}

func (h *AuthHandler) revokeAll(c *gin.Context, userID string) {
	n, err := h.auth.RevokeAllSessions(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "revoked": n})
}

// DevResetToken handles GET /dev/reset-token?email= in dev mode.
func (h *AuthHandler) DevResetToken(c *gin.Context) {
	if !h.devMode || h.mailbox == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}
	token, ok := h.mailbox.Get(c.Request.Context(), email)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no reset token for email"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resetToken": token})
}

// writeError maps service errors to status codes. Unknown errors are logged and answered with 500.
func (h *AuthHandler) writeError(c *gin.Context, err error) {
	var retry *service.RetryError
	switch {
	case errors.As(err, &retry):
		secs := int(math.Ceil(retry.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts"})
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrEmailAlreadyRegistered):
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrInactive):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, service.ErrInvalidRefreshToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
	case errors.Is(err, service.ErrInvalidOrExpiredResetToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired token"})
	case errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "request timed out"})
	default:
		h.logger.Error("auth request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
