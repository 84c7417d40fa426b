package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registry-portal/backend/internal/devmailbox"
	"registry-portal/backend/internal/identity/service"
	attemptdomain "registry-portal/backend/internal/loginattempt/domain"
	"registry-portal/backend/internal/server/middleware"
	userdomain "registry-portal/backend/internal/user/domain"
)

type fakeAuth struct {
	err        error
	session    *service.Session
	resetToken string
	lastMeta   service.Meta
	lastUserID string
	logoutRaw  string
	refreshRaw []string
	lastLimit  int
	history    []*attemptdomain.Attempt
}

func (f *fakeAuth) Register(ctx context.Context, in service.RegisterInput, meta service.Meta) (*service.Session, error) {
	f.lastMeta = meta
	return f.session, f.err
}

func (f *fakeAuth) Authenticate(ctx context.Context, email, password string, meta service.Meta) (*service.Session, error) {
	f.lastMeta = meta
	return f.session, f.err
}

func (f *fakeAuth) Refresh(ctx context.Context, rawRefresh string, meta service.Meta) (*service.Session, error) {
	f.refreshRaw = append(f.refreshRaw, rawRefresh)
	if rawRefresh == "" {
		return nil, service.ErrInvalidRefreshToken
	}
	return f.session, f.err
}

func (f *fakeAuth) Logout(ctx context.Context, rawRefresh string) error {
	f.logoutRaw = rawRefresh
	return f.err
}

func (f *fakeAuth) RevokeAllSessions(ctx context.Context, userID string) (int64, error) {
	f.lastUserID = userID
	return 3, f.err
}

func (f *fakeAuth) ForgotPassword(ctx context.Context, email, sourceIP string) (string, error) {
	return f.resetToken, f.err
}

func (f *fakeAuth) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	return f.err
}

func (f *fakeAuth) UpdateProfile(ctx context.Context, userID string, in service.ProfileUpdate) (*userdomain.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &userdomain.User{ID: userID, Email: "alice@example.com", FirstName: in.FirstName, LastName: in.LastName, Role: "user"}, nil
}

func (f *fakeAuth) LoginHistory(ctx context.Context, userID string, limit int) ([]*attemptdomain.Attempt, error) {
	f.lastUserID = userID
	f.lastLimit = limit
	return f.history, f.err
}

var testUser = &userdomain.User{ID: "u1", Email: "alice@example.com", FirstName: "Alice", Role: "user", IsActive: true}

// withUser stands in for RequireAuth.
func withUser(c *gin.Context) {
	c.Request = c.Request.WithContext(middleware.WithUser(c.Request.Context(), testUser))
	c.Next()
}

func newRouter(h *AuthHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Client())
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/refresh", h.Refresh)
	r.POST("/auth/logout", h.Logout)
	r.POST("/auth/forgot-password", h.ForgotPassword)
	r.POST("/auth/reset-password", h.ResetPassword)
	r.GET("/auth/profile", withUser, h.Profile)
	r.PUT("/auth/profile", withUser, h.UpdateProfile)
	r.POST("/auth/sessions/revoke-all", withUser, h.RevokeMySessions)
	r.POST("/admin/users/:id/sessions/revoke", h.RevokeUserSessions)
	r.GET("/admin/users/:id/login-attempts", h.UserLoginAttempts)
	r.GET("/dev/reset-token", h.DevResetToken)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "handler-test")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func testSession() *service.Session {
	return &service.Session{
		Token:        "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(15 * time.Minute),
		User:         service.SessionUser{ID: "u1", Email: "alice@example.com", Role: "user", Permissions: []string{}},
	}
}

func TestRegister(t *testing.T) {
	auth := &fakeAuth{session: testSession()}
	r := newRouter(NewAuthHandler(auth, false, nil, nil))

	w := do(r, http.MethodPost, "/auth/register", `{"email":"alice@example.com","password":"Passw0rd!","firstName":"Alice"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, "access", body["token"])
	assert.Equal(t, "refresh", body["refreshToken"])
	assert.Equal(t, "handler-test", auth.lastMeta.UserAgent)
	assert.NotEmpty(t, auth.lastMeta.SourceIP)

	auth.err = service.ErrEmailAlreadyRegistered
	w = do(r, http.MethodPost, "/auth/register", `{"email":"alice@example.com","password":"Passw0rd!"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	auth.err = errors.Join(service.ErrInvalidInput, errors.New("invalid email format"))
	w = do(r, http.MethodPost, "/auth/register", `{"email":"x","password":"Passw0rd!"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/auth/register", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogin_ErrorMapping(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"invalid credentials", service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid credentials"},
		{"inactive", service.ErrInactive, http.StatusUnauthorized, "invalid credentials"},
		{"internal", errors.New("db down"), http.StatusInternalServerError, "internal error"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "request timed out"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRouter(NewAuthHandler(&fakeAuth{err: tc.err}, false, nil, nil))
			w := do(r, http.MethodPost, "/auth/login", `{"email":"a@example.com","password":"x"}`)
			assert.Equal(t, tc.wantStatus, w.Code)
			assert.Equal(t, tc.wantError, decode(t, w)["error"])
		})
	}
}

func TestLogin_TooManyAttempts(t *testing.T) {
	auth := &fakeAuth{err: &service.RetryError{RetryAfter: 90500 * time.Millisecond}}
	r := newRouter(NewAuthHandler(auth, false, nil, nil))
	w := do(r, http.MethodPost, "/auth/login", `{"email":"a@example.com","password":"x"}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "91", w.Header().Get("Retry-After"))
}

func TestLogin_Success(t *testing.T) {
	r := newRouter(NewAuthHandler(&fakeAuth{session: testSession()}, false, nil, nil))
	w := do(r, http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"Passw0rd!"}`)
	require.Equal(t, http.StatusOK, w.Code)
	user, ok := decode(t, w)["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "u1", user["id"])
}

func TestRefresh(t *testing.T) {
	auth := &fakeAuth{session: testSession()}
	r := newRouter(NewAuthHandler(auth, false, nil, nil))

	w := do(r, http.MethodPost, "/auth/refresh", `{"refreshToken":"r"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	auth.err = service.ErrInvalidRefreshToken
	w = do(r, http.MethodPost, "/auth/refresh", `{"refreshToken":"r"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefresh_MissingTokenReachesService(t *testing.T) {
	auth := &fakeAuth{session: testSession()}
	r := newRouter(NewAuthHandler(auth, false, nil, nil))

	for _, body := range []string{`{}`, `{"refreshToken":""}`, ``, `not json`} {
		w := do(r, http.MethodPost, "/auth/refresh", body)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "body %q", body)
		assert.Equal(t, "invalid or expired refresh token", decode(t, w)["error"])
	}
	assert.Equal(t, []string{"", "", "", ""}, auth.refreshRaw)
}

func TestUserLoginAttempts(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	auth := &fakeAuth{history: []*attemptdomain.Attempt{
		{ID: "a2", Email: "alice@example.com", SourceIP: "10.0.0.1", Status: attemptdomain.StatusSuccess, UserID: "u1", CreatedAt: at},
		{ID: "a1", Email: "alice@example.com", SourceIP: "10.0.0.1", Status: attemptdomain.StatusFailed, UserID: "u1", FailureReason: attemptdomain.ReasonInvalidPassword, CreatedAt: at.Add(-time.Minute)},
	}}
	r := newRouter(NewAuthHandler(auth, false, nil, nil))

	w := do(r, http.MethodGet, "/admin/users/u1/login-attempts?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", auth.lastUserID)
	assert.Equal(t, 5, auth.lastLimit)
	attempts, ok := decode(t, w)["attempts"].([]any)
	require.True(t, ok)
	require.Len(t, attempts, 2)
	first := attempts[0].(map[string]any)
	assert.Equal(t, "a2", first["id"])
	assert.Equal(t, "success", first["status"])
	assert.Nil(t, first["failureReason"])
	assert.Equal(t, "invalid_password", attempts[1].(map[string]any)["failureReason"])

	w = do(r, http.MethodGet, "/admin/users/u1/login-attempts", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, auth.lastLimit)

	w = do(r, http.MethodGet, "/admin/users/u1/login-attempts?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	auth.err = service.ErrUserNotFound
	w = do(r, http.MethodGet, "/admin/users/missing/login-attempts", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLogout_AlwaysSucceeds(t *testing.T) {
	auth := &fakeAuth{err: errors.New("storage down")}
	r := newRouter(NewAuthHandler(auth, false, nil, nil))
	for _, body := range []string{`{"refreshToken":"r1"}`, `{}`, ``} {
		w := do(r, http.MethodPost, "/auth/logout", body)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, decode(t, w)["success"])
	}
}

func TestForgotPassword_Production(t *testing.T) {
	auth := &fakeAuth{resetToken: "raw-reset"}
	r := newRouter(NewAuthHandler(auth, false, nil, nil))

	w := do(r, http.MethodPost, "/auth/forgot-password", `{"email":"alice@example.com"}`)
	require.Equal(t, http.StatusOK, w.Code)
	known := decode(t, w)
	assert.NotContains(t, w.Body.String(), "raw-reset")

	auth.err = service.ErrUserNotFound
	w = do(r, http.MethodPost, "/auth/forgot-password", `{"email":"nobody@example.com"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, known, decode(t, w), "known and unknown emails must get the same answer")

	w = do(r, http.MethodPost, "/auth/forgot-password", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestForgotPassword_DevMode(t *testing.T) {
	auth := &fakeAuth{resetToken: "raw-reset"}
	r := newRouter(NewAuthHandler(auth, true, devmailbox.NewMemoryStore(), nil))

	w := do(r, http.MethodPost, "/auth/forgot-password", `{"email":"alice@example.com"}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "raw-reset", body["resetToken"])

	auth.err = service.ErrUserNotFound
	w = do(r, http.MethodPost, "/auth/forgot-password", `{"email":"nobody@example.com"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResetPassword(t *testing.T) {
	auth := &fakeAuth{}
	r := newRouter(NewAuthHandler(auth, false, nil, nil))

	w := do(r, http.MethodPost, "/auth/reset-password", `{"token":"t","newPassword":"N3wPassword!"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	auth.err = service.ErrInvalidOrExpiredResetToken
	w = do(r, http.MethodPost, "/auth/reset-password", `{"token":"t","newPassword":"N3wPassword!"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid or expired token", decode(t, w)["error"])
}

func TestProfile(t *testing.T) {
	r := newRouter(NewAuthHandler(&fakeAuth{}, false, nil, nil))

	w := do(r, http.MethodGet, "/auth/profile", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "u1", body["id"])
	assert.Equal(t, "Alice", body["name"])
	assert.NotContains(t, w.Body.String(), "passwordHash")

	w = do(r, http.MethodPut, "/auth/profile", `{"firstName":"Alicia","lastName":"L"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Alicia L", decode(t, w)["name"])
}

func TestRevokeSessions(t *testing.T) {
	auth := &fakeAuth{}
	r := newRouter(NewAuthHandler(auth, false, nil, nil))

	w := do(r, http.MethodPost, "/auth/sessions/revoke-all", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", auth.lastUserID)
	assert.Equal(t, float64(3), decode(t, w)["revoked"])

	w = do(r, http.MethodPost, "/admin/users/u2/sessions/revoke", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u2", auth.lastUserID)
}

func TestDevResetToken(t *testing.T) {
	mailbox := devmailbox.NewMemoryStore()
	mailbox.Put(context.Background(), "alice@example.com", "tok", time.Now().Add(time.Hour))

	r := newRouter(NewAuthHandler(&fakeAuth{}, true, mailbox, nil))
	w := do(r, http.MethodGet, "/dev/reset-token?email=alice@example.com", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tok", decode(t, w)["resetToken"])

	w = do(r, http.MethodGet, "/dev/reset-token?email=bob@example.com", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/dev/reset-token", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	prod := newRouter(NewAuthHandler(&fakeAuth{}, false, mailbox, nil))
	w = do(prod, http.MethodGet, "/dev/reset-token?email=alice@example.com", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
