// Package server assembles the HTTP router and the gRPC server.
package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	healthhandler "registry-portal/backend/internal/health/handler"
	identityhandler "registry-portal/backend/internal/identity/handler"
	"registry-portal/backend/internal/metrics"
	"registry-portal/backend/internal/platform/rbac"
	"registry-portal/backend/internal/policy/engine"
	"registry-portal/backend/internal/server/middleware"
)

// RouterDeps are the handlers and collaborators of the HTTP API. Metrics and IPLimiter are optional.
type RouterDeps struct {
	ServiceName    string
	Auth           *identityhandler.AuthHandler
	Health         *healthhandler.Server
	Metrics        *metrics.Metrics
	Tokens         middleware.TokenVerifier
	Users          middleware.UserLoader
	Authorizer     engine.Authorizer
	IPLimiter      *middleware.IPRateLimiter
	RequestTimeout time.Duration
	DevMode        bool
	Logger         *zap.Logger
}

// NewRouter wires gin routes and middleware.
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(otelgin.Middleware(deps.ServiceName))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware())
	}
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.Client())

	r.GET("/healthz", deps.Health.Liveness)
	r.GET("/readyz", deps.Health.Readiness)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := r.Group("")
	if deps.IPLimiter != nil {
		api.Use(deps.IPLimiter.Handler())
	}
	api.Use(middleware.Timeout(deps.RequestTimeout))
	requireAuth := middleware.RequireAuth(deps.Tokens, deps.Users)

	auth := api.Group("/auth")
	{
		auth.POST("/register", deps.Auth.Register)
		auth.POST("/login", deps.Auth.Login)
		auth.POST("/refresh", deps.Auth.Refresh)
		auth.POST("/logout", deps.Auth.Logout)
		auth.POST("/forgot-password", deps.Auth.ForgotPassword)
		auth.POST("/reset-password", deps.Auth.ResetPassword)

		auth.GET("/profile", requireAuth, deps.Auth.Profile)
		auth.PUT("/profile", requireAuth, deps.Auth.UpdateProfile)
		auth.POST("/sessions/revoke-all", requireAuth, deps.Auth.RevokeMySessions)
	}

	admin := api.Group("/admin", requireAuth)
	{
		admin.POST("/users/:id/sessions/revoke",
			rbac.RequirePermission(deps.Authorizer, rbac.ActionRevokeSessions, "id"),
			deps.Auth.RevokeUserSessions)
		admin.GET("/users/:id/login-attempts",
			rbac.RequirePermission(deps.Authorizer, rbac.ActionReadLoginAttempts, ""),
			deps.Auth.UserLoginAttempts)
	}

	if deps.DevMode {
		api.GET("/dev/reset-token", deps.Auth.DevResetToken)
	}
	return r
}
