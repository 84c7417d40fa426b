// Package rbac guards administrative routes with the policy engine.
package rbac

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"registry-portal/backend/internal/policy/engine"
	"registry-portal/backend/internal/server/middleware"
)

// Actions checked by the admin routes.
const (
	ActionRevokeSessions    = "sessions:revoke"
	ActionReadLoginAttempts = "login_attempts:read"
)

// RequirePermission allows the request only when authorizer permits the authenticated caller to
// perform action. ownerParam names the route parameter holding the target user id; it may be empty.
// It must run after middleware.RequireAuth. No caller → 401, denied → 403, evaluation error → 500.
func RequirePermission(authorizer engine.Authorizer, action, ownerParam string) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := middleware.UserFromContext(c.Request.Context())
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
			return
		}
		req := engine.Request{
			Subject: engine.Subject{UserID: u.ID, Role: u.Role, Permissions: u.Permissions},
			Action:  action,
		}
		if ownerParam != "" {
			req.OwnerID = strings.TrimSpace(c.Param(ownerParam))
		}
		allowed, err := authorizer.Allow(c.Request.Context(), req)
		if err != nil {
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}
		c.Next()
	}
}
