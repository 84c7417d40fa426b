package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"registry-portal/backend/internal/security"
	userdomain "registry-portal/backend/internal/user/domain"
)

const bearerPrefix = "bearer "

// TokenVerifier verifies access tokens.
type TokenVerifier interface {
	VerifyAccess(token string) (*security.AccessClaims, error)
}

// UserLoader re-reads the live identity for the token subject.
type UserLoader interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// RequireAuth validates the Bearer access token, then loads the user so role, permissions and
// is_active reflect the store rather than the token. Missing, invalid, unknown or inactive → 401.
func RequireAuth(tokens TokenVerifier, users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
			return
		}
		claims, err := tokens.VerifyAccess(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
			return
		}
		u, err := users.GetByID(c.Request.Context(), claims.Subject)
		if err != nil {
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if u == nil || !u.IsActive {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
			return
		}
		c.Request = c.Request.WithContext(WithUser(c.Request.Context(), u))
		c.Next()
	}
}

// extractBearer returns the token from an Authorization header value, or "" if missing or malformed.
func extractBearer(header string) string {
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
