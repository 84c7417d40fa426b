package middleware

import (
	"context"

	userdomain "registry-portal/backend/internal/user/domain"
)

type contextKey struct{ name string }

var (
	userKey   = contextKey{"user"}
	clientKey = contextKey{"client"}
)

// ClientInfo is where a request came from.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, u *userdomain.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFromContext returns the authenticated user and true if set.
func UserFromContext(ctx context.Context) (*userdomain.User, bool) {
	u, ok := ctx.Value(userKey).(*userdomain.User)
	return u, ok && u != nil
}

// WithClient returns a context carrying the client's IP and user agent.
func WithClient(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientKey, info)
}

// ClientFromContext returns the client info, or the zero value if unset.
func ClientFromContext(ctx context.Context) ClientInfo {
	info, _ := ctx.Value(clientKey).(ClientInfo)
	return info
}

// ClientIP returns the client IP stored by Client, or "" if unset.
func ClientIP(ctx context.Context) string {
	return ClientFromContext(ctx).IP
}
