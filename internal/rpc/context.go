package rpc

import (
	"context"

	"github.com/staffhub/staffhub/internal/database"
)

type contextKey string

const (
	userContextKey contextKey = "user"
	ipContextKey   contextKey = "client_ip"
)

// WithUser returns a context carrying the authenticated user
func WithUser(ctx context.Context, u *database.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

// User returns the authenticated caller, or nil for anonymous calls
func User(ctx context.Context) *database.User {
	u, _ := ctx.Value(userContextKey).(*database.User)
	return u
}

// MustUser returns the authenticated caller. Only call it from procedures
// registered with a non-public access rule.
func MustUser(ctx context.Context) *database.User {
	u := User(ctx)
	if u == nil {
		panic("rpc: MustUser called without an authenticated user")
	}
	return u
}

// WithClientIP records the caller's address
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipContextKey, ip)
}

// ClientIP returns the caller's address if known
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(ipContextKey).(string)
	return ip
}
