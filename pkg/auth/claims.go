// Package auth provides JWT-based authentication for chemforge-engine.
// It validates access tokens issued by the Supabase identity provider using JWKS endpoints.
package auth

import (
	"context"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
	// TokenKey is the context key for storing the raw JWT token string.
	TokenKey contextKey = "token"
)

// AppMetadata is the server-controlled part of a Supabase user.
// Only the service role can write it, so tenant binding and roles are read from here.
type AppMetadata struct {
	TenantID string   `json:"tenant_id,omitempty"`
	Role     string   `json:"role,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// Claims represents the JWT claims structure of a Supabase access token.
// It embeds RegisteredClaims for standard JWT fields (sub, iss, exp, etc.).
type Claims struct {
	jwt.RegisteredClaims
	Email       string      `json:"email,omitempty"`
	Role        string      `json:"role,omitempty"` // Postgres role, "authenticated" for users
	AppMetadata AppMetadata `json:"app_metadata"`
	SessionID   string      `json:"session_id,omitempty"`
}

// TenantID returns the tenant the token is bound to, or "" for platform users.
func (c *Claims) TenantID() string {
	return c.AppMetadata.TenantID
}

// HasRole reports whether app_metadata grants role.
func (c *Claims) HasRole(role string) bool {
	if role == "" {
		return false
	}
	return c.AppMetadata.Role == role || slices.Contains(c.AppMetadata.Roles, role)
}

// WithClaims stores claims and the raw token in ctx.
func WithClaims(ctx context.Context, claims *Claims, token string) context.Context {
	ctx = context.WithValue(ctx, ClaimsKey, claims)
	return context.WithValue(ctx, TokenKey, token)
}

// GetClaims retrieves JWT claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetToken retrieves the raw JWT token string from the request context.
// Returns empty string and false if token is not present.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}
