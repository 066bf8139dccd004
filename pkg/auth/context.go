package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// GetUserIDFromContext extracts the user ID from JWT claims in the context.
// Returns empty string if not authenticated or claims are missing.
func GetUserIDFromContext(ctx context.Context) string {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return ""
	}
	return claims.Subject
}

// GetTenantIDFromContext extracts the tenant ID from JWT claims in the context.
// Returns empty string if not authenticated or the token is not tenant-bound.
func GetTenantIDFromContext(ctx context.Context) string {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return ""
	}
	return claims.TenantID()
}

// GetUserUUIDFromContext extracts the user ID from JWT claims and parses it as UUID.
// Returns the parsed UUID and true if successful, otherwise uuid.Nil and false.
func GetUserUUIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, err := uuid.Parse(GetUserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, false
	}
	return userID, true
}

// RequireTenantIDFromContext extracts the tenant ID from context and returns an error if not found.
func RequireTenantIDFromContext(ctx context.Context) (string, error) {
	tenantID := GetTenantIDFromContext(ctx)
	if tenantID == "" {
		return "", fmt.Errorf("tenant ID not found in context")
	}
	return tenantID, nil
}
