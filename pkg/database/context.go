package database

import (
	"context"
)

type contextKey string

const (
	// TenantScopeKey is the context key for storing the tenant-scoped database connection.
	TenantScopeKey contextKey = "tenantScope"
)

// GetTenantScope retrieves the tenant-scoped database connection from context.
// Returns nil and false if not present.
func GetTenantScope(ctx context.Context) (*TenantScope, bool) {
	scope, ok := ctx.Value(TenantScopeKey).(*TenantScope)
	return scope, ok && scope != nil
}

// SetTenantScope stores the tenant-scoped database connection in context.
func SetTenantScope(ctx context.Context, scope *TenantScope) context.Context {
	return context.WithValue(ctx, TenantScopeKey, scope)
}

// TenantAcquirer hands out connections scoped to a single tenant.
// The connection router satisfies it.
type TenantAcquirer interface {
	AcquireTenant(ctx context.Context, tenantID string) (*TenantScope, error)
}

// WithTenantScope returns a context with a scope for tenantID set.
// The cleanup function must be called when the scope is no longer needed.
func WithTenantScope(ctx context.Context, acquirer TenantAcquirer, tenantID string) (context.Context, func(), error) {
	scope, err := acquirer.AcquireTenant(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	return SetTenantScope(ctx, scope), scope.Close, nil
}
