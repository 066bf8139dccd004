package database

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/chemforge-inc/chemforge-engine/pkg/apperrors"
	"github.com/chemforge-inc/chemforge-engine/pkg/audit"
	"github.com/chemforge-inc/chemforge-engine/pkg/auth"
)

// WithTenantContext creates middleware that sets up a tenant-scoped DB connection.
// It runs AFTER auth middleware and uses the tenant ID from JWT claims.
// The connection is automatically released after the handler returns.
// Refused tenants are recorded on auditor when it is non-nil.
func WithTenantContext(acquirer TenantAcquirer, auditor *audit.SecurityAuditor, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.GetClaims(r.Context())
			if !ok || claims.TenantID() == "" {
				logger.Warn("Missing tenant context in claims")
				writeError(w, http.StatusForbidden, "missing_tenant", "Token is not bound to a tenant")
				return
			}
			tenantID := claims.TenantID()

			scope, err := acquirer.AcquireTenant(r.Context(), tenantID)
			if err != nil {
				switch {
				case errors.Is(err, apperrors.ErrTenantNotProvisioned):
					if auditor != nil {
						auditor.LogTenantAccessDenied(r.Context(), tenantID, "not_provisioned")
					}
					writeError(w, http.StatusNotFound, "tenant_not_provisioned", "Tenant is not provisioned")
				case errors.Is(err, apperrors.ErrTenantSuspended):
					if auditor != nil {
						auditor.LogTenantAccessDenied(r.Context(), tenantID, "suspended")
					}
					writeError(w, http.StatusForbidden, "tenant_suspended", "Tenant is suspended")
				default:
					logger.Error("Failed to acquire tenant connection",
						zap.String("tenant_id", tenantID),
						zap.Error(err))
					writeError(w, http.StatusInternalServerError, "database_error", "Database connection error")
				}
				return
			}
			defer scope.Close()

			ctx := SetTenantScope(r.Context(), scope)
			next(w, r.WithContext(ctx))
		}
	}
}

// writeError writes a JSON error response in the API envelope.
func writeError(w http.ResponseWriter, statusCode int, errorCode, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   errorCode,
		"details": details,
	})
}
