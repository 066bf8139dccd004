package database

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/chemforge-inc/chemforge-engine/pkg/apperrors"
	"github.com/chemforge-inc/chemforge-engine/pkg/audit"
	"github.com/chemforge-inc/chemforge-engine/pkg/auth"
)

type stubAcquirer struct {
	err      error
	acquired string
}

func (s *stubAcquirer) AcquireTenant(_ context.Context, tenantID string) (*TenantScope, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.acquired = tenantID
	return NewTenantScope(nil, tenantID, "tenant_"+tenantID), nil
}

func requestAs(tenantID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/apps", nil)
	claims := &auth.Claims{AppMetadata: auth.AppMetadata{TenantID: tenantID}}
	return req.WithContext(auth.WithClaims(req.Context(), claims, "token"))
}

func TestWithTenantContext_SetsScope(t *testing.T) {
	acquirer := &stubAcquirer{}
	var seen *TenantScope
	handler := WithTenantContext(acquirer, nil, zap.NewNop())(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetTenantScope(r.Context())
	})

	rec := httptest.NewRecorder()
	handler(rec, requestAs("acme"))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "acme", seen.TenantID)
	assert.Equal(t, "tenant_acme", seen.Schema)
}

func TestWithTenantContext_Refusals(t *testing.T) {
	tests := []struct {
		name       string
		tenantID   string
		err        error
		wantStatus int
		wantCode   string
		wantAudit  string
	}{
		{"unbound token", "", nil, http.StatusForbidden, "missing_tenant", ""},
		{"not provisioned", "acme", apperrors.ErrTenantNotProvisioned, http.StatusNotFound, "tenant_not_provisioned", "not_provisioned"},
		{"suspended", "acme", apperrors.ErrTenantSuspended, http.StatusForbidden, "tenant_suspended", "suspended"},
		{"pool failure", "acme", errors.New("connection refused"), http.StatusInternalServerError, "database_error", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			auditor := audit.NewSecurityAuditor(zap.New(core))

			called := false
			handler := WithTenantContext(&stubAcquirer{err: tt.err}, auditor, zap.NewNop())(func(http.ResponseWriter, *http.Request) {
				called = true
			})

			rec := httptest.NewRecorder()
			handler(rec, requestAs(tt.tenantID))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.False(t, called)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantCode, body["error"])
			assert.NotEmpty(t, body["details"])
			assert.NotContains(t, body, "message")

			denied := logs.FilterMessage("Tenant access denied").All()
			if tt.wantAudit == "" {
				assert.Empty(t, denied)
				return
			}
			require.Len(t, denied, 1)
			assert.Equal(t, tt.wantAudit, denied[0].ContextMap()["reason"])
		})
	}
}
