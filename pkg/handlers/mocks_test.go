package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/chemforge-inc/chemforge-engine/pkg/apperrors"
	"github.com/chemforge-inc/chemforge-engine/pkg/auth"
	"github.com/chemforge-inc/chemforge-engine/pkg/identity"
	"github.com/chemforge-inc/chemforge-engine/pkg/models"
	"github.com/chemforge-inc/chemforge-engine/pkg/services"
	"github.com/chemforge-inc/chemforge-engine/pkg/tenancy"
)

// mockCompanyService keeps companies in memory so delete-then-get flows work.
type mockCompanyService struct {
	mu        sync.Mutex
	companies map[uuid.UUID]*models.CompanyDetails
	result    *tenancy.ProvisionResult
	err       error

	capturedCreate *services.CreateCompanyRequest
	capturedUpdate *models.CompanyUpdate
}

func newMockCompanyService() *mockCompanyService {
	return &mockCompanyService{companies: map[uuid.UUID]*models.CompanyDetails{}}
}

func (m *mockCompanyService) add(d *models.CompanyDetails) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ResolveDatabaseType()
	m.companies[d.ID] = d
}

func (m *mockCompanyService) Create(ctx context.Context, req *services.CreateCompanyRequest) (*tenancy.ProvisionResult, error) {
	m.capturedCreate = req
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockCompanyService) Get(ctx context.Context, id uuid.UUID) (*models.CompanyDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	d, ok := m.companies[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return d, nil
}

func (m *mockCompanyService) List(ctx context.Context) ([]*models.CompanyDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.CompanyDetails
	for _, d := range m.companies {
		out = append(out, d)
	}
	return out, nil
}

func (m *mockCompanyService) Update(ctx context.Context, id uuid.UUID, update *models.CompanyUpdate) (*models.CompanyDetails, error) {
	m.capturedUpdate = update
	d, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if update.Name != nil {
		d.Name = *update.Name
	}
	return d, nil
}

func (m *mockCompanyService) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.companies[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.companies, id)
	return nil
}

func (m *mockCompanyService) Events(ctx context.Context, id uuid.UUID) ([]*models.ProvisioningEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []*models.ProvisioningEvent{
		{TenantID: id.String(), Stage: models.StageRecordCreated, Outcome: models.OutcomeCompleted},
	}, nil
}

type mockAppService struct {
	apps []*models.AppCatalogEntry
	err  error

	capturedKey    string
	capturedStatus string
}

func (m *mockAppService) List(ctx context.Context) ([]*models.AppCatalogEntry, error) {
	return m.apps, m.err
}

func (m *mockAppService) SetStatus(ctx context.Context, appKey, status string) (*models.AppCatalogEntry, error) {
	m.capturedKey = appKey
	m.capturedStatus = status
	if m.err != nil {
		return nil, m.err
	}
	return &models.AppCatalogEntry{AppKey: appKey, Status: status}, nil
}

type mockSessionService struct {
	session *identity.Session
	err     error

	capturedRefresh string
}

func (m *mockSessionService) SignIn(ctx context.Context, email, password string) (*identity.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.session, nil
}

func (m *mockSessionService) Refresh(ctx context.Context, refreshToken string) (*identity.Session, error) {
	m.capturedRefresh = refreshToken
	if m.err != nil {
		return nil, m.err
	}
	return m.session, nil
}

// mockAuthService accepts requests carrying "Bearer admin" or "Bearer tenant".
type mockAuthService struct{}

func (mockAuthService) ValidateRequest(r *http.Request) (*auth.Claims, string, error) {
	switch r.Header.Get("Authorization") {
	case "Bearer admin":
		return &auth.Claims{AppMetadata: auth.AppMetadata{Role: "superadmin"}}, "admin", nil
	case "Bearer tenant":
		return &auth.Claims{AppMetadata: auth.AppMetadata{TenantID: "t1", Role: "admin"}}, "tenant", nil
	}
	return nil, "", errors.New("no token")
}

func (mockAuthService) RequireTenantID(claims *auth.Claims) error {
	if claims.TenantID() == "" {
		return auth.ErrMissingTenantID
	}
	return nil
}

func (mockAuthService) RequirePlatformAdmin(claims *auth.Claims) error {
	if !claims.HasRole("superadmin") {
		return auth.ErrNotPlatformAdmin
	}
	return nil
}

// passthroughTenant stands in for the tenant middleware.
func passthroughTenant(next http.HandlerFunc) http.HandlerFunc { return next }
