package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chemforge-inc/chemforge-engine/pkg/apperrors"
	"github.com/chemforge-inc/chemforge-engine/pkg/models"
)

type mockAppRepository struct {
	apps []*models.AppCatalogEntry
	err  error

	capturedKey    string
	capturedStatus string
}

func (m *mockAppRepository) Create(ctx context.Context, app *models.AppCatalogEntry) error {
	return m.err
}

func (m *mockAppRepository) List(ctx context.Context) ([]*models.AppCatalogEntry, error) {
	return m.apps, m.err
}

func (m *mockAppRepository) SetStatus(ctx context.Context, appKey, status string) (*models.AppCatalogEntry, error) {
	m.capturedKey = appKey
	m.capturedStatus = status
	if m.err != nil {
		return nil, m.err
	}
	return &models.AppCatalogEntry{AppKey: appKey, Status: status}, nil
}

func (m *mockAppRepository) DeleteAll(ctx context.Context) error {
	return m.err
}

func TestAppService_List(t *testing.T) {
	repo := &mockAppRepository{apps: []*models.AppCatalogEntry{{AppKey: "formulas"}, {AppKey: "suppliers"}}}
	svc := NewAppService(repo, nil, zap.NewNop())

	apps, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, apps, 2)
}

func TestAppService_SetStatus(t *testing.T) {
	repo := &mockAppRepository{}
	svc := NewAppService(repo, nil, zap.NewNop())

	app, err := svc.SetStatus(context.Background(), "formulas", models.AppStatusInactive)
	require.NoError(t, err)
	assert.Equal(t, models.AppStatusInactive, app.Status)
	assert.Equal(t, "formulas", repo.capturedKey)
}

func TestAppService_SetStatus_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		status  string
		wantErr error
	}{
		{"invalid status", "formulas", "deleted", apperrors.ErrInvalidRequest},
		{"unknown app", "lab-notebook", models.AppStatusActive, apperrors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockAppRepository{}
			svc := NewAppService(repo, nil, zap.NewNop())

			_, err := svc.SetStatus(context.Background(), tt.key, tt.status)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, repo.capturedKey)
		})
	}
}

func TestAppService_SetStatus_NotSeeded(t *testing.T) {
	svc := NewAppService(&mockAppRepository{err: apperrors.ErrNotFound}, nil, zap.NewNop())

	_, err := svc.SetStatus(context.Background(), "compliance", models.AppStatusActive)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
