package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chemforge-inc/chemforge-engine/pkg/apperrors"
	"github.com/chemforge-inc/chemforge-engine/pkg/catalog"
	"github.com/chemforge-inc/chemforge-engine/pkg/models"
	"github.com/chemforge-inc/chemforge-engine/pkg/repositories"
)

// AppService defines the interface for a tenant's enabled apps.
// Calls run on the tenant scope carried by the context.
type AppService interface {
	List(ctx context.Context) ([]*models.AppCatalogEntry, error)
	SetStatus(ctx context.Context, appKey, status string) (*models.AppCatalogEntry, error)
}

type appService struct {
	appRepo repositories.AppRepository
	catalog *catalog.Catalog
	logger  *zap.Logger
}

var _ AppService = (*appService)(nil)

// NewAppService creates a new app service.
func NewAppService(appRepo repositories.AppRepository, cat *catalog.Catalog, logger *zap.Logger) AppService {
	if cat == nil {
		cat = catalog.Default()
	}
	return &appService{appRepo: appRepo, catalog: cat, logger: logger.Named("apps")}
}

func (s *appService) List(ctx context.Context) ([]*models.AppCatalogEntry, error) {
	return s.appRepo.List(ctx)
}

// SetStatus activates or deactivates an app. Apps are never hard-deleted.
func (s *appService) SetStatus(ctx context.Context, appKey, status string) (*models.AppCatalogEntry, error) {
	if !models.IsValidAppStatus(status) {
		return nil, fmt.Errorf("%w: invalid app status %q", apperrors.ErrInvalidRequest, status)
	}
	if _, ok := s.catalog.Lookup(appKey); !ok {
		return nil, fmt.Errorf("app %q: %w", appKey, apperrors.ErrNotFound)
	}

	app, err := s.appRepo.SetStatus(ctx, appKey, status)
	if err != nil {
		return nil, err
	}
	s.logger.Info("App status changed",
		zap.String("app_key", appKey),
		zap.String("status", status))
	return app, nil
}
