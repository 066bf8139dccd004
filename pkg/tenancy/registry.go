package tenancy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chemforge-inc/chemforge-engine/pkg/apperrors"
	"github.com/chemforge-inc/chemforge-engine/pkg/metrics"
	"github.com/chemforge-inc/chemforge-engine/pkg/models"
)

// Registry cache defaults.
const (
	DefaultRegistryCacheTTL        = 5 * time.Minute
	DefaultRegistryCacheMaxEntries = 1000
)

// TenantStore persists tenant registry rows. Get returns apperrors.ErrNotFound
// for unknown tenants.
type TenantStore interface {
	Upsert(ctx context.Context, tenant *models.Tenant) error
	Get(ctx context.Context, tenantID string) (*models.Tenant, error)
	UpdateStatus(ctx context.Context, tenantID, status string) error
	Delete(ctx context.Context, tenantID string) error
}

// RegistryConfig sizes the registry cache.
type RegistryConfig struct {
	CacheTTL        time.Duration
	CacheMaxEntries int
}

// Registry maps tenant ids to their configuration, reading through a bounded
// cache in front of the control-plane store.
type Registry struct {
	store   TenantStore
	cache   *boundedCache[*models.Tenant]
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRegistry creates a Registry. m may be nil.
func NewRegistry(store TenantStore, cfg RegistryConfig, m *metrics.Metrics, logger *zap.Logger) *Registry {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultRegistryCacheTTL
	}
	if cfg.CacheMaxEntries <= 0 {
		cfg.CacheMaxEntries = DefaultRegistryCacheMaxEntries
	}
	return &Registry{
		store:   store,
		cache:   newBoundedCache[*models.Tenant](cfg.CacheTTL, cfg.CacheMaxEntries, expireAfterWrite, nil),
		metrics: m,
		logger:  logger.Named("registry"),
	}
}

// Upsert inserts or replaces the configuration of a tenant. A missing schema
// name is derived from the tenant id; a mismatching one is rejected.
func (r *Registry) Upsert(ctx context.Context, tenant *models.Tenant) error {
	if tenant == nil {
		return fmt.Errorf("%w: tenant is required", apperrors.ErrInvalidRequest)
	}
	schema, err := SchemaNameFor(tenant.TenantID)
	if err != nil {
		return err
	}

	t := tenant.Clone()
	switch t.SchemaName {
	case "":
		t.SchemaName = schema
	case schema:
	default:
		return fmt.Errorf("%w: schema %q does not belong to tenant %s", apperrors.ErrInvalidIdentifier, t.SchemaName, t.TenantID)
	}
	if t.Status == "" {
		t.Status = models.TenantStatusActive
	}

	if err := r.store.Upsert(ctx, t); err != nil {
		return fmt.Errorf("persist tenant %s: %w", t.TenantID, err)
	}

	tenant.SchemaName = t.SchemaName
	tenant.Status = t.Status
	r.cache.Set(t.TenantID, t)

	r.logger.Debug("Tenant registered",
		zap.String("tenant_id", t.TenantID),
		zap.String("schema", t.SchemaName),
		zap.String("status", t.Status))
	return nil
}

// Lookup returns the configuration of a tenant or apperrors.ErrNotFound.
// The returned value is a copy the caller may modify.
func (r *Registry) Lookup(ctx context.Context, tenantID string) (*models.Tenant, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		// No registry row can carry an id outside the allow-list.
		r.metrics.ObserveRegistryLookup("miss")
		return nil, fmt.Errorf("tenant %q: %w", tenantID, apperrors.ErrNotFound)
	}

	if t, ok := r.cache.Get(tenantID); ok {
		r.metrics.ObserveRegistryLookup("hit")
		return t.Clone(), nil
	}

	gen := r.cache.Generation(tenantID)
	t, err := r.store.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			r.metrics.ObserveRegistryLookup("miss")
			return nil, err
		}
		r.metrics.ObserveRegistryLookup("error")
		return nil, fmt.Errorf("load tenant %s: %w", tenantID, err)
	}

	r.metrics.ObserveRegistryLookup("load")
	// A row read before a concurrent Invalidate is returned but not cached.
	r.cache.SetIfCurrent(tenantID, t.Clone(), gen)
	return t, nil
}

// SetStatus changes a tenant's status and drops the cached copy.
func (r *Registry) SetStatus(ctx context.Context, tenantID, status string) error {
	switch status {
	case models.TenantStatusActive, models.TenantStatusSuspended, models.TenantStatusDeprovisioning:
	default:
		return fmt.Errorf("%w: unknown tenant status %q", apperrors.ErrInvalidRequest, status)
	}
	if err := ValidateTenantID(tenantID); err != nil {
		return err
	}

	if err := r.store.UpdateStatus(ctx, tenantID, status); err != nil {
		return fmt.Errorf("update status of tenant %s: %w", tenantID, err)
	}
	r.Invalidate(tenantID)

	r.logger.Info("Tenant status changed",
		zap.String("tenant_id", tenantID),
		zap.String("status", status))
	return nil
}

// Delete removes the registry row. Deleting an unknown tenant is not an error.
func (r *Registry) Delete(ctx context.Context, tenantID string) error {
	if err := ValidateTenantID(tenantID); err != nil {
		return err
	}
	err := r.store.Delete(ctx, tenantID)
	r.Invalidate(tenantID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("delete tenant %s: %w", tenantID, err)
	}
	return nil
}

// Invalidate drops the cached configuration of a tenant.
func (r *Registry) Invalidate(tenantID string) {
	if r.cache.Remove(tenantID) {
		r.logger.Debug("Registry entry invalidated", zap.String("tenant_id", tenantID))
	}
}

// Stats returns cache statistics.
func (r *Registry) Stats() CacheStats {
	return r.cache.Stats()
}
