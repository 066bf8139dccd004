package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chemforge-inc/chemforge-engine/pkg/apperrors"
	"github.com/chemforge-inc/chemforge-engine/pkg/crypto"
	"github.com/chemforge-inc/chemforge-engine/pkg/database"
	"github.com/chemforge-inc/chemforge-engine/pkg/models"
)

// TenantRepository defines the interface for tenant registry data access.
type TenantRepository interface {
	Upsert(ctx context.Context, tenant *models.Tenant) error
	Get(ctx context.Context, tenantID string) (*models.Tenant, error)
	UpdateStatus(ctx context.Context, tenantID, status string) error
	Delete(ctx context.Context, tenantID string) error
}

type tenantRepository struct {
	db     database.Querier
	sealer *crypto.Sealer
}

// NewTenantRepository creates a tenant registry repository. Connection
// descriptors are sealed with sealer before they are written.
func NewTenantRepository(db database.Querier, sealer *crypto.Sealer) TenantRepository {
	return &tenantRepository{db: db, sealer: sealer}
}

// Upsert inserts the registry row or replaces every mutable column.
func (r *tenantRepository) Upsert(ctx context.Context, tenant *models.Tenant) error {
	var descriptor any
	if tenant.Connection != nil {
		descriptor = tenant.Connection
	}
	sealed, err := r.sealer.Seal(tenant.TenantID, descriptor)
	if err != nil {
		return fmt.Errorf("failed to encrypt connection descriptor: %w", err)
	}

	now := time.Now()
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = now
	}
	tenant.UpdatedAt = now
	if tenant.Metadata == nil {
		tenant.Metadata = models.JSONBMap{}
	}

	query := `
		INSERT INTO tenants (tenant_id, company_id, tenant_name, schema_name, database_name,
			status, connection_descriptor, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id) DO UPDATE
		SET company_id = EXCLUDED.company_id,
		    tenant_name = EXCLUDED.tenant_name,
		    schema_name = EXCLUDED.schema_name,
		    database_name = EXCLUDED.database_name,
		    status = EXCLUDED.status,
		    connection_descriptor = EXCLUDED.connection_descriptor,
		    metadata = EXCLUDED.metadata,
		    updated_at = EXCLUDED.updated_at`

	_, err = r.db.Exec(ctx, query,
		tenant.TenantID,
		tenant.CompanyID,
		tenant.TenantName,
		tenant.SchemaName,
		tenant.DatabaseName,
		tenant.Status,
		sealed,
		tenant.Metadata,
		tenant.CreatedAt,
		tenant.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("schema %s is registered to another tenant: %w", tenant.SchemaName, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to upsert tenant: %w", err)
	}
	return nil
}

// Get retrieves a registry row and decrypts its connection descriptor.
func (r *tenantRepository) Get(ctx context.Context, tenantID string) (*models.Tenant, error) {
	query := `
		SELECT tenant_id, company_id, tenant_name, schema_name, database_name, status,
		       connection_descriptor, metadata, created_at, updated_at
		FROM tenants
		WHERE tenant_id = $1`

	var t models.Tenant
	var sealed string
	err := r.db.QueryRow(ctx, query, tenantID).Scan(
		&t.TenantID,
		&t.CompanyID,
		&t.TenantName,
		&t.SchemaName,
		&t.DatabaseName,
		&t.Status,
		&sealed,
		&t.Metadata,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	var descriptor models.ConnectionDescriptor
	present, err := r.sealer.Open(t.TenantID, sealed, &descriptor)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt connection descriptor of tenant %s: %w", t.TenantID, err)
	}
	if present {
		t.Connection = &descriptor
	}
	return &t, nil
}

// UpdateStatus changes the status of a registry row.
func (r *tenantRepository) UpdateStatus(ctx context.Context, tenantID, status string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE tenants SET status = $2, updated_at = now() WHERE tenant_id = $1`, tenantID, status)
	if err != nil {
		return fmt.Errorf("failed to update tenant status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// Delete removes a registry row.
func (r *tenantRepository) Delete(ctx context.Context, tenantID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM tenants WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
