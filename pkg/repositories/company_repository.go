package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chemforge-inc/chemforge-engine/pkg/apperrors"
	"github.com/chemforge-inc/chemforge-engine/pkg/database"
	"github.com/chemforge-inc/chemforge-engine/pkg/models"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint violations.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// CompanyRepository defines the interface for company data access.
type CompanyRepository interface {
	Create(ctx context.Context, company *models.Company) error
	Get(ctx context.Context, id uuid.UUID) (*models.Company, error)
	GetDetails(ctx context.Context, id uuid.UUID) (*models.CompanyDetails, error)
	ListDetails(ctx context.Context) ([]*models.CompanyDetails, error)
	Update(ctx context.Context, company *models.Company) error
	UpdateProvisioning(ctx context.Context, id uuid.UUID, stage models.ProvisioningStage, provisioningErr string) error
	SetAdminUser(ctx context.Context, id uuid.UUID, adminUserID *uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type companyRepository struct {
	db database.Querier
}

// NewCompanyRepository creates a company repository on the control-plane database.
func NewCompanyRepository(db database.Querier) CompanyRepository {
	return &companyRepository{db: db}
}

const companyColumns = `c.id, c.name, c.contact_email, c.contact_phone, c.address, c.industry,
	c.billing_email, c.billing_address, c.subscription_plan, c.status,
	c.provisioning_status, COALESCE(c.provisioning_error, ''), c.admin_user_id,
	c.created_at, c.updated_at`

// Create inserts a company. A case-insensitive duplicate name returns apperrors.ErrConflict.
func (r *companyRepository) Create(ctx context.Context, company *models.Company) error {
	if company.ID == uuid.Nil {
		company.ID = uuid.New()
	}
	now := time.Now()
	company.CreatedAt = now
	company.UpdatedAt = now
	if company.Status == "" {
		company.Status = models.CompanyStatusActive
	}
	if company.SubscriptionPlan == "" {
		company.SubscriptionPlan = "standard"
	}
	if company.ProvisioningStatus == "" {
		company.ProvisioningStatus = string(models.StageRecordCreated)
	}

	query := `
		INSERT INTO companies (id, name, contact_email, contact_phone, address, industry,
			billing_email, billing_address, subscription_plan, status, provisioning_status,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.Exec(ctx, query,
		company.ID,
		company.Name,
		company.ContactEmail,
		company.ContactPhone,
		company.Address,
		company.Industry,
		company.BillingEmail,
		company.BillingAddress,
		company.SubscriptionPlan,
		company.Status,
		company.ProvisioningStatus,
		company.CreatedAt,
		company.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("company %q already exists: %w", company.Name, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to create company: %w", err)
	}
	return nil
}

func scanCompany(row pgx.Row, c *models.Company, extra ...any) error {
	dest := []any{
		&c.ID,
		&c.Name,
		&c.ContactEmail,
		&c.ContactPhone,
		&c.Address,
		&c.Industry,
		&c.BillingEmail,
		&c.BillingAddress,
		&c.SubscriptionPlan,
		&c.Status,
		&c.ProvisioningStatus,
		&c.ProvisioningError,
		&c.AdminUserID,
		&c.CreatedAt,
		&c.UpdatedAt,
	}
	return row.Scan(append(dest, extra...)...)
}

// Get retrieves a company by ID.
func (r *companyRepository) Get(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies c WHERE c.id = $1`

	var company models.Company
	if err := scanCompany(r.db.QueryRow(ctx, query, id), &company); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return &company, nil
}

const detailsQuery = `SELECT ` + companyColumns + `, t.schema_name, t.status
	FROM companies c
	LEFT JOIN tenants t ON t.company_id = c.id`

// GetDetails retrieves a company with its tenant registry row, if any.
func (r *companyRepository) GetDetails(ctx context.Context, id uuid.UUID) (*models.CompanyDetails, error) {
	var d models.CompanyDetails
	err := scanCompany(r.db.QueryRow(ctx, detailsQuery+` WHERE c.id = $1`, id),
		&d.Company, &d.SchemaName, &d.TenantStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get company details: %w", err)
	}
	d.ResolveDatabaseType()
	return &d, nil
}

// ListDetails returns every company, newest first.
func (r *companyRepository) ListDetails(ctx context.Context) ([]*models.CompanyDetails, error) {
	rows, err := r.db.Query(ctx, detailsQuery+` ORDER BY c.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	defer rows.Close()

	companies := make([]*models.CompanyDetails, 0)
	for rows.Next() {
		var d models.CompanyDetails
		if err := scanCompany(rows, &d.Company, &d.SchemaName, &d.TenantStatus); err != nil {
			return nil, fmt.Errorf("failed to scan company: %w", err)
		}
		d.ResolveDatabaseType()
		companies = append(companies, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating companies: %w", err)
	}
	return companies, nil
}

// Update writes the business fields and status of a company.
func (r *companyRepository) Update(ctx context.Context, company *models.Company) error {
	company.UpdatedAt = time.Now()

	query := `
		UPDATE companies
		SET name = $2, contact_email = $3, contact_phone = $4, address = $5, industry = $6,
		    billing_email = $7, billing_address = $8, subscription_plan = $9, status = $10,
		    updated_at = $11
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		company.ID,
		company.Name,
		company.ContactEmail,
		company.ContactPhone,
		company.Address,
		company.Industry,
		company.BillingEmail,
		company.BillingAddress,
		company.SubscriptionPlan,
		company.Status,
		company.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("company %q already exists: %w", company.Name, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to update company: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// UpdateProvisioning records the provisioning stage reached and the last error.
func (r *companyRepository) UpdateProvisioning(ctx context.Context, id uuid.UUID, stage models.ProvisioningStage, provisioningErr string) error {
	var errText *string
	if provisioningErr != "" {
		errText = &provisioningErr
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE companies
		SET provisioning_status = $2, provisioning_error = $3, updated_at = now()
		WHERE id = $1`, id, string(stage), errText)
	if err != nil {
		return fmt.Errorf("failed to update provisioning status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// SetAdminUser links the company to its admin identity.
func (r *companyRepository) SetAdminUser(ctx context.Context, id uuid.UUID, adminUserID *uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE companies SET admin_user_id = $2, updated_at = now() WHERE id = $1`, id, adminUserID)
	if err != nil {
		return fmt.Errorf("failed to set admin user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// Delete removes a company. Its registry row goes with it.
func (r *companyRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM companies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete company: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
