package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chemforge-inc/chemforge-engine/pkg/apperrors"
	"github.com/chemforge-inc/chemforge-engine/pkg/models"
	"github.com/chemforge-inc/chemforge-engine/pkg/repositories"
	"github.com/chemforge-inc/chemforge-engine/pkg/tenancy"
)

// CompanyProvisioner runs the tenant lifecycle behind company administration.
// *tenancy.Provisioner satisfies it.
type CompanyProvisioner interface {
	Provision(ctx context.Context, req tenancy.ProvisionRequest) (*tenancy.ProvisionResult, error)
	SetStatus(ctx context.Context, tenantID, status string) error
	Deprovision(ctx context.Context, tenantID string) error
}

// CreateCompanyRequest is the input for creating a company with its tenant.
type CreateCompanyRequest struct {
	Name             string   `json:"name"`
	AdminEmail       string   `json:"adminEmail"`
	AdminName        string   `json:"adminName"`
	ContactEmail     string   `json:"contactEmail,omitempty"`
	ContactPhone     string   `json:"contactPhone,omitempty"`
	Address          string   `json:"address,omitempty"`
	Industry         string   `json:"industry,omitempty"`
	BillingEmail     string   `json:"billingEmail,omitempty"`
	BillingAddress   string   `json:"billingAddress,omitempty"`
	SubscriptionPlan string   `json:"subscriptionPlan,omitempty"`
	InitialApps      []string `json:"initialApps,omitempty"`
}

// CompanyService defines the interface for company administration.
type CompanyService interface {
	Create(ctx context.Context, req *CreateCompanyRequest) (*tenancy.ProvisionResult, error)
	Get(ctx context.Context, id uuid.UUID) (*models.CompanyDetails, error)
	List(ctx context.Context) ([]*models.CompanyDetails, error)
	Update(ctx context.Context, id uuid.UUID, update *models.CompanyUpdate) (*models.CompanyDetails, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Events(ctx context.Context, id uuid.UUID) ([]*models.ProvisioningEvent, error)
}

type companyService struct {
	companyRepo repositories.CompanyRepository
	eventRepo   repositories.ProvisioningEventRepository
	provisioner CompanyProvisioner
	logger      *zap.Logger
}

var _ CompanyService = (*companyService)(nil)

// NewCompanyService creates a new company service with dependencies.
func NewCompanyService(
	companyRepo repositories.CompanyRepository,
	eventRepo repositories.ProvisioningEventRepository,
	provisioner CompanyProvisioner,
	logger *zap.Logger,
) CompanyService {
	return &companyService{
		companyRepo: companyRepo,
		eventRepo:   eventRepo,
		provisioner: provisioner,
		logger:      logger.Named("companies"),
	}
}

// Create provisions a new company. Missing required fields are reported
// before anything is written.
func (s *companyService) Create(ctx context.Context, req *CreateCompanyRequest) (*tenancy.ProvisionResult, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request body is required", apperrors.ErrInvalidRequest)
	}
	var missing []string
	if strings.TrimSpace(req.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(req.AdminEmail) == "" {
		missing = append(missing, "adminEmail")
	}
	if strings.TrimSpace(req.AdminName) == "" {
		missing = append(missing, "adminName")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required fields: %s", apperrors.ErrInvalidRequest, strings.Join(missing, ", "))
	}

	return s.provisioner.Provision(ctx, tenancy.ProvisionRequest{
		Company: models.Company{
			Name:             req.Name,
			ContactEmail:     req.ContactEmail,
			ContactPhone:     req.ContactPhone,
			Address:          req.Address,
			Industry:         req.Industry,
			BillingEmail:     req.BillingEmail,
			BillingAddress:   req.BillingAddress,
			SubscriptionPlan: req.SubscriptionPlan,
		},
		AdminEmail:  req.AdminEmail,
		AdminName:   req.AdminName,
		InitialApps: req.InitialApps,
	})
}

// Get returns a company with its isolation details.
func (s *companyService) Get(ctx context.Context, id uuid.UUID) (*models.CompanyDetails, error) {
	return s.companyRepo.GetDetails(ctx, id)
}

// List returns all companies, newest first.
func (s *companyService) List(ctx context.Context) ([]*models.CompanyDetails, error) {
	return s.companyRepo.ListDetails(ctx)
}

// Update changes business fields. A status change is pushed to the tenant
// registry before the company row is written, and rolled back if that write
// fails, so routed connections and the admin view agree.
func (s *companyService) Update(ctx context.Context, id uuid.UUID, update *models.CompanyUpdate) (*models.CompanyDetails, error) {
	if update == nil || update.IsEmpty() {
		return nil, fmt.Errorf("%w: no fields to update", apperrors.ErrInvalidRequest)
	}
	update, err := normalizeCompanyUpdate(update)
	if err != nil {
		return nil, err
	}

	company, err := s.companyRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	previousStatus := company.Status
	update.Apply(company)
	statusChanged := company.Status != previousStatus

	if statusChanged {
		if err := s.provisioner.SetStatus(ctx, id.String(), company.Status); err != nil {
			return nil, fmt.Errorf("update tenant status: %w", err)
		}
	}

	if err := s.companyRepo.Update(ctx, company); err != nil {
		if statusChanged {
			s.revertTenantStatus(ctx, id, previousStatus)
		}
		return nil, err
	}

	if statusChanged {
		s.logger.Info("Company status changed",
			zap.String("company_id", id.String()),
			zap.String("from", previousStatus),
			zap.String("to", company.Status))
	}

	return s.companyRepo.GetDetails(ctx, id)
}

func (s *companyService) revertTenantStatus(ctx context.Context, id uuid.UUID, status string) {
	if err := s.provisioner.SetStatus(ctx, id.String(), status); err != nil {
		s.logger.Error("Failed to restore tenant status after company update failed",
			zap.String("company_id", id.String()),
			zap.String("status", status),
			zap.Error(err))
	}
}

// Delete deprovisions the company and everything created for it.
func (s *companyService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.provisioner.Deprovision(ctx, id.String())
}

// Events returns the provisioning log of a company.
func (s *companyService) Events(ctx context.Context, id uuid.UUID) ([]*models.ProvisioningEvent, error) {
	return s.eventRepo.ListByTenant(ctx, id.String())
}

// normalizeCompanyUpdate returns a validated copy of u with text fields trimmed.
func normalizeCompanyUpdate(u *models.CompanyUpdate) (*models.CompanyUpdate, error) {
	out := *u
	for _, field := range []**string{
		&out.Name, &out.ContactEmail, &out.ContactPhone, &out.Address,
		&out.Industry, &out.BillingEmail, &out.BillingAddress, &out.SubscriptionPlan,
	} {
		if *field != nil {
			v := strings.TrimSpace(**field)
			*field = &v
		}
	}

	if out.Name != nil {
		if err := tenancy.ValidateTenantName(*out.Name); err != nil {
			return nil, err
		}
	}
	if out.Status != nil && !models.IsValidCompanyStatus(*out.Status) {
		return nil, fmt.Errorf("%w: invalid status %q", apperrors.ErrInvalidRequest, *out.Status)
	}
	return &out, nil
}
