package tenancy

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chemforge-inc/chemforge-engine/pkg/apperrors"
	"github.com/chemforge-inc/chemforge-engine/pkg/audit"
	"github.com/chemforge-inc/chemforge-engine/pkg/catalog"
	"github.com/chemforge-inc/chemforge-engine/pkg/database"
	"github.com/chemforge-inc/chemforge-engine/pkg/identity"
	"github.com/chemforge-inc/chemforge-engine/pkg/logging"
	"github.com/chemforge-inc/chemforge-engine/pkg/metrics"
	"github.com/chemforge-inc/chemforge-engine/pkg/models"
	"github.com/chemforge-inc/chemforge-engine/pkg/repositories"
	"github.com/chemforge-inc/chemforge-engine/pkg/retry"
)

// IdentityProvider creates and removes user accounts.
type IdentityProvider interface {
	CreateUser(ctx context.Context, req identity.CreateUserRequest) (*identity.User, error)
	DeleteUser(ctx context.Context, userID string) error
}

// ProvisionRequest asks for a new company with its isolated tenant.
type ProvisionRequest struct {
	Company     models.Company
	AdminEmail  string
	AdminName   string
	InitialApps []string
}

// AdminAccount describes the administrator created for a new company.
type AdminAccount struct {
	UserID            string    `json:"userId"`
	ProfileID         uuid.UUID `json:"profileId"`
	Email             string    `json:"email"`
	FullName          string    `json:"fullName"`
	TemporaryPassword string    `json:"temporaryPassword"`
}

// ProvisionResult is the outcome of a successful provisioning run.
type ProvisionResult struct {
	Company *models.Company           `json:"company"`
	Tenant  *models.Tenant            `json:"tenant"`
	Admin   AdminAccount              `json:"admin"`
	Apps    []*models.AppCatalogEntry `json:"apps"`
}

// ProvisioningError reports the stage that failed and any compensation that
// could not be completed.
type ProvisioningError struct {
	TenantID           string
	Stage              models.ProvisioningStage
	Err                error
	CompensationErrors []error
}

func (e *ProvisioningError) Error() string {
	msg := fmt.Sprintf("provisioning tenant %s failed at %s: %v", e.TenantID, e.Stage, e.Err)
	if len(e.CompensationErrors) > 0 {
		msg += fmt.Sprintf(" (%d compensation errors: %v)", len(e.CompensationErrors), errors.Join(e.CompensationErrors...))
	}
	return msg
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// ProvisionerConfig holds provisioning settings.
type ProvisionerConfig struct {
	DefaultAdminPassword string
	DefaultApps          []string
	// DatabaseName is recorded on registry rows of schemas on the control-plane cluster.
	DatabaseName string
	// CompensationRetry bounds retries of each compensating action.
	CompensationRetry *retry.Config
}

// ProvisionerDeps are the collaborators of a Provisioner.
type ProvisionerDeps struct {
	Companies repositories.CompanyRepository
	Events    repositories.ProvisioningEventRepository
	Apps      repositories.AppRepository
	Profiles  repositories.UserProfileRepository
	Deployer  *Deployer
	Registry  *Registry
	Router    *Router
	Identity  IdentityProvider
	Catalog   *catalog.Catalog
	Auditor   *audit.SecurityAuditor
	Metrics   *metrics.Metrics
}

// Provisioner runs company provisioning as a saga: each step has a
// compensating action, and the first failure undoes completed steps in
// reverse order.
type Provisioner struct {
	deps   ProvisionerDeps
	cfg    ProvisionerConfig
	logger *zap.Logger
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(deps ProvisionerDeps, cfg ProvisionerConfig, logger *zap.Logger) *Provisioner {
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	if deps.Auditor == nil {
		deps.Auditor = audit.NewSecurityAuditor(logger)
	}
	if cfg.CompensationRetry == nil {
		cfg.CompensationRetry = retry.DefaultConfig()
	}
	return &Provisioner{deps: deps, cfg: cfg, logger: logger.Named("provisioner")}
}

// saga tracks one provisioning run.
type saga struct {
	p          *Provisioner
	tenantID   string
	stage      models.ProvisioningStage
	compensate []compensation
	scope      *database.TenantScope
}

type compensation struct {
	stage models.ProvisioningStage
	run   func(ctx context.Context) error
}

func (s *saga) releaseScope() {
	if s.scope != nil {
		s.scope.Close()
		s.scope = nil
	}
}

// step runs one forward action and, on success, registers its compensation.
func (s *saga) step(ctx context.Context, stage models.ProvisioningStage, fn func(ctx context.Context) error, undo func(ctx context.Context) error) error {
	s.stage = stage
	if err := fn(ctx); err != nil {
		s.p.record(ctx, s.tenantID, stage, models.OutcomeFailed, err)
		return err
	}
	s.p.record(ctx, s.tenantID, stage, models.OutcomeCompleted, nil)
	if undo != nil {
		s.compensate = append(s.compensate, compensation{stage: stage, run: undo})
	}
	return nil
}

// rollback runs compensations newest first. A failing compensation is
// recorded and the rest still run.
func (s *saga) rollback(ctx context.Context) []error {
	s.releaseScope()

	var errs []error
	for i := len(s.compensate) - 1; i >= 0; i-- {
		c := s.compensate[i]
		err := retry.DoIfRetryable(ctx, s.p.cfg.CompensationRetry, func() error {
			return c.run(ctx)
		})
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			errs = append(errs, fmt.Errorf("undo %s: %w", c.stage, err))
			s.p.record(ctx, s.tenantID, c.stage, models.OutcomeCompensationFailed, err)
			continue
		}
		s.p.record(ctx, s.tenantID, c.stage, models.OutcomeCompensated, nil)
	}
	return errs
}

// Provision creates the company record, its schema, its registry row, its
// admin account and its initial apps, in that order.
func (p *Provisioner) Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResult, error) {
	apps, err := p.validate(ctx, &req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { p.deps.Metrics.ObserveProvisioningRun(time.Since(start)) }()

	company := req.Company
	company.ID = uuid.New()
	company.Status = models.CompanyStatusActive
	company.ProvisioningStatus = ""
	tenantID := company.ID.String()

	s := &saga{p: p, tenantID: tenantID}
	defer s.releaseScope()

	result := &ProvisionResult{Company: &company}
	err = p.run(ctx, s, &company, &req, apps, result)
	if err != nil {
		// Compensation must finish even if the caller gave up on the request.
		compErrs := s.rollback(context.WithoutCancel(ctx))
		provErr := &ProvisioningError{TenantID: tenantID, Stage: s.stage, Err: err, CompensationErrors: compErrs}

		p.logger.Error("Provisioning failed",
			zap.String("tenant_id", tenantID),
			zap.String("stage", string(s.stage)),
			zap.String("error", logging.SanitizeError(err)),
			zap.Int("compensation_errors", len(compErrs)))
		p.deps.Auditor.LogTenantLifecycle(ctx, tenantID, "provisioning_rolled_back")
		return nil, provErr
	}

	p.setStage(ctx, company.ID, models.StageDone, "")
	company.ProvisioningStatus = string(models.StageDone)
	p.deps.Metrics.ObserveProvisioningStep(string(models.StageDone), models.OutcomeCompleted)
	p.deps.Auditor.LogTenantLifecycle(ctx, tenantID, "provisioned")
	p.logger.Info("Company provisioned",
		zap.String("tenant_id", tenantID),
		zap.String("schema", result.Tenant.SchemaName),
		zap.Int("apps", len(result.Apps)),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

func (p *Provisioner) run(ctx context.Context, s *saga, company *models.Company, req *ProvisionRequest, apps []*catalog.App, result *ProvisionResult) error {
	tenantID := s.tenantID
	d := p.deps

	err := s.step(ctx, models.StageRecordCreated,
		func(ctx context.Context) error { return d.Companies.Create(ctx, company) },
		func(ctx context.Context) error { return d.Companies.Delete(ctx, company.ID) })
	if err != nil {
		return err
	}

	err = s.step(ctx, models.StageSchemaDeployed,
		func(ctx context.Context) error { return d.Deployer.Deploy(ctx, tenantID, company.Name) },
		func(ctx context.Context) error { return d.Deployer.Drop(ctx, tenantID) })
	if err != nil {
		return err
	}
	p.setStage(ctx, company.ID, models.StageSchemaDeployed, "")

	companyID := company.ID
	tenant := &models.Tenant{
		TenantID:     tenantID,
		CompanyID:    &companyID,
		TenantName:   company.Name,
		DatabaseName: p.cfg.DatabaseName,
		Status:       models.TenantStatusActive,
		Metadata:     models.JSONBMap{"subscription_plan": company.SubscriptionPlan},
	}
	err = s.step(ctx, models.StageRegistryPersisted,
		func(ctx context.Context) error { return d.Registry.Upsert(ctx, tenant) },
		func(ctx context.Context) error {
			_ = d.Router.Invalidate(ctx, tenantID)
			return d.Registry.Delete(ctx, tenantID)
		})
	if err != nil {
		return err
	}
	result.Tenant = tenant
	p.setStage(ctx, company.ID, models.StageRegistryPersisted, "")

	scope, err := d.Router.AcquireTenant(ctx, tenantID)
	if err != nil {
		s.stage = models.StageAdminCreated
		p.record(ctx, tenantID, models.StageAdminCreated, models.OutcomeFailed, err)
		return err
	}
	s.scope = scope
	tenantCtx := database.SetTenantScope(ctx, scope)

	admin := &result.Admin
	err = s.step(tenantCtx, models.StageAdminCreated,
		func(ctx context.Context) error { return p.createAdmin(ctx, company, tenantID, req, admin) },
		func(ctx context.Context) error {
			if admin.UserID == "" {
				return nil
			}
			return d.Identity.DeleteUser(ctx, admin.UserID)
		})
	if err != nil {
		return err
	}
	p.setStage(ctx, company.ID, models.StageAdminCreated, "")

	err = s.step(tenantCtx, models.StageAppsSeeded,
		func(ctx context.Context) error {
			seeded, err := p.seedApps(ctx, apps, admin.ProfileID)
			result.Apps = seeded
			return err
		},
		nil)
	if err != nil {
		return err
	}
	p.setStage(ctx, company.ID, models.StageAppsSeeded, "")
	return nil
}

// createAdmin creates the identity account, links it to the company and
// inserts the admin's profile in the tenant schema. A profile insert failure
// deletes the account it just created.
func (p *Provisioner) createAdmin(ctx context.Context, company *models.Company, tenantID string, req *ProvisionRequest, admin *AdminAccount) error {
	d := p.deps
	user, err := d.Identity.CreateUser(ctx, identity.CreateUserRequest{
		Email:    req.AdminEmail,
		Password: p.cfg.DefaultAdminPassword,
		FullName: req.AdminName,
		TenantID: tenantID,
		Role:     models.RoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("create admin identity: %w", err)
	}

	authUserID, err := uuid.Parse(user.ID)
	if err != nil {
		_ = d.Identity.DeleteUser(context.WithoutCancel(ctx), user.ID)
		return fmt.Errorf("identity provider returned invalid user id %q: %w", user.ID, err)
	}

	profile := &models.UserProfile{
		AuthUserID: authUserID,
		Email:      req.AdminEmail,
		FullName:   req.AdminName,
		Role:       models.RoleAdmin,
		Status:     "active",
	}
	if err := d.Profiles.Create(ctx, profile); err != nil {
		_ = d.Identity.DeleteUser(context.WithoutCancel(ctx), user.ID)
		return fmt.Errorf("create admin profile: %w", err)
	}

	if err := d.Companies.SetAdminUser(ctx, company.ID, &authUserID); err != nil {
		_ = d.Identity.DeleteUser(context.WithoutCancel(ctx), user.ID)
		return fmt.Errorf("link admin to company: %w", err)
	}
	company.AdminUserID = &authUserID

	*admin = AdminAccount{
		UserID:            user.ID,
		ProfileID:         profile.ID,
		Email:             req.AdminEmail,
		FullName:          req.AdminName,
		TemporaryPassword: p.cfg.DefaultAdminPassword,
	}
	return nil
}

// seedApps inserts one apps row per requested catalog app. On failure the
// rows seeded so far are deleted before returning.
func (p *Provisioner) seedApps(ctx context.Context, apps []*catalog.App, createdBy uuid.UUID) ([]*models.AppCatalogEntry, error) {
	seeded := make([]*models.AppCatalogEntry, 0, len(apps))
	for _, app := range apps {
		entry, err := app.Entry()
		if err == nil {
			if createdBy != uuid.Nil {
				by := createdBy
				entry.CreatedBy = &by
			}
			err = p.deps.Apps.Create(ctx, entry)
		}
		if err != nil {
			if len(seeded) > 0 {
				if delErr := p.deps.Apps.DeleteAll(context.WithoutCancel(ctx)); delErr != nil {
					p.logger.Warn("Failed to remove partially seeded apps", zap.Error(delErr))
				}
			}
			return nil, fmt.Errorf("seed app %s: %w", app.Key, err)
		}
		seeded = append(seeded, entry)
	}
	return seeded, nil
}

// validate checks the request before any side effect and resolves the apps.
func (p *Provisioner) validate(ctx context.Context, req *ProvisionRequest) ([]*catalog.App, error) {
	req.Company.Name = strings.TrimSpace(req.Company.Name)
	req.AdminEmail = strings.TrimSpace(req.AdminEmail)
	req.AdminName = strings.TrimSpace(req.AdminName)

	if err := ValidateTenantName(req.Company.Name); err != nil {
		return nil, err
	}
	if req.AdminEmail == "" {
		return nil, fmt.Errorf("%w: admin email is required", apperrors.ErrInvalidRequest)
	}
	if _, err := mail.ParseAddress(req.AdminEmail); err != nil {
		return nil, fmt.Errorf("%w: admin email %q is invalid", apperrors.ErrInvalidRequest, req.AdminEmail)
	}
	if req.AdminName == "" {
		return nil, fmt.Errorf("%w: admin name is required", apperrors.ErrInvalidRequest)
	}
	if p.cfg.DefaultAdminPassword == "" {
		return nil, fmt.Errorf("default admin password is not configured")
	}

	keys := req.InitialApps
	if len(keys) == 0 {
		keys = p.cfg.DefaultApps
	}
	apps, err := p.deps.Catalog.Resolve(keys)
	if err != nil {
		return nil, err
	}

	// The name is quoted wherever it reaches SQL; screening only records the attempt.
	p.deps.Auditor.ScreenText(ctx, "", "company_name", req.Company.Name)
	return apps, nil
}

// SetStatus changes a tenant's status and drops cached state everywhere.
// Companies without a registry row are left alone.
func (p *Provisioner) SetStatus(ctx context.Context, tenantID, status string) error {
	if err := p.deps.Registry.SetStatus(ctx, tenantID, status); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	}
	_ = p.deps.Router.Invalidate(ctx, tenantID)
	p.deps.Auditor.LogTenantLifecycle(ctx, tenantID, "status_"+status)
	return nil
}

// Deprovision removes everything Provision created for tenantID. It can be
// re-run after a partial failure.
func (p *Provisioner) Deprovision(ctx context.Context, tenantID string) error {
	companyID, err := uuid.Parse(tenantID)
	if err != nil {
		return fmt.Errorf("company %q: %w", tenantID, apperrors.ErrNotFound)
	}
	d := p.deps

	company, err := d.Companies.Get(ctx, companyID)
	if err != nil {
		return err
	}

	if err := d.Registry.SetStatus(ctx, tenantID, models.TenantStatusDeprovisioning); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("mark tenant deprovisioning: %w", err)
	}
	_ = d.Router.Invalidate(ctx, tenantID)

	if err := d.Deployer.Drop(ctx, tenantID); err != nil {
		return err
	}
	if err := d.Registry.Delete(ctx, tenantID); err != nil {
		return err
	}
	if company.AdminUserID != nil {
		err := retry.DoIfRetryable(ctx, p.cfg.CompensationRetry, func() error {
			return d.Identity.DeleteUser(ctx, company.AdminUserID.String())
		})
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("delete admin identity: %w", err)
		}
	}
	if err := d.Companies.Delete(ctx, companyID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}

	p.deps.Auditor.LogTenantLifecycle(ctx, tenantID, "deprovisioned")
	p.logger.Info("Company deprovisioned", zap.String("tenant_id", tenantID))
	return nil
}

// record appends a provisioning event and counts it. Log failures do not
// affect the run.
func (p *Provisioner) record(ctx context.Context, tenantID string, stage models.ProvisioningStage, outcome string, cause error) {
	p.deps.Metrics.ObserveProvisioningStep(string(stage), outcome)

	event := &models.ProvisioningEvent{TenantID: tenantID, Stage: stage, Outcome: outcome}
	if cause != nil {
		event.Error = logging.SanitizeError(cause)
	}
	if err := p.deps.Events.Append(context.WithoutCancel(ctx), event); err != nil {
		p.logger.Warn("Failed to record provisioning event",
			zap.String("tenant_id", tenantID),
			zap.String("stage", string(stage)),
			zap.Error(err))
	}
}

func (p *Provisioner) setStage(ctx context.Context, companyID uuid.UUID, stage models.ProvisioningStage, errText string) {
	if err := p.deps.Companies.UpdateProvisioning(ctx, companyID, stage, errText); err != nil {
		p.logger.Warn("Failed to update provisioning status",
			zap.String("company_id", companyID.String()),
			zap.String("stage", string(stage)),
			zap.Error(err))
	}
}
