package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chemforge-inc/chemforge-engine/pkg/auth"
	"github.com/chemforge-inc/chemforge-engine/pkg/models"
	"github.com/chemforge-inc/chemforge-engine/pkg/services"
	"github.com/chemforge-inc/chemforge-engine/pkg/tenancy"
)

const maxRequestBodyBytes = 1 << 20

// CreateCompanyResponse is the data of a successful POST /companies.
type CreateCompanyResponse struct {
	Company    *models.Company           `json:"company"`
	TenantID   string                    `json:"tenantId"`
	SchemaName string                    `json:"schemaName"`
	Admin      tenancy.AdminAccount      `json:"admin"`
	Apps       []*models.AppCatalogEntry `json:"apps"`
}

// DeleteCompanyResponse is the data of a successful DELETE /companies.
type DeleteCompanyResponse struct {
	ID      uuid.UUID `json:"id"`
	Deleted bool      `json:"deleted"`
}

// CompaniesHandler serves the company administration API.
type CompaniesHandler struct {
	companyService services.CompanyService
	logger         *zap.Logger
}

// NewCompaniesHandler creates a new companies handler.
func NewCompaniesHandler(companyService services.CompanyService, logger *zap.Logger) *CompaniesHandler {
	return &CompaniesHandler{
		companyService: companyService,
		logger:         logger,
	}
}

// RegisterRoutes registers the companies handler's routes on the given mux.
// Only platform admins may call them.
func (h *CompaniesHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("/companies", authMiddleware.RequirePlatformAdmin(h.ServeHTTP))
	mux.HandleFunc("GET /companies/events", authMiddleware.RequirePlatformAdmin(h.Events))
}

// ServeHTTP dispatches /companies by method.
func (h *CompaniesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Has("id") {
			h.Get(w, r)
			return
		}
		h.List(w, r)
	case http.MethodPost:
		h.Create(w, r)
	case http.MethodPut:
		h.Update(w, r)
	case http.MethodDelete:
		h.Delete(w, r)
	default:
		if err := MethodNotAllowed(w, "GET, POST, PUT, DELETE"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
	}
}

// Create handles POST /companies
func (h *CompaniesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req services.CreateCompanyRequest
	if !decodeJSONBody(w, r, &req, h.logger) {
		return
	}

	result, err := h.companyService.Create(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to create company")
		return
	}

	response := CreateCompanyResponse{
		Company:    result.Company,
		TenantID:   result.Tenant.TenantID,
		SchemaName: result.Tenant.SchemaName,
		Admin:      result.Admin,
		Apps:       result.Apps,
	}
	if err := SuccessResponse(w, http.StatusCreated, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /companies
func (h *CompaniesHandler) List(w http.ResponseWriter, r *http.Request) {
	companies, err := h.companyService.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to list companies")
		return
	}
	if companies == nil {
		companies = []*models.CompanyDetails{}
	}
	if err := SuccessResponse(w, http.StatusOK, companies); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /companies?id=
func (h *CompaniesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireID(w, r)
	if !ok {
		return
	}

	company, err := h.companyService.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get company")
		return
	}
	if err := SuccessResponse(w, http.StatusOK, company); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PUT /companies?id=
func (h *CompaniesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireID(w, r)
	if !ok {
		return
	}
	var update models.CompanyUpdate
	if !decodeJSONBody(w, r, &update, h.logger) {
		return
	}

	company, err := h.companyService.Update(r.Context(), id, &update)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to update company")
		return
	}
	if err := SuccessResponse(w, http.StatusOK, company); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /companies?id=
// Drops the tenant schema, the registry row and the admin identity.
func (h *CompaniesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireID(w, r)
	if !ok {
		return
	}

	if err := h.companyService.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "Failed to delete company")
		return
	}
	if err := SuccessResponse(w, http.StatusOK, DeleteCompanyResponse{ID: id, Deleted: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Events handles GET /companies/events?id=
// Returns the provisioning log of a company.
func (h *CompaniesHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireID(w, r)
	if !ok {
		return
	}

	events, err := h.companyService.Events(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to list provisioning events")
		return
	}
	if events == nil {
		events = []*models.ProvisioningEvent{}
	}
	if err := SuccessResponse(w, http.StatusOK, events); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *CompaniesHandler) requireID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("id"))
	if raw == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "Missing required parameter: id", ""); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "Invalid company id", raw); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

// decodeJSONBody decodes a bounded JSON body into dst, writing 400 on failure.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "Invalid request body", err.Error()); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return false
	}
	return true
}
