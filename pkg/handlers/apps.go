package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/chemforge-inc/chemforge-engine/pkg/auth"
	"github.com/chemforge-inc/chemforge-engine/pkg/models"
	"github.com/chemforge-inc/chemforge-engine/pkg/services"
)

// TenantMiddleware is a function that wraps a handler with tenant context.
type TenantMiddleware func(http.HandlerFunc) http.HandlerFunc

// SetAppStatusRequest is the body of PATCH /api/apps/{appKey}/status.
type SetAppStatusRequest struct {
	Status string `json:"status"`
}

// AppsHandler serves the caller's tenant apps.
type AppsHandler struct {
	appService services.AppService
	logger     *zap.Logger
}

// NewAppsHandler creates a new apps handler.
func NewAppsHandler(appService services.AppService, logger *zap.Logger) *AppsHandler {
	return &AppsHandler{appService: appService, logger: logger}
}

// RegisterRoutes registers the apps handler's routes on the given mux.
func (h *AppsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("GET /api/apps", authMiddleware.RequireAuth(tenantMiddleware(h.List)))
	mux.HandleFunc("PATCH /api/apps/{appKey}/status",
		authMiddleware.RequireAuth(auth.RequireRole(models.RoleAdmin)(tenantMiddleware(h.SetStatus))))
}

// List handles GET /api/apps
func (h *AppsHandler) List(w http.ResponseWriter, r *http.Request) {
	apps, err := h.appService.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to list apps")
		return
	}
	if apps == nil {
		apps = []*models.AppCatalogEntry{}
	}
	if err := SuccessResponse(w, http.StatusOK, apps); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// SetStatus handles PATCH /api/apps/{appKey}/status
func (h *AppsHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req SetAppStatusRequest
	if !decodeJSONBody(w, r, &req, h.logger) {
		return
	}

	app, err := h.appService.SetStatus(r.Context(), r.PathValue("appKey"), req.Status)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to update app status")
		return
	}
	if err := SuccessResponse(w, http.StatusOK, app); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
