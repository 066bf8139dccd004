package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/chemforge-inc/chemforge-engine/pkg/config"
	"github.com/chemforge-inc/chemforge-engine/pkg/logging"
	"github.com/chemforge-inc/chemforge-engine/pkg/tenancy"
)

const healthCheckTimeout = 2 * time.Second

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// HealthResponse reports control-plane reachability and tenant cache state.
type HealthResponse struct {
	Status   string              `json:"status"`
	Database string              `json:"database"`
	Error    string              `json:"error,omitempty"`
	Handles  *tenancy.CacheStats `json:"handles,omitempty"`
	Registry *tenancy.CacheStats `json:"registry,omitempty"`
}

// Pinger checks a database connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CacheStatsProvider reports cache statistics.
type CacheStatsProvider interface {
	Stats() tenancy.CacheStats
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg      *config.Config
	db       Pinger
	router   CacheStatsProvider
	registry CacheStatsProvider
	logger   *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db, router and registry may be nil.
func NewHealthHandler(cfg *config.Config, db Pinger, router, registry CacheStatsProvider, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, db: db, router: router, registry: registry, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/ping", h.Ping)
}

// Health handles GET /health requests.
// Returns 503 when the control-plane database is unreachable.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			response.Status = "degraded"
			response.Database = "unreachable"
			response.Error = logging.SanitizeError(err)
			status = http.StatusServiceUnavailable
		}
	} else {
		response.Database = "not configured"
	}

	if h.router != nil {
		stats := h.router.Stats()
		response.Handles = &stats
	}
	if h.registry != nil {
		stats := h.registry.Stats()
		response.Registry = &stats
	}

	if err := WriteJSON(w, status, response); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "chemforge-engine",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
