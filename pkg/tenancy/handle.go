package tenancy

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/chemforge-inc/chemforge-engine/pkg/apperrors"
	"github.com/chemforge-inc/chemforge-engine/pkg/database"
	"github.com/chemforge-inc/chemforge-engine/pkg/logging"
	"github.com/chemforge-inc/chemforge-engine/pkg/models"
	"github.com/chemforge-inc/chemforge-engine/pkg/retry"
)

// PoolHandleConfig configures the per-tenant pools opened by the default factory.
type PoolHandleConfig struct {
	// BaseURL is used for tenants whose schema lives on the control-plane cluster.
	BaseURL     string
	MaxConns    int32
	MinConns    int32
	MaxConnIdle time.Duration
	Retry       *retry.Config
}

type poolHandle struct {
	tenantID string
	schema   string
	pool     *pgxpool.Pool
}

func (h *poolHandle) TenantID() string   { return h.tenantID }
func (h *poolHandle) SchemaName() string { return h.schema }
func (h *poolHandle) Close()             { h.pool.Close() }

func (h *poolHandle) Acquire(ctx context.Context) (*database.TenantScope, error) {
	conn, err := h.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return database.NewTenantScope(conn, h.tenantID, h.schema), nil
}

// NewPoolHandleFactory returns a HandleFactory that opens one small pgxpool
// per tenant. Every physical connection gets the tenant's search_path and
// app.current_tenant_id when it is opened.
func NewPoolHandleFactory(cfg PoolHandleConfig, logger *zap.Logger) HandleFactory {
	logger = logger.Named("tenant_pool")

	return func(ctx context.Context, tenant *models.Tenant) (Handle, error) {
		schema, err := SchemaNameFor(tenant.TenantID)
		if err != nil {
			return nil, err
		}

		url := cfg.BaseURL
		if tenant.Connection != nil {
			url = tenant.Connection.URL()
		}

		tenantID := tenant.TenantID
		dbCfg := &database.Config{
			URL:             url,
			MaxConnections:  cfg.MaxConns,
			MinConnections:  cfg.MinConns,
			MaxConnIdleTime: cfg.MaxConnIdle,
			AfterConnect: func(ctx context.Context, conn *pgx.Conn) error {
				_, err := conn.Exec(ctx,
					`SELECT set_config('search_path', $1, false), set_config($2, $3, false)`,
					QuoteIdent(schema), TenantSettingKey, tenantID)
				return err
			},
		}

		// NewPool pings, which opens the first connection and runs AfterConnect.
		pool, err := retry.DoWithResult(ctx, cfg.Retry, func() (*pgxpool.Pool, error) {
			return database.NewPool(ctx, dbCfg)
		})
		if err != nil {
			logger.Error("Failed to open tenant pool",
				zap.String("tenant_id", tenantID),
				zap.String("url", logging.SanitizeConnectionString(url)),
				zap.String("error", logging.SanitizeError(err)))
			return nil, err
		}

		var exists bool
		if err := pool.QueryRow(ctx, `SELECT to_regnamespace($1) IS NOT NULL`, schema).Scan(&exists); err != nil {
			pool.Close()
			return nil, fmt.Errorf("check schema %s: %w", schema, err)
		}
		if !exists {
			pool.Close()
			return nil, fmt.Errorf("schema %s is missing: %w", schema, apperrors.ErrTenantNotProvisioned)
		}

		return &poolHandle{tenantID: tenantID, schema: schema, pool: pool}, nil
	}
}
