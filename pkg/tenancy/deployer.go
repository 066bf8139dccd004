package tenancy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/chemforge-inc/chemforge-engine/pkg/apperrors"
)

// TenantSettingKey is the session setting every tenant RLS policy compares
// against. The router sets it on each tenant connection.
const TenantSettingKey = "app.current_tenant_id"

const policyName = "tenant_isolation"

// tenantTable is one table of the per-tenant schema.
type tenantTable struct {
	name    string
	columns string
	indexes []tenantIndex
}

type tenantIndex struct {
	name    string
	columns string
	unique  bool
}

// tenantTables lists the tenant tables in dependency order.
var tenantTables = []tenantTable{
	{
		name: "user_profiles",
		columns: `id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	auth_user_id UUID NOT NULL,
	email TEXT NOT NULL,
	full_name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('admin', 'member', 'viewer')),
	status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive')),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()`,
		indexes: []tenantIndex{
			{name: "idx_user_profiles_auth_user_id", columns: "auth_user_id", unique: true},
			{name: "idx_user_profiles_email", columns: "lower(email)"},
		},
	},
	{
		name: "apps",
		columns: `id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	app_key TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	icon TEXT NOT NULL DEFAULT '',
	color TEXT NOT NULL DEFAULT '',
	table_name TEXT NOT NULL,
	field_schema JSONB NOT NULL DEFAULT '{}'::jsonb,
	status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive')),
	created_by UUID REFERENCES user_profiles(id) ON DELETE SET NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()`,
		indexes: []tenantIndex{
			{name: "idx_apps_app_key", columns: "app_key", unique: true},
		},
	},
	{
		name: "app_data",
		columns: `id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	app_id UUID NOT NULL REFERENCES apps(id) ON DELETE CASCADE,
	data JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_by UUID REFERENCES user_profiles(id) ON DELETE SET NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()`,
		indexes: []tenantIndex{
			{name: "idx_app_data_app_id", columns: "app_id"},
			{name: "idx_app_data_created_at", columns: "created_at DESC"},
		},
	},
	{
		name: "suppliers",
		columns: `id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name TEXT NOT NULL,
	contact_email TEXT,
	contact_phone TEXT,
	address TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()`,
		indexes: []tenantIndex{
			{name: "idx_suppliers_name", columns: "name"},
		},
	},
	{
		name: "raw_materials",
		columns: `id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name TEXT NOT NULL,
	cas_number TEXT,
	supplier_id UUID REFERENCES suppliers(id) ON DELETE SET NULL,
	unit TEXT NOT NULL DEFAULT 'kg',
	unit_cost NUMERIC(12, 4),
	stock_quantity NUMERIC(14, 4) NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()`,
		indexes: []tenantIndex{
			{name: "idx_raw_materials_supplier_id", columns: "supplier_id"},
			{name: "idx_raw_materials_cas_number", columns: "cas_number"},
		},
	},
	{
		name: "formulas",
		columns: `id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'approved', 'archived')),
	ingredients JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_by UUID REFERENCES user_profiles(id) ON DELETE SET NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()`,
		indexes: []tenantIndex{
			{name: "idx_formulas_name_version", columns: "name, version", unique: true},
		},
	},
}

// TenantTableNames returns the tables created in every tenant schema.
func TenantTableNames() []string {
	names := make([]string, len(tenantTables))
	for i, t := range tenantTables {
		names[i] = t.name
	}
	return names
}

// BuildDeploymentScript returns the ordered statements that create or update
// a tenant schema. Every statement is safe to re-run. The tenant id is
// validated before any text is built.
func BuildDeploymentScript(tenantID, tenantName string) ([]string, error) {
	schema, err := SchemaNameFor(tenantID)
	if err != nil {
		return nil, err
	}
	if err := ValidateTenantName(tenantName); err != nil {
		return nil, err
	}

	quotedSchema := QuoteIdent(schema)
	tenantLiteral := QuoteLiteral(tenantID)
	predicate := fmt.Sprintf("current_setting(%s, true) = %s", QuoteLiteral(TenantSettingKey), tenantLiteral)

	stmts := []string{
		// Serializes concurrent deployments of the same tenant.
		fmt.Sprintf("SELECT pg_advisory_xact_lock(hashtext(%s))", QuoteLiteral(schema)),
		"CREATE SCHEMA IF NOT EXISTS " + quotedSchema,
		fmt.Sprintf("COMMENT ON SCHEMA %s IS %s", quotedSchema, QuoteLiteral(tenantName)),
	}

	for _, t := range tenantTables {
		qualified := QuoteIdent(schema, t.name)
		// Unqualified REFERENCES resolve through search_path, so pin it to the schema.
		cols := qualifyReferences(schema, t.columns)
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", qualified, cols))

		for _, idx := range t.indexes {
			kind := "INDEX"
			if idx.unique {
				kind = "UNIQUE INDEX"
			}
			stmts = append(stmts, fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)",
				kind, QuoteIdent(idx.name), qualified, idx.columns))
		}

		stmts = append(stmts,
			fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", qualified),
			fmt.Sprintf("ALTER TABLE %s FORCE ROW LEVEL SECURITY", qualified),
			fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s", QuoteIdent(policyName), qualified),
			fmt.Sprintf("CREATE POLICY %s ON %s USING (%s) WITH CHECK (%s)",
				QuoteIdent(policyName), qualified, predicate, predicate),
		)
	}

	return stmts, nil
}

// qualifyReferences rewrites "REFERENCES <table>(" to the schema-qualified form.
func qualifyReferences(schema, columns string) string {
	out := columns
	for _, t := range tenantTables {
		out = strings.ReplaceAll(out, "REFERENCES "+t.name+"(", "REFERENCES "+QuoteIdent(schema, t.name)+"(")
	}
	return out
}

// SchemaDB is the database surface the deployer needs.
type SchemaDB interface {
	// ExecScript runs all statements in one transaction.
	ExecScript(ctx context.Context, stmts []string) error
	SchemaExists(ctx context.Context, schema string) (bool, error)
}

type pgSchemaDB struct {
	pool *pgxpool.Pool
}

// NewPostgresSchemaDB returns a SchemaDB backed by the control-plane pool.
func NewPostgresSchemaDB(pool *pgxpool.Pool) SchemaDB {
	return &pgSchemaDB{pool: pool}
}

func (p *pgSchemaDB) ExecScript(ctx context.Context, stmts []string) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		for i, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("statement %d: %w", i+1, err)
			}
		}
		return nil
	})
}

func (p *pgSchemaDB) SchemaExists(ctx context.Context, schema string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`,
		schema).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check schema %s: %w", schema, err)
	}
	return exists, nil
}

// Deployer creates and drops tenant schemas.
type Deployer struct {
	db     SchemaDB
	logger *zap.Logger
}

// NewDeployer creates a Deployer.
func NewDeployer(db SchemaDB, logger *zap.Logger) *Deployer {
	return &Deployer{db: db, logger: logger.Named("deployer")}
}

// Deploy creates the tenant schema with its tables, indexes and policies.
// Running it again on a deployed schema changes nothing.
func (d *Deployer) Deploy(ctx context.Context, tenantID, tenantName string) error {
	stmts, err := BuildDeploymentScript(tenantID, tenantName)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := d.db.ExecScript(ctx, stmts); err != nil {
		d.logger.Error("Schema deployment failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return fmt.Errorf("%w: tenant %s: %w", apperrors.ErrDeploymentFailed, tenantID, err)
	}

	d.logger.Info("Tenant schema deployed",
		zap.String("tenant_id", tenantID),
		zap.Int("statements", len(stmts)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Drop removes the tenant schema and everything in it.
func (d *Deployer) Drop(ctx context.Context, tenantID string) error {
	schema, err := SchemaNameFor(tenantID)
	if err != nil {
		return err
	}

	if err := d.db.ExecScript(ctx, []string{"DROP SCHEMA IF EXISTS " + QuoteIdent(schema) + " CASCADE"}); err != nil {
		return fmt.Errorf("drop schema for tenant %s: %w", tenantID, err)
	}

	d.logger.Info("Tenant schema dropped", zap.String("tenant_id", tenantID))
	return nil
}

// SchemaExists reports whether the tenant schema is present.
func (d *Deployer) SchemaExists(ctx context.Context, tenantID string) (bool, error) {
	schema, err := SchemaNameFor(tenantID)
	if err != nil {
		return false, err
	}
	return d.db.SchemaExists(ctx, schema)
}
