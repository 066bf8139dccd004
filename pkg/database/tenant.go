package database

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// TenantScope wraps a connection from a tenant's pool.
// The connection's search_path and app.current_tenant_id are fixed to the tenant
// when it is opened, so RLS policies in the tenant schema match only that tenant.
type TenantScope struct {
	Conn     *pgxpool.Conn
	TenantID string
	Schema   string
}

// NewTenantScope wraps an acquired tenant connection.
func NewTenantScope(conn *pgxpool.Conn, tenantID, schema string) *TenantScope {
	return &TenantScope{Conn: conn, TenantID: tenantID, Schema: schema}
}

// Close releases the connection back to the tenant's pool.
// This MUST be called once the request is done with the scope.
func (s *TenantScope) Close() {
	if s == nil || s.Conn == nil {
		return
	}
	s.Conn.Release()
	s.Conn = nil
}
