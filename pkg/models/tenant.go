package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Tenant status values.
const (
	TenantStatusActive         = "active"
	TenantStatusSuspended      = "suspended"
	TenantStatusDeprovisioning = "deprovisioning"
)

// Tenant is one row of the tenant registry: the mapping from tenant id to its
// isolated schema.
type Tenant struct {
	TenantID     string     `json:"tenantId"`
	CompanyID    *uuid.UUID `json:"companyId,omitempty"`
	TenantName   string     `json:"tenantName"`
	SchemaName   string     `json:"schemaName"`
	DatabaseName string     `json:"databaseName"`
	Status       string     `json:"status"`
	// Connection is stored encrypted and never serialized to API clients.
	// Nil means the tenant schema lives on the control-plane cluster.
	Connection *ConnectionDescriptor `json:"-"`
	Metadata   JSONBMap              `json:"metadata,omitempty"`
	CreatedAt  time.Time             `json:"createdAt"`
	UpdatedAt  time.Time             `json:"updatedAt"`
}

// ConnectionDescriptor locates the cluster holding a tenant's schema.
type ConnectionDescriptor struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"sslMode,omitempty"`
}

// URL returns a pgx connection URL for the descriptor.
func (d *ConnectionDescriptor) URL() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Database,
		RawQuery: "sslmode=" + url.QueryEscape(sslMode),
	}
	return u.String()
}

// IsActive reports whether requests may be routed to the tenant.
func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// Clone returns a copy that does not share the metadata map.
func (t *Tenant) Clone() *Tenant {
	c := *t
	if t.Connection != nil {
		conn := *t.Connection
		c.Connection = &conn
	}
	if t.Metadata != nil {
		c.Metadata = make(JSONBMap, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// JSONBMap is a map type that handles PostgreSQL JSONB serialization.
type JSONBMap map[string]interface{}

// Value implements driver.Valuer for database serialization.
func (j JSONBMap) Value() (driver.Value, error) {
	if j == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner for database deserialization.
func (j *JSONBMap) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("cannot scan %T into JSONBMap", value)
	}
}
