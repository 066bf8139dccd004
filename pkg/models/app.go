package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// App status values.
const (
	AppStatusActive   = "active"
	AppStatusInactive = "inactive"
)

// AppCatalogEntry describes one capability enabled for a tenant. Rows live in
// the tenant's own apps table.
type AppCatalogEntry struct {
	ID          uuid.UUID       `json:"id"`
	AppKey      string          `json:"appKey"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Icon        string          `json:"icon"`
	Color       string          `json:"color"`
	TableName   string          `json:"tableName"`
	FieldSchema json.RawMessage `json:"fieldSchema"`
	Status      string          `json:"status"`
	CreatedBy   *uuid.UUID      `json:"createdBy,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// IsValidAppStatus checks an app status value.
func IsValidAppStatus(status string) bool {
	return status == AppStatusActive || status == AppStatusInactive
}
