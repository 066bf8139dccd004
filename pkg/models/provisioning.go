package models

import (
	"time"
)

// ProvisioningStage names one step of company provisioning.
type ProvisioningStage string

const (
	StageRecordCreated     ProvisioningStage = "record_created"
	StageSchemaDeployed    ProvisioningStage = "schema_deployed"
	StageRegistryPersisted ProvisioningStage = "registry_persisted"
	StageAdminCreated      ProvisioningStage = "admin_created"
	StageAppsSeeded        ProvisioningStage = "apps_seeded"
	StageDone              ProvisioningStage = "done"
	StageRolledBack        ProvisioningStage = "rolled_back"
)

// Provisioning event outcomes.
const (
	OutcomeCompleted          = "completed"
	OutcomeFailed             = "failed"
	OutcomeCompensated        = "compensated"
	OutcomeCompensationFailed = "compensation_failed"
)

// ProvisioningEvent is one entry of the provisioning log kept in the control plane.
type ProvisioningEvent struct {
	ID        int64             `json:"id"`
	TenantID  string            `json:"tenantId"`
	Stage     ProvisioningStage `json:"stage"`
	Outcome   string            `json:"outcome"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}
