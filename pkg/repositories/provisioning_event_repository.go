package repositories

import (
	"context"
	"fmt"

	"github.com/chemforge-inc/chemforge-engine/pkg/database"
	"github.com/chemforge-inc/chemforge-engine/pkg/models"
)

// ProvisioningEventRepository defines the interface for the provisioning log.
type ProvisioningEventRepository interface {
	Append(ctx context.Context, event *models.ProvisioningEvent) error
	ListByTenant(ctx context.Context, tenantID string) ([]*models.ProvisioningEvent, error)
}

type provisioningEventRepository struct {
	db database.Querier
}

// NewProvisioningEventRepository creates a provisioning log repository.
func NewProvisioningEventRepository(db database.Querier) ProvisioningEventRepository {
	return &provisioningEventRepository{db: db}
}

// Append writes one event and fills its ID and CreatedAt.
func (r *provisioningEventRepository) Append(ctx context.Context, event *models.ProvisioningEvent) error {
	var errText *string
	if event.Error != "" {
		errText = &event.Error
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO provisioning_events (tenant_id, stage, outcome, error)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		event.TenantID, string(event.Stage), event.Outcome, errText,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append provisioning event: %w", err)
	}
	return nil
}

// ListByTenant returns the events of a tenant in the order they were written.
func (r *provisioningEventRepository) ListByTenant(ctx context.Context, tenantID string) ([]*models.ProvisioningEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, tenant_id, stage, outcome, COALESCE(error, ''), created_at
		FROM provisioning_events
		WHERE tenant_id = $1
		ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list provisioning events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.ProvisioningEvent, 0)
	for rows.Next() {
		var e models.ProvisioningEvent
		var stage string
		if err := rows.Scan(&e.ID, &e.TenantID, &stage, &e.Outcome, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan provisioning event: %w", err)
		}
		e.Stage = models.ProvisioningStage(stage)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provisioning events: %w", err)
	}
	return events, nil
}
