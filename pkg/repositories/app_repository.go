package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chemforge-inc/chemforge-engine/pkg/apperrors"
	"github.com/chemforge-inc/chemforge-engine/pkg/database"
	"github.com/chemforge-inc/chemforge-engine/pkg/models"
)

// AppRepository defines the interface for a tenant's enabled apps.
// All methods run on the tenant scope carried by the context.
type AppRepository interface {
	Create(ctx context.Context, app *models.AppCatalogEntry) error
	List(ctx context.Context) ([]*models.AppCatalogEntry, error)
	SetStatus(ctx context.Context, appKey, status string) (*models.AppCatalogEntry, error)
	DeleteAll(ctx context.Context) error
}

type appRepository struct{}

// NewAppRepository creates a tenant app repository.
func NewAppRepository() AppRepository {
	return &appRepository{}
}

// Create inserts an app row. Seeding the same key twice returns apperrors.ErrConflict.
func (r *appRepository) Create(ctx context.Context, app *models.AppCatalogEntry) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if app.ID == uuid.Nil {
		app.ID = uuid.New()
	}
	now := time.Now()
	app.CreatedAt = now
	app.UpdatedAt = now
	if app.Status == "" {
		app.Status = models.AppStatusActive
	}
	fieldSchema := app.FieldSchema
	if len(fieldSchema) == 0 {
		fieldSchema = []byte("{}")
	}

	query := `
		INSERT INTO apps (id, app_key, name, description, icon, color, table_name,
			field_schema, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := scope.Conn.Exec(ctx, query,
		app.ID,
		app.AppKey,
		app.Name,
		app.Description,
		app.Icon,
		app.Color,
		app.TableName,
		fieldSchema,
		app.Status,
		app.CreatedBy,
		app.CreatedAt,
		app.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("app %s already enabled: %w", app.AppKey, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to create app: %w", err)
	}
	return nil
}

const appColumns = `id, app_key, name, description, icon, color, table_name,
	field_schema, status, created_by, created_at, updated_at`

func scanApp(row pgx.Row) (*models.AppCatalogEntry, error) {
	var a models.AppCatalogEntry
	var fieldSchema []byte
	err := row.Scan(
		&a.ID,
		&a.AppKey,
		&a.Name,
		&a.Description,
		&a.Icon,
		&a.Color,
		&a.TableName,
		&fieldSchema,
		&a.Status,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.FieldSchema = fieldSchema
	return &a, nil
}

// List returns the tenant's apps ordered by name.
func (r *appRepository) List(ctx context.Context) ([]*models.AppCatalogEntry, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `SELECT `+appColumns+` FROM apps ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}
	defer rows.Close()

	apps := make([]*models.AppCatalogEntry, 0)
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan app: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating apps: %w", err)
	}
	return apps, nil
}

// SetStatus enables or disables an app and returns the updated row.
func (r *appRepository) SetStatus(ctx context.Context, appKey, status string) (*models.AppCatalogEntry, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	app, err := scanApp(scope.Conn.QueryRow(ctx, `
		UPDATE apps SET status = $2, updated_at = now()
		WHERE app_key = $1
		RETURNING `+appColumns, appKey, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update app status: %w", err)
	}
	return app, nil
}

// DeleteAll removes every app row of the tenant.
func (r *appRepository) DeleteAll(ctx context.Context) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if _, err := scope.Conn.Exec(ctx, `DELETE FROM apps`); err != nil {
		return fmt.Errorf("failed to delete apps: %w", err)
	}
	return nil
}
