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

// UserProfileRepository defines the interface for user profiles in a tenant schema.
type UserProfileRepository interface {
	Create(ctx context.Context, profile *models.UserProfile) error
	GetByAuthUserID(ctx context.Context, authUserID uuid.UUID) (*models.UserProfile, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type userProfileRepository struct{}

// NewUserProfileRepository creates a user profile repository.
func NewUserProfileRepository() UserProfileRepository {
	return &userProfileRepository{}
}

// Create inserts a profile for an identity provider user.
func (r *userProfileRepository) Create(ctx context.Context, profile *models.UserProfile) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}
	now := time.Now()
	profile.CreatedAt = now
	profile.UpdatedAt = now
	if profile.Role == "" {
		profile.Role = models.RoleMember
	}
	if profile.Status == "" {
		profile.Status = "active"
	}

	_, err := scope.Conn.Exec(ctx, `
		INSERT INTO user_profiles (id, auth_user_id, email, full_name, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		profile.ID,
		profile.AuthUserID,
		profile.Email,
		profile.FullName,
		profile.Role,
		profile.Status,
		profile.CreatedAt,
		profile.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("profile for user %s already exists: %w", profile.AuthUserID, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to create user profile: %w", err)
	}
	return nil
}

// GetByAuthUserID finds the profile of an identity provider user.
func (r *userProfileRepository) GetByAuthUserID(ctx context.Context, authUserID uuid.UUID) (*models.UserProfile, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	var p models.UserProfile
	err := scope.Conn.QueryRow(ctx, `
		SELECT id, auth_user_id, email, full_name, role, status, created_at, updated_at
		FROM user_profiles
		WHERE auth_user_id = $1`, authUserID).Scan(
		&p.ID,
		&p.AuthUserID,
		&p.Email,
		&p.FullName,
		&p.Role,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}
	return &p, nil
}

// Delete removes a profile.
func (r *userProfileRepository) Delete(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `DELETE FROM user_profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
