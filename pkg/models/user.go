package models

import (
	"time"

	"github.com/google/uuid"
)

// UserProfile is a user's profile row inside a tenant schema.
type UserProfile struct {
	ID         uuid.UUID `json:"id"`
	AuthUserID uuid.UUID `json:"authUserId"`
	Email      string    `json:"email"`
	FullName   string    `json:"fullName"`
	Role       string    `json:"role"` // 'admin', 'member', 'viewer'
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Role constants for users within a tenant.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)
