// Package models contains domain types for chemforge-engine.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Company status values.
const (
	CompanyStatusActive    = "active"
	CompanyStatusSuspended = "suspended"
)

// Database type labels reported on company details.
const (
	DatabaseTypeIsolated = "Isolated Schema"
	DatabaseTypeLegacy   = "Shared (Legacy)"
)

// Company is the business record of one customer company in the control plane.
// Its ID doubles as the tenant id.
type Company struct {
	ID                 uuid.UUID  `json:"id"`
	Name               string     `json:"name"`
	ContactEmail       string     `json:"contactEmail,omitempty"`
	ContactPhone       string     `json:"contactPhone,omitempty"`
	Address            string     `json:"address,omitempty"`
	Industry           string     `json:"industry,omitempty"`
	BillingEmail       string     `json:"billingEmail,omitempty"`
	BillingAddress     string     `json:"billingAddress,omitempty"`
	SubscriptionPlan   string     `json:"subscriptionPlan,omitempty"`
	Status             string     `json:"status"`
	ProvisioningStatus string     `json:"provisioningStatus,omitempty"`
	ProvisioningError  string     `json:"provisioningError,omitempty"`
	AdminUserID        *uuid.UUID `json:"adminUserId,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// CompanyDetails is a company joined with its tenant registry row, if any.
// Companies created before schema isolation have no registry row.
type CompanyDetails struct {
	Company
	SchemaName          *string `json:"schemaName"`
	TenantStatus        *string `json:"tenantStatus,omitempty"`
	HasIsolatedDatabase bool    `json:"hasIsolatedDatabase"`
	DatabaseType        string  `json:"databaseType"`
}

// ResolveDatabaseType fills HasIsolatedDatabase and DatabaseType from SchemaName.
func (d *CompanyDetails) ResolveDatabaseType() {
	d.HasIsolatedDatabase = d.SchemaName != nil && *d.SchemaName != ""
	if d.HasIsolatedDatabase {
		d.DatabaseType = DatabaseTypeIsolated
	} else {
		d.DatabaseType = DatabaseTypeLegacy
	}
}

// CompanyUpdate holds the mutable business fields of a company.
// Nil fields are left unchanged.
type CompanyUpdate struct {
	Name             *string `json:"name,omitempty"`
	ContactEmail     *string `json:"contactEmail,omitempty"`
	ContactPhone     *string `json:"contactPhone,omitempty"`
	Address          *string `json:"address,omitempty"`
	Industry         *string `json:"industry,omitempty"`
	BillingEmail     *string `json:"billingEmail,omitempty"`
	BillingAddress   *string `json:"billingAddress,omitempty"`
	SubscriptionPlan *string `json:"subscriptionPlan,omitempty"`
	Status           *string `json:"status,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u *CompanyUpdate) IsEmpty() bool {
	return u.Name == nil && u.ContactEmail == nil && u.ContactPhone == nil &&
		u.Address == nil && u.Industry == nil && u.BillingEmail == nil &&
		u.BillingAddress == nil && u.SubscriptionPlan == nil && u.Status == nil
}

// Apply copies the non-nil fields onto c.
func (u *CompanyUpdate) Apply(c *Company) {
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.ContactEmail != nil {
		c.ContactEmail = *u.ContactEmail
	}
	if u.ContactPhone != nil {
		c.ContactPhone = *u.ContactPhone
	}
	if u.Address != nil {
		c.Address = *u.Address
	}
	if u.Industry != nil {
		c.Industry = *u.Industry
	}
	if u.BillingEmail != nil {
		c.BillingEmail = *u.BillingEmail
	}
	if u.BillingAddress != nil {
		c.BillingAddress = *u.BillingAddress
	}
	if u.SubscriptionPlan != nil {
		c.SubscriptionPlan = *u.SubscriptionPlan
	}
	if u.Status != nil {
		c.Status = *u.Status
	}
}

// IsValidCompanyStatus checks a status value accepted on update.
func IsValidCompanyStatus(status string) bool {
	return status == CompanyStatusActive || status == CompanyStatusSuspended
}
