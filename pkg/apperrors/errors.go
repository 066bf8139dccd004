package apperrors

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrInvalidRequest = errors.New("invalid request")

	// ErrTenantNotProvisioned means the tenant has no registry row yet. It is an
	// expected state, surfaced to API callers as 404.
	ErrTenantNotProvisioned = errors.New("tenant not provisioned")
	ErrTenantSuspended      = errors.New("tenant suspended")

	ErrInvalidIdentifier   = errors.New("invalid identifier")
	ErrDeploymentFailed    = errors.New("schema deployment failed")
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
)
