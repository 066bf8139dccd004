package tenancy

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"

	"github.com/chemforge-inc/chemforge-engine/pkg/apperrors"
)

// SchemaPrefix starts every tenant schema name.
const SchemaPrefix = "tenant_"

// MaxTenantNameLength bounds the free-text tenant name stored in schema comments.
const MaxTenantNameLength = 200

// tenantIDPattern is the allow-list for tenant ids. With the prefix the schema
// name stays under PostgreSQL's 63-byte identifier limit.
var tenantIDPattern = regexp.MustCompile(`^[a-z0-9-]{1,56}$`)

// ValidateTenantID rejects ids outside the allow-list before any DDL is built.
func ValidateTenantID(tenantID string) error {
	if !tenantIDPattern.MatchString(tenantID) {
		return fmt.Errorf("%w: tenant id %q must match %s", apperrors.ErrInvalidIdentifier, tenantID, tenantIDPattern)
	}
	return nil
}

// ValidateTenantName checks the free-text display name.
func ValidateTenantName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: tenant name is required", apperrors.ErrInvalidRequest)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: tenant name is not valid UTF-8", apperrors.ErrInvalidRequest)
	}
	if utf8.RuneCountInString(name) > MaxTenantNameLength {
		return fmt.Errorf("%w: tenant name exceeds %d characters", apperrors.ErrInvalidRequest, MaxTenantNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: tenant name contains control characters", apperrors.ErrInvalidRequest)
		}
	}
	return nil
}

// SchemaNameFor derives the schema name of a tenant. '-' maps to '_', which the
// allow-list does not accept, so distinct ids always yield distinct names.
func SchemaNameFor(tenantID string) (string, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return "", err
	}
	return SchemaPrefix + strings.ReplaceAll(tenantID, "-", "_"), nil
}

// QuoteIdent quotes a possibly qualified identifier, e.g. QuoteIdent(schema, "apps").
func QuoteIdent(parts ...string) string {
	return pgx.Identifier(parts).Sanitize()
}

// QuoteLiteral quotes s as a SQL string literal. Backslashes switch to the
// E'' form so the result is safe whatever standard_conforming_strings is.
func QuoteLiteral(s string) string {
	s = strings.ReplaceAll(s, "'", "''")
	if strings.Contains(s, `\`) {
		return `E'` + strings.ReplaceAll(s, `\`, `\\`) + `'`
	}
	return "'" + s + "'"
}
