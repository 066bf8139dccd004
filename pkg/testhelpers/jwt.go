// Package testhelpers provides utilities for testing chemforge-engine components.
package testhelpers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// GenerateTestJWT creates a test JWT token for use when verification is disabled.
// The token has a valid structure but no signature (alg: none).
// tenantID and role end up in app_metadata the way the identity provider issues them.
func GenerateTestJWT(sub, tenantID, email, role string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	payload := map[string]any{
		"sub":  sub,
		"role": "authenticated",
	}
	if email != "" {
		payload["email"] = email
	}
	meta := map[string]string{}
	if tenantID != "" {
		meta["tenant_id"] = tenantID
	}
	if role != "" {
		meta["role"] = role
	}
	payload["app_metadata"] = meta

	raw, _ := json.Marshal(payload)
	return fmt.Sprintf("%s.%s.", header, base64.RawURLEncoding.EncodeToString(raw))
}

// GenerateTestJWTWithBearer returns token with "Bearer " prefix for Authorization header.
func GenerateTestJWTWithBearer(sub, tenantID, email, role string) string {
	return "Bearer " + GenerateTestJWT(sub, tenantID, email, role)
}
