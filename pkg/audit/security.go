// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"context"
	"encoding/json"
	"time"

	libinjection "github.com/corazawaf/libinjection-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chemforge-inc/chemforge-engine/pkg/auth"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventInjectionAttempt is logged when libinjection flags free text bound for DDL or storage.
	EventInjectionAttempt SecurityEventType = "injection_attempt"
	// EventTenantLifecycle is logged when a tenant is provisioned, suspended, resumed or removed.
	EventTenantLifecycle SecurityEventType = "tenant_lifecycle"
	// EventTenantAccessDenied is logged when a request is refused routing to a tenant.
	EventTenantAccessDenied SecurityEventType = "tenant_access_denied"
)

// SecurityEvent represents an auditable security event.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	TenantID  string            `json:"tenant_id"`
	UserID    string            `json:"user_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// InjectionDetails contains specifics of a flagged input.
type InjectionDetails struct {
	Field       string `json:"field"`
	Value       string `json:"value"`
	Kind        string `json:"kind"`                  // sqli or xss
	Fingerprint string `json:"fingerprint,omitempty"` // libinjection fingerprint for sqli
}

type clientIPKey struct{}

// WithClientIP stores the caller's address for later audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext returns the address stored by WithClientIP, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor under the "security_audit" logger name.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// ScreenText runs libinjection over a free-text value and logs a critical
// event when it looks like SQL injection or XSS. It returns true if flagged.
// Flagged values are still stored as quoted literals; screening is for alerting.
func (a *SecurityAuditor) ScreenText(ctx context.Context, tenantID, field, value string) bool {
	details := InjectionDetails{Field: field, Value: value}

	if isSQLi, fingerprint := libinjection.IsSQLi(value); isSQLi {
		details.Kind = "sqli"
		details.Fingerprint = string(fingerprint)
	} else if libinjection.IsXSS(value) {
		details.Kind = "xss"
	} else {
		return false
	}

	a.log(ctx, zapcore.ErrorLevel, "Injection pattern detected in input", SecurityEvent{
		EventType: EventInjectionAttempt,
		TenantID:  tenantID,
		Details:   details,
		Severity:  "critical",
	}, zap.String("field", field), zap.String("kind", details.Kind), zap.String("fingerprint", details.Fingerprint))
	return true
}

// LogTenantLifecycle records a tenant lifecycle change (provisioned, deprovisioned, suspended, ...).
func (a *SecurityAuditor) LogTenantLifecycle(ctx context.Context, tenantID, action string) {
	a.log(ctx, zapcore.InfoLevel, "Tenant lifecycle change", SecurityEvent{
		EventType: EventTenantLifecycle,
		TenantID:  tenantID,
		Details:   map[string]string{"action": action},
		Severity:  "info",
	}, zap.String("action", action))
}

// LogTenantAccessDenied records a request refused routing to a tenant.
func (a *SecurityAuditor) LogTenantAccessDenied(ctx context.Context, tenantID, reason string) {
	a.log(ctx, zapcore.WarnLevel, "Tenant access denied", SecurityEvent{
		EventType: EventTenantAccessDenied,
		TenantID:  tenantID,
		Details:   map[string]string{"reason": reason},
		Severity:  "warning",
	}, zap.String("reason", reason))
}

func (a *SecurityAuditor) log(ctx context.Context, level zapcore.Level, msg string, event SecurityEvent, extra ...zap.Field) {
	event.Timestamp = time.Now().UTC()
	event.UserID = auth.GetUserIDFromContext(ctx)
	event.ClientIP = ClientIPFromContext(ctx)

	// Marshaling known types cannot fail
	eventJSON, _ := json.Marshal(event)

	fields := append([]zap.Field{
		zap.String("event_json", string(eventJSON)),
		zap.String("tenant_id", event.TenantID),
		zap.String("client_ip", event.ClientIP),
		zap.String("user_id", event.UserID),
		zap.String("severity", event.Severity),
	}, extra...)

	if ce := a.logger.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}
