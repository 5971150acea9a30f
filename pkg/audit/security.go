// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/auth"
	"github.com/ekaya-inc/evidence-engine/pkg/logging"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventInjectionAttempt is logged when libinjection flags a search query.
	EventInjectionAttempt SecurityEventType = "injection_attempt"
	// EventAccessDenied is logged for every denied login or authorization check.
	EventAccessDenied SecurityEventType = "access_denied"
	// EventAuditedAction is logged for every successful audited action.
	EventAuditedAction SecurityEventType = "audited_action"
)

// Severity levels attached to events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  SecurityEventType `json:"event_type"`
	OfficialID string            `json:"official_id,omitempty"`
	Email      string            `json:"email,omitempty"`
	Action     string            `json:"action,omitempty"`
	Outcome    string            `json:"outcome,omitempty"`
	ResourceID string            `json:"resource_id,omitempty"`
	ClientIP   string            `json:"client_ip,omitempty"`
	Details    any               `json:"details,omitempty"`
	Severity   string            `json:"severity"` // info, warning, critical
}

// InjectionDetails contains specifics of a flagged query.
type InjectionDetails struct {
	Field       string `json:"field"`
	Value       string `json:"value"`       // PII-redacted and truncated
	Kind        string `json:"kind"`        // sqli or xss
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
}

// SecurityAuditor logs security events for SIEM consumption.
// Events are logged in structured JSON format with appropriate severity levels.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
// The logger is automatically configured with "security_audit" namespace for easy
// filtering in SIEM systems.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	securityLogger := logger.Named("security_audit")
	return &SecurityAuditor{logger: securityLogger}
}

// LogInjectionAttempt records a search query flagged by libinjection.
// This is logged at ERROR level with "critical" severity for immediate alerting.
// The official is taken from the session in ctx when there is one.
func (a *SecurityAuditor) LogInjectionAttempt(ctx context.Context, details InjectionDetails, clientIP string) {
	officialID := auth.GetOfficialIDFromContext(ctx)
	details.Value = logging.SanitizeSearchQuery(details.Value)

	event := SecurityEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  EventInjectionAttempt,
		OfficialID: officialID,
		ClientIP:   clientIP,
		Details:    details,
		Severity:   SeverityCritical,
	}

	// Marshaling known types never fails.
	eventJSON, _ := json.Marshal(event)

	a.logger.Error("Injection attempt detected",
		zap.String("event_json", string(eventJSON)),
		zap.String("field", details.Field),
		zap.String("kind", details.Kind),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("client_ip", clientIP),
		zap.String("official_id", officialID),
		zap.String("severity", SeverityCritical),
	)
}

// LogAuditEntry mirrors one audit trail row as a security event. Denied
// entries are logged at WARN, everything else at INFO.
func (a *SecurityAuditor) LogAuditEntry(entry *models.AuditLogEntry) {
	eventType, severity := EventAuditedAction, SeverityInfo
	if entry.Outcome == models.AuditOutcomeDenied {
		eventType, severity = EventAccessDenied, SeverityWarning
	}

	event := SecurityEvent{
		Timestamp:  entry.Timestamp,
		EventType:  eventType,
		OfficialID: entry.OfficialID,
		Email:      entry.OfficialEmail,
		Action:     string(entry.Action),
		Outcome:    string(entry.Outcome),
		ResourceID: deref(entry.ResourceID),
		ClientIP:   deref(entry.CallerAddress),
		Details:    entry.Metadata,
		Severity:   severity,
	}
	eventJSON, _ := json.Marshal(event)

	fields := []zap.Field{
		zap.String("event_json", string(eventJSON)),
		zap.String("audit_id", entry.ID.String()),
		zap.String("action", string(entry.Action)),
		zap.String("outcome", string(entry.Outcome)),
		zap.String("official_id", entry.OfficialID),
		zap.String("client_ip", event.ClientIP),
		zap.String("severity", severity),
	}
	if eventType == EventAccessDenied {
		a.logger.Warn("Access denied", fields...)
		return
	}
	a.logger.Info("Audited action", fields...)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
