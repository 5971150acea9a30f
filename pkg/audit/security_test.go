package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/evidence-engine/pkg/auth"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
)

// setupTestLogger creates a test logger with an observer to capture log entries.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, recorded := observer.New(zapcore.DebugLevel)
	return zap.New(core), recorded
}

func decodeEvent(t *testing.T, entry observer.LoggedEntry) SecurityEvent {
	t.Helper()
	raw, ok := entry.ContextMap()["event_json"].(string)
	require.True(t, ok, "event_json field missing")
	var event SecurityEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &event))
	return event
}

func TestNewSecurityAuditor(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)
	require.NotNil(t, auditor)

	auditor.LogAuditEntry(&models.AuditLogEntry{ID: uuid.New(), Action: models.AuditActionLogout})
	require.Equal(t, 1, recorded.Len())
	assert.Equal(t, "security_audit", recorded.All()[0].LoggerName)
}

func TestLogInjectionAttempt(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	ctx := auth.WithSession(context.Background(), &models.AuthSession{OfficialID: "off-7"}, "tok")
	auditor.LogInjectionAttempt(ctx, InjectionDetails{
		Field:       "query",
		Value:       "' OR 1=1 -- mail me at jane@example.com",
		Kind:        "sqli",
		Fingerprint: "s&1c",
	}, "10.1.2.3")

	require.Equal(t, 1, recorded.Len())
	entry := recorded.All()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)

	fields := entry.ContextMap()
	assert.Equal(t, "off-7", fields["official_id"])
	assert.Equal(t, "s&1c", fields["fingerprint"])
	assert.Equal(t, SeverityCritical, fields["severity"])

	event := decodeEvent(t, entry)
	assert.Equal(t, EventInjectionAttempt, event.EventType)
	assert.Equal(t, "10.1.2.3", event.ClientIP)
	assert.NotContains(t, entry.ContextMap()["event_json"], "jane@example.com")
}

func TestLogInjectionAttempt_Anonymous(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	NewSecurityAuditor(logger).LogInjectionAttempt(context.Background(), InjectionDetails{Field: "query", Kind: "xss"}, "")

	require.Equal(t, 1, recorded.Len())
	assert.Equal(t, "", recorded.All()[0].ContextMap()["official_id"])
}

func TestLogAuditEntry(t *testing.T) {
	resource := "rec-1"
	caller := "192.168.1.100"

	tests := []struct {
		name      string
		outcome   models.AuditOutcome
		wantLevel zapcore.Level
		wantType  SecurityEventType
	}{
		{"success", models.AuditOutcomeSuccess, zapcore.InfoLevel, EventAuditedAction},
		{"denied", models.AuditOutcomeDenied, zapcore.WarnLevel, EventAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, recorded := setupTestLogger(t)
			auditor := NewSecurityAuditor(logger)

			auditor.LogAuditEntry(&models.AuditLogEntry{
				ID:            uuid.New(),
				OfficialID:    "off-1",
				OfficialEmail: "a@police.gov",
				Action:        models.AuditActionViewEvidence,
				Outcome:       tt.outcome,
				ResourceID:    &resource,
				CallerAddress: &caller,
				Timestamp:     time.Now().UTC(),
			})

			require.Equal(t, 1, recorded.Len())
			entry := recorded.All()[0]
			assert.Equal(t, tt.wantLevel, entry.Level)

			event := decodeEvent(t, entry)
			assert.Equal(t, tt.wantType, event.EventType)
			assert.Equal(t, "view_evidence", event.Action)
			assert.Equal(t, "rec-1", event.ResourceID)
			assert.Equal(t, caller, event.ClientIP)
		})
	}
}
