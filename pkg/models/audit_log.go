package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction enumerates the sensitive actions recorded in the audit log.
type AuditAction string

const (
	AuditActionLogin            AuditAction = "login"
	AuditActionLogout           AuditAction = "logout"
	AuditActionViewEvidence     AuditAction = "view_evidence"
	AuditActionSearchEvidence   AuditAction = "search_evidence"
	AuditActionExportData       AuditAction = "export_data"
	AuditActionWithdrawEvidence AuditAction = "withdraw_evidence"
	AuditActionUpdateStatus     AuditAction = "update_status"
)

// IsValid returns true if a is a known action.
func (a AuditAction) IsValid() bool {
	switch a {
	case AuditActionLogin, AuditActionLogout, AuditActionViewEvidence, AuditActionSearchEvidence,
		AuditActionExportData, AuditActionWithdrawEvidence, AuditActionUpdateStatus:
		return true
	}
	return false
}

// AuditOutcome records whether the audited attempt was allowed.
type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "success"
	AuditOutcomeDenied  AuditOutcome = "denied"
)

// Audit resource types.
const (
	AuditResourceEvidence = "evidence"
	AuditResourceSearch   = "search"
	AuditResourceSession  = "session"
	AuditResourceAuditLog = "audit_log"
)

// AuditLogEntry is one immutable row of the audit trail.
// Stored in evidence_audit_log; never updated or deleted.
type AuditLogEntry struct {
	ID            uuid.UUID      `json:"id"`
	OfficialID    string         `json:"officialId"`
	OfficialEmail string         `json:"officialEmail"`
	Action        AuditAction    `json:"action"`
	Outcome       AuditOutcome   `json:"outcome"`
	ResourceID    *string        `json:"resourceId,omitempty"`
	ResourceType  *string        `json:"resourceType,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	CallerAddress *string        `json:"callerAddress,omitempty"`
	ClientAgent   *string        `json:"clientAgent,omitempty"`
}

// AuditQuery filters audit trail exports. Zero values mean "any".
type AuditQuery struct {
	OfficialID string
	Action     AuditAction
	Outcome    AuditOutcome
	Since      *time.Time
	Limit      int
}
