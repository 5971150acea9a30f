package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/audit"
	"github.com/ekaya-inc/evidence-engine/pkg/auth"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
	"github.com/ekaya-inc/evidence-engine/pkg/repositories"
)

// AuditService writes the audit trail. Every recorded entry is persisted
// once and mirrored once to the security_audit log.
// Caller address and client agent come from the provenance in ctx.
type AuditService interface {
	// Record appends entry to the trail.
	Record(ctx context.Context, entry *models.AuditLogEntry) error

	// List returns entries matching q, newest first.
	List(ctx context.Context, q models.AuditQuery) ([]*models.AuditLogEntry, error)

	// Export lists entries for the official in ctx and records the export.
	// Nothing is returned if the export cannot be audited.
	Export(ctx context.Context, q models.AuditQuery) ([]*models.AuditLogEntry, error)
}

type auditService struct {
	repo     repositories.AuditRepository
	security *audit.SecurityAuditor
	logger   *zap.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(repo repositories.AuditRepository, security *audit.SecurityAuditor, logger *zap.Logger) AuditService {
	return &auditService{
		repo:     repo,
		security: security,
		logger:   logger.Named("audit-service"),
	}
}

var _ AuditService = (*auditService)(nil)

func (s *auditService) Record(ctx context.Context, entry *models.AuditLogEntry) error {
	if prov, ok := models.GetProvenance(ctx); ok {
		if entry.CallerAddress == nil && prov.CallerAddress != "" {
			addr := prov.CallerAddress
			entry.CallerAddress = &addr
		}
		if entry.ClientAgent == nil && prov.ClientAgent != "" {
			agent := prov.ClientAgent
			entry.ClientAgent = &agent
		}
		if prov.Source != "" {
			if entry.Metadata == nil {
				entry.Metadata = map[string]any{}
			}
			entry.Metadata["source"] = prov.Source.String()
		}
	}

	// The trail must be written even when the caller has gone away.
	if err := s.repo.Create(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Error("Failed to create audit log entry",
			zap.String("action", string(entry.Action)),
			zap.String("outcome", string(entry.Outcome)),
			zap.String("official_id", entry.OfficialID),
			zap.Error(err))
		return fmt.Errorf("create audit log entry: %w", err)
	}

	if s.security != nil {
		s.security.LogAuditEntry(entry)
	}
	return nil
}

func (s *auditService) List(ctx context.Context, q models.AuditQuery) ([]*models.AuditLogEntry, error) {
	entries, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	return entries, nil
}

func (s *auditService) Export(ctx context.Context, q models.AuditQuery) ([]*models.AuditLogEntry, error) {
	entries, err := s.List(ctx, q)
	if err != nil {
		return nil, err
	}

	entry := withResource(newAuditEntry(sessionFrom(ctx), models.AuditActionExportData, models.AuditOutcomeSuccess),
		models.AuditResourceAuditLog, "")
	entry.Metadata["count"] = len(entries)
	if q.OfficialID != "" {
		entry.Metadata["officialId"] = q.OfficialID
	}
	if q.Action != "" {
		entry.Metadata["action"] = string(q.Action)
	}
	if q.Outcome != "" {
		entry.Metadata["outcome"] = string(q.Outcome)
	}
	if err := s.Record(ctx, entry); err != nil {
		return nil, err
	}
	return entries, nil
}

// newAuditEntry starts an entry attributed to session, which may be nil for
// anonymous or failed attempts.
func newAuditEntry(session *models.AuthSession, action models.AuditAction, outcome models.AuditOutcome) *models.AuditLogEntry {
	entry := &models.AuditLogEntry{
		Action:   action,
		Outcome:  outcome,
		Metadata: map[string]any{},
	}
	if session != nil {
		entry.OfficialID = session.OfficialID
		entry.OfficialEmail = session.Email
	}
	return entry
}

// sessionFrom returns the authenticated session in ctx, or nil.
func sessionFrom(ctx context.Context) *models.AuthSession {
	session, _ := auth.GetSession(ctx)
	return session
}

// withResource sets the audited resource on entry.
func withResource(entry *models.AuditLogEntry, resourceType, resourceID string) *models.AuditLogEntry {
	entry.ResourceType = &resourceType
	if resourceID != "" {
		entry.ResourceID = &resourceID
	}
	return entry
}
