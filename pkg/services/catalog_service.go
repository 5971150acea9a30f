package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/apperrors"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
	"github.com/ekaya-inc/evidence-engine/pkg/repositories"
	"github.com/ekaya-inc/evidence-engine/pkg/vectorstore"
)

// Catalog paging limits.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ListRequest selects one page of the catalog. Pages start at 1. A nil
// Limit selects DefaultPageLimit; any given value is clamped to
// [1, MaxPageLimit].
type ListRequest struct {
	Page   int
	Limit  *int
	Filter models.EvidenceFilter
}

// CatalogService lists, shows and manages evidence records. Every record it
// returns is redacted; stored records keep their original text.
type CatalogService interface {
	// List returns one page of records with full text cut to a preview.
	List(ctx context.Context, req ListRequest) (*models.EvidencePage, error)

	// Get returns one record with its full (redacted) text and audits the view.
	Get(ctx context.Context, id uuid.UUID) (*models.EvidenceRecord, error)

	// UpdateStatus moves a record to status and audits the change.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.EvidenceStatus) (*models.EvidenceRecord, error)

	// Withdraw deletes a record together with its vectors and audits it.
	Withdraw(ctx context.Context, id uuid.UUID) error
}

type catalogService struct {
	repo          repositories.EvidenceRepository
	gateway       vectorstore.Gateway
	audit         AuditService
	previewLength int
	logger        *zap.Logger
}

// NewCatalogService creates a new CatalogService. previewLength <= 0 selects
// DefaultPreviewLength.
func NewCatalogService(repo repositories.EvidenceRepository, gateway vectorstore.Gateway, audit AuditService, previewLength int, logger *zap.Logger) CatalogService {
	if previewLength <= 0 {
		previewLength = DefaultPreviewLength
	}
	return &catalogService{
		repo:          repo,
		gateway:       gateway,
		audit:         audit,
		previewLength: previewLength,
		logger:        logger.Named("catalog"),
	}
}

var _ CatalogService = (*catalogService)(nil)

// normalizePaging applies the page and limit clamps of the catalog.
func normalizePaging(page int, limit *int) (int, int) {
	page = max(page, 1)
	if limit == nil {
		return page, DefaultPageLimit
	}
	return page, min(max(*limit, 1), MaxPageLimit)
}

func (s *catalogService) List(ctx context.Context, req ListRequest) (*models.EvidencePage, error) {
	page, limit := normalizePaging(req.Page, req.Limit)
	filter := req.Filter
	filter.Tags = NormalizeTagFilter(filter.Tags)
	if filter.DateFrom != nil && filter.DateTo != nil && filter.DateFrom.After(*filter.DateTo) {
		return nil, fmt.Errorf("%w: dateFrom is after dateTo", apperrors.ErrValidation)
	}

	records, total, err := s.repo.List(ctx, filter, (page-1)*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}

	out := make([]*models.EvidenceRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, displayRecord(rec, false, s.previewLength))
	}
	return &models.EvidencePage{
		Records: out,
		Total:   total,
		Page:    page,
		Limit:   limit,
		HasNext: page*limit < total,
		HasPrev: page > 1,
	}, nil
}

func (s *catalogService) Get(ctx context.Context, id uuid.UUID) (*models.EvidenceRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	entry := withResource(newAuditEntry(sessionFrom(ctx), models.AuditActionViewEvidence, models.AuditOutcomeSuccess),
		models.AuditResourceEvidence, rec.ID.String())
	entry.Metadata["fileId"] = rec.FileID.String()
	if err := s.audit.Record(ctx, entry); err != nil {
		return nil, err
	}
	return displayRecord(rec, true, s.previewLength), nil
}

func (s *catalogService) UpdateStatus(ctx context.Context, id uuid.UUID, status models.EvidenceStatus) (*models.EvidenceRecord, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", apperrors.ErrValidation, status)
	}
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: cannot move evidence from %s to %s", apperrors.ErrValidation, rec.Status, status)
	}

	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return nil, fmt.Errorf("update evidence status: %w", err)
	}

	entry := withResource(newAuditEntry(sessionFrom(ctx), models.AuditActionUpdateStatus, models.AuditOutcomeSuccess),
		models.AuditResourceEvidence, rec.ID.String())
	entry.Metadata["from"] = string(rec.Status)
	entry.Metadata["to"] = string(status)
	if err := s.audit.Record(ctx, entry); err != nil {
		return nil, err
	}

	s.logger.Info("Evidence status updated",
		zap.String("evidence_id", rec.ID.String()),
		zap.String("from", string(rec.Status)),
		zap.String("to", string(status)))

	rec.Status = status
	return displayRecord(rec, false, s.previewLength), nil
}

func (s *catalogService) Withdraw(ctx context.Context, id uuid.UUID) error {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	// Vectors go first: a record without vectors is still found by the
	// substring fallback, while vectors without a record are dropped at join.
	if err := s.gateway.Delete(ctx, rec.FileID); err != nil {
		return fmt.Errorf("delete evidence vectors: %w", err)
	}
	if err := s.repo.DeleteByFileID(ctx, rec.FileID); err != nil {
		return fmt.Errorf("delete evidence record: %w", err)
	}

	entry := withResource(newAuditEntry(sessionFrom(ctx), models.AuditActionWithdrawEvidence, models.AuditOutcomeSuccess),
		models.AuditResourceEvidence, rec.ID.String())
	entry.Metadata["fileId"] = rec.FileID.String()
	if err := s.audit.Record(ctx, entry); err != nil {
		return err
	}

	s.logger.Info("Evidence withdrawn",
		zap.String("evidence_id", rec.ID.String()),
		zap.String("file_id", rec.FileID.String()))
	return nil
}
