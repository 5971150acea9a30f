package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/apperrors"
	"github.com/ekaya-inc/evidence-engine/pkg/audit"
	"github.com/ekaya-inc/evidence-engine/pkg/embedding"
	"github.com/ekaya-inc/evidence-engine/pkg/logging"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
	"github.com/ekaya-inc/evidence-engine/pkg/redact"
	"github.com/ekaya-inc/evidence-engine/pkg/repositories"
	"github.com/ekaya-inc/evidence-engine/pkg/screening"
	"github.com/ekaya-inc/evidence-engine/pkg/vectorstore"
)

// Search limits.
const (
	DefaultTopK       = 10
	MaxTopK           = 100
	MaxQueryRunes     = 1000
	overfetchFactor   = 4
	maxOverfetchMatch = MaxTopK * overfetchFactor
)

// Search modes.
const (
	SearchModeSemantic  = "semantic"
	SearchModeSubstring = "substring"
)

// SearchRequest is one retrieval query. A nil TopK selects DefaultTopK; any
// given value is clamped to [1, MaxTopK]. Detail returns full (redacted) text
// instead of previews.
type SearchRequest struct {
	Query  string
	TopK   *int
	Filter models.EvidenceFilter
	Detail bool
}

// SearchResult is one ranked hit. Score is a similarity in [0,1]; substring
// hits carry no score.
type SearchResult struct {
	Record    *models.EvidenceRecord `json:"record"`
	Score     float64                `json:"score"`
	Namespace models.Namespace       `json:"namespace,omitempty"`
}

// SearchResponse carries the hits and how they were produced. Degraded is set
// when the configured vector index could not serve the query.
type SearchResponse struct {
	Results           []SearchResult `json:"results"`
	Mode              string         `json:"mode"`
	Degraded          bool           `json:"degraded"`
	EmbeddingDegraded bool           `json:"embeddingDegraded"`
	Backend           string         `json:"backend"`
}

// RetrievalService answers evidence searches.
type RetrievalService interface {
	// Search ranks evidence by semantic similarity to the query, falling back
	// to a substring scan of the catalog when the vector path is unavailable.
	// Only invalid input is reported as an error; backend failures degrade.
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

type retrievalService struct {
	repo          repositories.EvidenceRepository
	embedder      embedding.Generator
	gateway       vectorstore.Gateway
	audit         AuditService
	security      *audit.SecurityAuditor
	previewLength int
	logger        *zap.Logger
}

// RetrievalServiceDeps bundles RetrievalService collaborators.
type RetrievalServiceDeps struct {
	Repo          repositories.EvidenceRepository
	Embedder      embedding.Generator
	Gateway       vectorstore.Gateway
	Audit         AuditService
	Security      *audit.SecurityAuditor
	PreviewLength int
}

// NewRetrievalService creates a new RetrievalService.
func NewRetrievalService(deps RetrievalServiceDeps, logger *zap.Logger) RetrievalService {
	if deps.PreviewLength <= 0 {
		deps.PreviewLength = DefaultPreviewLength
	}
	return &retrievalService{
		repo:          deps.Repo,
		embedder:      deps.Embedder,
		gateway:       deps.Gateway,
		audit:         deps.Audit,
		security:      deps.Security,
		previewLength: deps.PreviewLength,
		logger:        logger.Named("retrieval"),
	}
}

var _ RetrievalService = (*retrievalService)(nil)

// clampTopK bounds topK to [1, MaxTopK]; nil selects DefaultTopK.
func clampTopK(topK *int) int {
	if topK == nil {
		return DefaultTopK
	}
	return min(max(*topK, 1), MaxTopK)
}

func (s *retrievalService) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, apperrors.Validation("query must not be empty")
	}
	if utf8.RuneCountInString(query) > MaxQueryRunes {
		return nil, apperrors.Validation("query exceeds %d characters", MaxQueryRunes)
	}
	if err := s.screen(ctx, query, req.Filter); err != nil {
		return nil, err
	}

	filter := req.Filter
	filter.Tags = NormalizeTagFilter(filter.Tags)
	if filter.DateFrom != nil && filter.DateTo != nil && filter.DateFrom.After(*filter.DateTo) {
		return nil, apperrors.Validation("dateFrom is after dateTo")
	}
	topK := clampTopK(req.TopK)

	resp := s.semantic(ctx, query, topK, filter, req.Detail)
	if resp == nil {
		resp = s.substring(ctx, query, topK, filter, req.Detail)
	}

	if session := sessionFrom(ctx); session != nil {
		entry := withResource(newAuditEntry(session, models.AuditActionSearchEvidence, models.AuditOutcomeSuccess),
			models.AuditResourceSearch, "")
		entry.Metadata["query"] = redact.Text(query)
		entry.Metadata["mode"] = resp.Mode
		entry.Metadata["results"] = len(resp.Results)
		entry.Metadata["detail"] = req.Detail
		if err := s.audit.Record(ctx, entry); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// screen rejects inputs that look like injection payloads and raises a
// security event for each.
func (s *retrievalService) screen(ctx context.Context, query string, filter models.EvidenceFilter) error {
	findings := screening.CheckAll(map[string]string{
		"query":    query,
		"category": filter.Category,
		"location": filter.Location,
	})
	if len(findings) == 0 {
		return nil
	}
	prov, _ := models.GetProvenance(ctx)
	fields := make([]string, 0, len(findings))
	for _, f := range findings {
		fields = append(fields, f.Field)
		if s.security != nil {
			s.security.LogInjectionAttempt(ctx, audit.InjectionDetails{
				Field:       f.Field,
				Value:       f.Value,
				Kind:        f.Kind,
				Fingerprint: f.Fingerprint,
			}, prov.CallerAddress)
		}
	}

	if session := sessionFrom(ctx); session != nil {
		entry := withResource(newAuditEntry(session, models.AuditActionSearchEvidence, models.AuditOutcomeDenied),
			models.AuditResourceSearch, "")
		entry.Metadata["reason"] = ReasonScreening
		entry.Metadata["fields"] = fields
		entry.Metadata["kind"] = findings[0].Kind
		if err := s.audit.Record(ctx, entry); err != nil {
			s.logger.Error("Failed to audit rejected search", zap.Error(err))
		}
	}
	return fmt.Errorf("%w: %s contains a disallowed pattern", apperrors.ErrValidation, findings[0].Field)
}

// semantic runs the vector path. A nil response asks for the substring
// fallback: the gateway failed, the join failed, or a degraded gateway
// found nothing usable.
func (s *retrievalService) semantic(ctx context.Context, query string, topK int, filter models.EvidenceFilter, detail bool) *SearchResponse {
	emb := s.embedder.Embed(ctx, query)

	fetch := topK * overfetchFactor
	if fetch > maxOverfetchMatch {
		fetch = maxOverfetchMatch
	}
	pushdown := models.VectorFilter{
		Category: filter.Category,
		Location: filter.Location,
		Tags:     filter.Tags,
	}

	res, err := s.gateway.Query(ctx, emb.Vector, fetch, pushdown, models.AllNamespaces...)
	if err != nil {
		s.logger.Warn("Vector query failed, falling back to substring search",
			zap.String("error", logging.SanitizeError(err)))
		return nil
	}

	fileIDs := make([]uuid.UUID, 0, len(res.Matches))
	for _, m := range res.Matches {
		fileIDs = append(fileIDs, m.FileID)
	}
	records, err := s.repo.GetByFileIDs(ctx, fileIDs)
	if err != nil {
		s.logger.Warn("Catalog join failed, falling back to substring search",
			zap.String("error", logging.SanitizeError(err)))
		return nil
	}

	results := make([]SearchResult, 0, topK)
	seen := make(map[uuid.UUID]bool, len(res.Matches))
	for _, m := range res.Matches {
		if len(results) == topK {
			break
		}
		if seen[m.FileID] {
			continue
		}
		rec, ok := records[m.FileID]
		if !ok || !filter.Matches(rec) {
			continue
		}
		seen[m.FileID] = true
		results = append(results, SearchResult{
			Record:    displayRecord(rec, detail, s.previewLength),
			Score:     m.Score,
			Namespace: m.Namespace,
		})
	}

	if len(results) == 0 && res.Degraded {
		return nil
	}
	return &SearchResponse{
		Results:           results,
		Mode:              SearchModeSemantic,
		Degraded:          res.Degraded,
		EmbeddingDegraded: emb.Degraded,
		Backend:           res.Backend,
	}
}

// substring scans the catalog for records containing every query term.
// Failures are logged and yield an empty result.
func (s *retrievalService) substring(ctx context.Context, query string, topK int, filter models.EvidenceFilter, detail bool) *SearchResponse {
	resp := &SearchResponse{
		Results:  []SearchResult{},
		Mode:     SearchModeSubstring,
		Degraded: true,
		Backend:  s.gateway.Primary(),
	}

	records, err := s.repo.SearchText(ctx, query, filter, topK)
	if err != nil {
		s.logger.Error("Substring fallback failed",
			zap.String("error", logging.SanitizeError(err)))
		return resp
	}
	for _, rec := range records {
		resp.Results = append(resp.Results, SearchResult{Record: displayRecord(rec, detail, s.previewLength)})
	}
	return resp
}
