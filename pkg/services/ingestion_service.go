package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/apperrors"
	"github.com/ekaya-inc/evidence-engine/pkg/embedding"
	"github.com/ekaya-inc/evidence-engine/pkg/extraction"
	"github.com/ekaya-inc/evidence-engine/pkg/logging"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
	"github.com/ekaya-inc/evidence-engine/pkg/redact"
	"github.com/ekaya-inc/evidence-engine/pkg/repositories"
	"github.com/ekaya-inc/evidence-engine/pkg/summarize"
	"github.com/ekaya-inc/evidence-engine/pkg/vectorstore"
)

// DefaultMaxUploadBytes caps a single upload.
const DefaultMaxUploadBytes = 10 << 20

// Field length limits for submitted metadata.
const (
	maxTitleRunes       = 200
	maxCategoryRunes    = 64
	maxLocationRunes    = 200
	maxDescriptionRunes = 4000
	// maxEmbedRunes bounds the text sent to the embedding provider.
	maxEmbedRunes = 8000
	// maxVectorTextRunes bounds the text stored next to a vector.
	maxVectorTextRunes = 1000
)

// IngestRequest is one uploaded file plus the metadata submitted with it.
type IngestRequest struct {
	Filename    string
	MediaType   string
	Data        []byte
	Title       string
	Category    string
	Description string
	Location    string
	Tags        []string
}

// IngestResult is the committed record and where its vector landed.
type IngestResult struct {
	Record            *models.EvidenceRecord `json:"record"`
	VectorBackend     string                 `json:"vectorBackend"`
	Degraded          bool                   `json:"degraded"`
	EmbeddingDegraded bool                   `json:"embeddingDegraded"`
	SummaryDegraded   bool                   `json:"summaryDegraded"`
}

// IngestionService turns uploads into catalog records and vectors.
type IngestionService interface {
	// Ingest extracts, summarizes and embeds the upload, stores its vector and
	// commits the record. Either both the vector and the record exist
	// afterwards or neither does.
	Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error)
}

// IngestionServiceDeps bundles IngestionService collaborators.
type IngestionServiceDeps struct {
	Repo           repositories.EvidenceRepository
	Extractor      extraction.Extractor
	Summarizer     summarize.Summarizer
	Embedder       embedding.Generator
	Gateway        vectorstore.Gateway
	MaxUploadBytes int64
	PreviewLength  int
}

type ingestionService struct {
	repo          repositories.EvidenceRepository
	extractor     extraction.Extractor
	summarizer    summarize.Summarizer
	embedder      embedding.Generator
	gateway       vectorstore.Gateway
	maxBytes      int64
	previewLength int
	now           func() time.Time
	logger        *zap.Logger
}

// NewIngestionService creates a new IngestionService.
func NewIngestionService(deps IngestionServiceDeps, logger *zap.Logger) IngestionService {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if deps.PreviewLength <= 0 {
		deps.PreviewLength = DefaultPreviewLength
	}
	return &ingestionService{
		repo:          deps.Repo,
		extractor:     deps.Extractor,
		summarizer:    deps.Summarizer,
		embedder:      deps.Embedder,
		gateway:       deps.Gateway,
		maxBytes:      deps.MaxUploadBytes,
		previewLength: deps.PreviewLength,
		now:           time.Now,
		logger:        logger.Named("ingestion"),
	}
}

var _ IngestionService = (*ingestionService)(nil)

func (s *ingestionService) validate(req *IngestRequest) error {
	req.Filename = strings.TrimSpace(req.Filename)
	req.Title = strings.TrimSpace(req.Title)
	req.Category = strings.ToLower(strings.TrimSpace(req.Category))
	req.Description = strings.TrimSpace(req.Description)
	req.Location = strings.TrimSpace(req.Location)

	if int64(len(req.Data)) > s.maxBytes {
		return fmt.Errorf("%w: file exceeds %d bytes", apperrors.ErrPayloadTooLarge, s.maxBytes)
	}
	if req.Filename == "" {
		return apperrors.Validation("filename is required")
	}
	if req.Title == "" {
		req.Title = req.Filename
	}
	if req.Category == "" {
		return apperrors.Validation("category is required")
	}
	for _, f := range []struct {
		name  string
		value string
		max   int
	}{
		{"title", req.Title, maxTitleRunes},
		{"category", req.Category, maxCategoryRunes},
		{"location", req.Location, maxLocationRunes},
		{"description", req.Description, maxDescriptionRunes},
	} {
		if utf8.RuneCountInString(f.value) > f.max {
			return apperrors.Validation("%s exceeds %d characters", f.name, f.max)
		}
	}
	return nil
}

func (s *ingestionService) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}
	mediaType, kind := extraction.Classify(req.MediaType)
	if kind == extraction.KindUnsupported {
		return nil, fmt.Errorf("%w: %q, accepted types are %s", apperrors.ErrUnsupportedMediaType,
			req.MediaType, strings.Join(extraction.SupportedMediaTypes(), ", "))
	}

	text, err := s.extractor.Extract(ctx, req.Filename, req.Data, mediaType)
	if err != nil {
		return nil, err
	}

	summary := s.summarizer.Summarize(ctx, text)
	emb := s.embedder.Embed(ctx, headRunes(req.Title+"\n\n"+text, maxEmbedRunes))

	fileID := uuid.New()
	ns := models.NamespaceText
	if kind == extraction.KindImage {
		ns = models.NamespaceImage
	}
	tags := NormalizeTags(req.Tags)

	upsert, err := s.gateway.Upsert(ctx, &models.VectorEntry{
		ID:        vectorstore.EntryID(fileID),
		FileID:    fileID,
		Namespace: ns,
		Embedding: emb.Vector,
		Text:      headRunes(text, maxVectorTextRunes),
		Metadata: map[string]any{
			models.VectorMetaCategory: req.Category,
			models.VectorMetaLocation: req.Location,
			models.VectorMetaTags:     tags,
			models.MetaTitle:          req.Title,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store evidence vector: %w", err)
	}

	rec := &models.EvidenceRecord{
		ID:          uuid.New(),
		FileID:      fileID,
		Title:       req.Title,
		Description: req.Description,
		Filename:    req.Filename,
		MediaType:   mediaType,
		Summary:     summary.Summary,
		FullText:    text,
		UploadDate:  s.now().UTC(),
		Category:    req.Category,
		Location:    req.Location,
		Tags:        tags,
		Confidence:  extraction.Confidence(kind),
		Status:      models.EvidenceStatusActive,
		Metadata: map[string]any{
			models.MetaSizeBytes:         len(req.Data),
			models.MetaEmbeddingDegraded: emb.Degraded,
			models.MetaSummaryDegraded:   summary.Degraded,
			models.MetaVectorBackend:     upsert.Backend,
			models.MetaNamespace:         string(ns),
			models.MetaContainsPII:       redact.ContainsPII(text),
		},
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		// The vector must not outlive a record that was never committed.
		if derr := s.gateway.Delete(context.WithoutCancel(ctx), fileID); derr != nil {
			s.logger.Error("Failed to remove vectors of uncommitted evidence",
				zap.String("file_id", fileID.String()),
				zap.String("error", logging.SanitizeError(derr)))
		}
		return nil, fmt.Errorf("create evidence record: %w", err)
	}

	s.logger.Info("Evidence ingested",
		zap.String("evidence_id", rec.ID.String()),
		zap.String("file_id", fileID.String()),
		zap.String("media_type", mediaType),
		zap.String("namespace", string(ns)),
		zap.String("vector_backend", upsert.Backend),
		zap.Bool("embedding_degraded", emb.Degraded),
		zap.Bool("vector_degraded", upsert.Degraded))

	return &IngestResult{
		Record:            displayRecord(rec, false, s.previewLength),
		VectorBackend:     upsert.Backend,
		Degraded:          upsert.Degraded,
		EmbeddingDegraded: emb.Degraded,
		SummaryDegraded:   summary.Degraded,
	}, nil
}
