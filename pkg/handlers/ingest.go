package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/apperrors"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
	"github.com/ekaya-inc/evidence-engine/pkg/services"
)

// multipartOverhead is the allowance for form fields and part headers on top
// of the file size cap.
const multipartOverhead = 1 << 20

// IngestResponse is returned by POST /ingest.
type IngestResponse struct {
	ID                uuid.UUID `json:"id"`
	FileID            uuid.UUID `json:"fileId"`
	Title             string    `json:"title"`
	Category          string    `json:"category"`
	Description       string    `json:"description"`
	Location          string    `json:"location,omitempty"`
	Tags              []string  `json:"tags"`
	Filename          string    `json:"filename"`
	MediaType         string    `json:"mediaType"`
	Summary           string    `json:"summary"`
	UploadDate        time.Time `json:"uploadDate"`
	Confidence        float64   `json:"confidence"`
	Status            string    `json:"status"`
	VectorBackend     string    `json:"vectorBackend"`
	Degraded          bool      `json:"degraded"`
	EmbeddingDegraded bool      `json:"embeddingDegraded"`
	SummaryDegraded   bool      `json:"summaryDegraded"`
}

// IngestHandler accepts evidence uploads.
type IngestHandler struct {
	ingestion services.IngestionService
	maxBytes  int64
	logger    *zap.Logger
}

// NewIngestHandler creates a new ingest handler. maxBytes <= 0 selects
// services.DefaultMaxUploadBytes.
func NewIngestHandler(ingestion services.IngestionService, maxBytes int64, logger *zap.Logger) *IngestHandler {
	if maxBytes <= 0 {
		maxBytes = services.DefaultMaxUploadBytes
	}
	return &IngestHandler{
		ingestion: ingestion,
		maxBytes:  maxBytes,
		logger:    logger,
	}
}

// RegisterRoutes registers the ingest handler's routes on the given mux.
func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /ingest", h.Ingest)
}

// Ingest handles POST /ingest, a multipart form with a "file" part and the
// title, category, description, location and tags fields.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeServiceError(w, h.logger, "ingest", apperrors.ErrPayloadTooLarge)
			return
		}
		writeServiceError(w, h.logger, "ingest", apperrors.Validation("expected a multipart form"))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeServiceError(w, h.logger, "ingest", apperrors.Validation("file is required"))
		return
	}
	defer file.Close()

	if header.Size > h.maxBytes {
		writeServiceError(w, h.logger, "ingest", apperrors.ErrPayloadTooLarge)
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		h.logger.Error("Failed to read upload", zap.Error(err))
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Could not read uploaded file"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.ingestion.Ingest(r.Context(), services.IngestRequest{
		Filename:    filepath.Base(header.Filename),
		MediaType:   uploadMediaType(header.Header.Get("Content-Type"), header.Filename, data),
		Data:        data,
		Title:       r.FormValue("title"),
		Category:    r.FormValue("category"),
		Description: r.FormValue("description"),
		Location:    r.FormValue("location"),
		Tags:        models.SplitTags(r.MultipartForm.Value["tags"]...),
	})
	if err != nil {
		writeServiceError(w, h.logger, "ingest", err)
		return
	}

	rec := result.Record
	resp := IngestResponse{
		ID:                rec.ID,
		FileID:            rec.FileID,
		Title:             rec.Title,
		Category:          rec.Category,
		Description:       rec.Description,
		Location:          rec.Location,
		Tags:              rec.Tags,
		Filename:          rec.Filename,
		MediaType:         rec.MediaType,
		Summary:           rec.Summary,
		UploadDate:        rec.UploadDate,
		Confidence:        rec.Confidence,
		Status:            string(rec.Status),
		VectorBackend:     result.VectorBackend,
		Degraded:          result.Degraded,
		EmbeddingDegraded: result.EmbeddingDegraded,
		SummaryDegraded:   result.SummaryDegraded,
	}
	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: resp}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// uploadMediaType prefers the part's declared type, then the file
// extension, then content sniffing.
func uploadMediaType(declared, filename string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}
