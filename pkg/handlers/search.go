package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/auth"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
	"github.com/ekaya-inc/evidence-engine/pkg/services"
)

// SearchRequest is the body of POST /search and /search/authenticated.
// Omitting topK selects the default; a given value is clamped to [1,100].
type SearchRequest struct {
	Query    string   `json:"query"`
	TopK     *int     `json:"topK,omitempty"`
	Category string   `json:"category,omitempty"`
	Location string   `json:"location,omitempty"`
	DateFrom string   `json:"dateFrom,omitempty"`
	DateTo   string   `json:"dateTo,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// SearchHandler serves evidence search.
type SearchHandler struct {
	retrieval services.RetrievalService
	logger    *zap.Logger
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(retrieval services.RetrievalService, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{
		retrieval: retrieval,
		logger:    logger,
	}
}

// RegisterRoutes registers the search handler's routes on the given mux.
// The public route returns previews; the authenticated route returns full
// redacted text to investigators and is audited.
func (h *SearchHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /search", h.Search)
	mux.HandleFunc("POST /search/authenticated",
		authMiddleware.RequireRole(models.RoleInvestigator, models.AuditActionSearchEvidence)(h.SearchAuthenticated))
}

// Search handles POST /search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, false)
}

// SearchAuthenticated handles POST /search/authenticated.
func (h *SearchHandler) SearchAuthenticated(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, true)
}

func (h *SearchHandler) search(w http.ResponseWriter, r *http.Request, detail bool) {
	var body SearchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	filter := models.EvidenceFilter{
		Category: strings.ToLower(strings.TrimSpace(body.Category)),
		Location: strings.TrimSpace(body.Location),
		Tags:     models.SplitTags(body.Tags...),
	}
	var err error
	if filter.DateFrom, err = models.ParseFilterDate(body.DateFrom, false); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "validation_error", "dateFrom: "+err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if filter.DateTo, err = models.ParseFilterDate(body.DateTo, true); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "validation_error", "dateTo: "+err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	resp, err := h.retrieval.Search(r.Context(), services.SearchRequest{
		Query:  body.Query,
		TopK:   body.TopK,
		Filter: filter,
		Detail: detail,
	})
	if err != nil {
		writeServiceError(w, h.logger, "search", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: resp}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
