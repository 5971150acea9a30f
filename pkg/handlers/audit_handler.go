package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/auth"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
	"github.com/ekaya-inc/evidence-engine/pkg/services"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// AuditListResponse wraps an audit trail export.
type AuditListResponse struct {
	Entries []*models.AuditLogEntry `json:"entries"`
	Count   int                     `json:"count"`
}

// AuditHandler exports the audit trail to administrators.
type AuditHandler struct {
	audit  services.AuditService
	logger *zap.Logger
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(audit services.AuditService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logger,
	}
}

// RegisterRoutes registers the audit handler's routes on the given mux.
func (h *AuditHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /audit",
		authMiddleware.RequireRole(models.RoleAdmin, models.AuditActionExportData)(h.Export))
}

// Export handles GET /audit?officialId&action&outcome&since&limit
func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := models.AuditQuery{
		OfficialID: strings.TrimSpace(q.Get("officialId")),
		Action:     models.AuditAction(strings.TrimSpace(q.Get("action"))),
		Outcome:    models.AuditOutcome(strings.TrimSpace(q.Get("outcome"))),
		Limit:      defaultAuditLimit,
	}
	if query.Action != "" && !query.Action.IsValid() {
		h.badRequest(w, "Unknown audit action")
		return
	}
	if query.Outcome != "" && query.Outcome != models.AuditOutcomeSuccess && query.Outcome != models.AuditOutcomeDenied {
		h.badRequest(w, "Outcome must be success or denied")
		return
	}
	since, err := models.ParseFilterDate(q.Get("since"), false)
	if err != nil {
		h.badRequest(w, "since: "+err.Error())
		return
	}
	query.Since = since
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			h.badRequest(w, "limit must be a positive integer")
			return
		}
		query.Limit = min(limit, maxAuditLimit)
	}

	entries, err := h.audit.Export(r.Context(), query)
	if err != nil {
		writeServiceError(w, h.logger, "export_audit", err)
		return
	}

	resp := AuditListResponse{Entries: entries, Count: len(entries)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: resp}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *AuditHandler) badRequest(w http.ResponseWriter, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, "validation_error", message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
