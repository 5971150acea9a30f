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

// UpdateStatusRequest is the body of PATCH /evidence/{id}/status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// EvidenceHandler serves the evidence catalog.
type EvidenceHandler struct {
	catalog services.CatalogService
	logger  *zap.Logger
}

// NewEvidenceHandler creates a new evidence handler.
func NewEvidenceHandler(catalog services.CatalogService, logger *zap.Logger) *EvidenceHandler {
	return &EvidenceHandler{
		catalog: catalog,
		logger:  logger,
	}
}

// RegisterRoutes registers the evidence handler's routes on the given mux.
func (h *EvidenceHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /evidence", h.List)
	mux.HandleFunc("GET /evidence/{id}",
		authMiddleware.RequireRole(models.RoleInvestigator, models.AuditActionViewEvidence)(h.Get))
	mux.HandleFunc("PATCH /evidence/{id}/status",
		authMiddleware.RequireRole(models.RoleSupervisor, models.AuditActionUpdateStatus)(h.UpdateStatus))
	mux.HandleFunc("DELETE /evidence/{id}",
		authMiddleware.RequireRole(models.RoleAdmin, models.AuditActionWithdrawEvidence)(h.Withdraw))
}

// List handles GET /evidence?page&limit&category&location&dateFrom&dateTo&tags
func (h *EvidenceHandler) List(w http.ResponseWriter, r *http.Request) {
	req, err := ParseListRequest(r.URL.Query())
	if err != nil {
		writeServiceError(w, h.logger, "list_evidence", err)
		return
	}

	page, err := h.catalog.List(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, "list_evidence", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: page}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /evidence/{id}
func (h *EvidenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseEvidenceID(w, r, h.logger)
	if !ok {
		return
	}

	rec, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "get_evidence", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: rec}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// UpdateStatus handles PATCH /evidence/{id}/status
func (h *EvidenceHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseEvidenceID(w, r, h.logger)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	status := models.EvidenceStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	rec, err := h.catalog.UpdateStatus(r.Context(), id, status)
	if err != nil {
		writeServiceError(w, h.logger, "update_status", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: rec}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Withdraw handles DELETE /evidence/{id}
func (h *EvidenceHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseEvidenceID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.catalog.Withdraw(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, "withdraw_evidence", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Evidence withdrawn"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
