package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/apperrors"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
	"github.com/ekaya-inc/evidence-engine/pkg/services"
)

// ParseEvidenceID extracts and validates the evidence record ID from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: id
func ParseEvidenceID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "id", "invalid_evidence_id", "Invalid evidence ID format", logger)
}

// parseUUID is the internal helper that does the actual parsing work.
func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	idStr := r.PathValue(pathParam)
	id, err := uuid.Parse(idStr)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

// ParseListRequest reads catalog paging and filters from the query string:
// page, limit, category, location, dateFrom, dateTo and tags.
func ParseListRequest(q url.Values) (services.ListRequest, error) {
	var req services.ListRequest
	page, err := optionalInt(q, "page")
	if err != nil {
		return req, err
	}
	if page != nil {
		req.Page = *page
	}
	if req.Limit, err = optionalInt(q, "limit"); err != nil {
		return req, err
	}
	req.Filter, err = ParseFilter(q)
	return req, err
}

// ParseFilter reads evidence filters from query values.
func ParseFilter(q url.Values) (models.EvidenceFilter, error) {
	filter := models.EvidenceFilter{
		Category: strings.ToLower(strings.TrimSpace(q.Get("category"))),
		Location: strings.TrimSpace(q.Get("location")),
		Tags:     models.SplitTags(q["tags"]...),
	}
	var err error
	if filter.DateFrom, err = models.ParseFilterDate(q.Get("dateFrom"), false); err != nil {
		return filter, apperrors.Validation("dateFrom: %v", err)
	}
	if filter.DateTo, err = models.ParseFilterDate(q.Get("dateTo"), true); err != nil {
		return filter, apperrors.Validation("dateTo: %v", err)
	}
	return filter, nil
}

// optionalInt returns nil when key is absent or blank.
func optionalInt(q url.Values, key string) (*int, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperrors.Validation("%s must be an integer", key)
	}
	return &n, nil
}
