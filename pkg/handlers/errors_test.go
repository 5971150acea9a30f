package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/evidence-engine/pkg/apperrors"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{"validation", apperrors.Validation("title exceeds %d characters", 200), http.StatusBadRequest, "validation_error", "title exceeds 200 characters"},
		{"too large", fmt.Errorf("%w: file exceeds 10 bytes", apperrors.ErrPayloadTooLarge), http.StatusRequestEntityTooLarge, "payload_too_large", ""},
		{"media type", fmt.Errorf("%w: %q", apperrors.ErrUnsupportedMediaType, "video/mp4"), http.StatusUnsupportedMediaType, "unsupported_media_type", `"video/mp4"`},
		{"expired", apperrors.ErrSessionExpired, http.StatusUnauthorized, "session_expired", ""},
		{"domain", fmt.Errorf("%w: example.com", apperrors.ErrDomainNotAllowed), http.StatusUnauthorized, "domain_not_allowed", ""},
		{"credentials", apperrors.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", ""},
		{"unauthorized", apperrors.ErrUnauthorized, http.StatusUnauthorized, "unauthorized", ""},
		{"forbidden", fmt.Errorf("%w: withdraw_evidence requires admin", apperrors.ErrForbidden), http.StatusForbidden, "forbidden", ""},
		{"not found", fmt.Errorf("get evidence: %w", apperrors.ErrNotFound), http.StatusNotFound, "not_found", "Evidence not found"},
		{"extraction", &apperrors.ExtractionError{Filename: "scan.pdf", MediaType: "application/pdf", Err: errors.New("bad xref")}, http.StatusUnprocessableEntity, "extraction_failed", "Could not extract text from scan.pdf"},
		{"upstream", fmt.Errorf("delete vector: %w", apperrors.ErrUpstreamUnavailable), http.StatusServiceUnavailable, "upstream_unavailable", ""},
		{"unknown", errors.New("pq: relation does not exist"), http.StatusInternalServerError, "internal_error", "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, message := classifyError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, message)
			}
			assert.NotEmpty(t, message)
		})
	}
}

func TestWriteServiceError_HidesInternalDetails(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	rec := httptest.NewRecorder()

	writeServiceError(rec, zap.New(core), "list_evidence", errors.New("dial tcp 10.0.0.5:5432: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Equal(t, "list_evidence", entry.ContextMap()["operation"])
}

func TestWriteServiceError_ClientErrorsLogAtDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	rec := httptest.NewRecorder()

	writeServiceError(rec, zap.New(core), "search", apperrors.Validation("query must not be empty"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"validation_error","message":"query must not be empty"}`, rec.Body.String())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.DebugLevel, logs.All()[0].Level)
}

func TestErrorResponse(t *testing.T) {
	rec := httptest.NewRecorder()

	require.NoError(t, ErrorResponse(rec, http.StatusNotFound, "not_found", "resource not found"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"not_found","message":"resource not found"}`, rec.Body.String())
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()

	require.NoError(t, WriteJSON(rec, http.StatusCreated, ApiResponse{Success: true, Message: "done"}))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"success":true,"message":"done"}`, rec.Body.String())
}
