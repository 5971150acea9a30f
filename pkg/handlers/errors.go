package handlers

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/apperrors"
	"github.com/ekaya-inc/evidence-engine/pkg/logging"
)

// writeServiceError maps a service error onto an HTTP status and JSON error
// body. Unexpected errors are logged and reported with a generic message.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	status, code, message := classifyError(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("operation", op),
			zap.String("error", logging.SanitizeError(err)))
	} else {
		logger.Debug("Request rejected",
			zap.String("operation", op),
			zap.Int("status", status),
			zap.Error(err))
	}
	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// classifyError returns the status, error code and caller-facing message for err.
func classifyError(err error) (int, string, string) {
	var extractionErr *apperrors.ExtractionError
	switch {
	case errors.Is(err, apperrors.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "payload_too_large", "Upload exceeds the maximum allowed size"
	case errors.Is(err, apperrors.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, "unsupported_media_type", clientMessage(err)
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest, "validation_error", clientMessage(err)
	case errors.Is(err, apperrors.ErrSessionExpired):
		return http.StatusUnauthorized, "session_expired", "Session expired"
	case errors.Is(err, apperrors.ErrDomainNotAllowed):
		return http.StatusUnauthorized, "domain_not_allowed", "Email domain is not authorized"
	case errors.Is(err, apperrors.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "Invalid email or password"
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", "Authentication required"
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden, "forbidden", "Insufficient role for this action"
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found", "Evidence not found"
	case errors.As(err, &extractionErr):
		return http.StatusUnprocessableEntity, "extraction_failed",
			"Could not extract text from " + extractionErr.Filename
	case errors.Is(err, apperrors.ErrExtractionFailure):
		return http.StatusUnprocessableEntity, "extraction_failed", "Could not extract text from upload"
	case errors.Is(err, apperrors.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "upstream_unavailable", "A required backend is unavailable, try again later"
	default:
		return http.StatusInternalServerError, "internal_error", "Internal server error"
	}
}

// clientMessage strips the sentinel prefix from a wrapped validation error,
// leaving the part written for the caller.
func clientMessage(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{apperrors.ErrValidation, apperrors.ErrUnsupportedMediaType} {
		if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
			return rest
		}
	}
	return msg
}
