package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrValidation           = errors.New("validation failed")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrExtractionFailure    = errors.New("extraction failed")
	ErrUpstreamUnavailable  = errors.New("upstream unavailable")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrSessionExpired       = errors.New("session expired")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrDomainNotAllowed     = errors.New("email domain not allowed")
	ErrForbidden            = errors.New("insufficient role")

	// ErrPayloadTooLarge is a validation failure the HTTP layer reports as 413.
	ErrPayloadTooLarge = fmt.Errorf("%w: payload too large", ErrValidation)
)

// Validation wraps ErrValidation with a caller-facing message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ExtractionError reports an upload whose content could not be turned into text.
// It matches ErrExtractionFailure with errors.Is and keeps the offending filename.
type ExtractionError struct {
	Filename  string
	MediaType string
	Err       error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("extraction failed for %q (%s)", e.Filename, e.MediaType)
	}
	return fmt.Sprintf("extraction failed for %q (%s): %v", e.Filename, e.MediaType, e.Err)
}

func (e *ExtractionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrExtractionFailure}
	}
	return []error{ErrExtractionFailure, e.Err}
}

// IsAuthError reports whether err denies access (missing, expired or invalid
// session, bad credentials, or insufficient role).
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrDomainNotAllowed) ||
		errors.Is(err, ErrForbidden)
}
