package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/apperrors"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
)

// Authorizer resolves the session behind a request and checks its role for
// the named action. Implementations audit every denial. Errors wrap
// apperrors.ErrUnauthorized, ErrSessionExpired or ErrForbidden.
type Authorizer interface {
	Authorize(r *http.Request, required models.Role, action models.AuditAction) (*models.AuthSession, string, error)
}

// Middleware provides HTTP authentication middleware.
// It is thin and delegates authentication logic to the Authorizer.
type Middleware struct {
	authorizer Authorizer
	logger     *zap.Logger
}

// NewMiddleware creates a new auth middleware with the given Authorizer.
func NewMiddleware(authorizer Authorizer, logger *zap.Logger) *Middleware {
	return &Middleware{
		authorizer: authorizer,
		logger:     logger,
	}
}

// RequireRole admits requests whose session role is at least required.
// action names what a denial is recorded against.
// Sets the session and token in context for downstream handlers.
func (m *Middleware) RequireRole(required models.Role, action models.AuditAction) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			session, token, err := m.authorizer.Authorize(r, required, action)
			if err != nil {
				if errors.Is(err, apperrors.ErrForbidden) {
					m.forbidden(w, "Insufficient role for this action")
					return
				}
				if errors.Is(err, apperrors.ErrSessionExpired) {
					m.unauthorized(w, "session_expired", "Session expired")
					return
				}
				if !apperrors.IsAuthError(err) {
					m.logger.Error("Authorization check failed", zap.Error(err), zap.String("path", r.URL.Path))
				}
				m.unauthorized(w, "unauthorized", "Authentication required")
				return
			}

			next(w, r.WithContext(WithSession(r.Context(), session, token)))
		}
	}
}

// unauthorized returns a 401 response with JSON error body.
func (m *Middleware) unauthorized(w http.ResponseWriter, code, message string) {
	writeAuthError(w, http.StatusUnauthorized, code, message)
}

// forbidden returns a 403 response with JSON error body.
func (m *Middleware) forbidden(w http.ResponseWriter, message string) {
	writeAuthError(w, http.StatusForbidden, "forbidden", message)
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
