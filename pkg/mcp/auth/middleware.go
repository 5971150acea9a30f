// Package mcpauth provides MCP-specific authentication middleware.
// It wraps the session authorizer with RFC 6750 Bearer token error responses.
package mcpauth

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/apperrors"
	"github.com/ekaya-inc/evidence-engine/pkg/auth"
	"github.com/ekaya-inc/evidence-engine/pkg/middleware"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
)

// Realm is advertised in WWW-Authenticate challenges.
const Realm = "evidence-engine"

// Middleware provides MCP-specific authentication middleware.
// Unlike the general auth middleware, this returns RFC 6750 WWW-Authenticate
// headers for Bearer token authentication errors.
type Middleware struct {
	authorizer auth.Authorizer
	logger     *zap.Logger
}

// NewMiddleware creates a new MCP auth middleware.
func NewMiddleware(authorizer auth.Authorizer, logger *zap.Logger) *Middleware {
	return &Middleware{
		authorizer: authorizer,
		logger:     logger,
	}
}

// RequireSession admits investigators and above. The session and token are
// placed in the request context together with MCP provenance, so tool calls
// are audited under the calling official.
func (m *Middleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(models.WithProvenance(r.Context(), models.Provenance{
			Source:        models.SourceMCP,
			CallerAddress: middleware.ClientAddress(r),
			ClientAgent:   r.UserAgent(),
		}))

		session, token, err := m.authorizer.Authorize(r, models.RoleInvestigator, models.AuditActionSearchEvidence)
		if err != nil {
			m.logger.Debug("MCP auth failed",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			switch {
			case errors.Is(err, apperrors.ErrForbidden):
				m.writeWWWAuthenticate(w, http.StatusForbidden, "insufficient_scope", "The session role does not allow evidence access")
			case errors.Is(err, apperrors.ErrSessionExpired):
				m.writeWWWAuthenticate(w, http.StatusUnauthorized, "invalid_token", "The session has expired")
			case r.Header.Get("Authorization") == "":
				m.writeChallenge(w)
			default:
				m.writeWWWAuthenticate(w, http.StatusUnauthorized, "invalid_token", "The access token is invalid or expired")
			}
			return
		}

		ctx := auth.WithSession(r.Context(), session, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// writeChallenge answers a request that carried no credentials. RFC 6750
// Section 3.1 omits the error code in this case.
func (m *Middleware) writeChallenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="`+Realm+`"`)
	w.WriteHeader(http.StatusUnauthorized)
}

// writeWWWAuthenticate writes an RFC 6750 Bearer token error response.
// See: https://datatracker.ietf.org/doc/html/rfc6750#section-3
func (m *Middleware) writeWWWAuthenticate(w http.ResponseWriter, status int, errorCode, description string) {
	headerValue := `Bearer realm="` + Realm + `", error="` + errorCode + `", error_description="` + description + `"`
	w.Header().Set("WWW-Authenticate", headerValue)
	w.WriteHeader(status)
}
