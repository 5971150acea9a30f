package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ekaya-inc/evidence-engine/pkg/apperrors"
)

// Token source labels, used in logs and audit metadata.
const (
	TokenSourceCookie = "cookie"
	TokenSourceHeader = "header"
)

// RequestToken extracts the session token from a request. It checks for
// the token in:
//  1. The signed session cookie (browser clients)
//  2. Authorization header with "Bearer" scheme (API and MCP clients)
//
// Returns the token and where it came from. A missing or malformed
// credential wraps apperrors.ErrUnauthorized.
func RequestToken(r *http.Request, cookies *CookieManager) (string, string, error) {
	if cookies != nil {
		if token, ok := cookies.Token(r); ok {
			return token, TokenSourceCookie, nil
		}
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", "", fmt.Errorf("%w: missing authorization", apperrors.ErrUnauthorized)
	}

	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", "", fmt.Errorf("%w: invalid authorization header format", apperrors.ErrUnauthorized)
	}
	return parts[1], TokenSourceHeader, nil
}
