package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/ekaya-inc/evidence-engine/pkg/models"
)

// Provenance returns middleware that records where a request came from so
// audit entries can name the caller address and client agent.
func Provenance(source models.ProvenanceSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := models.WithProvenance(r.Context(), models.Provenance{
				Source:        source,
				CallerAddress: ClientAddress(r),
				ClientAgent:   r.UserAgent(),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientAddress returns the originating client address: the first
// X-Forwarded-For hop when present, otherwise the host part of RemoteAddr.
func ClientAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
