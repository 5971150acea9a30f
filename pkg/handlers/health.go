package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/config"
)

// VectorBackend reports on the configured vector index.
type VectorBackend interface {
	Primary() string
	Degraded() bool
}

// PingResponse contains service status and version information.
type PingResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Service       string `json:"service"`
	GoVersion     string `json:"go_version"`
	Hostname      string `json:"hostname"`
	Environment   string `json:"environment"`
	VectorBackend string `json:"vector_backend"`
	// VectorDegraded is set while the primary index is bypassed in favour
	// of the in-memory fallback.
	VectorDegraded bool `json:"vector_degraded"`
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg     *config.Config
	vectors VectorBackend
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler with the given configuration.
func NewHealthHandler(cfg *config.Config, vectors VectorBackend, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, vectors: vectors, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health requests.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ping handles GET /ping requests. Status is "degraded" while vector calls
// are diverted away from the primary index; the service still answers.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "evidence-engine",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}
	if h.vectors != nil {
		response.VectorBackend = h.vectors.Primary()
		if h.vectors.Degraded() {
			response.Status = "degraded"
			response.VectorDegraded = true
		}
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
