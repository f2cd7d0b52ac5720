package handlers

import (
	"net/http"

	"github.com/akmatori/contractmon/internal/api"
	"github.com/akmatori/contractmon/internal/monitor"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// HealthSource reports engine health
type HealthSource interface {
	Health() monitor.HealthStatus
}

// HTTPHandler serves the unauthenticated operational endpoints
type HTTPHandler struct {
	health    HealthSource
	contracts func() int
	inFlight  func() int
	metrics   http.Handler
}

// NewHTTPHandler creates a new HTTP handler. Any argument may be nil.
func NewHTTPHandler(health HealthSource, contracts, inFlight func() int, metrics http.Handler) *HTTPHandler {
	return &HTTPHandler{
		health:    health,
		contracts: contracts,
		inFlight:  inFlight,
		metrics:   metrics,
	}
}

// SetupRoutes configures all HTTP routes
func (h *HTTPHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics)
	}
}

// handleHealth reports ok or degraded. A degraded engine still answers 200:
// checks and alerting continue while history is not being written.
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := api.HealthResponse{Status: monitor.StatusOK, Version: Version}
	if h.health != nil {
		st := h.health.Health()
		resp.Status = st.Status
		resp.Since = st.Since
		resp.LastError = st.LastError
	}
	if h.contracts != nil {
		resp.Contracts = h.contracts()
	}
	if h.inFlight != nil {
		resp.InFlight = h.inFlight()
	}

	api.RespondJSON(w, http.StatusOK, resp)
}
