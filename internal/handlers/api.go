package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/akmatori/contractmon/internal/api"
	"github.com/akmatori/contractmon/internal/clock"
	"github.com/akmatori/contractmon/internal/config"
	"github.com/akmatori/contractmon/internal/database"
	"github.com/akmatori/contractmon/internal/models"
	"github.com/akmatori/contractmon/internal/registry"
	"github.com/akmatori/contractmon/internal/reporting"
)

// LiveFeedPath is the websocket route of the live violation feed
const LiveFeedPath = "/ws/violations"

// ContractRegistry is the contract lifecycle surface used by the API
type ContractRegistry interface {
	Register(ctx context.Context, contract models.Contract, overrides *config.Overrides) error
	Deregister(ctx context.Context, name string) error
	ListActive() []registry.RegisteredContract
	Get(name string) (registry.RegisteredContract, bool)
}

// HistoryStore reads monitoring history
type HistoryStore interface {
	ListSLAStatuses(ctx context.Context, contractName string) ([]database.SLAStatus, error)
	GetViolations(ctx context.Context, filter database.ViolationFilter) ([]models.ContractViolationEvent, int64, error)
}

// ComplianceReporter builds compliance reports
type ComplianceReporter interface {
	Report(ctx context.Context, contractName string, window reporting.Window, asOf time.Time) (reporting.Report, error)
}

// APIHandler serves the operator API
type APIHandler struct {
	registry ContractRegistry
	history  HistoryStore
	reporter ComplianceReporter
	liveFeed http.Handler
	clock    clock.Clock
}

// APIOptions configures an APIHandler. History, Reporter and LiveFeed are
// optional; their endpoints answer 503 when absent.
type APIOptions struct {
	Registry ContractRegistry
	History  HistoryStore
	Reporter ComplianceReporter
	LiveFeed http.Handler
	Clock    clock.Clock
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(opts APIOptions) *APIHandler {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &APIHandler{
		registry: opts.Registry,
		history:  opts.History,
		reporter: opts.Reporter,
		liveFeed: opts.LiveFeed,
		clock:    opts.Clock,
	}
}

// SetupRoutes sets up all API routes
func (h *APIHandler) SetupRoutes(mux *http.ServeMux) {
	// Contract lifecycle
	mux.HandleFunc("GET /api/contracts", h.handleListContracts)
	mux.HandleFunc("POST /api/contracts", h.handleRegisterContract)
	mux.HandleFunc("GET /api/contracts/{name}", h.handleGetContract)
	mux.HandleFunc("DELETE /api/contracts/{name}", h.handleDeregisterContract)

	// History and reporting
	mux.HandleFunc("GET /api/contracts/{name}/sla", h.handleContractSLA)
	mux.HandleFunc("GET /api/contracts/{name}/compliance", h.handleContractCompliance)
	mux.HandleFunc("GET /api/violations", h.handleViolations)

	// Live violation feed
	if h.liveFeed != nil {
		mux.Handle("GET "+LiveFeedPath, h.liveFeed)
	}
}

// handleListContracts handles GET /api/contracts
func (h *APIHandler) handleListContracts(w http.ResponseWriter, r *http.Request) {
	api.RespondJSON(w, http.StatusOK, api.ContractsToResponses(h.registry.ListActive()))
}

// handleGetContract handles GET /api/contracts/{name}
func (h *APIHandler) handleGetContract(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.registry.Get(r.PathValue("name"))
	if !ok {
		api.RespondError(w, http.StatusNotFound, api.CodeNotFound, "Contract not found")
		return
	}
	api.RespondJSON(w, http.StatusOK, api.ContractToResponse(rc))
}

// handleRegisterContract handles POST /api/contracts.
// JSON bodies carry a contract; YAML bodies carry a full contract definition
// including monitoring overrides, in the same shape as the definitions file.
func (h *APIHandler) handleRegisterContract(w http.ResponseWriter, r *http.Request) {
	var contract models.Contract
	var overrides *config.Overrides

	if api.IsYAML(r) {
		var def config.ContractDefinition
		if err := api.DecodeYAML(r, &def); err != nil {
			api.RespondError(w, http.StatusBadRequest, api.CodeBadRequest, err.Error())
			return
		}
		contract, overrides = def.Contract, def.Monitoring
	} else {
		var req api.RegisterContractRequest
		if err := api.DecodeJSON(r, &req); err != nil {
			api.RespondError(w, http.StatusBadRequest, api.CodeBadRequest, err.Error())
			return
		}
		if errs := api.Validate(req); errs != nil {
			api.RespondValidationError(w, errs)
			return
		}
		c, err := req.ToContract()
		if err != nil {
			api.RespondError(w, http.StatusBadRequest, api.CodeBadRequest, err.Error())
			return
		}
		contract = c
	}

	if err := h.registry.Register(r.Context(), contract, overrides); err != nil {
		api.RespondError(w, http.StatusBadRequest, api.CodeInvalidContract, err.Error())
		return
	}

	rc, ok := h.registry.Get(contract.Name)
	if !ok {
		api.RespondError(w, http.StatusInternalServerError, api.CodeInternal, "Contract was not registered")
		return
	}
	api.RespondJSON(w, http.StatusCreated, api.ContractToResponse(rc))
}

// handleDeregisterContract handles DELETE /api/contracts/{name}
func (h *APIHandler) handleDeregisterContract(w http.ResponseWriter, r *http.Request) {
	err := h.registry.Deregister(r.Context(), r.PathValue("name"))
	if errors.Is(err, registry.ErrNotFound) {
		api.RespondError(w, http.StatusNotFound, api.CodeNotFound, "Contract not found")
		return
	}
	if err != nil {
		api.RespondFailure(w, http.StatusInternalServerError, "deregister contract", err)
		return
	}
	api.RespondNoContent(w)
}

// handleContractSLA handles GET /api/contracts/{name}/sla
func (h *APIHandler) handleContractSLA(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		api.RespondError(w, http.StatusServiceUnavailable, api.CodeUnavailable, "History store not configured")
		return
	}

	name := r.PathValue("name")
	statuses, err := h.history.ListSLAStatuses(r.Context(), name)
	if err != nil {
		api.RespondFailure(w, http.StatusServiceUnavailable, "load SLA status", err)
		return
	}
	if len(statuses) == 0 {
		if _, ok := h.registry.Get(name); !ok {
			api.RespondError(w, http.StatusNotFound, api.CodeNotFound, "Contract not found")
			return
		}
	}
	api.RespondJSON(w, http.StatusOK, statuses)
}

// handleContractCompliance handles GET /api/contracts/{name}/compliance.
// Query parameters: window (daily, weekly, monthly) and as_of (YYYY-MM-DD).
func (h *APIHandler) handleContractCompliance(w http.ResponseWriter, r *http.Request) {
	if h.reporter == nil {
		api.RespondError(w, http.StatusServiceUnavailable, api.CodeUnavailable, "Reporting not configured")
		return
	}

	query := r.URL.Query()
	window, err := reporting.ParseWindow(query.Get("window"))
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, api.CodeBadRequest, err.Error())
		return
	}
	asOf := h.clock.Now()
	if v := query.Get("as_of"); v != "" {
		asOf, err = time.Parse(database.DateLayout, v)
		if err != nil {
			api.RespondError(w, http.StatusBadRequest, api.CodeBadRequest, "as_of must be a date in YYYY-MM-DD format")
			return
		}
	}

	name := r.PathValue("name")
	report, err := h.reporter.Report(r.Context(), name, window, asOf)
	if errors.Is(err, reporting.ErrNoData) {
		api.RespondError(w, http.StatusNotFound, api.CodeNoData, "No evaluated checks in the requested window")
		return
	}
	if err != nil {
		api.RespondFailure(w, http.StatusServiceUnavailable, "compute compliance", err)
		return
	}
	api.RespondJSON(w, http.StatusOK, report)
}

// handleViolations handles GET /api/violations.
// Filters: contract, type, min_severity, since and until (RFC 3339); paginated.
func (h *APIHandler) handleViolations(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		api.RespondError(w, http.StatusServiceUnavailable, api.CodeUnavailable, "History store not configured")
		return
	}

	query := api.ParseViolationQuery(r.URL.Query())
	if errs := api.Validate(query); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}
	filter, err := query.Filter()
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, api.CodeBadRequest, err.Error())
		return
	}

	events, total, err := h.history.GetViolations(r.Context(), filter)
	if err != nil {
		api.RespondFailure(w, http.StatusServiceUnavailable, "list violations", err)
		return
	}

	api.RespondJSON(w, http.StatusOK, api.PaginatedResponse{
		Data:       events,
		Pagination: query.Page.Meta(total),
	})
}
