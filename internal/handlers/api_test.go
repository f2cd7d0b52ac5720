package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/akmatori/contractmon/internal/api"
	"github.com/akmatori/contractmon/internal/clock"
	"github.com/akmatori/contractmon/internal/config"
	"github.com/akmatori/contractmon/internal/database"
	"github.com/akmatori/contractmon/internal/models"
	"github.com/akmatori/contractmon/internal/registry"
	"github.com/akmatori/contractmon/internal/reporting"
	"github.com/akmatori/contractmon/internal/testhelpers"
)

type fakeHistory struct {
	statuses map[string][]database.SLAStatus
	events   []models.ContractViolationEvent
	filter   database.ViolationFilter
	err      error
}

func (f *fakeHistory) ListSLAStatuses(ctx context.Context, contractName string) ([]database.SLAStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.statuses[contractName], nil
}

func (f *fakeHistory) GetViolations(ctx context.Context, filter database.ViolationFilter) ([]models.ContractViolationEvent, int64, error) {
	f.filter = filter
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.events, int64(len(f.events)), nil
}

type fakeReporter struct {
	window reporting.Window
	asOf   time.Time
	err    error
}

func (f *fakeReporter) Report(ctx context.Context, contractName string, window reporting.Window, asOf time.Time) (reporting.Report, error) {
	f.window, f.asOf = window, asOf
	if f.err != nil {
		return reporting.Report{}, f.err
	}
	pct := 95.0
	return reporting.Report{
		ContractName: contractName,
		Window:       window,
		AsOf:         asOf,
		Overall:      &reporting.Compliance{ContractName: contractName, Passed: 19, Failed: 1, Percent: pct},
	}, nil
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type apiFixture struct {
	mux      *http.ServeMux
	registry *registry.Registry
	history  *fakeHistory
	reporter *fakeReporter
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	clk := clock.NewManual(testNow)
	f := &apiFixture{
		registry: registry.New(registry.Options{Global: config.DefaultMonitoringConfig(), Clock: clk}),
		history:  &fakeHistory{statuses: map[string][]database.SLAStatus{}},
		reporter: &fakeReporter{},
		mux:      http.NewServeMux(),
	}
	h := NewAPIHandler(APIOptions{
		Registry: f.registry,
		History:  f.history,
		Reporter: f.reporter,
		LiveFeed: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusSwitchingProtocols)
		}),
		Clock: clk,
	})
	h.SetupRoutes(f.mux)
	return f
}

func (f *apiFixture) do(method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) register(t *testing.T, name string) {
	t.Helper()
	contract := testhelpers.NewContractBuilder().WithName(name).WithTable("sales", name).Build()
	err := f.registry.Register(context.Background(), contract, nil)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var resp api.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

const ordersJSON = `{
	"name": "orders",
	"version": "1.0.0",
	"location": {"namespace": "sales", "table": "orders", "freshness_column": "updated_at"},
	"schema": [{"name": "id", "type": "bigint", "required": true}],
	"sla": {"freshness": "2h", "min_quality_score": 95},
	"consumers": ["finance-dashboard"]
}`

func TestAPIHandler_RegisterContractJSON(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/contracts", "application/json", ordersJSON)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp api.ContractResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Name != "orders" || resp.Version != "1.0.0" {
		t.Errorf("unexpected contract %s@%s", resp.Name, resp.Version)
	}
	if resp.SLA.Freshness != "2h0m0s" {
		t.Errorf("sla.freshness = %q, want 2h0m0s", resp.SLA.Freshness)
	}
	if resp.Intervals["availability"] != "1m0s" {
		t.Errorf("expected default availability interval, got %q", resp.Intervals["availability"])
	}
	if !resp.RegisteredAt.Equal(testNow) {
		t.Errorf("registered_at = %v, want %v", resp.RegisteredAt, testNow)
	}

	if _, ok := f.registry.Get("orders"); !ok {
		t.Error("expected contract in registry")
	}
}

func TestAPIHandler_RegisterContractYAML(t *testing.T) {
	f := newAPIFixture(t)

	body := `
name: orders
version: 2.0.0
location:
  namespace: sales
  table: orders
sla:
  freshness: 1h
monitoring:
  intervals:
    freshness: 10m
`
	w := f.do(http.MethodPost, "/api/contracts", "application/yaml", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	rc, ok := f.registry.Get("orders")
	if !ok {
		t.Fatal("expected contract in registry")
	}
	if got := rc.Config.Interval(models.CheckTypeFreshness); got != 10*time.Minute {
		t.Errorf("freshness interval = %v, want 10m override", got)
	}
	if got := rc.Config.Interval(models.CheckTypeSchema); got != time.Hour {
		t.Errorf("schema interval = %v, want inherited 1h", got)
	}
}

func TestAPIHandler_RegisterContractErrors(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantStatus  int
		wantCode    string
	}{
		{"empty body", "application/json", "", http.StatusBadRequest, "bad_request"},
		{"malformed json", "application/json", "{", http.StatusBadRequest, "bad_request"},
		{"missing table", "application/json", `{"name":"orders","version":"1"}`, http.StatusUnprocessableEntity, "validation_error"},
		{"bad freshness", "application/json", `{"name":"orders","version":"1","location":{"table":"orders"},"sla":{"freshness":"soon"}}`, http.StatusUnprocessableEntity, "validation_error"},
		{"unknown yaml field", "application/yaml", "name: orders\nversion: \"1\"\nbogus: true\n", http.StatusBadRequest, "bad_request"},
		{"registry rejects", "application/yaml", "name: orders\nversion: \"1\"\n", http.StatusBadRequest, "invalid_contract"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			w := f.do(http.MethodPost, "/api/contracts", tt.contentType, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if resp := decodeError(t, w); resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
			if len(f.registry.ListActive()) != 0 {
				t.Error("expected nothing registered")
			}
		})
	}
}

func TestAPIHandler_ListAndGetContracts(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "orders")
	f.register(t, "customers")

	w := f.do(http.MethodGet, "/api/contracts", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list []api.ContractResponse
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(list) != 2 || list[0].Name != "customers" || list[1].Name != "orders" {
		t.Errorf("unexpected list %+v", list)
	}

	if w := f.do(http.MethodGet, "/api/contracts/orders", "", ""); w.Code != http.StatusOK {
		t.Errorf("get existing: expected 200, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/api/contracts/missing", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("get missing: expected 404, got %d", w.Code)
	}
}

func TestAPIHandler_DeregisterContract(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "orders")

	w := f.do(http.MethodDelete, "/api/contracts/orders", "", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if len(f.registry.ListActive()) != 0 {
		t.Error("expected contract deregistered")
	}

	w = f.do(http.MethodDelete, "/api/contracts/orders", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", w.Code)
	}
}

func TestAPIHandler_ContractSLA(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "orders")
	f.register(t, "customers")
	f.history.statuses["orders"] = []database.SLAStatus{
		{ContractName: "orders", CheckType: "freshness", CompliancePercent: 99.5, LastStatus: "passed"},
	}

	w := f.do(http.MethodGet, "/api/contracts/orders/sla", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var statuses []database.SLAStatus
	if err := json.NewDecoder(w.Body).Decode(&statuses); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(statuses) != 1 || statuses[0].CompliancePercent != 99.5 {
		t.Errorf("unexpected statuses %+v", statuses)
	}

	// registered but never checked
	if w := f.do(http.MethodGet, "/api/contracts/customers/sla", "", ""); w.Code != http.StatusOK {
		t.Errorf("unchecked contract: expected 200, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/api/contracts/missing/sla", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown contract: expected 404, got %d", w.Code)
	}

	f.history.err = errors.New("database is locked")
	if w := f.do(http.MethodGet, "/api/contracts/orders/sla", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("store failure: expected 503, got %d", w.Code)
	}
}

func TestAPIHandler_Compliance(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/api/contracts/orders/compliance?window=weekly&as_of=2026-03-08", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if f.reporter.window != reporting.WindowWeekly {
		t.Errorf("window = %q, want weekly", f.reporter.window)
	}
	if want := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC); !f.reporter.asOf.Equal(want) {
		t.Errorf("as_of = %v, want %v", f.reporter.asOf, want)
	}
	var report reporting.Report
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if report.Overall == nil || report.Overall.Percent != 95 {
		t.Errorf("unexpected report %+v", report)
	}

	// defaults: daily window as of now
	f.do(http.MethodGet, "/api/contracts/orders/compliance", "", "")
	if f.reporter.window != reporting.WindowDaily || !f.reporter.asOf.Equal(testNow) {
		t.Errorf("defaults = %q %v, want daily %v", f.reporter.window, f.reporter.asOf, testNow)
	}
}

func TestAPIHandler_ComplianceErrors(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unknown window", "?window=hourly", nil, http.StatusBadRequest, "bad_request"},
		{"bad as_of", "?as_of=03/08/2026", nil, http.StatusBadRequest, "bad_request"},
		{"no data", "", reporting.ErrNoData, http.StatusNotFound, "no_data"},
		{"store failure", "", errors.New("connection refused"), http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.reporter.err = tt.err
			w := f.do(http.MethodGet, "/api/contracts/orders/compliance"+tt.query, "", "")
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, w.Code)
			}
			if resp := decodeError(t, w); resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestAPIHandler_Violations(t *testing.T) {
	f := newAPIFixture(t)
	f.history.events = []models.ContractViolationEvent{
		{ID: "v1", ContractName: "orders", ViolationType: models.ViolationFreshness, Severity: models.SeverityCritical},
	}

	w := f.do(http.MethodGet,
		"/api/violations?contract=orders&type=freshness&min_severity=ERROR&since=2026-03-01T00:00:00Z&page=2&per_page=10", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	got := f.history.filter
	if got.ContractName != "orders" || got.ViolationType != models.ViolationFreshness {
		t.Errorf("unexpected filter %+v", got)
	}
	if got.MinSeverity != models.SeverityError {
		t.Errorf("min severity = %q, want error", got.MinSeverity)
	}
	if !got.Since.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) || !got.Until.IsZero() {
		t.Errorf("since/until = %v/%v", got.Since, got.Until)
	}
	if got.Limit != 10 || got.Offset != 10 {
		t.Errorf("limit/offset = %d/%d, want 10/10", got.Limit, got.Offset)
	}

	var resp struct {
		Data       []models.ContractViolationEvent `json:"data"`
		Pagination api.PaginationMeta              `json:"pagination"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].ID != "v1" {
		t.Errorf("unexpected data %+v", resp.Data)
	}
	if resp.Pagination.Page != 2 || resp.Pagination.Total != 1 {
		t.Errorf("unexpected pagination %+v", resp.Pagination)
	}
}

func TestAPIHandler_ViolationsInvalidFilters(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/api/violations?min_severity=urgent&until=yesterday", "", "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	resp := decodeError(t, w)
	if _, ok := resp.Details["min_severity"]; !ok {
		t.Error("expected min_severity field error")
	}
	if _, ok := resp.Details["until"]; !ok {
		t.Error("expected until field error")
	}
	if resp.Details["type"] != "" {
		t.Errorf("unexpected type error %q", resp.Details["type"])
	}

	w = f.do(http.MethodGet, "/api/violations?type=latency", "", "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown type: expected 422, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.Details["type"] == "" {
		t.Error("expected type field error")
	}
}

func TestAPIHandler_StoreFailureHidesBackendError(t *testing.T) {
	f := newAPIFixture(t)
	f.history.err = errors.New("dial postgres://contractmon:hunter2@db:5432/contractmon: connection refused")

	req := httptest.NewRequest(http.MethodGet, "/api/violations", nil)
	w := httptest.NewRecorder()
	w.Header().Set(api.RequestIDHeader, "req-42")
	f.mux.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	body := w.Body.String()
	if strings.Contains(body, "hunter2") || strings.Contains(body, "postgres://") {
		t.Errorf("backend error leaked: %s", body)
	}
	resp := decodeError(t, w)
	if resp.Code != api.CodeUnavailable || resp.Error != "Failed to list violations" {
		t.Errorf("unexpected error %+v", resp)
	}
	if resp.RequestID != "req-42" {
		t.Errorf("request id = %q, want req-42", resp.RequestID)
	}
}

func TestAPIHandler_LiveFeedRoute(t *testing.T) {
	f := newAPIFixture(t)
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/ws/violations", nil).
		Execute(f.mux).
		AssertStatus(http.StatusSwitchingProtocols)
}

func TestAPIHandler_OptionalDependencies(t *testing.T) {
	mux := http.NewServeMux()
	NewAPIHandler(APIOptions{
		Registry: registry.New(registry.Options{Global: config.DefaultMonitoringConfig()}),
	}).SetupRoutes(mux)

	for _, path := range []string{"/api/violations", "/api/contracts/orders/sla", "/api/contracts/orders/compliance"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, w.Code)
		}
	}
}
