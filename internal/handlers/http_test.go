package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/akmatori/contractmon/internal/api"
	"github.com/akmatori/contractmon/internal/monitor"
)

type fakeHealth struct {
	status monitor.HealthStatus
}

func (f fakeHealth) Health() monitor.HealthStatus { return f.status }

func TestHTTPHandler_handleHealth(t *testing.T) {
	h := NewHTTPHandler(nil, nil, nil, nil)

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{"GET returns 200 OK", http.MethodGet, http.StatusOK},
		{"POST returns 405 Method Not Allowed", http.MethodPost, http.StatusMethodNotAllowed},
		{"DELETE returns 405 Method Not Allowed", http.MethodDelete, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			h.SetupRoutes(mux)
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			mux.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}

func TestHTTPHandler_HealthReportsEngineState(t *testing.T) {
	since := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	h := NewHTTPHandler(
		fakeHealth{monitor.HealthStatus{Status: monitor.StatusDegraded, Since: since, LastError: "database is locked"}},
		func() int { return 3 },
		func() int { return 2 },
		nil,
	)

	w := httptest.NewRecorder()
	h.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	// degraded still answers 200
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp api.HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != monitor.StatusDegraded {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if !resp.Since.Equal(since) {
		t.Errorf("since = %v, want %v", resp.Since, since)
	}
	if resp.LastError != "database is locked" {
		t.Errorf("last_error = %q", resp.LastError)
	}
	if resp.Contracts != 3 || resp.InFlight != 2 {
		t.Errorf("contracts/in_flight = %d/%d, want 3/2", resp.Contracts, resp.InFlight)
	}
	if resp.Version != Version {
		t.Errorf("version = %q, want %q", resp.Version, Version)
	}
}

func TestHTTPHandler_SetupRoutes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("contractmon_checks_total 1\n"))
	})
	h := NewHTTPHandler(nil, nil, nil, metrics)
	mux := http.NewServeMux()
	h.SetupRoutes(mux)

	tests := []struct {
		path string
		want int
	}{
		{"/health", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if w.Code != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.want, w.Code)
		}
	}
}

func TestHTTPHandler_NoMetricsRoute(t *testing.T) {
	h := NewHTTPHandler(nil, nil, nil, nil)
	mux := http.NewServeMux()
	h.SetupRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without metrics handler, got %d", w.Code)
	}
}
