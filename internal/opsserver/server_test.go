package opsserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ridgeline-systems/creep/internal/telemetry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthz(t *testing.T) {
	s := New(discardLogger(), nil, nil, telemetry.NewRegistry(), "/metrics")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v, want status=ok", body)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s := New(discardLogger(), nil, nil, telemetry.NewRegistry(), "/metrics")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected non-empty metrics body")
	}
}

func TestUptimeIsNonNegative(t *testing.T) {
	s := New(discardLogger(), nil, nil, telemetry.NewRegistry(), "/metrics")
	if s.Uptime() < 0 {
		t.Fatalf("uptime = %v, want >= 0", s.Uptime())
	}
}
