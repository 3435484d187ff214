package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	if status.Status != "healthy" || status.Service != serviceName {
		t.Errorf("Unexpected health payload: %+v", status)
	}
}

func TestReadinessHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	failing := func(context.Context) error { return errors.New("engine unreachable") }

	rec := httptest.NewRecorder()
	ReadinessHandler(map[string]HealthCheckFunc{"engine": ok, "ledger": ok})(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 when all checks pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	ReadinessHandler(map[string]HealthCheckFunc{"engine": failing, "ledger": ok})(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503 when a check fails, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode readiness response: %v", err)
	}
	if status.Status != "not_ready" {
		t.Errorf("Expected status 'not_ready', got '%s'", status.Status)
	}
	if status.Dependencies["engine"].Message != "engine unreachable" {
		t.Errorf("Expected engine failure message, got %+v", status.Dependencies["engine"])
	}
	if status.Dependencies["ledger"].Status != "healthy" {
		t.Errorf("Expected ledger healthy, got %+v", status.Dependencies["ledger"])
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug").String() != "debug" {
		t.Error("Expected debug level")
	}
	if ParseLevel("nonsense").String() != "info" {
		t.Error("Expected unknown level to default to info")
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), "", true)
	if err != nil {
		t.Fatalf("InitTracing() failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Expected no-op shutdown, got %v", err)
	}
}

func TestInitTracingEnabled(t *testing.T) {
	// The exporter connects lazily, so no collector needs to be listening.
	shutdown, err := InitTracing(context.Background(), "127.0.0.1:4317", true)
	if err != nil {
		t.Fatalf("InitTracing() failed: %v", err)
	}
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	_, span := Tracer().Start(context.Background(), "test")
	if !span.SpanContext().IsValid() {
		t.Error("Expected a recording tracer after InitTracing")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = shutdown(ctx)
}
