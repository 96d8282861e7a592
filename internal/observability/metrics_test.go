package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/register"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsHandlerExposesJobMetrics(t *testing.T) {
	metrics := NewMetrics()
	_ = metrics.Jobs().Track("register:stale-scan").End(nil)
	_ = metrics.Jobs().Track("register:close-report").End(errors.New("boom"))

	body := scrape(t, metrics)
	if !strings.Contains(body, `odyssey_jobs_total{job="register:stale-scan",status="success"} 1`) {
		t.Fatalf("expected success run, got: %s", body)
	}
	if !strings.Contains(body, `odyssey_jobs_failures_total{job="register:close-report"} 1`) {
		t.Fatalf("expected failure run, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsBody := scrape(t, metrics)
	if !strings.Contains(metricsBody, "http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestRegisterInstrumentation(t *testing.T) {
	metrics := NewMetrics()
	var inst register.Instrumentation = metrics

	inst.SessionOpened(7)
	inst.SessionOpened(7)
	inst.SessionClosed(7)
	inst.CountMismatch(7)
	inst.MovementRecorded(register.MovementIngress, decimal.RequireFromString("12.50"))

	body := scrape(t, metrics)
	for _, want := range []string{
		`odyssey_register_sessions_opened_total{branch="7"} 2`,
		`odyssey_register_sessions_closed_total{branch="7"} 1`,
		`odyssey_register_count_mismatches_total{branch="7"} 1`,
		`odyssey_register_movements_total{kind="INGRESS"} 1`,
		`odyssey_register_movement_amount_total{kind="INGRESS"} 12.5`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in: %s", want, body)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.SessionOpened(1)
	metrics.MovementRecorded(register.MovementEgress, decimal.NewFromInt(1))

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
