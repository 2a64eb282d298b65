package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-booking-core/internal/booking"
	"github.com/wolfman30/clinic-booking-core/internal/catalog"
	"github.com/wolfman30/clinic-booking-core/internal/holds"
	httpmiddleware "github.com/wolfman30/clinic-booking-core/internal/http/middleware"
	"github.com/wolfman30/clinic-booking-core/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-core/internal/payments"
	"github.com/wolfman30/clinic-booking-core/internal/slots"
	"github.com/wolfman30/clinic-booking-core/pkg/logging"
)

const testResultEndpoint = "https://app.example.com/payments/result"

func newTestRouter(t *testing.T, mutate func(cfg *Config)) http.Handler {
	t.Helper()

	logger := logging.Default()
	reg := prometheus.NewRegistry()
	registry := payments.NewRegistry(logger, payments.NewFakeGateway("https://app.example.com", logger))
	resolver := payments.NewResolver(registry, "support@clinic.example")
	svc := booking.NewService(
		booking.NewStore(booking.NewMemoryKV(), time.Hour),
		catalog.NewStaticSource(),
		slots.NewStaticSource(),
		holds.NewClient("http://holds.invalid", logger),
		registry,
		resolver,
		booking.Config{ResultEndpoint: testResultEndpoint},
		logger,
	).WithMetrics(metrics.NewBookingMetrics(reg))

	cfg := &Config{
		Logger:         logger,
		Booking:        booking.NewHandler(svc, time.UTC, logger),
		Results:        payments.NewResultHandler(resolver, logger),
		FakePayments:   payments.NewFakeHandler(testResultEndpoint, logger),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg)
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterReadyEndpointReportsFailure(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) {
		cfg.ReadyCheck = func(context.Context) error { return errors.New("redis down") }
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rr.Code)
	}
}

func TestRouterResultEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)
	target := payments.ResultURL("/payments/result", payments.OutcomeFailed, "order-1", "cancelled", "", payments.GatewayFake)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var res payments.Resolution
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
		t.Fatalf("decode resolution: %v", err)
	}
	if res.Reason != payments.ReasonUserCancelled {
		t.Fatalf("expected user_cancelled, got %s", res.Reason)
	}
}

func TestRouterDemoPagesMounted(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/demo/pay/order-1?amount=5000", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}

func TestRouterBookingRequiresDevice(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/booking/session", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d without device, got %d", http.StatusBadRequest, rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/booking/session", nil)
	req.Header.Set(httpmiddleware.DeviceHeader, "device-router-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/booking/session", nil)
	req.Header.Set(httpmiddleware.DeviceHeader, "device-router-1")
	router.ServeHTTP(httptest.NewRecorder(), req)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "clinic_booking_stage_transitions_total") {
		t.Fatalf("expected booking metrics in output")
	}
}

func TestRouterRateLimitsConfirm(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) {
		cfg.ConfirmLimiter = httpmiddleware.NewKeyedLimiter(httpmiddleware.PerMinute(1), 1)
	})

	confirm := func() int {
		req := httptest.NewRequest(http.MethodPost, "/v1/booking/session/confirm", nil)
		req.Header.Set(httpmiddleware.DeviceHeader, "device-router-2")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := confirm(); code == http.StatusTooManyRequests {
		t.Fatalf("first confirm should not be rate limited")
	}
	if code := confirm(); code != http.StatusTooManyRequests {
		t.Fatalf("expected %d, got %d", http.StatusTooManyRequests, code)
	}
}
