package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lionbidi/storefront/internal/platform/requestctx"
)

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("nonsense")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug disabled at default level")
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("expected info enabled")
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zap.InfoLevel)
	reqCore, reqLogs := observer.New(zap.InfoLevel)
	log := EventLogger(zap.New(baseCore))

	log(context.Background(), "cart.merge.applied", map[string]any{"lines": 2})
	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore))
	log(ctx, "order.event.publish.failed", map[string]any{"order": "ord_1"})

	if baseLogs.Len() != 1 || reqLogs.Len() != 1 {
		t.Fatalf("expected one entry per logger, got base=%d request=%d", baseLogs.Len(), reqLogs.Len())
	}
	entry := reqLogs.All()[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected failures logged at warn, got %s", entry.Level)
	}
	if entry.ContextMap()["order"] != "ord_1" {
		t.Fatalf("missing field: %v", entry.ContextMap())
	}
}

func TestRequestLoggerLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	router := chi.NewRouter()
	router.Use(RequestLogger(zap.New(core)))
	router.Get("/api/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		requestctx.Logger(r.Context()).Info("inside handler")
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/ord_1", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected completion line, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn for 404, got %s", entries[0].Level)
	}
	if entries[0].ContextMap()["route"] != "/api/orders/{id}" {
		t.Fatalf("expected route pattern, got %v", entries[0].ContextMap()["route"])
	}
	if logs.FilterMessage("inside handler").Len() != 1 {
		t.Fatalf("handler should log through the request logger")
	}
}

func TestRecoveryWritesEnvelope(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	handler := Recovery(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"internal_server_error"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic log")
	}
}

func TestTraceUsesCloudTraceHeader(t *testing.T) {
	var got requestctx.TraceInfo
	handler := Trace("lb-prod")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = requestctx.Trace(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got.TraceID != "105445aa7843bc8bf206b12000100000" || !got.Sampled || got.ProjectID != "lb-prod" {
		t.Fatalf("unexpected trace info %+v", got)
	}
	if rec.Header().Get(cloudTraceHeader) != "105445aa7843bc8bf206b12000100000/1;o=1" {
		t.Fatalf("unexpected echoed header %q", rec.Header().Get(cloudTraceHeader))
	}
}

func TestTracePrefersTraceparent(t *testing.T) {
	var got requestctx.TraceInfo
	handler := Trace("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = requestctx.Trace(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" || got.SpanID != "00f067aa0ba902b7" {
		t.Fatalf("unexpected trace info %+v", got)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	metrics := NewMetrics()
	router := chi.NewRouter()
	router.Use(metrics.Middleware)
	router.Get("/api/orders/{id}", func(w http.ResponseWriter, r *http.Request) {})
	router.Handle("/metrics", metrics.Handler())

	for i := 0; i < 3; i++ {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/orders/ord_"+string(rune('a'+i)), nil))
	}
	metrics.RecordOrderOperation("create", "success")
	metrics.ObserveDeliveryLookup("fallback")

	if got := testutil.ToFloat64(metrics.httpRequests.WithLabelValues(http.MethodGet, "/api/orders/{id}", "200")); got != 3 {
		t.Fatalf("expected 3 requests on the route pattern, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.orderOperations.WithLabelValues("create", "success")); got != 1 {
		t.Fatalf("expected one order operation, got %v", got)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "storefront_delivery_region_lookups_total") {
		t.Fatalf("metrics endpoint missing collector output")
	}
}
