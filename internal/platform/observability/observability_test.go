package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/storefront-commerce/api/internal/platform/requestctx"
)

func TestEventLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logEvent := EventLogger(zap.New(core))

	logEvent(context.Background(), "pricing.quote.computed", map[string]any{"tenantId": "t1", "lines": 2})
	logEvent(context.Background(), "currency.rate.fallback", map[string]any{"currency": "XYZ"})
	logEvent(context.Background(), "order.event.publish.failed", map[string]any{"error": errors.New("boom")})

	entries := logs.AllUntimed()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].Message != "pricing.quote.computed" {
		t.Fatalf("unexpected first entry %+v", entries[0].Entry)
	}
	if got := entries[0].ContextMap()["tenantId"]; got != "t1" {
		t.Fatalf("expected tenantId field, got %v", got)
	}
	if entries[1].Level != zapcore.WarnLevel || entries[2].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for fallback and failure events")
	}
	if got := entries[2].ContextMap()["error"]; got != "boom" {
		t.Fatalf("expected error field, got %v", got)
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.InfoLevel)
	reqCore, reqLogs := observer.New(zapcore.InfoLevel)

	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore).With(zap.String("request_id", "r1")))
	EventLogger(zap.New(baseCore))(ctx, "cart.line.added", nil)

	if baseLogs.Len() != 0 || reqLogs.Len() != 1 {
		t.Fatalf("expected event on request logger, base=%d req=%d", baseLogs.Len(), reqLogs.Len())
	}
	if got := reqLogs.All()[0].ContextMap()["request_id"]; got != "r1" {
		t.Fatalf("expected request_id carried, got %v", got)
	}
}

func TestCallerLoggerMiddlewareAddsTenantFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := InjectLoggerMiddleware(zap.New(core))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestctx.WithCaller(r.Context(), requestctx.Caller{TenantID: "t1", CustomerID: "c\x007"})
			CallerLoggerMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				requestctx.Logger(r.Context()).Info("inside")
			})).ServeHTTP(w, r.WithContext(ctx))
		}),
	)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/cart", nil))

	if logs.Len() != 1 {
		t.Fatalf("expected one entry, got %d", logs.Len())
	}
	fields := logs.All()[0].ContextMap()
	if fields["tenant_id"] != "t1" || fields["customer_id"] != "c7" {
		t.Fatalf("unexpected caller fields %v", fields)
	}
}

func TestRecoveryMiddlewareWritesJSONError(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/checkout", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal_error") {
		t.Fatalf("expected error envelope, got %s", rec.Body.String())
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestRequestLoggerMiddlewareLogsStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := InjectLoggerMiddleware(zap.New(core))(
		RequestLoggerMiddleware("proj")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusConflict)
		})),
	)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/checkout", nil))

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected completion log, got %d", len(completed))
	}
	if completed[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn for 4xx, got %s", completed[0].Level)
	}
	if got := completed[0].ContextMap()["status"]; got != int64(http.StatusConflict) {
		t.Fatalf("expected status 409, got %v", got)
	}
}

func TestParseCloudTraceContext(t *testing.T) {
	spanCtx, sampled, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/258;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if !sampled || !spanCtx.IsRemote() || !spanCtx.IsSampled() {
		t.Fatalf("expected sampled remote span, got %+v", spanCtx)
	}
	if got := spanCtx.SpanID().String(); got != "0000000000000102" {
		t.Fatalf("expected decimal span id 258 as hex, got %s", got)
	}

	info := requestctx.TraceInfo{TraceID: spanCtx.TraceID().String(), SpanID: spanCtx.SpanID().String(), Sampled: true}
	if formatted := formatCloudTraceHeader(info); formatted != "105445aa7843bc8bf206b12000100000/258;o=1" {
		t.Fatalf("unexpected formatted header %q", formatted)
	}
	for _, header := range []string{"garbage", "105445aa7843bc8bf206b12000100000/abc", "zz/1;o=1"} {
		if _, _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestTraceMiddlewareNamesSpanAfterRoute(t *testing.T) {
	router := chi.NewRouter()
	router.Use(TraceMiddleware("shop-dev"))
	var seen requestctx.TraceInfo
	router.Get("/api/v1/orders/{orderId}", func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestctx.Trace(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_1", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if seen.ProjectID != "shop-dev" {
		t.Fatalf("expected project id on trace info, got %+v", seen)
	}
}
