package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/pitabwire/cylinder-portal/internal/config"
	"github.com/pitabwire/cylinder-portal/model"
)

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func spanAttrMap(s tracetest.SpanStub) map[string]string {
	m := make(map[string]string)
	for _, a := range s.Attributes {
		m[string(a.Key)] = a.Value.Emit()
	}
	return m
}

func TestInitTracing_exporters(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.TracingConfig
		wantErr bool
	}{
		{"disabled", config.TracingConfig{Enabled: false, Exporter: "zipkin"}, false},
		{"stdout", config.TracingConfig{Enabled: true, Exporter: "stdout", SamplingRate: 1}, false},
		{"unsupported", config.TracingConfig{Enabled: true, Exporter: "zipkin"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := InitTracing(context.Background(), tt.cfg, "cylinder-portal", "test")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("InitTracing: %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Errorf("shutdown: %v", err)
			}
		})
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, "root:TraceIDRatioBased{0.1}"},
		{0.25, "root:TraceIDRatioBased{0.25}"},
		{1, "root:AlwaysOnSampler"},
		{3, "root:AlwaysOnSampler"},
	}
	for _, tt := range tests {
		if got := newSampler(tt.rate).Description(); !strings.Contains(got, tt.want) {
			t.Errorf("newSampler(%v) = %q, want it to contain %q", tt.rate, got, tt.want)
		}
	}
}

func TestOperatorAttrs(t *testing.T) {
	if attrs := OperatorAttrs(nil); len(attrs) != 0 {
		t.Errorf("nil context attrs = %v, want none", attrs)
	}

	attrs := OperatorAttrs(&model.RequestContext{OperatorID: "op-1"})
	if len(attrs) != 1 || attrs[0].Key != AttrOperatorID {
		t.Errorf("attrs = %v, want operator only", attrs)
	}

	attrs = OperatorAttrs(&model.RequestContext{OperatorID: "op-1", PlantID: "plant-1"})
	if len(attrs) != 2 || attrs[0].Value.AsString() != "plant-1" {
		t.Errorf("attrs = %v, want plant then operator", attrs)
	}
}

func TestStartSpan_nestsUnderParent(t *testing.T) {
	exporter := setupTestTracer(t)

	rctx := &model.RequestContext{OperatorID: "op-1", PlantID: "plant-1"}
	ctx, parent := StartSpan(context.Background(), "inward.Complete", OperatorAttrs(rctx)...)
	_, child := StartSpan(ctx, "inventory.Apply", AttrGas.String("CO2"))
	child.End()
	parent.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	childStub, parentStub := spans[0], spans[1]
	if childStub.Parent.SpanID() != parentStub.SpanContext.SpanID() {
		t.Error("inventory.Apply should be a child of inward.Complete")
	}
	if got := spanAttrMap(parentStub)[string(AttrPlantID)]; got != "plant-1" {
		t.Errorf("plant attribute = %q, want plant-1", got)
	}
	if got := spanAttrMap(childStub)[string(AttrGas)]; got != "CO2" {
		t.Errorf("gas attribute = %q, want CO2", got)
	}
}

func TestEndSpanWithError(t *testing.T) {
	exporter := setupTestTracer(t)

	_, ok := StartSpan(context.Background(), "ok")
	EndSpanWithError(ok, nil)

	_, plain := StartSpan(context.Background(), "plain")
	EndSpanWithError(plain, errors.New("disk full"))

	_, coded := StartSpan(context.Background(), "coded")
	EndSpanWithError(coded, model.NewConflictError("version conflict"))

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("spans = %d, want 3", len(spans))
	}
	if spans[0].Status.Code != codes.Unset {
		t.Errorf("ok status = %v, want Unset", spans[0].Status.Code)
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "disk full" {
		t.Errorf("plain status = %+v", spans[1].Status)
	}
	if _, has := spanAttrMap(spans[1])["portal.error_code"]; has {
		t.Error("an uncoded error should not carry portal.error_code")
	}
	if got := spanAttrMap(spans[2])["portal.error_code"]; got != model.ErrConflict {
		t.Errorf("error code attribute = %q, want %s", got, model.ErrConflict)
	}
}

func TestTraceIDFromContext(t *testing.T) {
	setupTestTracer(t)

	if id := TraceIDFromContext(context.Background()); id != "" {
		t.Errorf("trace ID without span = %q, want empty", id)
	}
	ctx, span := StartSpan(context.Background(), "x")
	defer span.End()
	if id := TraceIDFromContext(ctx); len(id) != 32 {
		t.Errorf("trace ID = %q, want 32 hex chars", id)
	}
}

func TestTracingMiddleware_serverSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	var traceID string
	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = TraceIDFromContext(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/inward", nil)
	req.Header.Set("X-Plant-Id", "plant-7")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if traceID == "" {
		t.Error("handler should see an active span")
	}
	if w.Header().Get("Traceparent") == "" {
		t.Error("response should carry a traceparent header")
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	s := spans[0]
	if s.Name != "POST /api/inward" {
		t.Errorf("span name = %q", s.Name)
	}
	attrs := spanAttrMap(s)
	if attrs["http.response.status_code"] != "201" {
		t.Errorf("status attribute = %q, want 201", attrs["http.response.status_code"])
	}
	if attrs[string(AttrPlantID)] != "plant-7" {
		t.Errorf("plant attribute = %q, want plant-7", attrs[string(AttrPlantID)])
	}
	if s.Status.Code == codes.Error {
		t.Error("a 201 should not mark the span as an error")
	}
}

func TestTracingMiddleware_serverErrorMarksSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Status.Code != codes.Error {
		t.Fatalf("spans = %+v, want one error span", spans)
	}
}

func TestTracingMiddleware_continuesClientTrace(t *testing.T) {
	exporter := setupTestTracer(t)

	handler := TracingMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/api/inventory", nil)
	req.Header.Set("Traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if got := spans[0].SpanContext.TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace ID = %s, want the client's", got)
	}
	if got := spans[0].Parent.SpanID().String(); got != "00f067aa0ba902b7" {
		t.Errorf("parent span = %s, want the client's", got)
	}
}

func TestTracingMiddleware_skipsProbes(t *testing.T) {
	exporter := setupTestTracer(t)

	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if TraceIDFromContext(r.Context()) != "" {
			t.Errorf("%s should not be traced", r.URL.Path)
		}
	}))
	for _, path := range []string{"/health", "/ready", "/metrics"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if spans := exporter.GetSpans(); len(spans) != 0 {
		t.Errorf("spans = %d, want none for probe paths", len(spans))
	}
}
