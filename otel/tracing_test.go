package otel_test

import (
	"testing"

	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/petal-labs/toolmount/observer"
	tmotel "github.com/petal-labs/toolmount/otel"
)

func newTestTracer() (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	return exporter, tp
}

func spanByName(spans tracetest.SpanStubs, name string) *tracetest.SpanStub {
	for i := range spans {
		if spans[i].Name == name {
			return &spans[i]
		}
	}
	return nil
}

func TestTracingHandler_AttemptWithStageSpans(t *testing.T) {
	exporter, tp := newTestTracer()
	h := tmotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(ev("json", observer.EventBootstrapStart, 0, map[string]any{"attemptId": "a-1"}))
	if !h.ActiveAttemptSpanContext("json").IsValid() {
		t.Fatal("expected valid attempt span after bootstrap_start")
	}
	h.Handle(ev("json", observer.EventBootstrapStage, 1, map[string]any{"stage": "manifest_resolving"}))
	h.Handle(ev("json", observer.EventBootstrapStage, 2, map[string]any{"stage": "lifecycle_mounting"}))

	stage := h.ActiveSpanContext("json")
	attempt := h.ActiveAttemptSpanContext("json")
	if stage.SpanID() == attempt.SpanID() {
		t.Error("active span should be the stage span")
	}

	done := ev("json", observer.EventBootstrapComplete, 3, map[string]any{"outcome": observer.OutcomeHealthy})
	done.DurationMS = ms(3)
	h.Handle(done)

	if h.ActiveSpanContext("json").IsValid() {
		t.Error("span context should be cleared after bootstrap_complete")
	}

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	root := spanByName(spans, "bootstrap:json")
	if root == nil {
		t.Fatal("root span missing")
	}
	if root.Status.Code != otelcodes.Ok {
		t.Errorf("root status = %v, want Ok", root.Status.Code)
	}
	for _, name := range []string{"stage:manifest_resolving", "stage:lifecycle_mounting"} {
		s := spanByName(spans, name)
		if s == nil {
			t.Fatalf("span %q missing", name)
		}
		if s.Parent.SpanID() != root.SpanContext.SpanID() {
			t.Errorf("%s parent = %v, want root", name, s.Parent.SpanID())
		}
	}
}

func TestTracingHandler_FailuresMarkSpans(t *testing.T) {
	exporter, tp := newTestTracer()
	h := tmotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(ev("t", observer.EventBootstrapStart, 0, nil))
	h.Handle(ev("t", observer.EventBootstrapStage, 1, map[string]any{"stage": "manifest_resolving"}))
	h.Handle(ev("t", observer.EventManifestFailure, 2, map[string]any{"stage": "manifest_resolving", "message": "manifest unavailable"}))
	h.Handle(ev("t", observer.EventBootstrapComplete, 3, map[string]any{"outcome": observer.OutcomeFallback}))

	spans := exporter.GetSpans()
	stage := spanByName(spans, "stage:manifest_resolving")
	if stage == nil {
		t.Fatal("stage span missing")
	}
	if stage.Status.Code != otelcodes.Error {
		t.Errorf("stage status = %v, want Error", stage.Status.Code)
	}
	if len(stage.Events) == 0 {
		t.Error("expected failure span events on the stage span")
	}
	root := spanByName(spans, "bootstrap:t")
	if root == nil || root.Status.Code != otelcodes.Error {
		t.Errorf("root span = %+v, want Error status", root)
	}
}

func TestTracingHandler_RestartSupersedesAttempt(t *testing.T) {
	exporter, tp := newTestTracer()
	h := tmotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(ev("t", observer.EventBootstrapStart, 0, nil))
	h.Handle(ev("t", observer.EventBootstrapStart, 1, nil))
	h.Handle(ev("t", observer.EventBootstrapAborted, 2, nil))

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 attempt spans, got %d", len(spans))
	}
	for _, s := range spans {
		if s.Status.Code != otelcodes.Error {
			t.Errorf("%s status = %v, want Error", s.Name, s.Status.Code)
		}
	}
}

func TestTracingHandler_SkippedDoesNotEndAttempt(t *testing.T) {
	exporter, tp := newTestTracer()
	h := tmotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(ev("json", observer.EventBootstrapStart, 0, map[string]any{"attemptId": "a-1"}))
	h.Handle(ev("json", observer.EventBootstrapStage, 1, map[string]any{"stage": "manifest_resolving", "attemptId": "a-1"}))
	h.Handle(ev("json", observer.EventBootstrapSkipped, 2, map[string]any{"reason": "in_flight", "attemptId": "a-1"}))

	if n := len(exporter.GetSpans()); n != 0 {
		t.Fatalf("bootstrap_skipped ended %d spans", n)
	}
	if !h.ActiveAttemptSpanContext("json").IsValid() {
		t.Fatal("attempt should still be active after bootstrap_skipped")
	}

	h.Handle(ev("json", observer.EventBootstrapComplete, 3, map[string]any{"outcome": observer.OutcomeHealthy, "attemptId": "a-1"}))

	spans := exporter.GetSpans()
	root := spanByName(spans, "bootstrap:json")
	if root == nil {
		t.Fatal("root span missing")
	}
	if root.Status.Code != otelcodes.Ok {
		t.Errorf("root status = %v, want Ok", root.Status.Code)
	}
	stage := spanByName(spans, "stage:manifest_resolving")
	if stage == nil {
		t.Fatal("stage span missing")
	}
	var annotated bool
	for _, e := range stage.Events {
		if e.Name == observer.EventBootstrapSkipped {
			annotated = true
		}
	}
	if !annotated {
		t.Error("bootstrap_skipped should be recorded as a span event")
	}
}

func TestTracingHandler_ConcurrentAttemptsSameTool(t *testing.T) {
	exporter, tp := newTestTracer()
	h := tmotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(ev("json", observer.EventBootstrapStart, 0, map[string]any{"attemptId": "a-1"}))
	h.Handle(ev("json", observer.EventBootstrapStart, 1, map[string]any{"attemptId": "a-2"}))
	h.Handle(ev("json", observer.EventBootstrapStage, 2, map[string]any{"stage": "manifest_resolving", "attemptId": "a-1"}))
	h.Handle(ev("json", observer.EventBootstrapStage, 3, map[string]any{"stage": "template_loading", "attemptId": "a-2"}))
	h.Handle(ev("json", observer.EventBootstrapComplete, 4, map[string]any{"outcome": observer.OutcomeHealthy, "attemptId": "a-1"}))

	if !h.ActiveAttemptSpanContext("json").IsValid() {
		t.Fatal("second attempt should still be active")
	}
	h.Handle(ev("json", observer.EventBootstrapComplete, 5, map[string]any{"outcome": observer.OutcomeHealthy, "attemptId": "a-2"}))

	spans := exporter.GetSpans()
	if len(spans) != 4 {
		t.Fatalf("expected 4 spans, got %d", len(spans))
	}
	roots := map[string]tracetest.SpanStub{}
	for _, s := range spans {
		if s.Name != "bootstrap:json" {
			continue
		}
		if s.Status.Code != otelcodes.Ok {
			t.Errorf("attempt status = %v %q, want Ok", s.Status.Code, s.Status.Description)
		}
		for _, kv := range s.Attributes {
			if kv.Key == "toolmount.attempt_id" {
				roots[kv.Value.AsString()] = s
			}
		}
	}
	if len(roots) != 2 {
		t.Fatalf("attempt spans = %d, want 2", len(roots))
	}
	for stage, id := range map[string]string{"stage:manifest_resolving": "a-1", "stage:template_loading": "a-2"} {
		s := spanByName(spans, stage)
		if s == nil {
			t.Fatalf("span %q missing", stage)
		}
		if s.Parent.SpanID() != roots[id].SpanContext.SpanID() {
			t.Errorf("%s parented to the wrong attempt", stage)
		}
	}
	if h.ActiveSpanContext("json").IsValid() {
		t.Error("no attempt should remain active")
	}
}

func TestTracingHandler_ExecutionSpan(t *testing.T) {
	exporter, tp := newTestTracer()
	h := tmotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(ev("t", observer.EventExecutionInvoke, 0, map[string]any{"action": "run", "ok": true}))
	h.Handle(ev("t", observer.EventExecutionRejected, 1, map[string]any{"action": "x", "reason": "unsupported_action"}))

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Status.Code != otelcodes.Ok || spans[1].Status.Code != otelcodes.Error {
		t.Errorf("statuses = %v, %v", spans[0].Status.Code, spans[1].Status.Code)
	}
}

func TestEnrich_AddsTraceContext(t *testing.T) {
	_, tp := newTestTracer()
	h := tmotel.NewTracingHandler(tp.Tracer("test"))

	var got []observer.Event
	sink := tmotel.Enrich(func(e observer.Event) { got = append(got, e) }, h)

	sink(ev("t", observer.EventBootstrapStart, 0, nil))
	h.Handle(ev("t", observer.EventBootstrapStart, 0, nil))
	original := ev("t", observer.EventBootstrapStage, 1, map[string]any{"stage": "template_loading"})
	h.Handle(original)
	sink(original)

	if len(got) != 2 {
		t.Fatalf("got %d events", len(got))
	}
	if _, ok := got[0].Payload["traceId"]; ok {
		t.Error("event without an active span should pass through unchanged")
	}
	sc := h.ActiveSpanContext("t")
	if got[1].String("traceId") != sc.TraceID().String() || got[1].String("spanId") != sc.SpanID().String() {
		t.Errorf("payload = %v", got[1].Payload)
	}
	if _, ok := original.Payload["traceId"]; ok {
		t.Error("Enrich mutated the caller's payload")
	}
}
