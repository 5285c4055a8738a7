// Package otel translates the runtime event stream into OpenTelemetry spans
// and metrics, and builds trace-aware slog loggers.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/toolmount/observer"
)

// attempt holds the spans of one in-flight bootstrap attempt.
type attempt struct {
	key   string
	span  trace.Span
	ctx   context.Context
	stage string
	child trace.Span
}

// TracingHandler translates runtime events into OpenTelemetry spans: one
// root span per bootstrap attempt and one child span per stage. Attempts
// are keyed by the "attemptId" payload, so concurrent attempts for one tool
// (several roots with the same tool id) are traced independently. Events
// without an attempt id go to the tool's most recently started attempt.
type TracingHandler struct {
	tracer trace.Tracer

	mu       sync.RWMutex
	attempts map[string]*attempt   // attempt key -> active attempt
	active   map[string][]*attempt // toolSlug -> active attempts, oldest first
}

// NewTracingHandler creates a new TracingHandler that uses the given tracer
// to create spans from runtime events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:   tracer,
		attempts: make(map[string]*attempt),
		active:   make(map[string][]*attempt),
	}
}

// Handle processes an event. It has the observer.Subscriber signature.
func (h *TracingHandler) Handle(e observer.Event) {
	switch e.Event {
	case observer.EventBootstrapStart:
		h.handleStart(e)
	case observer.EventBootstrapStage:
		h.handleStage(e)
	case observer.EventBootstrapComplete, observer.EventBootstrapAborted:
		h.handleEnd(e)
	case observer.EventExecutionInvoke, observer.EventExecutionRejected:
		h.handleExecution(e)
	default:
		// bootstrap_skipped lands here: a coalesced call annotates the
		// attempt it joined and never ends it.
		h.handleAnnotation(e)
	}
}

func attemptKey(e observer.Event) string {
	if id := e.String("attemptId"); id != "" {
		return "attempt:" + id
	}
	return "tool:" + e.ToolSlug
}

// lookup returns the attempt an event belongs to. Callers hold h.mu.
func (h *TracingHandler) lookup(e observer.Event) *attempt {
	if a, ok := h.attempts[attemptKey(e)]; ok {
		return a
	}
	if e.String("attemptId") != "" {
		return nil
	}
	if list := h.active[e.ToolSlug]; len(list) > 0 {
		return list[len(list)-1]
	}
	return nil
}

// remove forgets a. Callers hold h.mu.
func (h *TracingHandler) remove(slug string, a *attempt) {
	delete(h.attempts, a.key)
	list := h.active[slug]
	out := list[:0]
	for _, x := range list {
		if x != a {
			out = append(out, x)
		}
	}
	if len(out) == 0 {
		delete(h.active, slug)
		return
	}
	h.active[slug] = out
}

func (h *TracingHandler) handleStart(e observer.Event) {
	key := attemptKey(e)

	h.mu.Lock()
	prev := h.attempts[key]
	if prev != nil {
		h.remove(e.ToolSlug, prev)
	}
	h.mu.Unlock()
	if prev != nil {
		endAttempt(prev, codes.Error, "superseded")
	}

	attrs := []attribute.KeyValue{attribute.String("toolmount.tool_slug", e.ToolSlug)}
	if id := e.String("attemptId"); id != "" {
		attrs = append(attrs, attribute.String("toolmount.attempt_id", id))
	}
	ctx, span := h.tracer.Start(context.Background(), "bootstrap:"+e.ToolSlug,
		trace.WithAttributes(attrs...),
	)

	a := &attempt{key: key, span: span, ctx: ctx}
	h.mu.Lock()
	h.attempts[key] = a
	h.active[e.ToolSlug] = append(h.active[e.ToolSlug], a)
	h.mu.Unlock()
}

func (h *TracingHandler) handleStage(e observer.Event) {
	stage := e.String("stage")

	h.mu.Lock()
	defer h.mu.Unlock()
	a := h.lookup(e)
	if a == nil || stage == "" {
		return
	}
	if a.child != nil {
		a.child.SetStatus(codes.Ok, "")
		a.child.End()
	}
	_, a.child = h.tracer.Start(a.ctx, "stage:"+stage,
		trace.WithAttributes(
			attribute.String("toolmount.tool_slug", e.ToolSlug),
			attribute.String("toolmount.stage", stage),
		),
	)
	a.stage = stage
}

func (h *TracingHandler) handleEnd(e observer.Event) {
	h.mu.Lock()
	a := h.lookup(e)
	if a != nil {
		h.remove(e.ToolSlug, a)
	}
	h.mu.Unlock()
	if a == nil {
		return
	}

	outcome := e.String("outcome")
	if outcome != "" {
		a.span.SetAttributes(attribute.String("toolmount.outcome", outcome))
	}
	if c := e.String("compatibility"); c != "" {
		a.span.SetAttributes(attribute.String("toolmount.compatibility", c))
	}
	if e.DurationMS != nil {
		a.span.SetAttributes(attribute.Float64("toolmount.duration_ms", *e.DurationMS))
	}

	switch {
	case e.Event == observer.EventBootstrapAborted:
		endAttempt(a, codes.Error, "aborted")
	case outcome == observer.OutcomeFallback:
		endAttempt(a, codes.Error, "fallback rendered")
	default:
		endAttempt(a, codes.Ok, "")
	}
}

// handleAnnotation attaches failure and diagnostic events to the active
// stage span, or to the attempt span between stages.
func (h *TracingHandler) handleAnnotation(e observer.Event) {
	h.mu.RLock()
	a := h.lookup(e)
	h.mu.RUnlock()
	if a == nil {
		return
	}

	span := a.span
	if a.child != nil {
		span = a.child
	}
	attrs := []attribute.KeyValue{attribute.String("toolmount.event", e.Event)}
	if stage := e.String("stage"); stage != "" {
		attrs = append(attrs, attribute.String("toolmount.stage", stage))
	}
	span.AddEvent(e.Event, trace.WithAttributes(attrs...))

	if msg := e.String("message"); msg != "" && isFailure(e.Event) {
		span.RecordError(spanError(msg))
		span.SetStatus(codes.Error, msg)
	}
}

// handleExecution records a short span per safe invocation, parented to the
// active attempt when one exists.
func (h *TracingHandler) handleExecution(e observer.Event) {
	h.mu.RLock()
	a := h.lookup(e)
	h.mu.RUnlock()

	parent := context.Background()
	if a != nil {
		parent = a.ctx
	}
	_, span := h.tracer.Start(parent, "execute:"+e.ToolSlug,
		trace.WithAttributes(
			attribute.String("toolmount.tool_slug", e.ToolSlug),
			attribute.String("toolmount.action", e.String("action")),
		),
	)
	if e.Event == observer.EventExecutionRejected {
		span.SetStatus(codes.Error, e.String("reason"))
	} else if succeeded, _ := e.Payload["ok"].(bool); !succeeded {
		span.SetStatus(codes.Error, e.String("reason"))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// ActiveSpanContext returns the span context of the active stage span of
// toolSlug's most recent attempt, falling back to the attempt span. Returns
// an empty SpanContext when no attempt is in flight.
func (h *TracingHandler) ActiveSpanContext(toolSlug string) trace.SpanContext {
	return h.EventSpanContext(observer.Event{ToolSlug: toolSlug})
}

// EventSpanContext returns the span context of the active stage span of the
// attempt e belongs to, falling back to the attempt span.
func (h *TracingHandler) EventSpanContext(e observer.Event) trace.SpanContext {
	h.mu.RLock()
	defer h.mu.RUnlock()

	a := h.lookup(e)
	if a == nil {
		return trace.SpanContext{}
	}
	if a.child != nil {
		return a.child.SpanContext()
	}
	return a.span.SpanContext()
}

// ActiveAttemptSpanContext returns the span context of the attempt span of
// toolSlug's most recent attempt.
func (h *TracingHandler) ActiveAttemptSpanContext(toolSlug string) trace.SpanContext {
	h.mu.RLock()
	defer h.mu.RUnlock()

	a := h.lookup(observer.Event{ToolSlug: toolSlug})
	if a == nil {
		return trace.SpanContext{}
	}
	return a.span.SpanContext()
}

func endAttempt(a *attempt, code codes.Code, msg string) {
	if a.child != nil {
		a.child.End()
	}
	a.span.SetStatus(code, msg)
	a.span.End()
}

func isFailure(event string) bool {
	switch event {
	case observer.EventManifestFailure, observer.EventTemplateFailure,
		observer.EventDependencyFailure, observer.EventDOMContractFailure,
		observer.EventModuleImportFailure, observer.EventMountFailure,
		observer.EventHealingFailure, observer.EventStrictModeViolation:
		return true
	}
	return false
}

// spanError is a simple error type for recording span errors.
type spanError string

func (e spanError) Error() string { return string(e) }
