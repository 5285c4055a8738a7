package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/toolmount/observer"
)

// Stage name recorded by the bootstrap while lifecycle hooks run.
const mountStage = "lifecycle_mounting"

type stageMark struct {
	stage string
	at    float64
}

// MetricsHandler translates runtime events into OpenTelemetry metrics.
type MetricsHandler struct {
	bootstraps         metric.Int64Counter
	fallbacks          metric.Int64Counter
	dependencyFailures metric.Int64Counter
	executions         metric.Int64Counter
	bootDuration       metric.Float64Histogram
	stageDuration      metric.Float64Histogram
	mountDuration      metric.Float64Histogram

	mu     sync.Mutex
	stages map[string]stageMark // toolSlug -> current stage
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create its instruments.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	bootstraps, err := meter.Int64Counter("toolmount.bootstrap.attempts",
		metric.WithDescription("Number of finished bootstrap attempts"),
	)
	if err != nil {
		return nil, err
	}

	fallbacks, err := meter.Int64Counter("toolmount.fallback.mounts",
		metric.WithDescription("Number of bootstraps that ended in fallback"),
	)
	if err != nil {
		return nil, err
	}

	depFailures, err := meter.Int64Counter("toolmount.dependency.failures",
		metric.WithDescription("Number of dependency resources that failed to load"),
	)
	if err != nil {
		return nil, err
	}

	executions, err := meter.Int64Counter("toolmount.execution.invocations",
		metric.WithDescription("Number of safe tool invocations"),
	)
	if err != nil {
		return nil, err
	}

	bootDur, err := meter.Float64Histogram("toolmount.bootstrap.duration",
		metric.WithDescription("Duration of a bootstrap attempt in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	stageDur, err := meter.Float64Histogram("toolmount.stage.duration",
		metric.WithDescription("Duration of a bootstrap stage in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mountDur, err := meter.Float64Histogram("toolmount.mount.duration",
		metric.WithDescription("Duration of lifecycle mounting in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		bootstraps:         bootstraps,
		fallbacks:          fallbacks,
		dependencyFailures: depFailures,
		executions:         executions,
		bootDuration:       bootDur,
		stageDuration:      stageDur,
		mountDuration:      mountDur,
		stages:             make(map[string]stageMark),
	}, nil
}

// Handle processes an event. It has the observer.Subscriber signature.
func (h *MetricsHandler) Handle(e observer.Event) {
	switch e.Event {
	case observer.EventBootstrapStart:
		h.mu.Lock()
		delete(h.stages, e.ToolSlug)
		h.mu.Unlock()
	case observer.EventBootstrapStage:
		h.closeStage(e, e.String("stage"))
	case observer.EventBootstrapComplete, observer.EventBootstrapAborted:
		h.closeStage(e, "")
		h.handleFinished(e)
	case observer.EventDependencyFailure:
		h.dependencyFailures.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("tool_slug", e.ToolSlug),
			attribute.String("kind", e.String("kind")),
		))
	case observer.EventExecutionInvoke, observer.EventExecutionRejected:
		h.handleExecution(e)
	}
}

// closeStage records the duration of the tool's current stage, measured on
// the observer clock, and opens next when it is non-empty.
func (h *MetricsHandler) closeStage(e observer.Event, next string) {
	h.mu.Lock()
	prev, ok := h.stages[e.ToolSlug]
	if next != "" {
		h.stages[e.ToolSlug] = stageMark{stage: next, at: e.Timestamp}
	} else {
		delete(h.stages, e.ToolSlug)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	seconds := (e.Timestamp - prev.at) / 1000
	if seconds < 0 {
		seconds = 0
	}
	ctx := context.Background()
	h.stageDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("tool_slug", e.ToolSlug),
		attribute.String("stage", prev.stage),
	))
	if prev.stage == mountStage {
		h.mountDuration.Record(ctx, seconds, metric.WithAttributes(
			attribute.String("tool_slug", e.ToolSlug),
		))
	}
}

func (h *MetricsHandler) handleFinished(e observer.Event) {
	ctx := context.Background()
	outcome := e.String("outcome")
	if e.Event == observer.EventBootstrapAborted {
		outcome = "aborted"
	}
	attrs := metric.WithAttributes(
		attribute.String("tool_slug", e.ToolSlug),
		attribute.String("outcome", outcome),
	)
	h.bootstraps.Add(ctx, 1, attrs)
	if outcome == observer.OutcomeFallback {
		h.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("tool_slug", e.ToolSlug)))
	}
	if e.DurationMS != nil {
		h.bootDuration.Record(ctx, *e.DurationMS/1000, attrs)
	}
}

func (h *MetricsHandler) handleExecution(e observer.Event) {
	ok, _ := e.Payload["ok"].(bool)
	reason := e.String("reason")
	h.executions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("tool_slug", e.ToolSlug),
		attribute.String("action", e.String("action")),
		attribute.Bool("ok", ok),
		attribute.String("reason", reason),
	))
}
