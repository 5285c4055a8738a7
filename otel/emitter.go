package otel

import "github.com/petal-labs/toolmount/observer"

// Enrich wraps a subscriber so every event it receives carries the active
// trace context in its payload as "traceId" and "spanId". The tracing
// handler must be subscribed ahead of the wrapped subscriber so the spans
// for an event exist when it is enriched. Events with no active span pass
// through unchanged.
func Enrich(next observer.Subscriber, tracing *TracingHandler) observer.Subscriber {
	return func(e observer.Event) {
		sc := tracing.EventSpanContext(e)
		if sc.IsValid() {
			payload := make(map[string]any, len(e.Payload)+2)
			for k, v := range e.Payload {
				payload[k] = v
			}
			payload["traceId"] = sc.TraceID().String()
			payload["spanId"] = sc.SpanID().String()
			e.Payload = payload
		}
		next(e)
	}
}
